package viz

import (
	"fmt"
	"image"
	"image/color"
	"os"

	"golang.org/x/image/tiff"

	"github.com/aromazyl/BlendingToolKit/pkg/grid"
)

// WriteTIFF16 saves one band as a 16-bit grayscale TIFF, linearly
// scaled over the band's full value range. Unlike the PNG previews
// there is no stretch, so relative fluxes survive inspection.
func WriteTIFF16(g *grid.Grid, filename string) error {
	w, h := g.Dx(), g.Dy()
	lo := g.Min()
	span := g.Max() - lo

	img := image.NewGray16(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := 0.0
			if span > 0 {
				v = (g.Get(x, y) - lo) / span
			}
			img.SetGray16(x, h-1-y, color.Gray16{Y: uint16(v*65535 + 0.5)})
		}
	}

	writer, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("open+w '%s': %v", filename, err)
	}
	defer writer.Close()
	return tiff.Encode(writer, img, &tiff.Options{Compression: tiff.Deflate})
}
