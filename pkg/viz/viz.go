// Package viz turns grids and scenes into viewable images: stretched
// grayscale and false-color PNGs, truth/detection overlays, efficiency
// heatmaps, plus HDR, TIFF and thumbnail export. Stamps are y-up, so
// every renderer here flips rows into image convention.
package viz

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"

	"github.com/fogleman/gg"
	colorful "github.com/lucasb-eyer/go-colorful"
	"github.com/nfnt/resize"

	"github.com/aromazyl/BlendingToolKit/pkg/detect"
	"github.com/aromazyl/BlendingToolKit/pkg/grid"
)

// DefaultSoftening is the asinh stretch softening used for previews.
const DefaultSoftening = 10

// WritePNG writes any image as a PNG file.
func WritePNG(img image.Image, filename string) error {
	if writer, err := os.Create(filename); err != nil {
		return fmt.Errorf("open+w '%s': %v", filename, err)
	} else {
		defer writer.Close()
		return png.Encode(writer, img)
	}
}

// Grayscale renders one band as an asinh-stretched 8-bit grayscale
// image.
func Grayscale(g *grid.Grid, softening float64) *image.Gray {
	if softening <= 0 {
		softening = DefaultSoftening
	}
	st := g.AsinhStretch(softening)
	w, h := g.Dx(), g.Dy()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, h-1-y, color.Gray{Y: uint8(st.Get(x, y)*255 + 0.5)})
		}
	}
	return img
}

// Composite renders a multi-band scene as a false-color RGB image:
// bluest band to blue, reddest to red, a middle band to green. One
// band gives a neutral gray; two bands share the green channel.
func Composite(bands []*grid.Grid, softening float64) (*image.RGBA, error) {
	if len(bands) == 0 {
		return nil, fmt.Errorf("composite of zero bands")
	}
	if softening <= 0 {
		softening = DefaultSoftening
	}
	w, h := bands[0].Dx(), bands[0].Dy()
	for _, b := range bands[1:] {
		if b.Dx() != w || b.Dy() != h {
			return nil, fmt.Errorf("band shapes differ: %dx%d vs %dx%d", w, h, b.Dx(), b.Dy())
		}
	}

	blue := bands[0].AsinhStretch(softening)
	green := bands[len(bands)/2].AsinhStretch(softening)
	red := bands[len(bands)-1].AsinhStretch(softening)

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, h-1-y, color.RGBA{
				R: uint8(red.Get(x, y)*255 + 0.5),
				G: uint8(green.Get(x, y)*255 + 0.5),
				B: uint8(blue.Get(x, y)*255 + 0.5),
				A: 0xff,
			})
		}
	}
	return img, nil
}

// Annotate overlays truth and detections on a stamp image: green
// circles for true centers, red crosses for detected ones. Points are
// in stamp coordinates (y-up); img is expected to be the same stamp
// already rendered by Grayscale or Composite.
func Annotate(img image.Image, truth, det []detect.Point) image.Image {
	dc := gg.NewContextForImage(img)
	h := float64(img.Bounds().Dy())
	flip := func(p detect.Point) (float64, float64) {
		return p.X + 0.5, h - 0.5 - p.Y
	}

	dc.SetLineWidth(1.5)
	dc.SetRGB(0, 1, 0)
	for _, p := range truth {
		x, y := flip(p)
		dc.DrawCircle(x, y, 5)
		dc.Stroke()
	}
	dc.SetRGB(1, 0, 0)
	for _, p := range det {
		x, y := flip(p)
		dc.DrawLine(x-3, y, x+3, y)
		dc.DrawLine(x, y-3, x, y+3)
		dc.Stroke()
	}

	dc.SetRGB(1, 1, 1)
	dc.DrawString(fmt.Sprintf("%d true / %d det", len(truth), len(det)), 4, h-4)
	return dc.Image()
}

// EffHeatmap draws a detection efficiency matrix as an annotated cell
// grid, rows j = detections, columns i = true sources, each cell
// colored by its percentage.
func EffHeatmap(m [][]float64, title string) (image.Image, error) {
	if len(m) == 0 || len(m[0]) == 0 {
		return nil, fmt.Errorf("empty efficiency matrix")
	}
	rows, cols := len(m), len(m[0])

	const cell = 48
	const left, top, pad = 44, 36, 10
	w := left + cols*cell + pad
	h := top + rows*cell + pad
	dc := gg.NewContext(w, h)
	dc.SetRGB(1, 1, 1)
	dc.Clear()

	cold := colorful.Color{R: 0.08, G: 0.09, B: 0.32}
	hot := colorful.Color{R: 0.99, G: 0.91, B: 0.14}

	dc.SetRGB(0, 0, 0)
	dc.DrawString(title, 4, 14)
	for i := 0; i < cols; i++ {
		dc.DrawStringAnchored(fmt.Sprintf("%d", i), float64(left+i*cell+cell/2), top-8, 0.5, 0.5)
	}
	for j := 0; j < rows; j++ {
		dc.DrawStringAnchored(fmt.Sprintf("%d", j), left-12, float64(top+j*cell+cell/2), 0.5, 0.5)
	}

	for j := 0; j < rows; j++ {
		for i := 0; i < cols; i++ {
			v := m[j][i]
			t := v / 100
			if t < 0 {
				t = 0
			} else if t > 1 {
				t = 1
			}
			c := cold.BlendLuv(hot, t).Clamped()
			dc.SetRGB(c.R, c.G, c.B)
			dc.DrawRectangle(float64(left+i*cell), float64(top+j*cell), cell, cell)
			dc.Fill()

			if t > 0.55 {
				dc.SetRGB(0, 0, 0)
			} else {
				dc.SetRGB(1, 1, 1)
			}
			dc.DrawStringAnchored(fmt.Sprintf("%.0f", v),
				float64(left+i*cell+cell/2), float64(top+j*cell+cell/2), 0.5, 0.5)
		}
	}
	return dc.Image(), nil
}

// Thumbnail scales an image down to the given width, preserving the
// aspect ratio.
func Thumbnail(img image.Image, width uint) image.Image {
	return resize.Resize(width, 0, img, resize.Lanczos3)
}
