package viz

import (
	"fmt"
	"image"
	"image/color"
	"os"

	"github.com/mdouchement/hdr"
	"github.com/mdouchement/hdr/codec/rgbe"
	"github.com/mdouchement/hdr/hdrcolor"
	"github.com/mdouchement/hdr/tmo"

	"github.com/aromazyl/BlendingToolKit/pkg/grid"
)

var Tonemappers = []string{"drago03", "linear", "reinhard05"}

func ListTonemappers() string {
	return fmt.Sprintf("%v", Tonemappers)
}

// An hdrScene exposes a scene's bands as an hdr.Image, mapping the
// bluest band to blue, the reddest to red and a middle band to green,
// normalized so the brightest pixel sits at luminance 1.
type hdrScene struct {
	r, g, b *grid.Grid
	scale   float64
}

// NewHDRScene wraps a scene's bands for HDR export or tonemapping.
func NewHDRScene(bands []*grid.Grid) (hdr.Image, error) {
	if len(bands) == 0 {
		return nil, fmt.Errorf("hdr scene needs at least one band")
	}
	w, h := bands[0].Dx(), bands[0].Dy()
	for _, band := range bands[1:] {
		if band.Dx() != w || band.Dy() != h {
			return nil, fmt.Errorf("band shapes differ: %dx%d vs %dx%d", w, h, band.Dx(), band.Dy())
		}
	}
	s := &hdrScene{
		b: bands[0],
		g: bands[len(bands)/2],
		r: bands[len(bands)-1],
	}
	max := 0.0
	for _, band := range []*grid.Grid{s.r, s.g, s.b} {
		if m := band.Max(); m > max {
			max = m
		}
	}
	s.scale = 1
	if max > 0 {
		s.scale = 1 / max
	}
	return s, nil
}

// Implement image.Image
func (s *hdrScene) ColorModel() color.Model { return hdrcolor.RGBModel }
func (s *hdrScene) Bounds() image.Rectangle { return image.Rect(0, 0, s.r.Dx(), s.r.Dy()) }
func (s *hdrScene) At(x, y int) color.Color { return s.HDRAt(x, y) }

// Implement hdr.Image
func (s *hdrScene) Size() int { return s.r.Dx() * s.r.Dy() }
func (s *hdrScene) HDRAt(x, y int) hdrcolor.Color {
	gy := s.r.Dy() - 1 - y // image rows grow downward, stamps upward
	at := func(g *grid.Grid) float64 {
		if v := g.Get(x, gy); v > 0 {
			return v * s.scale
		}
		return 0
	}
	return hdrcolor.RGB{R: at(s.r), G: at(s.g), B: at(s.b)}
}

// WriteHDR saves a scene as a Radiance RGBE file, keeping the full
// dynamic range for external HDR tooling.
func WriteHDR(bands []*grid.Grid, filename string) error {
	img, err := NewHDRScene(bands)
	if err != nil {
		return err
	}
	if writer, err := os.Create(filename); err != nil {
		return fmt.Errorf("open+w '%s': %v", filename, err)
	} else {
		defer writer.Close()
		return rgbe.Encode(writer, img)
	}
}

// Tonemap compresses a scene's dynamic range down to a displayable
// image with the named operator.
func Tonemap(bands []*grid.Grid, operator string) (image.Image, error) {
	img, err := NewHDRScene(bands)
	if err != nil {
		return nil, err
	}
	var op tmo.ToneMappingOperator
	switch operator {
	case "drago03":
		op = tmo.NewDefaultDrago03(img)
	case "linear":
		op = tmo.NewLinear(img)
	case "reinhard05":
		op = tmo.NewDefaultReinhard05(img)
	default:
		return nil, fmt.Errorf("tonemapper %q not recognized, wanted %s", operator, ListTonemappers())
	}
	return op.Perform(), nil
}
