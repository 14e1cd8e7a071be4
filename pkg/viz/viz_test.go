package viz

import (
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/mdouchement/hdr/hdrcolor"
	"golang.org/x/image/tiff"

	"github.com/aromazyl/BlendingToolKit/pkg/detect"
	"github.com/aromazyl/BlendingToolKit/pkg/grid"
)

func rampGrid(w, h int) *grid.Grid {
	g := grid.New(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			g.Set(x, y, float64(x+y*w))
		}
	}
	return g
}

func TestGrayscaleFlipsRows(t *testing.T) {
	g := grid.New(4, 4)
	g.Set(0, 0, 100) // bottom-left of the stamp

	img := Grayscale(g, 10)
	if img.Bounds().Dx() != 4 || img.Bounds().Dy() != 4 {
		t.Fatalf("bounds %v", img.Bounds())
	}
	if img.GrayAt(0, 3).Y != 255 {
		t.Errorf("stamp bottom-left should land at image (0,3), got %d", img.GrayAt(0, 3).Y)
	}
	if img.GrayAt(0, 0).Y != 0 {
		t.Errorf("image top-left should be empty sky, got %d", img.GrayAt(0, 0).Y)
	}
}

func TestCompositeChannelAssignment(t *testing.T) {
	blue := grid.New(3, 3)
	blue.Set(1, 1, 50)
	mid := grid.New(3, 3)
	red := grid.New(3, 3)

	img, err := Composite([]*grid.Grid{blue, mid, red}, 10)
	if err != nil {
		t.Fatal(err)
	}
	c := img.RGBAAt(1, 1)
	if c.B != 255 || c.R != 0 || c.G != 0 {
		t.Errorf("first band should fill only blue: %+v", c)
	}

	if _, err := Composite(nil, 10); err == nil {
		t.Error("expected error for zero bands")
	}
	if _, err := Composite([]*grid.Grid{grid.New(3, 3), grid.New(4, 4)}, 10); err == nil {
		t.Error("expected error for mismatched band shapes")
	}
}

func TestAnnotateDrawsMarkers(t *testing.T) {
	base := image.NewGray(image.Rect(0, 0, 40, 40))
	for i := range base.Pix {
		base.Pix[i] = 128
	}

	img := Annotate(base, []detect.Point{{X: 10, Y: 10}}, []detect.Point{{X: 30, Y: 25}})

	var sawGreen, sawRed bool
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bb, _ := img.At(x, y).RGBA()
			if g > 3*r && g > 3*bb && g > 0xa000 {
				sawGreen = true
			}
			if r > 3*g && r > 3*bb && r > 0xa000 {
				sawRed = true
			}
		}
	}
	if !sawGreen {
		t.Error("no green truth circle drawn")
	}
	if !sawRed {
		t.Error("no red detection cross drawn")
	}
}

func TestEffHeatmap(t *testing.T) {
	m := [][]float64{
		{0, 0, 0},
		{0, 100, 50},
		{0, 0, 50},
		{0, 0, 0},
	}
	img, err := EffHeatmap(m, "extract")
	if err != nil {
		t.Fatal(err)
	}

	// Sample off-center so the percentage text cannot interfere.
	sample := func(j, i int) (r, g, b uint32) {
		x := 44 + i*48 + 36
		y := 36 + j*48 + 36
		r, g, b, _ = img.At(x, y).RGBA()
		return
	}
	r0, _, b0 := sample(0, 0) // 0%: cold, blue-ish
	if b0 <= r0 {
		t.Errorf("0%% cell not cold: r=%d b=%d", r0, b0)
	}
	r1, _, b1 := sample(1, 1) // 100%: hot, yellow-ish
	if r1 < 0xc000 || b1 > 0x7000 {
		t.Errorf("100%% cell not hot: r=%d b=%d", r1, b1)
	}

	if _, err := EffHeatmap(nil, ""); err == nil {
		t.Error("expected error for empty matrix")
	}
}

func TestThumbnailKeepsAspect(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 100, 50))
	th := Thumbnail(img, 50)
	if b := th.Bounds(); b.Dx() != 50 || b.Dy() != 25 {
		t.Fatalf("thumbnail bounds %v, want 50x25", b)
	}
}

func TestWritePNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stamp.png")
	if err := WritePNG(Grayscale(rampGrid(16, 12), 10), path); err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 16 || b.Dy() != 12 {
		t.Fatalf("decoded bounds %v", b)
	}

	if err := WritePNG(img, filepath.Join(t.TempDir(), "no", "such", "dir.png")); err == nil {
		t.Error("expected error for unwritable path")
	}
}

func TestWriteTIFF16(t *testing.T) {
	g := grid.New(8, 6)
	g.Set(2, 0, 1000) // brightest, at stamp bottom

	path := filepath.Join(t.TempDir(), "stamp.tiff")
	if err := WriteTIFF16(g, path); err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := tiff.Decode(f)
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 8 || b.Dy() != 6 {
		t.Fatalf("decoded bounds %v", b)
	}
	if _, _, _, a := img.At(2, 5).RGBA(); a == 0 {
		t.Fatal("decoded image has no alpha")
	}
	r, _, _, _ := img.At(2, 5).RGBA()
	if r != 0xffff {
		t.Errorf("brightest pixel should land at image (2,5) with full scale, got %d", r)
	}
}

func TestWriteHDR(t *testing.T) {
	bands := []*grid.Grid{rampGrid(8, 8), rampGrid(8, 8)}
	path := filepath.Join(t.TempDir(), "scene.hdr")
	if err := WriteHDR(bands, path); err != nil {
		t.Fatal(err)
	}
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if fi.Size() == 0 {
		t.Fatal("HDR file is empty")
	}

	if err := WriteHDR(nil, path); err == nil {
		t.Error("expected error for zero bands")
	}
}

func TestHDRSceneFlipsAndScales(t *testing.T) {
	band := grid.New(3, 3)
	band.Set(0, 2, 10) // stamp top-left
	img, err := NewHDRScene([]*grid.Grid{band})
	if err != nil {
		t.Fatal(err)
	}
	rgb, ok := img.HDRAt(0, 0).(hdrcolor.RGB) // image top-left
	if !ok {
		t.Fatalf("HDRAt returned %T, want hdrcolor.RGB", img.HDRAt(0, 0))
	}
	if rgb.R != 1 {
		t.Errorf("brightest pixel should scale to 1 at image top-left, got %v", rgb.R)
	}
	if img.Size() != 9 {
		t.Errorf("Size = %d, want 9", img.Size())
	}
}

func TestTonemapOperators(t *testing.T) {
	bands := []*grid.Grid{rampGrid(8, 8), rampGrid(8, 8), rampGrid(8, 8)}
	for _, name := range Tonemappers {
		img, err := Tonemap(bands, name)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if b := img.Bounds(); b.Dx() != 8 || b.Dy() != 8 {
			t.Fatalf("%s: bounds %v", name, b)
		}
	}
	if _, err := Tonemap(bands, "fattal02"); err == nil {
		t.Error("expected error for an unsupported tonemapper")
	}
}
