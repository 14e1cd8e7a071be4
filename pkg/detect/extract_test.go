package detect

import (
	"math"
	"math/rand"
	"testing"

	"github.com/aromazyl/BlendingToolKit/pkg/grid"
)

// plantGaussian adds a round gaussian blob with the given peak
// amplitude, for synthesizing detectable sources.
func plantGaussian(img *grid.Grid, cx, cy, amp, sigma float64) {
	for y := 0; y < img.Dy(); y++ {
		for x := 0; x < img.Dx(); x++ {
			r2 := (float64(x)-cx)*(float64(x)-cx) + (float64(y)-cy)*(float64(y)-cy)
			img.Add(x, y, amp*math.Exp(-r2/(2*sigma*sigma)))
		}
	}
}

func noisyField(w, h int, bkg, noise float64, seed int64) *grid.Grid {
	rng := rand.New(rand.NewSource(seed))
	img := grid.New(w, h)
	for i := range img.Values() {
		img.Values()[i] = bkg + noise*rng.NormFloat64()
	}
	return img
}

func TestBackgroundRecoversLevel(t *testing.T) {
	img := noisyField(64, 64, 100, 2, 3)
	plantGaussian(img, 20, 20, 500, 2) // a source must not bias the sky

	bkg, err := EstimateBackground(img, 32)
	if err != nil {
		t.Fatal(err)
	}
	if med := bkg.GlobalMedian(); math.Abs(med-100) > 1 {
		t.Errorf("global median = %v, want ~100", med)
	}
	if rms := bkg.GlobalRMS(); rms < 1 || rms > 4 {
		t.Errorf("global rms = %v, want ~2", rms)
	}
	if v := bkg.At(50, 50); math.Abs(v-100) > 2 {
		t.Errorf("interpolated background at (50,50) = %v, want ~100", v)
	}
	if r := bkg.RMSAt(50, 50); r < 0.5 || r > 5 {
		t.Errorf("interpolated rms at (50,50) = %v, want ~2", r)
	}
}

func TestBackgroundRejectsTinyBin(t *testing.T) {
	if _, err := EstimateBackground(grid.New(16, 16), 2); err == nil {
		t.Fatal("expected error for bin < 4")
	}
}

func TestExtractFindsPlantedSources(t *testing.T) {
	img := noisyField(64, 64, 100, 1, 5)
	plantGaussian(img, 15, 20, 200, 1.8)
	plantGaussian(img, 45, 40, 150, 1.8)

	sources, seg, err := Extract(img, DefaultExtractParams())
	if err != nil {
		t.Fatal(err)
	}
	if len(sources) < 2 {
		t.Fatalf("extracted %d sources, want at least the 2 planted", len(sources))
	}
	// Brightest two are the planted blobs, in flux order.
	if d := math.Hypot(sources[0].X-15, sources[0].Y-20); d > 1 {
		t.Errorf("brightest source at (%v,%v), want near (15,20)", sources[0].X, sources[0].Y)
	}
	if d := math.Hypot(sources[1].X-45, sources[1].Y-40); d > 1 {
		t.Errorf("second source at (%v,%v), want near (45,40)", sources[1].X, sources[1].Y)
	}
	if sources[0].Flux <= sources[1].Flux {
		t.Errorf("sources not sorted by flux: %v then %v", sources[0].Flux, sources[1].Flux)
	}
	for i, s := range sources {
		if s.Label != i+1 {
			t.Errorf("source %d labeled %d, want %d", i, s.Label, i+1)
		}
		if s.SNR <= 0 || s.Npix < 5 {
			t.Errorf("source %d measured badly: %+v", i, s)
		}
	}
	// The segmentation map carries the sorted labels.
	if got := seg.Get(int(sources[0].X+0.5), int(sources[0].Y+0.5)); got != 1 {
		t.Errorf("segmentation at brightest centroid = %v, want label 1", got)
	}
}

func TestExtractEmptyImageIsNotAnError(t *testing.T) {
	sources, seg, err := Extract(grid.New(48, 48), DefaultExtractParams())
	if err != nil {
		t.Fatalf("empty image must not error: %v", err)
	}
	if len(sources) != 0 {
		t.Fatalf("extracted %d sources from an empty image", len(sources))
	}
	if seg.Max() != 0 {
		t.Fatal("segmentation of an empty image is not empty")
	}
}

func TestExtractSplitsTouchingPair(t *testing.T) {
	img := noisyField(64, 64, 50, 1, 11)
	plantGaussian(img, 29, 32, 300, 1.5)
	plantGaussian(img, 37, 32, 300, 1.5)

	sources, _, err := Extract(img, DefaultExtractParams())
	if err != nil {
		t.Fatal(err)
	}
	if len(sources) < 2 {
		t.Fatalf("touching pair yielded %d sources, want 2 after splitting", len(sources))
	}
	var near29, near37 bool
	for _, s := range sources[:2] {
		if math.Hypot(s.X-29, s.Y-32) < 2 {
			near29 = true
		}
		if math.Hypot(s.X-37, s.Y-32) < 2 {
			near37 = true
		}
	}
	if !near29 || !near37 {
		t.Fatalf("split children at (%v,%v) and (%v,%v), want near (29,32) and (37,32)",
			sources[0].X, sources[0].Y, sources[1].X, sources[1].Y)
	}
}

func TestExtractValidation(t *testing.T) {
	p := DefaultExtractParams()
	p.ThresholdSigma = 0
	if _, _, err := Extract(grid.New(32, 32), p); err == nil {
		t.Fatal("expected error for zero threshold")
	}
}

func TestTrueSegMap(t *testing.T) {
	img := grid.New(8, 8)
	img.Set(2, 3, 10)
	img.Set(5, 5, 3)
	seg := TrueSegMap(img, 5)
	if seg.Get(2, 3) != 1 {
		t.Error("pixel above threshold not flagged")
	}
	if seg.Get(5, 5) != 0 || seg.Get(0, 0) != 0 {
		t.Error("pixel below threshold flagged")
	}
}
