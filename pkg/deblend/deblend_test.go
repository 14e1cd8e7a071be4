package deblend

import (
	"math"
	"testing"

	"github.com/aromazyl/BlendingToolKit/pkg/detect"
	"github.com/aromazyl/BlendingToolKit/pkg/grid"
)

// twoSourceBlend builds a noiseless two-band blend of two well
// separated gaussian sources with opposite colors.
func twoSourceBlend() (images []*grid.Grid, centers []detect.Point, fluxes [2][2]float64) {
	const w, h = 48, 48
	plant := func(img *grid.Grid, cx, cy, flux, sigma float64) {
		amp := flux / (2 * math.Pi * sigma * sigma)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				r2 := (float64(x)-cx)*(float64(x)-cx) + (float64(y)-cy)*(float64(y)-cy)
				img.Add(x, y, amp*math.Exp(-r2/(2*sigma*sigma)))
			}
		}
	}

	// Source 0 at (14,20) is blue: brighter in band 0.
	// Source 1 at (34,28) is red: brighter in band 1.
	fluxes = [2][2]float64{{3000, 1000}, {1000, 3000}}
	for b := 0; b < 2; b++ {
		img := grid.New(w, h)
		plant(img, 14, 20, fluxes[0][b], 2)
		plant(img, 34, 28, fluxes[1][b], 2)
		images = append(images, img)
	}
	centers = []detect.Point{{X: 14, Y: 20}, {X: 34, Y: 28}}
	return images, centers, fluxes
}

func TestFitSeparatesSources(t *testing.T) {
	images, centers, fluxes := twoSourceBlend()
	res, err := Fit(images, centers, []float64{1, 1}, DefaultParams())
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Sources) != 2 {
		t.Fatalf("fit %d sources, want 2", len(res.Sources))
	}
	if len(res.Rejected) != 0 {
		t.Fatalf("rejected %v, want none", res.Rejected)
	}
	if res.Iters < 1 || res.Loss < 0 {
		t.Fatalf("fit bookkeeping wrong: %+v", res)
	}

	for k, want := range centers {
		s := res.Sources[k]
		if math.Hypot(s.X-want.X, s.Y-want.Y) > 1.5 {
			t.Errorf("source %d centered at (%v,%v), want near (%v,%v)", k, s.X, s.Y, want.X, want.Y)
		}
		if sum := s.SED[0] + s.SED[1]; math.Abs(sum-1) > 1e-6 {
			t.Errorf("source %d sed sums to %v, want 1", k, sum)
		}
		// Colors recovered: each source's SED leans toward its
		// dominant band.
		wantDominant := 0
		if fluxes[k][1] > fluxes[k][0] {
			wantDominant = 1
		}
		if s.SED[wantDominant] <= s.SED[1-wantDominant] {
			t.Errorf("source %d sed = %v, want band %d dominant", k, s.SED, wantDominant)
		}
		for _, v := range s.Morph.Values() {
			if v < 0 {
				t.Fatalf("source %d morphology has negative pixel %v", k, v)
			}
		}
	}
}

func TestFitModelsSumToBlend(t *testing.T) {
	images, centers, _ := twoSourceBlend()
	res, err := Fit(images, centers, []float64{1, 1}, DefaultParams())
	if err != nil {
		t.Fatal(err)
	}
	for b := range images {
		model := res.Sources[0].Model(b)
		if err := model.AddGrid(res.Sources[1].Model(b)); err != nil {
			t.Fatal(err)
		}
		want := images[b].Sum()
		if got := model.Sum(); math.Abs(got-want)/want > 0.1 {
			t.Errorf("band %d model flux = %v, want within 10%% of %v", b, got, want)
		}
	}
}

func TestFitRejectsFluxlessCenter(t *testing.T) {
	images, centers, _ := twoSourceBlend()
	centers = append(centers, detect.Point{X: 4, Y: 44}) // empty corner

	res, err := Fit(images, centers, []float64{1, 1}, DefaultParams())
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Rejected) != 1 || res.Rejected[0] != 2 {
		t.Fatalf("rejected %v, want [2]", res.Rejected)
	}
	if len(res.Sources) != 2 {
		t.Fatalf("fit %d sources, want 2 after rejection", len(res.Sources))
	}
}

func TestFitValidation(t *testing.T) {
	images, centers, _ := twoSourceBlend()
	if _, err := Fit(nil, centers, nil, DefaultParams()); err == nil {
		t.Error("expected error for no images")
	}
	if _, err := Fit(images, centers, []float64{1}, DefaultParams()); err == nil {
		t.Error("expected error for rms/band count mismatch")
	}
	if _, err := Fit(images, nil, []float64{1, 1}, DefaultParams()); err == nil {
		t.Error("expected error for no centers")
	}
	p := DefaultParams()
	p.MaxIters = 0
	if _, err := Fit(images, centers, []float64{1, 1}, p); err == nil {
		t.Error("expected error for zero iteration cap")
	}
	// Every center off-stamp leaves nothing to fit.
	if _, err := Fit(images, []detect.Point{{X: -5, Y: -5}}, []float64{1, 1}, DefaultParams()); err == nil {
		t.Error("expected error when all centers get rejected")
	}
}
