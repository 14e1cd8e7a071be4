// Package deblend separates multi-band blend images into per-source
// models by constrained matrix factorization: each source is a
// per-band SED times a non-negative morphology image, fit jointly to
// the pixels by multiplicative updates.
package deblend

import (
	"fmt"
	"log"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/aromazyl/BlendingToolKit/pkg/detect"
	"github.com/aromazyl/BlendingToolKit/pkg/grid"
)

// Params bound the factorization fit.
type Params struct {
	MaxIters int     // iteration cap
	RelTol   float64 // relative loss change that counts as converged
}

func DefaultParams() Params {
	return Params{MaxIters: 200, RelTol: 0.015}
}

// A Source is one factorized component of a blend. The SED is
// normalized to unit sum, so the morphology carries the flux.
type Source struct {
	X, Y  float64 // morphology flux centroid, pixels
	SED   []float64
	Morph *grid.Grid
}

// Model renders the source's image in one band.
func (s *Source) Model(band int) *grid.Grid {
	m := s.Morph.Copy()
	m.Scale(s.SED[band])
	return m
}

// A Result holds the fitted sources of one blend.
type Result struct {
	Sources   []Source
	Rejected  []int // indexes of input centers with no initializable flux
	Iters     int
	Loss      float64 // final Frobenius residual
	Converged bool
}

// denominator floor for the multiplicative updates
const eps = 1e-12

// Fit factorizes the multi-band images of one blend into one source
// per center. bgRMS carries the per-band background RMS, which floors
// the initial morphologies; its length must match images. Centers
// whose pixel stack carries no flux above the background floor are
// rejected rather than fit, mirroring how seeded deblenders skip
// uninitializable peaks.
func Fit(images []*grid.Grid, centers []detect.Point, bgRMS []float64, p Params) (*Result, error) {
	if len(images) == 0 {
		return nil, fmt.Errorf("no band images to deblend")
	}
	if len(bgRMS) != len(images) {
		return nil, fmt.Errorf("%d background rms values for %d bands", len(bgRMS), len(images))
	}
	if len(centers) == 0 {
		return nil, fmt.Errorf("no centers to seed sources from")
	}
	if p.MaxIters < 1 {
		return nil, fmt.Errorf("max iterations must be >= 1, got %d", p.MaxIters)
	}
	if p.RelTol <= 0 {
		return nil, fmt.Errorf("relative tolerance must be positive, got %v", p.RelTol)
	}
	w, h := images[0].Dx(), images[0].Dy()
	for b, img := range images {
		if img.Dx() != w || img.Dy() != h {
			return nil, fmt.Errorf("band %d is %dx%d, band 0 is %dx%d", b, img.Dx(), img.Dy(), w, h)
		}
	}

	nBands, nPix := len(images), w*h

	// The factorization models flux, so negative (noise) pixels clip
	// to zero.
	Y := mat.NewDense(nBands, nPix, nil)
	for b, img := range images {
		for i, v := range img.Values() {
			if v > 0 {
				Y.Set(b, i, v)
			}
		}
	}

	res := &Result{}
	seds, morphs := initSources(Y, images, centers, bgRMS, res)
	k := len(seds)
	if k == 0 {
		return nil, fmt.Errorf("all %d centers rejected: no flux to initialize from", len(centers))
	}

	A := mat.NewDense(nBands, k, nil)
	for kk, sed := range seds {
		for b, v := range sed {
			A.Set(b, kk, v)
		}
	}
	S := mat.NewDense(k, nPix, nil)
	for kk, m := range morphs {
		S.SetRow(kk, m)
	}

	// Multiplicative updates keep both factors non-negative:
	// S <- S * (A'Y) / (A'AS), A <- A * (YS') / (ASS').
	var aty, ata, atas, yst, sst, asst, ratioS, ratioA, as, resid mat.Dense
	prevLoss := math.Inf(1)
	for it := 1; it <= p.MaxIters; it++ {
		aty.Mul(A.T(), Y)
		ata.Mul(A.T(), A)
		atas.Mul(&ata, S)
		floorInPlace(&atas)
		ratioS.DivElem(&aty, &atas)
		S.MulElem(S, &ratioS)

		yst.Mul(Y, S.T())
		sst.Mul(S, S.T())
		asst.Mul(A, &sst)
		floorInPlace(&asst)
		ratioA.DivElem(&yst, &asst)
		A.MulElem(A, &ratioA)

		normalizeSEDs(A, S)

		as.Mul(A, S)
		resid.Sub(Y, &as)
		loss := mat.Norm(&resid, 2)
		res.Iters = it
		res.Loss = loss
		if math.Abs(prevLoss-loss) < p.RelTol*math.Abs(loss) {
			res.Converged = true
			break
		}
		prevLoss = loss
	}

	for kk := 0; kk < k; kk++ {
		morph, err := grid.FromValues(w, h, append([]float64(nil), S.RawRowView(kk)...))
		if err != nil {
			return nil, err
		}
		src := Source{
			SED:   mat.Col(nil, kk, A),
			Morph: morph,
		}
		src.X, src.Y = morph.FluxCentroid()
		res.Sources = append(res.Sources, src)
	}
	return res, nil
}

// initSources seeds one SED and morphology per center. The SED starts
// from the pixel stack at the center; the morphology from the positive
// band mean under a gaussian window, floored just above zero so the
// updates can grow it.
func initSources(Y *mat.Dense, images []*grid.Grid, centers []detect.Point, bgRMS []float64, res *Result) (seds [][]float64, morphs [][]float64) {
	w, h := images[0].Dx(), images[0].Dy()
	nBands := len(images)

	meanRMS := floats.Sum(bgRMS) / float64(len(bgRMS))
	floor := 0.01*meanRMS + eps

	window := float64(w) / 10
	if window < 2 {
		window = 2
	}

	for n, c := range centers {
		px, py := int(math.Round(c.X)), int(math.Round(c.Y))
		if px < 0 || py < 0 || px >= w || py >= h {
			log.Printf("no flux in peak %d at (%.1f, %.1f): outside the stamp", n, c.X, c.Y)
			res.Rejected = append(res.Rejected, n)
			continue
		}

		sed := make([]float64, nBands)
		var sum float64
		for b := 0; b < nBands; b++ {
			if v := Y.At(b, py*w+px); v > 0 {
				sed[b] = v
				sum += v
			}
		}
		if sum <= meanRMS {
			log.Printf("no flux above background in peak %d at (%.1f, %.1f)", n, c.X, c.Y)
			res.Rejected = append(res.Rejected, n)
			continue
		}
		// Unit sum, floored so a band with no flux at the seed pixel
		// can still be learned.
		for b := range sed {
			sed[b] = (sed[b] + 0.001*sum) / (sum * (1 + 0.001*float64(nBands)))
		}

		morph := make([]float64, w*h)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				var mean float64
				for b := 0; b < nBands; b++ {
					mean += Y.At(b, y*w+x)
				}
				mean /= float64(nBands)
				r2 := (float64(x)-c.X)*(float64(x)-c.X) + (float64(y)-c.Y)*(float64(y)-c.Y)
				morph[y*w+x] = (mean + floor) * math.Exp(-r2/(2*window*window))
			}
		}
		seds = append(seds, sed)
		morphs = append(morphs, morph)
	}
	return seds, morphs
}

func floorInPlace(m *mat.Dense) {
	raw := m.RawMatrix()
	for i := range raw.Data {
		if raw.Data[i] < eps {
			raw.Data[i] = eps
		}
	}
}

// normalizeSEDs rescales each SED column to unit sum and pushes the
// scale into the matching morphology row, fixing the usual
// factorization degeneracy.
func normalizeSEDs(A, S *mat.Dense) {
	_, k := A.Dims()
	for kk := 0; kk < k; kk++ {
		col := mat.Col(nil, kk, A)
		c := floats.Sum(col)
		if c <= 0 {
			continue
		}
		for b := range col {
			A.Set(b, kk, col[b]/c)
		}
		floats.Scale(c, S.RawRowView(kk))
	}
}
