package survey

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"

	"github.com/aromazyl/BlendingToolKit/pkg/grid"
)

// An Observation fixes the observing conditions of one band for one
// batch of blends.
type Observation struct {
	SurveyName string
	Band       Filter
	PixelScale float64 // arcsec per pixel
	StampPix   int     // stamp width and height, pixels
	PSF        PSF
}

func (o Observation) String() string {
	return fmt.Sprintf("%s-%s %dpx %s", o.SurveyName, o.Band.Name, o.StampPix, o.PSF)
}

// FluxCounts converts an AB magnitude into total detector counts for
// this observation's exposure.
func (o Observation) FluxCounts(abMag float64) float64 {
	return o.Band.ExpTime * o.Band.ZeroPoint * math.Pow(10, -0.4*(abMag-24))
}

// MeanSkyLevel is the expected sky background per pixel, in counts.
func (o Observation) MeanSkyLevel() float64 {
	return o.FluxCounts(o.Band.SkyBrightness) * o.PixelScale * o.PixelScale
}

// PSFKernel renders the observation's PSF at its native pixel scale,
// sized to hold the wings but never wider than the stamp itself.
func (o Observation) PSFKernel() (*grid.Grid, error) {
	return o.PSF.Kernel(o.PixelScale, o.PSF.KernelSize(o.PixelScale, o.StampPix))
}

// An ObsFunc builds the Observation for one band of one batch. Custom
// hooks can perturb the preset conditions per batch via rng.
type ObsFunc func(s Survey, f Filter, stampPix int, psf PSF, rng *rand.Rand) Observation

// FixedConditions uses each filter preset exactly as configured.
func FixedConditions(s Survey, f Filter, stampPix int, psf PSF, _ *rand.Rand) Observation {
	return Observation{
		SurveyName: s.Name,
		Band:       f,
		PixelScale: s.PixelScale,
		StampPix:   stampPix,
		PSF:        psf,
	}
}

// JitterSeeing returns an ObsFunc that scales the delivered seeing by
// a uniform factor in [1-frac, 1+frac], drawn once per band per batch.
func JitterSeeing(frac float64) ObsFunc {
	return func(s Survey, f Filter, stampPix int, psf PSF, rng *rand.Rand) Observation {
		o := FixedConditions(s, f, stampPix, psf, rng)
		scale := 1 + frac*(2*rng.Float64()-1)
		o.PSF.FWHM *= scale
		o.Band.Seeing = o.PSF.FWHM
		return o
	}
}

// A Generator yields one Observation per band for each batch. All
// blends within a batch share the same conditions.
type Generator struct {
	surv     Survey
	stampPix int
	psfModel string
	beta     float64
	fn       ObsFunc
	rng      *rand.Rand
}

func NewGenerator(surv Survey, stampSize float64, psfModel string, beta float64, fn ObsFunc, seed uint64) (*Generator, error) {
	if stampSize <= 0 {
		return nil, fmt.Errorf("stamp size must be positive, got %v arcsec", stampSize)
	}
	if _, err := NewPSF(psfModel, 1, beta); err != nil {
		return nil, err
	}
	if fn == nil {
		fn = FixedConditions
	}
	return &Generator{
		surv:     surv,
		stampPix: int(stampSize / surv.PixelScale),
		psfModel: psfModel,
		beta:     beta,
		fn:       fn,
		rng:      rand.New(rand.NewSource(seed)),
	}, nil
}

func (g *Generator) StampPix() int { return g.stampPix }

func (g *Generator) Next() ([]Observation, error) {
	obs := make([]Observation, 0, len(g.surv.Filters))
	for _, f := range g.surv.Filters {
		psf, err := NewPSF(g.psfModel, f.Seeing, g.beta)
		if err != nil {
			return nil, err
		}
		obs = append(obs, g.fn(g.surv, f, g.stampPix, psf, g.rng))
	}
	return obs, nil
}
