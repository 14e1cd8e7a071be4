package survey

import (
	"fmt"
	"math"

	"github.com/aromazyl/BlendingToolKit/pkg/grid"
)

const fwhmPerSigma = 2.354820045031187 // 2*sqrt(2*ln 2)

// A PSF is an analytic point spread function profile. Both supported
// models are circular; Beta only applies to the moffat model.
type PSF struct {
	Model string // "gaussian" or "moffat"
	FWHM  float64
	Beta  float64
}

func NewPSF(model string, fwhm, beta float64) (PSF, error) {
	if fwhm <= 0 {
		return PSF{}, fmt.Errorf("psf fwhm must be positive, got %v", fwhm)
	}
	switch model {
	case "gaussian":
		return PSF{Model: model, FWHM: fwhm}, nil
	case "moffat":
		if beta <= 1 {
			return PSF{}, fmt.Errorf("moffat beta must exceed 1, got %v", beta)
		}
		return PSF{Model: model, FWHM: fwhm, Beta: beta}, nil
	}
	return PSF{}, fmt.Errorf("unknown psf model '%s'", model)
}

func (p PSF) String() string {
	if p.Model == "moffat" {
		return fmt.Sprintf("moffat(fwhm=%.2f\", beta=%.1f)", p.FWHM, p.Beta)
	}
	return fmt.Sprintf("%s(fwhm=%.2f\")", p.Model, p.FWHM)
}

// Density evaluates the PSF at squared radius r2 (arcsec^2), normalized
// so the profile integrates to one over the plane. Units are arcsec^-2.
func (p PSF) Density(r2 float64) float64 {
	switch p.Model {
	case "moffat":
		alpha2 := p.alpha() * p.alpha()
		return (p.Beta - 1) / (math.Pi * alpha2) * math.Pow(1+r2/alpha2, -p.Beta)
	default:
		sigma2 := p.sigma() * p.sigma()
		return math.Exp(-r2/(2*sigma2)) / (2 * math.Pi * sigma2)
	}
}

func (p PSF) sigma() float64 { return p.FWHM / fwhmPerSigma }

func (p PSF) alpha() float64 {
	return p.FWHM / (2 * math.Sqrt(math.Pow(2, 1/p.Beta)-1))
}

// Kernel renders the PSF onto an n x n pixel stamp centered on the
// middle pixel and normalizes it to unit sum. n must be odd so the
// kernel convolves without a half-pixel shift.
func (p PSF) Kernel(pixelScale float64, n int) (*grid.Grid, error) {
	if n < 3 || n%2 == 0 {
		return nil, fmt.Errorf("psf kernel size must be odd and >= 3, got %d", n)
	}
	k := grid.New(n, n)
	c := float64(n-1) / 2
	const sub = 3 // subpixel samples per axis
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			var sum float64
			for sy := 0; sy < sub; sy++ {
				for sx := 0; sx < sub; sx++ {
					dx := (float64(x) + (float64(sx)+0.5)/sub - 0.5 - c) * pixelScale
					dy := (float64(y) + (float64(sy)+0.5)/sub - 0.5 - c) * pixelScale
					sum += p.Density(dx*dx + dy*dy)
				}
			}
			k.Set(x, y, sum/(sub*sub))
		}
	}
	k.Scale(1 / k.Sum())
	return k, nil
}

// KernelSize picks an odd stamp size wide enough to hold the PSF out
// to several FWHM, capped at max (rounded down to odd).
func (p PSF) KernelSize(pixelScale float64, max int) int {
	n := int(math.Ceil(8*p.FWHM/pixelScale)) | 1
	if n < 3 {
		n = 3
	}
	if max > 0 && n > max {
		n = max
		if n%2 == 0 {
			n--
		}
	}
	return n
}
