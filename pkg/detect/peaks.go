package detect

import (
	"fmt"
	"sort"

	"github.com/aromazyl/BlendingToolKit/pkg/grid"
)

// PeakParams tunes local-maxima peak finding.
type PeakParams struct {
	ThresholdSigma float64 // detection threshold, in units of the image standard deviation
	MinDistance    int     // smallest pixel separation between reported peaks
}

func DefaultPeakParams() PeakParams {
	return PeakParams{ThresholdSigma: 5, MinDistance: 2}
}

// FindPeaks returns the local maxima of img lying above ThresholdSigma
// times the image standard deviation, brightest first. A pixel is a
// peak when nothing within MinDistance of it is brighter; of two equal
// peaks closer than MinDistance, the one earlier in scan order wins.
func FindPeaks(img *grid.Grid, p PeakParams) ([]Point, error) {
	if p.MinDistance < 1 {
		return nil, fmt.Errorf("peak min distance must be >= 1, got %d", p.MinDistance)
	}
	if p.ThresholdSigma <= 0 {
		return nil, fmt.Errorf("peak threshold must be positive, got %v", p.ThresholdSigma)
	}
	threshold := p.ThresholdSigma * img.StdDev()
	w, h := img.Dx(), img.Dy()

	type cand struct {
		x, y int
		v    float64
	}
	var cands []cand
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := img.Get(x, y)
			if v <= threshold || !isRegionalMax(img, x, y, v, p.MinDistance) {
				continue
			}
			cands = append(cands, cand{x, y, v})
		}
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].v > cands[j].v })

	// Greedy suppression keeps the brightest of any pair of candidates
	// closer together than MinDistance.
	minD2 := float64(p.MinDistance * p.MinDistance)
	peaks := []Point{}
	for _, c := range cands {
		keep := true
		for _, pk := range peaks {
			dx := float64(c.x) - pk.X
			dy := float64(c.y) - pk.Y
			if dx*dx+dy*dy < minD2 {
				keep = false
				break
			}
		}
		if keep {
			peaks = append(peaks, Point{float64(c.x), float64(c.y)})
		}
	}
	return peaks, nil
}

// isRegionalMax reports whether (x,y) is at least as bright as every
// pixel in the box of radius d around it, with ties broken towards the
// pixel earlier in scan order.
func isRegionalMax(img *grid.Grid, x, y int, v float64, d int) bool {
	w, h := img.Dx(), img.Dy()
	for dy := -d; dy <= d; dy++ {
		for dx := -d; dx <= d; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			nx, ny := x+dx, y+dy
			if nx < 0 || ny < 0 || nx >= w || ny >= h {
				continue
			}
			nv := img.Get(nx, ny)
			if nv > v {
				return false
			}
			if nv == v && ny*w+nx < y*w+x {
				return false
			}
		}
	}
	return true
}
