package grid

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// A Grid is a rectangular raster of float64 pixel values, row-major.
// Pixel (0,0) is the bottom-left corner, matching the convention used
// by the catalog and metrics packages for centroid coordinates.
type Grid struct {
	stride int
	values []float64
}

func New(w, h int) *Grid {
	return &Grid{
		stride: w,
		values: make([]float64, w*h),
	}
}

// FromValues wraps an existing row-major slice. The slice is not copied.
func FromValues(w, h int, values []float64) (*Grid, error) {
	if w <= 0 || h <= 0 || len(values) != w*h {
		return nil, fmt.Errorf("grid %dx%d needs %d values, got %d", w, h, w*h, len(values))
	}
	return &Grid{stride: w, values: values}, nil
}

func (g *Grid) Dx() int                  { return g.stride }
func (g *Grid) Dy() int                  { return len(g.values) / g.stride }
func (g *Grid) Get(x, y int) float64     { return g.values[g.stride*y+x] }
func (g *Grid) Set(x, y int, v float64)  { g.values[g.stride*y+x] = v }
func (g *Grid) Add(x, y int, v float64)  { g.values[g.stride*y+x] += v }
func (g *Grid) Values() []float64        { return g.values }
func (g *Grid) NewFromThis() *Grid       { return New(g.Dx(), g.Dy()) }

func (g *Grid) Copy() *Grid {
	g2 := &Grid{stride: g.stride, values: make([]float64, len(g.values))}
	copy(g2.values, g.values)
	return g2
}

// AddGrid accumulates g2 into g. Grids must have identical dimensions.
func (g *Grid) AddGrid(g2 *Grid) error {
	if g.Dx() != g2.Dx() || g.Dy() != g2.Dy() {
		return fmt.Errorf("grid size mismatch: %dx%d vs %dx%d", g.Dx(), g.Dy(), g2.Dx(), g2.Dy())
	}
	floats.Add(g.values, g2.values)
	return nil
}

func (g *Grid) Scale(c float64) { floats.Scale(c, g.values) }

func (g *Grid) Sum() float64 { return floats.Sum(g.values) }

func (g *Grid) Max() float64 { return floats.Max(g.values) }

func (g *Grid) Min() float64 { return floats.Min(g.values) }

func (g *Grid) Mean() float64 { return stat.Mean(g.values, nil) }

func (g *Grid) StdDev() float64 { return stat.StdDev(g.values, nil) }

// Median copies and sorts the pixel values; fine for the stamp sizes
// this package deals in.
func (g *Grid) Median() float64 {
	v := append([]float64(nil), g.values...)
	sort.Float64s(v)
	return medianSorted(v)
}

func medianSorted(v []float64) float64 {
	n := len(v)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return v[n/2]
	}
	return (v[n/2-1] + v[n/2]) / 2
}

// SigmaClippedStats iteratively rejects values more than k sigma from
// the median and returns the surviving median and standard deviation.
// Used for background estimation, where sources must not bias the sky.
func SigmaClippedStats(values []float64, k float64, maxIter int) (median, sigma float64) {
	v := append([]float64(nil), values...)
	sort.Float64s(v)
	for iter := 0; iter < maxIter; iter++ {
		median = medianSorted(v)
		sigma = stat.StdDev(v, nil)
		if sigma == 0 || len(v) < 3 {
			return median, sigma
		}
		lo := sort.SearchFloat64s(v, median-k*sigma)
		hi := sort.SearchFloat64s(v, median+k*sigma)
		if hi-lo == len(v) {
			return median, sigma
		}
		if hi <= lo {
			return median, sigma
		}
		v = v[lo:hi]
	}
	return medianSorted(v), stat.StdDev(v, nil)
}

// FluxCentroid returns the flux-weighted center of mass of the grid,
// in pixel coordinates. Negative pixels are ignored.
func (g *Grid) FluxCentroid() (cx, cy float64) {
	var sx, sy, sz float64
	for y := 0; y < g.Dy(); y++ {
		for x := 0; x < g.Dx(); x++ {
			v := g.Get(x, y)
			if v <= 0 {
				continue
			}
			sx += v * float64(x)
			sy += v * float64(y)
			sz += v
		}
	}
	if sz == 0 {
		return float64(g.Dx()) / 2, float64(g.Dy()) / 2
	}
	return sx / sz, sy / sz
}

func (g *Grid) Stats() string {
	return fmt.Sprintf("grid[%dx%d, min %.4g, max %.4g, mean %.4g]",
		g.Dx(), g.Dy(), g.Min(), g.Max(), g.Mean())
}

// MeanOf averages several same-sized grids pixelwise, e.g. to collapse
// the bands of a scene into a single detection image.
func MeanOf(gs []*Grid) (*Grid, error) {
	if len(gs) == 0 {
		return nil, fmt.Errorf("mean of zero grids")
	}
	out := gs[0].Copy()
	for _, g := range gs[1:] {
		if err := out.AddGrid(g); err != nil {
			return nil, err
		}
	}
	out.Scale(1 / float64(len(gs)))
	return out, nil
}

// AsinhStretch maps pixel values into [0,1] with an arcsinh transfer
// curve, the usual display stretch for high dynamic range sky images.
// softening controls how aggressively faint structure is lifted.
func (g *Grid) AsinhStretch(softening float64) *Grid {
	out := g.NewFromThis()
	lo := g.Min()
	span := g.Max() - lo
	if span <= 0 {
		return out
	}
	norm := math.Asinh(softening)
	for i, v := range g.values {
		out.values[i] = math.Asinh(softening*(v-lo)/span) / norm
	}
	return out
}
