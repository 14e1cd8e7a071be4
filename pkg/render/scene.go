// Package render turns blend truth tables into multi-band pixel
// scenes: analytic galaxy profiles convolved with the observation PSF,
// summed per blend, with Poisson noise over the sky background.
package render

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/aromazyl/BlendingToolKit/pkg/catalog"
	"github.com/aromazyl/BlendingToolKit/pkg/grid"
	"github.com/aromazyl/BlendingToolKit/pkg/survey"
)

// Sérsic indices of the two galaxy components: exponential disk,
// de Vaucouleurs bulge.
const (
	diskIndex  = 1
	bulgeIndex = 4
)

// A Scene is one rendered blend: the noisy composite per band plus the
// noiseless isolated image of every member galaxy.
type Scene struct {
	Cat      catalog.Table // members, with DX/DY pixel centers filled
	Obs      []survey.Observation
	Blend    []*grid.Grid   // per band
	Isolated [][]*grid.Grid // [member][band], noiseless
	Seed     uint64
}

// PixelCenter maps a member's arcsec offsets onto stamp pixel
// coordinates, measured from the bottom-left pixel center.
func PixelCenter(g catalog.Gal, o survey.Observation) (cx, cy float64) {
	c := float64(o.StampPix-1) / 2
	return c + g.RA/o.PixelScale, c + g.Dec/o.PixelScale
}

// DrawGalaxy renders one galaxy's isolated, PSF-convolved stamp for a
// single observation. The flux split across bulge, disk and AGN comes
// from the catalog fluxnorms; an absent component renders as nothing.
func DrawGalaxy(g catalog.Gal, o survey.Observation) (*grid.Grid, error) {
	mag, err := g.ABMag(o.Band.Name)
	if err != nil {
		return nil, err
	}
	total := o.FluxCounts(mag)
	cx, cy := PixelCenter(g, o)

	fracBulge, fracDisk, fracAGN := fluxSplit(g)
	st := grid.New(o.StampPix, o.StampPix)
	component{
		flux: total * fracDisk, a: g.ADisk, b: g.BDisk, paDeg: g.PADisk, n: diskIndex,
	}.render(st, o.PixelScale, cx, cy)
	component{
		flux: total * fracBulge, a: g.ABulge, b: g.BBulge, paDeg: g.PABulge, n: bulgeIndex,
	}.render(st, o.PixelScale, cx, cy)

	kernel, err := o.PSFKernel()
	if err != nil {
		return nil, err
	}
	conv, err := grid.ConvolveSame(st, kernel)
	if err != nil {
		return nil, err
	}

	// The AGN is a point source: its convolved image is the PSF
	// itself, so render it analytically at the subpixel center.
	if fracAGN > 0 {
		renderPointSource(conv, o, total*fracAGN, cx, cy)
	}
	return conv, nil
}

func fluxSplit(g catalog.Gal) (bulge, disk, agn float64) {
	sum := g.FluxnormBulge + g.FluxnormDisk + g.FluxnormAGN
	if sum <= 0 {
		// Catalogs without component fluxnorms render as pure disks.
		return 0, 1, 0
	}
	return g.FluxnormBulge / sum, g.FluxnormDisk / sum, g.FluxnormAGN / sum
}

func renderPointSource(st *grid.Grid, o survey.Observation, flux, cx, cy float64) {
	pixArea := o.PixelScale * o.PixelScale
	const sub = 3
	for y := 0; y < st.Dy(); y++ {
		for x := 0; x < st.Dx(); x++ {
			var sum float64
			for sy := 0; sy < sub; sy++ {
				for sx := 0; sx < sub; sx++ {
					dx := (float64(x) + (float64(sx)+0.5)/sub - 0.5 - cx) * o.PixelScale
					dy := (float64(y) + (float64(sy)+0.5)/sub - 0.5 - cy) * o.PixelScale
					sum += o.PSF.Density(dx*dx + dy*dy)
				}
			}
			st.Add(x, y, flux*sum/(sub*sub)*pixArea)
		}
	}
}

// DrawScene renders one blend under the given per-band observations.
// The blend image is the pixel sum of the member stamps; when addNoise
// is set, each band gets Poisson noise over its sky level, seeded only
// by seed so identical inputs render identically no matter which
// worker draws them. The input table is not modified.
func DrawScene(bl catalog.Table, obs []survey.Observation, seed uint64, addNoise bool) (*Scene, error) {
	if len(bl) == 0 {
		return nil, fmt.Errorf("empty blend table")
	}
	if len(obs) == 0 {
		return nil, fmt.Errorf("no observations")
	}

	cat := append(catalog.Table(nil), bl...)
	for i := range cat {
		cat[i].DX, cat[i].DY = PixelCenter(cat[i], obs[0])
	}

	isolated := make([][]*grid.Grid, len(cat))
	for i := range cat {
		isolated[i] = make([]*grid.Grid, len(obs))
		for b, o := range obs {
			st, err := DrawGalaxy(cat[i], o)
			if err != nil {
				return nil, fmt.Errorf("galaxy %d band %s: %v", cat[i].ID, o.Band.Name, err)
			}
			isolated[i][b] = st
		}
	}

	blend := make([]*grid.Grid, len(obs))
	for b := range obs {
		blend[b] = isolated[0][b].Copy()
		for i := 1; i < len(cat); i++ {
			if err := blend[b].AddGrid(isolated[i][b]); err != nil {
				return nil, err
			}
		}
	}

	if addNoise {
		src := rand.NewSource(seed)
		for b, o := range obs {
			applyNoise(blend[b], o.MeanSkyLevel(), src)
		}
	}

	return &Scene{Cat: cat, Obs: obs, Blend: blend, Isolated: isolated, Seed: seed}, nil
}

// applyNoise replaces each pixel with a Poisson draw over signal plus
// sky, then subtracts the sky back off, leaving a mean-zero background
// with survey-realistic variance.
func applyNoise(g *grid.Grid, sky float64, src rand.Source) {
	v := g.Values()
	for i := range v {
		mean := v[i] + sky
		if mean <= 0 {
			continue
		}
		v[i] = distuv.Poisson{Lambda: mean, Src: src}.Rand() - sky
	}
}
