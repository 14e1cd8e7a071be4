// Package blend draws small groups of catalog galaxies and scatters
// them over a stamp, producing the truth tables that get rendered into
// blend scenes.
package blend

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"

	"github.com/aromazyl/BlendingToolKit/pkg/catalog"
)

// Params configures sampling. After sampling, each returned row's RA
// and Dec hold arcsecond offsets from the stamp center.
type Params struct {
	MaxNumber  int           // most galaxies per blend
	StampSize  float64       // stamp width, arcsec
	MaxShift   float64       // center scatter, arcsec; 0 means StampSize/10
	PixelScale float64       // arcsec per pixel, used by the group sampler
	Groups     catalog.Table // pre-identified groups, group sampler only
}

// A SampleFunc picks the members of one blend. Returning an empty
// table asks the generator to redraw.
type SampleFunc func(rng *rand.Rand, cat catalog.Table, p Params) (catalog.Table, error)

// RandomShifts draws n uniform center offsets within ±maxshift arcsec.
func RandomShifts(rng *rand.Rand, n int, maxshift float64) (dx, dy []float64) {
	dx = make([]float64, n)
	dy = make([]float64, n)
	for i := 0; i < n; i++ {
		dx[i] = maxshift * (2*rng.Float64() - 1)
		dy[i] = maxshift * (2*rng.Float64() - 1)
	}
	return dx, dy
}

// SampleDefault picks 1..MaxNumber galaxies brighter than i=25.3,
// uniformly at random with replacement, and scatters them within
// ±MaxShift of the stamp center.
func SampleDefault(rng *rand.Rand, cat catalog.Table, p Params) (catalog.Table, error) {
	pool := indexWhere(cat, func(g catalog.Gal) bool { return g.MagI <= 25.3 })
	if len(pool) == 0 {
		return nil, fmt.Errorf("no catalog rows brighter than i=25.3")
	}
	n := 1 + rng.Intn(p.MaxNumber)
	bl := make(catalog.Table, 0, n)
	for i := 0; i < n; i++ {
		bl = append(bl, cat[pool[rng.Intn(len(pool))]])
	}

	maxshift := p.MaxShift
	if maxshift == 0 {
		maxshift = p.StampSize / 10
	}
	dx, dy := RandomShifts(rng, n, maxshift)
	for i := range bl {
		bl[i].RA = dx[i]
		bl[i].Dec = dy[i]
	}
	return bl, nil
}

// SampleBright builds each blend around one bright (i<=24) galaxy of
// moderate size, adding up to MaxNumber-1 fainter companions. One draw
// in ten admits companions down to i=28; otherwise the pool stops at
// i=25.3. The scatter widens as sqrt(n) to keep the surface density
// roughly constant.
func SampleBright(rng *rand.Rand, cat catalog.Table, p Params) (catalog.Table, error) {
	moderate := func(g catalog.Gal) bool {
		a := math.Hypot(g.ADisk, g.ABulge)
		return a > 0.2 && a <= 2
	}
	bright := indexWhere(cat, func(g catalog.Gal) bool { return moderate(g) && g.MagI <= 24 })
	if len(bright) == 0 {
		return nil, fmt.Errorf("no bright (i<=24) galaxies to center blends on")
	}

	magLimit := 25.3
	if rng.Float64() >= 0.9 {
		magLimit = 28
	}
	pool := indexWhere(cat, func(g catalog.Gal) bool { return moderate(g) && g.MagI <= magLimit })
	if len(pool) == 0 {
		return nil, fmt.Errorf("no companion galaxies brighter than i=%v", magLimit)
	}

	nOthers := rng.Intn(p.MaxNumber)
	bl := make(catalog.Table, 0, nOthers+1)
	bl = append(bl, cat[bright[rng.Intn(len(bright))]])
	for i := 0; i < nOthers; i++ {
		bl = append(bl, cat[pool[rng.Intn(len(pool))]])
	}

	maxshift := p.StampSize / 30 * math.Sqrt(float64(nOthers))
	dx, dy := RandomShifts(rng, nOthers+1, maxshift)
	for i := range bl {
		bl[i].RA = dx[i]
		bl[i].Dec = dy[i]
	}
	return bl, nil
}

// SampleGroups reproduces real sky groupings: it picks a precomputed
// group of two or more overlapping galaxies from p.Groups, looks its
// members up in the main catalog by ID, recenters the group on the
// stamp and jitters it by a few pixels. Members landing within 3
// arcsec of the stamp edge are dropped; if none survive, the empty
// table asks the generator to redraw.
func SampleGroups(rng *rand.Rand, cat catalog.Table, p Params) (catalog.Table, error) {
	if len(p.Groups) == 0 {
		return nil, fmt.Errorf("group sampling needs a group catalog")
	}

	groupIDs := make([]int64, 0, 16)
	seen := map[int64]bool{}
	for _, g := range p.Groups {
		if g.GroupSize >= 2 && !seen[g.GroupID] {
			seen[g.GroupID] = true
			groupIDs = append(groupIDs, g.GroupID)
		}
	}
	if len(groupIDs) == 0 {
		return nil, fmt.Errorf("group catalog has no groups of size >= 2")
	}

	byID := make(map[int64]catalog.Gal, len(cat))
	for _, g := range cat {
		byID[g.ID] = g
	}

	pick := groupIDs[rng.Intn(len(groupIDs))]
	var bl catalog.Table
	for _, g := range p.Groups {
		if g.GroupID != pick {
			continue
		}
		member, ok := byID[g.DBID]
		if !ok {
			return nil, fmt.Errorf("group %d member db_id %d not in catalog", pick, g.DBID)
		}
		bl = append(bl, member)
	}

	// Recenter the group on the stamp and convert degrees to arcsec.
	var meanRA, meanDec float64
	for _, g := range bl {
		meanRA += g.RA
		meanDec += g.Dec
	}
	meanRA /= float64(len(bl))
	meanDec /= float64(len(bl))
	for i := range bl {
		bl[i].RA = (bl[i].RA - meanRA) * 3600
		bl[i].Dec = (bl[i].Dec - meanDec) * 3600
	}

	dx, dy := RandomShifts(rng, len(bl), 3*p.PixelScale)
	edge := p.StampSize/2 - 3
	kept := make(catalog.Table, 0, len(bl))
	for i := range bl {
		bl[i].RA += dx[i]
		bl[i].Dec += dy[i]
		if math.Abs(bl[i].RA) < edge && math.Abs(bl[i].Dec) < edge {
			kept = append(kept, bl[i])
		}
	}
	if len(kept) > p.MaxNumber {
		perm := rng.Perm(len(kept))
		capped := make(catalog.Table, 0, p.MaxNumber)
		for _, j := range perm[:p.MaxNumber] {
			capped = append(capped, kept[j])
		}
		kept = capped
	}
	return kept, nil
}

func indexWhere(cat catalog.Table, keep func(catalog.Gal) bool) []int {
	idx := make([]int, 0, len(cat))
	for i, g := range cat {
		if keep(g) {
			idx = append(idx, i)
		}
	}
	return idx
}
