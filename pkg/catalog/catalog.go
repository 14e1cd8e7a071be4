// Package catalog loads galaxy catalogs in the CatSim column
// convention and applies pre-sampling selection cuts.
package catalog

import (
	"fmt"
	"math"
)

// A Gal is one catalog row. In a freshly loaded catalog RA and Dec are
// sky coordinates in degrees; the blend samplers overwrite them with
// arcsecond offsets from the stamp center, and the renderer fills DX
// and DY with the resulting pixel positions.
type Gal struct {
	ID       int64
	RA, Dec  float64
	Redshift float64

	// Two-component profile: a de Vaucouleurs bulge plus an
	// exponential disk, with an optional point-source AGN. The
	// fluxnorms set the flux split between components; a/b are
	// half-light semi-major/minor axes in arcseconds and pa the
	// position angles in degrees.
	FluxnormBulge  float64
	FluxnormDisk   float64
	FluxnormAGN    float64
	ABulge, BBulge float64
	ADisk, BDisk   float64
	PABulge        float64
	PADisk         float64

	// AB magnitudes per band.
	MagU, MagG, MagR, MagI, MagZ, MagY float64

	// Group columns, present only in precomputed group catalogs.
	GroupID   int64
	GroupSize int64
	DBID      int64

	// Pixel center inside the stamp, measured from the bottom-left
	// pixel. Filled in at render time.
	DX, DY float64
}

type Table []Gal

// ABMag returns the galaxy's AB magnitude in the named band.
func (g Gal) ABMag(band string) (float64, error) {
	switch band {
	case "u":
		return g.MagU, nil
	case "g":
		return g.MagG, nil
	case "r":
		return g.MagR, nil
	case "i":
		return g.MagI, nil
	case "z":
		return g.MagZ, nil
	case "y":
		return g.MagY, nil
	}
	return 0, fmt.Errorf("no AB magnitude for band '%s'", band)
}

// BulgeFraction is the share of total flux carried by the bulge,
// ignoring any AGN component.
func (g Gal) BulgeFraction() float64 {
	return g.FluxnormBulge / (g.FluxnormDisk + g.FluxnormBulge)
}

// SecondMomentSize estimates the galaxy's observed size in arcseconds
// from the flux-weighted mix of its disk and bulge half-light radii.
func (g Gal) SecondMomentSize() float64 {
	f := g.BulgeFraction()
	return math.Hypot(g.ADisk*math.Sqrt(1-f)*4.66, g.ABulge*math.Sqrt(f)*1.46)
}

// A SelectFunc filters a catalog before any sampling happens.
type SelectFunc func(Table) Table

// SelectSizeMag keeps galaxies whose second-moment size is at most
// maxSize arcseconds and whose i-band magnitude is at most maxIMag.
// Rows without bulge or disk flux evaluate to a NaN size and are
// dropped.
func SelectSizeMag(maxSize, maxIMag float64) SelectFunc {
	return func(t Table) Table {
		kept := make(Table, 0, len(t))
		for _, g := range t {
			if g.SecondMomentSize() <= maxSize && g.MagI <= maxIMag {
				kept = append(kept, g)
			}
		}
		return kept
	}
}

// DefaultSelection is the stock cut applied before sampling: sources
// no larger than 4 arcsec with i <= 27.
func DefaultSelection() SelectFunc { return SelectSizeMag(4, 27) }
