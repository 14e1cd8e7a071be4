// Package detect finds sources in single-band images: background
// estimation, thresholded extraction with footprint splitting, peak
// finding and PSF matched filtering.
package detect

import (
	"fmt"

	"github.com/aromazyl/BlendingToolKit/pkg/grid"
)

// A Background models a slowly varying sky as sigma-clipped medians on
// a coarse cell mesh, bilinearly interpolated back to full resolution.
type Background struct {
	w, h    int
	bin     int
	nx, ny  int
	med     []float64
	rms     []float64
	gMedian float64
	gRMS    float64
}

// EstimateBackground meshes the image into bin x bin cells. The last
// row/column of cells absorbs any remainder pixels.
func EstimateBackground(img *grid.Grid, bin int) (*Background, error) {
	if bin < 4 {
		return nil, fmt.Errorf("background bin %d too small, want >= 4", bin)
	}
	w, h := img.Dx(), img.Dy()
	if bin > w {
		bin = w
	}
	if bin > h {
		bin = h
	}
	b := &Background{
		w: w, h: h, bin: bin,
		nx: w / bin, ny: h / bin,
	}
	if b.nx < 1 {
		b.nx = 1
	}
	if b.ny < 1 {
		b.ny = 1
	}
	b.med = make([]float64, b.nx*b.ny)
	b.rms = make([]float64, b.nx*b.ny)

	cell := make([]float64, 0, bin*bin*2)
	for cy := 0; cy < b.ny; cy++ {
		for cx := 0; cx < b.nx; cx++ {
			x0, x1 := cx*bin, (cx+1)*bin
			y0, y1 := cy*bin, (cy+1)*bin
			if cx == b.nx-1 {
				x1 = w
			}
			if cy == b.ny-1 {
				y1 = h
			}
			cell = cell[:0]
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					cell = append(cell, img.Get(x, y))
				}
			}
			med, sigma := grid.SigmaClippedStats(cell, 3, 5)
			b.med[cy*b.nx+cx] = med
			b.rms[cy*b.nx+cx] = sigma
		}
	}

	b.gMedian, b.gRMS = grid.SigmaClippedStats(img.Values(), 3, 5)
	return b, nil
}

func (b *Background) GlobalMedian() float64 { return b.gMedian }
func (b *Background) GlobalRMS() float64    { return b.gRMS }

// At interpolates the mesh median at pixel (x,y).
func (b *Background) At(x, y int) float64 { return b.interp(b.med, x, y) }

// RMSAt interpolates the mesh noise estimate at pixel (x,y).
func (b *Background) RMSAt(x, y int) float64 { return b.interp(b.rms, x, y) }

func (b *Background) interp(mesh []float64, x, y int) float64 {
	fx := (float64(x)+0.5)/float64(b.bin) - 0.5
	fy := (float64(y)+0.5)/float64(b.bin) - 0.5
	ix, iy := int(fx), int(fy)
	if fx < 0 {
		fx, ix = 0, 0
	}
	if fy < 0 {
		fy, iy = 0, 0
	}
	if ix >= b.nx-1 {
		ix = b.nx - 1
	}
	if iy >= b.ny-1 {
		iy = b.ny - 1
	}
	tx, ty := fx-float64(ix), fy-float64(iy)
	if tx > 1 || ix == b.nx-1 {
		tx = 0
	}
	if ty > 1 || iy == b.ny-1 {
		ty = 0
	}

	at := func(cx, cy int) float64 {
		if cx > b.nx-1 {
			cx = b.nx - 1
		}
		if cy > b.ny-1 {
			cy = b.ny - 1
		}
		return mesh[cy*b.nx+cx]
	}
	v00 := at(ix, iy)
	v10 := at(ix+1, iy)
	v01 := at(ix, iy+1)
	v11 := at(ix+1, iy+1)
	return v00*(1-tx)*(1-ty) + v10*tx*(1-ty) + v01*(1-tx)*ty + v11*tx*ty
}

// Subtract returns a copy of img with the interpolated background
// removed.
func (b *Background) Subtract(img *grid.Grid) *grid.Grid {
	out := img.Copy()
	for y := 0; y < img.Dy(); y++ {
		for x := 0; x < img.Dx(); x++ {
			out.Add(x, y, -b.At(x, y))
		}
	}
	return out
}
