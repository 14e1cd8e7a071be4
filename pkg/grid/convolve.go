package grid

import (
	"fmt"

	"gonum.org/v1/gonum/dsp/fourier"
)

// ConvolveSame convolves img with a centered kernel and returns a grid
// with the dimensions of img. The kernel center is at (Dx/2, Dy/2);
// odd-sized kernels convolve without any half-pixel offset.
//
// The convolution runs in Fourier space on a power-of-two padded
// scratch canvas, so cost is O(N log N) regardless of kernel size.
func ConvolveSame(img, kernel *Grid) (*Grid, error) {
	if kernel.Dx() > img.Dx() || kernel.Dy() > img.Dy() {
		return nil, fmt.Errorf("kernel %dx%d larger than image %dx%d",
			kernel.Dx(), kernel.Dy(), img.Dx(), img.Dy())
	}

	w, h := img.Dx(), img.Dy()
	kw, kh := kernel.Dx(), kernel.Dy()
	pw := nextPow2(w + kw - 1)
	ph := nextPow2(h + kh - 1)

	a := newCmplxPlane(pw, ph)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			a[y][x] = complex(img.Get(x, y), 0)
		}
	}

	// Place the kernel so its center sits at the origin, wrapping the
	// quadrants around the canvas edges. This keeps the output aligned
	// with the input, with no crop offset to undo.
	k := newCmplxPlane(pw, ph)
	cx, cy := kw/2, kh/2
	for y := 0; y < kh; y++ {
		for x := 0; x < kw; x++ {
			px := (x - cx + pw) % pw
			py := (y - cy + ph) % ph
			k[py][px] = complex(kernel.Get(x, y), 0)
		}
	}

	fft2InPlace(a, false)
	fft2InPlace(k, false)
	for y := range a {
		for x := range a[y] {
			a[y][x] *= k[y][x]
		}
	}
	fft2InPlace(a, true)

	// Forward plus inverse transform multiplies by the canvas area.
	scale := 1 / float64(pw*ph)
	out := New(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out.Set(x, y, real(a[y][x])*scale)
		}
	}
	return out, nil
}

// Rot180 returns the grid rotated by 180 degrees. Convolving with a
// rotated kernel is cross-correlation, which matched filtering wants.
func (g *Grid) Rot180() *Grid {
	w, h := g.Dx(), g.Dy()
	out := New(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out.Set(w-1-x, h-1-y, g.Get(x, y))
		}
	}
	return out
}

func newCmplxPlane(w, h int) [][]complex128 {
	p := make([][]complex128, h)
	for y := range p {
		p[y] = make([]complex128, w)
	}
	return p
}

// fft2InPlace runs a 2D complex FFT over the plane, rows first and
// then columns. The transform is unnormalized in both directions.
func fft2InPlace(a [][]complex128, inverse bool) {
	h := len(a)
	w := len(a[0])

	rowFFT := fourier.NewCmplxFFT(w)
	for y := 0; y < h; y++ {
		transform(rowFFT, a[y], inverse)
	}

	colFFT := fourier.NewCmplxFFT(h)
	col := make([]complex128, h)
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			col[y] = a[y][x]
		}
		transform(colFFT, col, inverse)
		for y := 0; y < h; y++ {
			a[y][x] = col[y]
		}
	}
}

func transform(fft *fourier.CmplxFFT, v []complex128, inverse bool) {
	if inverse {
		fft.Sequence(v, v)
	} else {
		fft.Coefficients(v, v)
	}
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// convolveDirect is the O(N^2 M^2) reference used by tests to pin the
// FFT path down.
func convolveDirect(img, kernel *Grid) *Grid {
	w, h := img.Dx(), img.Dy()
	kw, kh := kernel.Dx(), kernel.Dy()
	cx, cy := kw/2, kh/2
	out := New(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var sum float64
			for ky := 0; ky < kh; ky++ {
				for kx := 0; kx < kw; kx++ {
					ix := x - (kx - cx)
					iy := y - (ky - cy)
					if ix < 0 || ix >= w || iy < 0 || iy >= h {
						continue
					}
					sum += img.Get(ix, iy) * kernel.Get(kx, ky)
				}
			}
			out.Set(x, y, sum)
		}
	}
	return out
}
