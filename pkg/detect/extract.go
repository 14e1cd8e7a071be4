package detect

import (
	"fmt"
	"math"
	"sort"

	"github.com/aromazyl/BlendingToolKit/pkg/grid"
)

// A Point is a position in stamp pixel coordinates.
type Point struct {
	X, Y float64
}

// A Source is one extracted object.
type Source struct {
	X, Y  float64 // flux-weighted centroid
	Flux  float64 // background-subtracted footprint sum
	Peak  float64
	Npix  int
	SNR   float64
	Label int // id in the segmentation map, from 1
}

func (s Source) Point() Point { return Point{s.X, s.Y} }

// ExtractParams tunes thresholded extraction.
type ExtractParams struct {
	ThresholdSigma  float64 // detection threshold in background RMS units
	MinPixels       int     // smallest footprint kept
	BackgroundBin   int     // background mesh cell size
	DeblendContrast float64 // peak contrast for footprint splitting; 0 disables
}

func DefaultExtractParams() ExtractParams {
	return ExtractParams{
		ThresholdSigma:  1.5,
		MinPixels:       5,
		BackgroundBin:   32,
		DeblendContrast: 0.005,
	}
}

// Extract segments img into sources: subtract the mesh background,
// flag pixels above ThresholdSigma times the local noise, grow
// 8-connected footprints, optionally split footprints holding several
// distinct peaks, and measure each child. It returns the sources
// brightest-first plus a segmentation map holding each source's Label
// (0 is sky).
func Extract(img *grid.Grid, p ExtractParams) ([]Source, *grid.Grid, error) {
	if p.ThresholdSigma <= 0 {
		return nil, nil, fmt.Errorf("threshold must be positive, got %v", p.ThresholdSigma)
	}
	bkg, err := EstimateBackground(img, p.BackgroundBin)
	if err != nil {
		return nil, nil, err
	}
	sub := bkg.Subtract(img)

	w, h := img.Dx(), img.Dy()
	mask := make([]bool, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if sub.Get(x, y) > p.ThresholdSigma*bkg.RMSAt(x, y) {
				mask[y*w+x] = true
			}
		}
	}

	footprints := labelComponents(mask, w, h)

	var sources []Source
	seg := grid.New(w, h)
	for _, fp := range footprints {
		if len(fp) < p.MinPixels {
			continue
		}
		children := splitFootprint(sub, fp, p.DeblendContrast)
		for _, child := range children {
			if len(child) < p.MinPixels {
				continue
			}
			s := measureFootprint(sub, bkg, child)
			s.Label = len(sources) + 1
			sources = append(sources, s)
			for _, px := range child {
				seg.Set(px%w, px/w, float64(s.Label))
			}
		}
	}

	sort.SliceStable(sources, func(i, j int) bool { return sources[i].Flux > sources[j].Flux })
	// Relabel so the map follows the sorted order.
	relabel := make(map[int]int, len(sources))
	for i := range sources {
		relabel[sources[i].Label] = i + 1
		sources[i].Label = i + 1
	}
	for i, v := range seg.Values() {
		if v != 0 {
			seg.Values()[i] = float64(relabel[int(v)])
		}
	}
	return sources, seg, nil
}

// labelComponents grows 8-connected footprints over the mask with a
// queue-based flood fill. Pixels are indexed y*w+x.
func labelComponents(mask []bool, w, h int) [][]int {
	visited := make([]bool, len(mask))
	var comps [][]int
	queue := make([]int, 0, 256)
	for start := range mask {
		if !mask[start] || visited[start] {
			continue
		}
		var comp []int
		queue = append(queue[:0], start)
		visited[start] = true
		for len(queue) > 0 {
			px := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			comp = append(comp, px)
			x, y := px%w, px/w
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := x+dx, y+dy
					if nx < 0 || ny < 0 || nx >= w || ny >= h {
						continue
					}
					np := ny*w + nx
					if mask[np] && !visited[np] {
						visited[np] = true
						queue = append(queue, np)
					}
				}
			}
		}
		sort.Ints(comp)
		comps = append(comps, comp)
	}
	return comps
}

// splitFootprint breaks a footprint containing several well-separated
// peaks into one child per peak, assigning each pixel to its nearest
// peak. Peaks below contrast times the footprint maximum do not count.
func splitFootprint(sub *grid.Grid, fp []int, contrast float64) [][]int {
	if contrast <= 0 {
		return [][]int{fp}
	}
	w := sub.Dx()
	inFP := make(map[int]bool, len(fp))
	var peakFlux float64
	for _, px := range fp {
		inFP[px] = true
		if v := sub.Get(px%w, px/w); v > peakFlux {
			peakFlux = v
		}
	}

	var peaks []int
	for _, px := range fp {
		x, y := px%w, px/w
		v := sub.Get(x, y)
		if v < contrast*peakFlux {
			continue
		}
		isMax := true
		higher := false
		for dy := -1; dy <= 1 && isMax; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if dx == 0 && dy == 0 {
					continue
				}
				nx, ny := x+dx, y+dy
				if nx < 0 || ny < 0 || nx >= w || ny >= sub.Dy() {
					continue
				}
				np := ny*w + nx
				if !inFP[np] {
					continue
				}
				nv := sub.Get(nx, ny)
				if nv > v {
					isMax = false
					break
				}
				if nv == v && np < px {
					// Plateau: only the lowest-indexed pixel counts.
					higher = true
				}
			}
		}
		if isMax && !higher {
			peaks = append(peaks, px)
		}
	}
	if len(peaks) < 2 {
		return [][]int{fp}
	}

	children := make([][]int, len(peaks))
	for _, px := range fp {
		x, y := px%w, px/w
		best, bestD := 0, math.MaxFloat64
		for i, pk := range peaks {
			pkx, pky := pk%w, pk/w
			d := float64((x-pkx)*(x-pkx) + (y-pky)*(y-pky))
			if d < bestD {
				best, bestD = i, d
			}
		}
		children[best] = append(children[best], px)
	}
	return children
}

func measureFootprint(sub *grid.Grid, bkg *Background, fp []int) Source {
	w := sub.Dx()
	var s Source
	var sx, sy, sz float64
	for _, px := range fp {
		x, y := px%w, px/w
		v := sub.Get(x, y)
		s.Flux += v
		if v > s.Peak {
			s.Peak = v
		}
		if v > 0 {
			sx += v * float64(x)
			sy += v * float64(y)
			sz += v
		}
	}
	s.Npix = len(fp)
	if sz > 0 {
		s.X, s.Y = sx/sz, sy/sz
	} else {
		x, y := fp[0]%w, fp[0]/w
		s.X, s.Y = float64(x), float64(y)
	}
	if rms := bkg.GlobalRMS(); rms > 0 {
		s.SNR = s.Flux / (rms * math.Sqrt(float64(s.Npix)))
	}
	return s
}

// TrueSegMap flags the pixels of a noiseless image lying above
// threshold, as 0/1 values.
func TrueSegMap(img *grid.Grid, threshold float64) *grid.Grid {
	seg := grid.New(img.Dx(), img.Dy())
	for i, v := range img.Values() {
		if v > threshold {
			seg.Values()[i] = 1
		}
	}
	return seg
}
