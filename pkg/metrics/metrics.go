// Package metrics scores detection output against blend truth: greedy
// center matching, per-blend summaries, and the detection efficiency
// matrix.
package metrics

import (
	"math"
	"sort"

	"github.com/aromazyl/BlendingToolKit/pkg/catalog"
	"github.com/aromazyl/BlendingToolKit/pkg/detect"
)

// DefaultMatchRadius is the largest true-to-detected separation that
// still counts as a match, in pixels.
const DefaultMatchRadius = 3.0

// A Summary scores one blend.
type Summary struct {
	NumTrue     int
	NumDetected int
	NumMatched  int
	NumSpurious int // detections matching no true source
	NumMissed   int // true sources matching no detection
}

// Row flattens the summary in the column order reports and the result
// store use.
func (s Summary) Row() [5]int {
	return [5]int{s.NumTrue, s.NumDetected, s.NumMatched, s.NumSpurious, s.NumMissed}
}

// A Pair links truth index True to detection index Det.
type Pair struct {
	True, Det int
	Sep       float64 // pixels
}

// Match pairs true centers with detections greedily: all candidate
// pairs within radius, taken closest first, each center and each
// detection used at most once.
func Match(truth, det []detect.Point, radius float64) []Pair {
	var cands []Pair
	for i, tp := range truth {
		for j, dp := range det {
			if sep := math.Hypot(tp.X-dp.X, tp.Y-dp.Y); sep <= radius {
				cands = append(cands, Pair{True: i, Det: j, Sep: sep})
			}
		}
	}
	// Stable sort so equal separations resolve in scan order, keeping
	// runs reproducible.
	sort.SliceStable(cands, func(a, b int) bool { return cands[a].Sep < cands[b].Sep })

	usedT := make([]bool, len(truth))
	usedD := make([]bool, len(det))
	pairs := make([]Pair, 0, len(truth))
	for _, c := range cands {
		if usedT[c.True] || usedD[c.Det] {
			continue
		}
		usedT[c.True], usedD[c.Det] = true, true
		pairs = append(pairs, c)
	}
	return pairs
}

// Summarize scores one blend's detections against its truth centers.
func Summarize(truth, det []detect.Point, radius float64) (Summary, []Pair) {
	pairs := Match(truth, det, radius)
	return Summary{
		NumTrue:     len(truth),
		NumDetected: len(det),
		NumMatched:  len(pairs),
		NumSpurious: len(det) - len(pairs),
		NumMissed:   len(truth) - len(pairs),
	}, pairs
}

// TrueCenters pulls the pixel centers the renderer filled into a
// blend's catalog rows.
func TrueCenters(cat catalog.Table) []detect.Point {
	pts := make([]detect.Point, len(cat))
	for i, g := range cat {
		pts[i] = detect.Point{X: g.DX, Y: g.DY}
	}
	return pts
}

// EfficiencyMatrix tallies summaries into the detection efficiency
// matrix: cell [j][i] is the percentage of blends with i true sources
// that produced exactly j detections, for i in 0..num and j in
// 0..num+1. Blends detecting more than num+1 sources are left out, and
// columns with no blends stay zero rather than dividing by zero.
func EfficiencyMatrix(summaries []Summary, num int) [][]float64 {
	m := make([][]float64, num+2)
	for j := range m {
		m[j] = make([]float64, num+1)
	}
	for _, s := range summaries {
		if s.NumTrue < 0 || s.NumTrue > num || s.NumDetected < 0 || s.NumDetected > num+1 {
			continue
		}
		m[s.NumDetected][s.NumTrue]++
	}
	for i := 0; i <= num; i++ {
		var col float64
		for j := 0; j <= num+1; j++ {
			col += m[j][i]
		}
		if col == 0 {
			continue
		}
		for j := 0; j <= num+1; j++ {
			m[j][i] *= 100 / col
		}
	}
	return m
}
