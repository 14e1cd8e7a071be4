package metrics

import (
	"math"
	"strings"
	"testing"

	"github.com/aromazyl/BlendingToolKit/pkg/catalog"
	"github.com/aromazyl/BlendingToolKit/pkg/detect"
)

func pt(x, y float64) detect.Point { return detect.Point{X: x, Y: y} }

func TestMatchTakesClosestFirst(t *testing.T) {
	truth := []detect.Point{pt(10, 10)}
	det := []detect.Point{pt(11.5, 10), pt(10.2, 10)}

	pairs := Match(truth, det, 3)
	if len(pairs) != 1 {
		t.Fatalf("matched %d pairs, want 1", len(pairs))
	}
	if pairs[0].Det != 1 {
		t.Errorf("matched detection %d, want the closer one (1)", pairs[0].Det)
	}
	if math.Abs(pairs[0].Sep-0.2) > 1e-12 {
		t.Errorf("pair separation %v, want 0.2", pairs[0].Sep)
	}
}

func TestMatchUsesEachSideOnce(t *testing.T) {
	// Two true sources, one detection between them: only one match.
	truth := []detect.Point{pt(10, 10), pt(12, 10)}
	det := []detect.Point{pt(11, 10)}

	pairs := Match(truth, det, 3)
	if len(pairs) != 1 {
		t.Fatalf("matched %d pairs, want 1", len(pairs))
	}
	if pairs[0].True != 0 {
		t.Errorf("matched true index %d; scan order should favor 0 on ties", pairs[0].True)
	}
}

func TestMatchRespectsRadius(t *testing.T) {
	pairs := Match([]detect.Point{pt(10, 10)}, []detect.Point{pt(14, 10)}, 3)
	if len(pairs) != 0 {
		t.Fatalf("matched across 4px with radius 3: %v", pairs)
	}
}

func TestSummarize(t *testing.T) {
	truth := []detect.Point{pt(10, 10), pt(20, 10), pt(30, 10)}
	det := []detect.Point{pt(10.5, 10), pt(20.2, 9.8), pt(50, 50)}

	s, pairs := Summarize(truth, det, 3)
	want := Summary{NumTrue: 3, NumDetected: 3, NumMatched: 2, NumSpurious: 1, NumMissed: 1}
	if s != want {
		t.Fatalf("summary %+v, want %+v", s, want)
	}
	if len(pairs) != 2 {
		t.Fatalf("got %d pairs, want 2", len(pairs))
	}
	if got := s.Row(); got != [5]int{3, 3, 2, 1, 1} {
		t.Fatalf("row %v", got)
	}
}

func TestTrueCenters(t *testing.T) {
	cat := catalog.Table{{DX: 12.5, DY: 30}, {DX: 40, DY: 41.5}}
	pts := TrueCenters(cat)
	if len(pts) != 2 || pts[0] != pt(12.5, 30) || pts[1] != pt(40, 41.5) {
		t.Fatalf("TrueCenters = %v", pts)
	}
}

func TestEfficiencyMatrix(t *testing.T) {
	summaries := []Summary{
		{NumTrue: 1, NumDetected: 1},
		{NumTrue: 1, NumDetected: 1},
		{NumTrue: 1, NumDetected: 3}, // lands in the overflow row
		{NumTrue: 2, NumDetected: 2},
		{NumTrue: 2, NumDetected: 1},
		{NumTrue: 2, NumDetected: 4}, // beyond num+1: dropped
	}
	m := EfficiencyMatrix(summaries, 2)

	if len(m) != 4 || len(m[0]) != 3 {
		t.Fatalf("matrix is %dx%d, want 4x3", len(m), len(m[0]))
	}
	near := func(got, want float64) bool { return math.Abs(got-want) < 1e-9 }

	// Column 0 saw no blends and stays zero.
	for j := range m {
		if m[j][0] != 0 {
			t.Errorf("empty column perturbed: m[%d][0] = %v", j, m[j][0])
		}
	}
	// Column 1: two of three blends gave 1 detection, one gave 3.
	if !near(m[1][1], 200.0/3) || !near(m[3][1], 100.0/3) {
		t.Errorf("column 1 = [%v %v %v %v]", m[0][1], m[1][1], m[2][1], m[3][1])
	}
	// Column 2: the 4-detection blend is dropped, leaving a 50/50 split.
	if !near(m[1][2], 50) || !near(m[2][2], 50) {
		t.Errorf("column 2 = [%v %v %v %v]", m[0][2], m[1][2], m[2][2], m[3][2])
	}
	// Each populated column sums to 100.
	for i := 1; i <= 2; i++ {
		var col float64
		for j := range m {
			col += m[j][i]
		}
		if !near(col, 100) {
			t.Errorf("column %d sums to %v, want 100", i, col)
		}
	}
}

func TestReport(t *testing.T) {
	r := NewReport("peaks", 2, 0)
	if r.Radius != DefaultMatchRadius {
		t.Fatalf("radius defaulted to %v, want %v", r.Radius, DefaultMatchRadius)
	}

	r.AddBlend([]detect.Point{pt(10, 10), pt(20, 10)}, []detect.Point{pt(10.4, 10)})
	r.AddBlend([]detect.Point{pt(10, 10)}, []detect.Point{pt(10.1, 10), pt(40, 40)})

	tot := r.Totals()
	want := Summary{NumTrue: 3, NumDetected: 3, NumMatched: 2, NumSpurious: 1, NumMissed: 1}
	if tot != want {
		t.Fatalf("totals %+v, want %+v", tot, want)
	}

	m := r.Efficiency()
	if len(m) != 4 || len(m[0]) != 3 {
		t.Fatalf("efficiency matrix is %dx%d, want 4x3", len(m), len(m[0]))
	}
	// One 2-source blend gave 1 detection; one 1-source blend gave 2.
	if m[1][2] != 100 || m[2][1] != 100 {
		t.Errorf("matrix cells: m[1][2]=%v m[2][1]=%v, want 100", m[1][2], m[2][1])
	}

	text := r.Text()
	for _, want := range []string{"'peaks'", "2 blends", "true sources: 3", "Efficiency matrix"} {
		if !strings.Contains(text, want) {
			t.Errorf("report text missing %q:\n%s", want, text)
		}
	}
}
