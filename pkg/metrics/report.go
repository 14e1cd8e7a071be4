package metrics

import (
	"fmt"
	"strings"

	"github.com/skypies/util/histogram"

	"github.com/aromazyl/BlendingToolKit/pkg/detect"
)

// A Report accumulates blend summaries over a run for one backend.
type Report struct {
	Measurer  string
	MaxNumber int     // largest true blend size the sampler emits
	Radius    float64 // match radius, pixels
	Summaries []Summary
	SepHist   histogram.Histogram // matched separations, tenths of a pixel
}

func NewReport(measurer string, maxNumber int, radius float64) *Report {
	if radius <= 0 {
		radius = DefaultMatchRadius
	}
	return &Report{
		Measurer:  measurer,
		MaxNumber: maxNumber,
		Radius:    radius,
		SepHist:   histogram.Histogram{NumBuckets: 30, ValMin: 0, ValMax: int(radius * 10)},
	}
}

// AddBlend scores one blend and folds it into the report.
func (r *Report) AddBlend(truth, det []detect.Point) Summary {
	s, pairs := Summarize(truth, det, r.Radius)
	r.Summaries = append(r.Summaries, s)
	for _, p := range pairs {
		r.SepHist.Add(histogram.ScalarVal(int(p.Sep * 10)))
	}
	return s
}

// Totals sums the per-blend summaries.
func (r *Report) Totals() Summary {
	var t Summary
	for _, s := range r.Summaries {
		t.NumTrue += s.NumTrue
		t.NumDetected += s.NumDetected
		t.NumMatched += s.NumMatched
		t.NumSpurious += s.NumSpurious
		t.NumMissed += s.NumMissed
	}
	return t
}

// Efficiency computes the detection efficiency matrix over every blend
// scored so far.
func (r *Report) Efficiency() [][]float64 {
	return EfficiencyMatrix(r.Summaries, r.MaxNumber)
}

// Text renders the report for terminal output.
func (r *Report) Text() string {
	var b strings.Builder
	t := r.Totals()

	fmt.Fprintf(&b, "Detection report for '%s' over %d blends (match radius %.1fpx)\n",
		r.Measurer, len(r.Summaries), r.Radius)
	fmt.Fprintf(&b, "  true sources: %d\n", t.NumTrue)
	fmt.Fprintf(&b, "  detected:     %d\n", t.NumDetected)
	pct := 0.0
	if t.NumTrue > 0 {
		pct = 100 * float64(t.NumMatched) / float64(t.NumTrue)
	}
	fmt.Fprintf(&b, "  matched:      %d (%.1f%% of true)\n", t.NumMatched, pct)
	fmt.Fprintf(&b, "  spurious:     %d\n", t.NumSpurious)
	fmt.Fprintf(&b, "  missed:       %d\n", t.NumMissed)

	fmt.Fprintf(&b, "\nEfficiency matrix (%% of i-source blends giving j detections)\n")
	fmt.Fprintf(&b, "  j\\i")
	for i := 0; i <= r.MaxNumber; i++ {
		fmt.Fprintf(&b, "%7d", i)
	}
	b.WriteString("\n")
	for j, row := range r.Efficiency() {
		fmt.Fprintf(&b, "  %3d", j)
		for _, v := range row {
			fmt.Fprintf(&b, "%7.1f", v)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "\nMatched separations, tenths of a pixel: %v\n", r.SepHist)
	return b.String()
}
