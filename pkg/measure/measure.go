// Package measure runs detection and deblending backends over rendered
// scenes behind one contract, so the pipeline and the metrics report
// never care which algorithm produced the answers.
package measure

import (
	"fmt"
	"math"

	"github.com/aromazyl/BlendingToolKit/pkg/deblend"
	"github.com/aromazyl/BlendingToolKit/pkg/detect"
	"github.com/aromazyl/BlendingToolKit/pkg/grid"
	"github.com/aromazyl/BlendingToolKit/pkg/render"
)

// Deblended holds one backend's per-source reconstruction of a scene:
// the fitted centers and a model image per source per band.
type Deblended struct {
	Peaks  []detect.Point
	Models [][]*grid.Grid // [source][band]
}

// A Measurer runs one backend over a scene. Backends support different
// subsets of the contract: an op a backend cannot provide returns
// (nil, nil), never an error. GetCenters is the one op every backend
// must implement. Measurers never modify the scene they are given.
type Measurer interface {
	Name() string
	GetCenters(s *render.Scene) ([]detect.Point, error)
	GetDeblendedImages(s *render.Scene) (*Deblended, error)
	MakeMeasurement(s *render.Scene) (detect.MeasurementTable, error)
}

// ByName builds the named backend with its default parameters.
func ByName(name string) (Measurer, error) {
	switch name {
	case "peaks":
		return NewPeakFinder(), nil
	case "extract":
		return NewExtractor(), nil
	case "matched":
		return NewMatchedMeasurer(), nil
	case "factorize":
		return NewFactorizer(), nil
	}
	return nil, fmt.Errorf("unknown measurer '%s' (have peaks, extract, matched, factorize)", name)
}

// bandMean collapses a scene's bands into one detection image.
func bandMean(s *render.Scene) (*grid.Grid, error) {
	if s == nil || len(s.Blend) == 0 {
		return nil, fmt.Errorf("scene has no blend images")
	}
	return grid.MeanOf(s.Blend)
}

func trueCenters(s *render.Scene) []detect.Point {
	pts := make([]detect.Point, len(s.Cat))
	for i, g := range s.Cat {
		pts[i] = detect.Point{X: g.DX, Y: g.DY}
	}
	return pts
}

// A PeakFinder detects local maxima on the band-mean image. It only
// produces centers.
type PeakFinder struct {
	Params detect.PeakParams
}

func NewPeakFinder() *PeakFinder {
	return &PeakFinder{Params: detect.DefaultPeakParams()}
}

func (f *PeakFinder) Name() string { return "peaks" }

func (f *PeakFinder) GetCenters(s *render.Scene) ([]detect.Point, error) {
	img, err := bandMean(s)
	if err != nil {
		return nil, err
	}
	return detect.FindPeaks(img, f.Params)
}

func (f *PeakFinder) GetDeblendedImages(*render.Scene) (*Deblended, error) {
	return nil, nil
}

func (f *PeakFinder) MakeMeasurement(*render.Scene) (detect.MeasurementTable, error) {
	return nil, nil
}

// An Extractor segments the band-mean image into source footprints and
// reports their flux centroids.
type Extractor struct {
	Params detect.ExtractParams
}

func NewExtractor() *Extractor {
	return &Extractor{Params: detect.DefaultExtractParams()}
}

func (e *Extractor) Name() string { return "extract" }

func (e *Extractor) GetCenters(s *render.Scene) ([]detect.Point, error) {
	img, err := bandMean(s)
	if err != nil {
		return nil, err
	}
	srcs, _, err := detect.Extract(img, e.Params)
	if err != nil {
		return nil, err
	}
	pts := make([]detect.Point, len(srcs))
	for i, src := range srcs {
		pts[i] = src.Point()
	}
	return pts, nil
}

func (e *Extractor) GetDeblendedImages(*render.Scene) (*Deblended, error) {
	return nil, nil
}

func (e *Extractor) MakeMeasurement(*render.Scene) (detect.MeasurementTable, error) {
	return nil, nil
}

// A MatchedMeasurer runs the PSF matched filter on one reference band
// and reports a full measurement table.
type MatchedMeasurer struct {
	Band     string // reference band; empty falls back to the middle band
	PSFStamp int    // matched-filter kernel size, pixels
	Params   detect.MatchedParams
}

const defaultPSFStamp = 41

func NewMatchedMeasurer() *MatchedMeasurer {
	return &MatchedMeasurer{
		Band:     "i",
		PSFStamp: defaultPSFStamp,
		Params:   detect.DefaultMatchedParams(),
	}
}

func (m *MatchedMeasurer) Name() string { return "matched" }

func (m *MatchedMeasurer) GetCenters(s *render.Scene) ([]detect.Point, error) {
	table, err := m.MakeMeasurement(s)
	if err != nil {
		return nil, err
	}
	return table.Centers(), nil
}

func (m *MatchedMeasurer) GetDeblendedImages(*render.Scene) (*Deblended, error) {
	return nil, nil
}

func (m *MatchedMeasurer) MakeMeasurement(s *render.Scene) (detect.MeasurementTable, error) {
	b, err := m.bandIndex(s)
	if err != nil {
		return nil, err
	}
	img, o := s.Blend[b], s.Obs[b]

	// Poisson variance estimate: signal plus sky, floored at the sky
	// level so noise dips never produce a negative variance.
	sky := o.MeanSkyLevel()
	variance := img.NewFromThis()
	vv, iv := variance.Values(), img.Values()
	for i := range vv {
		vv[i] = sky
		if iv[i] > 0 {
			vv[i] += iv[i]
		}
	}

	n := m.PSFStamp
	if n <= 0 {
		n = defaultPSFStamp
	}
	if n > o.StampPix {
		n = o.StampPix
	}
	if n%2 == 0 {
		n--
	}
	psf, err := o.PSF.Kernel(o.PixelScale, n)
	if err != nil {
		return nil, err
	}
	return detect.MatchedFilter(img, variance, psf, m.Params)
}

func (m *MatchedMeasurer) bandIndex(s *render.Scene) (int, error) {
	if len(s.Obs) == 0 {
		return 0, fmt.Errorf("scene has no observations")
	}
	if m.Band == "" {
		return len(s.Obs) / 2, nil
	}
	for i, o := range s.Obs {
		if o.Band.Name == m.Band {
			return i, nil
		}
	}
	return 0, fmt.Errorf("scene has no band '%s'", m.Band)
}

// A Factorizer deblends scenes into per-source SED x morphology models
// across all bands. Fits are seeded from footprint extraction on the
// band-mean image, or from the catalog truth when UseTrueCenters is
// set, which isolates deblending quality from detection quality.
type Factorizer struct {
	Params         deblend.Params
	Extract        detect.ExtractParams
	UseTrueCenters bool
}

func NewFactorizer() *Factorizer {
	return &Factorizer{
		Params:  deblend.DefaultParams(),
		Extract: detect.DefaultExtractParams(),
	}
}

func (f *Factorizer) Name() string { return "factorize" }

func (f *Factorizer) GetCenters(s *render.Scene) ([]detect.Point, error) {
	if f.UseTrueCenters {
		return trueCenters(s), nil
	}
	img, err := bandMean(s)
	if err != nil {
		return nil, err
	}
	srcs, _, err := detect.Extract(img, f.Extract)
	if err != nil {
		return nil, err
	}
	pts := make([]detect.Point, len(srcs))
	for i, src := range srcs {
		pts[i] = src.Point()
	}
	return pts, nil
}

func (f *Factorizer) GetDeblendedImages(s *render.Scene) (*Deblended, error) {
	centers, err := f.GetCenters(s)
	if err != nil {
		return nil, err
	}
	if len(centers) == 0 {
		// Nothing detected is a valid outcome, not a fit failure.
		return &Deblended{}, nil
	}

	bgRMS := make([]float64, len(s.Obs))
	for b, o := range s.Obs {
		bgRMS[b] = math.Sqrt(o.MeanSkyLevel())
	}
	res, err := deblend.Fit(s.Blend, centers, bgRMS, f.Params)
	if err != nil {
		return nil, err
	}

	deb := &Deblended{
		Peaks:  make([]detect.Point, len(res.Sources)),
		Models: make([][]*grid.Grid, len(res.Sources)),
	}
	for k, src := range res.Sources {
		deb.Peaks[k] = detect.Point{X: src.X, Y: src.Y}
		deb.Models[k] = make([]*grid.Grid, len(s.Blend))
		for b := range s.Blend {
			deb.Models[k][b] = src.Model(b)
		}
	}
	return deb, nil
}

func (f *Factorizer) MakeMeasurement(*render.Scene) (detect.MeasurementTable, error) {
	return nil, nil
}
