// Package survey holds observing-condition presets and turns them into
// per-band Observations that the renderer consumes.
package survey

import (
	"fmt"
	"sort"
)

// A Filter bundles the per-band observing parameters of a survey.
type Filter struct {
	Name          string
	Seeing        float64 // delivered PSF FWHM, arcsec
	ZeroPoint     float64 // detector e-/s from an AB mag 24 source
	SkyBrightness float64 // sky level, AB mag per square arcsec
	ExpTime       float64 // total exposure, seconds
}

type Survey struct {
	Name       string
	PixelScale float64 // arcsec per pixel
	Filters    []Filter
}

func (s Survey) String() string {
	return fmt.Sprintf("%s (%d bands, %.3g\"/px)", s.Name, len(s.Filters), s.PixelScale)
}

func (s Survey) Bands() []string {
	bands := make([]string, len(s.Filters))
	for i, f := range s.Filters {
		bands[i] = f.Name
	}
	return bands
}

func (s Survey) Filter(band string) (Filter, error) {
	for _, f := range s.Filters {
		if f.Name == band {
			return f, nil
		}
	}
	return Filter{}, fmt.Errorf("survey %s has no band '%s'", s.Name, band)
}

// Full-depth observing parameters. Zeropoints and sky levels are
// approximate but in the right neighborhood for each instrument.
var presets = map[string]Survey{
	"LSST": {
		Name:       "LSST",
		PixelScale: 0.2,
		Filters: []Filter{
			{Name: "u", Seeing: 0.90, ZeroPoint: 9.71, SkyBrightness: 22.99, ExpTime: 1680},
			{Name: "g", Seeing: 0.86, ZeroPoint: 38.43, SkyBrightness: 22.26, ExpTime: 2400},
			{Name: "r", Seeing: 0.81, ZeroPoint: 43.70, SkyBrightness: 21.20, ExpTime: 5520},
			{Name: "i", Seeing: 0.79, ZeroPoint: 32.36, SkyBrightness: 20.48, ExpTime: 5520},
			{Name: "z", Seeing: 0.77, ZeroPoint: 22.42, SkyBrightness: 19.60, ExpTime: 4800},
			{Name: "y", Seeing: 0.76, ZeroPoint: 10.58, SkyBrightness: 18.61, ExpTime: 4800},
		},
	},
	"HSC": {
		Name:       "HSC",
		PixelScale: 0.17,
		Filters: []Filter{
			{Name: "g", Seeing: 0.72, ZeroPoint: 91.11, SkyBrightness: 21.40, ExpTime: 600},
			{Name: "r", Seeing: 0.67, ZeroPoint: 87.74, SkyBrightness: 20.60, ExpTime: 600},
			{Name: "i", Seeing: 0.56, ZeroPoint: 69.80, SkyBrightness: 19.70, ExpTime: 1200},
			{Name: "z", Seeing: 0.63, ZeroPoint: 29.56, SkyBrightness: 18.30, ExpTime: 1200},
			{Name: "y", Seeing: 0.64, ZeroPoint: 21.53, SkyBrightness: 17.90, ExpTime: 1200},
		},
	},
	"DES": {
		Name:       "DES",
		PixelScale: 0.263,
		Filters: []Filter{
			{Name: "g", Seeing: 1.12, ZeroPoint: 3.44, SkyBrightness: 22.01, ExpTime: 800},
			{Name: "r", Seeing: 0.96, ZeroPoint: 4.84, SkyBrightness: 21.15, ExpTime: 800},
			{Name: "i", Seeing: 0.88, ZeroPoint: 4.34, SkyBrightness: 20.12, ExpTime: 1000},
			{Name: "z", Seeing: 0.84, ZeroPoint: 2.44, SkyBrightness: 18.74, ExpTime: 1000},
		},
	},
	"CFHT": {
		Name:       "CFHT",
		PixelScale: 0.185,
		Filters: []Filter{
			{Name: "r", Seeing: 0.71, ZeroPoint: 13.50, SkyBrightness: 20.80, ExpTime: 2000},
			{Name: "i", Seeing: 0.64, ZeroPoint: 10.64, SkyBrightness: 20.30, ExpTime: 4300},
		},
	},
}

// ByName looks up a survey preset; names are case-sensitive.
func ByName(name string) (Survey, error) {
	s, ok := presets[name]
	if !ok {
		return Survey{}, fmt.Errorf("unknown survey '%s' (have %v)", name, Names())
	}
	return s, nil
}

func Names() []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
