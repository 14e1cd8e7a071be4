// Package sim wires the whole benchmark together: a yaml Config picks
// the catalog, survey, sampler and measurement backend, and a Pipeline
// pulls rendered batches through the chosen backend into a detection
// report.
package sim

import (
	"fmt"
	"io/ioutil"
	"log"

	"gopkg.in/yaml.v2"

	"github.com/aromazyl/BlendingToolKit/pkg/blend"
	"github.com/aromazyl/BlendingToolKit/pkg/catalog"
	"github.com/aromazyl/BlendingToolKit/pkg/measure"
	"github.com/aromazyl/BlendingToolKit/pkg/metrics"
	"github.com/aromazyl/BlendingToolKit/pkg/survey"
	"github.com/aromazyl/BlendingToolKit/pkg/viz"
)

/* Example config file ...

catalogfile: catsim_dump.txt
survey: LSST
bands: [r, i, z]
stampsize: 24
sampler: bright
measurer: matched
maxnumber: 3
batchsize: 16
batches: 8
seed: 7
outputdir: out
resultsdb: results.db

*/

type Config struct {
	// Inputs
	CatalogFile  string // galaxy catalog, whitespace or CSV columns
	GroupCatalog string // precomputed groups, used by the groups sampler

	// Observing setup
	Survey       string   // preset name, e.g. LSST or HSC
	Bands        []string // subset of the survey's bands; empty means all
	StampSize    float64  // stamp width, arcsec
	PSFModel     string   // gaussian or moffat
	MoffatBeta   float64
	SeeingJitter float64 // fractional per-batch seeing scatter; 0 disables

	// Blend sampling
	Sampler   string  // default, bright or groups
	Selection string  // default or none
	MaxNumber int     // most galaxies per blend
	MaxShift  float64 // center scatter, arcsec; 0 means StampSize/10
	MaxSize   float64 // selection: largest second-moment size kept, arcsec
	MaxIMag   float64 // selection: faintest i magnitude kept

	// Rendering
	AddNoise  bool
	BatchSize int
	Batches   int
	Workers   int // concurrent scene renders; 0 sizes the pool automatically
	Seed      uint64
	Verbosity int

	// Measurement and scoring
	Measurer       string  // peaks, extract, matched or factorize
	MatchedBand    string  // matched backend reference band; empty means middle
	PSFStamp       int     // matched-filter kernel size, pixels
	UseTrueCenters bool    // factorize: seed the fit from the truth table
	MaxIters       int     // factorize iteration cap
	RelTol         float64 // factorize convergence tolerance
	MatchRadius    float64 // truth/detection match radius, pixels

	// Outputs
	OutputDir  string // when set, dump the first batch + report images here
	Tonemapper string // HDR preview operator for the dump
	ResultsDB  string // when set, append the finished run to this sqlite db
}

func NewConfig() Config {
	return Config{
		Survey:      "LSST",
		StampSize:   24,
		PSFModel:    "gaussian",
		MoffatBeta:  3.5,
		Sampler:     "default",
		Selection:   "default",
		MaxNumber:   2,
		MaxSize:     4,
		MaxIMag:     27,
		AddNoise:    true,
		BatchSize:   8,
		Batches:     1,
		Seed:        42,
		Measurer:    "extract",
		MatchedBand: "i",
		PSFStamp:    41,
		MaxIters:    200,
		RelTol:      0.015,
		MatchRadius: metrics.DefaultMatchRadius,
		Tonemapper:  "drago03",
	}
}

func LoadConfig(filename string) (Config, error) {
	c := NewConfig()

	if contents, err := ioutil.ReadFile(filename); err != nil {
		return c, fmt.Errorf("read '%s': %v", filename, err)
	} else if err := yaml.Unmarshal(contents, &c); err != nil {
		return c, fmt.Errorf("parse '%s': %v", filename, err)
	}

	return c, c.Finalize()
}

func (c Config) AsYaml() string {
	b, err := yaml.Marshal(c)
	if err != nil {
		log.Fatalf("Can't marshal config yaml: %v\n", err)
	}
	return string(b)
}

// Finalize does sanity checks and fills gaps, so the strategy lookups
// below can never miss.
func (c *Config) Finalize() error {
	if c.Survey == "" {
		c.Survey = "LSST"
	}
	if c.PSFModel == "" {
		c.PSFModel = "gaussian"
	}
	if c.Sampler == "" {
		c.Sampler = "default"
	}
	if c.Selection == "" {
		c.Selection = "default"
	}
	if c.Measurer == "" {
		c.Measurer = "extract"
	}
	if c.MatchRadius <= 0 {
		c.MatchRadius = metrics.DefaultMatchRadius
	}

	if c.StampSize <= 0 {
		return fmt.Errorf("stampsize must be positive arcsec, got %v", c.StampSize)
	}
	if c.MaxNumber < 1 {
		return fmt.Errorf("maxnumber must be at least 1, got %d", c.MaxNumber)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batchsize must be at least 1, got %d", c.BatchSize)
	}
	if c.Batches < 1 {
		return fmt.Errorf("batches must be at least 1, got %d", c.Batches)
	}

	surv, err := survey.ByName(c.Survey)
	if err != nil {
		return err
	}
	for _, band := range c.Bands {
		if _, err := surv.Filter(band); err != nil {
			return err
		}
	}
	if _, err := survey.NewPSF(c.PSFModel, 1, c.MoffatBeta); err != nil {
		return err
	}

	switch c.Sampler {
	case "default", "bright":
	case "groups":
		if c.GroupCatalog == "" {
			return fmt.Errorf("the groups sampler needs a groupcatalog")
		}
	default:
		return fmt.Errorf("no sampler named '%s'", c.Sampler)
	}

	switch c.Selection {
	case "default":
		if c.MaxSize <= 0 || c.MaxIMag <= 0 {
			return fmt.Errorf("selection cuts need positive maxsize and maximag")
		}
	case "none":
	default:
		return fmt.Errorf("no selection named '%s'", c.Selection)
	}

	if _, err := measure.ByName(c.Measurer); err != nil {
		return err
	}
	if c.Measurer == "matched" && c.MatchedBand != "" {
		bands := c.Bands
		if len(bands) == 0 {
			bands = surv.Bands()
		}
		found := false
		for _, b := range bands {
			if b == c.MatchedBand {
				found = true
			}
		}
		if !found {
			return fmt.Errorf("matchedband '%s' is not among the run's bands %v", c.MatchedBand, bands)
		}
	}

	if c.Tonemapper != "" {
		known := false
		for _, name := range viz.Tonemappers {
			if name == c.Tonemapper {
				known = true
			}
		}
		if !known {
			return fmt.Errorf("no tonemapper named '%s' (have %v)", c.Tonemapper, viz.Tonemappers)
		}
	}

	return nil
}

// GetSurvey returns the configured survey, with Filters cut down to
// the configured band subset.
func (c Config) GetSurvey() (survey.Survey, error) {
	surv, err := survey.ByName(c.Survey)
	if err != nil {
		return surv, err
	}
	if len(c.Bands) == 0 {
		return surv, nil
	}
	kept := make([]survey.Filter, 0, len(c.Bands))
	for _, band := range c.Bands {
		f, err := surv.Filter(band)
		if err != nil {
			return surv, err
		}
		kept = append(kept, f)
	}
	surv.Filters = kept
	return surv, nil
}

func (c Config) GetSampler() blend.SampleFunc {
	switch c.Sampler {
	case "default":
		return blend.SampleDefault
	case "bright":
		return blend.SampleBright
	case "groups":
		return blend.SampleGroups
	default:
		log.Fatalf("no sampler named '%s'", c.Sampler)
		return nil
	}
}

// GetSelection returns the pre-sampling catalog cut, or nil when the
// config asks for none.
func (c Config) GetSelection() catalog.SelectFunc {
	switch c.Selection {
	case "default":
		return catalog.SelectSizeMag(c.MaxSize, c.MaxIMag)
	case "none":
		return nil
	default:
		log.Fatalf("no selection named '%s'", c.Selection)
		return nil
	}
}

func (c Config) GetObsFunc() survey.ObsFunc {
	if c.SeeingJitter > 0 {
		return survey.JitterSeeing(c.SeeingJitter)
	}
	return survey.FixedConditions
}

// GetMeasurer builds the configured backend and applies the backend
// knobs the config carries.
func (c Config) GetMeasurer() measure.Measurer {
	m, err := measure.ByName(c.Measurer)
	if err != nil {
		log.Fatalf("no measurer named '%s'", c.Measurer)
	}
	switch b := m.(type) {
	case *measure.MatchedMeasurer:
		b.Band = c.MatchedBand
		if c.PSFStamp > 0 {
			b.PSFStamp = c.PSFStamp
		}
	case *measure.Factorizer:
		b.UseTrueCenters = c.UseTrueCenters
		if c.MaxIters > 0 {
			b.Params.MaxIters = c.MaxIters
		}
		if c.RelTol > 0 {
			b.Params.RelTol = c.RelTol
		}
	}
	return m
}
