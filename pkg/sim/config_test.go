package sim

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aromazyl/BlendingToolKit/pkg/measure"
)

func TestNewConfigFinalizes(t *testing.T) {
	c := NewConfig()
	if err := c.Finalize(); err != nil {
		t.Fatalf("stock config should finalize cleanly: %v", err)
	}
	if c.Survey != "LSST" || c.Measurer != "extract" || c.MaxNumber != 2 {
		t.Errorf("stock config changed under Finalize: %+v", c)
	}
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	doc := `
survey: HSC
stampsize: 16
sampler: bright
seed: 9
addnoise: false
verbosity: 1
bands: [r, i]
`
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}

	c, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.Survey != "HSC" || c.StampSize != 16 || c.Sampler != "bright" || c.Seed != 9 {
		t.Errorf("yaml values not picked up: %+v", c)
	}
	if c.AddNoise {
		t.Error("explicit addnoise: false should override the default")
	}
	if len(c.Bands) != 2 || c.Bands[0] != "r" || c.Bands[1] != "i" {
		t.Errorf("bands = %v, want [r i]", c.Bands)
	}
	// Untouched fields keep their defaults.
	if c.BatchSize != 8 || c.Measurer != "extract" || c.MatchRadius != 3.0 {
		t.Errorf("defaults lost on load: %+v", c)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestFinalizeRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown survey", func(c *Config) { c.Survey = "SDSS" }},
		{"unknown band", func(c *Config) { c.Bands = []string{"q"} }},
		{"zero stamp", func(c *Config) { c.StampSize = 0 }},
		{"zero maxnumber", func(c *Config) { c.MaxNumber = 0 }},
		{"zero batchsize", func(c *Config) { c.BatchSize = 0 }},
		{"zero batches", func(c *Config) { c.Batches = 0 }},
		{"unknown psf", func(c *Config) { c.PSFModel = "airy" }},
		{"unknown sampler", func(c *Config) { c.Sampler = "cosmic" }},
		{"groups without catalog", func(c *Config) { c.Sampler = "groups" }},
		{"unknown selection", func(c *Config) { c.Selection = "strict" }},
		{"selection without cuts", func(c *Config) { c.MaxSize = 0 }},
		{"unknown measurer", func(c *Config) { c.Measurer = "scarlet" }},
		{"matched band outside subset", func(c *Config) {
			c.Measurer = "matched"
			c.MatchedBand = "z"
			c.Bands = []string{"r", "i"}
		}},
		{"unknown tonemapper", func(c *Config) { c.Tonemapper = "fattal02" }},
	}
	for _, tc := range cases {
		c := NewConfig()
		tc.mutate(&c)
		if err := c.Finalize(); err == nil {
			t.Errorf("%s: Finalize accepted %+v", tc.name, c)
		}
	}
}

func TestFinalizeFillsEmptyStrategies(t *testing.T) {
	c := NewConfig()
	c.Survey = ""
	c.Sampler = ""
	c.Selection = ""
	c.Measurer = ""
	c.PSFModel = ""
	c.MatchRadius = 0
	if err := c.Finalize(); err != nil {
		t.Fatal(err)
	}
	if c.Survey != "LSST" || c.Sampler != "default" || c.Selection != "default" ||
		c.Measurer != "extract" || c.PSFModel != "gaussian" || c.MatchRadius != 3.0 {
		t.Errorf("empty strategies not filled: %+v", c)
	}
}

func TestGetSurveyBandSubset(t *testing.T) {
	c := NewConfig()
	c.Bands = []string{"i", "r"}
	surv, err := c.GetSurvey()
	if err != nil {
		t.Fatal(err)
	}
	if len(surv.Filters) != 2 || surv.Filters[0].Name != "i" || surv.Filters[1].Name != "r" {
		t.Errorf("band subset not applied in order: %v", surv.Bands())
	}

	c.Bands = nil
	surv, err = c.GetSurvey()
	if err != nil {
		t.Fatal(err)
	}
	if len(surv.Filters) != 6 {
		t.Errorf("empty subset should keep all LSST bands, got %v", surv.Bands())
	}
}

func TestGetMeasurerAppliesKnobs(t *testing.T) {
	c := NewConfig()
	c.Measurer = "matched"
	c.MatchedBand = "r"
	c.PSFStamp = 21
	m, ok := c.GetMeasurer().(*measure.MatchedMeasurer)
	if !ok {
		t.Fatalf("wanted a MatchedMeasurer, got %T", c.GetMeasurer())
	}
	if m.Band != "r" || m.PSFStamp != 21 {
		t.Errorf("matched knobs not applied: %+v", m)
	}

	c = NewConfig()
	c.Measurer = "factorize"
	c.UseTrueCenters = true
	c.MaxIters = 50
	c.RelTol = 0.05
	f, ok := c.GetMeasurer().(*measure.Factorizer)
	if !ok {
		t.Fatalf("wanted a Factorizer, got %T", c.GetMeasurer())
	}
	if !f.UseTrueCenters || f.Params.MaxIters != 50 || f.Params.RelTol != 0.05 {
		t.Errorf("factorize knobs not applied: %+v", f)
	}

	c = NewConfig()
	c.Measurer = "peaks"
	if _, ok := c.GetMeasurer().(*measure.PeakFinder); !ok {
		t.Errorf("wanted a PeakFinder, got %T", c.GetMeasurer())
	}
}

func TestAsYaml(t *testing.T) {
	doc := NewConfig().AsYaml()
	for _, want := range []string{"survey: LSST", "measurer: extract", "batchsize: 8", "addnoise: true"} {
		if !strings.Contains(doc, want) {
			t.Errorf("AsYaml output missing %q:\n%s", want, doc)
		}
	}
}
