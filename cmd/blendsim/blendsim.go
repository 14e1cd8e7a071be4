// Blendsim renders batches of blended galaxy scenes, runs a detection
// backend over them and prints the detection report. A yaml config
// drives the run; flags override it. The galaxy catalog can also be
// given as the positional argument.
package main

import (
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/aromazyl/BlendingToolKit/pkg/sim"
	"github.com/aromazyl/BlendingToolKit/pkg/survey"
	"github.com/aromazyl/BlendingToolKit/pkg/viz"
)

var (
	fConfig     string
	fCatalog    string
	fSurvey     string
	fSampler    string
	fMeasurer   string
	fBatches    int
	fBatchSize  int
	fMaxNumber  int
	fSeed       uint64
	fOutputDir  string
	fResultsDB  string
	fTonemapper string
	fNoNoise    bool
	fVerbosity  int
)

func init() {
	flag.StringVar(&fConfig, "c", "", "yaml run configuration; flags override it")
	flag.StringVar(&fCatalog, "catalog", "", "galaxy catalog file")
	flag.StringVar(&fSurvey, "survey", "", "survey preset, one of "+strings.Join(survey.Names(), ", "))
	flag.StringVar(&fSampler, "sampler", "", "blend sampler: default, bright or groups")
	flag.StringVar(&fMeasurer, "measurer", "", "backend: peaks, extract, matched or factorize")
	flag.IntVar(&fBatches, "batches", 0, "batches to run")
	flag.IntVar(&fBatchSize, "batchsize", 0, "blends per batch")
	flag.IntVar(&fMaxNumber, "maxnumber", 0, "most galaxies per blend")
	flag.Uint64Var(&fSeed, "seed", 0, "run seed; 0 keeps the config value")
	flag.StringVar(&fOutputDir, "o", "", "directory for first-batch image dumps")
	flag.StringVar(&fResultsDB, "db", "", "sqlite results database to append the run to")
	flag.StringVar(&fTonemapper, "tonemapper", "", "HDR preview operator: "+viz.ListTonemappers())
	flag.BoolVar(&fNoNoise, "nonoise", false, "render noiseless blends")
	flag.IntVar(&fVerbosity, "v", 0, "how verbose to get")
	flag.Parse()

	log.Printf("blendsim starting\n")
}

func main() {
	cfg := sim.NewConfig()
	if fConfig != "" {
		var err error
		if cfg, err = sim.LoadConfig(fConfig); err != nil {
			log.Fatal(err)
		}
	}

	// Override the config file with command line args, if relevant
	if flag.NArg() > 0 {
		cfg.CatalogFile = flag.Arg(0)
	}
	if fCatalog != "" {
		cfg.CatalogFile = fCatalog
	}
	if fSurvey != "" {
		cfg.Survey = fSurvey
	}
	if fSampler != "" {
		cfg.Sampler = fSampler
	}
	if fMeasurer != "" {
		cfg.Measurer = fMeasurer
	}
	if fBatches > 0 {
		cfg.Batches = fBatches
	}
	if fBatchSize > 0 {
		cfg.BatchSize = fBatchSize
	}
	if fMaxNumber > 0 {
		cfg.MaxNumber = fMaxNumber
	}
	if fSeed != 0 {
		cfg.Seed = fSeed
	}
	if fOutputDir != "" {
		cfg.OutputDir = fOutputDir
	}
	if fResultsDB != "" {
		cfg.ResultsDB = fResultsDB
	}
	if fTonemapper != "" {
		cfg.Tonemapper = fTonemapper
	}
	if fNoNoise {
		cfg.AddNoise = false
	}
	if fVerbosity > 0 {
		cfg.Verbosity = fVerbosity
	}

	if cfg.Verbosity > 0 {
		log.Printf("Final configuration:-\n\n%s\n", cfg.AsYaml())
	}

	p, err := sim.NewPipeline(cfg)
	if err != nil {
		log.Fatal(err)
	}
	rep, err := p.Run()
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(rep.Text())
	log.Printf("done: %d blends scored\n", len(rep.Summaries))
}
