package sim

import (
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"

	"github.com/aromazyl/BlendingToolKit/pkg/blend"
	"github.com/aromazyl/BlendingToolKit/pkg/catalog"
	"github.com/aromazyl/BlendingToolKit/pkg/detect"
	"github.com/aromazyl/BlendingToolKit/pkg/fitsio"
	"github.com/aromazyl/BlendingToolKit/pkg/grid"
	"github.com/aromazyl/BlendingToolKit/pkg/measure"
	"github.com/aromazyl/BlendingToolKit/pkg/metrics"
	"github.com/aromazyl/BlendingToolKit/pkg/render"
	"github.com/aromazyl/BlendingToolKit/pkg/resultdb"
	"github.com/aromazyl/BlendingToolKit/pkg/survey"
	"github.com/aromazyl/BlendingToolKit/pkg/viz"
)

// A Pipeline is the assembled generator chain for one run. The stages
// stay exposed so callers can pull partial products (e.g. rendered
// batches without measurement).
type Pipeline struct {
	Config   Config
	Catalog  catalog.Table
	Blends   *blend.Generator
	Obs      *survey.Generator
	Scenes   *render.Generator
	Measured *measure.Generator
}

// NewPipeline finalizes the config, loads and cuts the catalog, and
// chains the generators with seeds derived from the run seed.
func NewPipeline(c Config) (*Pipeline, error) {
	if err := c.Finalize(); err != nil {
		return nil, err
	}
	if c.CatalogFile == "" {
		return nil, fmt.Errorf("no catalogfile configured")
	}

	cat, err := catalog.Load(c.CatalogFile)
	if err != nil {
		return nil, err
	}
	if sel := c.GetSelection(); sel != nil {
		before := len(cat)
		cat = sel(cat)
		if c.Verbosity >= 1 {
			log.Printf("selection kept %d of %d catalog rows\n", len(cat), before)
		}
	}
	if len(cat) == 0 {
		return nil, fmt.Errorf("catalog '%s': no rows left after selection", c.CatalogFile)
	}

	surv, err := c.GetSurvey()
	if err != nil {
		return nil, err
	}

	bp := blend.Params{
		MaxNumber:  c.MaxNumber,
		StampSize:  c.StampSize,
		MaxShift:   c.MaxShift,
		PixelScale: surv.PixelScale,
	}
	if c.Sampler == "groups" {
		groups, err := catalog.Load(c.GroupCatalog)
		if err != nil {
			return nil, err
		}
		bp.Groups = groups
	}

	blends, err := blend.NewGenerator(cat, bp, c.GetSampler(), c.BatchSize, c.Seed)
	if err != nil {
		return nil, err
	}
	obs, err := survey.NewGenerator(surv, c.StampSize, c.PSFModel, c.MoffatBeta, c.GetObsFunc(), c.Seed+1)
	if err != nil {
		return nil, err
	}
	scenes := render.NewGenerator(blends, obs,
		render.Params{AddNoise: c.AddNoise, Workers: c.Workers, Verbosity: c.Verbosity}, c.Seed+2)
	measured := measure.NewGenerator(scenes, c.GetMeasurer(), c.Verbosity)

	return &Pipeline{
		Config:   c,
		Catalog:  cat,
		Blends:   blends,
		Obs:      obs,
		Scenes:   scenes,
		Measured: measured,
	}, nil
}

// Run pulls every configured batch through the measurement backend and
// scores the detections against the truth tables. When an output dir
// is configured the first batch gets dumped for eyeballing, and when a
// results db is configured the finished report is appended to it.
func (p *Pipeline) Run() (*metrics.Report, error) {
	c := p.Config
	report := metrics.NewReport(p.Measured.MeasurerName(), p.Measured.MaxNumber(), c.MatchRadius)

	for b := 0; b < c.Batches; b++ {
		res, err := p.Measured.Next()
		if err != nil {
			return nil, err
		}
		for i, s := range res.Batch.Scenes {
			report.AddBlend(metrics.TrueCenters(s.Cat), res.Detected[i])
		}
		if c.OutputDir != "" && res.Batch.Index == 0 {
			if err := p.exportBatch(res); err != nil {
				return nil, err
			}
		}
	}

	if c.Verbosity >= 1 {
		log.Printf("%s\n", p.Scenes.TimingSummary())
	}

	if c.OutputDir != "" {
		if err := p.exportHeatmap(report); err != nil {
			return nil, err
		}
	}

	if c.ResultsDB != "" {
		db, err := resultdb.Open(c.ResultsDB)
		if err != nil {
			return nil, err
		}
		defer db.Close()
		id, err := db.SaveReport(report, c.AsYaml())
		if err != nil {
			return nil, err
		}
		if c.Verbosity >= 1 {
			log.Printf("saved run %s to '%s'\n", id, c.ResultsDB)
		}
	}

	return report, nil
}

// exportBatch dumps one batch: the PSF and per-band blend stamps as
// FITS, an annotated false-color PNG per scene, and HDR, 16-bit TIFF,
// tonemapped and true-segmentation previews of the first scene.
func (p *Pipeline) exportBatch(res *measure.Result) error {
	c := p.Config
	if err := os.MkdirAll(c.OutputDir, 0755); err != nil {
		return fmt.Errorf("create output dir '%s': %v", c.OutputDir, err)
	}

	for _, o := range res.Batch.Obs {
		psf, err := o.PSFKernel()
		if err != nil {
			return err
		}
		name := filepath.Join(c.OutputDir, fmt.Sprintf("psf_%s.fits", o.Band.Name))
		if err := fitsio.Write(name, psf); err != nil {
			return err
		}
	}

	for i, s := range res.Batch.Scenes {
		for b, img := range s.Blend {
			name := filepath.Join(c.OutputDir, fmt.Sprintf("blend_s%02d_%s.fits", i, s.Obs[b].Band.Name))
			if err := fitsio.Write(name, img); err != nil {
				return err
			}
		}

		comp, err := viz.Composite(s.Blend, viz.DefaultSoftening)
		if err != nil {
			return err
		}
		annotated := viz.Annotate(comp, metrics.TrueCenters(s.Cat), res.Detected[i])
		name := filepath.Join(c.OutputDir, fmt.Sprintf("blend_s%02d.png", i))
		if err := viz.WritePNG(annotated, name); err != nil {
			return err
		}
	}

	// The first scene gets the heavier previews.
	s := res.Batch.Scenes[0]
	if err := viz.WriteHDR(s.Blend, filepath.Join(c.OutputDir, "blend_s00.hdr")); err != nil {
		return err
	}
	mean, err := grid.MeanOf(s.Blend)
	if err != nil {
		return err
	}
	if err := viz.WriteTIFF16(mean, filepath.Join(c.OutputDir, "blend_s00_mean.tif")); err != nil {
		return err
	}
	if c.Tonemapper != "" {
		img, err := viz.Tonemap(s.Blend, c.Tonemapper)
		if err != nil {
			return err
		}
		name := filepath.Join(c.OutputDir, fmt.Sprintf("blend_s00_%s.png", c.Tonemapper))
		if err := viz.WritePNG(img, name); err != nil {
			return err
		}
	}
	return p.exportSegmentation(s)
}

// exportSegmentation writes the first scene's true segmentation map:
// pixels of the noiseless middle-band image above the sky RMS.
func (p *Pipeline) exportSegmentation(s *render.Scene) error {
	ref := len(s.Obs) / 2
	noiseless := grid.New(s.Obs[ref].StampPix, s.Obs[ref].StampPix)
	for _, stamps := range s.Isolated {
		if err := noiseless.AddGrid(stamps[ref]); err != nil {
			return err
		}
	}
	seg := detect.TrueSegMap(noiseless, math.Sqrt(s.Obs[ref].MeanSkyLevel()))
	return fitsio.Write(filepath.Join(p.Config.OutputDir, "seg_s00.fits"), seg)
}

func (p *Pipeline) exportHeatmap(r *metrics.Report) error {
	img, err := viz.EffHeatmap(r.Efficiency(), fmt.Sprintf("%s on %s", r.Measurer, p.Config.Survey))
	if err != nil {
		return err
	}
	return viz.WritePNG(img, filepath.Join(p.Config.OutputDir, "efficiency.png"))
}
