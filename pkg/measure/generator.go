package measure

import (
	"fmt"
	"log"

	"github.com/aromazyl/BlendingToolKit/pkg/detect"
	"github.com/aromazyl/BlendingToolKit/pkg/render"
)

// A Result is one measured batch: the rendered scenes plus whatever the
// backend produced for each. Tables and Deblended entries are nil for
// backends that do not support those ops.
type Result struct {
	Batch     *render.Batch
	Detected  [][]detect.Point // per scene
	Deblended []*Deblended     // per scene, nil when unsupported
	Tables    []detect.MeasurementTable
}

// A Generator pulls rendered batches and measures every scene with one
// backend.
type Generator struct {
	scenes    *render.Generator
	m         Measurer
	verbosity int
}

func NewGenerator(scenes *render.Generator, m Measurer, verbosity int) *Generator {
	return &Generator{scenes: scenes, m: m, verbosity: verbosity}
}

// Next measures the next rendered batch. Detected centers come from
// the richest op the backend supports: the measurement table if it
// makes one, else the deblender's fitted peaks, else raw centers.
func (g *Generator) Next() (*Result, error) {
	batch, err := g.scenes.Next()
	if err != nil {
		return nil, err
	}

	res := &Result{
		Batch:     batch,
		Detected:  make([][]detect.Point, len(batch.Scenes)),
		Deblended: make([]*Deblended, len(batch.Scenes)),
		Tables:    make([]detect.MeasurementTable, len(batch.Scenes)),
	}
	for i, s := range batch.Scenes {
		table, err := g.m.MakeMeasurement(s)
		if err != nil {
			return nil, fmt.Errorf("batch %d scene %d: %s measurement: %v", batch.Index, i, g.m.Name(), err)
		}
		deb, err := g.m.GetDeblendedImages(s)
		if err != nil {
			return nil, fmt.Errorf("batch %d scene %d: %s deblend: %v", batch.Index, i, g.m.Name(), err)
		}
		res.Tables[i] = table
		res.Deblended[i] = deb

		switch {
		case table != nil:
			res.Detected[i] = table.Centers()
		case deb != nil:
			res.Detected[i] = deb.Peaks
		default:
			pts, err := g.m.GetCenters(s)
			if err != nil {
				return nil, fmt.Errorf("batch %d scene %d: %s centers: %v", batch.Index, i, g.m.Name(), err)
			}
			res.Detected[i] = pts
		}
	}

	if g.verbosity >= 2 {
		var n int
		for _, pts := range res.Detected {
			n += len(pts)
		}
		log.Printf("measured batch %d with %s: %d detections over %d scenes\n",
			batch.Index, g.m.Name(), n, len(batch.Scenes))
	}
	return res, nil
}

// MaxNumber reports the largest true blend size scenes can carry.
func (g *Generator) MaxNumber() int { return g.scenes.MaxNumber() }

// MeasurerName names the backend this generator runs.
func (g *Generator) MeasurerName() string { return g.m.Name() }
