package render

import (
	"fmt"
	"log"
	"runtime"
	"sync"
	"time"

	"github.com/codahale/hdrhistogram"
	"github.com/pbnjay/memory"

	"github.com/aromazyl/BlendingToolKit/pkg/blend"
	"github.com/aromazyl/BlendingToolKit/pkg/catalog"
	"github.com/aromazyl/BlendingToolKit/pkg/survey"
)

// Params tunes batch rendering.
type Params struct {
	AddNoise  bool
	Workers   int // concurrent scene renders; 0 sizes the pool automatically
	Verbosity int
}

// A Batch is one generator step: the rendered scenes plus the
// observing conditions they share.
type Batch struct {
	Index  int
	Scenes []*Scene
	Obs    []survey.Observation
}

// A Generator renders batches of blend scenes, fanning the scenes of
// each batch across a worker pool. Rendering is deterministic for a
// fixed seed: every scene draws its noise from a seed derived from the
// run seed, its batch index and its slot, so worker scheduling can
// never change the pixels.
type Generator struct {
	blends   *blend.Generator
	obs      *survey.Generator
	p        Params
	seed     uint64
	batchIdx int
	timing   *hdrhistogram.Histogram // per-scene render time, microseconds
}

const maxSceneMicros = 10 * 60 * 1000 * 1000

func NewGenerator(blends *blend.Generator, obs *survey.Generator, p Params, seed uint64) *Generator {
	return &Generator{
		blends: blends,
		obs:    obs,
		p:      p,
		seed:   seed,
		timing: hdrhistogram.New(1, maxSceneMicros, 3),
	}
}

// Next renders the next batch.
func (g *Generator) Next() (*Batch, error) {
	tables, err := g.blends.Next()
	if err != nil {
		return nil, err
	}
	obs, err := g.obs.Next()
	if err != nil {
		return nil, err
	}

	scenes, err := g.drawConcurrently(tables, obs)
	if err != nil {
		return nil, err
	}

	b := &Batch{Index: g.batchIdx, Scenes: scenes, Obs: obs}
	g.batchIdx++
	if g.p.Verbosity >= 2 {
		log.Printf("rendered batch %d: %d scenes, %s\n", b.Index, len(scenes), g.TimingSummary())
	}
	return b, nil
}

func (g *Generator) drawConcurrently(tables []catalog.Table, obs []survey.Observation) ([]*Scene, error) {
	type job struct {
		idx int
		bl  catalog.Table
	}
	type result struct {
		idx   int
		scene *Scene
		took  time.Duration
		err   error
	}

	workers := g.p.Workers
	if workers <= 0 {
		workers = autoWorkers(sceneBytes(obs, g.blends.MaxNumber()))
	}
	if workers > len(tables) {
		workers = len(tables)
	}

	jobs := make(chan job, len(tables))
	results := make(chan result, len(tables))

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				start := time.Now()
				s, err := DrawScene(j.bl, obs, subSeed(g.seed, g.batchIdx, j.idx), g.p.AddNoise)
				results <- result{j.idx, s, time.Since(start), err}
			}
		}()
	}
	for i, bl := range tables {
		jobs <- job{i, bl}
	}
	close(jobs)
	wg.Wait()
	close(results)

	scenes := make([]*Scene, len(tables))
	for r := range results {
		if r.err != nil {
			return nil, fmt.Errorf("scene %d: %v", r.idx, r.err)
		}
		scenes[r.idx] = r.scene
		us := r.took.Microseconds()
		if us < 1 {
			us = 1
		} else if us > maxSceneMicros {
			us = maxSceneMicros
		}
		g.timing.RecordValue(us)
	}
	return scenes, nil
}

// MaxNumber reports the largest blend size the underlying sampler can
// emit, which bounds the detection tally downstream.
func (g *Generator) MaxNumber() int {
	return g.blends.MaxNumber()
}

// TimingSummary reports per-scene render time quantiles so far.
func (g *Generator) TimingSummary() string {
	if g.timing.TotalCount() == 0 {
		return "no scenes rendered yet"
	}
	return fmt.Sprintf("scene render p50 %v, p99 %v, max %v over %d scenes",
		time.Duration(g.timing.ValueAtQuantile(50))*time.Microsecond,
		time.Duration(g.timing.ValueAtQuantile(99))*time.Microsecond,
		time.Duration(g.timing.Max())*time.Microsecond,
		g.timing.TotalCount())
}

// sceneBytes estimates the working set of one in-flight scene: the
// isolated stamps of a maximal blend plus the composites, in float64.
func sceneBytes(obs []survey.Observation, maxNumber int) uint64 {
	if len(obs) == 0 {
		return 1
	}
	stamp := uint64(obs[0].StampPix)
	perBand := stamp * stamp * 8
	return perBand * uint64(len(obs)) * uint64(maxNumber+2)
}

// autoWorkers sizes the pool by CPU count, capped so the concurrent
// scenes stay within a quarter of physical memory.
func autoWorkers(sceneBytes uint64) int {
	n := runtime.NumCPU()
	if total := memory.TotalMemory(); total > 0 && sceneBytes > 0 {
		fit := int(total / 4 / sceneBytes)
		if fit < 1 {
			fit = 1
		}
		if n > fit {
			n = fit
		}
	}
	if n < 1 {
		n = 1
	}
	return n
}

// subSeed derives an independent per-scene seed via a splitmix64 mix,
// so parallel and serial rendering draw identical noise streams.
func subSeed(seed uint64, batch, scene int) uint64 {
	z := seed + 0x9e3779b97f4a7c15*uint64(batch*1000003+scene+1)
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}
