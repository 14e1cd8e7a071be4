package blend

import (
	"fmt"

	"golang.org/x/exp/rand"

	"github.com/aromazyl/BlendingToolKit/pkg/catalog"
)

// redrawLimit bounds how many empty samples a single Next call absorbs
// before giving up; the group sampler legitimately returns empties.
const redrawLimit = 1000

// A Generator yields batches of blend truth tables.
type Generator struct {
	cat       catalog.Table
	p         Params
	fn        SampleFunc
	batchSize int
	rng       *rand.Rand
}

func NewGenerator(cat catalog.Table, p Params, fn SampleFunc, batchSize int, seed uint64) (*Generator, error) {
	if len(cat) == 0 {
		return nil, fmt.Errorf("empty catalog")
	}
	if p.MaxNumber < 1 {
		return nil, fmt.Errorf("max number per blend must be >= 1, got %d", p.MaxNumber)
	}
	if p.StampSize <= 0 {
		return nil, fmt.Errorf("stamp size must be positive, got %v", p.StampSize)
	}
	if batchSize < 1 {
		return nil, fmt.Errorf("batch size must be >= 1, got %d", batchSize)
	}
	if fn == nil {
		fn = SampleDefault
	}
	return &Generator{
		cat:       cat,
		p:         p,
		fn:        fn,
		batchSize: batchSize,
		rng:       rand.New(rand.NewSource(seed)),
	}, nil
}

// MaxNumber reports the per-blend object cap this generator enforces.
func (g *Generator) MaxNumber() int { return g.p.MaxNumber }

// BatchSize reports how many blends each Next call returns.
func (g *Generator) BatchSize() int { return g.batchSize }

// Next returns batchSize blend tables. Empty samples are redrawn; a
// sample exceeding MaxNumber is an error in the sampling function.
func (g *Generator) Next() ([]catalog.Table, error) {
	batch := make([]catalog.Table, 0, g.batchSize)
	redraws := 0
	for len(batch) < g.batchSize {
		bl, err := g.fn(g.rng, g.cat, g.p)
		if err != nil {
			return nil, fmt.Errorf("sampling blend: %v", err)
		}
		if len(bl) == 0 {
			redraws++
			if redraws > redrawLimit {
				return nil, fmt.Errorf("sampling produced %d empty blends in a row", redrawLimit)
			}
			continue
		}
		if len(bl) > g.p.MaxNumber {
			return nil, fmt.Errorf("sampled %d objects, over the %d per-blend limit", len(bl), g.p.MaxNumber)
		}
		batch = append(batch, bl)
	}
	return batch, nil
}
