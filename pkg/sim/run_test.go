package sim

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aromazyl/BlendingToolKit/pkg/resultdb"
)

// writeTestCatalog dumps a synthetic catalog of bright compact
// galaxies, bright enough that the peak finder always lands at least
// one detection per blend.
func writeTestCatalog(t *testing.T, n int) string {
	t.Helper()
	var sb strings.Builder
	sb.WriteString("# synthetic pipeline-test catalog\n")
	sb.WriteString("id ra dec fluxnorm_bulge fluxnorm_disk a_b b_b a_d b_d pa_bulge pa_disk u_ab g_ab r_ab i_ab z_ab y_ab\n")
	for i := 0; i < n; i++ {
		mag := 20.0 + 0.05*float64(i)
		fmt.Fprintf(&sb, "%d 0 0 1e-11 3e-11 0.3 0.25 0.5 0.35 45 30 %.2f %.2f %.2f %.2f %.2f %.2f\n",
			i+1, mag+0.8, mag+0.4, mag+0.2, mag, mag-0.1, mag-0.2)
	}
	path := filepath.Join(t.TempDir(), "catalog.txt")
	if err := os.WriteFile(path, []byte(sb.String()), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func testRunConfig(catalogPath string) Config {
	c := NewConfig()
	c.CatalogFile = catalogPath
	c.Bands = []string{"r", "i"}
	c.StampSize = 12
	c.Measurer = "peaks"
	c.BatchSize = 4
	c.Batches = 2
	c.Seed = 11
	c.Workers = 2
	return c
}

func TestPipelineEndToEnd(t *testing.T) {
	c := testRunConfig(writeTestCatalog(t, 20))
	p, err := NewPipeline(c)
	if err != nil {
		t.Fatal(err)
	}

	rep, err := p.Run()
	if err != nil {
		t.Fatal(err)
	}

	nBlends := c.BatchSize * c.Batches
	if rep.Measurer != "peaks" || rep.MaxNumber != 2 {
		t.Errorf("report header: measurer %q maxnumber %d", rep.Measurer, rep.MaxNumber)
	}
	if len(rep.Summaries) != nBlends {
		t.Fatalf("scored %d blends, want %d", len(rep.Summaries), nBlends)
	}

	tot := rep.Totals()
	if tot.NumTrue < nBlends || tot.NumTrue > nBlends*c.MaxNumber {
		t.Errorf("true sources = %d, want within [%d, %d]", tot.NumTrue, nBlends, nBlends*c.MaxNumber)
	}
	// Every blend holds at least one very bright galaxy, so every blend
	// yields at least one detection and one match.
	if tot.NumDetected < nBlends {
		t.Errorf("detections = %d, want at least %d", tot.NumDetected, nBlends)
	}
	if tot.NumMatched < nBlends {
		t.Errorf("matches = %d, want at least %d", tot.NumMatched, nBlends)
	}

	m := rep.Efficiency()
	if len(m) != c.MaxNumber+2 || len(m[0]) != c.MaxNumber+1 {
		t.Fatalf("efficiency matrix is %dx%d, want %dx%d", len(m), len(m[0]), c.MaxNumber+2, c.MaxNumber+1)
	}
	populated := 0
	for i := 0; i <= c.MaxNumber; i++ {
		var colSum float64
		for j := range m {
			colSum += m[j][i]
		}
		switch {
		case colSum == 0:
		case colSum > 99.9 && colSum < 100.1:
			populated++
		default:
			t.Errorf("column %d sums to %v, want 0 or ~100", i, colSum)
		}
	}
	if populated == 0 {
		t.Error("no efficiency column is populated")
	}
	if m[0][0] != 0 || m[1][0] != 0 {
		t.Error("the zero-true column should stay empty")
	}

	if !strings.Contains(rep.Text(), "'peaks'") {
		t.Errorf("report text does not name the measurer:\n%s", rep.Text())
	}
}

func TestPipelineDeterministic(t *testing.T) {
	catalogPath := writeTestCatalog(t, 20)

	run := func() []string {
		c := testRunConfig(catalogPath)
		c.BatchSize = 3
		p, err := NewPipeline(c)
		if err != nil {
			t.Fatal(err)
		}
		rep, err := p.Run()
		if err != nil {
			t.Fatal(err)
		}
		rows := make([]string, len(rep.Summaries))
		for i, s := range rep.Summaries {
			rows[i] = fmt.Sprint(s.Row())
		}
		return rows
	}

	first, second := run(), run()
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("blend %d differs across identical runs: %s vs %s", i, first[i], second[i])
		}
	}
}

func TestPipelineExportsAndPersists(t *testing.T) {
	c := testRunConfig(writeTestCatalog(t, 20))
	c.BatchSize = 2
	c.Batches = 1
	c.OutputDir = filepath.Join(t.TempDir(), "out")
	c.ResultsDB = filepath.Join(t.TempDir(), "results.db")
	c.Tonemapper = "linear"

	p, err := NewPipeline(c)
	if err != nil {
		t.Fatal(err)
	}
	rep, err := p.Run()
	if err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{
		"psf_r.fits", "psf_i.fits",
		"blend_s00_r.fits", "blend_s00_i.fits", "blend_s01_r.fits", "blend_s01_i.fits",
		"blend_s00.png", "blend_s01.png",
		"blend_s00.hdr", "blend_s00_mean.tif", "blend_s00_linear.png",
		"seg_s00.fits", "efficiency.png",
	} {
		if _, err := os.Stat(filepath.Join(c.OutputDir, name)); err != nil {
			t.Errorf("missing export %s: %v", name, err)
		}
	}

	db, err := resultdb.Open(c.ResultsDB)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	runs, err := db.ListRuns()
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Fatalf("results db holds %d runs, want 1", len(runs))
	}
	if runs[0].Measurer != "peaks" || runs[0].Blends != 2 || runs[0].MaxNumber != 2 {
		t.Errorf("stored run header: %+v", runs[0])
	}
	if !strings.Contains(runs[0].Config, "measurer: peaks") {
		t.Errorf("stored config yaml looks wrong:\n%s", runs[0].Config)
	}
	tot, err := db.Totals(runs[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if tot != rep.Totals() {
		t.Errorf("stored totals %+v, want %+v", tot, rep.Totals())
	}
}

func TestNewPipelineErrors(t *testing.T) {
	catalogPath := writeTestCatalog(t, 5)

	c := testRunConfig(catalogPath)
	c.CatalogFile = ""
	if _, err := NewPipeline(c); err == nil {
		t.Error("missing catalogfile should fail")
	}

	c = testRunConfig(filepath.Join(t.TempDir(), "nope.txt"))
	if _, err := NewPipeline(c); err == nil {
		t.Error("unreadable catalog should fail")
	}

	c = testRunConfig(catalogPath)
	c.MaxIMag = 0.1 // cuts every row
	if _, err := NewPipeline(c); err == nil {
		t.Error("a selection that empties the catalog should fail")
	}

	c = testRunConfig(catalogPath)
	c.Survey = "SDSS"
	if _, err := NewPipeline(c); err == nil {
		t.Error("Finalize failures should propagate")
	}
}
