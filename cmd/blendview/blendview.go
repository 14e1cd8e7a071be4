// Blendview serves blend previews and stored benchmark results over
// HTTP, for eyeballing samplers and survey presets without a full run.
// It is a read-only research tool and binds to localhost by default.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"image"
	"image/png"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/valyala/fastrand"

	"github.com/aromazyl/BlendingToolKit/pkg/blend"
	"github.com/aromazyl/BlendingToolKit/pkg/catalog"
	"github.com/aromazyl/BlendingToolKit/pkg/metrics"
	"github.com/aromazyl/BlendingToolKit/pkg/render"
	"github.com/aromazyl/BlendingToolKit/pkg/resultdb"
	"github.com/aromazyl/BlendingToolKit/pkg/survey"
	"github.com/aromazyl/BlendingToolKit/pkg/viz"
)

var (
	fHost    string
	fPort    int
	fCatalog string
	fDB      string
)

func init() {
	flag.StringVar(&fHost, "host", "127.0.0.1", "interface to bind; the server is unauthenticated")
	flag.IntVar(&fPort, "port", 8080, "port to listen on")
	flag.StringVar(&fCatalog, "catalog", "", "galaxy catalog file for blend previews")
	flag.StringVar(&fDB, "db", "", "sqlite results database to browse")
	flag.Parse()

	log.Printf("blendview starting\n")
}

type server struct {
	cat catalog.Table
	db  *resultdb.Store
}

func main() {
	if fCatalog == "" {
		log.Fatal("blendview needs -catalog")
	}
	cat, err := catalog.Load(fCatalog)
	if err != nil {
		log.Fatal(err)
	}
	cat = catalog.DefaultSelection()(cat)
	if len(cat) == 0 {
		log.Fatalf("catalog '%s': no rows survive the default selection", fCatalog)
	}
	log.Printf("serving previews from %d catalog rows\n", len(cat))

	srv := &server{cat: cat}
	if fDB != "" {
		db, err := resultdb.Open(fDB)
		if err != nil {
			log.Fatal(err)
		}
		defer db.Close()
		srv.db = db
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	r.GET("/api/v1/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "pong",
		})
	})
	r.GET("/api/v1/surveys", srv.handleSurveys)
	r.GET("/api/v1/blend.png", srv.handleBlendPNG)
	r.GET("/api/v1/runs", srv.handleRuns)
	r.GET("/api/v1/runs/:id/heatmap.png", srv.handleHeatmapPNG)

	log.Fatal(r.Run(fmt.Sprintf("%s:%d", fHost, fPort)))
}

func (s *server) handleSurveys(c *gin.Context) {
	out := gin.H{}
	for _, name := range survey.Names() {
		surv, err := survey.ByName(name)
		if err != nil {
			continue
		}
		out[name] = gin.H{"bands": surv.Bands(), "pixelscale": surv.PixelScale}
	}
	c.JSON(http.StatusOK, out)
}

// handleBlendPNG renders one fresh blend as a false-color PNG. Query
// params: survey, sampler, maxnumber, stamp (arcsec), seed (0 draws a
// throwaway one), width (thumbnail, px), nonoise, marks (truth rings).
func (s *server) handleBlendPNG(c *gin.Context) {
	surveyName := c.DefaultQuery("survey", "LSST")
	samplerName := c.DefaultQuery("sampler", "default")
	maxNumber := intQuery(c, "maxnumber", 2)
	stamp := floatQuery(c, "stamp", 24)
	width := intQuery(c, "width", 0)
	seed := uint64Query(c, "seed", 0)
	if seed == 0 {
		seed = uint64(fastrand.Uint32()) + 1
	}

	surv, err := survey.ByName(surveyName)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var fn blend.SampleFunc
	switch samplerName {
	case "default":
		fn = blend.SampleDefault
	case "bright":
		fn = blend.SampleBright
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("no preview sampler named '%s'", samplerName)})
		return
	}

	blends, err := blend.NewGenerator(s.cat, blend.Params{
		MaxNumber:  maxNumber,
		StampSize:  stamp,
		PixelScale: surv.PixelScale,
	}, fn, 1, seed)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	obs, err := survey.NewGenerator(surv, stamp, "gaussian", 0, nil, seed)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	scenes := render.NewGenerator(blends, obs, render.Params{AddNoise: c.Query("nonoise") == ""}, seed)

	batch, err := scenes.Next()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	sc := batch.Scenes[0]

	var out image.Image
	out, err = viz.Composite(sc.Blend, viz.DefaultSoftening)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if c.Query("marks") != "" {
		out = viz.Annotate(out, metrics.TrueCenters(sc.Cat), nil)
	}
	if width > 0 {
		out = viz.Thumbnail(out, uint(width))
	}
	servePNG(c, out)
}

func (s *server) handleRuns(c *gin.Context) {
	if s.db == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no results database configured"})
		return
	}
	runs, err := s.db.ListRuns()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, runs)
}

func (s *server) handleHeatmapPNG(c *gin.Context) {
	if s.db == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no results database configured"})
		return
	}
	id := c.Param("id")
	m, err := s.db.Efficiency(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if m == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("run '%s' has no stored efficiency matrix", id)})
		return
	}
	img, err := viz.EffHeatmap(m, fmt.Sprintf("run %.8s", id))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	servePNG(c, img)
}

func servePNG(c *gin.Context, img image.Image) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "image/png", buf.Bytes())
}

func intQuery(c *gin.Context, key string, def int) int {
	if v, err := strconv.Atoi(c.Query(key)); err == nil {
		return v
	}
	return def
}

func floatQuery(c *gin.Context, key string, def float64) float64 {
	if v, err := strconv.ParseFloat(c.Query(key), 64); err == nil {
		return v
	}
	return def
}

func uint64Query(c *gin.Context, key string, def uint64) uint64 {
	if v, err := strconv.ParseUint(c.Query(key), 10, 64); err == nil {
		return v
	}
	return def
}
