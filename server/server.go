// Package server exposes the radar over HTTP: capture agents post
// observations, viewers fetch the latest snapshot as JSON or as a heatmap
// image, and prometheus scrapes the metrics.
package server

import (
	"bytes"
	"cmp"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hb9tf/wifiradar/filter"
	"github.com/hb9tf/wifiradar/heatmap"
	"github.com/hb9tf/wifiradar/link"
	"github.com/hb9tf/wifiradar/metrics"
	"github.com/hb9tf/wifiradar/publish"
)

const (
	SourceName = "http"

	collectEndpoint  = "/radar/v1/collect"
	snapshotEndpoint = "/radar/v1/snapshot"
	heatmapEndpoint  = "/radar/v1/heatmap.png"
	resetEndpoint    = "/radar/v1/reset"
	metricsEndpoint  = "/metrics"
	healthEndpoint   = "/healthz"

	maxCellSize = 256
)

// Collector accepts observations posted by capture agents.
type Collector interface {
	Push(link.Observation) bool
}

// Snapshots is where the server reads published grids from.
type Snapshots interface {
	Latest() (publish.Snapshot, bool)
}

// Resetter clears the accumulated state.
type Resetter interface {
	Reset()
}

type Options struct {
	// Collector receives posted observations. Nil disables collection.
	Collector Collector
	Filters   []filter.Filterer
	// Resetter, when set, is called by POST /radar/v1/reset.
	Resetter Resetter
	CellSize int
}

type Server struct {
	snapshots Snapshots
	opts      Options
	router    *gin.Engine
}

func New(snapshots Snapshots, opts Options) *Server {
	if opts.CellSize <= 0 {
		opts.CellSize = heatmap.DefaultCellSize
	}
	s := &Server{snapshots: snapshots, opts: opts}

	r := gin.New()
	r.Use(gin.Recovery(), logRequests)
	r.GET(healthEndpoint, s.health)
	r.GET(metricsEndpoint, gin.WrapH(promhttp.Handler()))
	r.GET(snapshotEndpoint, s.snapshot)
	r.GET(heatmapEndpoint, s.heatmap)
	if opts.Collector != nil {
		r.POST(collectEndpoint, s.collect)
	}
	if opts.Resetter != nil {
		r.POST(resetEndpoint, s.reset)
	}
	s.router = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func logRequests(c *gin.Context) {
	start := time.Now()
	c.Next()
	glog.V(2).Infof("%s %s -> %d in %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) collect(c *gin.Context) {
	var observations []link.Observation
	if err := c.ShouldBindJSON(&observations); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": err.Error()})
		return
	}
	// Windows are cut on the radar's clock. Agent timestamps only order
	// the observations of one request; all of them are stamped on arrival.
	slices.SortStableFunc(observations, func(x, y link.Observation) int {
		return cmp.Compare(x.Timestamp.UnixNano(), y.Timestamp.UnixNano())
	})
	now := time.Now()
	accepted := 0
	for _, o := range observations {
		if filter.Ignored(&o, s.opts.Filters) {
			metrics.ObservationsDropped.WithLabelValues("filtered").Inc()
			continue
		}
		o.Timestamp = now
		s.opts.Collector.Push(o)
		accepted++
	}
	metrics.ObservationsReceived.WithLabelValues(SourceName).Add(float64(accepted))
	c.JSON(http.StatusOK, gin.H{"status": "ok", "observationCount": accepted})
}

func (s *Server) snapshot(c *gin.Context) {
	snap, ok := s.snapshots.Latest()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "error": "no snapshot published yet"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) heatmap(c *gin.Context) {
	snap, ok := s.snapshots.Latest()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "error": "no snapshot published yet"})
		return
	}
	cell := s.opts.CellSize
	if raw := c.Query("cell"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxCellSize {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "cell must be between 1 and " + strconv.Itoa(maxCellSize)})
			return
		}
		cell = n
	}
	legend := c.DefaultQuery("legend", "true") != "false"

	var buf bytes.Buffer
	if err := heatmap.Encode(&buf, heatmap.Render(snap, heatmap.Options{CellSize: cell, Legend: legend}), "png"); err != nil {
		glog.Warningf("unable to encode heatmap: %s\n", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": err.Error()})
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", buf.Bytes())
}

func (s *Server) reset(c *gin.Context) {
	s.opts.Resetter.Reset()
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
