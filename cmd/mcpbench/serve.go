package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/MegaGrindStone/go-mcp-bench/benchmark"
	"github.com/MegaGrindStone/go-mcp-bench/metrics"
	"github.com/MegaGrindStone/go-mcp-bench/report"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		addr      string
		dir       string
		cacheSize int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the saved results over HTTP",
		Long: `Serve the saved results read-only: GET /reports/{sse,stdio} returns the JSON
report, GET /reports/{sse,stdio}/summary the markdown tables and GET /metrics the
reports as Prometheus metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := report.NewStore(cacheSize)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), addr, newViewHandler(store, dir, a.logger), a.logger)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&addr, "addr", ":8080", "Listen address")
	flags.StringVar(&dir, "dir", ".", "Directory holding the results artifacts")
	flags.IntVar(&cacheSize, "cache-size", 16, "Reports kept in memory")

	return cmd
}

func serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info("serving results", "addr", addr)
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// view serves the artifacts found in dir.
type view struct {
	store  *report.Store
	dir    string
	logger *slog.Logger
}

func newViewHandler(store *report.Store, dir string, logger *slog.Logger) http.Handler {
	gin.SetMode(gin.ReleaseMode)

	v := view{store: store, dir: dir, logger: logger}
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/reports/:type", v.getReport)
	r.GET("/reports/:type/summary", v.getSummary)
	r.GET("/metrics", v.getMetrics)
	r.GET("/stats", v.getStats)

	return r
}

func (v view) load(c *gin.Context) (benchmark.BenchmarkReport, bool) {
	transport, err := parseTransport(c.Param("type"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return benchmark.BenchmarkReport{}, false
	}

	path := filepath.Join(v.dir, report.DefaultPath(transport))
	rep, err := v.store.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "no results for " + string(transport) + ", run the benchmark first",
		})
		return benchmark.BenchmarkReport{}, false
	}
	if err != nil {
		v.logger.Error("failed to load report", "path", path, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return benchmark.BenchmarkReport{}, false
	}
	return rep, true
}

func (v view) getReport(c *gin.Context) {
	if rep, ok := v.load(c); ok {
		c.JSON(http.StatusOK, rep)
	}
}

func (v view) getSummary(c *gin.Context) {
	rep, ok := v.load(c)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := report.Summary(&buf, rep); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "text/markdown; charset=utf-8", buf.Bytes())
}

// getMetrics exposes the saved reports through a fresh registry, so removed artifacts
// disappear from the output.
func (v view) getMetrics(c *gin.Context) {
	rec := metrics.NewRecorder()
	for _, transport := range []benchmark.Transport{benchmark.TransportSSE, benchmark.TransportStdIO} {
		path := filepath.Join(v.dir, report.DefaultPath(transport))
		rep, err := v.store.Load(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				v.logger.Warn("skipping unreadable report", "path", path, "err", err)
			}
			continue
		}
		rec.RecordReport(rep)
	}

	promhttp.HandlerFor(rec.Registry(), promhttp.HandlerOpts{}).ServeHTTP(c.Writer, c.Request)
}

func (v view) getStats(c *gin.Context) {
	c.JSON(http.StatusOK, v.store.Stats())
}
