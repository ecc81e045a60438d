// Command hcsim runs a hypercube overlay scenario to completion and
// writes its notification stream as XML.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/dantte-lp/hcsim/internal/config"
	"github.com/dantte-lp/hcsim/internal/metrics"
	"github.com/dantte-lp/hcsim/internal/sim"
)

func main() {
	os.Exit(run())
}

func run() int {
	test := flag.Bool("test", false, "run the self-test scenarios instead of a scenario file")
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration", slog.String("error", err.Error()))
		return 1
	}
	logger := newLogger(cfg.Log)

	if *test {
		return runSelfTests(logger)
	}

	args := flag.Args()
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: hcsim [-config path] <in> <out>")
		fmt.Fprintln(os.Stderr, "       hcsim -test")
		return 2
	}
	in, out := args[0], args[1]

	inFile, err := os.Open(in)
	if err != nil {
		logger.Error("failed to open scenario file", slog.String("path", in), slog.String("error", err.Error()))
		return 1
	}
	defer inFile.Close()

	outFile, err := os.Create(out)
	if err != nil {
		logger.Error("failed to create output file", slog.String("path", out), slog.String("error", err.Error()))
		return 1
	}
	defer outFile.Close()

	reg := prometheus.NewRegistry()
	coll := metrics.NewCollector(reg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, _ := errgroup.WithContext(ctx)

	metricsSrv := newMetricsServer(cfg.Metrics, reg)
	g.Go(func() error {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})

	notificator := sim.NewNotificator(outFile, nil)
	simulator := sim.NewSimulator(cfg.HypercubeParams(), coll, notificator, logger)

	runErr := simulator.RunScenario(inFile)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	_ = g.Wait()

	if runErr != nil {
		logger.Error("scenario run failed", slog.String("error", runErr.Error()))
		return 1
	}
	logger.Info("scenario run complete", slog.String("in", in), slog.String("out", out))
	return 0
}

const shutdownTimeout = 5 * time.Second

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.DefaultConfig(), nil
	}
	return config.Load(path)
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	level := new(slog.LevelVar)
	level.Set(config.ParseLogLevel(cfg.Level))
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
