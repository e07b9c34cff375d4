// Package main provides the entry point for the iocpipe query server:
// an HTTP API over the indexed IOC documents with on-demand
// enrichment.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/tnguyen-sec/iocpipe/internal/api"
	"github.com/tnguyen-sec/iocpipe/internal/config"
	"github.com/tnguyen-sec/iocpipe/internal/observability"
	"github.com/tnguyen-sec/iocpipe/internal/pipeline"
)

// Version information (injected at build time via ldflags)
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("iocpipe-server %s (commit: %s, built: %s)\n", Version, GitCommit, BuildTime)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	telemetry, err := observability.New(observability.Config{
		ServiceName:    "iocpipe-server",
		ServiceVersion: Version,
		LogLevel:       cfg.Logging.Level,
		LogFormat:      cfg.Logging.Format,
		MetricsEnabled: cfg.Metrics.Enabled,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize telemetry: %v\n", err)
		os.Exit(1)
	}
	logger := telemetry.Logger()
	defer telemetry.Shutdown(context.Background())

	logger.Info("starting iocpipe server",
		zap.String("version", Version),
		zap.String("config", *configPath),
		zap.Strings("providers", cfg.EnabledProviders()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p, err := pipeline.Build(ctx, cfg, nil, logger, telemetry.Metrics())
	if err != nil {
		logger.Fatal("failed to build pipeline", zap.Error(err))
	}
	defer p.Close()

	telemetry.StartSystemMetricsCollector(ctx)

	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		metricsHandler = telemetry.MetricsHandler()
	}
	service := api.New(p.Indexer, p.Orchestrator, logger, metricsHandler, Version)
	service.SetMetrics(telemetry.Metrics())

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      service.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	sig := <-sigChan
	logger.Info("shutting down", zap.String("signal", sig.String()))
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	logger.Info("server stopped")
}
