package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/d0labs/aof/internal/config"
	"github.com/d0labs/aof/internal/eventlog"
	"github.com/d0labs/aof/internal/logging"
	"github.com/d0labs/aof/internal/metrics"
	"github.com/d0labs/aof/internal/orgchart"
	"github.com/d0labs/aof/internal/service"
)

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the task fabric's poll loop and metrics endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(*configPath)
		},
	}
}

func runServe(configPath string) error {
	cfg, meta, err := config.Load(config.WithConfigPath(configPath))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(logging.Config{Level: cfg.LogLevel, JSON: cfg.LogJSON})
	logger.Info("aof serve: vaultRoot=%s (source=%s) pollIntervalMs=%d", cfg.VaultRoot, meta.Source("vaultRoot"), cfg.PollIntervalMs)

	log := eventlog.New(filepath.Join(cfg.VaultRoot, "EventLog"))
	defer log.Close()

	registry := metrics.New()

	var org *orgchart.Chart
	orgPath := filepath.Join(cfg.VaultRoot, "org-chart.yaml")
	if _, statErr := os.Stat(orgPath); statErr == nil {
		org, err = orgchart.Load(orgPath)
		if err != nil {
			return fmt.Errorf("load org chart: %w", err)
		}
	}

	opts := []service.Option{
		service.WithEventSink(log),
		service.WithMetrics(registry),
		service.WithLogger(logger.With("service")),
	}
	if org != nil {
		opts = append(opts, service.WithOrgChart(org))
	}
	host := service.New(cfg.ServiceConfig(), opts...)

	srv := &http.Server{Addr: cfg.MetricsAddr, Handler: registry.Router()}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := host.Start(ctx); err != nil {
		return fmt.Errorf("start host: %w", err)
	}

	<-ctx.Done()
	logger.Info("aof serve: shutdown signal received, draining")

	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.ServiceConfig().DrainTimeout+5*time.Second)
	defer cancel()
	if err := host.Drain(drainCtx); err != nil {
		logger.Warn("aof serve: drain: %v", err)
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = srv.Shutdown(shutdownCtx)

	return nil
}
