package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/aptoswatch/service/aptos"
	"github.com/brojonat/aptoswatch/service/config"
	"github.com/brojonat/aptoswatch/service/metrics"
	natspkg "github.com/brojonat/aptoswatch/service/nats"
	"github.com/brojonat/aptoswatch/service/server"
	"github.com/brojonat/aptoswatch/service/temporal"
)

func main() {
	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"log_level", cfg.LogLevel,
	)

	// Initialize Prometheus metrics collector
	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	// Initialize Aptos ledger client
	rest := aptos.NewRESTClient(cfg.AptosNodeURL, nil, logger)
	ledger := aptos.NewClient(rest, cfg.AptosNetwork, metricsCollector, logger)
	logger.Info("initialized aptos ledger client", "url", cfg.AptosNodeURL, "network", cfg.AptosNetwork)

	// Initialize Temporal client for schedule management
	temporalClient, err := temporal.NewClient(
		cfg.TemporalHost,
		cfg.TemporalNamespace,
		cfg.TemporalTaskQueue,
		logger,
	)
	if err != nil {
		logger.Error("failed to create temporal client", "error", err)
		os.Exit(1)
	}
	defer temporalClient.Close()
	temporalClient.SetReconcileOptions(cfg.HistoryLimit, cfg.FetchTimeout)

	// Initialize NATS subscriber for SSE streams. The API still serves without it.
	var subscriber natspkg.Subscriber
	if sub, err := natspkg.NewSubscriber(cfg.NATSURL, logger); err != nil {
		logger.Warn("failed to connect to NATS, streaming disabled", "error", err)
	} else {
		subscriber = sub
	}

	httpServer := server.New(cfg.ServerAddr, cfg, ledger, temporalClient, subscriber, metricsCollector, logger)

	logger.Info("server initialized, all dependencies ready",
		"aptos_node", cfg.AptosNodeURL,
		"nats_url", cfg.NATSURL,
		"temporal_host", cfg.TemporalHost,
	)

	// Start HTTP server in background
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	// Wait for shutdown signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		// Graceful shutdown with timeout
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
