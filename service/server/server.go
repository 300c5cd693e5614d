package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/aptoswatch/service/config"
	"github.com/brojonat/aptoswatch/service/metrics"
	natspkg "github.com/brojonat/aptoswatch/service/nats"
	"github.com/brojonat/aptoswatch/service/reconciler"
	"github.com/brojonat/aptoswatch/service/temporal"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server represents the HTTP server for the account history service.
type Server struct {
	addr       string
	cfg        *config.Config
	source     reconciler.Source
	scheduler  temporal.Scheduler
	subscriber natspkg.Subscriber
	watches    *watchRegistry
	metrics    *metrics.Metrics
	logger     *slog.Logger
	server     *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The source reads accounts from the ledger for on-demand reconciliation.
// The scheduler is used to create/delete Temporal schedules for watched accounts.
// The subscriber is optional - if nil, SSE endpoints won't be available.
// The metrics is optional - if nil, metrics endpoints won't be available.
func New(addr string, cfg *config.Config, source reconciler.Source, scheduler temporal.Scheduler, subscriber natspkg.Subscriber, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:       addr,
		cfg:        cfg,
		source:     source,
		scheduler:  scheduler,
		subscriber: subscriber,
		watches:    newWatchRegistry(),
		metrics:    m,
		logger:     logger,
	}
}

// Handler builds the routed handler. Start serves it; tests call it directly.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	route := func(pattern, name string, h http.Handler) {
		mux.Handle(pattern, metrics.HTTPMetricsMiddleware(s.metrics, name)(h))
	}

	// Account routes
	route("GET /api/v1/accounts/{address}/history", "/api/v1/accounts/{address}/history",
		handleGetHistory(s.source, s.reconcileOptions(), s.logger))
	route("GET /api/v1/accounts/{address}/balance", "/api/v1/accounts/{address}/balance",
		handleGetBalance(s.source, s.fetchTimeout(), s.logger))
	route("POST /api/v1/transfers/validate", "/api/v1/transfers/validate",
		handleValidateTransfer(s.source, s.fetchTimeout(), s.logger))

	// Watch routes
	route("POST /api/v1/watches", "/api/v1/watches",
		handleCreateWatch(s.watches, s.scheduler, s.cfg, s.logger))
	route("DELETE /api/v1/watches/{address}", "/api/v1/watches/{address}",
		handleDeleteWatch(s.watches, s.scheduler, s.logger))
	route("GET /api/v1/watches", "/api/v1/watches",
		handleListWatches(s.watches))

	// SSE streaming endpoint (if a subscriber is configured)
	if s.subscriber != nil {
		route("GET /api/v1/stream/history/{address}", "/api/v1/stream/history/{address}",
			handleStreamHistory(s.subscriber, s.metrics, s.logger))
		s.logger.Info("SSE streaming endpoint enabled")
	} else {
		s.logger.Warn("NATS subscriber not configured, streaming endpoint disabled")
	}

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
		s.logger.Info("Prometheus metrics endpoint enabled")
	}

	return corsMiddleware(mux)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:        s.addr,
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: SSE responses stay open for the life of the client.
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	// Close the subscriber first (ends all streams)
	if s.subscriber != nil {
		s.subscriber.Close()
	}

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) reconcileOptions() reconciler.Options {
	opts := reconciler.Options{Metrics: s.metrics, Logger: s.logger}
	if s.cfg != nil {
		opts.Limit = s.cfg.HistoryLimit
		opts.FetchTimeout = s.cfg.FetchTimeout
	}
	return opts
}

func (s *Server) fetchTimeout() time.Duration {
	if s.cfg != nil && s.cfg.FetchTimeout > 0 {
		return s.cfg.FetchTimeout
	}
	return reconciler.DefaultFetchTimeout
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		// Handle preflight OPTIONS requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
