// Package server exposes image generation and hub listing over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/takuphilchan/offgrid-t2i/internal/catalog"
	"github.com/takuphilchan/offgrid-t2i/internal/config"
	"github.com/takuphilchan/offgrid-t2i/internal/history"
	"github.com/takuphilchan/offgrid-t2i/internal/hub"
	"github.com/takuphilchan/offgrid-t2i/internal/imagegen"
	"github.com/takuphilchan/offgrid-t2i/internal/logging"
	"github.com/takuphilchan/offgrid-t2i/internal/metrics"
	"github.com/takuphilchan/offgrid-t2i/internal/ratelimit"
	"github.com/takuphilchan/offgrid-t2i/internal/resource"
	"github.com/takuphilchan/offgrid-t2i/internal/validation"
)

// Version is reported by the root endpoint.
const Version = "0.1.0"

const shutdownTimeout = 30 * time.Second

// Generator runs and cancels image generations.
type Generator interface {
	Generate(ctx context.Context, req imagegen.Request) (*imagegen.Result, error)
	Cancel(requestID string) bool
	Active() int
	AvailableModels() []catalog.ImageModel
}

// ModelLister lists hub model identifiers.
type ModelLister interface {
	IDs(ctx context.Context, opts hub.ListOptions) ([]string, error)
}

// HistoryReader returns recent generations.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]history.Entry, error)
}

// StatsProvider returns the latest host sample.
type StatsProvider interface {
	GetStats() resource.Stats
}

// Options wires a Server. Config, Generator and Lister are required.
type Options struct {
	Config      *config.Config
	Generator   Generator
	Lister      ModelLister
	History     HistoryReader
	Monitor     StatsProvider
	Metrics     *metrics.Metrics
	Limiter     ratelimit.Limiter
	Concurrency *ratelimit.Concurrency
	Logger      *logging.Logger
}

// Server represents the HTTP server
type Server struct {
	httpServer *http.Server
	config     *config.Config
	generator  Generator
	lister     ModelLister
	history    HistoryReader
	monitor    StatsProvider
	metrics    *metrics.Metrics
	limiter    ratelimit.Limiter
	slots      *ratelimit.Concurrency
	validator  *validation.Validator
	log        *logging.Logger
	started    time.Time
}

// New creates a new server instance
func New(opts Options) (*Server, error) {
	if opts.Config == nil {
		return nil, errors.New("server: config is required")
	}
	if opts.Generator == nil {
		return nil, errors.New("server: generator is required")
	}
	if opts.Lister == nil {
		return nil, errors.New("server: lister is required")
	}

	cfg := opts.Config
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Limiter == nil && cfg.RateLimit > 0 {
		opts.Limiter = ratelimit.NewMemory(cfg.RateLimit, time.Minute, cfg.RateLimit)
	}
	if opts.Concurrency == nil {
		opts.Concurrency = ratelimit.NewConcurrency(cfg.MaxPerClient, cfg.MaxConcurrent)
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}

	keys := make([]string, 0)
	for _, m := range opts.Generator.AvailableModels() {
		keys = append(keys, m.Key)
	}

	return &Server{
		config:    cfg,
		generator: opts.Generator,
		lister:    opts.Lister,
		history:   opts.History,
		monitor:   opts.Monitor,
		metrics:   opts.Metrics,
		limiter:   opts.Limiter,
		slots:     opts.Concurrency,
		validator: validation.New(keys),
		log:       opts.Logger.With(map[string]any{"component": "server"}),
		started:   time.Now(),
	}, nil
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", s.metrics.Handler())

	mux.HandleFunc("GET /api/image/models", s.handleImageModels)
	mux.HandleFunc("POST /api/image/generate", s.limitGenerations(s.handleGenerate))
	mux.HandleFunc("POST /api/image/cancel", s.handleCancel)
	mux.HandleFunc("GET /api/image/history", s.handleHistory)
	mux.HandleFunc("GET /api/hub/models", s.handleHubModels)

	// metrics sits next to the mux so it sees the matched pattern
	var h http.Handler = s.metrics.Middleware(mux)
	h = s.corsMiddleware(h)
	h = s.loggingMiddleware(h)
	h = s.recoveryMiddleware(h)
	return h
}

// Start starts the HTTP server and blocks until ctx is cancelled or a
// shutdown signal arrives.
func (s *Server) Start(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	s.httpServer = &http.Server{
		Addr:              s.config.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      s.config.RequestTimeout() + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server starting", map[string]any{"addr": "http://" + s.config.Addr()})
		s.log.Info("api endpoints: GET /api/image/models, POST /api/image/generate, POST /api/image/cancel, GET /api/image/history, GET /api/hub/models, GET /health, GET /metrics")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server error: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutdown signal received, gracefully stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.log.Info("server stopped")
	return nil
}
