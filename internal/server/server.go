// Package server exposes linkage runs and their results over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/storm-asset-linker/internal/model"
	"github.com/couchcryptid/storm-asset-linker/internal/observability"
	"github.com/couchcryptid/storm-asset-linker/internal/pipeline"
	"github.com/couchcryptid/storm-asset-linker/internal/store"
)

const requestTimeout = 25 * time.Second

// Store is the read side of the run store.
type Store interface {
	ListLinkages(ctx context.Context, f *store.LinkageFilter) ([]model.Linkage, int, error)
	LatestRun(ctx context.Context) (*model.RunReport, error)
	GetRun(ctx context.Context, runID string) (*model.RunReport, error)
	Summarize(ctx context.Context, runID string) (*store.RunSummary, error)
}

// RunStarter launches linkage runs in the background.
type RunStarter interface {
	Start(ctx context.Context, done func(*pipeline.Outcome, error)) error
}

// Deps are the collaborators of the HTTP API. Runner may be nil, in which
// case POST /api/v1/runs is not mounted.
type Deps struct {
	Store         Store
	Runner        RunStarter
	Readiness     observability.ReadinessChecker
	Metrics       *observability.Metrics
	Logger        *slog.Logger
	MaxConcurrent int
}

// NewRouter builds the chi router. Runs triggered over HTTP live until ctx
// is cancelled rather than until the triggering request ends.
func NewRouter(ctx context.Context, d Deps) http.Handler {
	if d.MaxConcurrent <= 0 {
		d.MaxConcurrent = 1
	}
	h := &handlers{store: d.Store, runner: d.Runner, logger: d.Logger, runCtx: ctx}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.AllowAll().Handler)
	r.Use(observability.MetricsMiddleware(d.Metrics))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(ConcurrencyLimit(d.MaxConcurrent))
		r.Get("/linkages", h.listLinkages)
		r.Get("/linkages.csv", h.exportLinkages)
		r.Get("/runs/latest", h.latestRun)
		r.Get("/runs/{runID}", h.getRun)
		r.Get("/runs/{runID}/summary", h.runSummary)
		if d.Runner != nil {
			r.Post("/runs", h.startRun)
		}
	})

	r.Get("/healthz", observability.LivenessHandler())
	r.Get("/readyz", observability.ReadinessHandler(d.Readiness))
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// New wraps handler in an http.Server with request and connection timeouts.
func New(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              ":" + port,
		Handler:           http.TimeoutHandler(handler, requestTimeout, `{"errors":[{"message":"request timeout"}]}`),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully
// within shutdownTimeout.
func ListenAndServe(ctx context.Context, srv *http.Server, shutdownTimeout time.Duration, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server started", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
