// Package api exposes the HTTP interface for the scraping service.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scrapewizard/scrapewizard/internal/config"
	"github.com/scrapewizard/scrapewizard/internal/metrics"
	"github.com/scrapewizard/scrapewizard/internal/scraper"
)

// Retrier re-submits the failed URLs of a run as single-URL jobs.
type Retrier interface {
	Retry(ctx context.Context, projectID, runID string) (int, error)
}

// Enqueuer hands tasks to the background worker pool.
type Enqueuer interface {
	Enqueue(ctx context.Context, task scraper.Task) error
}

// ScheduleReloader re-syncs cron entries after schedules change. Nil when the
// scheduler is disabled.
type ScheduleReloader interface {
	Reload(ctx context.Context) error
}

// Stores bundles the persistence interfaces the handlers need.
type Stores struct {
	Runs      scraper.RunStore
	Results   scraper.ResultStore
	Projects  scraper.ProjectStore
	Templates scraper.TemplateStore
	Schedules scraper.ScheduleStore
}

// Server wires HTTP handlers to the stores, queue, and broker.
type Server struct {
	router    chi.Router
	stores    Stores
	enqueuer  Enqueuer
	retrier   Retrier
	broker    scraper.Broker
	scheduler ScheduleReloader
	idGen     scraper.IDGenerator
	clock     scraper.Clock
	cfg       config.Config
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	stores Stores,
	enqueuer Enqueuer,
	retrier Retrier,
	broker scraper.Broker,
	scheduler ScheduleReloader,
	idGen scraper.IDGenerator,
	clock scraper.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		stores:    stores,
		enqueuer:  enqueuer,
		retrier:   retrier,
		broker:    broker,
		scheduler: scheduler,
		idGen:     idGen,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}

	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	// Health checks and the Prometheus scrape endpoint stay open even when
	// API-key auth is on.
	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}

		// The stream endpoint holds its connection open, so the request
		// timeout applies only to the plain JSON routes.
		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(cfg.ServerTimeout()))

			r.Route("/projects", func(r chi.Router) {
				r.Post("/", s.createProject)
				r.Get("/", s.listProjects)
				r.Route("/{project_id}", func(r chi.Router) {
					r.Get("/", s.getProject)
					r.Put("/", s.updateProject)
					r.Delete("/", s.deleteProject)
					r.Post("/runs", s.createRun)
					r.Get("/runs", s.listRuns)
					r.Post("/runs/{run_id}/retry", s.retryRun)
				})
			})
			r.Route("/runs/{run_id}", func(r chi.Router) {
				r.Get("/", s.getRun)
				r.Put("/", s.updateRun)
				r.Delete("/", s.deleteRun)
				r.Get("/results", s.listResults)
			})
			r.Route("/templates", func(r chi.Router) {
				r.Post("/", s.createTemplate)
				r.Get("/", s.listTemplates)
				r.Get("/{template_id}", s.getTemplate)
				r.Delete("/{template_id}", s.deleteTemplate)
			})
			r.Route("/schedules", func(r chi.Router) {
				r.Post("/", s.createSchedule)
				r.Get("/", s.listSchedules)
				r.Get("/{schedule_id}", s.getSchedule)
				r.Delete("/{schedule_id}", s.deleteSchedule)
			})
		})

		r.Get("/runs/{run_id}/stream", s.streamRun)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type requestIDKey struct{}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

// Flush keeps the SSE endpoint streaming through the logging wrapper.
func (sw *statusWriter) Flush() {
	if f, ok := sw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
