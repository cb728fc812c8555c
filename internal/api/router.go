// Package api serves the scan job surface over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/tooeysb/gmail-obsidian-integration/internal/metrics"
	"github.com/tooeysb/gmail-obsidian-integration/internal/model"
)

// JobService starts and inspects scan jobs.
type JobService interface {
	Start(ctx context.Context, userID string, labels []string) (string, error)
	Status(ctx context.Context, jobID string) (*model.Job, error)
	Cancel(ctx context.Context, jobID string) error
	Results(ctx context.Context, jobID string) (*model.JobResults, error)
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config configures the router.
type Config struct {
	CORSOrigins []string
	Metrics     *metrics.Metrics
}

// NewRouter builds the HTTP handler.
func NewRouter(jobs JobService, health Pinger, cfg Config) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger)
	r.Use(chimw.Recoverer)

	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type"},
			ExposedHeaders: []string{"X-Request-Id"},
			MaxAge:         300,
		}))
	}

	h := &Handler{Jobs: jobs, Health: health}
	r.Get("/health", h.Healthz)
	r.Handle("/metrics", cfg.Metrics.Handler())

	r.Route("/scan", func(r chi.Router) {
		r.Post("/start", h.Start)
		r.Get("/status/{jobID}", h.Status)
		r.Post("/cancel/{jobID}", h.Cancel)
		r.Get("/results/{jobID}", h.Results)
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", chimw.GetReqID(r.Context())),
		)
	})
}
