package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type RouterConfig struct {
	Scheduler Scheduler
	DB        Pinger
	Redis     *redis.Client       // optional
	Gatherer  prometheus.Gatherer // nil serves the default registry
	Location  *time.Location      // clinic time zone for date parameters
	Logger    *zap.Logger
	Env       string
	Version   string
}

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	v := newRequestValidator()

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	health := NewHealthHandler(cfg.DB, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	} else {
		r.Handle("/metrics", promhttp.Handler())
	}

	svc := cfg.Scheduler

	r.Get("/doctors/{id}/slots", findSlotsHandler(svc, cfg.Location))
	r.Get("/doctors/{id}/waitlist", listWaitlistHandler(svc))

	r.Post("/appointments", createAppointmentHandler(svc, v))
	r.Get("/appointments/{id}", getAppointmentHandler(svc))
	r.Post("/appointments/{id}/{action}", transitionAppointmentHandler(svc))

	r.Post("/optimize", optimizeHandler(svc, v))

	r.Post("/waitlist", addToWaitlistHandler(svc, v, cfg.Location))
	r.Post("/waitlist/sweep", sweepHandler(svc, cfg.Logger))
	r.Post("/waitlist/{id}/accept", acceptWaitlistOfferHandler(svc))
	r.Post("/waitlist/{id}/cancel", cancelWaitlistEntryHandler(svc))

	return r
}
