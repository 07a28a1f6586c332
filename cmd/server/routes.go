package main

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/DukeRupert/mediaproof/internal/handler"
	"github.com/DukeRupert/mediaproof/internal/metrics"
	"github.com/DukeRupert/mediaproof/internal/middleware"
	"github.com/DukeRupert/mediaproof/internal/session"
)

// routerConfig is everything the router mounts.
type routerConfig struct {
	API      *handler.API
	Sessions *session.Manager
	Logger   *slog.Logger

	// SignInLimiter throttles POST /v1/sessions per client IP.
	SignInLimiter *middleware.RateLimiter

	MetricsEnabled  bool
	MetricsUsername string
	MetricsPassword string

	// FilesPrefix and FilesDir serve locally stored uploads so their
	// locators resolve. Empty FilesDir mounts nothing.
	FilesPrefix string
	FilesDir    string
}

func newRouter(cfg routerConfig) http.Handler {
	loggingMw := middleware.NewRequestLoggingMiddleware(cfg.Logger)
	sessionMw := middleware.NewSessionMiddleware(cfg.Sessions, cfg.Logger)
	signInMw := middleware.NewRateLimitMiddleware(cfg.SignInLimiter, cfg.Logger)

	r := chi.NewRouter()
	r.Use(metrics.Middleware)
	r.Use(loggingMw.Handler)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		handler.NotFoundResponse(w, r, cfg.Logger)
	})

	// Health check
	r.Get("/health", handler.Health)

	if cfg.MetricsEnabled {
		metricsAuth := middleware.NewMetricsAuthMiddleware(cfg.MetricsUsername, cfg.MetricsPassword, cfg.Logger)
		r.With(metricsAuth.Handler).Handle("/metrics", promhttp.Handler())
	}

	if cfg.FilesDir != "" {
		prefix := "/" + strings.Trim(cfg.FilesPrefix, "/") + "/"
		fs := http.StripPrefix(prefix, http.FileServer(http.Dir(cfg.FilesDir)))
		r.Handle(prefix+"*", fs)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/plans", cfg.API.ListPlans)

		r.With(signInMw.Limit).Post("/sessions", cfg.API.SignIn)

		r.Route("/sessions/{"+middleware.IdentityParam+"}", func(r chi.Router) {
			r.Use(sessionMw.RequireSession)

			r.Get("/", cfg.API.GetState)
			r.Put("/plan", cfg.API.ChangePlan)
			r.Post("/credits", cfg.API.GrantCredit)
			r.Post("/submissions", cfg.API.Submit)
			r.Get("/submissions/current", cfg.API.GetAttempt)
			r.Delete("/submissions/current", cfg.API.ResetAttempt)
			r.Get("/history", cfg.API.ListHistory)
		})
	})

	return r
}
