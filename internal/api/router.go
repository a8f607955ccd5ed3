// Package api exposes serve mode over HTTP.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/pkghub/hubcap/internal/metrics"
	"github.com/pkghub/hubcap/internal/sync"
)

// Config holds API router configuration
type Config struct {
	Catalog Catalog
	Runs    Runs
	// Hub is optional
	Hub     HubInfo
	HubRepo string
	// Trigger receives webhook-initiated runs
	Trigger sync.Trigger
	// WebhookSecret enables /webhooks/github when set
	WebhookSecret string
	// Tracked filters webhook repositories; nil accepts all
	Tracked func(fullName string) bool
	Logger  *slog.Logger
}

// NewRouter creates a new HTTP router with all API routes
func NewRouter(cfg Config) http.Handler {
	r := chi.NewRouter()

	// Base middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	handlers := NewHandlers(cfg.Catalog, cfg.Runs, cfg.Hub, cfg.HubRepo, cfg.Logger)

	r.Get("/metrics", metrics.Handler().ServeHTTP)

	if cfg.WebhookSecret != "" && cfg.Trigger != nil {
		webhookHandler := sync.NewWebhookHandler(cfg.WebhookSecret, cfg.Trigger, cfg.Tracked, cfg.Logger)
		r.Post("/webhooks/github", webhookHandler.ServeHTTP)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health", handlers.Health)
		r.Get("/ping", handlers.Ping)
		r.Get("/version", handlers.Version)

		r.Get("/runs/last", handlers.LastRun)

		r.Get("/packages", handlers.ListPackages)
		r.Get("/packages/{namespace}/{name}", handlers.GetPackage)
	})

	return r
}
