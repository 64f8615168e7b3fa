// Package api exposes the REST surface consumed by the admin console.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/faithflow/mailroom/internal/config"
	"github.com/faithflow/mailroom/internal/metrics"
)

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	handlers   *Handlers
	cfg        *config.ServerConfig
	metrics    *metrics.Metrics
	logger     *slog.Logger
	startTime  time.Time
}

// NewServer creates a new API server
func NewServer(h *Handlers, cfg *config.ServerConfig, m *metrics.Metrics, logger *slog.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		handlers:  h,
		cfg:       cfg,
		metrics:   m,
		logger:    logger.With("component", "api"),
		startTime: time.Now(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)

	if len(s.cfg.AllowedOrigins) > 0 {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.cfg.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	// Health check (no auth required)
	s.router.Get("/health", s.handlers.Health)

	// API v1 routes (auth required)
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Route("/campaigns", func(r chi.Router) {
			r.Post("/", s.handlers.CampaignCreate)
			r.Get("/", s.handlers.CampaignList)
			r.Get("/{id}", s.handlers.CampaignGet)
			r.Post("/{id}/send", s.handlers.CampaignSend)
			r.Post("/{id}/schedule", s.handlers.CampaignSchedule)
			r.Post("/{id}/cancel", s.handlers.CampaignCancel)
			r.Post("/{id}/test-send", s.handlers.CampaignTestSend)
			r.Get("/{id}/preview-recipients", s.handlers.CampaignPreviewRecipients)
			r.Get("/{id}/logs", s.handlers.CampaignLogs)
		})

		r.Route("/templates", func(r chi.Router) {
			r.Post("/", s.handlers.TemplateCreate)
			r.Get("/", s.handlers.TemplateList)
			r.Get("/{id}", s.handlers.TemplateGet)
			r.Put("/{id}", s.handlers.TemplateUpdate)
			r.Get("/{id}/preview", s.handlers.TemplatePreview)
		})

		r.Route("/queue", func(r chi.Router) {
			r.Get("/stats", s.handlers.QueueStats)
			r.Get("/jobs", s.handlers.JobList)
			r.Get("/jobs/{id}", s.handlers.JobGet)
			r.Post("/jobs/{id}/cancel", s.handlers.JobCancel)
		})

		r.Route("/entry-import", func(r chi.Router) {
			r.Post("/", s.handlers.ImportCreate)
			r.Get("/{id}", s.handlers.ImportGet)
			r.Post("/{id}/retry-failed", s.handlers.ImportRetryFailed)
		})
	})
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP API server", "addr", s.cfg.ListenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Router exposes the router for tests
func (s *Server) Router() http.Handler {
	return s.router
}
