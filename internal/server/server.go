package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	v1 "github.com/gosuda/chatgate/internal/api/v1"
	"github.com/gosuda/chatgate/internal/api/ws"
	"github.com/gosuda/chatgate/internal/config"
	gateslack "github.com/gosuda/chatgate/internal/messenger/slack"
	"github.com/gosuda/chatgate/internal/server/middleware"
)

// AuditService is what the HTTP and WebSocket layers read and write durable
// records through. *gateway.Service satisfies this interface.
type AuditService interface {
	v1.AuditService
	ws.SessionLookup
}

// Deps are the application services the server exposes.
type Deps struct {
	Sessions  v1.SessionManager
	Executors v1.ExecutorResolver
	Audit     AuditService
	PubSub    ws.Subscriber
	// Reviews is nil when Slack is not configured.
	Reviews ReviewResponder
}

// Server is the HTTP server that wires all application routes and middleware.
type Server struct {
	router     chi.Router
	httpServer *http.Server
}

// New creates a Server with all routes wired. ctx bounds the background
// cleanup of the rate limiters.
func New(ctx context.Context, cfg *config.Config, deps Deps) *Server {
	router := chi.NewRouter()

	// Global middleware stack.
	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(middleware.DefaultAccessLog())
	router.Use(chimw.Recoverer)
	router.Use(cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-Forwarded-For"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler)

	s := &Server{
		router: router,
		httpServer: &http.Server{
			Addr:         cfg.Server.Addr,
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT.Secret))
		r.Use(middleware.RequireOrg())
		r.Use(middleware.RateLimit(ctx, cfg.Server.RateRPS, cfg.Server.RateBurst))

		apiConfig := huma.DefaultConfig("Chatgate API", "1.0.0")
		apiConfig.Servers = []*huma.Server{
			{URL: "/api/v1"},
		}
		api := humachi.New(r, apiConfig)
		registerAPIRoutes(ctx, api, cfg, deps)
	})

	router.Route("/ws", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT.Secret))
		r.Use(middleware.RequireOrg())
		registerWSRoutes(r, ws.NewHub(deps.PubSub, deps.Audit))
	})

	// Slack webhook routes: real handler if configured, 501 placeholder otherwise.
	router.Route("/slack", func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(ctx, 10, 20))

		if deps.Reviews != nil && cfg.Slack.SigningSecret != "" {
			handler := gateslack.NewHandler(cfg.Slack.SigningSecret, &slackResponseAdapter{router: deps.Reviews})
			registerSlackRoutes(r, handler)
			log.Info().Msg("server.New: Slack review integration enabled")
			return
		}

		notImplemented := func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotImplemented)
		}
		r.Post("/events", notImplemented)
		r.Post("/interactions", notImplemented)
	})

	// Health check (unauthenticated).
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins listening for HTTP requests.
func (s *Server) Start(_ context.Context) error {
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.Start: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}
