package server

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	v1 "github.com/gosuda/chatgate/internal/api/v1"
	"github.com/gosuda/chatgate/internal/api/ws"
	"github.com/gosuda/chatgate/internal/config"
	gateslack "github.com/gosuda/chatgate/internal/messenger/slack"
	"github.com/gosuda/chatgate/internal/server/middleware"
)

func registerAPIRoutes(ctx context.Context, api huma.API, cfg *config.Config, deps Deps) {
	commandLimit := middleware.CommandRateLimit(ctx, api, cfg.Server.CommandRPS, cfg.Server.CommandBurst)
	v1.RegisterSessionRoutes(api, deps.Sessions, deps.Executors, deps.Audit, commandLimit)
	v1.RegisterTicketRoutes(api, deps.Audit)
}

func registerWSRoutes(r chi.Router, hub *ws.Hub) {
	r.Get("/sessions/{sessionID}", hub.ServeSession)
}

func registerSlackRoutes(r chi.Router, handler *gateslack.Handler) {
	r.Post("/events", handler.HandleEvents)
	r.Post("/interactions", handler.HandleInteractions)
}
