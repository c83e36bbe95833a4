package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/chatgate/internal/domain"
	"github.com/gosuda/chatgate/internal/server/middleware"
	redisstore "github.com/gosuda/chatgate/internal/store/redis"
)

// Subscriber is the pub/sub side the hub reads events from.
// *redisstore.PubSub satisfies this interface.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error)
}

// SessionLookup loads the durable session record used for access checks.
type SessionLookup interface {
	GetSession(ctx context.Context, sessionID uuid.UUID) (*domain.Session, error)
}

// Hub streams session status events to WebSocket clients. Events are read
// from Redis, so a client may attach to any gateway process.
type Hub struct {
	pubsub   Subscriber
	sessions SessionLookup
}

// NewHub creates a new WebSocket hub.
func NewHub(pubsub Subscriber, sessions SessionLookup) *Hub {
	return &Hub{pubsub: pubsub, sessions: sessions}
}

// ServeSession handles WebSocket connections for one session's events.
// Subscribes to Redis channel "session:<sessionID>" and closes the socket
// after forwarding the finish event.
func (h *Hub) ServeSession(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}

	if status, msg := h.authorize(r.Context(), sessionID); status != http.StatusOK {
		http.Error(w, msg, status)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws.Hub.ServeSession: accept")
		return
	}
	defer conn.CloseNow()

	// Clients only listen; CloseRead handles control frames and cancels ctx
	// when the peer goes away.
	ctx := conn.CloseRead(r.Context())

	messages, cleanup, err := h.pubsub.Subscribe(ctx, redisstore.SessionChannel(sessionID))
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID.String()).Msg("ws.Hub.ServeSession: subscribe")
		_ = conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}
	defer cleanup()

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "connection closed")
			return
		case msg, ok := <-messages:
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "channel closed")
				return
			}
			if writeErr := conn.Write(ctx, websocket.MessageText, msg); writeErr != nil {
				log.Debug().Err(writeErr).Msg("ws.Hub.ServeSession: write")
				return
			}
			if isFinish(msg) {
				_ = conn.Close(websocket.StatusNormalClosure, "session finished")
				return
			}
		}
	}
}

func (h *Hub) authorize(ctx context.Context, sessionID uuid.UUID) (int, string) {
	orgID, ok := middleware.OrgIDFromContext(ctx)
	if !ok {
		return http.StatusForbidden, "missing org"
	}
	userRef, _ := middleware.UserRefFromContext(ctx)

	s, err := h.sessions.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return http.StatusNotFound, "session not found"
		}
		log.Error().Err(err).Str("session_id", sessionID.String()).Msg("ws.Hub.authorize: lookup")
		return http.StatusInternalServerError, "session lookup failed"
	}

	if s.OrgID != orgID {
		return http.StatusNotFound, "session not found"
	}
	if s.UserRef != userRef && !middleware.HasRole(ctx, middleware.RoleAdmin) {
		return http.StatusNotFound, "session not found"
	}
	if s.Finished() {
		return http.StatusGone, "session finished"
	}
	return http.StatusOK, ""
}

func isFinish(msg []byte) bool {
	var evt struct {
		Type domain.EventType `json:"type"`
	}
	if err := json.Unmarshal(msg, &evt); err != nil {
		return false
	}
	return evt.Type == domain.EventFinish
}
