package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/chatgate/internal/domain"
)

// OpenRequest describes a session to open.
type OpenRequest struct {
	OrgID          uuid.UUID
	UserRef        string
	AccountRef     string
	AssetRef       string
	LoginChannel   string
	Protocol       string
	RemoteAddr     string
	ExpireAt       time.Time
	MaxIdleMinutes int
}

// Manager opens sessions and tracks them in a Registry.
type Manager struct {
	gateway  Gateway
	pubsub   PubSubPublisher
	registry *Registry
	cfg      Config
}

func NewManager(gw Gateway, pubsub PubSubPublisher, registry *Registry, cfg Config) *Manager {
	return &Manager{
		gateway:  gw,
		pubsub:   pubsub,
		registry: registry,
		cfg:      cfg.withDefaults(),
	}
}

// Registry returns the registry of live sessions.
func (m *Manager) Registry() *Registry { return m.registry }

// Open creates the durable session record, registers the session and
// activates it. A gateway failure is fatal: no session is created.
func (m *Manager) Open(ctx context.Context, req OpenRequest) (*Session, error) {
	info := &domain.Session{
		ID:             uuid.New(),
		UserRef:        req.UserRef,
		AccountRef:     req.AccountRef,
		AssetRef:       req.AssetRef,
		OrgID:          req.OrgID,
		LoginChannel:   req.LoginChannel,
		Protocol:       req.Protocol,
		StartedAt:      time.Now(),
		RemoteAddr:     req.RemoteAddr,
		ExpireAt:       req.ExpireAt,
		MaxIdleMinutes: req.MaxIdleMinutes,
	}
	if info.MaxIdleMinutes <= 0 {
		info.MaxIdleMinutes = m.cfg.DefaultMaxIdleMinutes
	}

	acls, err := m.gateway.CreateSession(ctx, info)
	if err != nil {
		return nil, fmt.Errorf("session.Manager.Open: %w: %w", domain.ErrGatewayFatal, err)
	}

	s := newSession(info, acls, m.cfg, m.gateway, m.pubsub, m.registry)
	// Lookups through the registry only ever see activated sessions.
	s.Activate()
	if err := m.registry.Add(s); err != nil {
		if closeErr := s.Close(ctx); closeErr != nil {
			log.Error().Err(closeErr).Str("session_id", info.ID.String()).Msg("session.Manager.Open: close unregistered session")
		}
		return nil, fmt.Errorf("session.Manager.Open: %w", err)
	}

	log.Info().
		Str("session_id", info.ID.String()).
		Str("user", info.UserRef).
		Str("asset", info.AssetRef).
		Int("acls", len(acls)).
		Msg("session.Manager.Open: session opened")

	return s, nil
}

// Get returns a live session.
func (m *Manager) Get(id uuid.UUID) (*Session, error) {
	s, err := m.registry.Get(id)
	if err != nil {
		return nil, fmt.Errorf("session.Manager.Get: %w", err)
	}
	return s, nil
}

// CloseAll closes every live session, used on shutdown.
func (m *Manager) CloseAll(ctx context.Context) error {
	if err := m.registry.CloseAll(ctx); err != nil {
		return fmt.Errorf("session.Manager.CloseAll: %w", err)
	}
	return nil
}
