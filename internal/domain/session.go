package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Session is the durable record of one interactive run against an AI protocol.
type Session struct {
	ID             uuid.UUID  `json:"id"`
	UserRef        string     `json:"user_ref"`
	AccountRef     string     `json:"account_ref"`
	AssetRef       string     `json:"asset_ref"`
	OrgID          uuid.UUID  `json:"org_id"`
	LoginChannel   string     `json:"login_channel"` // "web", "api", "slack"
	Protocol       string     `json:"protocol"`      // executor name, e.g. "http", "docker"
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	RemoteAddr     string     `json:"remote_addr,omitempty"`
	ExpireAt       time.Time  `json:"expire_at"`
	MaxIdleMinutes int        `json:"max_idle_minutes"`
}

// Finished reports whether the session record has been finalized.
func (s *Session) Finished() bool {
	return s.EndedAt != nil
}

// MaxIdle returns the idle window as a duration.
func (s *Session) MaxIdle() time.Duration {
	return time.Duration(s.MaxIdleMinutes) * time.Minute
}

type SessionRepository interface {
	Create(ctx context.Context, s *Session) error
	GetByID(ctx context.Context, id uuid.UUID) (*Session, error)
	Finish(ctx context.Context, id uuid.UUID, endedAt time.Time) error
	ListByOrg(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*Session, error)
}
