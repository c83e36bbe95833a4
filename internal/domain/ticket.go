package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type TicketState string

const (
	TicketStatePending  TicketState = "pending"
	TicketStateApproved TicketState = "approved"
	TicketStateRejected TicketState = "rejected"
	TicketStateClosed   TicketState = "closed"
)

// Terminal reports whether no further transition is possible.
func (s TicketState) Terminal() bool {
	return s == TicketStateApproved || s == TicketStateRejected || s == TicketStateClosed
}

// TicketInfo is what the session side needs to follow a review ticket.
type TicketInfo struct {
	DetailURL    string `json:"detail_url"`
	CheckHandle  string `json:"check_handle"`
	CancelHandle string `json:"cancel_handle"`
}

// ReviewTicket is a human-review request for one command.
type ReviewTicket struct {
	ID                uuid.UUID   `json:"id"`
	OrgID             uuid.UUID   `json:"org_id"`
	SessionID         uuid.UUID   `json:"session_id"`
	ACLID             uuid.UUID   `json:"acl_id"`
	Command           string      `json:"command"`
	State             TicketState `json:"state"`
	Reviewer          string      `json:"reviewer,omitempty"`
	MessengerThreadID string      `json:"messenger_thread_id,omitempty"`
	MessengerPlatform string      `json:"messenger_platform,omitempty"`
	TimeoutAt         *time.Time  `json:"timeout_at,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
	ResolvedAt        *time.Time  `json:"resolved_at,omitempty"`
}

type TicketRepository interface {
	Create(ctx context.Context, t *ReviewTicket) error
	GetByID(ctx context.Context, id uuid.UUID) (*ReviewTicket, error)
	GetByThreadID(ctx context.Context, platform, threadID string) (*ReviewTicket, error)
	SetThread(ctx context.Context, id uuid.UUID, platform, threadID string) error
	// Resolve moves a pending ticket to a terminal state. It returns
	// ErrConflict when the ticket is no longer pending.
	Resolve(ctx context.Context, id uuid.UUID, state TicketState, reviewer string) error
	ListExpired(ctx context.Context) ([]*ReviewTicket, error)
}
