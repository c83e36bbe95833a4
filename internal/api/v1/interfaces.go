package v1

import (
	"context"

	"github.com/google/uuid"

	"github.com/gosuda/chatgate/internal/domain"
	"github.com/gosuda/chatgate/internal/session"
)

// SessionManager opens and looks up live sessions.
// *session.Manager satisfies this interface.
type SessionManager interface {
	Open(ctx context.Context, req session.OpenRequest) (*session.Session, error)
	Get(id uuid.UUID) (*session.Session, error)
}

// ExecutorResolver maps a session protocol to its executor.
// *executor.Registry satisfies this interface.
type ExecutorResolver interface {
	Get(protocol string) (session.Executor, error)
}

// AuditService abstracts the durable audit records for handler testing.
// *gateway.Service satisfies this interface.
type AuditService interface {
	GetSession(ctx context.Context, sessionID uuid.UUID) (*domain.Session, error)
	ListSessions(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*domain.Session, error)
	ListCommands(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]*domain.CommandRecord, error)
	IssueTask(ctx context.Context, sessionID uuid.UUID, action domain.TaskAction) (*domain.Task, error)
	GetTicket(ctx context.Context, ticketID uuid.UUID) (*domain.ReviewTicket, error)
	ResolveTicket(ctx context.Context, ticketID uuid.UUID, approve bool, reviewer string) (*domain.ReviewTicket, error)
}
