package v1_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/gosuda/chatgate/internal/domain"
	"github.com/gosuda/chatgate/internal/executor"
	"github.com/gosuda/chatgate/internal/replay"
	"github.com/gosuda/chatgate/internal/server/middleware"
	"github.com/gosuda/chatgate/internal/session"
)

// ---------------------------------------------------------------------------
// Context helpers: inject org/user/role into context for PostCtx/GetCtx
// ---------------------------------------------------------------------------

func userCtx(orgID uuid.UUID, userRef string) context.Context {
	return middleware.WithIdentity(context.Background(), orgID, userRef, middleware.RoleMember)
}

func adminCtx(orgID uuid.UUID) context.Context {
	return middleware.WithIdentity(context.Background(), orgID, "root-admin", middleware.RoleAdmin)
}

func reviewerCtx(orgID uuid.UUID, userRef string) context.Context {
	return middleware.WithIdentity(context.Background(), orgID, userRef, middleware.RoleReviewer)
}

// ---------------------------------------------------------------------------
// Session gateway fake backing a real session.Manager
// ---------------------------------------------------------------------------

type fakeSessionGateway struct {
	mu        sync.Mutex
	acls      []domain.CommandACL
	createErr error
	created   []domain.Session
	commands  []domain.CommandRecord
}

func (g *fakeSessionGateway) CreateSession(_ context.Context, s *domain.Session) ([]domain.CommandACL, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.created = append(g.created, *s)
	return g.acls, nil
}

func (g *fakeSessionGateway) FinishSession(context.Context, uuid.UUID, time.Time) error { return nil }

func (g *fakeSessionGateway) UploadCommand(_ context.Context, rec *domain.CommandRecord) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.commands = append(g.commands, *rec)
	return nil
}

func (g *fakeSessionGateway) UploadReplayFile(context.Context, uuid.UUID, string) error { return nil }

func (g *fakeSessionGateway) CreateCommandTicket(context.Context, uuid.UUID, uuid.UUID, string) (*domain.TicketInfo, error) {
	return nil, errors.New("tickets disabled")
}

func (g *fakeSessionGateway) CheckTicketState(context.Context, string) (domain.TicketState, error) {
	return domain.TicketStatePending, nil
}

func (g *fakeSessionGateway) CancelTicket(context.Context, string) error { return nil }

func (g *fakeSessionGateway) lastCreated() domain.Session {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.created[len(g.created)-1]
}

type nopPubSub struct{}

func (nopPubSub) Publish(context.Context, string, []byte) error { return nil }

func newManager(t *testing.T, gw *fakeSessionGateway) *session.Manager {
	t.Helper()

	mgr := session.NewManager(gw, nopPubSub{}, session.NewRegistry(), session.Config{
		Replay:       replay.Config{Dir: t.TempDir()},
		CloseTimeout: 5 * time.Second,
	})
	t.Cleanup(func() { _ = mgr.CloseAll(context.Background()) })
	return mgr
}

func echoRegistry() *executor.Registry {
	reg := executor.NewRegistry()
	reg.Register("http", session.ExecutorFunc(func(_ context.Context, _ *domain.Session, cmd string) (string, error) {
		if cmd == "fail" {
			return "", errors.New("upstream down")
		}
		return "ran: " + cmd, nil
	}))
	return reg
}

func rejectRule(pattern string) domain.CommandACL {
	return domain.CommandACL{
		ID:     uuid.New(),
		Name:   "dangerous",
		Action: domain.ACLActionReject,
		Groups: []domain.CommandGroup{{ID: uuid.New(), Name: "blocked", Pattern: pattern}},
	}
}

// ---------------------------------------------------------------------------
// Mock AuditService
// ---------------------------------------------------------------------------

type mockAudit struct {
	getSessionFunc    func(ctx context.Context, id uuid.UUID) (*domain.Session, error)
	listSessionsFunc  func(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*domain.Session, error)
	listCommandsFunc  func(ctx context.Context, id uuid.UUID, limit, offset int) ([]*domain.CommandRecord, error)
	issueTaskFunc     func(ctx context.Context, id uuid.UUID, action domain.TaskAction) (*domain.Task, error)
	getTicketFunc     func(ctx context.Context, id uuid.UUID) (*domain.ReviewTicket, error)
	resolveTicketFunc func(ctx context.Context, id uuid.UUID, approve bool, reviewer string) (*domain.ReviewTicket, error)
}

func (m *mockAudit) GetSession(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	return m.getSessionFunc(ctx, id)
}

func (m *mockAudit) ListSessions(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*domain.Session, error) {
	return m.listSessionsFunc(ctx, orgID, limit, offset)
}

func (m *mockAudit) ListCommands(ctx context.Context, id uuid.UUID, limit, offset int) ([]*domain.CommandRecord, error) {
	return m.listCommandsFunc(ctx, id, limit, offset)
}

func (m *mockAudit) IssueTask(ctx context.Context, id uuid.UUID, action domain.TaskAction) (*domain.Task, error) {
	return m.issueTaskFunc(ctx, id, action)
}

func (m *mockAudit) GetTicket(ctx context.Context, id uuid.UUID) (*domain.ReviewTicket, error) {
	return m.getTicketFunc(ctx, id)
}

func (m *mockAudit) ResolveTicket(ctx context.Context, id uuid.UUID, approve bool, reviewer string) (*domain.ReviewTicket, error) {
	return m.resolveTicketFunc(ctx, id, approve, reviewer)
}

func notFoundSession(context.Context, uuid.UUID) (*domain.Session, error) {
	return nil, domain.ErrNotFound
}
