// Package gateway is the audit gateway: the durable side of every session,
// command, review ticket, replay and dispatch task.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/chatgate/internal/domain"
)

const defaultTicketTimeout = 3 * time.Minute

// PubSub abstracts the Redis pub/sub operations used by the gateway.
type PubSub interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error)
}

// TicketNotifier tells reviewers about tickets. Implemented by messenger.Router.
type TicketNotifier interface {
	AnnounceTicket(ctx context.Context, t *domain.ReviewTicket, detailURL string) error
	TicketResolved(ctx context.Context, t *domain.ReviewTicket) error
}

// Repositories groups the stores the gateway persists to.
type Repositories struct {
	Sessions domain.SessionRepository
	ACLs     domain.ACLRepository
	Commands domain.CommandRepository
	Tickets  domain.TicketRepository
	Tasks    domain.TaskRepository
	Replays  domain.ReplayRepository
}

// Service implements session.Gateway, acl.TicketGateway and dispatch.Gateway
// on top of PostgreSQL and Redis.
type Service struct {
	repos         Repositories
	pubsub        PubSub
	notifier      TicketNotifier
	archiveDir    string
	baseURL       string
	ticketTimeout time.Duration
}

// Option configures optional Service parameters.
type Option func(*Service)

// WithNotifier routes new and resolved tickets to reviewers.
func WithNotifier(n TicketNotifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

// WithArchiveDir sets where sealed recordings are archived.
func WithArchiveDir(dir string) Option {
	return func(s *Service) {
		s.archiveDir = dir
	}
}

// WithBaseURL sets the public URL used to build ticket detail links.
func WithBaseURL(u string) Option {
	return func(s *Service) {
		s.baseURL = strings.TrimRight(u, "/")
	}
}

// WithTicketTimeout sets how long a review ticket stays pending.
func WithTicketTimeout(d time.Duration) Option {
	return func(s *Service) {
		s.ticketTimeout = d
	}
}

func New(repos Repositories, pubsub PubSub, opts ...Option) *Service {
	s := &Service{
		repos:         repos,
		pubsub:        pubsub,
		archiveDir:    "archive",
		ticketTimeout: defaultTicketTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateSession returns the org's ACLs in priority order and persists the
// new session. Nothing is persisted when the ACLs cannot be loaded.
func (s *Service) CreateSession(ctx context.Context, sess *domain.Session) ([]domain.CommandACL, error) {
	acls, err := s.repos.ACLs.ListByOrg(ctx, sess.OrgID)
	if err != nil {
		return nil, fmt.Errorf("gateway.Service.CreateSession: list acls: %w", err)
	}

	if err := s.repos.Sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("gateway.Service.CreateSession: %w", err)
	}

	return acls, nil
}

func (s *Service) FinishSession(ctx context.Context, sessionID uuid.UUID, endedAt time.Time) error {
	if err := s.repos.Sessions.Finish(ctx, sessionID, endedAt); err != nil {
		return fmt.Errorf("gateway.Service.FinishSession: %w", err)
	}
	return nil
}

func (s *Service) UploadCommand(ctx context.Context, rec *domain.CommandRecord) error {
	if err := s.repos.Commands.Create(ctx, rec); err != nil {
		return fmt.Errorf("gateway.Service.UploadCommand: %w", err)
	}
	return nil
}

// CreateCommandTicket opens a pending review ticket and announces it to
// reviewers. The ticket id doubles as the check and cancel handle.
func (s *Service) CreateCommandTicket(ctx context.Context, sessionID, aclID uuid.UUID, command string) (*domain.TicketInfo, error) {
	sess, err := s.repos.Sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("gateway.Service.CreateCommandTicket: get session: %w", err)
	}

	now := time.Now()
	timeoutAt := now.Add(s.ticketTimeout)
	t := &domain.ReviewTicket{
		ID:        uuid.New(),
		OrgID:     sess.OrgID,
		SessionID: sessionID,
		ACLID:     aclID,
		Command:   command,
		State:     domain.TicketStatePending,
		TimeoutAt: &timeoutAt,
		CreatedAt: now,
	}
	if err := s.repos.Tickets.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("gateway.Service.CreateCommandTicket: %w", err)
	}

	detailURL := s.baseURL + "/api/v1/tickets/" + t.ID.String()

	if s.notifier != nil {
		if err := s.notifier.AnnounceTicket(ctx, t, detailURL); err != nil {
			log.Warn().Err(err).Str("ticket_id", t.ID.String()).Msg("gateway.Service.CreateCommandTicket: announce failed")
		}
	}

	return &domain.TicketInfo{
		DetailURL:    detailURL,
		CheckHandle:  t.ID.String(),
		CancelHandle: t.ID.String(),
	}, nil
}

func (s *Service) CheckTicketState(ctx context.Context, checkHandle string) (domain.TicketState, error) {
	id, err := uuid.Parse(checkHandle)
	if err != nil {
		return "", fmt.Errorf("gateway.Service.CheckTicketState: parse handle: %w", err)
	}

	t, err := s.repos.Tickets.GetByID(ctx, id)
	if err != nil {
		return "", fmt.Errorf("gateway.Service.CheckTicketState: %w", err)
	}

	return t.State, nil
}

// CancelTicket closes a pending ticket. A ticket that was already resolved
// is left as is.
func (s *Service) CancelTicket(ctx context.Context, cancelHandle string) error {
	id, err := uuid.Parse(cancelHandle)
	if err != nil {
		return fmt.Errorf("gateway.Service.CancelTicket: parse handle: %w", err)
	}

	if _, err := s.resolve(ctx, id, domain.TicketStateClosed, ""); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil
		}
		return fmt.Errorf("gateway.Service.CancelTicket: %w", err)
	}

	return nil
}

// ResolveTicket records a reviewer's decision on a pending ticket.
func (s *Service) ResolveTicket(ctx context.Context, ticketID uuid.UUID, approve bool, reviewer string) (*domain.ReviewTicket, error) {
	state := domain.TicketStateRejected
	if approve {
		state = domain.TicketStateApproved
	}

	t, err := s.resolve(ctx, ticketID, state, reviewer)
	if err != nil {
		return nil, fmt.Errorf("gateway.Service.ResolveTicket: %w", err)
	}
	return t, nil
}

// GetTicket returns a ticket by id.
func (s *Service) GetTicket(ctx context.Context, ticketID uuid.UUID) (*domain.ReviewTicket, error) {
	t, err := s.repos.Tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, fmt.Errorf("gateway.Service.GetTicket: %w", err)
	}
	return t, nil
}

func (s *Service) resolve(ctx context.Context, id uuid.UUID, state domain.TicketState, reviewer string) (*domain.ReviewTicket, error) {
	if err := s.repos.Tickets.Resolve(ctx, id, state, reviewer); err != nil {
		return nil, err
	}

	t, err := s.repos.Tickets.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.notifier != nil {
		if notifyErr := s.notifier.TicketResolved(ctx, t); notifyErr != nil {
			log.Warn().Err(notifyErr).Str("ticket_id", id.String()).Msg("gateway.Service.resolve: notify failed")
		}
	}

	return t, nil
}

// ListCommands returns the audited commands of a session.
func (s *Service) ListCommands(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]*domain.CommandRecord, error) {
	recs, err := s.repos.Commands.ListBySession(ctx, sessionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("gateway.Service.ListCommands: %w", err)
	}
	return recs, nil
}

// GetSession returns the durable record of a session, live or finished.
func (s *Service) GetSession(ctx context.Context, sessionID uuid.UUID) (*domain.Session, error) {
	sess, err := s.repos.Sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("gateway.Service.GetSession: %w", err)
	}
	return sess, nil
}

// ListSessions returns the durable session records of an org, newest first.
func (s *Service) ListSessions(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*domain.Session, error) {
	sessions, err := s.repos.Sessions.ListByOrg(ctx, orgID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("gateway.Service.ListSessions: %w", err)
	}
	return sessions, nil
}
