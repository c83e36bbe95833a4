package messenger

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

// Reply values carried by review buttons and accepted from thread replies.
const (
	AnswerApprove = "approve"
	AnswerReject  = "reject"
)

// ErrTicketAlreadyResolved is returned when a reviewer answers a ticket that is no longer pending.
var ErrTicketAlreadyResolved = errors.New("messenger: ticket already resolved") //nolint:gochecknoglobals // sentinel error

// ErrInvalidAnswer is returned for a reply that is neither approve nor reject.
var ErrInvalidAnswer = errors.New("messenger: invalid review answer") //nolint:gochecknoglobals // sentinel error

// TicketRepository is a subset of domain.TicketRepository used by the router.
type TicketRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.ReviewTicket, error)
	GetByThreadID(ctx context.Context, platform, threadID string) (*domain.ReviewTicket, error)
	SetThread(ctx context.Context, id uuid.UUID, platform, threadID string) error
	Resolve(ctx context.Context, id uuid.UUID, state domain.TicketState, reviewer string) error
	ListExpired(ctx context.Context) ([]*domain.ReviewTicket, error)
}

// EscalationConfig configures where to report tickets nobody answered in time.
type EscalationConfig struct {
	ChannelID string
	Enabled   bool
}

// Router posts review tickets to a messenger channel and turns reviewer
// replies into ticket resolutions.
type Router struct {
	tickets      TicketRepository
	messenger    Messenger
	channelID    string
	pollInterval time.Duration
	escalation   EscalationConfig
}

// RouterOption configures optional Router parameters.
type RouterOption func(*Router)

// WithPollInterval sets the interval at which the timeout watcher checks for expired tickets.
func WithPollInterval(d time.Duration) RouterOption {
	return func(r *Router) {
		r.pollInterval = d
	}
}

// WithEscalation configures timeout escalation notifications.
func WithEscalation(cfg EscalationConfig) RouterOption {
	return func(r *Router) {
		r.escalation = cfg
	}
}

// NewRouter creates a Router posting to channelID.
func NewRouter(tickets TicketRepository, msg Messenger, channelID string, opts ...RouterOption) *Router {
	r := &Router{
		tickets:      tickets,
		messenger:    msg,
		channelID:    channelID,
		pollInterval: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AnnounceTicket posts a ticket to the review channel and records the thread
// on the ticket so replies can be routed back.
func (r *Router) AnnounceTicket(ctx context.Context, t *domain.ReviewTicket, detailURL string) error {
	parent := fmt.Sprintf("Review requested for session `%s`", t.SessionID)
	msgID, err := r.messenger.SendMessage(ctx, r.channelID, parent)
	if err != nil {
		return fmt.Errorf("messenger.Router.AnnounceTicket: send message: %w", err)
	}

	text := fmt.Sprintf("```%s```\n<%s|Ticket details>", t.Command, detailURL)
	options := []ReviewOption{
		{Label: "Approve", Value: AnswerApprove},
		{Label: "Reject", Value: AnswerReject},
	}
	if _, err := r.messenger.CreateThread(ctx, r.channelID, msgID, text, options); err != nil {
		return fmt.Errorf("messenger.Router.AnnounceTicket: create thread: %w", err)
	}

	// Replies and button clicks arrive keyed by the parent message.
	threadID := string(msgID)
	if err := r.tickets.SetThread(ctx, t.ID, r.messenger.Platform(), threadID); err != nil {
		return fmt.Errorf("messenger.Router.AnnounceTicket: set thread: %w", err)
	}
	t.MessengerPlatform = r.messenger.Platform()
	t.MessengerThreadID = threadID

	return nil
}

// TicketResolved rewrites the ticket's parent message with the outcome.
func (r *Router) TicketResolved(ctx context.Context, t *domain.ReviewTicket) error {
	if t.MessengerThreadID == "" {
		return nil
	}

	if err := r.messenger.UpdateMessage(ctx, r.channelID, MessageID(t.MessengerThreadID), resolutionText(t)); err != nil {
		return fmt.Errorf("messenger.Router.TicketResolved: %w", err)
	}
	return nil
}

// HandleResponse processes a reviewer answer received from the messenger platform.
func (r *Router) HandleResponse(ctx context.Context, platform, threadID, answer, reviewer string) (*domain.ReviewTicket, error) {
	state, ok := ParseAnswer(answer)
	if !ok {
		return nil, fmt.Errorf("messenger.Router.HandleResponse: %q: %w", answer, ErrInvalidAnswer)
	}

	t, err := r.tickets.GetByThreadID(ctx, platform, threadID)
	if err != nil {
		return nil, fmt.Errorf("messenger.Router.HandleResponse: get by thread: %w", err)
	}

	if t.State != domain.TicketStatePending {
		return nil, fmt.Errorf("messenger.Router.HandleResponse: state %q: %w", t.State, ErrTicketAlreadyResolved)
	}

	if err := r.tickets.Resolve(ctx, t.ID, state, reviewer); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, fmt.Errorf("messenger.Router.HandleResponse: %w", ErrTicketAlreadyResolved)
		}
		return nil, fmt.Errorf("messenger.Router.HandleResponse: resolve: %w", err)
	}

	now := time.Now()
	t.State = state
	t.Reviewer = reviewer
	t.ResolvedAt = &now

	if err := r.TicketResolved(ctx, t); err != nil {
		log.Warn().Err(err).Str("ticket_id", t.ID.String()).Msg("messenger.Router.HandleResponse: update thread")
	}

	return t, nil
}

// ParseAnswer maps a reply to the ticket state it requests.
func ParseAnswer(answer string) (domain.TicketState, bool) {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case AnswerApprove, "approved", "lgtm", "yes":
		return domain.TicketStateApproved, true
	case AnswerReject, "rejected", "deny", "no":
		return domain.TicketStateRejected, true
	default:
		return "", false
	}
}

// StartTimeoutWatcher polls for expired pending tickets and closes them.
// It blocks until the context is cancelled.
func (r *Router) StartTimeoutWatcher(ctx context.Context) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.processExpiredTickets(ctx)
		}
	}
}

func (r *Router) processExpiredTickets(ctx context.Context) {
	expired, err := r.tickets.ListExpired(ctx)
	if err != nil {
		log.Error().Err(err).Msg("messenger.Router: list expired tickets")
		return
	}

	for _, t := range expired {
		if err := r.tickets.Resolve(ctx, t.ID, domain.TicketStateClosed, ""); err != nil {
			// Resolved by a reviewer between the listing and now.
			if !errors.Is(err, domain.ErrConflict) {
				log.Error().Err(err).Str("ticket_id", t.ID.String()).Msg("messenger.Router: close expired ticket")
			}
			continue
		}
		t.State = domain.TicketStateClosed

		if err := r.TicketResolved(ctx, t); err != nil {
			log.Error().Err(err).Str("thread_id", t.MessengerThreadID).Msg("messenger.Router: update thread with timeout")
		}

		if r.escalation.Enabled {
			escMsg := fmt.Sprintf("Review ticket timed out (session %s): `%s`", t.SessionID, t.Command)
			if _, escErr := r.messenger.SendMessage(ctx, r.escalation.ChannelID, escMsg); escErr != nil {
				log.Error().Err(escErr).Str("ticket_id", t.ID.String()).Msg("messenger.Router: escalation failed")
			}
		}

		log.Warn().Str("ticket_id", t.ID.String()).Str("session_id", t.SessionID.String()).Msg("review ticket timed out")
	}
}

func resolutionText(t *domain.ReviewTicket) string {
	switch t.State {
	case domain.TicketStateApproved:
		return fmt.Sprintf("Approved by %s: `%s`", reviewerName(t.Reviewer), t.Command)
	case domain.TicketStateRejected:
		return fmt.Sprintf("Rejected by %s: `%s`", reviewerName(t.Reviewer), t.Command)
	case domain.TicketStateClosed:
		return fmt.Sprintf("Closed without review: `%s`", t.Command)
	default:
		return fmt.Sprintf("Review pending: `%s`", t.Command)
	}
}

func reviewerName(ref string) string {
	if ref == "" {
		return "unknown"
	}
	return ref
}
