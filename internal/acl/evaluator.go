package acl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dlclark/regexp2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/chatgate/internal/domain"
)

const (
	defaultDecisionPoll    = time.Second
	defaultDecisionTimeout = 60 * time.Second
	defaultTicketPoll      = 2 * time.Second
	defaultTicketTimeout   = 3 * time.Minute
	patternMatchTimeout    = time.Second
	cancelTicketTimeout    = 10 * time.Second
)

// TicketGateway is the subset of the audit gateway used by the review workflow.
type TicketGateway interface {
	CreateCommandTicket(ctx context.Context, sessionID, aclID uuid.UUID, command string) (*domain.TicketInfo, error)
	CheckTicketState(ctx context.Context, checkHandle string) (domain.TicketState, error)
	CancelTicket(ctx context.Context, cancelHandle string) error
}

// EventSink receives client-facing events for the session under evaluation.
type EventSink interface {
	Emit(ctx context.Context, evt domain.Event)
}

// ReviewDecider exposes the user's answer to a review prompt.
type ReviewDecider interface {
	ReviewDecision() (activate, ok bool)
	ClearReviewDecision()
}

// Match is the first ACL (and group within it) that matched a command.
type Match struct {
	ACL   *domain.CommandACL
	Group *domain.CommandGroup
}

// Verdict tells the session whether the command may run.
type Verdict struct {
	Proceed bool
}

type compiledGroup struct {
	aclIdx   int
	groupIdx int
	re       *regexp2.Regexp
}

// Evaluator matches commands of one session against its ACLs and drives the
// review workflow for rules that need human approval.
type Evaluator struct {
	sessionID uuid.UUID
	acls      []domain.CommandACL
	tickets   TicketGateway
	sink      EventSink
	decider   ReviewDecider

	decisionPoll    time.Duration
	decisionTimeout time.Duration
	ticketPoll      time.Duration
	ticketTimeout   time.Duration

	compileOnce sync.Once
	compiled    []compiledGroup
	compileErr  error
}

// Option configures optional Evaluator parameters.
type Option func(*Evaluator)

// WithDecisionPolling sets how often and how long the evaluator waits for the
// user to opt into a review ticket.
func WithDecisionPolling(interval, timeout time.Duration) Option {
	return func(e *Evaluator) {
		e.decisionPoll = interval
		e.decisionTimeout = timeout
	}
}

// WithTicketPolling sets how often and how long the evaluator polls a ticket.
func WithTicketPolling(interval, timeout time.Duration) Option {
	return func(e *Evaluator) {
		e.ticketPoll = interval
		e.ticketTimeout = timeout
	}
}

func NewEvaluator(
	sessionID uuid.UUID,
	acls []domain.CommandACL,
	tickets TicketGateway,
	sink EventSink,
	decider ReviewDecider,
	opts ...Option,
) *Evaluator {
	e := &Evaluator{
		sessionID:       sessionID,
		acls:            acls,
		tickets:         tickets,
		sink:            sink,
		decider:         decider,
		decisionPoll:    defaultDecisionPoll,
		decisionTimeout: defaultDecisionTimeout,
		ticketPoll:      defaultTicketPoll,
		ticketTimeout:   defaultTicketTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// compile builds every pattern once. A single bad pattern poisons the
// evaluator: every later evaluation fails with domain.ErrPolicyConfig.
func (e *Evaluator) compile() error {
	e.compileOnce.Do(func() {
		for i := range e.acls {
			for j, g := range e.acls[i].Groups {
				flags := regexp2.None
				if g.CaseInsensitive {
					flags = regexp2.IgnoreCase
				}
				re, err := regexp2.Compile(g.Pattern, flags)
				if err != nil {
					e.compileErr = fmt.Errorf("acl %q group %q: %w: %w", e.acls[i].Name, g.Name, domain.ErrPolicyConfig, err)
					e.compiled = nil
					return
				}
				re.MatchTimeout = patternMatchTimeout
				e.compiled = append(e.compiled, compiledGroup{aclIdx: i, groupIdx: j, re: re})
			}
		}
	})
	return e.compileErr
}

// MatchRule returns the first ACL whose any group matches input, or nil when
// the command is implicitly allowed.
func (e *Evaluator) MatchRule(input string) (*Match, error) {
	if err := e.compile(); err != nil {
		return nil, fmt.Errorf("acl.Evaluator.MatchRule: %w", err)
	}

	lowered := strings.ToLower(input)
	for _, cg := range e.compiled {
		ok, err := cg.re.MatchString(lowered)
		if err != nil {
			// Match timeouts are treated as a policy failure, never as "no match".
			return nil, fmt.Errorf("acl.Evaluator.MatchRule: %w: %w", domain.ErrPolicyConfig, err)
		}
		if ok {
			return &Match{
				ACL:   &e.acls[cg.aclIdx],
				Group: &e.acls[cg.aclIdx].Groups[cg.groupIdx],
			}, nil
		}
	}

	return nil, nil
}

// Filter sets rec.RiskLevel (and the matched rule ids) and decides whether the
// command may run. It only returns an error for policy configuration problems.
func (e *Evaluator) Filter(ctx context.Context, rec *domain.CommandRecord) (Verdict, error) {
	match, err := e.MatchRule(rec.Input)
	if err != nil {
		e.sink.Emit(ctx, domain.Event{
			Type:          domain.EventError,
			SystemMessage: "command policy is misconfigured; command was not executed",
		})
		return Verdict{}, fmt.Errorf("acl.Evaluator.Filter: %w", err)
	}

	if match == nil {
		rec.RiskLevel = domain.RiskLevelNormal
		return Verdict{Proceed: true}, nil
	}

	rec.ACLID = match.ACL.ID
	rec.GroupID = match.Group.ID

	switch match.ACL.Action {
	case domain.ACLActionReject:
		rec.RiskLevel = domain.RiskLevelReject
		e.sink.Emit(ctx, domain.Event{
			Type:          domain.EventReject,
			Message:       rec.Input,
			SystemMessage: fmt.Sprintf("Command rejected by rule %q", match.ACL.Name),
		})
		return Verdict{Proceed: false}, nil

	case domain.ACLActionWarning:
		rec.RiskLevel = domain.RiskLevelWarning
		return Verdict{Proceed: true}, nil

	case domain.ACLActionReview:
		return e.review(ctx, rec, match.ACL), nil

	default:
		log.Warn().
			Str("session_id", e.sessionID.String()).
			Str("acl_id", match.ACL.ID.String()).
			Str("action", string(match.ACL.Action)).
			Msg("acl.Evaluator.Filter: unknown action, rejecting")
		rec.RiskLevel = domain.RiskLevelReject
		e.sink.Emit(ctx, domain.Event{
			Type:          domain.EventReject,
			Message:       rec.Input,
			SystemMessage: fmt.Sprintf("Command rejected by rule %q", match.ACL.Name),
		})
		return Verdict{Proceed: false}, nil
	}
}

// review asks the user whether to open a ticket and, if so, waits for a
// reviewer. Every exit path other than an approval stops the command.
func (e *Evaluator) review(ctx context.Context, rec *domain.CommandRecord, rule *domain.CommandACL) Verdict {
	e.decider.ClearReviewDecision()
	e.sink.Emit(ctx, domain.Event{
		Type:          domain.EventWaiting,
		Message:       rec.Input,
		SystemMessage: fmt.Sprintf("Command requires review by rule %q. Request a review to continue.", rule.Name),
		Meta:          domain.EventMeta{ActivateReview: true},
	})

	activate, err := e.awaitDecision(ctx)
	if err != nil {
		log.Info().Err(err).Str("session_id", e.sessionID.String()).Msg("acl.Evaluator.review: no review requested")
		return Verdict{Proceed: false}
	}
	if !activate {
		return Verdict{Proceed: false}
	}

	info, err := e.tickets.CreateCommandTicket(ctx, e.sessionID, rule.ID, rec.Input)
	if err != nil {
		log.Error().Err(err).
			Str("session_id", e.sessionID.String()).
			Str("acl_id", rule.ID.String()).
			Msg("acl.Evaluator.review: create ticket failed")
		e.sink.Emit(ctx, domain.Event{
			Type:          domain.EventError,
			SystemMessage: "Could not open a review ticket; command was not executed",
		})
		return Verdict{Proceed: false}
	}

	e.sink.Emit(ctx, domain.Event{
		Type:          domain.EventWaiting,
		Message:       rec.Input,
		SystemMessage: "Review ticket opened, waiting for approval: " + info.DetailURL,
	})

	return e.awaitTicket(ctx, rec, info)
}

// awaitDecision polls the user's review decision until it is set, the
// timeout elapses or ctx ends.
func (e *Evaluator) awaitDecision(ctx context.Context) (bool, error) {
	ticker := time.NewTicker(e.decisionPoll)
	defer ticker.Stop()
	deadline := time.NewTimer(e.decisionTimeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-deadline.C:
			return false, domain.ErrReviewTimeout
		case <-ticker.C:
			if activate, ok := e.decider.ReviewDecision(); ok {
				return activate, nil
			}
		}
	}
}

// awaitTicket polls the ticket until it reaches a terminal state. On timeout
// or cancellation the ticket is cancelled remotely before returning.
func (e *Evaluator) awaitTicket(ctx context.Context, rec *domain.CommandRecord, info *domain.TicketInfo) Verdict {
	ticker := time.NewTicker(e.ticketPoll)
	defer ticker.Stop()
	deadline := time.NewTimer(e.ticketTimeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			e.cancelTicket(ctx, info, ctx.Err())
			rec.RiskLevel = domain.RiskLevelReviewCancel
			return Verdict{Proceed: false}
		case <-deadline.C:
			e.cancelTicket(ctx, info, domain.ErrReviewTimeout)
			rec.RiskLevel = domain.RiskLevelReviewCancel
			e.sink.Emit(ctx, domain.Event{
				Type:          domain.EventWaiting,
				Message:       rec.Input,
				SystemMessage: "Review timed out; the ticket was closed",
			})
			return Verdict{Proceed: false}
		case <-ticker.C:
			state, err := e.tickets.CheckTicketState(ctx, info.CheckHandle)
			if err != nil {
				log.Warn().Err(err).Str("session_id", e.sessionID.String()).Msg("acl.Evaluator.awaitTicket: check ticket failed")
				continue
			}

			switch state {
			case domain.TicketStateApproved:
				rec.RiskLevel = domain.RiskLevelReviewAccept
				return Verdict{Proceed: true}
			case domain.TicketStateRejected:
				rec.RiskLevel = domain.RiskLevelReviewReject
				e.sink.Emit(ctx, domain.Event{
					Type:          domain.EventWaiting,
					Message:       rec.Input,
					SystemMessage: "Review rejected; the ticket was closed",
				})
				return Verdict{Proceed: false}
			case domain.TicketStateClosed:
				rec.RiskLevel = domain.RiskLevelReviewCancel
				return Verdict{Proceed: false}
			default:
				continue
			}
		}
	}
}

func (e *Evaluator) cancelTicket(ctx context.Context, info *domain.TicketInfo, reason error) {
	cancelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cancelTicketTimeout)
	defer cancel()

	if err := e.tickets.CancelTicket(cancelCtx, info.CancelHandle); err != nil {
		log.Error().Err(errors.Join(err, reason)).
			Str("session_id", e.sessionID.String()).
			Str("ticket", info.CancelHandle).
			Msg("acl.Evaluator.cancelTicket: cancel failed")
		return
	}

	log.Info().Err(reason).
		Str("session_id", e.sessionID.String()).
		Str("ticket", info.CancelHandle).
		Msg("acl.Evaluator.cancelTicket: ticket cancelled")
}
