package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/chatgate/internal/acl"
	"github.com/gosuda/chatgate/internal/domain"
	"github.com/gosuda/chatgate/internal/replay"
	redisstore "github.com/gosuda/chatgate/internal/store/redis"
)

// ErrSessionClosed is returned when a command arrives after the session began closing.
var ErrSessionClosed = errors.New("session: closed") //nolint:gochecknoglobals // sentinel error

// ErrCommandBlocked is returned when the ACL evaluator stopped a command.
var ErrCommandBlocked = errors.New("session: command blocked") //nolint:gochecknoglobals // sentinel error

const (
	stateActive int32 = iota
	stateClosing
	stateClosed
)

const (
	publishTimeout = 5 * time.Second
	uploadTimeout  = 10 * time.Second
)

// Gateway is the subset of the audit gateway a session talks to.
type Gateway interface {
	acl.TicketGateway
	replay.Uploader
	CreateSession(ctx context.Context, s *domain.Session) ([]domain.CommandACL, error)
	FinishSession(ctx context.Context, sessionID uuid.UUID, endedAt time.Time) error
	UploadCommand(ctx context.Context, rec *domain.CommandRecord) error
}

// PubSubPublisher abstracts the Redis pub/sub publish operation.
type PubSubPublisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Executor runs one authorized command and returns its output.
type Executor interface {
	Execute(ctx context.Context, s *domain.Session, command string) (string, error)
}

// ExecutorFunc adapts a plain function to Executor.
type ExecutorFunc func(ctx context.Context, s *domain.Session, command string) (string, error)

func (f ExecutorFunc) Execute(ctx context.Context, s *domain.Session, command string) (string, error) {
	return f(ctx, s, command)
}

// Session is one live, audited conversation.
type Session struct {
	infoMu sync.RWMutex
	info   domain.Session

	acls     []domain.CommandACL
	cfg      Config
	gateway  Gateway
	pubsub   PubSubPublisher
	registry *Registry

	dialogue  domain.DialogueState
	recorder  *replay.Recorder
	evaluator *acl.Evaluator

	ctx    context.Context //nolint:containedctx // session lifetime, cancelled by Close
	cancel context.CancelFunc

	activateOnce sync.Once
	state        atomic.Int32
	inFlight     atomic.Int32
	cmdMu        sync.Mutex

	closeDone chan struct{}
	closeErr  error
}

func newSession(info *domain.Session, acls []domain.CommandACL, cfg Config, gw Gateway, pubsub PubSubPublisher, registry *Registry) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		info:      *info,
		acls:      acls,
		cfg:       cfg,
		gateway:   gw,
		pubsub:    pubsub,
		registry:  registry,
		ctx:       ctx,
		cancel:    cancel,
		closeDone: make(chan struct{}),
	}
}

func (s *Session) ID() uuid.UUID {
	return s.info.ID // immutable
}

// Info returns a snapshot of the session record.
func (s *Session) Info() domain.Session {
	s.infoMu.RLock()
	defer s.infoMu.RUnlock()
	return s.info
}

// Active reports whether the session still accepts commands.
func (s *Session) Active() bool {
	return s.state.Load() == stateActive
}

// Closed reports whether Close has completed.
func (s *Session) Closed() bool {
	return s.state.Load() == stateClosed
}

// SetReviewDecision records the user's answer to the pending review prompt.
func (s *Session) SetReviewDecision(activate bool) {
	s.dialogue.SetReviewDecision(activate)
	s.dialogue.MarkActive()
}

// Activate starts the recorder, the evaluator and the idle watchdog.
func (s *Session) Activate() {
	s.activateOnce.Do(func() {
		info := s.Info()
		s.recorder = replay.Open(info.ID, info.UserRef+"@"+info.AssetRef, s.cfg.Replay, s.gateway)
		s.evaluator = acl.NewEvaluator(info.ID, s.acls, s.gateway, s, &s.dialogue,
			acl.WithDecisionPolling(s.cfg.DecisionPoll, s.cfg.DecisionTimeout),
			acl.WithTicketPolling(s.cfg.TicketPoll, s.cfg.TicketTimeout),
		)
		s.recorder.WriteHeader()

		go s.watchdog(s.maxIdle())
	})
}

func (s *Session) maxIdle() time.Duration {
	if s.cfg.IdleTimeout > 0 {
		return s.cfg.IdleTimeout
	}
	if d := s.info.MaxIdle(); d > 0 {
		return d
	}
	return time.Duration(s.cfg.DefaultMaxIdleMinutes) * time.Minute
}

// WithAudit authorizes, runs and records one command. Commands of a session
// run one at a time. A stopped command returns ErrCommandBlocked and the
// executor is never called; executor errors are recorded as output and then
// returned.
func (s *Session) WithAudit(ctx context.Context, command string, exec Executor) (string, error) {
	if !s.Active() {
		return "", ErrSessionClosed
	}

	s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	s.dialogue.MarkActive()

	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	if !s.Active() {
		return "", ErrSessionClosed
	}

	// Review waits end when either the request or the session ends.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	rec := domain.NewCommandRecord(s.info.ID, command)

	verdict, err := s.evaluator.Filter(ctx, rec)
	s.recorder.WriteInput(command)
	if err != nil {
		s.uploadCommand(ctx, rec)
		return "", fmt.Errorf("session.Session.WithAudit: %w", err)
	}
	if !verdict.Proceed {
		s.uploadCommand(ctx, rec)
		return "", ErrCommandBlocked
	}

	info := s.Info()
	output, execErr := exec.Execute(ctx, &info, command)
	if execErr != nil {
		rec.Output = execErr.Error()
	} else {
		rec.Output = output
	}
	s.recorder.WriteOutput(rec.Output)
	s.uploadCommand(ctx, rec)
	s.dialogue.MarkActive()

	if execErr != nil {
		s.Emit(ctx, domain.Event{Type: domain.EventError, Message: command, SystemMessage: execErr.Error()})
		return "", fmt.Errorf("session.Session.WithAudit: execute: %w", execErr)
	}

	s.Emit(ctx, domain.Event{Type: domain.EventMessage, Message: output})
	return output, nil
}

// uploadCommand reports the record even when ctx was cancelled by Close.
func (s *Session) uploadCommand(ctx context.Context, rec *domain.CommandRecord) {
	uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), uploadTimeout)
	defer cancel()

	if err := s.gateway.UploadCommand(uctx, rec); err != nil {
		log.Error().Err(err).
			Str("session_id", rec.SessionID.String()).
			Str("command_id", rec.ID.String()).
			Str("risk_level", string(rec.RiskLevel)).
			Msg("session.Session.uploadCommand: upload failed")
	}
}

// Emit publishes a client event on the session channel. It implements
// acl.EventSink.
func (s *Session) Emit(ctx context.Context, evt domain.Event) {
	evt.ConversationID = s.info.ID.String()

	payload, err := json.Marshal(evt)
	if err != nil {
		log.Error().Err(err).Str("session_id", evt.ConversationID).Msg("session.Session.Emit: marshal")
		return
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	channel := redisstore.SessionChannel(s.info.ID)
	if pubErr := s.pubsub.Publish(pctx, channel, payload); pubErr != nil {
		log.Error().Err(pubErr).Str("channel", channel).Str("type", string(evt.Type)).Msg("session.Session.Emit: failed to publish event")
	}
}

// watchdog closes the session once it has been idle for maxIdle or its
// expiry has passed. A tick with recorded activity or a command in flight
// resets the idle clock.
func (s *Session) watchdog(maxIdle time.Duration) {
	// The idle clock starts no later than the ticker, so the first tick at
	// or past maxIdle always closes.
	lastActive := time.Now()
	expireAt := s.info.ExpireAt

	ticker := time.NewTicker(s.cfg.IdleCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case now := <-ticker.C:
			if s.dialogue.ConsumeActivity() || s.inFlight.Load() > 0 {
				lastActive = now
			}

			var reason string
			switch {
			case !expireAt.IsZero() && !now.Before(expireAt):
				reason = "expired"
			case maxIdle > 0 && now.Sub(lastActive) >= maxIdle:
				reason = "idle"
			default:
				continue
			}

			log.Info().Str("session_id", s.info.ID.String()).Str("reason", reason).Msg("session.Session.watchdog: closing session")
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CloseTimeout)
			if err := s.Close(ctx); err != nil {
				log.Error().Err(err).Str("session_id", s.info.ID.String()).Msg("session.Session.watchdog: close failed")
			}
			cancel()
			return
		}
	}
}

// Close ends the session exactly once: it stops pending work, seals and
// uploads the recording, finishes the session remotely, deregisters it and
// emits the finish event. Concurrent callers wait for the first one and get
// its result.
func (s *Session) Close(ctx context.Context) error {
	if !s.state.CompareAndSwap(stateActive, stateClosing) {
		select {
		case <-s.closeDone:
			return s.closeErr
		case <-ctx.Done():
			return fmt.Errorf("session.Session.Close: %w", ctx.Err())
		}
	}

	id := s.info.ID
	s.cancel()

	if s.recorder != nil {
		s.recorder.Seal(ctx)
	}

	endedAt := time.Now()
	s.infoMu.Lock()
	s.info.EndedAt = &endedAt
	s.infoMu.Unlock()

	if err := s.gateway.FinishSession(ctx, id, endedAt); err != nil {
		s.closeErr = fmt.Errorf("session.Session.Close: %w: %w", domain.ErrGatewayDegraded, err)
		log.Error().Err(err).Str("session_id", id.String()).Msg("session.Session.Close: finish session failed")
	}

	if s.registry != nil {
		s.registry.release(s)
	}

	s.Emit(ctx, domain.Event{Type: domain.EventFinish, SystemMessage: "session closed"})

	s.state.Store(stateClosed)
	close(s.closeDone)

	log.Info().Str("session_id", id.String()).Msg("session.Session.Close: session closed")
	return s.closeErr
}
