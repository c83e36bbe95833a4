package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/chatgate/internal/domain"
	"github.com/gosuda/chatgate/internal/session"
)

const (
	defaultResubscribeDelay = 2 * time.Second
	defaultCloseTimeout     = 30 * time.Second
)

// Gateway is the subset of the audit gateway used by the listener.
type Gateway interface {
	ScanRemainingReplays(ctx context.Context, dir string, live func(uuid.UUID) bool) (int, error)
	DispatchTasks(ctx context.Context) (<-chan domain.Task, func(), error)
	FinishTask(ctx context.Context, taskID uuid.UUID) error
}

// SessionLookup resolves live sessions of this process.
type SessionLookup interface {
	Get(id uuid.UUID) (*session.Session, error)
}

// Listener archives recordings left behind by a previous run and executes
// dispatch tasks against live sessions until its context ends.
type Listener struct {
	gateway          Gateway
	sessions         SessionLookup
	replayDir        string
	resubscribeDelay time.Duration
	closeTimeout     time.Duration
}

// Option configures optional Listener parameters.
type Option func(*Listener)

// WithResubscribeDelay sets the back-off before resubscribing after the
// dispatch stream drops.
func WithResubscribeDelay(d time.Duration) Option {
	return func(l *Listener) {
		l.resubscribeDelay = d
	}
}

func NewListener(gw Gateway, sessions SessionLookup, replayDir string, opts ...Option) *Listener {
	l := &Listener{
		gateway:          gw,
		sessions:         sessions,
		replayDir:        replayDir,
		resubscribeDelay: defaultResubscribeDelay,
		closeTimeout:     defaultCloseTimeout,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Sweep archives leftover recordings in the replay directory. Recordings of
// sessions live in this process are skipped. Call it before sessions can be
// opened; failures are logged.
func (l *Listener) Sweep(ctx context.Context) {
	n, err := l.gateway.ScanRemainingReplays(ctx, l.replayDir, l.live)
	if err != nil {
		log.Error().Err(err).Str("dir", l.replayDir).Msg("dispatch.Listener.Sweep: scan remaining replays")
	} else if n > 0 {
		log.Info().Int("archived", n).Msg("dispatch.Listener.Sweep: archived leftover replays")
	}
}

func (l *Listener) live(id uuid.UUID) bool {
	_, err := l.sessions.Get(id)
	return err == nil
}

// Run consumes dispatch tasks and blocks until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) {
	for {
		l.receive(ctx)

		select {
		case <-ctx.Done():
			return
		case <-time.After(l.resubscribeDelay):
		}
	}
}

// receive consumes one subscription until it drops or ctx ends.
func (l *Listener) receive(ctx context.Context) {
	tasks, cleanup, err := l.gateway.DispatchTasks(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Error().Err(err).Msg("dispatch.Listener.receive: subscribe")
		}
		return
	}
	defer cleanup()

	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-tasks:
			if !ok {
				if ctx.Err() == nil {
					log.Warn().Msg("dispatch.Listener.receive: dispatch stream closed, resubscribing")
				}
				return
			}
			l.handle(ctx, task)
		}
	}
}

// handle applies a task and acknowledges it whatever the outcome.
func (l *Listener) handle(ctx context.Context, task domain.Task) {
	logger := log.With().
		Str("task_id", task.ID.String()).
		Str("session_id", task.SessionID.String()).
		Str("action", string(task.Action)).
		Logger()

	switch task.Action {
	case domain.TaskActionKill:
		s, err := l.sessions.Get(task.SessionID)
		if err != nil {
			if errors.Is(err, session.ErrSessionNotFound) {
				// Owned by another process, or already gone.
				logger.Debug().Msg("dispatch.Listener.handle: session not on this node")
			} else {
				logger.Error().Err(err).Msg("dispatch.Listener.handle: lookup session")
			}
			break
		}

		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.closeTimeout)
		if err := s.Close(closeCtx); err != nil {
			logger.Error().Err(err).Msg("dispatch.Listener.handle: close session")
		} else {
			logger.Info().Msg("dispatch.Listener.handle: session killed")
		}
		cancel()

	default:
		logger.Warn().Msg("dispatch.Listener.handle: unknown action")
	}

	ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := l.gateway.FinishTask(ackCtx, task.ID); err != nil {
		logger.Error().Err(err).Msg("dispatch.Listener.handle: finish task")
	}
}
