package domain_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/chatgate/internal/domain"
)

// ---------------------------------------------------------------------------
// 1. TicketState.Terminal
// ---------------------------------------------------------------------------

func TestTicketState_Terminal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state domain.TicketState
		want  bool
	}{
		{domain.TicketStatePending, false},
		{domain.TicketStateApproved, true},
		{domain.TicketStateRejected, true},
		{domain.TicketStateClosed, true},
		{domain.TicketState("escalated"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, tt.state.Terminal())
		})
	}
}

// ---------------------------------------------------------------------------
// 2. Session helpers
// ---------------------------------------------------------------------------

func TestSession_Finished(t *testing.T) {
	t.Parallel()

	s := &domain.Session{ID: uuid.New()}
	assert.False(t, s.Finished())

	now := time.Now()
	s.EndedAt = &now
	assert.True(t, s.Finished())
}

func TestSession_MaxIdle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		minutes int
		want    time.Duration
	}{
		{0, 0},
		{1, time.Minute},
		{30, 30 * time.Minute},
	}

	for _, tt := range tests {
		s := &domain.Session{MaxIdleMinutes: tt.minutes}
		assert.Equal(t, tt.want, s.MaxIdle())
	}
}

// ---------------------------------------------------------------------------
// 3. NewCommandRecord
// ---------------------------------------------------------------------------

func TestNewCommandRecord(t *testing.T) {
	t.Parallel()

	sessionID := uuid.New()
	rec := domain.NewCommandRecord(sessionID, "ls -la")

	assert.NotEqual(t, uuid.Nil, rec.ID)
	assert.Equal(t, sessionID, rec.SessionID)
	assert.Equal(t, "ls -la", rec.Input)
	assert.Empty(t, rec.Output)
	assert.Equal(t, domain.RiskLevelUnresolved, rec.RiskLevel)
	assert.Equal(t, uuid.Nil, rec.ACLID)
	assert.Equal(t, uuid.Nil, rec.GroupID)
	assert.False(t, rec.CreatedAt.IsZero())

	other := domain.NewCommandRecord(sessionID, "ls -la")
	assert.NotEqual(t, rec.ID, other.ID, "each record gets its own id")
}

// ---------------------------------------------------------------------------
// 4. DialogueState
// ---------------------------------------------------------------------------

func TestDialogueState_ReviewDecision(t *testing.T) {
	t.Parallel()

	var d domain.DialogueState

	_, ok := d.ReviewDecision()
	assert.False(t, ok, "zero value has no decision")

	d.SetReviewDecision(true)
	activate, ok := d.ReviewDecision()
	require.True(t, ok)
	assert.True(t, activate)

	d.SetReviewDecision(false)
	activate, ok = d.ReviewDecision()
	require.True(t, ok)
	assert.False(t, activate)

	d.ClearReviewDecision()
	_, ok = d.ReviewDecision()
	assert.False(t, ok)
}

func TestDialogueState_ConsumeActivity(t *testing.T) {
	t.Parallel()

	var d domain.DialogueState

	assert.False(t, d.ConsumeActivity())

	d.MarkActive()
	d.MarkActive()
	assert.True(t, d.ConsumeActivity())
	assert.False(t, d.ConsumeActivity(), "flag is cleared after consumption")
}

func TestDialogueState_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	var d domain.DialogueState
	var wg sync.WaitGroup

	for range 20 {
		wg.Go(func() {
			d.MarkActive()
			d.SetReviewDecision(true)
		})
		wg.Go(func() {
			_ = d.ConsumeActivity()
			_, _ = d.ReviewDecision()
		})
	}
	wg.Wait()

	activate, ok := d.ReviewDecision()
	require.True(t, ok)
	assert.True(t, activate)
}

// Compile-time interface satisfaction checks.
var (
	_ domain.ACLRepository    = (*aclRepoStub)(nil)
	_ domain.ReplayRepository = (*replayRepoStub)(nil)
)

type aclRepoStub struct{}

func (s *aclRepoStub) ListByOrg(context.Context, uuid.UUID) ([]domain.CommandACL, error) {
	return nil, nil
}

type replayRepoStub struct{}

func (s *replayRepoStub) Create(context.Context, *domain.ReplayArchive) error { return nil }
func (s *replayRepoStub) GetBySession(context.Context, uuid.UUID) (*domain.ReplayArchive, error) {
	return nil, nil
}
