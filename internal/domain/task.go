package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type TaskAction string

const (
	TaskActionKill TaskAction = "kill"
)

// Task is an out-of-band instruction for a live session, delivered to every
// gateway process. The process owning the session acts on it.
type Task struct {
	ID         uuid.UUID  `json:"id"`
	SessionID  uuid.UUID  `json:"session_id"`
	Action     TaskAction `json:"action"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

type TaskRepository interface {
	Create(ctx context.Context, t *Task) error
	Finish(ctx context.Context, id uuid.UUID) error
}
