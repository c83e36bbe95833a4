package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/chatgate/internal/domain"
)

type TaskRepo struct {
	pool *pgxpool.Pool
}

func NewTaskRepo(pool *pgxpool.Pool) *TaskRepo {
	return &TaskRepo{pool: pool}
}

func (r *TaskRepo) Create(ctx context.Context, t *domain.Task) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO dispatch_tasks (id, session_id, action, created_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		t.ID, t.SessionID, t.Action, t.CreatedAt, t.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("taskRepo.Create: %w", err)
	}

	return nil
}

// Finish marks a task done. Every node acknowledges a broadcast task, so
// repeated calls keep the first timestamp.
func (r *TaskRepo) Finish(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE dispatch_tasks SET finished_at = COALESCE(finished_at, now()) WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("taskRepo.Finish: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("taskRepo.Finish: %w", domain.ErrNotFound)
	}

	return nil
}
