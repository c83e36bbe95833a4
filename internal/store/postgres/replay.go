package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/chatgate/internal/domain"
)

type ReplayRepo struct {
	pool *pgxpool.Pool
}

func NewReplayRepo(pool *pgxpool.Pool) *ReplayRepo {
	return &ReplayRepo{pool: pool}
}

// Create records an archive. Re-archiving a session replaces the previous row.
func (r *ReplayRepo) Create(ctx context.Context, a *domain.ReplayArchive) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO replay_archives (session_id, path, size, digest, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (session_id) DO UPDATE
		 SET path = EXCLUDED.path, size = EXCLUDED.size, digest = EXCLUDED.digest, created_at = EXCLUDED.created_at`,
		a.SessionID, a.Path, a.Size, a.Digest, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("replayRepo.Create: %w", err)
	}

	return nil
}

func (r *ReplayRepo) GetBySession(ctx context.Context, sessionID uuid.UUID) (*domain.ReplayArchive, error) {
	var a domain.ReplayArchive

	err := r.pool.QueryRow(ctx,
		`SELECT session_id, path, size, digest, created_at FROM replay_archives WHERE session_id = $1`,
		sessionID,
	).Scan(&a.SessionID, &a.Path, &a.Size, &a.Digest, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("replayRepo.GetBySession: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("replayRepo.GetBySession: %w", err)
	}

	return &a, nil
}
