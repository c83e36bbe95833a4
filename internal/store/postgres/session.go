package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/chatgate/internal/domain"
)

type SessionRepo struct {
	pool *pgxpool.Pool
}

func NewSessionRepo(pool *pgxpool.Pool) *SessionRepo {
	return &SessionRepo{pool: pool}
}

const sessionColumns = `id, org_id, user_ref, account_ref, asset_ref, login_channel, protocol, remote_addr,
		        started_at, ended_at, expire_at, max_idle_minutes`

func (r *SessionRepo) Create(ctx context.Context, s *domain.Session) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO sessions (`+sessionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		s.ID, s.OrgID, s.UserRef, s.AccountRef, s.AssetRef, s.LoginChannel, s.Protocol, s.RemoteAddr,
		s.StartedAt, s.EndedAt, nullTime(s.ExpireAt), s.MaxIdleMinutes,
	)
	if err != nil {
		return fmt.Errorf("sessionRepo.Create: %w", err)
	}

	return nil
}

func (r *SessionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	s, err := scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("sessionRepo.GetByID: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sessionRepo.GetByID: %w", err)
	}

	return s, nil
}

// Finish sets ended_at once; finishing an already finished session keeps the
// first timestamp.
func (r *SessionRepo) Finish(ctx context.Context, id uuid.UUID, endedAt time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE sessions SET ended_at = COALESCE(ended_at, $1) WHERE id = $2`,
		endedAt, id,
	)
	if err != nil {
		return fmt.Errorf("sessionRepo.Finish: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("sessionRepo.Finish: %w", domain.ErrNotFound)
	}

	return nil
}

func (r *SessionRepo) ListByOrg(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*domain.Session, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE org_id = $1
		 ORDER BY started_at DESC
		 LIMIT $2 OFFSET $3`,
		orgID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("sessionRepo.ListByOrg: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.Session
	for rows.Next() {
		s, scanErr := scanSession(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("sessionRepo.ListByOrg: scan: %w", scanErr)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sessionRepo.ListByOrg: rows: %w", err)
	}

	return sessions, nil
}

func scanSession(row pgx.Row) (*domain.Session, error) {
	var s domain.Session
	var expireAt *time.Time

	if err := row.Scan(
		&s.ID, &s.OrgID, &s.UserRef, &s.AccountRef, &s.AssetRef, &s.LoginChannel, &s.Protocol, &s.RemoteAddr,
		&s.StartedAt, &s.EndedAt, &expireAt, &s.MaxIdleMinutes,
	); err != nil {
		return nil, err
	}
	if expireAt != nil {
		s.ExpireAt = *expireAt
	}

	return &s, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
