package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/chatgate/internal/domain"
)

type CommandRepo struct {
	pool *pgxpool.Pool
}

func NewCommandRepo(pool *pgxpool.Pool) *CommandRepo {
	return &CommandRepo{pool: pool}
}

func (r *CommandRepo) Create(ctx context.Context, c *domain.CommandRecord) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO command_records (id, session_id, input, output, risk_level, acl_id, group_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.SessionID, c.Input, c.Output, c.RiskLevel,
		nullUUID(c.ACLID), nullUUID(c.GroupID), c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("commandRepo.Create: %w", err)
	}

	return nil
}

func (r *CommandRepo) ListBySession(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]*domain.CommandRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, input, output, risk_level, acl_id, group_id, created_at
		 FROM command_records WHERE session_id = $1
		 ORDER BY created_at
		 LIMIT $2 OFFSET $3`,
		sessionID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("commandRepo.ListBySession: %w", err)
	}
	defer rows.Close()

	var records []*domain.CommandRecord
	for rows.Next() {
		var c domain.CommandRecord
		var aclID, groupID *uuid.UUID

		if err := rows.Scan(
			&c.ID, &c.SessionID, &c.Input, &c.Output, &c.RiskLevel, &aclID, &groupID, &c.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("commandRepo.ListBySession: scan: %w", err)
		}
		if aclID != nil {
			c.ACLID = *aclID
		}
		if groupID != nil {
			c.GroupID = *groupID
		}
		records = append(records, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("commandRepo.ListBySession: rows: %w", err)
	}

	return records, nil
}
