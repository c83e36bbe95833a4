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

type TicketRepo struct {
	pool *pgxpool.Pool
}

func NewTicketRepo(pool *pgxpool.Pool) *TicketRepo {
	return &TicketRepo{pool: pool}
}

const ticketColumns = `id, org_id, session_id, acl_id, command, state, reviewer,
		        messenger_thread_id, messenger_platform, timeout_at, created_at, resolved_at`

func (r *TicketRepo) Create(ctx context.Context, t *domain.ReviewTicket) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO review_tickets (`+ticketColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		t.ID, t.OrgID, t.SessionID, t.ACLID, t.Command, t.State, t.Reviewer,
		t.MessengerThreadID, t.MessengerPlatform, t.TimeoutAt, t.CreatedAt, t.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("ticketRepo.Create: %w", err)
	}

	return nil
}

func (r *TicketRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.ReviewTicket, error) {
	t, err := scanTicket(r.pool.QueryRow(ctx,
		`SELECT `+ticketColumns+` FROM review_tickets WHERE id = $1`, id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("ticketRepo.GetByID: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("ticketRepo.GetByID: %w", err)
	}

	return t, nil
}

func (r *TicketRepo) GetByThreadID(ctx context.Context, platform, threadID string) (*domain.ReviewTicket, error) {
	t, err := scanTicket(r.pool.QueryRow(ctx,
		`SELECT `+ticketColumns+` FROM review_tickets
		 WHERE messenger_platform = $1 AND messenger_thread_id = $2`,
		platform, threadID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("ticketRepo.GetByThreadID: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("ticketRepo.GetByThreadID: %w", err)
	}

	return t, nil
}

func (r *TicketRepo) SetThread(ctx context.Context, id uuid.UUID, platform, threadID string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE review_tickets SET messenger_platform = $1, messenger_thread_id = $2 WHERE id = $3`,
		platform, threadID, id,
	)
	if err != nil {
		return fmt.Errorf("ticketRepo.SetThread: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ticketRepo.SetThread: %w", domain.ErrNotFound)
	}

	return nil
}

// Resolve moves a pending ticket to a terminal state. It returns
// domain.ErrConflict when the ticket is no longer pending.
func (r *TicketRepo) Resolve(ctx context.Context, id uuid.UUID, state domain.TicketState, reviewer string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE review_tickets SET state = $1, reviewer = $2, resolved_at = now()
		 WHERE id = $3 AND state = $4`,
		state, reviewer, id, domain.TicketStatePending,
	)
	if err != nil {
		return fmt.Errorf("ticketRepo.Resolve: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM review_tickets WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("ticketRepo.Resolve: %w", err)
	}
	if !exists {
		return fmt.Errorf("ticketRepo.Resolve: %w", domain.ErrNotFound)
	}

	return fmt.Errorf("ticketRepo.Resolve: ticket not pending: %w", domain.ErrConflict)
}

func (r *TicketRepo) ListExpired(ctx context.Context) ([]*domain.ReviewTicket, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+ticketColumns+` FROM review_tickets
		 WHERE state = $1 AND timeout_at < now()
		 ORDER BY created_at
		 LIMIT 500`,
		domain.TicketStatePending,
	)
	if err != nil {
		return nil, fmt.Errorf("ticketRepo.ListExpired: %w", err)
	}
	defer rows.Close()

	var tickets []*domain.ReviewTicket
	for rows.Next() {
		t, scanErr := scanTicket(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("ticketRepo.ListExpired: scan: %w", scanErr)
		}
		tickets = append(tickets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ticketRepo.ListExpired: rows: %w", err)
	}

	return tickets, nil
}

func scanTicket(row pgx.Row) (*domain.ReviewTicket, error) {
	var t domain.ReviewTicket
	if err := row.Scan(
		&t.ID, &t.OrgID, &t.SessionID, &t.ACLID, &t.Command, &t.State, &t.Reviewer,
		&t.MessengerThreadID, &t.MessengerPlatform, &t.TimeoutAt, &t.CreatedAt, &t.ResolvedAt,
	); err != nil {
		return nil, err
	}
	return &t, nil
}
