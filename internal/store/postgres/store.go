package postgres

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gosuda/chatgate/internal/domain"
)

//go:embed schema.sql
var schema string

type Store struct {
	pool     *pgxpool.Pool
	sessions *SessionRepo
	acls     *ACLRepo
	commands *CommandRepo
	tickets  *TicketRepo
	tasks    *TaskRepo
	replays  *ReplayRepo
}

func New(ctx context.Context, dsn string, maxConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres.New: parse config: %w", err)
	}

	cfg.MaxConns = maxConns

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres.New: connect: %w", err)
	}

	err = pool.Ping(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres.New: ping: %w", err)
	}

	return &Store{
		pool:     pool,
		sessions: NewSessionRepo(pool),
		acls:     NewACLRepo(pool),
		commands: NewCommandRepo(pool),
		tickets:  NewTicketRepo(pool),
		tasks:    NewTaskRepo(pool),
		replays:  NewReplayRepo(pool),
	}, nil
}

// Migrate creates any missing tables. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres.Store.Migrate: %w", err)
	}
	return nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Sessions() domain.SessionRepository { return s.sessions }
func (s *Store) ACLs() domain.ACLRepository         { return s.acls }
func (s *Store) Commands() domain.CommandRepository { return s.commands }
func (s *Store) Tickets() domain.TicketRepository   { return s.tickets }
func (s *Store) Tasks() domain.TaskRepository       { return s.tasks }
func (s *Store) Replays() domain.ReplayRepository   { return s.replays }
