package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ReplayArchive records where a sealed recording was archived and the digest
// of its uncompressed contents.
type ReplayArchive struct {
	SessionID uuid.UUID
	Path      string
	Size      int64
	Digest    string // hex BLAKE2b-256 of the raw recording
	CreatedAt time.Time
}

type ReplayRepository interface {
	Create(ctx context.Context, r *ReplayArchive) error
	GetBySession(ctx context.Context, sessionID uuid.UUID) (*ReplayArchive, error)
}
