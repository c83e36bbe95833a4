package gateway

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/blake2b"

	"github.com/gosuda/chatgate/internal/domain"
	"github.com/gosuda/chatgate/internal/replay"
)

// UploadReplayFile archives a sealed recording: the file is gzipped into the
// archive directory, its BLAKE2b-256 digest is stored alongside the archive
// row and the source file is removed.
func (s *Service) UploadReplayFile(ctx context.Context, sessionID uuid.UUID, path string) error {
	archive, err := s.archiveFile(sessionID, path)
	if err != nil {
		return fmt.Errorf("gateway.Service.UploadReplayFile: %w", err)
	}

	if err := s.repos.Replays.Create(ctx, archive); err != nil {
		return fmt.Errorf("gateway.Service.UploadReplayFile: record archive: %w", err)
	}

	if err := os.Remove(path); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("gateway.Service.UploadReplayFile: remove source")
	}

	log.Info().
		Str("session_id", sessionID.String()).
		Str("archive", archive.Path).
		Int64("size", archive.Size).
		Msg("gateway.Service.UploadReplayFile: replay archived")

	return nil
}

func (s *Service) archiveFile(sessionID uuid.UUID, path string) (*domain.ReplayArchive, error) {
	src, err := os.Open(path) //nolint:gosec // path comes from the replay directory
	if err != nil {
		return nil, fmt.Errorf("open recording: %w", err)
	}
	defer src.Close()

	if err := os.MkdirAll(s.archiveDir, 0o750); err != nil {
		return nil, fmt.Errorf("mkdir archive: %w", err)
	}

	dstPath := filepath.Join(s.archiveDir, sessionID.String()+replay.FileExt+".gz")
	dst, err := os.OpenFile(dstPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640) //nolint:gosec // path built from a uuid
	if err != nil {
		return nil, fmt.Errorf("create archive: %w", err)
	}

	hasher, err := blake2b.New256(nil)
	if err != nil {
		_ = dst.Close()
		return nil, fmt.Errorf("blake2b: %w", err)
	}

	gz, err := gzip.NewWriterLevel(dst, gzip.BestCompression)
	if err != nil {
		_ = dst.Close()
		return nil, fmt.Errorf("gzip writer: %w", err)
	}
	gz.Name = filepath.Base(path)
	gz.ModTime = time.Now()

	size, copyErr := io.Copy(io.MultiWriter(hasher, gz), src)
	closeErr := errors.Join(gz.Close(), dst.Close())
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(dstPath)
		return nil, fmt.Errorf("write archive: %w", err)
	}

	return &domain.ReplayArchive{
		SessionID: sessionID,
		Path:      dstPath,
		Size:      size,
		Digest:    hex.EncodeToString(hasher.Sum(nil)),
		CreatedAt: time.Now(),
	}, nil
}

// ScanRemainingReplays archives recordings left behind by a previous run and
// finishes their sessions. Recordings of sessions for which live reports true
// are still being written and are left alone. It returns how many recordings
// were archived.
func (s *Service) ScanRemainingReplays(ctx context.Context, dir string, live func(uuid.UUID) bool) (int, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*"+replay.FileExt))
	if err != nil {
		return 0, fmt.Errorf("gateway.Service.ScanRemainingReplays: %w", err)
	}

	var (
		archived int
		errs     []error
	)
	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), replay.FileExt)
		sessionID, parseErr := uuid.Parse(name)
		if parseErr != nil {
			log.Warn().Str("path", path).Msg("gateway.Service.ScanRemainingReplays: not a session recording, skipped")
			continue
		}
		if live != nil && live(sessionID) {
			log.Debug().Str("session_id", sessionID.String()).Msg("gateway.Service.ScanRemainingReplays: session is live, skipped")
			continue
		}

		if err := s.UploadReplayFile(ctx, sessionID, path); err != nil {
			errs = append(errs, err)
			continue
		}
		archived++

		if err := s.finishIfOpen(ctx, sessionID); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return archived, fmt.Errorf("gateway.Service.ScanRemainingReplays: %w", err)
	}
	return archived, nil
}

func (s *Service) finishIfOpen(ctx context.Context, sessionID uuid.UUID) error {
	sess, err := s.repos.Sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("get session %s: %w", sessionID, err)
	}
	if sess.Finished() {
		return nil
	}
	if err := s.repos.Sessions.Finish(ctx, sessionID, time.Now()); err != nil {
		return fmt.Errorf("finish session %s: %w", sessionID, err)
	}
	return nil
}
