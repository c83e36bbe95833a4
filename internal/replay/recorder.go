package replay

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// FileExt is the extension of recordings written to the replay directory.
const FileExt = ".cast"

const (
	defaultQueueSize      = 256
	defaultEnqueueTimeout = 200 * time.Millisecond
)

// Uploader receives a sealed recording.
type Uploader interface {
	UploadReplayFile(ctx context.Context, sessionID uuid.UUID, path string) error
}

// Config controls where and how a recording is written.
type Config struct {
	Dir            string
	Width          int
	Height         int
	Shell          string
	Term           string
	QueueSize      int
	EnqueueTimeout time.Duration
}

// Header is the first line of an asciicast v2 file.
type Header struct {
	Version   int       `json:"version"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Timestamp int64     `json:"timestamp"`
	Title     string    `json:"title"`
	Env       HeaderEnv `json:"env"`
}

type HeaderEnv struct {
	Shell string `json:"shell"`
	Term  string `json:"term"`
}

// Recorder writes one session's terminal transcript in asciicast v2 format.
// Lines are queued by callers and written by a single goroutine, so callers
// never block on disk I/O. A recorder whose file could not be opened accepts
// every call and writes nothing.
type Recorder struct {
	sessionID uuid.UUID
	title     string
	path      string
	cfg       Config
	uploader  Uploader
	start     time.Time

	// mu orders offset computation with queue submission and guards sealed.
	mu     sync.Mutex
	sealed bool
	queue  chan []byte
	done   chan struct{}

	headerOnce sync.Once
	sealOnce   sync.Once
}

// Open creates the recording file for a session and starts its writer.
// Failures are logged and yield a no-op recorder.
func Open(sessionID uuid.UUID, title string, cfg Config, uploader Uploader) *Recorder {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = defaultEnqueueTimeout
	}

	r := &Recorder{
		sessionID: sessionID,
		title:     title,
		cfg:       cfg,
		uploader:  uploader,
		start:     time.Now(),
	}

	f, err := createFile(cfg.Dir, sessionID)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID.String()).Msg("replay.Open: recording disabled")
		r.sealed = true
		return r
	}

	r.path = f.Name()
	r.queue = make(chan []byte, cfg.QueueSize)
	r.done = make(chan struct{})
	go r.writeLoop(f)

	return r
}

func createFile(dir string, sessionID uuid.UUID) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("replay.createFile: mkdir: %w", err)
	}
	path := filepath.Join(dir, sessionID.String()+FileExt)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640) //nolint:gosec // path built from a uuid
	if err != nil {
		return nil, fmt.Errorf("replay.createFile: %w", err)
	}
	return f, nil
}

// Path returns the recording file path, empty for a no-op recorder.
func (r *Recorder) Path() string { return r.path }

// WriteHeader queues the asciicast header. Only the first call has effect.
func (r *Recorder) WriteHeader() {
	r.headerOnce.Do(func() {
		line, err := json.Marshal(Header{
			Version:   2,
			Width:     r.cfg.Width,
			Height:    r.cfg.Height,
			Timestamp: r.start.Unix(),
			Title:     r.title,
			Env:       HeaderEnv{Shell: r.cfg.Shell, Term: r.cfg.Term},
		})
		if err != nil {
			log.Error().Err(err).Str("session_id", r.sessionID.String()).Msg("replay.Recorder.WriteHeader: marshal")
			return
		}
		r.enqueue(func(time.Duration) []byte { return line })
	})
}

// WriteInput records text typed by the user.
func (r *Recorder) WriteInput(text string) { r.writeEvent(text) }

// WriteOutput records text produced by the session.
func (r *Recorder) WriteOutput(text string) { r.writeEvent(text) }

func (r *Recorder) writeEvent(text string) {
	text = NormalizeLine(text)
	r.enqueue(func(offset time.Duration) []byte {
		line, err := json.Marshal([]any{offset.Seconds(), "o", text})
		if err != nil {
			log.Error().Err(err).Str("session_id", r.sessionID.String()).Msg("replay.Recorder.writeEvent: marshal")
			return nil
		}
		return line
	})
}

// enqueue computes the event offset and submits the line under one lock, so
// queue order always matches offset order.
func (r *Recorder) enqueue(build func(offset time.Duration) []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return
	}

	line := build(time.Since(r.start))
	if line == nil {
		return
	}

	select {
	case r.queue <- line:
		return
	default:
	}

	timer := time.NewTimer(r.cfg.EnqueueTimeout)
	defer timer.Stop()

	select {
	case r.queue <- line:
	case <-timer.C:
		log.Warn().Str("session_id", r.sessionID.String()).Msg("replay.Recorder.enqueue: queue full, event dropped")
	}
}

func (r *Recorder) writeLoop(f *os.File) {
	defer close(r.done)

	w := bufio.NewWriter(f)
	failed := false
	for line := range r.queue {
		if failed {
			continue
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			log.Error().Err(err).Str("session_id", r.sessionID.String()).Msg("replay.Recorder.writeLoop: write")
			failed = true
		}
	}

	if err := w.Flush(); err != nil {
		log.Error().Err(err).Str("session_id", r.sessionID.String()).Msg("replay.Recorder.writeLoop: flush")
	}
	if err := f.Close(); err != nil {
		log.Error().Err(err).Str("session_id", r.sessionID.String()).Msg("replay.Recorder.writeLoop: close")
	}
}

// Seal drains pending lines, closes the file and hands it to the uploader.
// Only the first call has effect; later writes are dropped.
func (r *Recorder) Seal(ctx context.Context) {
	r.sealOnce.Do(func() {
		r.mu.Lock()
		if r.sealed {
			// no-op recorder
			r.mu.Unlock()
			return
		}
		r.sealed = true
		close(r.queue)
		r.mu.Unlock()

		select {
		case <-r.done:
		case <-ctx.Done():
			log.Error().Err(ctx.Err()).Str("session_id", r.sessionID.String()).Msg("replay.Recorder.Seal: writer did not drain")
			return
		}

		if r.uploader == nil {
			return
		}
		if err := r.uploader.UploadReplayFile(ctx, r.sessionID, r.path); err != nil {
			log.Error().Err(err).Str("session_id", r.sessionID.String()).Str("path", r.path).Msg("replay.Recorder.Seal: upload failed")
		}
	})
}

// NormalizeLine converts every line ending to CRLF and terminates the text
// with one, which is what terminal players expect.
func NormalizeLine(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\n", "\r\n")
	if !strings.HasSuffix(text, "\r\n") {
		text += "\r\n"
	}
	return text
}
