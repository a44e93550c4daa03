// Package exports tracks export job status per session and schedules the
// removal of finished snapshots.
package exports

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jacentio/kvlens/key"
	"github.com/jacentio/kvlens/queue"
	"github.com/jacentio/kvlens/store"
	"github.com/jacentio/kvlens/value"
)

var (
	// ErrNotFound is returned when no status exists for an export.
	ErrNotFound = errors.New("kvlens: export not found")

	// ErrUnknownMessage is returned by Cleanup for messages of another kind.
	ErrUnknownMessage = errors.New("kvlens: unknown cleanup message")
)

// Status is the lifecycle state of an export.
type Status string

const (
	StatusInitiating Status = "initiating"
	StatusInProgress Status = "in_progress"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
	StatusAborted    Status = "aborted"
)

// Terminal reports whether no further updates are expected.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusFailed || s == StatusAborted
}

// Job is the persisted status of one export.
type Job struct {
	ID             string    `json:"id"`
	Session        string    `json:"session"`
	Status         Status    `json:"status"`
	KeysProcessed  int64     `json:"keysProcessed"`
	BytesProcessed int64     `json:"bytesProcessed"`
	Path           string    `json:"path,omitempty"`
	Error          string    `json:"error,omitempty"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Update changes a job's status. Zero counters and an empty Path or Error
// leave the stored values unchanged.
type Update struct {
	Status         Status
	KeysProcessed  int64
	BytesProcessed int64
	Path           string
	Error          string
}

// Config configures a Store.
type Config struct {
	// Prefix is the key prefix status records are stored under.
	// Default: ["__kvlens_exports__"]
	Prefix key.Key

	// CleanupDelay is how long a finished snapshot is kept.
	// Default: 24h
	CleanupDelay time.Duration
}

// DefaultConfig returns the default export store configuration.
func DefaultConfig() Config {
	return Config{
		Prefix:       key.Key{key.String("__kvlens_exports__")},
		CleanupDelay: 24 * time.Hour,
	}
}

func (c *Config) validate() {
	d := DefaultConfig()
	if len(c.Prefix) == 0 {
		c.Prefix = d.Prefix
	}
	if c.CleanupDelay <= 0 {
		c.CleanupDelay = d.CleanupDelay
	}
}

// Store persists export status and schedules snapshot cleanup.
type Store struct {
	kv     store.Store
	queue  queue.Enqueuer
	cfg    Config
	now    func() time.Time
	logger *slog.Logger
}

// New creates a Store. If logger is nil, slog.Default() is used.
func New(kv store.Store, q queue.Enqueuer, cfg Config, logger *slog.Logger) *Store {
	cfg.validate()
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{kv: kv, queue: q, cfg: cfg, now: time.Now, logger: logger}
}

func (s *Store) key(session, id string) key.Key {
	return s.cfg.Prefix.Append(key.String(session), key.String(id))
}

// Status returns the stored status of an export.
func (s *Store) Status(ctx context.Context, session, id string) (*Job, error) {
	entry, err := s.kv.Get(ctx, s.key(session, id))
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	var job Job
	if err := value.DecodeJSON(entry.Value, &job); err != nil {
		return nil, fmt.Errorf("decode export %s: %w", id, err)
	}
	return &job, nil
}

// UpdateStatus applies u and returns the stored job.
//
// Completing a job schedules cleanup of its snapshot after CleanupDelay. If
// scheduling fails the job is stored as failed and the error is returned.
func (s *Store) UpdateStatus(ctx context.Context, session, id string, u Update) (*Job, error) {
	job, err := s.Status(ctx, session, id)
	switch {
	case errors.Is(err, ErrNotFound):
		job = &Job{ID: id, Session: session}
	case err != nil:
		return nil, err
	}

	job.Status = u.Status
	if u.KeysProcessed > 0 {
		job.KeysProcessed = u.KeysProcessed
	}
	if u.BytesProcessed > 0 {
		job.BytesProcessed = u.BytesProcessed
	}
	if u.Path != "" {
		job.Path = u.Path
	}
	if u.Error != "" {
		job.Error = u.Error
	}

	var scheduleErr error
	if job.Status == StatusComplete {
		msg := queue.NewCleanup(session, id, job.Path)
		if err := s.queue.Enqueue(ctx, msg, s.cfg.CleanupDelay); err != nil {
			scheduleErr = fmt.Errorf("schedule cleanup of export %s: %w", id, err)
			job.Status = StatusFailed
			job.Error = scheduleErr.Error()
			s.logger.Error("failed to schedule export cleanup", "exportID", id, "error", err)
		}
	}

	if err := s.put(ctx, job); err != nil {
		return nil, errors.Join(scheduleErr, err)
	}
	return job, scheduleErr
}

func (s *Store) put(ctx context.Context, job *Job) error {
	job.UpdatedAt = s.now().UTC()
	v, err := value.JSONOf(job)
	if err != nil {
		return fmt.Errorf("encode export %s: %w", job.ID, err)
	}
	if _, err := s.kv.Set(ctx, s.key(job.Session, job.ID), v, store.SetOptions{}); err != nil {
		return fmt.Errorf("store export %s: %w", job.ID, err)
	}
	return nil
}

// Cleanup removes the snapshot named by msg and retires its status record.
// It is the delivery handler for every queue implementation.
func (s *Store) Cleanup(ctx context.Context, msg queue.Message) error {
	if msg.Kind != queue.KindExportCleanup {
		return fmt.Errorf("%w: %s", ErrUnknownMessage, msg.Kind)
	}
	if msg.Path != "" {
		if err := os.Remove(msg.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove snapshot %s: %w", msg.Path, err)
		}
	}
	if err := s.kv.Delete(ctx, s.key(msg.Session, msg.ExportID)); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("retire export %s: %w", msg.ExportID, err)
	}
	s.logger.Info("export cleaned up", "exportID", msg.ExportID, "path", msg.Path)
	return nil
}
