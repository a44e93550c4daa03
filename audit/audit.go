// Package audit appends one immutable record per completed operation to an
// ordered store, keyed by the completion time.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jacentio/kvlens/key"
	"github.com/jacentio/kvlens/store"
	"github.com/jacentio/kvlens/value"
)

// ErrAuditWriteCollision is returned when every candidate timestamp key was
// already taken.
var ErrAuditWriteCollision = errors.New("kvlens: audit write collided on every attempt")

// KeyLayout formats audit timestamps. Keys sort chronologically.
const KeyLayout = "2006-01-02T15:04:05.000Z"

// Kind is the audited operation type.
type Kind string

const (
	KindGet    Kind = "get"
	KindCopy   Kind = "copy"
	KindDelete Kind = "delete"
	KindImport Kind = "import"
	KindExport Kind = "export"
)

// Record describes one completed operation.
type Record struct {
	// Key is the timestamp the record is stored under. Set by Append and List.
	Key string `json:"-"`

	Type        Kind              `json:"type"`
	Executor    string            `json:"executor"`
	Source      store.Connection  `json:"source"`
	Destination *store.Connection `json:"destination,omitempty"`
	Selector    string            `json:"selector,omitempty"`
	StartedAt   time.Time         `json:"startedAt"`
	CompletedAt time.Time         `json:"completedAt"`
	ElapsedMs   int64             `json:"elapsedMs"`
	Succeeded   int64             `json:"succeeded"`
	Failed      int64             `json:"failed"`
	Aborted     bool              `json:"aborted"`
	ReadUnits   int64             `json:"readUnits"`
	WriteUnits  int64             `json:"writeUnits"`
	Error       string            `json:"error,omitempty"`
}

// Config configures a Trail.
type Config struct {
	// Prefix is the key prefix audit records are stored under.
	// Default: ["__kvlens_audit__"]
	Prefix key.Key

	// MaxAttempts bounds the +1ms retries on key collisions.
	// Default: 10
	MaxAttempts int
}

// DefaultConfig returns the default audit configuration.
func DefaultConfig() Config {
	return Config{
		Prefix:      key.Key{key.String("__kvlens_audit__")},
		MaxAttempts: 10,
	}
}

func (c *Config) validate() {
	if len(c.Prefix) == 0 {
		c.Prefix = DefaultConfig().Prefix
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 10
	}
}

// Trail writes audit records to a store.
type Trail struct {
	kv     store.Store
	cfg    Config
	now    func() time.Time
	logger *slog.Logger
}

// New creates a Trail writing to kv. If logger is nil, slog.Default() is used.
func New(kv store.Store, cfg Config, logger *slog.Logger) *Trail {
	cfg.validate()
	if logger == nil {
		logger = slog.Default()
	}
	return &Trail{kv: kv, cfg: cfg, now: time.Now, logger: logger}
}

// Append stores rec under its completion time, moving forward one
// millisecond per collision. It returns the key used.
func (t *Trail) Append(ctx context.Context, rec Record) (string, error) {
	if rec.CompletedAt.IsZero() {
		rec.CompletedAt = t.now()
	}
	if rec.ElapsedMs == 0 && !rec.StartedAt.IsZero() {
		rec.ElapsedMs = rec.CompletedAt.Sub(rec.StartedAt).Milliseconds()
	}

	doc, err := value.JSONOf(rec)
	if err != nil {
		return "", fmt.Errorf("encode audit record: %w", err)
	}

	base := rec.CompletedAt.UTC().Truncate(time.Millisecond)
	for attempt := 0; attempt < t.cfg.MaxAttempts; attempt++ {
		ts := base.Add(time.Duration(attempt) * time.Millisecond).Format(KeyLayout)
		_, err := t.kv.Set(ctx, t.cfg.Prefix.Append(key.String(ts)), doc, store.SetOptions{IfAbsent: true})
		if err == nil {
			t.logger.Debug("audit record written", "key", ts, "type", rec.Type, "attempt", attempt+1)
			return ts, nil
		}
		if !errors.Is(err, store.ErrConditionFailed) {
			return "", fmt.Errorf("write audit record: %w", err)
		}
	}

	t.logger.Warn("audit write collided", "type", rec.Type, "attempts", t.cfg.MaxAttempts)
	return "", ErrAuditWriteCollision
}

// List returns up to limit records, newest first.
func (t *Trail) List(ctx context.Context, limit int) ([]Record, error) {
	r, err := store.RangeOf(store.Selector{Prefix: t.cfg.Prefix})
	if err != nil {
		return nil, err
	}
	page, err := t.kv.List(ctx, r, store.ListOptions{Limit: limit, Reverse: true})
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(page.Entries))
	for _, e := range page.Entries {
		var rec Record
		if err := value.DecodeJSON(e.Value, &rec); err != nil {
			t.logger.Warn("skipping unreadable audit record", "key", e.Key.String(), "error", err)
			continue
		}
		if last := e.Key[len(e.Key)-1]; last.Kind() == key.KindString {
			rec.Key = last.Str()
		}
		records = append(records, rec)
	}
	return records, nil
}
