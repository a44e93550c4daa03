// Package list runs paginated, filtered list queries over a connection,
// backed by the session's query cache.
package list

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jacentio/kvlens/audit"
	"github.com/jacentio/kvlens/internal/fingerprint"
	"github.com/jacentio/kvlens/key"
	"github.com/jacentio/kvlens/session"
	"github.com/jacentio/kvlens/store"
	"github.com/jacentio/kvlens/value"
)

// maxCacheAttempts bounds how often List rebuilds its window after a
// concurrent List on the same shape advanced the cache.
const maxCacheAttempts = 5

// Config configures an Engine.
type Config struct {
	// DefaultLimit is the store page size when a query sets none.
	// Default: 100
	DefaultLimit int

	// MaxLimit caps the store page size.
	// Default: 1000
	MaxLimit int

	// DefaultShow is the window size when a query sets none.
	// Default: 10
	DefaultShow int

	// MaxPages bounds the store pages fetched by one List call.
	// Default: 10
	MaxPages int
}

// DefaultConfig returns the default list configuration.
func DefaultConfig() Config {
	return Config{DefaultLimit: 100, MaxLimit: 1000, DefaultShow: 10, MaxPages: 10}
}

func (c *Config) validate() {
	d := DefaultConfig()
	if c.DefaultLimit < 1 {
		c.DefaultLimit = d.DefaultLimit
	}
	if c.MaxLimit < 1 {
		c.MaxLimit = d.MaxLimit
	}
	if c.DefaultLimit > c.MaxLimit {
		c.DefaultLimit = c.MaxLimit
	}
	if c.DefaultShow < 1 {
		c.DefaultShow = d.DefaultShow
	}
	if c.MaxPages < 1 {
		c.MaxPages = d.MaxPages
	}
}

// Query is one list request.
type Query struct {
	Target

	// Limit is the store page size used when more entries are needed.
	Limit int

	// From is the zero-based offset into the filtered results.
	From int

	// Show is the number of filtered results to return.
	Show int

	// Filter keeps entries whose rendered key or value contains it (case-sensitive).
	Filter string

	// DisableCache discards the cached scan and starts from the beginning.
	DisableCache bool
}

// Item is one entry prepared for display.
type Item struct {
	Key          key.Key
	KeyLiteral   string
	KeyTypes     string
	Value        value.Value
	ValueText    string
	ValueType    string
	Size         int
	SizeText     string
	Versionstamp store.Versionstamp
	Fingerprint  string
	ExpiresAt    time.Time
}

// Result is the outcome of a list query.
type Result struct {
	// Items is the requested window of filtered results.
	Items []Item

	// FullResultCount counts filtered matches among every entry fetched so
	// far for this scan, not the whole store.
	FullResultCount int

	// Filtered is true when a filter was applied.
	Filtered bool

	// Cursor resumes the store scan after the last fetched entry.
	Cursor string

	// ListComplete is true when the store has no entries past Cursor.
	ListComplete bool

	// ReadUnits is the number of raw entries pulled from the store by this call.
	ReadUnits int64
}

// Engine executes list and get requests.
type Engine struct {
	conns  store.Connections
	trail  *audit.Trail
	cfg    Config
	logger *slog.Logger
}

// NewEngine creates an Engine. trail may be nil to skip auditing point reads.
// If logger is nil, slog.Default() is used.
func NewEngine(conns store.Connections, trail *audit.Trail, cfg Config, logger *slog.Logger) *Engine {
	cfg.validate()
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{conns: conns, trail: trail, cfg: cfg, logger: logger}
}

func (e *Engine) limit(q Query) int {
	switch {
	case q.Limit < 1:
		return e.cfg.DefaultLimit
	case q.Limit > e.cfg.MaxLimit:
		return e.cfg.MaxLimit
	}
	return q.Limit
}

// List returns the window [From, From+Show) of the filtered scan, fetching
// further store pages only when the cached entries cannot fill it.
func (e *Engine) List(ctx context.Context, sess *session.Session, q Query) (*Result, error) {
	r, err := q.Range()
	if err != nil {
		return nil, err
	}
	kv, err := e.conns.Store(ctx, q.ConnectionID)
	if err != nil {
		return nil, err
	}
	if q.From < 0 {
		q.From = 0
	}
	if q.Show < 1 {
		q.Show = e.cfg.DefaultShow
	}
	limit := e.limit(q)
	shape := q.Shape()

	var (
		entries []store.Entry
		fetched []store.Entry
		cursor  string
		done    bool
		reads   int64
	)
	// A concurrent List on the same shape may advance the cached scan while
	// this one fetches. AddFrom then refuses the stale pages and the window
	// is rebuilt from the newer cache state.
	for attempt := 1; ; attempt++ {
		entries, cursor, done = nil, "", false
		if !q.DisableCache {
			if cached, ok := sess.Cache.Get(shape); ok {
				entries, cursor, done = cached.Entries, cached.Cursor, cached.Done
			}
		}
		from := cursor

		var pages int
		fetched, pages, cursor, done, err = e.fetch(ctx, kv, r, q, limit, entries, cursor, done)
		reads += int64(len(fetched))
		if err != nil {
			if reads > 0 {
				sess.Usage.AddReads(reads)
			}
			return nil, err
		}

		stored := true
		switch {
		case q.DisableCache:
			sess.Cache.Replace(shape, fetched, cursor, done)
		case pages > 0:
			stored = sess.Cache.AddFrom(shape, from, fetched, cursor, done)
		}
		if stored {
			break
		}
		if attempt == maxCacheAttempts {
			e.logger.Warn("cache kept moving under a concurrent scan; serving uncached pages",
				"connection", q.ConnectionID, "attempts", attempt)
			break
		}
		e.logger.Debug("cached scan advanced concurrently; retrying",
			"connection", q.ConnectionID, "attempt", attempt)
	}
	if reads > 0 {
		sess.Usage.AddReads(reads)
	}

	want := q.From + q.Show
	all := append(entries, fetched...)
	res := &Result{
		Filtered:     q.Filter != "",
		Cursor:       cursor,
		ListComplete: done,
		ReadUnits:    reads,
	}
	for _, entry := range all {
		if !matchesFilter(entry, q.Filter) {
			continue
		}
		if res.FullResultCount >= q.From && res.FullResultCount < want {
			res.Items = append(res.Items, NewItem(entry))
		}
		res.FullResultCount++
	}

	e.logger.Debug("list served",
		"connection", q.ConnectionID,
		"cached", len(entries),
		"fetched", len(fetched),
		"matches", res.FullResultCount,
		"complete", done,
	)
	return res, nil
}

// GetRequest is a point read of one key.
type GetRequest struct {
	ConnectionID string
	Key          string
	Executor     string
}

// Get reads one entry and audits the read when the engine has a trail.
// A missing key yields store.ErrNotFound and is still audited.
func (e *Engine) Get(ctx context.Context, sess *session.Session, req GetRequest) (*Item, error) {
	k, err := key.Parse(req.Key)
	if err != nil {
		return nil, err
	}
	kv, err := e.conns.Store(ctx, req.ConnectionID)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	entry, getErr := kv.Get(ctx, k)
	sess.Usage.AddReads(1)

	if e.trail != nil {
		rec := audit.Record{
			Type:      audit.KindGet,
			Executor:  req.Executor,
			Selector:  k.String(),
			StartedAt: started,
			ReadUnits: 1,
		}
		rec.Source, _ = e.conns.Describe(req.ConnectionID)
		switch {
		case getErr == nil:
			rec.Succeeded = 1
		case errors.Is(getErr, store.ErrNotFound):
		default:
			rec.Failed = 1
			rec.Error = getErr.Error()
		}
		if _, err := e.trail.Append(ctx, rec); err != nil {
			e.logger.Error("failed to audit get", "key", k.String(), "error", err)
		}
	}

	if getErr != nil {
		return nil, fmt.Errorf("get %s: %w", k, getErr)
	}
	item := NewItem(*entry)
	return &item, nil
}

// NewItem prepares a raw entry for display.
func NewItem(entry store.Entry) Item {
	size := value.ApproximateSize(entry.Value)
	return Item{
		Key:          entry.Key,
		KeyLiteral:   entry.Key.String(),
		KeyTypes:     key.TypeNames(entry.Key),
		Value:        entry.Value,
		ValueText:    value.Render(entry.Value),
		ValueType:    entry.Value.TypeName(),
		Size:         size,
		SizeText:     value.ReadableSizeDefault(int64(size)),
		Versionstamp: entry.Versionstamp,
		Fingerprint:  fingerprint.Of(entry.Key),
		ExpiresAt:    entry.ExpiresAt,
	}
}

func matchesFilter(entry store.Entry, filter string) bool {
	if filter == "" {
		return true
	}
	return strings.Contains(entry.Key.String(), filter) || strings.Contains(value.Render(entry.Value), filter)
}

func countMatches(entries []store.Entry, filter string) int {
	if filter == "" {
		return len(entries)
	}
	n := 0
	for _, entry := range entries {
		if matchesFilter(entry, filter) {
			n++
		}
	}
	return n
}

// fetch reads store pages after cursor until the entries already held plus
// the fetched ones fill From+Show filter matches, the scan ends or MaxPages
// is reached.
func (e *Engine) fetch(ctx context.Context, kv store.Store, r store.Range, q Query, limit int, held []store.Entry, cursor string, done bool) ([]store.Entry, int, string, bool, error) {
	matches := countMatches(held, q.Filter)
	want := q.From + q.Show

	var (
		fetched []store.Entry
		pages   int
	)
	for matches < want && !done && pages < e.cfg.MaxPages {
		page, err := kv.List(ctx, r, store.ListOptions{Limit: limit, Cursor: cursor, Reverse: q.Reverse})
		if err != nil {
			return fetched, pages, cursor, done, err
		}
		pages++
		fetched = append(fetched, page.Entries...)
		matches += countMatches(page.Entries, q.Filter)
		done = page.Done
		if len(page.Entries) == 0 && !done {
			e.logger.Warn("store returned an empty page without finishing", "connection", q.ConnectionID)
			break
		}
		if page.Cursor != "" {
			cursor = page.Cursor
		}
	}
	return fetched, pages, cursor, done, nil
}
