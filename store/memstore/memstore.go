// Package memstore is an in-process ordered store over a concurrent skip map.
// It backs tests and the CLI's scratch connections.
package memstore

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zhangyunhao116/skipmap"

	"github.com/jacentio/kvlens/key"
	"github.com/jacentio/kvlens/store"
	"github.com/jacentio/kvlens/value"
)

type record struct {
	key       key.Key
	value     value.Value
	version   int64
	expiresAt time.Time
}

func (r record) expired(now time.Time) bool {
	return !r.expiresAt.IsZero() && !r.expiresAt.After(now)
}

func (r record) entry() store.Entry {
	return store.Entry{
		Key:          r.key,
		Value:        r.value,
		Versionstamp: store.NewVersionstamp(r.version),
		ExpiresAt:    r.expiresAt,
	}
}

// Store is a store.Store held in memory.
type Store struct {
	data    *skipmap.FuncMap[[]byte, record]
	mu      sync.Mutex // serializes writes so conditions are checked atomically
	version atomic.Int64
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		data: skipmap.NewFunc[[]byte, record](func(a, b []byte) bool {
			return bytes.Compare(a, b) < 0
		}),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ store.Store = (*Store)(nil)

// Get implements store.Store.
func (s *Store) Get(_ context.Context, k key.Key) (*store.Entry, error) {
	enc, err := key.Encode(k)
	if err != nil {
		return nil, err
	}
	rec, ok := s.data.Load(enc)
	if !ok || rec.expired(s.now()) {
		return nil, store.ErrNotFound
	}
	e := rec.entry()
	return &e, nil
}

// Set implements store.Store.
func (s *Store) Set(_ context.Context, k key.Key, v value.Value, opts store.SetOptions) (store.Versionstamp, error) {
	enc, err := key.Encode(k)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	current, exists := s.data.Load(enc)
	live := exists && !current.expired(now)
	if opts.IfAbsent && live {
		return "", store.ErrConditionFailed
	}
	if opts.IfVersion != "" && (!live || store.NewVersionstamp(current.version) != opts.IfVersion) {
		return "", store.ErrConditionFailed
	}

	rec := record{key: append(key.Key{}, k...), value: v, version: s.version.Add(1)}
	if opts.ExpireIn > 0 {
		rec.expiresAt = now.Add(opts.ExpireIn)
	}
	s.data.Store(enc, rec)
	return store.NewVersionstamp(rec.version), nil
}

// Delete implements store.Store.
func (s *Store) Delete(_ context.Context, k key.Key) error {
	enc, err := key.Encode(k)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Delete(enc)
	return nil
}

// List implements store.Store.
func (s *Store) List(ctx context.Context, r store.Range, opts store.ListOptions) (*store.Page, error) {
	r, err := r.Resume(opts.Cursor, opts.Reverse)
	if err != nil {
		return nil, err
	}
	limit := opts.PageSize()
	now := s.now()
	if r.Empty() {
		return &store.Page{Done: true}, nil
	}

	var (
		records []record
		encoded [][]byte
	)
	s.data.Range(func(enc []byte, rec record) bool {
		if bytes.Compare(enc, r.Lower) < 0 {
			return true
		}
		if bytes.Compare(enc, r.Upper) >= 0 {
			return false
		}
		if rec.expired(now) {
			return true
		}
		records = append(records, rec)
		encoded = append(encoded, enc)
		// Forward scans stop one past the page to detect the end of the range.
		return opts.Reverse || len(records) <= limit
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if opts.Reverse {
		for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
			records[i], records[j] = records[j], records[i]
			encoded[i], encoded[j] = encoded[j], encoded[i]
		}
	}

	page := &store.Page{Done: len(records) <= limit}
	if len(records) > limit {
		records = records[:limit]
	}
	page.Entries = make([]store.Entry, len(records))
	for i, rec := range records {
		page.Entries[i] = rec.entry()
	}
	if len(records) > 0 {
		page.Cursor = store.EncodeCursor(encoded[len(records)-1])
	}
	return page, nil
}

// Len returns the number of live entries.
func (s *Store) Len() int {
	now := s.now()
	n := 0
	s.data.Range(func(_ []byte, rec record) bool {
		if !rec.expired(now) {
			n++
		}
		return true
	})
	return n
}
