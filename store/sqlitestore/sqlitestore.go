// Package sqlitestore is a store.Store persisted in a local SQLite database
// through the pure-Go modernc.org/sqlite driver.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jacentio/kvlens/key"
	"github.com/jacentio/kvlens/store"
	"github.com/jacentio/kvlens/value"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv_entries (
	k          BLOB PRIMARY KEY,
	v          TEXT NOT NULL,
	version    INTEGER NOT NULL,
	expires_at INTEGER
) WITHOUT ROWID;
CREATE TABLE IF NOT EXISTS kv_meta (
	name  TEXT PRIMARY KEY,
	value INTEGER NOT NULL
);
INSERT OR IGNORE INTO kv_meta (name, value) VALUES ('version', 0);
`

// Store is a store.Store backed by SQLite. Keys are stored in their encoded
// form so SQLite's BLOB ordering (memcmp) matches key order.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path. Use ":memory:" for a
// throwaway database.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

var _ store.Store = (*Store)(nil)

// Get implements store.Store.
func (s *Store) Get(ctx context.Context, k key.Key) (*store.Entry, error) {
	enc, err := key.Encode(k)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT k, v, version, expires_at FROM kv_entries
		 WHERE k = ? AND (expires_at IS NULL OR expires_at > ?)`,
		enc, s.now().UnixMilli())

	e, _, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, mapError(err)
	}
	return e, nil
}

// Set implements store.Store.
func (s *Store) Set(ctx context.Context, k key.Key, v value.Value, opts store.SetOptions) (store.Versionstamp, error) {
	enc, err := key.Encode(k)
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return "", err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", mapError(err)
	}
	defer tx.Rollback()

	now := s.now()
	var current int64
	err = tx.QueryRowContext(ctx,
		`SELECT version FROM kv_entries WHERE k = ? AND (expires_at IS NULL OR expires_at > ?)`,
		enc, now.UnixMilli()).Scan(&current)
	live := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", mapError(err)
	}
	if opts.IfAbsent && live {
		return "", store.ErrConditionFailed
	}
	if opts.IfVersion != "" && (!live || store.NewVersionstamp(current) != opts.IfVersion) {
		return "", store.ErrConditionFailed
	}

	var version int64
	if err := tx.QueryRowContext(ctx,
		`UPDATE kv_meta SET value = value + 1 WHERE name = 'version' RETURNING value`).Scan(&version); err != nil {
		return "", mapError(err)
	}

	var expiresAt sql.NullInt64
	if opts.ExpireIn > 0 {
		expiresAt = sql.NullInt64{Int64: now.Add(opts.ExpireIn).UnixMilli(), Valid: true}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO kv_entries (k, v, version, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (k) DO UPDATE SET v = excluded.v, version = excluded.version, expires_at = excluded.expires_at`,
		enc, string(payload), version, expiresAt); err != nil {
		return "", mapError(err)
	}

	if err := tx.Commit(); err != nil {
		return "", mapError(err)
	}
	return store.NewVersionstamp(version), nil
}

// Delete implements store.Store.
func (s *Store) Delete(ctx context.Context, k key.Key) error {
	enc, err := key.Encode(k)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE k = ?`, enc)
	return mapError(err)
}

// List implements store.Store.
func (s *Store) List(ctx context.Context, r store.Range, opts store.ListOptions) (*store.Page, error) {
	r, err := r.Resume(opts.Cursor, opts.Reverse)
	if err != nil {
		return nil, err
	}
	limit := opts.PageSize()

	order := "ASC"
	if opts.Reverse {
		order = "DESC"
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT k, v, version, expires_at FROM kv_entries
		 WHERE k >= ? AND k < ? AND (expires_at IS NULL OR expires_at > ?)
		 ORDER BY k `+order+` LIMIT ?`,
		r.Lower, r.Upper, s.now().UnixMilli(), limit+1)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var (
		entries []store.Entry
		last    []byte
	)
	for rows.Next() {
		e, enc, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		if len(entries) == limit {
			// One past the page: the range is not exhausted.
			return &store.Page{Entries: entries, Cursor: store.EncodeCursor(last)}, nil
		}
		entries = append(entries, *e)
		last = enc
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}

	page := &store.Page{Entries: entries, Done: true}
	if len(entries) > 0 {
		page.Cursor = store.EncodeCursor(last)
	}
	return page, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*store.Entry, []byte, error) {
	var (
		enc       []byte
		payload   string
		version   int64
		expiresAt sql.NullInt64
	)
	if err := row.Scan(&enc, &payload, &version, &expiresAt); err != nil {
		return nil, nil, err
	}

	k, err := key.Decode(enc)
	if err != nil {
		return nil, nil, err
	}
	e := &store.Entry{Key: k, Versionstamp: store.NewVersionstamp(version)}
	if err := json.Unmarshal([]byte(payload), &e.Value); err != nil {
		return nil, nil, err
	}
	if expiresAt.Valid {
		e.ExpiresAt = time.UnixMilli(expiresAt.Int64)
	}
	return e, enc, nil
}

// mapError treats a closed database as an unavailable store.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrConnDone) || err.Error() == "sql: database is closed" {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return err
}
