package jobs

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jacentio/kvlens/audit"
	"github.com/jacentio/kvlens/internal/fingerprint"
	"github.com/jacentio/kvlens/key"
	"github.com/jacentio/kvlens/list"
	"github.com/jacentio/kvlens/session"
	"github.com/jacentio/kvlens/store"
)

// Selection names the items of a copy or delete.
type Selection struct {
	// Target is the list query the items were selected from.
	Target list.Target

	// Fingerprints selects items by the fingerprints shown in the list. They
	// are checked against the session's cached scan for Target.
	Fingerprints []string

	// All selects every entry in Target's range instead.
	All bool
}

// CopyRequest copies selected entries to another connection.
type CopyRequest struct {
	Selection
	Destination string
	AbortToken  string
	Executor    string
}

// DeleteRequest deletes selected entries.
type DeleteRequest struct {
	Selection
	AbortToken string
	Executor   string
}

// resolve validates the selection and returns its item source and total.
// It touches nothing.
func (e *Engine) resolve(sess *session.Session, kv store.Store, sel Selection, reads *atomic.Int64) (source, int64, error) {
	r, err := sel.Target.Range()
	if err != nil {
		return nil, 0, err
	}
	if sel.All {
		return &scanSource{kv: kv, r: r, reverse: sel.Target.Reverse, size: e.cfg.BatchSize, reads: reads}, -1, nil
	}

	if len(sel.Fingerprints) == 0 {
		return nil, 0, ErrEmptySelection
	}
	if sess == nil {
		return nil, 0, fmt.Errorf("%w: no session", ErrFingerprintMismatch)
	}
	cached, ok := sess.Cache.Get(sel.Target.Shape())
	if !ok {
		return nil, 0, fmt.Errorf("%w: no cached entries for %s", ErrFingerprintMismatch, sel.Target.Describe())
	}
	keys := make([]key.Key, len(cached.Entries))
	for i, entry := range cached.Entries {
		keys[i] = entry.Key
	}
	selected, missing := fingerprint.NewSet(keys).Resolve(sel.Fingerprints)
	if len(missing) > 0 {
		return nil, 0, fmt.Errorf("%w: %d of %d fingerprints are stale", ErrFingerprintMismatch, len(missing), len(sel.Fingerprints))
	}
	return &keySource{keys: selected, size: e.cfg.BatchSize}, int64(len(selected)), nil
}

// Copy copies the selected entries from the target's connection to
// req.Destination, preserving remaining expiry. A mismatched selection is
// rejected before anything is read.
func (e *Engine) Copy(ctx context.Context, sess *session.Session, req CopyRequest) (*Report, error) {
	src, err := e.deps.Connections.Store(ctx, req.Target.ConnectionID)
	if err != nil {
		return nil, err
	}
	dst, err := e.deps.Connections.Store(ctx, req.Destination)
	if err != nil {
		return nil, err
	}

	rec := audit.Record{Executor: req.Executor, Selector: req.Target.Describe()}
	rec.Source, _ = e.deps.Connections.Describe(req.Target.ConnectionID)
	if conn, err := e.deps.Connections.Describe(req.Destination); err == nil {
		rec.Destination = &conn
	}

	r := e.newRun(audit.KindCopy, req.AbortToken, 0, sess, rec)
	items, total, err := e.resolve(sess, src, req.Selection, &r.reads)
	if err != nil {
		return nil, err
	}
	r.total = total

	copyItem := func(ctx context.Context, it item) error {
		entry := it.entry
		if entry == nil {
			r.reads.Add(1)
			got, err := src.Get(ctx, it.key)
			if err != nil {
				return fmt.Errorf("read %s: %w", it.key, err)
			}
			entry = got
		}

		var opts store.SetOptions
		if !entry.ExpiresAt.IsZero() {
			opts.ExpireIn = time.Until(entry.ExpiresAt)
			if opts.ExpireIn <= 0 {
				return fmt.Errorf("copy %s: entry expired", it.key)
			}
		}
		r.writes.Add(1)
		if _, err := dst.Set(ctx, it.key, entry.Value, opts); err != nil {
			return fmt.Errorf("write %s: %w", it.key, err)
		}
		return nil
	}

	rep, err := e.execute(ctx, r, func(ctx context.Context) {
		e.drive(ctx, r, items, e.cfg.Concurrency, copyItem)
	})
	return &rep, err
}

// Delete removes the selected entries. The session's cached scan of the
// target is dropped afterwards.
func (e *Engine) Delete(ctx context.Context, sess *session.Session, req DeleteRequest) (*Report, error) {
	kv, err := e.deps.Connections.Store(ctx, req.Target.ConnectionID)
	if err != nil {
		return nil, err
	}

	rec := audit.Record{Executor: req.Executor, Selector: req.Target.Describe()}
	rec.Source, _ = e.deps.Connections.Describe(req.Target.ConnectionID)

	r := e.newRun(audit.KindDelete, req.AbortToken, 0, sess, rec)
	items, total, err := e.resolve(sess, kv, req.Selection, &r.reads)
	if err != nil {
		return nil, err
	}
	r.total = total
	r.finalize = func(context.Context) {
		if sess != nil {
			sess.Cache.Forget(req.Target.Shape())
		}
	}

	deleteItem := func(ctx context.Context, it item) error {
		r.writes.Add(1)
		if err := kv.Delete(ctx, it.key); err != nil {
			return fmt.Errorf("delete %s: %w", it.key, err)
		}
		return nil
	}

	rep, err := e.execute(ctx, r, func(ctx context.Context) {
		e.drive(ctx, r, items, e.cfg.Concurrency, deleteItem)
	})
	return &rep, err
}
