package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/jacentio/kvlens/audit"
	"github.com/jacentio/kvlens/exports"
	"github.com/jacentio/kvlens/list"
	"github.com/jacentio/kvlens/session"
	"github.com/jacentio/kvlens/store"
)

// ImportRequest writes a snapshot file into a connection.
type ImportRequest struct {
	Destination string
	Path        string
	AbortToken  string
	Executor    string
}

// ExportRequest snapshots a range of a connection.
type ExportRequest struct {
	Target     list.Target
	AbortToken string
	Executor   string
}

func snapshotConnection(path string) store.Connection {
	return store.Connection{ID: "snapshot", Name: filepath.Base(path), Location: path, Backend: "file"}
}

// Import writes every record of the snapshot at req.Path to req.Destination.
// The snapshot is counted first so progress is known.
func (e *Engine) Import(ctx context.Context, sess *session.Session, req ImportRequest) (*Report, error) {
	dst, err := e.deps.Connections.Store(ctx, req.Destination)
	if err != nil {
		return nil, err
	}
	total, err := CountSnapshot(req.Path)
	if err != nil {
		return nil, err
	}
	reader, err := OpenSnapshot(req.Path)
	if err != nil {
		return nil, err
	}

	rec := audit.Record{Executor: req.Executor, Selector: req.Path, Source: snapshotConnection(req.Path)}
	if conn, err := e.deps.Connections.Describe(req.Destination); err == nil {
		rec.Destination = &conn
	}

	r := e.newRun(audit.KindImport, req.AbortToken, total, sess, rec)
	r.finalize = func(context.Context) {
		if err := reader.Close(); err != nil {
			e.logger.Warn("failed to close snapshot", "path", req.Path, "error", err)
		}
	}

	importItem := func(ctx context.Context, it item) error {
		r.writes.Add(1)
		if _, err := dst.Set(ctx, it.key, it.entry.Value, store.SetOptions{}); err != nil {
			return fmt.Errorf("write %s: %w", it.key, err)
		}
		return nil
	}

	rep, err := e.execute(ctx, r, func(ctx context.Context) {
		e.drive(ctx, r, &snapshotSource{r: reader, size: e.cfg.BatchSize}, e.cfg.Concurrency, importItem)
	})
	return &rep, err
}

// StartExport validates req, records the export as initiating and returns its
// id. The snapshot is written in the background; poll ExportStatus for
// progress. The job outlives ctx's cancellation.
func (e *Engine) StartExport(ctx context.Context, sess *session.Session, req ExportRequest) (string, error) {
	if e.deps.Exports == nil {
		return "", errors.New("kvlens: export store not configured")
	}
	if sess == nil {
		return "", errors.New("kvlens: export requires a session")
	}
	rng, err := req.Target.Range()
	if err != nil {
		return "", err
	}
	src, err := e.deps.Connections.Store(ctx, req.Target.ConnectionID)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	path := filepath.Join(e.cfg.TempDir, "kvlens-export-"+id+".jsonl.zst")
	if _, err := e.deps.Exports.UpdateStatus(ctx, sess.ID, id, exports.Update{Status: exports.StatusInitiating}); err != nil {
		return "", err
	}

	rec := audit.Record{Executor: req.Executor, Selector: req.Target.Describe()}
	rec.Source, _ = e.deps.Connections.Describe(req.Target.ConnectionID)
	dest := snapshotConnection(path)
	rec.Destination = &dest

	r := e.newRun(audit.KindExport, req.AbortToken, -1, sess, rec)
	r.id = id

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		_, _ = e.runExport(context.WithoutCancel(ctx), r, src, rng, req.Target.Reverse, path)
	}()
	return id, nil
}

func (e *Engine) runExport(ctx context.Context, r *run, src store.Store, rng store.Range, reverse bool, path string) (Report, error) {
	var w *SnapshotWriter
	update := func(ctx context.Context, u exports.Update) error {
		if w != nil {
			u.KeysProcessed = w.Count()
			u.BytesProcessed = w.Bytes()
		}
		_, err := e.deps.Exports.UpdateStatus(ctx, r.sess.ID, r.id, u)
		return err
	}

	r.afterBatch = func(ctx context.Context) {
		if err := update(ctx, exports.Update{Status: exports.StatusInProgress}); err != nil {
			e.logger.Warn("failed to update export progress", "exportID", r.id, "error", err)
		}
	}

	r.finalize = func(ctx context.Context) {
		if w != nil {
			if err := w.Close(); err != nil && r.state == StateComplete {
				r.fail(fmt.Errorf("close snapshot: %w", err))
			}
		}

		u := exports.Update{Status: exports.StatusFailed}
		switch r.state {
		case StateComplete:
			u = exports.Update{Status: exports.StatusComplete, Path: path}
		case StateAborted:
			u.Status = exports.StatusAborted
		default:
			if r.err != nil {
				u.Error = r.err.Error()
			} else {
				u.Error = "export stopped without finishing"
			}
		}

		if err := update(ctx, u); err != nil {
			r.fail(err)
		}
		if r.state != StateComplete {
			if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				e.logger.Warn("failed to remove partial snapshot", "path", path, "error", err)
			}
		}
	}

	exportItem := func(_ context.Context, it item) error {
		if _, err := w.Write(it.key, it.entry.Value); err != nil {
			return fatal(err)
		}
		return nil
	}

	return e.execute(ctx, r, func(ctx context.Context) {
		var err error
		if w, err = CreateSnapshot(path); err != nil {
			r.fail(err)
			return
		}
		if err := update(ctx, exports.Update{Status: exports.StatusInProgress}); err != nil {
			r.fail(err)
			return
		}
		// Snapshot lines are written in scan order.
		e.drive(ctx, r, &scanSource{kv: src, r: rng, reverse: reverse, size: e.cfg.BatchSize, reads: &r.reads}, 1, exportItem)
	})
}

// ExportStatus returns the status of an export started in sess.
func (e *Engine) ExportStatus(ctx context.Context, sess *session.Session, id string) (*exports.Job, error) {
	if e.deps.Exports == nil {
		return nil, errors.New("kvlens: export store not configured")
	}
	return e.deps.Exports.Status(ctx, sess.ID, id)
}
