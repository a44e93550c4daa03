// Package jobs runs copy, delete, import and export jobs over key ranges.
//
// Every job moves through pending, running and one of complete, failed or
// aborted. Abort requests are honoured between batches, so writes already
// issued in the current batch are not rolled back. Each job that starts
// writes exactly one audit record, even when it panics.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jacentio/kvlens/abort"
	"github.com/jacentio/kvlens/audit"
	"github.com/jacentio/kvlens/exports"
	"github.com/jacentio/kvlens/session"
	"github.com/jacentio/kvlens/store"
	"github.com/jacentio/kvlens/value"
)

// Deps are the collaborators of an Engine.
type Deps struct {
	Connections store.Connections

	// Aborts is the shared cancellation registry. A private registry is
	// created when nil.
	Aborts *abort.Registry

	// Audit records finished jobs. Jobs are not audited when nil.
	Audit *audit.Trail

	// Exports tracks export status. Required by StartExport.
	Exports *exports.Store
}

// Engine runs bulk jobs.
type Engine struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
	wg     sync.WaitGroup
}

// NewEngine creates an Engine. If logger is nil, slog.Default() is used.
func NewEngine(deps Deps, cfg Config, logger *slog.Logger) *Engine {
	cfg.validate()
	if deps.Aborts == nil {
		deps.Aborts = abort.New(abort.DefaultConfig())
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{deps: deps, cfg: cfg, logger: logger, now: time.Now}
}

// Abort requests cancellation of the job started with token. It may come
// before the job starts; once the job has finished it is ignored.
func (e *Engine) Abort(token string) {
	if !e.deps.Aborts.RequestAbort(token) {
		e.logger.Debug("abort ignored", "token", token)
	}
}

// Wait blocks until every background job has finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// action performs one item. Errors for which isFatal is false are counted as
// item failures and the job continues.
type action func(ctx context.Context, it item) error

// fatalError marks an item error that must stop the job.
type fatalError struct{ err error }

func (f fatalError) Error() string { return f.err.Error() }
func (f fatalError) Unwrap() error { return f.err }

func fatal(err error) error { return fatalError{err: err} }

func isFatal(err error) bool {
	var f fatalError
	return errors.As(err, &f) ||
		errors.Is(err, store.ErrUnavailable) ||
		errors.Is(err, ErrJobPanicked) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// run is the mutable state of one job.
type run struct {
	id      string
	kind    audit.Kind
	token   string
	total   int64
	sess    *session.Session
	rec     audit.Record
	started time.Time

	succeeded atomic.Int64
	failed    atomic.Int64
	reads     atomic.Int64
	writes    atomic.Int64

	state State
	err   error

	// afterBatch runs after every completed batch.
	afterBatch func(ctx context.Context)

	// finalize runs once the job has stopped, before it is audited.
	finalize func(ctx context.Context)
}

func (e *Engine) newRun(kind audit.Kind, token string, total int64, sess *session.Session, rec audit.Record) *run {
	rec.Type = kind
	return &run{
		id:      uuid.NewString(),
		kind:    kind,
		token:   token,
		total:   total,
		sess:    sess,
		rec:     rec,
		started: e.now(),
		state:   StatePending,
	}
}

func (r *run) fail(err error) {
	r.state = StateFailed
	r.err = err
}

// execute runs body, recovering panics into a failed state, then finalizes
// and audits the job.
func (e *Engine) execute(ctx context.Context, r *run, body func(ctx context.Context)) (rep Report, err error) {
	defer func() {
		if p := recover(); p != nil {
			e.logger.Error("job panicked",
				"jobID", r.id,
				"kind", r.kind,
				"panic", p,
				"stack", string(debug.Stack()),
			)
			r.fail(fmt.Errorf("%w: %v", ErrJobPanicked, p))
		}
		rep, err = e.finish(ctx, r)
		e.deps.Aborts.Finish(r.token)
	}()

	e.deps.Aborts.Start(r.token)
	e.logger.Info("job started", "jobID", r.id, "kind", r.kind, "total", r.total)
	body(ctx)
	return rep, err
}

// drive feeds batches from src through act until the source is exhausted,
// the job is aborted or a fatal error occurs.
func (e *Engine) drive(ctx context.Context, r *run, src source, concurrency int, act action) {
	r.state = StateRunning
	for {
		if e.deps.Aborts.IsAborted(r.token) {
			e.deps.Aborts.Acknowledge(r.token)
			r.state = StateAborted
			e.logger.Info("job aborted", "jobID", r.id, "processed", r.succeeded.Load()+r.failed.Load())
			return
		}

		batch, err := src.next(ctx)
		if err != nil {
			r.fail(err)
			return
		}
		if len(batch) == 0 {
			r.state = StateComplete
			return
		}
		if err := e.runBatch(ctx, r, batch, concurrency, act); err != nil {
			r.fail(err)
			return
		}
		if r.afterBatch != nil {
			r.afterBatch(ctx)
		}
	}
}

func (e *Engine) runBatch(ctx context.Context, r *run, batch []item, concurrency int, act action) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, it := range batch {
		g.Go(func() (err error) {
			defer func() {
				if p := recover(); p != nil {
					e.logger.Error("item panicked", "jobID", r.id, "key", it.key.String(), "panic", p)
					err = fmt.Errorf("%w: %v", ErrJobPanicked, p)
				}
			}()

			err = act(gctx, it)
			switch {
			case err == nil:
				r.succeeded.Add(1)
				return nil
			case isFatal(err):
				return err
			default:
				r.failed.Add(1)
				e.logger.Warn("item failed",
					"jobID", r.id,
					"key", it.key.String(),
					"error", errors.Join(ErrItemFailed, err),
				)
				return nil
			}
		})
	}
	return g.Wait()
}

func (r *run) report(completed time.Time) Report {
	rep := Report{
		ID:          r.id,
		Kind:        r.kind,
		State:       r.state,
		Succeeded:   r.succeeded.Load(),
		Failed:      r.failed.Load(),
		Total:       r.total,
		ReadUnits:   r.reads.Load(),
		WriteUnits:  r.writes.Load(),
		StartedAt:   r.started,
		CompletedAt: completed,
	}
	if rep.State == StateComplete && rep.Total < 0 {
		// A finished scan has seen its whole range.
		rep.Total = rep.Processed()
	}
	rep.PercentComplete = value.PercentComplete(rep.Processed(), rep.Total)
	if r.err != nil {
		rep.Error = r.err.Error()
	}
	return rep
}

// finish finalizes the job, charges its units to the session and writes its
// audit record. The returned error is the audit failure, if any.
func (e *Engine) finish(ctx context.Context, r *run) (Report, error) {
	ctx = context.WithoutCancel(ctx)
	if r.finalize != nil {
		func() {
			defer func() {
				if p := recover(); p != nil {
					e.logger.Error("job finalizer panicked", "jobID", r.id, "panic", p)
					r.fail(fmt.Errorf("%w: %v", ErrJobPanicked, p))
				}
			}()
			r.finalize(ctx)
		}()
	}
	if r.state == StatePending || r.state == StateRunning {
		r.fail(errors.New("kvlens: job stopped without reaching a terminal state"))
	}

	rep := r.report(e.now())
	if r.sess != nil {
		r.sess.Usage.AddReads(rep.ReadUnits)
		r.sess.Usage.AddWrites(rep.WriteUnits)
	}

	e.logger.Info("job finished",
		"jobID", r.id,
		"kind", r.kind,
		"state", rep.State,
		"succeeded", rep.Succeeded,
		"failed", rep.Failed,
		"percent", rep.Percent(),
		"error", rep.Error,
	)

	if e.deps.Audit == nil {
		return rep, nil
	}
	rec := r.rec
	rec.StartedAt = rep.StartedAt
	rec.CompletedAt = rep.CompletedAt
	rec.Succeeded = rep.Succeeded
	rec.Failed = rep.Failed
	rec.Aborted = rep.State == StateAborted
	rec.ReadUnits = rep.ReadUnits
	rec.WriteUnits = rep.WriteUnits
	rec.Error = rep.Error

	auditKey, err := e.deps.Audit.Append(ctx, rec)
	if err != nil {
		e.logger.Error("failed to audit job", "jobID", r.id, "kind", r.kind, "error", err)
		return rep, fmt.Errorf("audit %s job %s: %w", r.kind, r.id, err)
	}
	rep.AuditKey = auditKey
	return rep, nil
}
