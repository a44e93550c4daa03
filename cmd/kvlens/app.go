package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/jacentio/kvlens/abort"
	"github.com/jacentio/kvlens/audit"
	"github.com/jacentio/kvlens/cache"
	"github.com/jacentio/kvlens/exports"
	"github.com/jacentio/kvlens/internal/config"
	"github.com/jacentio/kvlens/jobs"
	"github.com/jacentio/kvlens/list"
	"github.com/jacentio/kvlens/queue"
	"github.com/jacentio/kvlens/queue/natsqueue"
	"github.com/jacentio/kvlens/queue/ttlqueue"
	"github.com/jacentio/kvlens/session"
	"github.com/jacentio/kvlens/store"
	"github.com/jacentio/kvlens/store/memstore"
	"github.com/jacentio/kvlens/store/sqlitestore"
)

// app holds the components built from one configuration.
type app struct {
	conf   config.Config
	logger *slog.Logger

	conns    *store.Registry
	sessions *session.Manager
	aborts   *abort.Registry
	trail    *audit.Trail
	exports  *exports.Store
	lister   *list.Engine
	jobs     *jobs.Engine

	// Exactly one of these is set, matching conf.Queue.Backend.
	timer *queue.Timer
	nats  *natsqueue.Queue

	ddb     *dynamodb.Client
	closers []func() error
}

func newApp(ctx context.Context, conf config.Config, logger *slog.Logger) (*app, error) {
	a := &app{
		conf:     conf,
		logger:   logger,
		conns:    store.NewRegistry(),
		sessions: session.NewManager(cache.DefaultConfig()),
		aborts:   abort.New(abort.DefaultConfig()),
	}
	if err := a.build(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) build(ctx context.Context) error {
	for _, c := range a.conf.Connections {
		kv, err := a.openStore(ctx, c)
		if err != nil {
			return fmt.Errorf("connection %s: %w", c.ID, err)
		}
		a.conns.Register(store.Connection{
			ID:       c.ID,
			Name:     c.Name,
			Location: c.Location(),
			Backend:  c.Backend,
		}, kv)
	}

	system, err := a.conns.Store(ctx, a.conf.System)
	if err != nil {
		return fmt.Errorf("system connection: %w", err)
	}

	q, err := a.openQueue(ctx)
	if err != nil {
		return fmt.Errorf("queue: %w", err)
	}

	a.trail = audit.New(system, audit.DefaultConfig(), a.logger)
	a.exports = exports.New(system, q, exports.DefaultConfig(), a.logger)
	if a.timer != nil {
		a.timer.SetHandler(a.exports.Cleanup)
	}

	a.lister = list.NewEngine(a.conns, a.trail, list.DefaultConfig(), a.logger)

	jc := jobs.DefaultConfig()
	if a.conf.Jobs.BatchSize > 0 {
		jc.BatchSize = a.conf.Jobs.BatchSize
	}
	if a.conf.Jobs.Concurrency > 0 {
		jc.Concurrency = a.conf.Jobs.Concurrency
	}
	if a.conf.Jobs.TempDir != "" {
		jc.TempDir = a.conf.Jobs.TempDir
	}
	a.jobs = jobs.NewEngine(jobs.Deps{
		Connections: a.conns,
		Aborts:      a.aborts,
		Audit:       a.trail,
		Exports:     a.exports,
	}, jc, a.logger)
	return nil
}

func (a *app) openStore(ctx context.Context, c config.Connection) (store.Store, error) {
	switch c.Backend {
	case config.BackendMemory:
		return memstore.New(), nil
	case config.BackendSQLite:
		kv, err := sqlitestore.Open(ctx, c.Path)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, kv.Close)
		return kv, nil
	case config.BackendDynamoDB:
		client, err := a.dynamo(ctx)
		if err != nil {
			return nil, err
		}
		return store.NewDynamo(client, store.DynamoConfig{Table: c.Table, Namespace: c.Namespace}), nil
	}
	return nil, fmt.Errorf("unknown backend %q", c.Backend)
}

func (a *app) openQueue(ctx context.Context) (queue.Enqueuer, error) {
	switch a.conf.Queue.Backend {
	case config.QueueNATS:
		nc, err := nats.Connect(a.conf.Queue.NATSURL)
		if err != nil {
			return nil, fmt.Errorf("connect %s: %w", a.conf.Queue.NATSURL, err)
		}
		a.closers = append(a.closers, func() error {
			nc.Close()
			return nil
		})
		q, err := natsqueue.Connect(ctx, nc, natsqueue.DefaultConfig(), a.logger)
		if err != nil {
			return nil, err
		}
		a.nats = q
		return q, nil
	case config.QueueDynamoDB:
		client, err := a.dynamo(ctx)
		if err != nil {
			return nil, err
		}
		return ttlqueue.New(client, ttlqueue.Config{Table: a.conf.Queue.Table}), nil
	default:
		a.timer = queue.NewTimer(nil, a.logger)
		a.closers = append(a.closers, func() error {
			if n := a.timer.Pending(); n > 0 {
				a.logger.Warn("dropping scheduled export cleanups", "count", n)
			}
			a.timer.Stop()
			return nil
		})
		return a.timer, nil
	}
}

// dynamo returns the shared DynamoDB client, loading AWS configuration on
// first use.
func (a *app) dynamo(ctx context.Context) (*dynamodb.Client, error) {
	if a.ddb != nil {
		return a.ddb, nil
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(a.conf.AWS.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	endpoint := a.conf.AWS.Endpoint
	a.ddb = dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return a.ddb, nil
}

// session returns the configured operator session.
func (a *app) session() *session.Session {
	return a.sessions.Get(a.conf.Session)
}

// watchAborts applies abort requests published by other processes until ctx
// is done. It is a no-op without the NATS queue.
func (a *app) watchAborts(ctx context.Context) {
	if a.nats == nil {
		return
	}
	go func() {
		if err := a.nats.WatchAborts(ctx, a.aborts); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Warn("abort watch stopped", "error", err)
		}
	}()
}

// Close waits for background jobs and releases connections.
func (a *app) Close() error {
	if a.jobs != nil {
		a.jobs.Wait()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

// withApp builds the app for one command run.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, conf, slog.Default())
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			a.logger.Warn("failed to close", "error", err)
		}
	}()
	return fn(ctx, a)
}
