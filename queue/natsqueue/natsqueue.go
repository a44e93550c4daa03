// Package natsqueue delivers deferred work and abort broadcasts over NATS
// JetStream.
package natsqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/jacentio/kvlens/abort"
	"github.com/jacentio/kvlens/queue"
)

// JetStream is the subset of jetstream.JetStream used by Queue.
type JetStream interface {
	CreateOrUpdateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
	CreateOrUpdateConsumer(ctx context.Context, stream string, cfg jetstream.ConsumerConfig) (jetstream.Consumer, error)
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// JetStreamNew is a variable to allow replacing the JetStream constructor in tests.
var JetStreamNew = func(nc *nats.Conn) (jetstream.JetStream, error) {
	return jetstream.New(nc)
}

// Config configures a Queue.
type Config struct {
	// Stream holds deferred work messages with work-queue retention.
	// Default: "KVLENS_WORK"
	Stream string

	// Subject carries deferred work messages.
	// Default: "kvlens.work"
	Subject string

	// Durable names the shared worker consumer.
	// Default: "kvlens-worker"
	Durable string

	// AbortStream holds abort broadcasts.
	// Default: "KVLENS_ABORT"
	AbortStream string

	// AbortSubject carries abort tokens.
	// Default: "kvlens.abort"
	AbortSubject string

	// AbortMaxAge bounds how long abort broadcasts are retained.
	// Default: 1h
	AbortMaxAge time.Duration

	// RetryDelay is the redelivery delay after a handler error.
	// Default: 30s
	RetryDelay time.Duration
}

// DefaultConfig returns the default queue configuration.
func DefaultConfig() Config {
	return Config{
		Stream:       "KVLENS_WORK",
		Subject:      "kvlens.work",
		Durable:      "kvlens-worker",
		AbortStream:  "KVLENS_ABORT",
		AbortSubject: "kvlens.abort",
		AbortMaxAge:  time.Hour,
		RetryDelay:   30 * time.Second,
	}
}

func (c *Config) validate() {
	d := DefaultConfig()
	if c.Stream == "" {
		c.Stream = d.Stream
	}
	if c.Subject == "" {
		c.Subject = d.Subject
	}
	if c.Durable == "" {
		c.Durable = d.Durable
	}
	if c.AbortStream == "" {
		c.AbortStream = d.AbortStream
	}
	if c.AbortSubject == "" {
		c.AbortSubject = d.AbortSubject
	}
	if c.AbortMaxAge <= 0 {
		c.AbortMaxAge = d.AbortMaxAge
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = d.RetryDelay
	}
}

// Queue implements queue.Enqueuer on JetStream.
type Queue struct {
	js     JetStream
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Queue. Call Init before first use.
// If logger is nil, slog.Default() is used.
func New(js JetStream, cfg Config, logger *slog.Logger) *Queue {
	cfg.validate()
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{js: js, cfg: cfg, logger: logger, now: time.Now}
}

// Connect creates a Queue on an established NATS connection and initializes
// its streams.
func Connect(ctx context.Context, nc *nats.Conn, cfg Config, logger *slog.Logger) (*Queue, error) {
	js, err := JetStreamNew(nc)
	if err != nil {
		return nil, fmt.Errorf("create jetstream: %w", err)
	}
	q := New(js, cfg, logger)
	if err := q.Init(ctx); err != nil {
		return nil, err
	}
	return q, nil
}

// Config returns the validated configuration.
func (q *Queue) Config() Config {
	return q.cfg
}

// Init creates or updates the work and abort streams.
func (q *Queue) Init(ctx context.Context) error {
	if _, err := q.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      q.cfg.Stream,
		Subjects:  []string{q.cfg.Subject},
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
	}); err != nil {
		return fmt.Errorf("create stream %s: %w", q.cfg.Stream, err)
	}
	if _, err := q.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     q.cfg.AbortStream,
		Subjects: []string{q.cfg.AbortSubject},
		MaxAge:   q.cfg.AbortMaxAge,
		Storage:  jetstream.FileStorage,
	}); err != nil {
		return fmt.Errorf("create stream %s: %w", q.cfg.AbortStream, err)
	}
	return nil
}

// Enqueue publishes msg. The worker holds it back until delay has passed.
func (q *Queue) Enqueue(ctx context.Context, msg queue.Message, delay time.Duration) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if delay < 0 {
		delay = 0
	}
	msg.NotBefore = q.now().Add(delay).UTC()

	data, err := queue.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if _, err := q.js.Publish(ctx, q.cfg.Subject, data, jetstream.WithMsgID(msg.ID)); err != nil {
		return fmt.Errorf("publish %s: %w", msg.ID, err)
	}
	q.logger.Debug("message enqueued", "id", msg.ID, "kind", msg.Kind, "notBefore", msg.NotBefore)
	return nil
}

// Run consumes work messages and passes due ones to handler until ctx is done.
func (q *Queue) Run(ctx context.Context, handler queue.Handler) error {
	consumer, err := q.js.CreateOrUpdateConsumer(ctx, q.cfg.Stream, jetstream.ConsumerConfig{
		Durable:       q.cfg.Durable,
		FilterSubject: q.cfg.Subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", q.cfg.Durable, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		q.handle(ctx, msg, handler)
	})
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	q.logger.Info("queue worker started", "stream", q.cfg.Stream, "consumer", q.cfg.Durable)
	<-ctx.Done()
	cc.Stop()
	q.logger.Info("queue worker stopped", "stream", q.cfg.Stream)
	return nil
}

func (q *Queue) handle(ctx context.Context, raw jetstream.Msg, handler queue.Handler) {
	msg, err := queue.Decode(raw.Data())
	if err != nil {
		q.logger.Error("dropping undecodable message", "subject", raw.Subject(), "error", err)
		if err := raw.Term(); err != nil {
			q.logger.Warn("failed to terminate message", "error", err)
		}
		return
	}

	if wait := msg.NotBefore.Sub(q.now()); wait > 0 {
		if err := raw.NakWithDelay(wait); err != nil {
			q.logger.Warn("failed to defer message", "id", msg.ID, "error", err)
		}
		return
	}

	if err := handler(ctx, msg); err != nil {
		q.logger.Error("failed to handle message", "id", msg.ID, "kind", msg.Kind, "error", err)
		if err := raw.NakWithDelay(q.cfg.RetryDelay); err != nil {
			q.logger.Warn("failed to nak message", "id", msg.ID, "error", err)
		}
		return
	}
	if err := raw.Ack(); err != nil {
		q.logger.Warn("failed to ack message", "id", msg.ID, "error", err)
	}
}

// PublishAbort broadcasts an abort request for token to every watching process.
func (q *Queue) PublishAbort(ctx context.Context, token string) error {
	if token == "" {
		return errors.New("kvlens: empty abort token")
	}
	if _, err := q.js.Publish(ctx, q.cfg.AbortSubject, []byte(token)); err != nil {
		return fmt.Errorf("publish abort %s: %w", token, err)
	}
	return nil
}

// WatchAborts registers broadcast abort tokens in reg until ctx is done.
// Only broadcasts published after the watch starts are delivered.
func (q *Queue) WatchAborts(ctx context.Context, reg *abort.Registry) error {
	consumer, err := q.js.CreateOrUpdateConsumer(ctx, q.cfg.AbortStream, jetstream.ConsumerConfig{
		FilterSubject:     q.cfg.AbortSubject,
		AckPolicy:         jetstream.AckNonePolicy,
		DeliverPolicy:     jetstream.DeliverNewPolicy,
		InactiveThreshold: time.Minute,
	})
	if err != nil {
		return fmt.Errorf("create abort consumer: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		token := string(msg.Data())
		q.logger.Info("abort requested", "token", token)
		reg.RequestAbort(token)
	})
	if err != nil {
		return fmt.Errorf("consume aborts: %w", err)
	}

	<-ctx.Done()
	cc.Stop()
	return nil
}
