package natsqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/kvlens/abort"
	"github.com/jacentio/kvlens/queue"
)

func fixedQueue(js JetStream, now time.Time) *Queue {
	q := New(js, Config{}, nil)
	q.now = func() time.Time { return now }
	return q
}

func TestConfig_Defaults(t *testing.T) {
	q := New(nil, Config{RetryDelay: -1}, nil)
	assert.Equal(t, DefaultConfig(), q.Config())
}

func TestInit_CreatesStreams(t *testing.T) {
	js := new(MockJetStream)
	js.On("CreateOrUpdateStream", mock.Anything, mock.MatchedBy(func(cfg jetstream.StreamConfig) bool {
		return cfg.Name == "KVLENS_WORK" && cfg.Retention == jetstream.WorkQueuePolicy
	})).Return(nil, nil).Once()
	js.On("CreateOrUpdateStream", mock.Anything, mock.MatchedBy(func(cfg jetstream.StreamConfig) bool {
		return cfg.Name == "KVLENS_ABORT" && cfg.MaxAge == time.Hour
	})).Return(nil, nil).Once()

	require.NoError(t, New(js, Config{}, nil).Init(context.Background()))
	js.AssertExpectations(t)
}

func TestInit_Error(t *testing.T) {
	js := new(MockJetStream)
	js.On("CreateOrUpdateStream", mock.Anything, mock.Anything).Return(nil, errors.New("no responders"))

	err := New(js, Config{}, nil).Init(context.Background())
	assert.ErrorContains(t, err, "KVLENS_WORK")
}

func TestEnqueue(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	js := new(MockJetStream)
	js.On("Publish", mock.Anything, "kvlens.work", mock.Anything).Return(&jetstream.PubAck{Stream: "KVLENS_WORK"}, nil)

	q := fixedQueue(js, now)
	require.NoError(t, q.Enqueue(context.Background(), queue.NewCleanup("s1", "e1", "/tmp/x"), 24*time.Hour))

	require.Len(t, js.Calls, 1)
	msg, err := queue.Decode(js.Calls[0].Arguments.Get(2).([]byte))
	require.NoError(t, err)
	assert.Equal(t, "e1", msg.ExportID)
	assert.True(t, msg.NotBefore.Equal(now.Add(24*time.Hour)))
}

func TestEnqueue_PublishError(t *testing.T) {
	js := new(MockJetStream)
	js.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("timeout"))

	err := New(js, Config{}, nil).Enqueue(context.Background(), queue.NewCleanup("s1", "e1", ""), 0)
	assert.ErrorContains(t, err, "timeout")
}

func encoded(t *testing.T, msg queue.Message) []byte {
	t.Helper()
	data, err := queue.Encode(msg)
	require.NoError(t, err)
	return data
}

func TestHandle_DueMessageAcked(t *testing.T) {
	now := time.Now()
	q := fixedQueue(nil, now)
	msg := queue.NewCleanup("s1", "e1", "")
	msg.NotBefore = now.Add(-time.Second)

	raw := NewMockMsg("kvlens.work", encoded(t, msg))
	raw.On("Ack").Return(nil)

	var handled []string
	q.handle(context.Background(), raw, func(_ context.Context, m queue.Message) error {
		handled = append(handled, m.ExportID)
		return nil
	})

	assert.Equal(t, []string{"e1"}, handled)
	raw.AssertExpectations(t)
}

func TestHandle_EarlyMessageDeferred(t *testing.T) {
	now := time.Now()
	q := fixedQueue(nil, now)
	msg := queue.NewCleanup("s1", "e1", "")
	msg.NotBefore = now.Add(time.Hour)

	raw := NewMockMsg("kvlens.work", encoded(t, msg))
	raw.On("NakWithDelay", time.Hour).Return(nil)

	q.handle(context.Background(), raw, func(context.Context, queue.Message) error {
		t.Error("handler called before the message was due")
		return nil
	})
	raw.AssertExpectations(t)
}

func TestHandle_HandlerErrorRetried(t *testing.T) {
	q := fixedQueue(nil, time.Now())
	raw := NewMockMsg("kvlens.work", encoded(t, queue.NewCleanup("s1", "e1", "")))
	raw.On("NakWithDelay", 30*time.Second).Return(nil)

	q.handle(context.Background(), raw, func(context.Context, queue.Message) error {
		return errors.New("disk busy")
	})
	raw.AssertExpectations(t)
}

func TestHandle_UndecodableTerminated(t *testing.T) {
	q := fixedQueue(nil, time.Now())
	raw := NewMockMsg("kvlens.work", []byte("{"))
	raw.On("Term").Return(nil)

	q.handle(context.Background(), raw, func(context.Context, queue.Message) error {
		t.Error("handler called for undecodable message")
		return nil
	})
	raw.AssertExpectations(t)
}

func TestRun_ConsumesUntilCanceled(t *testing.T) {
	consumer := NewMockConsumer()
	cc := new(MockConsumeContext)
	cc.On("Stop").Return()
	consumer.On("Consume", mock.Anything).Return(cc, nil)

	js := new(MockJetStream)
	js.On("CreateOrUpdateConsumer", mock.Anything, "KVLENS_WORK", mock.MatchedBy(func(cfg jetstream.ConsumerConfig) bool {
		return cfg.Durable == "kvlens-worker" && cfg.AckPolicy == jetstream.AckExplicitPolicy
	})).Return(consumer, nil)

	q := New(js, Config{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	handled := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- q.Run(ctx, func(_ context.Context, m queue.Message) error {
			handled <- m.ExportID
			return nil
		})
	}()

	var deliver jetstream.MessageHandler
	select {
	case deliver = <-consumer.HandlerCh():
	case <-time.After(2 * time.Second):
		t.Fatal("consumer never started")
	}

	raw := NewMockMsg("kvlens.work", encoded(t, queue.NewCleanup("s1", "e1", "")))
	raw.On("Ack").Return(nil)
	deliver(raw)
	assert.Equal(t, "e1", <-handled)

	cancel()
	require.NoError(t, <-errCh)
	cc.AssertCalled(t, "Stop")
}

func TestRun_ConsumerError(t *testing.T) {
	js := new(MockJetStream)
	js.On("CreateOrUpdateConsumer", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("stream not found"))

	err := New(js, Config{}, nil).Run(context.Background(), nil)
	assert.ErrorContains(t, err, "stream not found")
}

func TestPublishAbort(t *testing.T) {
	js := new(MockJetStream)
	js.On("Publish", mock.Anything, "kvlens.abort", []byte("job-1")).Return(&jetstream.PubAck{}, nil)

	q := New(js, Config{}, nil)
	require.NoError(t, q.PublishAbort(context.Background(), "job-1"))
	assert.Error(t, q.PublishAbort(context.Background(), ""))
	js.AssertExpectations(t)
}

func TestWatchAborts(t *testing.T) {
	consumer := NewMockConsumer()
	cc := new(MockConsumeContext)
	cc.On("Stop").Return()
	consumer.On("Consume", mock.Anything).Return(cc, nil)

	js := new(MockJetStream)
	js.On("CreateOrUpdateConsumer", mock.Anything, "KVLENS_ABORT", mock.MatchedBy(func(cfg jetstream.ConsumerConfig) bool {
		return cfg.DeliverPolicy == jetstream.DeliverNewPolicy && cfg.Durable == ""
	})).Return(consumer, nil)

	reg := abort.New(abort.DefaultConfig())
	q := New(js, Config{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- q.WatchAborts(ctx, reg) }()

	deliver := <-consumer.HandlerCh()
	deliver(NewMockMsg("kvlens.abort", []byte("job-7")))
	assert.True(t, reg.IsAborted("job-7"))

	cancel()
	require.NoError(t, <-errCh)
}
