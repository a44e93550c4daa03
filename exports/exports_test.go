package exports_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/kvlens/exports"
	"github.com/jacentio/kvlens/queue"
	"github.com/jacentio/kvlens/store/memstore"
)

type scheduled struct {
	msg   queue.Message
	delay time.Duration
}

type fakeQueue struct {
	sent []scheduled
	err  error
}

func (f *fakeQueue) Enqueue(_ context.Context, msg queue.Message, delay time.Duration) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, scheduled{msg: msg, delay: delay})
	return nil
}

func TestStatus_NotFound(t *testing.T) {
	s := exports.New(memstore.New(), &fakeQueue{}, exports.DefaultConfig(), nil)

	_, err := s.Status(context.Background(), "s1", "missing")
	assert.ErrorIs(t, err, exports.ErrNotFound)
}

func TestUpdateStatus_Progress(t *testing.T) {
	q := &fakeQueue{}
	s := exports.New(memstore.New(), q, exports.DefaultConfig(), nil)
	ctx := context.Background()

	_, err := s.UpdateStatus(ctx, "s1", "e1", exports.Update{Status: exports.StatusInitiating})
	require.NoError(t, err)
	_, err = s.UpdateStatus(ctx, "s1", "e1", exports.Update{Status: exports.StatusInProgress, KeysProcessed: 10, BytesProcessed: 640})
	require.NoError(t, err)

	job, err := s.Status(ctx, "s1", "e1")
	require.NoError(t, err)
	assert.Equal(t, exports.StatusInProgress, job.Status)
	assert.Equal(t, int64(10), job.KeysProcessed)
	assert.Equal(t, int64(640), job.BytesProcessed)
	assert.False(t, job.UpdatedAt.IsZero())
	assert.Empty(t, q.sent)

	_, err = s.Status(ctx, "s2", "e1")
	assert.ErrorIs(t, err, exports.ErrNotFound, "status is scoped to the session")
}

func TestUpdateStatus_CompleteSchedulesCleanup(t *testing.T) {
	q := &fakeQueue{}
	s := exports.New(memstore.New(), q, exports.DefaultConfig(), nil)

	job, err := s.UpdateStatus(context.Background(), "s1", "e1", exports.Update{
		Status:        exports.StatusComplete,
		KeysProcessed: 3,
		Path:          "/tmp/e1.jsonl.zst",
	})
	require.NoError(t, err)
	assert.Equal(t, exports.StatusComplete, job.Status)
	assert.Equal(t, "/tmp/e1.jsonl.zst", job.Path)

	require.Len(t, q.sent, 1)
	assert.Equal(t, 24*time.Hour, q.sent[0].delay)
	assert.Equal(t, queue.KindExportCleanup, q.sent[0].msg.Kind)
	assert.Equal(t, "e1", q.sent[0].msg.ExportID)
	assert.Equal(t, "/tmp/e1.jsonl.zst", q.sent[0].msg.Path)
}

func TestUpdateStatus_ScheduleFailureFailsJob(t *testing.T) {
	q := &fakeQueue{err: errors.New("queue unreachable")}
	s := exports.New(memstore.New(), q, exports.DefaultConfig(), nil)
	ctx := context.Background()

	job, err := s.UpdateStatus(ctx, "s1", "e1", exports.Update{Status: exports.StatusComplete, Path: "/tmp/x"})
	require.Error(t, err)
	assert.ErrorContains(t, err, "queue unreachable")
	assert.Equal(t, exports.StatusFailed, job.Status)

	stored, err := s.Status(ctx, "s1", "e1")
	require.NoError(t, err)
	assert.Equal(t, exports.StatusFailed, stored.Status)
	assert.Equal(t, "/tmp/x", stored.Path)
	assert.Contains(t, stored.Error, "queue unreachable")
}

func TestCleanup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "e1.jsonl.zst")
	require.NoError(t, os.WriteFile(path, []byte("snapshot"), 0o600))

	q := &fakeQueue{}
	s := exports.New(memstore.New(), q, exports.DefaultConfig(), nil)
	ctx := context.Background()

	_, err := s.UpdateStatus(ctx, "s1", "e1", exports.Update{Status: exports.StatusComplete, Path: path})
	require.NoError(t, err)
	require.Len(t, q.sent, 1)

	require.NoError(t, s.Cleanup(ctx, q.sent[0].msg))

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	_, err = s.Status(ctx, "s1", "e1")
	assert.ErrorIs(t, err, exports.ErrNotFound)

	require.NoError(t, s.Cleanup(ctx, q.sent[0].msg), "cleanup is idempotent")
}

func TestCleanup_UnknownKind(t *testing.T) {
	s := exports.New(memstore.New(), &fakeQueue{}, exports.DefaultConfig(), nil)
	err := s.Cleanup(context.Background(), queue.Message{ID: "1", Kind: "other"})
	assert.ErrorIs(t, err, exports.ErrUnknownMessage)
}

func TestStatus_Terminal(t *testing.T) {
	assert.False(t, exports.StatusInitiating.Terminal())
	assert.False(t, exports.StatusInProgress.Terminal())
	assert.True(t, exports.StatusComplete.Terminal())
	assert.True(t, exports.StatusFailed.Terminal())
	assert.True(t, exports.StatusAborted.Terminal())
}
