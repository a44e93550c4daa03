package jobs

import (
	"context"
	"errors"
	"io"
	"sync/atomic"

	"github.com/jacentio/kvlens/key"
	"github.com/jacentio/kvlens/store"
)

// item is one unit of work. entry is set when the source already read the
// stored value.
type item struct {
	key   key.Key
	entry *store.Entry
}

// source yields batches of items. An empty batch means the source is
// exhausted.
type source interface {
	next(ctx context.Context) ([]item, error)
}

// keySource yields explicitly selected keys.
type keySource struct {
	keys []key.Key
	size int
}

func (s *keySource) next(context.Context) ([]item, error) {
	n := min(s.size, len(s.keys))
	batch := make([]item, n)
	for i, k := range s.keys[:n] {
		batch[i] = item{key: k}
	}
	s.keys = s.keys[n:]
	return batch, nil
}

// scanSource pages through a range, counting one read unit per entry.
type scanSource struct {
	kv      store.Store
	r       store.Range
	reverse bool
	size    int
	reads   *atomic.Int64

	cursor string
	done   bool
}

func (s *scanSource) next(ctx context.Context) ([]item, error) {
	if s.done {
		return nil, nil
	}
	page, err := s.kv.List(ctx, s.r, store.ListOptions{Limit: s.size, Cursor: s.cursor, Reverse: s.reverse})
	if err != nil {
		return nil, err
	}
	s.reads.Add(int64(len(page.Entries)))
	s.cursor = page.Cursor
	s.done = page.Done || len(page.Entries) == 0 || page.Cursor == ""

	batch := make([]item, len(page.Entries))
	for i := range page.Entries {
		batch[i] = item{key: page.Entries[i].Key, entry: &page.Entries[i]}
	}
	return batch, nil
}

// snapshotSource reads entries from a snapshot file.
type snapshotSource struct {
	r    *SnapshotReader
	size int
	eof  bool
}

func (s *snapshotSource) next(context.Context) ([]item, error) {
	var batch []item
	for !s.eof && len(batch) < s.size {
		k, v, err := s.r.Next()
		if errors.Is(err, io.EOF) {
			s.eof = true
			break
		}
		if err != nil {
			return nil, err
		}
		batch = append(batch, item{key: k, entry: &store.Entry{Key: k, Value: v}})
	}
	return batch, nil
}
