package memstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/kvlens/key"
	"github.com/jacentio/kvlens/store"
	"github.com/jacentio/kvlens/store/memstore"
	"github.com/jacentio/kvlens/value"
)

func itemKey(n float64) key.Key {
	return key.Key{key.String("items"), key.Number(n)}
}

func seed(t *testing.T, s *memstore.Store, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		_, err := s.Set(context.Background(), itemKey(float64(i)), value.Number(float64(i)), store.SetOptions{})
		require.NoError(t, err)
	}
}

func TestStore_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()

	vs1, err := s.Set(ctx, itemKey(1), value.String("a"), store.SetOptions{})
	require.NoError(t, err)
	vs2, err := s.Set(ctx, itemKey(1), value.String("b"), store.SetOptions{})
	require.NoError(t, err)
	assert.Less(t, string(vs1), string(vs2), "versionstamps must increase")

	e, err := s.Get(ctx, itemKey(1))
	require.NoError(t, err)
	assert.Equal(t, "b", e.Value.Str())
	assert.Equal(t, vs2, e.Versionstamp)

	require.NoError(t, s.Delete(ctx, itemKey(1)))
	_, err = s.Get(ctx, itemKey(1))
	assert.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, s.Delete(ctx, itemKey(1)), "deleting a missing key is not an error")
}

func TestStore_Conditions(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()

	vs, err := s.Set(ctx, itemKey(1), value.Bool(true), store.SetOptions{IfAbsent: true})
	require.NoError(t, err)

	_, err = s.Set(ctx, itemKey(1), value.Bool(false), store.SetOptions{IfAbsent: true})
	assert.ErrorIs(t, err, store.ErrConditionFailed)

	_, err = s.Set(ctx, itemKey(1), value.Bool(false), store.SetOptions{IfVersion: "00000000000000000999"})
	assert.ErrorIs(t, err, store.ErrConditionFailed)

	_, err = s.Set(ctx, itemKey(1), value.Bool(false), store.SetOptions{IfVersion: vs})
	assert.NoError(t, err)

	_, err = s.Set(ctx, itemKey(2), value.Bool(false), store.SetOptions{IfVersion: vs})
	assert.ErrorIs(t, err, store.ErrConditionFailed, "version condition on a missing key fails")
}

func TestStore_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_000, 0)
	s := memstore.New(memstore.WithClock(func() time.Time { return now }))

	_, err := s.Set(ctx, itemKey(1), value.String("tmp"), store.SetOptions{ExpireIn: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())

	now = now.Add(time.Minute)
	_, err = s.Get(ctx, itemKey(1))
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, 0, s.Len())

	_, err = s.Set(ctx, itemKey(1), value.String("again"), store.SetOptions{IfAbsent: true})
	assert.NoError(t, err, "expired entries count as absent")
}

func TestStore_ListPages(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	seed(t, s, 7)
	_, err := s.Set(ctx, key.Key{key.String("other")}, value.String("x"), store.SetOptions{})
	require.NoError(t, err)

	r, err := store.RangeOf(store.Selector{Prefix: key.Key{key.String("items")}})
	require.NoError(t, err)

	var (
		seen   []float64
		cursor string
		pages  int
	)
	for {
		page, err := s.List(ctx, r, store.ListOptions{Limit: 3, Cursor: cursor})
		require.NoError(t, err)
		pages++
		for _, e := range page.Entries {
			seen = append(seen, e.Key[1].Num())
		}
		if page.Done {
			break
		}
		cursor = page.Cursor
	}

	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6, 7}, seen)
	assert.Equal(t, 3, pages)
}

func TestStore_ListExactPageIsDone(t *testing.T) {
	s := memstore.New()
	seed(t, s, 3)
	r, _ := store.RangeOf(store.Selector{})

	page, err := s.List(context.Background(), r, store.ListOptions{Limit: 3})
	require.NoError(t, err)
	assert.Len(t, page.Entries, 3)
	assert.True(t, page.Done)
}

func TestStore_ListReverse(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	seed(t, s, 5)
	r, _ := store.RangeOf(store.Selector{Prefix: key.Key{key.String("items")}})

	page, err := s.List(ctx, r, store.ListOptions{Limit: 2, Reverse: true})
	require.NoError(t, err)
	require.Len(t, page.Entries, 2)
	assert.Equal(t, 5.0, page.Entries[0].Key[1].Num())
	assert.Equal(t, 4.0, page.Entries[1].Key[1].Num())
	assert.False(t, page.Done)

	page, err = s.List(ctx, r, store.ListOptions{Limit: 10, Reverse: true, Cursor: page.Cursor})
	require.NoError(t, err)
	require.Len(t, page.Entries, 3)
	assert.Equal(t, 3.0, page.Entries[0].Key[1].Num())
	assert.True(t, page.Done)
}

func TestStore_ListStartEnd(t *testing.T) {
	s := memstore.New()
	seed(t, s, 10)
	r, err := store.RangeOf(store.Selector{Start: itemKey(3), End: itemKey(6)})
	require.NoError(t, err)

	page, err := s.List(context.Background(), r, store.ListOptions{})
	require.NoError(t, err)
	require.Len(t, page.Entries, 3)
	assert.Equal(t, 3.0, page.Entries[0].Key[1].Num())
	assert.Equal(t, 5.0, page.Entries[2].Key[1].Num())
}
