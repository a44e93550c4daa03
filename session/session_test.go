package session_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jacentio/kvlens/cache"
	"github.com/jacentio/kvlens/session"
	"github.com/jacentio/kvlens/store"
)

func TestManager_CreateOnFirstUse(t *testing.T) {
	m := session.NewManager(cache.DefaultConfig())

	a := m.Get("alice")
	assert.Same(t, a, m.Get("alice"))
	assert.NotSame(t, a, m.Get("bob"))
	assert.Equal(t, 2, m.Len())
}

func TestManager_LogoutClearsCache(t *testing.T) {
	m := session.NewManager(cache.DefaultConfig())
	s := m.Get("alice")
	shape := cache.Shape{ConnectionID: "c"}
	s.Cache.Add(shape, []store.Entry{{}}, "x", false)

	m.Logout("alice")

	_, ok := s.Cache.Get(shape)
	assert.False(t, ok)
	assert.Equal(t, 0, m.Len())
	assert.NotSame(t, s, m.Get("alice"), "a new session starts after logout")

	m.Logout("nobody")
}

func TestUsage_Concurrent(t *testing.T) {
	u := &session.Usage{}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u.AddReads(2)
			u.AddWrites(1)
		}()
	}
	wg.Wait()

	assert.Equal(t, session.UsageSnapshot{ReadUnits: 100, WriteUnits: 50}, u.Snapshot())
}
