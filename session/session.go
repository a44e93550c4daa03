// Package session holds explicit per-session state: the query cache and the
// usage tally of read and write units.
package session

import (
	"sync"
	"sync/atomic"

	"github.com/jacentio/kvlens/cache"
)

// Usage counts store units consumed by a session. Safe for concurrent use.
type Usage struct {
	reads  atomic.Int64
	writes atomic.Int64
}

// AddReads records n read units.
func (u *Usage) AddReads(n int64) { u.reads.Add(n) }

// AddWrites records n write units.
func (u *Usage) AddWrites(n int64) { u.writes.Add(n) }

// UsageSnapshot is a point-in-time copy of a Usage.
type UsageSnapshot struct {
	ReadUnits  int64 `json:"readUnits"`
	WriteUnits int64 `json:"writeUnits"`
}

// Snapshot returns the current counts.
func (u *Usage) Snapshot() UsageSnapshot {
	return UsageSnapshot{ReadUnits: u.reads.Load(), WriteUnits: u.writes.Load()}
}

// Session is the state owned by one logged-in operator.
type Session struct {
	ID    string
	Cache *cache.Cache
	Usage *Usage
}

// New creates a standalone session.
func New(id string, cfg cache.Config) *Session {
	return &Session{ID: id, Cache: cache.New(cfg), Usage: &Usage{}}
}

// Manager creates sessions on first use and tears them down on logout.
type Manager struct {
	mu       sync.Mutex
	cfg      cache.Config
	sessions map[string]*Session
}

// NewManager creates a Manager whose sessions use cfg for their caches.
func NewManager(cfg cache.Config) *Manager {
	return &Manager{cfg: cfg, sessions: make(map[string]*Session)}
}

// Get returns the session for id, creating it if needed.
func (m *Manager) Get(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		s = New(id, m.cfg)
		m.sessions[id] = s
	}
	return s
}

// Logout clears the session's cache and forgets it.
func (m *Manager) Logout(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		s.Cache.Clear()
	}
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
