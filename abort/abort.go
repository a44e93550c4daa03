// Package abort is the process-wide registry of cancellation requests for
// in-flight bulk jobs.
//
// Tokens are removed when the owning job acknowledges them. Tokens nobody
// acknowledges (the job never started) expire after TokenTTL so the
// registry cannot grow without bound. A job brackets its run with Start and
// Finish; requests for a finished token are dropped until the token is
// started again, so a late abort never stops the next job reusing it.
package abort

import (
	"time"

	"github.com/zhangyunhao116/skipmap"
)

// Config configures a Registry.
type Config struct {
	// TokenTTL bounds how long an unacknowledged token stays aborted.
	// Default: 1h
	TokenTTL time.Duration

	// Now is the clock. Default: time.Now
	Now func() time.Time
}

// DefaultConfig returns the default registry configuration.
func DefaultConfig() Config {
	return Config{TokenTTL: time.Hour, Now: time.Now}
}

func (c *Config) validate() {
	if c.TokenTTL <= 0 {
		c.TokenTTL = time.Hour
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Registry is safe for concurrent use without locks.
type Registry struct {
	cfg      Config
	tokens   *skipmap.FuncMap[string, time.Time]
	finished *skipmap.FuncMap[string, time.Time]
}

func newTokenMap() *skipmap.FuncMap[string, time.Time] {
	return skipmap.NewFunc[string, time.Time](func(a, b string) bool {
		return a < b
	})
}

// New creates an empty Registry.
func New(cfg Config) *Registry {
	cfg.validate()
	return &Registry{
		cfg:      cfg,
		tokens:   newTokenMap(),
		finished: newTokenMap(),
	}
}

// RequestAbort marks token as aborted and reports whether the request was
// registered. Empty tokens are ignored, and so are tokens whose job has
// already finished: a request arriving after Finish has nothing left to
// stop.
func (r *Registry) RequestAbort(token string) bool {
	if token == "" || r.isFinished(token) {
		return false
	}
	at := r.cfg.Now()
	r.tokens.Store(token, at)
	// Finish marks before it drops, so a Finish racing this Store is seen here.
	if r.isFinished(token) {
		r.drop(r.tokens, token, at)
		return false
	}
	return true
}

// IsAborted reports whether an unexpired abort was requested for token.
// Expired requests are left for Prune.
func (r *Registry) IsAborted(token string) bool {
	if token == "" {
		return false
	}
	requested, ok := r.tokens.Load(token)
	return ok && !r.expired(requested, r.cfg.Now())
}

// Acknowledge removes token once its job has stopped.
func (r *Registry) Acknowledge(token string) {
	r.tokens.Delete(token)
}

// Start clears the finished mark of a reused token so aborts for the new
// job are registered again. Requests made before Start still apply.
func (r *Registry) Start(token string) {
	if token == "" {
		return
	}
	r.finished.Delete(token)
}

// Finish records that the job owning token stopped and drops any pending
// request for it. It also prunes expired entries.
func (r *Registry) Finish(token string) {
	if token == "" {
		return
	}
	r.finished.Store(token, r.cfg.Now())
	r.tokens.Delete(token)
	r.Prune()
}

// Prune removes expired tokens and finished marks and returns how many
// were removed.
func (r *Registry) Prune() int {
	return r.prune(r.tokens) + r.prune(r.finished)
}

// Len returns the number of registered tokens, including expired ones not yet pruned.
func (r *Registry) Len() int {
	return r.tokens.Len()
}

func (r *Registry) prune(m *skipmap.FuncMap[string, time.Time]) int {
	now := r.cfg.Now()
	var (
		expired []string
		times   []time.Time
	)
	m.Range(func(token string, at time.Time) bool {
		if r.expired(at, now) {
			expired = append(expired, token)
			times = append(times, at)
		}
		return true
	})
	removed := 0
	for i, token := range expired {
		if r.drop(m, token, times[i]) {
			removed++
		}
	}
	return removed
}

// drop deletes token from m only while it still holds at. A value stored
// concurrently since at was read is put back.
func (r *Registry) drop(m *skipmap.FuncMap[string, time.Time], token string, at time.Time) bool {
	got, ok := m.LoadAndDelete(token)
	if !ok {
		return false
	}
	if !got.Equal(at) {
		m.LoadOrStore(token, got)
		return false
	}
	return true
}

func (r *Registry) isFinished(token string) bool {
	at, ok := r.finished.Load(token)
	return ok && !r.expired(at, r.cfg.Now())
}

func (r *Registry) expired(at, now time.Time) bool {
	return now.Sub(at) >= r.cfg.TokenTTL
}
