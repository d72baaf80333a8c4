// Package guard discards results of requests that were superseded or whose
// owning scope went away before they completed.
package guard

import "sync/atomic"

// Scope is the lifetime of the UI element that owns a set of requests.
type Scope struct {
	unmounted atomic.Bool
}

// NewScope returns a mounted scope.
func NewScope() *Scope {
	return &Scope{}
}

// Unmount marks the scope gone. Every ticket issued under it stops being current.
func (s *Scope) Unmount() {
	s.unmounted.Store(true)
}

// Mounted reports whether the scope is still alive.
func (s *Scope) Mounted() bool {
	return !s.unmounted.Load()
}

// Site returns a new call site bound to the scope.
func (s *Scope) Site() *Site {
	return &Site{scope: s}
}

// Site issues monotonically increasing request ids for one call site,
// e.g. "refresh conversation list" or "fetch history of conversation 7".
type Site struct {
	scope  *Scope
	latest atomic.Uint64
}

// Begin tags a new request. Any ticket issued earlier by this site is now stale.
func (s *Site) Begin() Ticket {
	return Ticket{site: s, id: s.latest.Add(1)}
}

// Ticket identifies one in-flight request.
type Ticket struct {
	site *Site
	id   uint64
}

// ID returns the request id.
func (t Ticket) ID() uint64 {
	return t.id
}

// Current reports whether the result of this request may still be applied.
func (t Ticket) Current() bool {
	if t.site == nil {
		return false
	}
	return t.site.latest.Load() == t.id && t.site.scope.Mounted()
}
