package multiplayer

import (
	"sort"
	"sync"
)

// Registry holds the in-memory matches of this process, keyed by session code.
type Registry struct {
	mu      sync.RWMutex
	matches map[string]*Match
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{matches: make(map[string]*Match)}
}

// Get returns the match for code, or nil.
func (r *Registry) Get(code string) *Match {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.matches[code]
}

// Has reports whether code is in use.
func (r *Registry) Has(code string) bool {
	return r.Get(code) != nil
}

// Claim returns the match for code. When absent, admit is called under the registry lock and a
// match from create is stored only if it returns true; otherwise Claim returns nil.
func (r *Registry) Claim(code string, admit func() bool, create func() *Match) *Match {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m := r.matches[code]; m != nil {
		return m
	}
	if !admit() {
		return nil
	}
	m := create()
	r.matches[code] = m
	return m
}

// IfAbsent runs fn under the registry lock when code has no match and reports whether it ran.
// No match can be claimed for code while fn runs.
func (r *Registry) IfAbsent(code string, fn func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.matches[code] != nil {
		return false
	}
	fn()
	return true
}

// Remove deletes code only if it still maps to m.
func (r *Registry) Remove(code string, m *Match) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.matches[code] == m {
		delete(r.matches, code)
	}
}

// Snapshot returns the current matches ordered by code.
func (r *Registry) Snapshot() []*Match {
	r.mu.RLock()
	out := make([]*Match, 0, len(r.matches))
	for _, m := range r.matches {
		out = append(out, m)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Len returns the number of matches.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.matches)
}
