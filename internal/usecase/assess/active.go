package assess

import "sync"

// ActiveTargets tracks domains that are currently in use: either an
// assessment is in flight for them, or a caller holds an open session on the
// verdict. Active domains must never be evicted from the cache, so the
// evictor consults this set before deleting anything.
//
// Entries are reference counted: every Acquire must be paired with a Release.
type ActiveTargets struct {
	mu   sync.Mutex
	refs map[string]int
}

// NewActiveTargets creates an empty registry.
func NewActiveTargets() *ActiveTargets {
	return &ActiveTargets{refs: make(map[string]int)}
}

// Acquire marks a domain as in use.
func (a *ActiveTargets) Acquire(domain string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.refs[domain]++
}

// Release drops one reference to a domain, removing it from the set when the
// last reference goes away. Releasing an unknown domain is a no-op.
func (a *ActiveTargets) Release(domain string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.refs[domain] <= 1 {
		delete(a.refs, domain)
		return
	}
	a.refs[domain]--
}

// Active reports whether a domain currently holds at least one reference.
func (a *ActiveTargets) Active(domain string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.refs[domain] > 0
}

// Count returns how many distinct domains are active.
func (a *ActiveTargets) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.refs)
}
