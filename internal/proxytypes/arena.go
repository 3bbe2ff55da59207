package proxytypes

import "sync"

// Arena is the mutex-guarded record store shared by the rotator, the health
// checker, and the premium manager. None of those components holds a direct
// reference to another; they all look records up here by URL key, which is
// what keeps the three free of cyclic pointers into each other's state.
type Arena struct {
	mu      sync.Mutex
	records map[string]*Record
}

// NewArena returns an empty arena ready for use.
func NewArena() *Arena {
	return &Arena{records: make(map[string]*Record)}
}

// Put inserts or replaces the record for a descriptor's URL.
func (a *Arena) Put(d Descriptor) *Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec := &Record{Descriptor: d}
	a.records[d.URL] = rec
	return rec
}

// Get returns the record for url, if present.
func (a *Arena) Get(url string) (*Record, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, ok := a.records[url]
	return rec, ok
}

// Delete removes the record for url.
func (a *Arena) Delete(url string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.records, url)
}

// Len reports how many records the arena currently holds.
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.records)
}

// Snapshot returns a shallow copy of the current URL → record mapping. The
// Record pointers themselves are shared, so callers must not mutate their
// fields outside of the Stats/Descriptor methods meant to be called under
// the arena's own synchronization discipline (With).
func (a *Arena) Snapshot() map[string]*Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]*Record, len(a.records))
	for k, v := range a.records {
		out[k] = v
	}
	return out
}

// With runs fn with exclusive access to the named record, returning false if
// no record exists for url. Mutations to *Record made inside fn are safe.
func (a *Arena) With(url string, fn func(*Record)) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, ok := a.records[url]
	if !ok {
		return false
	}
	fn(rec)
	return true
}
