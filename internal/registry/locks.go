package registry

import "sync"

// endpointLocks provides per-endpoint mutual exclusion so that transitions
// for one device are strictly ordered without serialising the whole fleet.
// Entries are reference-counted and removed once the last holder releases,
// keeping the map bounded by the number of concurrently active endpoints.
type endpointLocks struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newEndpointLocks() *endpointLocks {
	return &endpointLocks{locks: make(map[string]*lockEntry)}
}

// lock acquires the mutex for the given endpoint and returns the release
// function. The release function must be called exactly once.
func (l *endpointLocks) lock(endpoint string) func() {
	l.mu.Lock()
	entry, ok := l.locks[endpoint]
	if !ok {
		entry = &lockEntry{}
		l.locks[endpoint] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, endpoint)
		}
		l.mu.Unlock()
	}
}
