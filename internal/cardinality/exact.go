package cardinality

import "sync"

// entryBytes approximates per-key map overhead: the string header plus the
// bucket slot the entry occupies.
const entryBytes = 48

// exactTracker keeps every observed key. Memory grows with the key space,
// so it suits namespaces whose group dimensions are known to stay small.
type exactTracker struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	bytes uint64
}

func newExactTracker() *exactTracker {
	return &exactTracker{seen: make(map[string]struct{})}
}

func (t *exactTracker) Observe(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.seen[key]; ok {
		return false
	}
	t.seen[key] = struct{}{}
	t.bytes += uint64(len(key)) + entryBytes
	return true
}

func (t *exactTracker) Distinct() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return int64(len(t.seen))
}

func (t *exactTracker) FootprintBytes() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bytes
}
