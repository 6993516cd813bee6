package cardinality

import (
	"sync"

	"github.com/axiomhq/hyperloglog"
)

// sketchBytes is the dense size of a precision 14 sketch: 2^14 registers,
// one byte each.
const sketchBytes = 16384

// sketchTracker estimates distinct keys with a precision 14 HyperLogLog.
// Memory stays flat no matter how many keys arrive, at the cost of a small
// estimation error and no per-key membership answer.
type sketchTracker struct {
	mu     sync.Mutex
	sketch *hyperloglog.Sketch
}

func newSketchTracker() *sketchTracker {
	return &sketchTracker{sketch: hyperloglog.New14()}
}

// Observe always reports true. The sketch cannot answer whether a single
// key was seen before.
func (t *sketchTracker) Observe(key string) bool {
	t.mu.Lock()
	t.sketch.Insert([]byte(key))
	t.mu.Unlock()
	return true
}

// Distinct returns the sketch estimate. Estimate can rewrite the sketch
// from sparse to dense form, so it takes the same lock as Observe.
func (t *sketchTracker) Distinct() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return int64(t.sketch.Estimate())
}

func (t *sketchTracker) FootprintBytes() uint64 {
	return sketchBytes
}
