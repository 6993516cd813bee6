package cardinality

import (
	"fmt"
	"sync"
	"testing"
)

// TestTrackerRace exercises every mode under concurrent observers and
// readers. Run with -race.
func TestTrackerRace(t *testing.T) {
	for _, mode := range []Mode{ModeBloom, ModeExact, ModeHLL} {
		t.Run(string(mode), func(t *testing.T) {
			tr := NewTracker(Config{Mode: mode, ExpectedKeys: 4096})

			var wg sync.WaitGroup
			for w := 0; w < 8; w++ {
				wg.Add(1)
				go func(w int) {
					defer wg.Done()
					for i := 0; i < 500; i++ {
						tr.Observe(fmt.Sprintf("region-%d az-%d", w, i%50))
					}
				}(w)
			}
			for r := 0; r < 2; r++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := 0; i < 200; i++ {
						_ = tr.Distinct()
						_ = tr.FootprintBytes()
					}
				}()
			}
			wg.Wait()

			if tr.Distinct() == 0 {
				t.Error("Expected nonzero distinct count after concurrent observes")
			}
		})
	}
}

// TestExactRaceDistinct checks that concurrent observers of the same key
// set land on the exact count.
func TestExactRaceDistinct(t *testing.T) {
	tr := newExactTracker()

	keys := make([]string, 200)
	for i := range keys {
		keys[i] = fmt.Sprintf("i-%04d use1-az%d", i, i%3)
	}

	var wg sync.WaitGroup
	for w := 0; w < 6; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, k := range keys {
				tr.Observe(k)
			}
		}()
	}
	wg.Wait()

	if got := tr.Distinct(); got != int64(len(keys)) {
		t.Errorf("Expected %d distinct keys, got %d", len(keys), got)
	}
}
