package cardinality

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

const (
	defaultExpectedKeys      = 100000
	defaultFalsePositiveRate = 0.01
)

// bloomTracker keeps a fixed-size Bloom filter and counts first
// observations. A colliding first observation reads as a repeat, so the
// distinct count can run low by roughly the configured false positive
// rate.
type bloomTracker struct {
	mu     sync.Mutex
	filter *bloom.BloomFilter
	seen   int64
}

func newBloomTracker(cfg Config) *bloomTracker {
	n := cfg.ExpectedKeys
	if n == 0 {
		n = defaultExpectedKeys
	}
	fp := cfg.FalsePositiveRate
	if fp <= 0 || fp >= 1 {
		fp = defaultFalsePositiveRate
	}
	return &bloomTracker{filter: bloom.NewWithEstimates(n, fp)}
}

func (t *bloomTracker) Observe(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.filter.TestAndAddString(key) {
		return false
	}
	t.seen++
	return true
}

func (t *bloomTracker) Distinct() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.seen
}

// FootprintBytes reports the filter bit array size. The side counter and
// struct overhead are negligible next to it.
func (t *bloomTracker) FootprintBytes() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return uint64(t.filter.Cap()) / 8
}
