// Package cardinality tracks how many distinct group key combinations a
// grouped query has produced, so a runaway GROUP BY dimension surfaces as
// a warning instead of silent record growth.
package cardinality

import "strings"

// Tracker records group keys observed in grouped query results and reports
// how many distinct ones it has seen.
//
// Implementations are safe for concurrent use.
type Tracker interface {
	// Observe records one key. It reports whether the key was first seen
	// by this call.
	Observe(key string) bool

	// Distinct returns the number of distinct keys observed so far.
	// Probabilistic implementations return an estimate.
	Distinct() int64

	// FootprintBytes returns the approximate memory held by the tracker.
	FootprintBytes() uint64
}

var (
	_ Tracker = (*bloomTracker)(nil)
	_ Tracker = (*exactTracker)(nil)
	_ Tracker = (*sketchTracker)(nil)
)

// Mode selects the tracking implementation.
type Mode string

const (
	// ModeBloom tracks keys in a Bloom filter with a side counter.
	ModeBloom Mode = "bloom"
	// ModeExact keeps every key in a map.
	ModeExact Mode = "exact"
	// ModeHLL estimates distinct keys with a HyperLogLog sketch.
	ModeHLL Mode = "hll"
)

// ParseMode maps a config string to a Mode. Unknown values fall back to
// ModeBloom.
func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "exact":
		return ModeExact
	case "hll":
		return ModeHLL
	default:
		return ModeBloom
	}
}

// Config sizes the tracker for the expected grouped-result key space.
type Config struct {
	Mode Mode

	// ExpectedKeys sizes the Bloom filter. Ignored by other modes.
	ExpectedKeys uint

	// FalsePositiveRate bounds Bloom filter collisions. Ignored by other
	// modes.
	FalsePositiveRate float64
}

// NewTracker builds a tracker for the configured mode. Zero values in cfg
// fall back to defaults sized for about a hundred thousand group keys.
func NewTracker(cfg Config) Tracker {
	switch cfg.Mode {
	case ModeExact:
		return newExactTracker()
	case ModeHLL:
		return newSketchTracker()
	default:
		return newBloomTracker(cfg)
	}
}
