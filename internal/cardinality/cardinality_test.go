package cardinality

import (
	"fmt"
	"testing"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		in   string
		want Mode
	}{
		{"bloom", ModeBloom},
		{"exact", ModeExact},
		{"hll", ModeHLL},
		{"HLL", ModeHLL},
		{" exact ", ModeExact},
		{"", ModeBloom},
		{"hyperloglog", ModeBloom},
	}
	for _, tt := range tests {
		if got := ParseMode(tt.in); got != tt.want {
			t.Errorf("ParseMode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewTrackerSelectsMode(t *testing.T) {
	if _, ok := NewTracker(Config{Mode: ModeExact}).(*exactTracker); !ok {
		t.Error("Expected exact mode to build an exactTracker")
	}
	if _, ok := NewTracker(Config{Mode: ModeHLL}).(*sketchTracker); !ok {
		t.Error("Expected hll mode to build a sketchTracker")
	}
	if _, ok := NewTracker(Config{}).(*bloomTracker); !ok {
		t.Error("Expected zero config to default to a bloomTracker")
	}
}

func TestExactObserve(t *testing.T) {
	tr := newExactTracker()

	if !tr.Observe("us-east-1 use1-az1") {
		t.Error("Expected first observation to be new")
	}
	if tr.Observe("us-east-1 use1-az1") {
		t.Error("Expected repeat observation to not be new")
	}
	if !tr.Observe("us-east-1 use1-az2") {
		t.Error("Expected distinct key to be new")
	}
	if got := tr.Distinct(); got != 2 {
		t.Errorf("Expected 2 distinct keys, got %d", got)
	}
}

func TestExactFootprintGrows(t *testing.T) {
	tr := newExactTracker()
	if got := tr.FootprintBytes(); got != 0 {
		t.Errorf("Expected empty tracker footprint 0, got %d", got)
	}

	tr.Observe("eu-west-1 euw1-az3")
	first := tr.FootprintBytes()
	if first == 0 {
		t.Error("Expected footprint to grow after first key")
	}

	tr.Observe("eu-west-1 euw1-az3")
	if got := tr.FootprintBytes(); got != first {
		t.Errorf("Expected repeat key to leave footprint at %d, got %d", first, got)
	}

	tr.Observe("ap-south-1 aps1-az1")
	if got := tr.FootprintBytes(); got <= first {
		t.Errorf("Expected second key to grow footprint past %d, got %d", first, got)
	}
}

func TestBloomObserve(t *testing.T) {
	tr := newBloomTracker(Config{ExpectedKeys: 1000, FalsePositiveRate: 0.001})

	if !tr.Observe("app/prod-web/1234 us-east-1") {
		t.Error("Expected first observation to be new")
	}
	if tr.Observe("app/prod-web/1234 us-east-1") {
		t.Error("Expected repeat observation to not be new")
	}
	if got := tr.Distinct(); got != 1 {
		t.Errorf("Expected 1 distinct key, got %d", got)
	}
}

// TestBloomDistinctNearExact checks that the side counter stays close to
// the true cardinality for a filter sized with headroom.
func TestBloomDistinctNearExact(t *testing.T) {
	tr := newBloomTracker(Config{ExpectedKeys: 20000, FalsePositiveRate: 0.01})

	const n = 10000
	for i := 0; i < n; i++ {
		tr.Observe(fmt.Sprintf("i-%08x use1-az%d", i, i%6))
	}

	got := tr.Distinct()
	if got > n {
		t.Errorf("Expected distinct count at most %d, got %d", n, got)
	}
	if got < n*98/100 {
		t.Errorf("Expected distinct count near %d, got %d", n, got)
	}
}

func TestBloomDefaults(t *testing.T) {
	tr := newBloomTracker(Config{})
	if got := tr.FootprintBytes(); got == 0 {
		t.Error("Expected default sized filter to report a footprint")
	}
	if !tr.Observe("AWS/Lambda ingest-orders") {
		t.Error("Expected first observation through defaults to be new")
	}
}

func TestSketchObserve(t *testing.T) {
	tr := newSketchTracker()
	if !tr.Observe("us-east-1 use1-az1") {
		t.Error("Expected sketch Observe to report new")
	}
	if !tr.Observe("us-east-1 use1-az1") {
		t.Error("Expected sketch Observe to report new on repeats too")
	}
}

func TestSketchEstimate(t *testing.T) {
	tr := newSketchTracker()
	regions := []string{"us-east-1", "eu-west-1", "ap-south-1"}

	const n = 50000
	for i := 0; i < n; i++ {
		tr.Observe(fmt.Sprintf("lambda-%06d %s", i, regions[i%3]))
	}

	got := tr.Distinct()
	if got < n*97/100 || got > n*103/100 {
		t.Errorf("Expected estimate within 3%% of %d, got %d", n, got)
	}
}

func TestSketchFootprintFlat(t *testing.T) {
	tr := newSketchTracker()
	before := tr.FootprintBytes()

	for i := 0; i < 100000; i++ {
		tr.Observe(fmt.Sprintf("group-%d", i))
	}

	if got := tr.FootprintBytes(); got != before {
		t.Errorf("Expected footprint to stay at %d, got %d", before, got)
	}
}
