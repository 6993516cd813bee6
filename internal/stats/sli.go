package stats

import (
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"
)

// Default SLI configuration values.
const (
	DefaultSLIEnabled       = true
	DefaultPollTarget       = 0.999
	DefaultEmitTarget       = 0.995
	DefaultBudgetWindow     = 720 * time.Hour // 30 days
	DefaultSnapshotInterval = 30 * time.Second
	DefaultRingSize         = 720 // 6h at 30s intervals
)

// Reporting windows, expressed in ring slots at the 30s snapshot cadence.
var sliWindows = []struct {
	Label string
	Slots int
}{
	{"5m", 10},
	{"30m", 60},
	{"1h", 120},
	{"6h", 720},
}

// SLIConfig sets the success targets and the budget window they apply over.
type SLIConfig struct {
	Enabled      bool
	PollTarget   float64
	EmitTarget   float64
	BudgetWindow time.Duration
}

// sliSnapshot freezes the counters as they stood at one snapshot tick.
type sliSnapshot struct {
	timestamp      int64 // unix seconds
	pollCycles     uint64
	pollFailures   uint64
	recordsEmitted uint64
	emitErrors     uint64
}

// counterReader is the handoff shape between the Collector's counters and
// the tracker. The tracker never touches Collector internals directly.
type counterReader struct {
	pollCycles     uint64
	pollFailures   uint64
	recordsEmitted uint64
	emitErrors     uint64
}

// SLITracker derives success ratios, burn rates, and remaining error
// budget from a ring of periodic counter snapshots. One goroutine writes
// snapshots under mu.Lock, scrape handlers read under mu.RLock, and the
// tracker shares no lock with the Collector so the poll path never waits
// on a scrape.
type SLITracker struct {
	mu     sync.RWMutex
	config SLIConfig

	ring  []sliSnapshot // fixed-size ring buffer
	head  int           // next write position
	count int           // number of valid entries (up to len(ring))

	startSnapshot *sliSnapshot // first-ever snapshot for error budget baseline
	startTime     time.Time    // when tracking started

	snapshotsTotal uint64 // total snapshots recorded
}

// NewSLITracker returns a tracker with an empty ring.
func NewSLITracker(cfg SLIConfig) *SLITracker {
	return &SLITracker{
		config:    cfg,
		ring:      make([]sliSnapshot, DefaultRingSize),
		startTime: time.Now(),
	}
}

// RecordSnapshot appends the current counter values to the ring. The
// periodic logging loop calls it once per tick.
func (t *SLITracker) RecordSnapshot(r counterReader) {
	snap := sliSnapshot{
		timestamp:      time.Now().Unix(),
		pollCycles:     r.pollCycles,
		pollFailures:   r.pollFailures,
		recordsEmitted: r.recordsEmitted,
		emitErrors:     r.emitErrors,
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.startSnapshot == nil {
		cp := snap
		t.startSnapshot = &cp
	}

	t.ring[t.head] = snap
	t.head = (t.head + 1) % len(t.ring)
	if t.count < len(t.ring) {
		t.count++
	}
	t.snapshotsTotal++
}

// snapshotAt walks backwards from the newest entry. Callers hold
// mu.RLock.
func (t *SLITracker) snapshotAt(slotsBack int) (sliSnapshot, bool) {
	if slotsBack >= t.count {
		return sliSnapshot{}, false
	}
	idx := (t.head - 1 - slotsBack + len(t.ring)) % len(t.ring)
	return t.ring[idx], true
}

// latest returns the newest snapshot. Callers hold mu.RLock.
func (t *SLITracker) latest() (sliSnapshot, bool) {
	return t.snapshotAt(0)
}

// computePollSuccessRatio computes the poll SLI ratio over a window.
// poll_success = good / total
// good = delta(pollCycles), total = good + delta(pollFailures)
func computePollSuccessRatio(newer, older sliSnapshot) float64 {
	good := float64(newer.pollCycles - older.pollCycles)
	bad := float64(newer.pollFailures - older.pollFailures)
	total := good + bad

	if total <= 0 {
		return 1.0 // no passes = perfect
	}
	ratio := good / total
	if ratio > 1.0 {
		return 1.0
	}
	if ratio < 0.0 {
		return 0.0
	}
	return ratio
}

// computeEmitSuccessRatio computes the emission SLI ratio.
// emit_success = good / total
// good = delta(recordsEmitted), total = good + delta(emitErrors)
func computeEmitSuccessRatio(newer, older sliSnapshot) float64 {
	good := float64(newer.recordsEmitted - older.recordsEmitted)
	errors := float64(newer.emitErrors - older.emitErrors)
	total := good + errors

	if total <= 0 {
		return 1.0 // no posts = perfect
	}
	ratio := good / total
	if ratio > 1.0 {
		return 1.0
	}
	if ratio < 0.0 {
		return 0.0
	}
	return ratio
}

// computeBurnRate divides the observed error rate by the error rate the
// target allows. At 1.0 the budget lasts exactly the budget window; at
// 14.4 a 30 day budget is gone in about two days.
func computeBurnRate(ratio, target float64) float64 {
	allowedErrorRate := 1.0 - target
	if allowedErrorRate <= 0 {
		return 0.0 // a target of 1.0 allows no errors, the ratio is undefined
	}
	actualErrorRate := 1.0 - ratio
	return actualErrorRate / allowedErrorRate
}

// computeErrorBudgetRemaining reports what fraction of the budget is
// left, measured from the first snapshot ever taken to the newest one.
func (t *SLITracker) computeErrorBudgetRemaining(
	start, latest sliSnapshot,
	ratioFn func(newer, older sliSnapshot) float64,
	target float64,
) float64 {
	elapsed := time.Since(t.startTime).Seconds()
	if elapsed < 60 {
		return 1.0 // not enough data
	}

	ratio := ratioFn(latest, start)
	actualErrorRate := 1.0 - ratio
	allowedErrorRate := 1.0 - target
	if allowedErrorRate <= 0 {
		return 1.0
	}

	consumed := actualErrorRate / allowedErrorRate
	remaining := 1.0 - consumed

	if remaining > 1.0 {
		return 1.0
	}
	if remaining < 0.0 {
		return 0.0
	}
	return remaining
}

// WriteSLIMetrics renders the SLI section of the metrics page.
func (t *SLITracker) WriteSLIMetrics(w http.ResponseWriter) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	latestSnap, hasLatest := t.latest()
	if !hasLatest || t.count < 2 {
		// Ratios need two snapshots, so early scrapes see targets only.
		t.writeTargetMetrics(w)
		return
	}

	fmt.Fprintf(w, "# HELP cloudwatch_forwarder_sli_poll_success_ratio Poll pass success SLI ratio over window\n")
	fmt.Fprintf(w, "# TYPE cloudwatch_forwarder_sli_poll_success_ratio gauge\n")
	for _, win := range sliWindows {
		older, ok := t.snapshotAt(win.Slots - 1)
		if !ok {
			continue
		}
		ratio := computePollSuccessRatio(latestSnap, older)
		fmt.Fprintf(w, "cloudwatch_forwarder_sli_poll_success_ratio{window=%q} %g\n", win.Label, ratio)
	}

	fmt.Fprintf(w, "# HELP cloudwatch_forwarder_sli_emit_success_ratio Record emission success SLI ratio over window\n")
	fmt.Fprintf(w, "# TYPE cloudwatch_forwarder_sli_emit_success_ratio gauge\n")
	for _, win := range sliWindows {
		older, ok := t.snapshotAt(win.Slots - 1)
		if !ok {
			continue
		}
		ratio := computeEmitSuccessRatio(latestSnap, older)
		fmt.Fprintf(w, "cloudwatch_forwarder_sli_emit_success_ratio{window=%q} %g\n", win.Label, ratio)
	}

	fmt.Fprintf(w, "# HELP cloudwatch_forwarder_sli_poll_burn_rate Poll SLI burn rate (1.0 = at SLO pace)\n")
	fmt.Fprintf(w, "# TYPE cloudwatch_forwarder_sli_poll_burn_rate gauge\n")
	for _, win := range sliWindows {
		older, ok := t.snapshotAt(win.Slots - 1)
		if !ok {
			continue
		}
		ratio := computePollSuccessRatio(latestSnap, older)
		burnRate := computeBurnRate(ratio, t.config.PollTarget)
		fmt.Fprintf(w, "cloudwatch_forwarder_sli_poll_burn_rate{window=%q} %g\n", win.Label, burnRate)
	}

	fmt.Fprintf(w, "# HELP cloudwatch_forwarder_sli_emit_burn_rate Emission SLI burn rate (1.0 = at SLO pace)\n")
	fmt.Fprintf(w, "# TYPE cloudwatch_forwarder_sli_emit_burn_rate gauge\n")
	for _, win := range sliWindows {
		older, ok := t.snapshotAt(win.Slots - 1)
		if !ok {
			continue
		}
		ratio := computeEmitSuccessRatio(latestSnap, older)
		burnRate := computeBurnRate(ratio, t.config.EmitTarget)
		fmt.Fprintf(w, "cloudwatch_forwarder_sli_emit_burn_rate{window=%q} %g\n", win.Label, burnRate)
	}

	if t.startSnapshot != nil {
		fmt.Fprintf(w, "# HELP cloudwatch_forwarder_sli_poll_budget_remaining Fraction of poll error budget remaining (0-1)\n")
		fmt.Fprintf(w, "# TYPE cloudwatch_forwarder_sli_poll_budget_remaining gauge\n")
		pollBudget := t.computeErrorBudgetRemaining(
			*t.startSnapshot, latestSnap,
			computePollSuccessRatio, t.config.PollTarget,
		)
		fmt.Fprintf(w, "cloudwatch_forwarder_sli_poll_budget_remaining %g\n", pollBudget)

		fmt.Fprintf(w, "# HELP cloudwatch_forwarder_sli_emit_budget_remaining Fraction of emission error budget remaining (0-1)\n")
		fmt.Fprintf(w, "# TYPE cloudwatch_forwarder_sli_emit_budget_remaining gauge\n")
		emitBudget := t.computeErrorBudgetRemaining(
			*t.startSnapshot, latestSnap,
			computeEmitSuccessRatio, t.config.EmitTarget,
		)
		fmt.Fprintf(w, "cloudwatch_forwarder_sli_emit_budget_remaining %g\n", emitBudget)
	}

	t.writeTargetMetrics(w)
}

// writeTargetMetrics exposes the configured targets and tracker age so
// dashboards can plot ratios against them. Callers hold mu.RLock.
func (t *SLITracker) writeTargetMetrics(w http.ResponseWriter) {
	fmt.Fprintf(w, "# HELP cloudwatch_forwarder_slo_target Configured SLO target value\n")
	fmt.Fprintf(w, "# TYPE cloudwatch_forwarder_slo_target gauge\n")
	fmt.Fprintf(w, "cloudwatch_forwarder_slo_target{sli=\"poll\"} %g\n", t.config.PollTarget)
	fmt.Fprintf(w, "cloudwatch_forwarder_slo_target{sli=\"emit\"} %g\n", t.config.EmitTarget)

	fmt.Fprintf(w, "# HELP cloudwatch_forwarder_sli_uptime_seconds Seconds since SLI tracking started\n")
	fmt.Fprintf(w, "# TYPE cloudwatch_forwarder_sli_uptime_seconds gauge\n")
	fmt.Fprintf(w, "cloudwatch_forwarder_sli_uptime_seconds %g\n", math.Floor(time.Since(t.startTime).Seconds()))

	fmt.Fprintf(w, "# HELP cloudwatch_forwarder_sli_snapshots_total Total SLI snapshots recorded\n")
	fmt.Fprintf(w, "# TYPE cloudwatch_forwarder_sli_snapshots_total counter\n")
	fmt.Fprintf(w, "cloudwatch_forwarder_sli_snapshots_total %d\n", t.snapshotsTotal)
}
