package stats

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/szibis/cloudwatch-forwarder/internal/logging"
)

// Query mode labels used for per-mode poll counters.
const (
	ModeAggregate = "aggregate"
	ModeGrouped   = "grouped"
)

var pollModes = []string{ModeAggregate, ModeGrouped}

// Collector tracks poll, fetch, and emission counters for the forwarder.
type Collector struct {
	mu sync.RWMutex

	// Poll pass counters keyed by query mode.
	pollCycles   map[string]uint64
	pollFailures map[string]uint64

	datapointsFetched uint64
	recordsEmitted    uint64
	emitErrors        uint64
	emptyResults      uint64
	zeroEmissions     uint64
	workerRestarts    uint64

	// Probes supplied by the wiring layer so the collector never reaches
	// into the poller or the emitter.
	heartbeatAge      func() time.Duration
	groupCardinality  func() int64
	cardinalityMemory func() uint64
	groupLimit        int64

	sli *SLITracker
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	PollCycles        map[string]uint64
	PollFailures      map[string]uint64
	DatapointsFetched uint64
	RecordsEmitted    uint64
	EmitErrors        uint64
	EmptyResults      uint64
	ZeroEmissions     uint64
	WorkerRestarts    uint64
}

// CyclesTotal sums completed poll passes across modes.
func (s Snapshot) CyclesTotal() uint64 {
	var total uint64
	for _, v := range s.PollCycles {
		total += v
	}
	return total
}

// FailuresTotal sums failed poll passes across modes.
func (s Snapshot) FailuresTotal() uint64 {
	var total uint64
	for _, v := range s.PollFailures {
		total += v
	}
	return total
}

// NewCollector creates a new stats collector.
func NewCollector() *Collector {
	return &Collector{
		pollCycles:   make(map[string]uint64),
		pollFailures: make(map[string]uint64),
	}
}

// AttachSLI attaches an SLI tracker fed from this collector's counters.
// Call before StartPeriodicLogging.
func (c *Collector) AttachSLI(t *SLITracker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sli = t
}

// SetHeartbeatProbe registers a probe returning the age of the poll
// worker's last heartbeat.
func (c *Collector) SetHeartbeatProbe(f func() time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.heartbeatAge = f
}

// SetCardinalityProbes registers probes for the grouped-mode cardinality
// tracker: distinct group count and tracker memory usage.
func (c *Collector) SetCardinalityProbes(count func() int64, memory func() uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.groupCardinality = count
	c.cardinalityMemory = memory
}

// SetGroupCardinalityLimit records the configured warn threshold so it is
// visible next to the live count.
func (c *Collector) SetGroupCardinalityLimit(limit int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.groupLimit = limit
}

// RecordPollCycle records one completed fetch-and-emit pass.
func (c *Collector) RecordPollCycle(mode string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pollCycles[mode]++
}

// RecordPollFailure records a pass that ended with an error.
func (c *Collector) RecordPollFailure(mode string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pollFailures[mode]++
}

// RecordDatapoints records datapoints returned by the CloudWatch API.
func (c *Collector) RecordDatapoints(count int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.datapointsFetched += uint64(count)
}

// RecordEmitted records records handed to the sink.
func (c *Collector) RecordEmitted(count int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recordsEmitted += uint64(count)
}

// RecordEmitError records a failed sink post.
func (c *Collector) RecordEmitError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emitErrors++
}

// RecordEmptyResult records a query that returned no datapoints.
func (c *Collector) RecordEmptyResult() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emptyResults++
}

// RecordZeroEmission records a synthetic zero emitted for an empty result.
func (c *Collector) RecordZeroEmission() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.zeroEmissions++
}

// RecordWorkerRestart records a watchdog-forced worker replacement.
func (c *Collector) RecordWorkerRestart() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.workerRestarts++
}

// GetSnapshot returns a copy of all counters.
func (c *Collector) GetSnapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cycles := make(map[string]uint64, len(c.pollCycles))
	for k, v := range c.pollCycles {
		cycles[k] = v
	}
	failures := make(map[string]uint64, len(c.pollFailures))
	for k, v := range c.pollFailures {
		failures[k] = v
	}

	return Snapshot{
		PollCycles:        cycles,
		PollFailures:      failures,
		DatapointsFetched: c.datapointsFetched,
		RecordsEmitted:    c.recordsEmitted,
		EmitErrors:        c.emitErrors,
		EmptyResults:      c.emptyResults,
		ZeroEmissions:     c.zeroEmissions,
		WorkerRestarts:    c.workerRestarts,
	}
}

// StartPeriodicLogging logs a counter summary every interval and feeds the
// attached SLI tracker on its own 30-second cadence. An interval of zero
// disables the summary log; SLI snapshots keep flowing either way.
func (c *Collector) StartPeriodicLogging(ctx context.Context, interval time.Duration) {
	var logCh <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		logCh = ticker.C
	}

	sliTicker := time.NewTicker(DefaultSnapshotInterval)
	defer sliTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-logCh:
			s := c.GetSnapshot()
			logging.Info("stats", logging.F(
				"poll_cycles", s.CyclesTotal(),
				"poll_failures", s.FailuresTotal(),
				"datapoints_fetched", s.DatapointsFetched,
				"records_emitted", s.RecordsEmitted,
				"emit_errors", s.EmitErrors,
				"empty_results", s.EmptyResults,
				"zero_emissions", s.ZeroEmissions,
				"worker_restarts", s.WorkerRestarts,
			))
		case <-sliTicker.C:
			c.recordSLISnapshot()
		}
	}
}

// recordSLISnapshot feeds current counters into the SLI ring buffer.
func (c *Collector) recordSLISnapshot() {
	c.mu.RLock()
	t := c.sli
	r := counterReader{
		pollCycles:     mapTotal(c.pollCycles),
		pollFailures:   mapTotal(c.pollFailures),
		recordsEmitted: c.recordsEmitted,
		emitErrors:     c.emitErrors,
	}
	c.mu.RUnlock()

	if t == nil {
		return
	}
	t.RecordSnapshot(r)
}

func mapTotal(m map[string]uint64) uint64 {
	var total uint64
	for _, v := range m {
		total += v
	}
	return total
}

// ServeHTTP implements http.Handler for the Prometheus metrics endpoint.
func (c *Collector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	fmt.Fprintf(w, "# HELP cloudwatch_forwarder_poll_cycles_total Completed fetch-and-emit passes by query mode\n")
	fmt.Fprintf(w, "# TYPE cloudwatch_forwarder_poll_cycles_total counter\n")
	for _, mode := range pollModes {
		fmt.Fprintf(w, "cloudwatch_forwarder_poll_cycles_total{mode=%q} %d\n", mode, c.pollCycles[mode])
	}

	fmt.Fprintf(w, "# HELP cloudwatch_forwarder_poll_failures_total Failed fetch-and-emit passes by query mode\n")
	fmt.Fprintf(w, "# TYPE cloudwatch_forwarder_poll_failures_total counter\n")
	for _, mode := range pollModes {
		fmt.Fprintf(w, "cloudwatch_forwarder_poll_failures_total{mode=%q} %d\n", mode, c.pollFailures[mode])
	}

	fmt.Fprintf(w, "# HELP cloudwatch_forwarder_datapoints_fetched_total Datapoints returned by the CloudWatch API\n")
	fmt.Fprintf(w, "# TYPE cloudwatch_forwarder_datapoints_fetched_total counter\n")
	fmt.Fprintf(w, "cloudwatch_forwarder_datapoints_fetched_total %d\n", c.datapointsFetched)

	fmt.Fprintf(w, "# HELP cloudwatch_forwarder_records_emitted_total Records handed to the fluent sink\n")
	fmt.Fprintf(w, "# TYPE cloudwatch_forwarder_records_emitted_total counter\n")
	fmt.Fprintf(w, "cloudwatch_forwarder_records_emitted_total %d\n", c.recordsEmitted)

	fmt.Fprintf(w, "# HELP cloudwatch_forwarder_emit_errors_total Failed sink posts\n")
	fmt.Fprintf(w, "# TYPE cloudwatch_forwarder_emit_errors_total counter\n")
	fmt.Fprintf(w, "cloudwatch_forwarder_emit_errors_total %d\n", c.emitErrors)

	fmt.Fprintf(w, "# HELP cloudwatch_forwarder_empty_results_total Queries that returned no datapoints\n")
	fmt.Fprintf(w, "# TYPE cloudwatch_forwarder_empty_results_total counter\n")
	fmt.Fprintf(w, "cloudwatch_forwarder_empty_results_total %d\n", c.emptyResults)

	fmt.Fprintf(w, "# HELP cloudwatch_forwarder_zero_emissions_total Synthetic zero records emitted for empty results\n")
	fmt.Fprintf(w, "# TYPE cloudwatch_forwarder_zero_emissions_total counter\n")
	fmt.Fprintf(w, "cloudwatch_forwarder_zero_emissions_total %d\n", c.zeroEmissions)

	fmt.Fprintf(w, "# HELP cloudwatch_forwarder_worker_restarts_total Watchdog-forced poll worker replacements\n")
	fmt.Fprintf(w, "# TYPE cloudwatch_forwarder_worker_restarts_total counter\n")
	fmt.Fprintf(w, "cloudwatch_forwarder_worker_restarts_total %d\n", c.workerRestarts)

	if c.heartbeatAge != nil {
		fmt.Fprintf(w, "# HELP cloudwatch_forwarder_heartbeat_age_seconds Age of the poll worker's last heartbeat\n")
		fmt.Fprintf(w, "# TYPE cloudwatch_forwarder_heartbeat_age_seconds gauge\n")
		fmt.Fprintf(w, "cloudwatch_forwarder_heartbeat_age_seconds %.3f\n", c.heartbeatAge().Seconds())
	}

	if c.groupCardinality != nil {
		fmt.Fprintf(w, "# HELP cloudwatch_forwarder_group_cardinality Distinct group keys observed in grouped mode\n")
		fmt.Fprintf(w, "# TYPE cloudwatch_forwarder_group_cardinality gauge\n")
		fmt.Fprintf(w, "cloudwatch_forwarder_group_cardinality %d\n", c.groupCardinality())

		fmt.Fprintf(w, "# HELP cloudwatch_forwarder_group_cardinality_limit Configured warn threshold for distinct groups\n")
		fmt.Fprintf(w, "# TYPE cloudwatch_forwarder_group_cardinality_limit gauge\n")
		fmt.Fprintf(w, "cloudwatch_forwarder_group_cardinality_limit %d\n", c.groupLimit)
	}

	if c.cardinalityMemory != nil {
		fmt.Fprintf(w, "# HELP cloudwatch_forwarder_cardinality_memory_bytes Memory used by the cardinality tracker\n")
		fmt.Fprintf(w, "# TYPE cloudwatch_forwarder_cardinality_memory_bytes gauge\n")
		fmt.Fprintf(w, "cloudwatch_forwarder_cardinality_memory_bytes %d\n", c.cardinalityMemory())
	}

	if c.sli != nil {
		c.sli.WriteSLIMetrics(w)
	}
}
