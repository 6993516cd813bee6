package emitter

import (
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/szibis/cloudwatch-forwarder/internal/cardinality"
	"github.com/szibis/cloudwatch-forwarder/internal/logging"
	"github.com/szibis/cloudwatch-forwarder/internal/query"
	"github.com/szibis/cloudwatch-forwarder/internal/sink"
	"github.com/szibis/cloudwatch-forwarder/internal/statistic"
	"github.com/szibis/cloudwatch-forwarder/internal/stats"
)

var (
	emittedRecordsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cloudwatch_forwarder_emitter_records_total",
		Help: "Total number of records handed to the sink by query mode",
	}, []string{"mode"})

	labelMismatchTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cloudwatch_forwarder_emitter_label_mismatch_total",
		Help: "Total number of grouped labels whose token count did not match the group-by fields",
	})

	newGroupKeysTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cloudwatch_forwarder_emitter_new_group_keys_total",
		Help: "Total number of previously unseen group keys observed in grouped results",
	})
)

func init() {
	prometheus.MustRegister(emittedRecordsTotal)
	prometheus.MustRegister(labelMismatchTotal)
	prometheus.MustRegister(newGroupKeysTotal)
}

// Config holds emission settings, fixed at startup.
type Config struct {
	// Tag is the fluent tag attached to every record.
	Tag string

	// EmitZero emits a synthetic {metric: 0} record at the query time when
	// a query returns no datapoints. Off means warn and skip.
	EmitZero bool

	// GroupBy names the grouped-mode fields, in the order they appear in
	// result labels. Empty for aggregate mode.
	GroupBy []string

	// ExtraAttrs are static attributes merged into every record.
	ExtraAttrs map[string]interface{}

	// GroupCardinalityLimit warns when the distinct group-key estimate
	// crosses it. Zero disables the warning.
	GroupCardinalityLimit int64
}

// Emitter turns CloudWatch query responses into fluent records. Emission is
// fire-and-forget: sink errors are counted and logged, never returned, so a
// dead downstream cannot fail a poll pass.
type Emitter struct {
	cfg     Config
	sink    sink.Sink
	stats   *stats.Collector
	tracker cardinality.Tracker

	limitWarned atomic.Bool
}

// New creates an emitter. The tracker may be nil when grouped mode is not
// configured.
func New(cfg Config, snk sink.Sink, st *stats.Collector, tracker cardinality.Tracker) *Emitter {
	return &Emitter{
		cfg:     cfg,
		sink:    snk,
		stats:   st,
		tracker: tracker,
	}
}

// EmitAggregate emits the latest datapoint of a statistics response as one
// record. Datapoints are stable-sorted by timestamp, so equal timestamps
// resolve to the last one in API order. An empty response, or a datapoint
// that carries no value for the requested statistic, follows the emit-zero
// policy.
func (e *Emitter) EmitAggregate(spec query.MetricSpec, out *cloudwatch.GetMetricStatisticsOutput, now time.Time) {
	dps := out.Datapoints
	if len(dps) == 0 {
		e.emitEmpty(stats.ModeAggregate, spec, now)
		return
	}
	e.stats.RecordDatapoints(len(dps))

	sort.SliceStable(dps, func(i, j int) bool {
		return aws.ToTime(dps[i].Timestamp).Before(aws.ToTime(dps[j].Timestamp))
	})
	latest := dps[len(dps)-1]

	value, ok := statistic.DatapointValue(latest, spec.Statistic)
	if !ok {
		e.emitEmpty(stats.ModeAggregate, spec, now)
		return
	}

	record := e.baseRecord()
	record[spec.Name] = value
	e.post(stats.ModeAggregate, aws.ToTime(latest.Timestamp), record)
}

// EmitGrouped emits one record per (timestamp, value) pair of every metric
// data result. The result label is whitespace-split back into the group-by
// field values; CloudWatch joins group values with single spaces. A response
// with no values at all follows the emit-zero policy.
func (e *Emitter) EmitGrouped(spec query.MetricSpec, out *cloudwatch.GetMetricDataOutput, now time.Time) {
	total := 0
	for _, r := range out.MetricDataResults {
		total += len(r.Values)
	}
	if total == 0 {
		e.emitEmpty(stats.ModeGrouped, spec, now)
		return
	}
	e.stats.RecordDatapoints(total)

	for _, r := range out.MetricDataResults {
		label := aws.ToString(r.Label)
		tokens := e.splitLabel(label)
		e.observeGroupKey(label)

		n := len(r.Timestamps)
		if len(r.Values) < n {
			n = len(r.Values)
		}
		for i := 0; i < n; i++ {
			record := e.baseRecord()
			for j := 0; j < len(tokens) && j < len(e.cfg.GroupBy); j++ {
				record[e.cfg.GroupBy[j]] = tokens[j]
			}
			record[spec.Name] = r.Values[i]
			e.post(stats.ModeGrouped, r.Timestamps[i], record)
		}
	}
}

// emitEmpty applies the empty-result policy: synthesize a zero record at the
// query time, or warn and skip.
func (e *Emitter) emitEmpty(mode string, spec query.MetricSpec, now time.Time) {
	e.stats.RecordEmptyResult()
	if !e.cfg.EmitZero {
		logging.Warn("no datapoints returned, skipping emission",
			logging.F("metric", spec.Name, "statistic", spec.Statistic, "mode", mode))
		return
	}
	e.stats.RecordZeroEmission()
	record := e.baseRecord()
	record[spec.Name] = float64(0)
	e.post(mode, now, record)
}

// baseRecord allocates a record pre-filled with the static extra attributes.
// The metric value is set last so it wins any key collision.
func (e *Emitter) baseRecord() map[string]interface{} {
	record := make(map[string]interface{}, len(e.cfg.ExtraAttrs)+len(e.cfg.GroupBy)+1)
	for k, v := range e.cfg.ExtraAttrs {
		record[k] = v
	}
	return record
}

// post hands one record to the sink.
func (e *Emitter) post(mode string, ts time.Time, record map[string]interface{}) {
	if err := e.sink.Emit(e.cfg.Tag, ts, record); err != nil {
		e.stats.RecordEmitError()
		logging.Error("record emission failed",
			logging.F("error", err.Error(), "tag", e.cfg.Tag))
		return
	}
	emittedRecordsTotal.WithLabelValues(mode).Inc()
	e.stats.RecordEmitted(1)
}

// splitLabel splits a grouped result label into group field values and warns
// when the token count disagrees with the configured group-by fields. Callers
// zip to the shorter side.
func (e *Emitter) splitLabel(label string) []string {
	tokens := strings.Fields(label)
	if len(tokens) != len(e.cfg.GroupBy) {
		labelMismatchTotal.Inc()
		logging.Warn("group label does not match group-by fields",
			logging.F("label", label, "fields", len(e.cfg.GroupBy), "tokens", len(tokens)))
	}
	return tokens
}

// observeGroupKey feeds one grouped label into the cardinality tracker and
// warns the first time the distinct-group estimate crosses the limit.
func (e *Emitter) observeGroupKey(label string) {
	if e.tracker == nil {
		return
	}
	if e.tracker.Observe(label) {
		newGroupKeysTotal.Inc()
	}
	limit := e.cfg.GroupCardinalityLimit
	if limit <= 0 {
		return
	}
	if count := e.tracker.Distinct(); count > limit && e.limitWarned.CompareAndSwap(false, true) {
		logging.Warn("group cardinality limit crossed",
			logging.F("count", count, "limit", limit, "memory_bytes", e.tracker.FootprintBytes()))
	}
}
