package poller

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/szibis/cloudwatch-forwarder/internal/cwclient"
	"github.com/szibis/cloudwatch-forwarder/internal/emitter"
	"github.com/szibis/cloudwatch-forwarder/internal/logging"
	"github.com/szibis/cloudwatch-forwarder/internal/query"
	"github.com/szibis/cloudwatch-forwarder/internal/stats"
)

var (
	passDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cloudwatch_forwarder_pass_duration_seconds",
		Help:    "Duration of completed fetch-and-emit passes in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	passFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cloudwatch_forwarder_pass_failures_total",
		Help: "Total number of failed fetch-and-emit passes by error class",
	}, []string{"class"})

	workerReplacementsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cloudwatch_forwarder_worker_replacements_total",
		Help: "Total number of workers replaced by the watchdog",
	})
)

func init() {
	prometheus.MustRegister(passDurationSeconds)
	prometheus.MustRegister(passFailuresTotal)
	prometheus.MustRegister(workerReplacementsTotal)

	workerReplacementsTotal.Add(0)
}

// WorkerState is the observable lifecycle state of a poll worker.
type WorkerState int32

const (
	StateIdle WorkerState = iota
	StateDelayedStart
	StateRunning
	StateStopped
)

func (s WorkerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDelayedStart:
		return "delayed_start"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Config holds the polling engine settings shared by every worker.
type Config struct {
	// Interval is the cadence between fetch-and-emit passes.
	Interval time.Duration
	// DelayedStart sleeps a uniform random duration in [0, Interval) before
	// the first pass. Applies to the initially started worker only, never to
	// watchdog replacements.
	DelayedStart bool
}

// Deps bundles what every poll worker consumes. One Deps value is shared by
// the initial worker and all of its replacements; only the CloudWatch client
// is rebuilt per worker instance, through NewClient.
type Deps struct {
	Specs   []query.MetricSpec
	Builder *query.Builder
	Emitter *emitter.Emitter
	// NewClient constructs the CloudWatch client a worker uses for its
	// lifetime. A replacement worker gets a fresh client and with it a fresh
	// connection pool.
	NewClient func(ctx context.Context) (cwclient.API, error)
	Stats     *stats.Collector
}

// Worker runs fetch-and-emit passes on a fixed cadence until its context is
// cancelled or a pass fails. Recovery from either is the watchdog's job, so
// the worker itself never retries.
type Worker struct {
	cfg   Config
	deps  Deps
	delay bool
	// beat records a completed pass in the watchdog's heartbeat. It takes
	// the watchdog's lock, so the worker must not call it while holding any
	// lock of its own.
	beat func()

	state atomic.Int32
}

func newWorker(cfg Config, deps Deps, delay bool, beat func()) *Worker {
	return &Worker{cfg: cfg, deps: deps, delay: delay, beat: beat}
}

// State returns the worker's current lifecycle state.
func (w *Worker) State() WorkerState {
	return WorkerState(w.state.Load())
}

// Run drives the worker until ctx is cancelled or a pass fails. The first
// pass runs immediately (after the optional start delay); subsequent passes
// run once Interval has elapsed since the previous one, checked at 1-second
// granularity.
func (w *Worker) Run(ctx context.Context) {
	defer w.state.Store(int32(StateStopped))

	if w.delay {
		w.state.Store(int32(StateDelayedStart))
		if !w.sleepRandom(ctx) {
			return
		}
	}
	w.state.Store(int32(StateRunning))

	client, err := w.deps.NewClient(ctx)
	if err != nil {
		logging.Error("cloudwatch client construction failed, worker terminating",
			logging.F("error", err.Error()))
		return
	}

	mode := stats.ModeAggregate
	if w.deps.Builder.Grouped() {
		mode = stats.ModeGrouped
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var last time.Time
	for {
		if time.Since(last) >= w.cfg.Interval {
			start := time.Now()
			if err := w.pass(ctx, client, mode); err != nil {
				if ctx.Err() != nil {
					// Cancelled mid-call: shutdown or forced replacement,
					// not a pass failure.
					return
				}
				class := string(cwclient.Classify(err))
				passFailuresTotal.WithLabelValues(class).Inc()
				w.deps.Stats.RecordPollFailure(mode)
				logging.Error("poll pass failed, worker terminating",
					logging.F("error", err.Error(), "class", class, "mode", mode))
				return
			}
			passDurationSeconds.Observe(time.Since(start).Seconds())
			w.beat()
			w.deps.Stats.RecordPollCycle(mode)
			last = time.Now()
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// pass fetches and emits every configured metric once. The query time is
// computed per metric so long passes do not skew later windows.
func (w *Worker) pass(ctx context.Context, client cwclient.API, mode string) error {
	for _, spec := range w.deps.Specs {
		now := time.Now()
		if mode == stats.ModeGrouped {
			out, err := client.GetMetricData(ctx, w.deps.Builder.GroupedInput(spec, now))
			if err != nil {
				return fmt.Errorf("get metric data for %s: %w", spec.Name, err)
			}
			w.deps.Emitter.EmitGrouped(spec, out, now)
			continue
		}
		out, err := client.GetMetricStatistics(ctx, w.deps.Builder.AggregateInput(spec, now))
		if err != nil {
			return fmt.Errorf("get metric statistics for %s: %w", spec.Name, err)
		}
		w.deps.Emitter.EmitAggregate(spec, out, now)
	}
	return nil
}

// sleepRandom sleeps a uniform random duration in [0, Interval). Returns
// false when interrupted by ctx.
func (w *Worker) sleepRandom(ctx context.Context) bool {
	d := time.Duration(rand.Int63n(int64(w.cfg.Interval)))
	logging.Info("delaying first poll pass", logging.F("delay", d.String()))

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
