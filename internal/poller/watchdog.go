package poller

import (
	"context"
	"sync"
	"time"

	"github.com/szibis/cloudwatch-forwarder/internal/logging"
)

// Watchdog owns the poll worker lifecycle. It spawns the initial worker,
// watches its heartbeat, and replaces it when no pass completes for more
// than twice the poll interval. A single mutex guards the heartbeat, the
// current worker handle and its cancel func, so health probes and the
// replacement path always observe a consistent pair.
type Watchdog struct {
	cfg  Config
	deps Deps

	mu       sync.Mutex
	lastBeat time.Time
	worker   *Worker
	cancel   context.CancelFunc

	wg sync.WaitGroup
}

func NewWatchdog(cfg Config, deps Deps) *Watchdog {
	return &Watchdog{cfg: cfg, deps: deps}
}

// Run spawns the initial worker and supervises it until ctx is cancelled.
// On return every worker ever spawned has exited.
func (wd *Watchdog) Run(ctx context.Context) {
	wd.mu.Lock()
	wd.lastBeat = time.Now()
	wd.spawnLocked(ctx, wd.cfg.DelayedStart)
	wd.mu.Unlock()

	ticker := time.NewTicker(wd.cfg.Interval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			wd.mu.Lock()
			wd.cancel()
			wd.mu.Unlock()
			wd.wg.Wait()
			return
		case <-ticker.C:
			if wd.checkAndReplace(ctx) {
				wd.deps.Stats.RecordWorkerRestart()
				workerReplacementsTotal.Inc()
			}
		}
	}
}

// checkAndReplace cancels and replaces the current worker when its heartbeat
// is older than twice the poll interval. The heartbeat resets to now on
// replacement so one stall triggers exactly one replacement.
func (wd *Watchdog) checkAndReplace(ctx context.Context) bool {
	wd.mu.Lock()
	defer wd.mu.Unlock()

	age := time.Since(wd.lastBeat)
	if age <= 2*wd.cfg.Interval {
		return false
	}

	logging.Warn("poll worker stalled, forcing replacement",
		logging.F("heartbeat_age", age.String(), "threshold", (2 * wd.cfg.Interval).String()))

	wd.cancel()
	wd.lastBeat = time.Now()
	wd.spawnLocked(ctx, false)
	return true
}

// spawnLocked starts a new worker under wd.mu. Replacements never get a
// start delay; the stall already cost at least two intervals.
func (wd *Watchdog) spawnLocked(ctx context.Context, delayed bool) {
	wctx, cancel := context.WithCancel(ctx)
	w := newWorker(wd.cfg, wd.deps, delayed, wd.recordBeat)
	wd.worker = w
	wd.cancel = cancel

	wd.wg.Add(1)
	go func() {
		defer wd.wg.Done()
		w.Run(wctx)
	}()
}

func (wd *Watchdog) recordBeat() {
	wd.mu.Lock()
	wd.lastBeat = time.Now()
	wd.mu.Unlock()
}

// HeartbeatAge returns the time since the last completed pass. Health and
// readiness probes use it to judge poller liveness.
func (wd *Watchdog) HeartbeatAge() time.Duration {
	wd.mu.Lock()
	defer wd.mu.Unlock()
	return time.Since(wd.lastBeat)
}

// WorkerState reports the lifecycle state of the current worker.
func (wd *Watchdog) WorkerState() WorkerState {
	wd.mu.Lock()
	w := wd.worker
	wd.mu.Unlock()
	if w == nil {
		return StateIdle
	}
	return w.State()
}
