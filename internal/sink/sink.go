package sink

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/fluent/fluent-logger-golang/fluent"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// fluentPostsTotal tracks records handed to the forward endpoint
	fluentPostsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cloudwatch_forwarder_fluent_posts_total",
		Help: "Total number of records posted to the fluent forward endpoint",
	})

	// fluentPostErrorsTotal tracks failed posts (full buffer, dead endpoint)
	fluentPostErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cloudwatch_forwarder_fluent_post_errors_total",
		Help: "Total number of failed posts to the fluent forward endpoint",
	})
)

func init() {
	prometheus.MustRegister(fluentPostsTotal)
	prometheus.MustRegister(fluentPostErrorsTotal)
}

// Sink receives emitted records. Emission is fire-and-forget: implementations
// must not block on downstream acknowledgment.
type Sink interface {
	Emit(tag string, ts time.Time, record map[string]interface{}) error
	Healthy() bool
	Close() error
}

// Config holds fluent forward connection settings.
type Config struct {
	Host         string
	Port         int
	Timeout      time.Duration
	WriteTimeout time.Duration
	// BufferLimit caps the async send buffer in bytes.
	BufferLimit int
	// UnhealthyAfter is the consecutive post failure count after which
	// Healthy() reports false. Zero means the default of 3.
	UnhealthyAfter int
}

// Fluent posts records to a Fluentd forward endpoint in async mode, so Emit
// never waits on the network; a post error means the local buffer rejected
// the record.
type Fluent struct {
	logger          *fluent.Fluent
	unhealthyAfter  int64
	consecutiveErrs atomic.Int64
}

// NewFluent connects the async forward client. Connection establishment is
// lazy in async mode, so construction succeeds even while the endpoint is
// down; posts buffer until it comes up.
func NewFluent(cfg Config) (*Fluent, error) {
	logger, err := fluent.New(fluent.Config{
		FluentHost:         cfg.Host,
		FluentPort:         cfg.Port,
		Timeout:            cfg.Timeout,
		WriteTimeout:       cfg.WriteTimeout,
		BufferLimit:        cfg.BufferLimit,
		Async:              true,
		ForceStopAsyncSend: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create fluent logger: %w", err)
	}

	unhealthyAfter := int64(cfg.UnhealthyAfter)
	if unhealthyAfter <= 0 {
		unhealthyAfter = 3
	}
	return &Fluent{logger: logger, unhealthyAfter: unhealthyAfter}, nil
}

// Emit posts one record with the given tag and timestamp.
func (s *Fluent) Emit(tag string, ts time.Time, record map[string]interface{}) error {
	if err := s.logger.PostWithTime(tag, ts, record); err != nil {
		fluentPostErrorsTotal.Inc()
		s.consecutiveErrs.Add(1)
		return fmt.Errorf("fluent post failed: %w", err)
	}
	fluentPostsTotal.Inc()
	s.consecutiveErrs.Store(0)
	return nil
}

// Healthy reports false once posts have failed unhealthyAfter times in a row.
// One successful post restores health.
func (s *Fluent) Healthy() bool {
	return s.consecutiveErrs.Load() < s.unhealthyAfter
}

// Close stops the async sender. Pending records that cannot be flushed
// promptly are dropped rather than blocking shutdown.
func (s *Fluent) Close() error {
	return s.logger.Close()
}
