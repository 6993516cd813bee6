// Package health serves Kubernetes style liveness and readiness probes
// for the forwarder's long-running components.
package health

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Status is the health state of the process or one component.
type Status string

const (
	StatusUp   Status = "up"
	StatusDown Status = "down"
)

// ComponentCheck is the reported state of a single component.
type ComponentCheck struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Response is the JSON body returned by both probe endpoints.
type Response struct {
	Status     Status                    `json:"status"`
	Components map[string]ComponentCheck `json:"components,omitempty"`
	Timestamp  string                    `json:"timestamp"`
}

// CheckFunc reports nil while a component is healthy.
type CheckFunc func() error

type namedCheck struct {
	name string
	fn   CheckFunc
}

// Checker aggregates named readiness checks behind HTTP handlers, with a
// latch that fails both probes once shutdown begins.
type Checker struct {
	mu           sync.RWMutex
	checks       []namedCheck
	shuttingDown atomic.Bool
}

// New returns an empty Checker.
func New() *Checker {
	return &Checker{}
}

// RegisterReadiness adds a check evaluated on every readiness request.
// Checks run in registration order.
func (c *Checker) RegisterReadiness(name string, fn CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks = append(c.checks, namedCheck{name: name, fn: fn})
}

// SetShuttingDown flips both probes to 503 for the remainder of the
// process lifetime.
func (c *Checker) SetShuttingDown() {
	c.shuttingDown.Store(true)
}

// LiveHandler reports whether the process should keep running. It only
// goes down once shutdown has begun.
func (c *Checker) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if c.shuttingDown.Load() {
			respond(w, http.StatusServiceUnavailable, shuttingDownResponse())
			return
		}
		respond(w, http.StatusOK, Response{Status: StatusUp, Timestamp: stamp()})
	}
}

// ReadyHandler runs every registered check and reports 503 when any of
// them fails.
func (c *Checker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if c.shuttingDown.Load() {
			respond(w, http.StatusServiceUnavailable, shuttingDownResponse())
			return
		}

		c.mu.RLock()
		checks := make([]namedCheck, len(c.checks))
		copy(checks, c.checks)
		c.mu.RUnlock()

		resp := Response{
			Status:     StatusUp,
			Components: make(map[string]ComponentCheck, len(checks)),
			Timestamp:  stamp(),
		}
		code := http.StatusOK
		for _, nc := range checks {
			if err := nc.fn(); err != nil {
				resp.Status = StatusDown
				resp.Components[nc.name] = ComponentCheck{Status: StatusDown, Message: err.Error()}
				code = http.StatusServiceUnavailable
				continue
			}
			resp.Components[nc.name] = ComponentCheck{Status: StatusUp}
		}

		respond(w, code, resp)
	}
}

// PollerCheck returns a readiness check that fails when the poll worker's
// heartbeat is older than three poll intervals. The watchdog replaces a
// stalled worker after two intervals, so three means replacement itself is
// not helping.
func PollerCheck(heartbeatAge func() time.Duration, interval time.Duration) CheckFunc {
	limit := 3 * interval
	return func() error {
		if age := heartbeatAge(); age >= limit {
			return fmt.Errorf("last poll pass %s ago, limit %s", age.Truncate(time.Millisecond), limit)
		}
		return nil
	}
}

// SinkCheck returns a readiness check that fails while the fluent sink
// reports itself unhealthy.
func SinkCheck(healthy func() bool) CheckFunc {
	return func() error {
		if !healthy() {
			return errors.New("fluent connection unhealthy")
		}
		return nil
	}
}

func shuttingDownResponse() Response {
	return Response{
		Status:    StatusDown,
		Timestamp: stamp(),
		Components: map[string]ComponentCheck{
			"process": {Status: StatusDown, Message: "shutting down"},
		},
	}
}

func stamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func respond(w http.ResponseWriter, code int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
