// Package health serves liveness and readiness probes backed by periodically
// evaluated checks.
//
// A check flips to failing after FailureThreshold consecutive errors and back
// to passing after one success, so a single slow ping does not pull the pod
// out of rotation.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// CheckFunc reports the health of one dependency.
type CheckFunc func(ctx context.Context) error

// Probe selects the endpoint a check contributes to.
type Probe int

const (
	Liveness Probe = iota
	Readiness
)

// Config controls check scheduling.
type Config struct {
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold int          
}

func (c *Config) setDefaults() {
	if c.Interval <= 0 {
		c.Interval = 10 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Second
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
}

// check is evaluated by a single goroutine; failing and lastErr are read by
// HTTP handlers concurrently.
type check struct {
	name    string
	probe   Probe
	fn      CheckFunc
	timeout time.Duration
	limit   int

	fails   int
	failing atomic.Bool
	lastErr atomic.Pointer[string]
}

func (c *check) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.fn(ctx); err != nil {
		msg := err.Error()
		c.lastErr.Store(&msg)
		c.fails++
		if c.fails >= c.limit {
			c.failing.Store(true)
		}
		return
	}
	c.fails = 0
	c.lastErr.Store(nil)
	c.failing.Store(false)
}

func (c *check) reason() string {
	if p := c.lastErr.Load(); p != nil {
		return *p
	}
	return "failing"
}

// Health aggregates checks and serves /livez and /readyz.
type Health struct {
	cfg   Config
	ready atomic.Bool

	mu     sync.RWMutex
	checks []*check
}

// New creates a Health that reports not ready until SetReady(true).
func New(cfg Config) *Health {
	cfg.setDefaults()
	return &Health{cfg: cfg}
}

// Register adds a named check to probe.
func (h *Health) Register(probe Probe, name string, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, &check{
		name:    name,
		probe:   probe,
		fn:      fn,
		timeout: h.cfg.Timeout,
		limit:   h.cfg.FailureThreshold,
	})
}

// Run evaluates every check on its own ticker until ctx is done.
func (h *Health) Run(ctx context.Context) error {
	h.mu.RLock()
	checks := append([]*check(nil), h.checks...)
	h.mu.RUnlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, c := range checks {
		g.Go(func() error {
			ticker := time.NewTicker(h.cfg.Interval)
			defer ticker.Stop()
			for {
				c.run(ctx)
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}
			}
		})
	}
	return g.Wait()
}

// SetReady marks the service as accepting traffic. It is cleared on shutdown
// so load balancers drain the instance first.
func (h *Health) SetReady(ready bool) { h.ready.Store(ready) }

// Ready reports whether the service is marked ready and no readiness check fails.
func (h *Health) Ready() bool {
	return h.ready.Load() && len(h.failures(Readiness)) == 0
}

func (h *Health) failures(probe Probe) map[string]string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make(map[string]string)
	for _, c := range h.checks {
		if c.probe == probe && c.failing.Load() {
			out[c.name] = c.reason()
		}
	}
	return out
}

type statusResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// LiveEndpoint serves /livez.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, h.failures(Liveness))
}

// ReadyEndpoint serves /readyz.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	failures := h.failures(Readiness)
	if !h.ready.Load() {
		failures["service"] = "not ready"
	}
	writeStatus(w, failures)
}

func writeStatus(w http.ResponseWriter, failures map[string]string) {
	resp := statusResponse{Status: "ok"}
	status := http.StatusOK
	if len(failures) > 0 {
		resp = statusResponse{Status: "unhealthy", Checks: failures}
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
