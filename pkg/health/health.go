// Package health implements liveness and readiness probes for the checkout
// service. Probes run on background tickers and use consecutive-failure and
// consecutive-success thresholds so a single flaky sample does not flip the
// reported state.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// CheckFunc probes one dependency. A nil return means healthy.
type CheckFunc func(ctx context.Context) error

const (
	defaultFailureThreshold = 3
	defaultSuccessThreshold = 1
)

// probe is one registered check plus its runtime state. tick() runs on a
// single goroutine, so the streak counters are unsynchronized; the healthy
// flag and last error are read by HTTP handlers and use atomics.
type probe struct {
	name    string
	timeout time.Duration
	check   CheckFunc

	healthy atomic.Bool
	lastErr atomic.Pointer[error]

	failStreak int
	okStreak   int
}

func newProbe(name string, timeout time.Duration, check CheckFunc) *probe {
	p := &probe{name: name, timeout: timeout, check: check}
	// Healthy until the failure threshold says otherwise.
	p.healthy.Store(true)
	return p
}

func (p *probe) tick(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.check(ctx)
	p.lastErr.Store(&err)

	if err != nil {
		p.okStreak = 0
		if p.failStreak++; p.failStreak >= defaultFailureThreshold {
			p.healthy.Store(false)
		}
		return
	}
	p.failStreak = 0
	if p.okStreak++; p.okStreak >= defaultSuccessThreshold {
		p.healthy.Store(true)
	}
}

func (p *probe) failure() (string, bool) {
	if p.healthy.Load() {
		return "", false
	}
	if e := p.lastErr.Load(); e != nil && *e != nil {
		return (*e).Error(), true
	}
	return "check is unhealthy", true
}

// Service aggregates probes and serves them as /livez and /readyz handlers.
// Readiness additionally gates on an explicit ready flag so the process can
// drain itself before shutdown.
type Service struct {
	ready atomic.Bool

	mu        sync.RWMutex
	liveness  []*probe
	readiness []*probe
	cancel    context.CancelFunc
}

// New returns a Service in the not-ready state. Call SetReady(true) once
// startup completes.
func New() *Service {
	return &Service{}
}

// AddLivenessCheck registers a process-level probe (goroutine leaks, GC
// pauses). A failing liveness probe signals the process should be restarted.
func (s *Service) AddLivenessCheck(name string, timeout time.Duration, check CheckFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.liveness = append(s.liveness, newProbe(name, timeout, check))
}

// AddReadinessCheck registers a dependency probe (database, payment gateway).
// A failing readiness probe takes the instance out of rotation without
// restarting it.
func (s *Service) AddReadinessCheck(name string, timeout time.Duration, check CheckFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readiness = append(s.readiness, newProbe(name, timeout, check))
}

// Start launches one goroutine per registered probe, each ticking at the
// given interval until Stop is called or ctx is cancelled.
func (s *Service) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.cancel = cancel
	probes := make([]*probe, 0, len(s.liveness)+len(s.readiness))
	probes = append(probes, s.liveness...)
	probes = append(probes, s.readiness...)
	s.mu.Unlock()

	for _, p := range probes {
		go func(p *probe) {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			p.tick(ctx)
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					p.tick(ctx)
				}
			}
		}(p)
	}
}

// Stop cancels all probe goroutines. Safe to call more than once.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// SetReady flips the explicit readiness flag. Set false at the start of
// graceful shutdown so the load balancer stops routing new checkouts here.
func (s *Service) SetReady(ready bool) {
	s.ready.Store(ready)
}

// IsReady reports whether the flag is set and every readiness probe passes.
func (s *Service) IsReady() bool {
	if !s.ready.Load() {
		return false
	}

	s.mu.RLock()
	probes := s.readiness
	s.mu.RUnlock()

	for _, p := range probes {
		if _, failed := p.failure(); failed {
			return false
		}
	}
	return true
}

type statusResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// LiveEndpoint serves /livez: 200 while all liveness probes pass, 503 with
// per-probe failure messages otherwise.
func (s *Service) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	probes := make([]*probe, len(s.liveness))
	copy(probes, s.liveness)
	s.mu.RUnlock()

	writeStatus(w, collectFailures(probes))
}

// ReadyEndpoint serves /readyz: 200 only when SetReady(true) has been called
// and every readiness probe passes.
func (s *Service) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	ready := s.ready.Load()

	s.mu.RLock()
	probes := make([]*probe, len(s.readiness))
	copy(probes, s.readiness)
	s.mu.RUnlock()

	failures := collectFailures(probes)
	if !ready {
		failures["_readiness"] = "service is not ready"
	}
	writeStatus(w, failures)
}

func collectFailures(probes []*probe) map[string]string {
	failures := make(map[string]string)
	for _, p := range probes {
		if msg, failed := p.failure(); failed {
			failures[p.name] = msg
		}
	}
	return failures
}

func writeStatus(w http.ResponseWriter, failures map[string]string) {
	resp := statusResponse{Status: "ok"}
	code := http.StatusOK
	if len(failures) > 0 {
		resp = statusResponse{Status: "unhealthy", Checks: failures}
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
