package toolrt

import (
	"fmt"
	"runtime"
	"sync"
	"time"
)

// Status is the composite health classification.
type Status string

// Health statuses, worst to best.
const (
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
	StatusHealthy   Status = "healthy"
)

// worse reports whether s is a worse status than other.
func (s Status) worse(other Status) bool {
	rank := func(st Status) int {
		switch st {
		case StatusUnhealthy:
			return 0
		case StatusDegraded:
			return 1
		default:
			return 2
		}
	}
	return rank(s) < rank(other)
}

// HealthConfig holds the thresholds used to classify runtime health.
type HealthConfig struct {
	// UnhealthyErrorRate is the failures/requests ratio at or above which the
	// runtime is unhealthy. Default: 0.25.
	UnhealthyErrorRate float64

	// DegradedErrorRate is the ratio at or above which the runtime is
	// degraded. Default: 0.10.
	DegradedErrorRate float64

	// OpenCircuitThreshold is the number of simultaneously open circuits at or
	// above which the runtime is degraded. Default: 3.
	OpenCircuitThreshold int

	// MemoryDegradedBytes is the heap allocation above which the memory
	// sub-check reports degraded. Default: 1 GiB.
	MemoryDegradedBytes uint64
}

func (c HealthConfig) withDefaults() HealthConfig {
	if c.UnhealthyErrorRate <= 0 {
		c.UnhealthyErrorRate = 0.25
	}
	if c.DegradedErrorRate <= 0 {
		c.DegradedErrorRate = 0.10
	}
	if c.OpenCircuitThreshold <= 0 {
		c.OpenCircuitThreshold = 3
	}
	if c.MemoryDegradedBytes == 0 {
		c.MemoryDegradedBytes = 1 << 30
	}
	return c
}

// CheckResult is the outcome of one discrete health sub-check.
type CheckResult struct {
	Name    string         `json:"name"`
	Status  Status         `json:"status"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// HealthReport is the full composite produced by Monitor.FullReport.
type HealthReport struct {
	Status    Status        `json:"status"`
	Uptime    time.Duration `json:"uptime"`
	Requests  int64         `json:"requests"`
	Failures  int64         `json:"failures"`
	CacheHits int64         `json:"cacheHits"`
	Checks    []CheckResult `json:"checks"`
}

// Monitor passively observes the registry's execution events and the breaker
// set, maintaining aggregate counters and deriving composite health status.
// Wire it up with NewMonitor, which subscribes it to the registry.
type Monitor struct {
	cfg      HealthConfig
	registry *Registry
	breakers *BreakerSet
	cache    *ResultCache

	mu        sync.Mutex
	startedAt time.Time
	requests  int64
	failures  int64
	cacheHits int64
	execTime  time.Duration
}

// NewMonitor creates a Monitor observing reg, breakers and cache, and
// subscribes it to the registry's event stream.
func NewMonitor(reg *Registry, breakers *BreakerSet, cache *ResultCache, cfg HealthConfig) *Monitor {
	m := &Monitor{
		cfg:       cfg.withDefaults(),
		registry:  reg,
		breakers:  breakers,
		cache:     cache,
		startedAt: time.Now(),
	}
	reg.Subscribe(m.observe)
	return m
}

func (m *Monitor) observe(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch ev.Kind {
	case EventExecuted:
		m.requests++
		m.execTime += ev.Elapsed
	case EventError:
		m.requests++
		m.failures++
		m.execTime += ev.Elapsed
	case EventCacheHit:
		m.requests++
		m.cacheHits++
	}
}

// errorRate returns failures/requests, or 0 when no requests were observed.
func (m *Monitor) errorRate() (rate float64, requests, failures int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.requests == 0 {
		return 0, 0, 0
	}
	return float64(m.failures) / float64(m.requests), m.requests, m.failures
}

// QuickStatus classifies current health from the error rate and the number of
// open circuits, without running the discrete sub-checks.
func (m *Monitor) QuickStatus() Status {
	rate, _, _ := m.errorRate()
	if rate >= m.cfg.UnhealthyErrorRate {
		return StatusUnhealthy
	}

	openCircuits := m.breakers.CountByState()[BreakerOpen]
	if rate >= m.cfg.DegradedErrorRate || openCircuits >= m.cfg.OpenCircuitThreshold {
		return StatusDegraded
	}
	return StatusHealthy
}

// FullReport runs every discrete sub-check and folds the results into one
// overall status: any unhealthy sub-check wins, else any degraded one, else
// healthy.
func (m *Monitor) FullReport() HealthReport {
	checks := []CheckResult{
		m.checkErrorRate(),
		m.checkCircuits(),
		m.checkMemory(),
		m.checkRegistry(),
		m.checkCache(),
	}

	overall := StatusHealthy
	for _, c := range checks {
		if c.Status.worse(overall) {
			overall = c.Status
		}
	}

	m.mu.Lock()
	report := HealthReport{
		Status:    overall,
		Uptime:    time.Since(m.startedAt),
		Requests:  m.requests,
		Failures:  m.failures,
		CacheHits: m.cacheHits,
		Checks:    checks,
	}
	m.mu.Unlock()
	return report
}

func (m *Monitor) checkErrorRate() CheckResult {
	rate, requests, failures := m.errorRate()

	status := StatusHealthy
	switch {
	case rate >= m.cfg.UnhealthyErrorRate:
		status = StatusUnhealthy
	case rate >= m.cfg.DegradedErrorRate:
		status = StatusDegraded
	}
	return CheckResult{
		Name:    "error_rate",
		Status:  status,
		Message: fmt.Sprintf("%.1f%% of %d requests failed", rate*100, requests),
		Details: map[string]any{"requests": requests, "failures": failures, "rate": rate},
	}
}

func (m *Monitor) checkCircuits() CheckResult {
	open := m.breakers.OpenCircuits()

	// Any number of open circuits degrades; the classification matches
	// QuickStatus so the two surfaces never disagree.
	status := StatusHealthy
	msg := "all circuits closed"
	if len(open) > 0 {
		msg = fmt.Sprintf("%d circuit(s) open", len(open))
		status = StatusDegraded
	}

	details := map[string]any{"openCount": len(open)}
	if len(open) > 0 {
		details["open"] = open
	}
	return CheckResult{Name: "circuit_breakers", Status: status, Message: msg, Details: details}
}

func (m *Monitor) checkMemory() CheckResult {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	status := StatusHealthy
	if ms.HeapAlloc > m.cfg.MemoryDegradedBytes {
		status = StatusDegraded
	}
	return CheckResult{
		Name:    "memory",
		Status:  status,
		Message: fmt.Sprintf("%d MiB heap in use", ms.HeapAlloc>>20),
		Details: map[string]any{"heapAlloc": ms.HeapAlloc, "numGC": ms.NumGC},
	}
}

func (m *Monitor) checkRegistry() CheckResult {
	n := m.registry.Len()
	status := StatusHealthy
	msg := fmt.Sprintf("%d tools registered", n)
	if n == 0 {
		status = StatusDegraded
		msg = "no tools registered"
	}
	return CheckResult{
		Name:    "registry",
		Status:  status,
		Message: msg,
		Details: map[string]any{"tools": n},
	}
}

func (m *Monitor) checkCache() CheckResult {
	s := m.cache.Stats()
	return CheckResult{
		Name:    "cache",
		Status:  StatusHealthy,
		Message: fmt.Sprintf("%d entries, %d hits, %d misses", s.Entries, s.Hits, s.Misses),
		Details: map[string]any{
			"entries":   s.Entries,
			"hits":      s.Hits,
			"misses":    s.Misses,
			"evictions": s.Evictions,
		},
	}
}

// ResetMetrics zeroes every aggregate counter and restarts the uptime clock.
// Circuit and cache state are untouched; use BreakerSet.ResetAll separately
// for operator-initiated circuit resets.
func (m *Monitor) ResetMetrics() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.startedAt = time.Now()
	m.requests = 0
	m.failures = 0
	m.cacheHits = 0
	m.execTime = 0
}
