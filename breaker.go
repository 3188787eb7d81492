package toolrt

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

// BreakerState represents the current operating mode of one circuit.
type BreakerState int

const (
	// BreakerClosed is the normal operating state — all calls are allowed.
	BreakerClosed BreakerState = iota

	// BreakerOpen indicates the circuit has tripped due to consecutive
	// failures. Calls are denied until the cooldown elapses.
	BreakerOpen

	// BreakerHalfOpen is the probe state entered after the cooldown. Probe
	// calls pass through; enough successes close the circuit, any failure
	// re-opens it.
	BreakerHalfOpen
)

// String returns the human-readable name of the state.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds tuning knobs shared by every circuit in a BreakerSet.
type BreakerConfig struct {
	// FailureThreshold is the failure count in the closed state at which the
	// circuit opens. Default: 5.
	FailureThreshold int

	// Cooldown is how long an open circuit denies requests before allowing a
	// probe. Default: 60s.
	Cooldown time.Duration

	// SuccessThreshold is the number of consecutive half-open successes
	// required to fully close the circuit. Default: 3.
	SuccessThreshold int
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 60 * time.Second
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 3
	}
	return c
}

// circuit is the per-tool-name record. All fields are guarded by the owning
// BreakerSet's mutex.
type circuit struct {
	// name is the display casing the tool was last referenced with; circuits
	// are keyed case-insensitively.
	name string

	state       BreakerState
	failures    int
	successes   int
	lastFailure time.Time
	openedAt    time.Time
	lastError   string
}

// CircuitSnapshot is a read-only view of one circuit, used for health reporting.
type CircuitSnapshot struct {
	Name        string       `json:"name"`
	State       BreakerState `json:"state"`
	Failures    int          `json:"failures"`
	Successes   int          `json:"successes"`
	LastError   string       `json:"lastError,omitempty"`
	OpenedAt    time.Time    `json:"openedAt,omitzero"`
	LastFailure time.Time    `json:"lastFailure,omitzero"`
}

// BreakerSet manages one circuit per tool name, created lazily on first
// reference. Names are matched case-insensitively, with the most recent casing
// preserved for reporting. It is safe for concurrent use.
type BreakerSet struct {
	cfg    BreakerConfig
	logger *slog.Logger

	mu       sync.Mutex
	circuits map[string]*circuit

	// now is swapped out in tests to simulate cooldown expiry.
	now func() time.Time
}

// NewBreakerSet creates a BreakerSet with the supplied configuration.
// Zero-value config fields are replaced with defaults.
func NewBreakerSet(cfg BreakerConfig) *BreakerSet {
	return &BreakerSet{
		cfg:      cfg.withDefaults(),
		logger:   slog.Default(),
		circuits: make(map[string]*circuit),
		now:      time.Now,
	}
}

func (b *BreakerSet) circuitLocked(name string) *circuit {
	key := strings.ToLower(name)
	c, ok := b.circuits[key]
	if !ok {
		c = &circuit{state: BreakerClosed}
		b.circuits[key] = c
	}
	c.name = name
	return c
}

// Allow reports whether a new call to name may be attempted. An open circuit
// denies all requests until its cooldown elapses; the first request after the
// cooldown transitions the circuit to half-open and is allowed as a probe.
func (b *BreakerSet) Allow(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuitLocked(name)
	switch c.state {
	case BreakerOpen:
		if b.now().Sub(c.openedAt) < b.cfg.Cooldown {
			return false
		}
		c.state = BreakerHalfOpen
		c.successes = 0
		b.logger.Info("circuit transitioning to half-open", "tool", name)
		return true
	default:
		// Closed always allows; half-open probes are unbounded.
		return true
	}
}

// RecordSuccess records a successful call against name. In the closed state it
// works the failure count back toward zero; in the half-open state enough
// consecutive successes close the circuit and zero its counters.
func (b *BreakerSet) RecordSuccess(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuitLocked(name)
	switch c.state {
	case BreakerHalfOpen:
		c.successes++
		if c.successes >= b.cfg.SuccessThreshold {
			c.state = BreakerClosed
			c.failures = 0
			c.successes = 0
			c.lastError = ""
			b.logger.Info("circuit closed after successful probes", "tool", name)
		}
	default:
		if c.failures > 0 {
			c.failures--
		}
	}
}

// RecordFailure records a failed call against name. Reaching the failure
// threshold in the closed state opens the circuit; any failure while half-open
// immediately re-opens it and restarts the cooldown.
func (b *BreakerSet) RecordFailure(name, errMsg string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuitLocked(name)
	c.lastFailure = b.now()
	c.lastError = errMsg

	switch c.state {
	case BreakerHalfOpen:
		c.state = BreakerOpen
		c.openedAt = b.now()
		c.successes = 0
		b.logger.Warn("circuit re-opened from half-open", "tool", name, "error", errMsg)
	case BreakerClosed:
		c.failures++
		if c.failures >= b.cfg.FailureThreshold {
			c.state = BreakerOpen
			c.openedAt = b.now()
			b.logger.Warn("circuit opened", "tool", name,
				"failures", c.failures, "error", errMsg)
		}
	}
}

// State returns the current state of the circuit for name. Unknown names report
// BreakerClosed without creating a record.
func (b *BreakerSet) State(name string) BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[strings.ToLower(name)]
	if !ok {
		return BreakerClosed
	}
	return c.state
}

// CountByState returns the number of tracked circuits in each state.
func (b *BreakerSet) CountByState() map[BreakerState]int {
	b.mu.Lock()
	defer b.mu.Unlock()

	counts := make(map[BreakerState]int, 3)
	for _, c := range b.circuits {
		counts[c.state]++
	}
	return counts
}

// OpenCircuits returns a snapshot of every circuit currently in the open state,
// including its last recorded error, for health reporting.
func (b *BreakerSet) OpenCircuits() []CircuitSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	var open []CircuitSnapshot
	for _, c := range b.circuits {
		if c.state != BreakerOpen {
			continue
		}
		open = append(open, CircuitSnapshot{
			Name:        c.name,
			State:       c.state,
			Failures:    c.failures,
			Successes:   c.successes,
			LastError:   c.lastError,
			OpenedAt:    c.openedAt,
			LastFailure: c.lastFailure,
		})
	}
	return open
}

// Reset forces the circuit for name back to closed with zeroed counters.
// Unknown names are a no-op.
func (b *BreakerSet) Reset(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[strings.ToLower(name)]
	if !ok {
		return
	}
	*c = circuit{name: name, state: BreakerClosed}
	b.logger.Info("circuit manually reset", "tool", name)
}

// ResetAll forces every tracked circuit back to closed with zeroed counters.
func (b *BreakerSet) ResetAll() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, c := range b.circuits {
		*c = circuit{name: c.name, state: BreakerClosed}
	}
	b.logger.Info("all circuits reset", "count", len(b.circuits))
}
