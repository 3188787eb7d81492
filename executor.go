package toolrt

import (
	"context"
	"log/slog"
	"time"
)

// ExecutorConfig holds tuning knobs for the cooperative executor.
type ExecutorConfig struct {
	// TickInterval is the natural cadence at which the executor drains the
	// queue when no wake-up arrives. Default: 16ms, roughly one host frame.
	TickInterval time.Duration

	// HighBudget caps how many high-priority items one tick drains before
	// moving on to the general drain. Default: 32.
	HighBudget int

	// TickBudget caps the total number of items (any tier) one tick may run,
	// bounding how long a single tick occupies the execution context.
	// Default: 64.
	TickBudget int
}

func (c ExecutorConfig) withDefaults() ExecutorConfig {
	if c.TickInterval <= 0 {
		c.TickInterval = 16 * time.Millisecond
	}
	if c.HighBudget <= 0 {
		c.HighBudget = 32
	}
	if c.TickBudget <= 0 {
		c.TickBudget = 64
	}
	return c
}

// Executor is the single cooperative execution context. It owns exclusive
// access to host state: every affine tool call is funneled through its queue
// and run by exactly one goroutine, either the Run loop or an embedding host
// calling Tick from its own loop. Only one of those two drive modes may be
// used at a time.
type Executor struct {
	cfg    ExecutorConfig
	queue  *DispatchQueue
	logger *slog.Logger

	wakeCh chan struct{}
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithExecutorLogger sets the logger used for executor diagnostics.
func WithExecutorLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = l }
}

// NewExecutor creates an Executor draining the given queue.
func NewExecutor(queue *DispatchQueue, cfg ExecutorConfig, options ...ExecutorOption) *Executor {
	e := &Executor{
		cfg:    cfg.withDefaults(),
		queue:  queue,
		logger: slog.Default(),
		wakeCh: make(chan struct{}, 1),
	}
	for _, opt := range options {
		opt(e)
	}
	return e
}

// Wake requests an out-of-band tick. It is safe to call from any goroutine and
// never blocks; redundant wake-ups coalesce.
func (e *Executor) Wake() {
	select {
	case e.wakeCh <- struct{}{}:
	default:
	}
}

// Tick drains one bounded batch of queued work: first all currently-queued
// high-priority items up to the high budget, then remaining items of any tier
// up to the tick budget. It returns the number of items run. Panics inside
// queued actions are contained and logged; the drain proceeds to the next item.
//
// Embedding hosts that own their run loop call Tick directly from their single
// thread instead of using Run.
func (e *Executor) Tick() int {
	ran := 0

	// Urgent pass: interactive work first, so background items cannot starve it.
	for ran < e.cfg.HighBudget {
		item, ok := e.queue.TryDequeueAtOrAbove(PriorityHigh)
		if !ok {
			break
		}
		e.runItem(item)
		ran++
	}

	for ran < e.cfg.TickBudget {
		item, ok := e.queue.Dequeue()
		if !ok {
			break
		}
		e.runItem(item)
		ran++
	}

	return ran
}

func (e *Executor) runItem(item WorkItem) {
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("queued action panicked",
				"tool", item.Label, "panic", rec)
		}
	}()
	item.Run()
}

// Run drives Tick on a periodic interval until ctx is cancelled, servicing
// Wake requests immediately. It is the drive mode for standalone deployments
// with no host-owned loop.
func (e *Executor) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	e.logger.Info("executor started", "tick_interval", e.cfg.TickInterval)
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("executor stopped", "pending", e.queue.Len())
			return
		case <-ticker.C:
			e.Tick()
		case <-e.wakeCh:
			e.Tick()
		}
	}
}
