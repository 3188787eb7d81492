package toolrt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Handler executes one tool call. Arguments arrive as the raw JSON object from
// the wire; the handler returns a typed result or an error. A returned error is
// a fault: the registry contains it, records it against the tool's circuit, and
// surfaces it as an isError result. Handlers that merely want to report a
// domain-level failure should return ErrorResult(...) with a nil error instead.
type Handler func(ctx context.Context, args json.RawMessage) (CallToolResult, error)

// ToolDef describes a tool at registration time.
type ToolDef struct {
	// Name is the unique, case-insensitive identifier of the tool.
	Name string

	// Description is the human-readable summary shown in the catalog.
	Description string

	// InputSchema is the JSON schema of the tool's arguments.
	InputSchema json.RawMessage

	// Handler executes the call.
	Handler Handler

	// Affine marks the tool as requiring the single cooperative execution
	// context. Affine calls are queued and drained by the executor; everything
	// else runs directly on the calling goroutine.
	Affine bool

	// Priority is the dispatch tier for affine calls. The zero value is
	// PriorityNormal.
	Priority Priority

	// Category is a free-form grouping tag used in statistics.
	Category string
}

// DefaultPriority is the dispatch tier used when callers have no opinion.
const DefaultPriority = PriorityNormal

// registration is the live record for one registered tool.
type registration struct {
	def ToolDef

	callCount     int64
	totalDuration time.Duration
}

// ToolStats is a read-only statistics snapshot for one tool.
type ToolStats struct {
	Name          string        `json:"name"`
	Category      string        `json:"category,omitempty"`
	CallCount     int64         `json:"callCount"`
	TotalDuration time.Duration `json:"totalDuration"`
}

// EventKind discriminates registry observation events.
type EventKind int

// Registry event kinds.
const (
	EventRegistered EventKind = iota
	EventUnregistered
	EventExecuted
	EventError
	EventCacheHit
)

// Event is one registry observation, delivered synchronously to subscribers.
type Event struct {
	Kind    EventKind
	Tool    string
	Elapsed time.Duration
	Err     string
}

// Registry is the orchestrator of the tool runtime. Around every call it
// composes the circuit breaker, the response cache and the priority dispatch
// queue, tracks per-tool statistics, and emits observation events. All methods
// are safe for concurrent use.
type Registry struct {
	breakers *BreakerSet
	cache    *ResultCache
	queue    *DispatchQueue
	logger   *slog.Logger

	// wake requests an out-of-band executor tick so queued affine work is
	// serviced promptly instead of waiting for the natural tick cadence.
	wake func()

	// dispatchTimeout bounds how long a caller waits for a queued affine call
	// to complete. Zero means wait indefinitely. The queued item itself is
	// never cancelled; on timeout it still runs when drained.
	dispatchTimeout time.Duration

	mu    sync.RWMutex
	tools map[string]*registration

	obsMu     sync.RWMutex
	observers []func(Event)
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger used for registry diagnostics.
func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// WithDispatchTimeout bounds how long Execute waits for a queued affine call.
func WithDispatchTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) { r.dispatchTimeout = d }
}

// NewRegistry creates a Registry composing the given breaker set, cache and
// dispatch queue. wake is invoked after every affine enqueue and may be nil.
func NewRegistry(breakers *BreakerSet, cache *ResultCache, queue *DispatchQueue, wake func(), options ...RegistryOption) *Registry {
	r := &Registry{
		breakers: breakers,
		cache:    cache,
		queue:    queue,
		wake:     wake,
		logger:   slog.Default(),
		tools:    make(map[string]*registration),
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

// Subscribe adds an observer that receives every registry event. Observers are
// invoked synchronously on the goroutine that produced the event and must not
// block.
func (r *Registry) Subscribe(fn func(Event)) {
	r.obsMu.Lock()
	defer r.obsMu.Unlock()
	r.observers = append(r.observers, fn)
}

func (r *Registry) emit(ev Event) {
	r.obsMu.RLock()
	defer r.obsMu.RUnlock()
	for _, fn := range r.observers {
		fn(ev)
	}
}

// Register adds def to the directory, overwriting any prior registration whose
// name differs only in case. Cached results for the overwritten name are
// invalidated.
func (r *Registry) Register(def ToolDef) error {
	if def.Name == "" {
		return fmt.Errorf("register: empty tool name")
	}
	if def.Handler == nil {
		return fmt.Errorf("register %q: nil handler", def.Name)
	}

	key := strings.ToLower(def.Name)

	r.mu.Lock()
	if _, exists := r.tools[key]; exists {
		r.cache.Invalidate(key)
		r.logger.Debug("overwriting tool registration", "tool", def.Name)
	}
	r.tools[key] = &registration{def: def}
	r.mu.Unlock()

	r.emit(Event{Kind: EventRegistered, Tool: def.Name})
	return nil
}

// Unregister removes the named tool. It reports whether a registration existed.
func (r *Registry) Unregister(name string) bool {
	key := strings.ToLower(name)

	r.mu.Lock()
	_, exists := r.tools[key]
	if exists {
		delete(r.tools, key)
		r.cache.Invalidate(key)
	}
	r.mu.Unlock()

	if exists {
		r.emit(Event{Kind: EventUnregistered, Tool: name})
	}
	return exists
}

// List returns the tool catalog sorted by name.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	tools := make([]Tool, 0, len(r.tools))
	for _, reg := range r.tools {
		tools = append(tools, Tool{
			Name:        reg.def.Name,
			Description: reg.def.Description,
			InputSchema: reg.def.InputSchema,
		})
	}
	r.mu.RUnlock()

	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return tools
}

// Stats returns per-tool call statistics sorted by name.
func (r *Registry) Stats() []ToolStats {
	r.mu.RLock()
	stats := make([]ToolStats, 0, len(r.tools))
	for _, reg := range r.tools {
		stats = append(stats, ToolStats{
			Name:          reg.def.Name,
			Category:      reg.def.Category,
			CallCount:     reg.callCount,
			TotalDuration: reg.totalDuration,
		})
	}
	r.mu.RUnlock()

	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Execute runs the named tool with the given arguments, composing the circuit
// breaker, the response cache and the dispatch queue around the call. Faults
// never escape: every outcome is a CallToolResult, with IsError marking
// failures. Unknown tools are rejected without touching the breaker.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) CallToolResult {
	key := strings.ToLower(name)

	r.mu.RLock()
	reg, ok := r.tools[key]
	r.mu.RUnlock()

	if !ok {
		return ErrorResult(fmt.Sprintf("tool not found: %s", name))
	}

	if !r.breakers.Allow(reg.def.Name) {
		return ErrorResult(fmt.Sprintf("tool %s is temporarily unavailable (circuit open)", name))
	}

	cacheable := r.cache.ShouldCache(key)
	if cacheable {
		if cached, hit := r.cache.TryGet(key, args); hit {
			// A cache hit is treated as evidence of health.
			r.breakers.RecordSuccess(reg.def.Name)
			r.emit(Event{Kind: EventCacheHit, Tool: reg.def.Name})
			return cached
		}
	}

	start := time.Now()
	result, err := r.dispatch(ctx, reg, args)
	elapsed := time.Since(start)

	if err != nil {
		r.breakers.RecordFailure(reg.def.Name, err.Error())
		r.emit(Event{Kind: EventError, Tool: reg.def.Name, Elapsed: elapsed, Err: err.Error()})
		r.logger.Warn("tool execution fault", "tool", reg.def.Name, "error", err)
		return ErrorResult(err.Error())
	}

	r.mu.Lock()
	reg.callCount++
	reg.totalDuration += elapsed
	r.mu.Unlock()

	if result.IsError {
		r.breakers.RecordFailure(reg.def.Name, firstText(result))
		r.emit(Event{Kind: EventError, Tool: reg.def.Name, Elapsed: elapsed, Err: firstText(result)})
	} else {
		if cacheable {
			r.cache.Put(key, args, result)
		}
		r.breakers.RecordSuccess(reg.def.Name)
		r.emit(Event{Kind: EventExecuted, Tool: reg.def.Name, Elapsed: elapsed})
	}

	return result
}

// dispatch routes the call either through the priority queue (affine tools) or
// directly on the calling goroutine.
func (r *Registry) dispatch(ctx context.Context, reg *registration, args json.RawMessage) (CallToolResult, error) {
	if !reg.def.Affine {
		return invoke(ctx, reg.def.Handler, args)
	}

	type outcome struct {
		result CallToolResult
		err    error
	}
	done := make(chan outcome, 1)

	r.queue.Enqueue(func() {
		res, err := invoke(ctx, reg.def.Handler, args)
		done <- outcome{res, err}
	}, reg.def.Priority, reg.def.Name)

	if r.wake != nil {
		r.wake()
	}

	var timeout <-chan time.Time
	if r.dispatchTimeout > 0 {
		t := time.NewTimer(r.dispatchTimeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case out := <-done:
		return out.result, out.err
	case <-timeout:
		return CallToolResult{}, fmt.Errorf("tool %s timed out after %s waiting for the executor",
			reg.def.Name, r.dispatchTimeout)
	case <-ctx.Done():
		return CallToolResult{}, fmt.Errorf("tool %s: %w", reg.def.Name, ctx.Err())
	}
}

// invoke runs the handler with panic containment. A panicking handler is
// reported as a fault, never propagated.
func invoke(ctx context.Context, h Handler, args json.RawMessage) (result CallToolResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return h(ctx, args)
}

// ExecuteBatch runs every item through the single-call Execute path, either
// concurrently or strictly in order, and returns one result per item tagged
// with the caller's correlation id. Items succeed or fail independently; there
// is no partial-batch rollback.
func (r *Registry) ExecuteBatch(ctx context.Context, calls []BatchCallItem, parallel bool) []BatchCallResult {
	results := make([]BatchCallResult, len(calls))

	runOne := func(i int) {
		start := time.Now()
		res := r.Execute(ctx, calls[i].Name, calls[i].Arguments)
		results[i] = BatchCallResult{
			CallID:    calls[i].CallID,
			Result:    res,
			ElapsedMS: time.Since(start).Milliseconds(),
		}
	}

	if !parallel {
		for i := range calls {
			runOne(i)
		}
		return results
	}

	g := new(errgroup.Group)
	for i := range calls {
		i := i
		g.Go(func() error {
			runOne(i)
			return nil
		})
	}
	// Workers never return errors; per-item failures live in the results.
	_ = g.Wait()

	return results
}

func firstText(res CallToolResult) string {
	if len(res.Content) == 0 {
		return ""
	}
	return res.Content[0].Text
}
