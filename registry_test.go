package toolrt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

func newTestRegistry(t *testing.T, opts ...RegistryOption) (*Registry, *BreakerSet, *ResultCache, *Executor) {
	t.Helper()

	cache, err := NewResultCache(CacheConfig{})
	if err != nil {
		t.Fatal(err)
	}
	breakers := NewBreakerSet(BreakerConfig{})
	queue := NewDispatchQueue()
	exec := NewExecutor(queue, ExecutorConfig{TickInterval: time.Millisecond})

	reg := NewRegistry(breakers, cache, queue, exec.Wake, opts...)
	return reg, breakers, cache, exec
}

func echoDef(calls *atomic.Int64) ToolDef {
	return ToolDef{
		Name:        "echo",
		Description: "echoes the text argument",
		Handler: func(_ context.Context, args json.RawMessage) (CallToolResult, error) {
			if calls != nil {
				calls.Add(1)
			}
			var p struct {
				Text string `json:"text"`
			}
			if err := json.Unmarshal(args, &p); err != nil {
				return CallToolResult{}, err
			}
			return TextResult(p.Text), nil
		},
	}
}

func TestRegistry_ExecuteUnknownTool(t *testing.T) {
	reg, breakers, _, _ := newTestRegistry(t)

	res := reg.Execute(context.Background(), "does_not_exist", nil)
	if !res.IsError {
		t.Fatal("unknown tool did not produce an error result")
	}
	if got := firstText(res); got != "tool not found: does_not_exist" {
		t.Errorf("message = %q, want it to name the tool", got)
	}

	// Unknown-tool rejection bypasses the breaker entirely.
	if counts := breakers.CountByState(); len(counts) != 0 {
		t.Errorf("breaker tracked %v circuits for an unknown tool", counts)
	}
}

func TestRegistry_CacheDeterminism(t *testing.T) {
	reg, _, _, _ := newTestRegistry(t)

	var calls atomic.Int64
	if err := reg.Register(echoDef(&calls)); err != nil {
		t.Fatal(err)
	}

	args := json.RawMessage(`{"text":"hi"}`)
	first := reg.Execute(context.Background(), "echo", args)
	second := reg.Execute(context.Background(), "echo", args)

	if calls.Load() != 1 {
		t.Fatalf("handler invoked %d times, want 1 (second call served from cache)", calls.Load())
	}
	if firstText(first) != "hi" || firstText(second) != "hi" {
		t.Fatalf("results differ: %+v vs %+v", first, second)
	}
}

func TestRegistry_CaseInsensitiveOverwrite(t *testing.T) {
	reg, _, _, _ := newTestRegistry(t)

	if err := reg.Register(ToolDef{
		Name: "Echo",
		Handler: func(context.Context, json.RawMessage) (CallToolResult, error) {
			return TextResult("first"), nil
		},
	}); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(ToolDef{
		Name: "echo",
		Handler: func(context.Context, json.RawMessage) (CallToolResult, error) {
			return TextResult("second"), nil
		},
	}); err != nil {
		t.Fatal(err)
	}

	if n := reg.Len(); n != 1 {
		t.Fatalf("Len() = %d after case-variant registration, want 1", n)
	}

	res := reg.Execute(context.Background(), "ECHO", nil)
	if got := firstText(res); got != "second" {
		t.Errorf("answering handler = %q, want the later registration", got)
	}
}

func TestRegistry_HandlerFaultIsContained(t *testing.T) {
	reg, breakers, _, _ := newTestRegistry(t)

	if err := reg.Register(ToolDef{
		Name: "boom",
		Handler: func(context.Context, json.RawMessage) (CallToolResult, error) {
			return CallToolResult{}, errors.New("database exploded")
		},
	}); err != nil {
		t.Fatal(err)
	}

	res := reg.Execute(context.Background(), "boom", nil)
	if !res.IsError {
		t.Fatal("fault did not produce an error result")
	}
	if got := firstText(res); got != "database exploded" {
		t.Errorf("message = %q, want the fault message", got)
	}

	if counts := breakers.CountByState(); counts[BreakerClosed] != 1 {
		t.Errorf("expected one closed circuit tracking the failure, got %v", counts)
	}
}

func TestRegistry_PanicIsContained(t *testing.T) {
	reg, _, _, _ := newTestRegistry(t)

	if err := reg.Register(ToolDef{
		Name: "panicky",
		Handler: func(context.Context, json.RawMessage) (CallToolResult, error) {
			panic("nil pointer somewhere")
		},
	}); err != nil {
		t.Fatal(err)
	}

	res := reg.Execute(context.Background(), "panicky", nil)
	if !res.IsError {
		t.Fatal("panic did not produce an error result")
	}
}

func TestRegistry_CircuitOpenRejection(t *testing.T) {
	reg, _, _, _ := newTestRegistry(t)

	if err := reg.Register(ToolDef{
		Name: "flaky",
		Handler: func(context.Context, json.RawMessage) (CallToolResult, error) {
			return CallToolResult{}, errors.New("always fails")
		},
	}); err != nil {
		t.Fatal(err)
	}

	// Default threshold is 5 failures.
	for i := 0; i < 5; i++ {
		reg.Execute(context.Background(), "flaky", nil)
	}

	res := reg.Execute(context.Background(), "flaky", nil)
	if !res.IsError {
		t.Fatal("open circuit did not produce an error result")
	}
	if got := firstText(res); got != "tool flaky is temporarily unavailable (circuit open)" {
		t.Errorf("message = %q, want the circuit-open rejection", got)
	}
}

func TestRegistry_CircuitSnapshotsUseDisplayName(t *testing.T) {
	reg, breakers, _, _ := newTestRegistry(t)

	if err := reg.Register(ToolDef{
		Name: "MyTool",
		Handler: func(context.Context, json.RawMessage) (CallToolResult, error) {
			return CallToolResult{}, errors.New("always fails")
		},
	}); err != nil {
		t.Fatal(err)
	}

	// Callers may use any casing; the circuit is tracked under the registered
	// display name.
	for i := 0; i < 5; i++ {
		reg.Execute(context.Background(), "mytool", nil)
	}

	open := breakers.OpenCircuits()
	if len(open) != 1 {
		t.Fatalf("len(OpenCircuits()) = %d, want 1", len(open))
	}
	if open[0].Name != "MyTool" {
		t.Errorf("snapshot name = %q, want registered casing %q", open[0].Name, "MyTool")
	}
}

func TestRegistry_AffineDispatch(t *testing.T) {
	reg, _, _, exec := newTestRegistry(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go exec.Run(ctx)

	if err := reg.Register(ToolDef{
		Name:   "main_thread_op",
		Affine: true,
		Handler: func(context.Context, json.RawMessage) (CallToolResult, error) {
			return TextResult("done on executor"), nil
		},
	}); err != nil {
		t.Fatal(err)
	}

	res := reg.Execute(context.Background(), "main_thread_op", nil)
	if res.IsError {
		t.Fatalf("affine call failed: %+v", res)
	}
	if got := firstText(res); got != "done on executor" {
		t.Errorf("result = %q", got)
	}
}

func TestRegistry_DispatchTimeout(t *testing.T) {
	reg, breakers, _, _ := newTestRegistry(t, WithDispatchTimeout(50*time.Millisecond))

	// No executor running: the queued item is never drained, so the caller
	// must time out rather than hang.
	if err := reg.Register(ToolDef{
		Name:   "stuck",
		Affine: true,
		Handler: func(context.Context, json.RawMessage) (CallToolResult, error) {
			return TextResult("unreachable"), nil
		},
	}); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	res := reg.Execute(context.Background(), "stuck", nil)
	if !res.IsError {
		t.Fatal("stalled dispatch did not produce an error result")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("Execute blocked %v, want prompt timeout", elapsed)
	}
	if got := breakers.State("stuck"); got != BreakerClosed {
		t.Fatalf("breaker state = %v after one timeout, want closed", got)
	}
}

func TestRegistry_ErrorResultCountsAsBreakerFailure(t *testing.T) {
	reg, breakers, _, _ := newTestRegistry(t)

	if err := reg.Register(ToolDef{
		Name: "validator",
		Handler: func(context.Context, json.RawMessage) (CallToolResult, error) {
			return ErrorResult("validation failed"), nil
		},
	}); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		reg.Execute(context.Background(), "validator", nil)
	}
	if got := breakers.State("validator"); got != BreakerOpen {
		t.Fatalf("breaker state = %v after 5 error results, want open", got)
	}
}

func TestRegistry_ErrorResultNotCached(t *testing.T) {
	reg, _, _, _ := newTestRegistry(t)

	var calls atomic.Int64
	if err := reg.Register(ToolDef{
		Name: "sometimes",
		Handler: func(context.Context, json.RawMessage) (CallToolResult, error) {
			if calls.Add(1) == 1 {
				return ErrorResult("transient"), nil
			}
			return TextResult("recovered"), nil
		},
	}); err != nil {
		t.Fatal(err)
	}

	first := reg.Execute(context.Background(), "sometimes", nil)
	second := reg.Execute(context.Background(), "sometimes", nil)

	if !first.IsError || second.IsError {
		t.Fatalf("unexpected outcomes: %+v then %+v", first, second)
	}
	if calls.Load() != 2 {
		t.Fatalf("handler invoked %d times, want 2 (error result must not be memoized)", calls.Load())
	}
}

func TestRegistry_Stats(t *testing.T) {
	reg, _, _, _ := newTestRegistry(t)

	var calls atomic.Int64
	def := echoDef(&calls)
	def.Category = "diagnostics"
	if err := reg.Register(def); err != nil {
		t.Fatal(err)
	}

	reg.Execute(context.Background(), "echo", json.RawMessage(`{"text":"a"}`))
	reg.Execute(context.Background(), "echo", json.RawMessage(`{"text":"b"}`))

	stats := reg.Stats()
	if len(stats) != 1 {
		t.Fatalf("len(Stats()) = %d, want 1", len(stats))
	}
	if stats[0].CallCount != 2 {
		t.Errorf("CallCount = %d, want 2", stats[0].CallCount)
	}
	if stats[0].Category != "diagnostics" {
		t.Errorf("Category = %q", stats[0].Category)
	}
}

func TestRegistry_Events(t *testing.T) {
	reg, _, _, _ := newTestRegistry(t)

	var events []Event
	reg.Subscribe(func(ev Event) { events = append(events, ev) })

	var calls atomic.Int64
	if err := reg.Register(echoDef(&calls)); err != nil {
		t.Fatal(err)
	}
	args := json.RawMessage(`{"text":"x"}`)
	reg.Execute(context.Background(), "echo", args) // executed
	reg.Execute(context.Background(), "echo", args) // cache hit
	reg.Unregister("echo")

	kinds := make([]EventKind, 0, len(events))
	for _, ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	want := []EventKind{EventRegistered, EventExecuted, EventCacheHit, EventUnregistered}
	if len(kinds) != len(want) {
		t.Fatalf("event kinds = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("event kinds = %v, want %v", kinds, want)
		}
	}
}

func TestRegistry_ExecuteBatch(t *testing.T) {
	for _, parallel := range []bool{false, true} {
		t.Run(fmt.Sprintf("parallel=%v", parallel), func(t *testing.T) {
			reg, _, _, _ := newTestRegistry(t)

			if err := reg.Register(ToolDef{
				Name: "ok",
				Handler: func(_ context.Context, args json.RawMessage) (CallToolResult, error) {
					return TextResult(string(args)), nil
				},
			}); err != nil {
				t.Fatal(err)
			}
			if err := reg.Register(ToolDef{
				Name: "explode",
				Handler: func(context.Context, json.RawMessage) (CallToolResult, error) {
					return CallToolResult{}, errors.New("kaboom")
				},
			}); err != nil {
				t.Fatal(err)
			}

			calls := []BatchCallItem{
				{CallID: "first", Name: "ok", Arguments: json.RawMessage(`1`)},
				{CallID: "second", Name: "explode"},
				{CallID: "third", Name: "ok", Arguments: json.RawMessage(`3`)},
			}

			results := reg.ExecuteBatch(context.Background(), calls, parallel)
			if len(results) != 3 {
				t.Fatalf("len(results) = %d, want 3", len(results))
			}
			for i, want := range []string{"first", "second", "third"} {
				if results[i].CallID != want {
					t.Errorf("results[%d].CallID = %q, want %q", i, results[i].CallID, want)
				}
			}
			if results[0].Result.IsError || results[2].Result.IsError {
				t.Error("items 1 and 3 should succeed")
			}
			if !results[1].Result.IsError {
				t.Error("item 2 should fail")
			}
		})
	}
}
