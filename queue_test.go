package toolrt

import (
	"sync"
	"testing"
)

func TestDispatchQueue_PriorityOrdering(t *testing.T) {
	q := NewDispatchQueue()

	// Interleave enqueues across all four tiers; dequeues must yield all high
	// items in enqueue order, then normal, then low, then idle.
	var got []string
	record := func(label string) func() {
		return func() { got = append(got, label) }
	}

	q.Enqueue(record("idle-1"), PriorityIdle, "")
	q.Enqueue(record("normal-1"), PriorityNormal, "")
	q.Enqueue(record("high-1"), PriorityHigh, "")
	q.Enqueue(record("low-1"), PriorityLow, "")
	q.Enqueue(record("high-2"), PriorityHigh, "")
	q.Enqueue(record("normal-2"), PriorityNormal, "")
	q.Enqueue(record("idle-2"), PriorityIdle, "")

	for {
		item, ok := q.Dequeue()
		if !ok {
			break
		}
		item.Run()
	}

	want := []string{"high-1", "high-2", "normal-1", "normal-2", "low-1", "idle-1", "idle-2"}
	if len(got) != len(want) {
		t.Fatalf("dequeued %d items, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestDispatchQueue_TryDequeueAtOrAbove(t *testing.T) {
	q := NewDispatchQueue()
	q.Enqueue(func() {}, PriorityLow, "bg")

	// Only a low item is pending; asking for normal-or-above must miss without
	// side effects.
	if _, ok := q.TryDequeueAtOrAbove(PriorityNormal); ok {
		t.Fatal("TryDequeueAtOrAbove(normal) = hit, want miss with only low pending")
	}
	if q.Len() != 1 {
		t.Fatalf("Len() = %d after miss, want 1", q.Len())
	}

	q.Enqueue(func() {}, PriorityHigh, "fg")
	item, ok := q.TryDequeueAtOrAbove(PriorityNormal)
	if !ok {
		t.Fatal("TryDequeueAtOrAbove(normal) = miss, want hit after high enqueue")
	}
	if item.Priority != PriorityHigh {
		t.Errorf("dequeued priority = %v, want high", item.Priority)
	}
}

func TestDispatchQueue_HasHighPriorityPending(t *testing.T) {
	q := NewDispatchQueue()
	if q.HasHighPriorityPending() {
		t.Fatal("empty queue reports high-priority pending")
	}
	q.Enqueue(func() {}, PriorityNormal, "")
	if q.HasHighPriorityPending() {
		t.Fatal("normal item reported as high-priority pending")
	}
	q.Enqueue(func() {}, PriorityHigh, "")
	if !q.HasHighPriorityPending() {
		t.Fatal("high item not reported as pending")
	}
}

func TestDispatchQueue_Stats(t *testing.T) {
	q := NewDispatchQueue()
	q.Enqueue(func() {}, PriorityHigh, "")
	q.Enqueue(func() {}, PriorityNormal, "")
	q.Enqueue(func() {}, PriorityNormal, "")

	s := q.Stats()
	if s.TotalEnqueued != 3 {
		t.Errorf("TotalEnqueued = %d, want 3", s.TotalEnqueued)
	}
	pending := s.PendingByTier()
	if pending["high"] != 1 || pending["normal"] != 2 {
		t.Errorf("PendingByTier() = %v, want high=1 normal=2", pending)
	}

	if _, ok := q.Dequeue(); !ok {
		t.Fatal("expected dequeue to succeed")
	}
	s = q.Stats()
	if s.Processed[PriorityHigh.rank()] != 1 {
		t.Errorf("Processed[high] = %d, want 1", s.Processed[PriorityHigh.rank()])
	}
	if s.PendingByTier()["high"] != 0 {
		t.Errorf("Pending[high] = %d after dequeue, want 0", s.PendingByTier()["high"])
	}
}

func TestDispatchQueue_Clear(t *testing.T) {
	q := NewDispatchQueue()
	ran := false
	q.Enqueue(func() { ran = true }, PriorityNormal, "")
	q.Clear()

	if q.Len() != 0 {
		t.Fatalf("Len() = %d after Clear, want 0", q.Len())
	}
	if _, ok := q.Dequeue(); ok {
		t.Fatal("Dequeue succeeded on cleared queue")
	}
	if ran {
		t.Fatal("cleared item was run")
	}
}

func TestDispatchQueue_ConcurrentEnqueue(t *testing.T) {
	q := NewDispatchQueue()

	const goroutines = 16
	const perGoroutine = 50

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(p Priority) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				q.Enqueue(func() {}, p, "")
			}
		}(Priority(g % numPriorities))
	}
	wg.Wait()

	if got := q.Len(); got != goroutines*perGoroutine {
		t.Fatalf("Len() = %d, want %d", got, goroutines*perGoroutine)
	}

	count := 0
	lastRank := 0
	for {
		item, ok := q.Dequeue()
		if !ok {
			break
		}
		if item.Priority.rank() < lastRank {
			t.Fatalf("urgency regressed at item %d (%v)", count, item.Priority)
		}
		lastRank = item.Priority.rank()
		count++
	}
	if count != goroutines*perGoroutine {
		t.Fatalf("dequeued %d items, want %d", count, goroutines*perGoroutine)
	}
}

func TestPriority_String(t *testing.T) {
	tests := []struct {
		p    Priority
		want string
	}{
		{PriorityHigh, "high"},
		{PriorityNormal, "normal"},
		{PriorityLow, "low"},
		{PriorityIdle, "idle"},
		{Priority(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.p.String(); got != tt.want {
			t.Errorf("Priority(%d).String() = %q, want %q", tt.p, got, tt.want)
		}
	}
}
