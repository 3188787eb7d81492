package toolrt

import (
	"sync"
	"time"
)

// Priority is the scheduling class of a queued work item. The zero value is
// PriorityNormal so that unset priorities get sensible scheduling.
type Priority int

// Priority tiers. Urgency order is High > Normal > Low > Idle.
const (
	PriorityNormal Priority = iota
	PriorityHigh
	PriorityLow
	PriorityIdle

	numPriorities = 4
)

// rank maps a priority to its queue tier index, most urgent first. Unknown
// values are clamped to the idle tier.
func (p Priority) rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityNormal:
		return 1
	case PriorityLow:
		return 2
	default:
		return 3
	}
}

// String returns the human-readable name of the priority tier.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	case PriorityIdle:
		return "idle"
	default:
		return "unknown"
	}
}

var tierNames = [numPriorities]string{"high", "normal", "low", "idle"}

// WorkItem is a deferred action waiting for the cooperative executor. Label
// carries the originating tool name for diagnostics and may be empty.
type WorkItem struct {
	Run        func()
	Priority   Priority
	Label      string
	EnqueuedAt time.Time
}

// QueueStats is a point-in-time snapshot of a DispatchQueue. Tier slices are
// indexed most-urgent first: high, normal, low, idle.
type QueueStats struct {
	// Pending holds the number of items currently waiting, per tier.
	Pending [numPriorities]int
	// Processed holds the cumulative number of dequeued items, per tier.
	Processed [numPriorities]int64
	// TotalEnqueued is the cumulative number of items ever enqueued.
	TotalEnqueued int64
}

// PendingByTier returns pending counts keyed by tier name.
func (s QueueStats) PendingByTier() map[string]int {
	m := make(map[string]int, numPriorities)
	for i, name := range tierNames {
		m[name] = s.Pending[i]
	}
	return m
}

// DispatchQueue is a thread-safe multi-tier FIFO queue bridging concurrent
// callers to the single cooperative executor. Items are yielded in strict tier
// order (high before normal before low before idle) and in FIFO order within a
// tier. The queue has no notion of cancellation: once enqueued, an item runs
// unless the whole queue is cleared.
type DispatchQueue struct {
	mu sync.Mutex

	tiers     [numPriorities][]WorkItem
	processed [numPriorities]int64
	enqueued  int64
}

// NewDispatchQueue creates an empty DispatchQueue.
func NewDispatchQueue() *DispatchQueue {
	return &DispatchQueue{}
}

// Enqueue adds run to the tier for p. It never blocks and always succeeds.
func (q *DispatchQueue) Enqueue(run func(), p Priority, label string) {
	item := WorkItem{
		Run:        run,
		Priority:   p,
		Label:      label,
		EnqueuedAt: time.Now(),
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.tiers[p.rank()] = append(q.tiers[p.rank()], item)
	q.enqueued++
}

// Dequeue removes and returns the highest-priority oldest-enqueued item across
// all tiers. The second return value is false when every tier is empty.
func (q *DispatchQueue) Dequeue() (WorkItem, bool) {
	return q.dequeueThroughRank(numPriorities - 1)
}

// TryDequeueAtOrAbove dequeues only if an item exists at max or a more urgent
// tier; otherwise it returns false without side effects. The executor uses it
// to service urgent work in a tight loop before falling back to the general
// drain.
func (q *DispatchQueue) TryDequeueAtOrAbove(max Priority) (WorkItem, bool) {
	return q.dequeueThroughRank(max.rank())
}

func (q *DispatchQueue) dequeueThroughRank(maxRank int) (WorkItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for r := 0; r <= maxRank; r++ {
		if len(q.tiers[r]) == 0 {
			continue
		}
		item := q.tiers[r][0]
		q.tiers[r] = q.tiers[r][1:]
		q.processed[r]++
		return item, true
	}
	return WorkItem{}, false
}

// HasHighPriorityPending reports whether any high-tier item is waiting.
func (q *DispatchQueue) HasHighPriorityPending() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tiers[PriorityHigh.rank()]) > 0
}

// Len returns the total number of pending items across all tiers.
func (q *DispatchQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for r := range q.tiers {
		n += len(q.tiers[r])
	}
	return n
}

// Clear discards all pending items without running them. It is intended for
// shutdown and reset paths only.
func (q *DispatchQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for r := range q.tiers {
		q.tiers[r] = nil
	}
}

// Stats returns a snapshot of pending and processed counts.
func (q *DispatchQueue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	var s QueueStats
	for r := range q.tiers {
		s.Pending[r] = len(q.tiers[r])
	}
	s.Processed = q.processed
	s.TotalEnqueued = q.enqueued
	return s
}
