// Package scheduler dispatches OCR and translation work across a fixed-size
// worker pool. Each worker owns a local priority queue; an idle worker with an
// empty queue steals the lowest-ranked item from another worker's queue, so
// the victim's best work stays untouched and contention stays low.
//
// Ordering within a queue is (priority descending, insertion order ascending):
// equal-priority items run FIFO. Intake is bounded — when the shared intake
// queue is full, Submit drops the item instead of blocking, keeping
// end-to-end latency bounded under load.
package scheduler

import (
	"context"
	"time"

	"github.com/lenslate/lenslate/pkg/types"
)

// WorkItem is one unit of OCR or translation work. The scheduler owns the
// item until a worker claims it and invokes Run.
type WorkItem struct {
	// ID identifies the item in logs.
	ID string

	// Priority ranks the item; higher runs first.
	Priority types.Priority

	// Deadline is a scheduling hint; items past their deadline still run.
	// Zero means no deadline.
	Deadline time.Time

	// Run executes the work. It must respect ctx cancellation.
	Run func(ctx context.Context)
}

// queued wraps a WorkItem with scheduling metadata. The seq field provides
// FIFO ordering within the same priority level.
type queued struct {
	item WorkItem
	seq  uint64 // monotonic insertion order for FIFO tie-breaking
}

// before reports whether a should be dequeued before b. Higher priority wins;
// equal priority falls back to insertion order.
func (a queued) before(b queued) bool {
	if a.item.Priority != b.item.Priority {
		return a.item.Priority > b.item.Priority
	}
	return a.seq < b.seq
}

// workHeap implements container/heap.Interface as a max-heap ordered by
// (priority descending, seq ascending).
type workHeap []queued

func (h workHeap) Len() int           { return len(h) }
func (h workHeap) Less(i, j int) bool { return h[i].before(h[j]) }
func (h workHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

// Push appends x to the heap. Called by [container/heap.Push]; callers must
// not invoke this directly.
func (h *workHeap) Push(x any) {
	*h = append(*h, x.(queued))
}

// Pop removes and returns the last element. Called by [container/heap.Pop];
// callers must not invoke this directly.
func (h *workHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// worst returns the index of the lowest-ranked element — the one a thief
// should steal. Linear scan; local queues stay small.
func (h workHeap) worst() int {
	worst := 0
	for i := 1; i < len(h); i++ {
		if h[worst].before(h[i]) {
			worst = i
		}
	}
	return worst
}
