package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lenslate/lenslate/internal/observe"
)

// DefaultIntakeDepth bounds the shared intake queue when the config leaves it
// zero. Past this depth new submissions are dropped, not blocked.
const DefaultIntakeDepth = 64

// localQueue is one worker's priority queue. Each queue has its own lock so
// owners and thieves only contend pairwise.
type localQueue struct {
	mu    sync.Mutex
	items workHeap
}

// popBest removes and returns the best-ranked item, or false when empty.
func (q *localQueue) popBest() (WorkItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return WorkItem{}, false
	}
	return heap.Pop(&q.items).(queued).item, true
}

// stealWorst removes and returns the worst-ranked item, or false when empty.
// Thieves take from the tail of the priority order so the owner keeps its
// most urgent work.
func (q *localQueue) stealWorst() (WorkItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return WorkItem{}, false
	}
	return heap.Remove(&q.items, q.items.worst()).(queued).item, true
}

// push inserts an item with the given sequence number.
func (q *localQueue) push(item WorkItem, seq uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	heap.Push(&q.items, queued{item: item, seq: seq})
}

// len returns the current queue length.
func (q *localQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// PoolConfig holds tuning knobs for a [Pool].
type PoolConfig struct {
	// Workers is the number of worker goroutines. Default: GOMAXPROCS.
	Workers int

	// IntakeDepth bounds the shared intake queue. When full, Submit drops.
	// Default: [DefaultIntakeDepth].
	IntakeDepth int

	// Logger defaults to slog.Default when nil.
	Logger *slog.Logger

	// Metrics, when set, reports queue depth and steals. Optional.
	Metrics *observe.Metrics
}

// PoolStats is a point-in-time snapshot of pool counters.
type PoolStats struct {
	// Submitted counts accepted work items.
	Submitted uint64

	// Dropped counts items rejected by intake backpressure.
	Dropped uint64

	// Steals counts successful work-steal operations.
	Steals uint64

	// Pending is the number of items queued but not yet claimed.
	Pending int
}

// Pool is the work-stealing worker pool. Create with [NewPool], start with
// [Pool.Start], submit with [Pool.Submit], and stop by cancelling the start
// context then calling [Pool.Wait].
//
// All exported methods are safe for concurrent use.
type Pool struct {
	workers int
	logger  *slog.Logger
	metrics *observe.Metrics

	intake chan WorkItem
	queues []*localQueue
	notify chan struct{} // signalled when work lands in a local queue

	seq       atomic.Uint64
	nextQueue atomic.Uint64

	submitted atomic.Uint64
	dropped   atomic.Uint64
	steals    atomic.Uint64

	group *errgroup.Group
}

// NewPool creates a Pool with the supplied configuration. Zero-value config
// fields are replaced with defaults.
func NewPool(cfg PoolConfig) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.IntakeDepth <= 0 {
		cfg.IntakeDepth = DefaultIntakeDepth
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	queues := make([]*localQueue, cfg.Workers)
	for i := range queues {
		queues[i] = &localQueue{}
	}
	return &Pool{
		workers: cfg.Workers,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		intake:  make(chan WorkItem, cfg.IntakeDepth),
		queues:  queues,
		notify:  make(chan struct{}, 1),
	}
}

// Start launches the dispatcher and worker goroutines. They run until ctx is
// cancelled; call [Pool.Wait] afterwards to join them.
func (p *Pool) Start(ctx context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	p.group = g

	g.Go(func() error {
		p.dispatch(ctx)
		return nil
	})
	for i := 0; i < p.workers; i++ {
		g.Go(func() error {
			p.workerLoop(ctx, i)
			return nil
		})
	}
	p.logger.Info("scheduler started", "workers", p.workers, "intake_depth", cap(p.intake))
}

// Wait blocks until all pool goroutines have exited. In-flight Run calls
// finish; queued items are abandoned.
func (p *Pool) Wait() error {
	if p.group == nil {
		return fmt.Errorf("scheduler: pool was never started")
	}
	return p.group.Wait()
}

// Submit offers item to the pool. It returns false — dropping the item — when
// the intake queue is full, so capture never blocks on a saturated pipeline.
func (p *Pool) Submit(item WorkItem) bool {
	select {
	case p.intake <- item:
		p.submitted.Add(1)
		if p.metrics != nil {
			p.metrics.QueueDepth.Add(context.Background(), 1)
		}
		return true
	default:
		p.dropped.Add(1)
		p.logger.Warn("scheduler intake full, dropping work item",
			"item_id", item.ID, "priority", item.Priority.String())
		return false
	}
}

// Stats returns a snapshot of pool counters.
func (p *Pool) Stats() PoolStats {
	pending := len(p.intake)
	for _, q := range p.queues {
		pending += q.len()
	}
	return PoolStats{
		Submitted: p.submitted.Load(),
		Dropped:   p.dropped.Load(),
		Steals:    p.steals.Load(),
		Pending:   pending,
	}
}

// dispatch moves items from the shared intake queue onto per-worker local
// queues round-robin.
func (p *Pool) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-p.intake:
			w := int(p.nextQueue.Add(1)-1) % p.workers
			p.queues[w].push(item, p.seq.Add(1))
			p.wake()
		}
	}
}

// wake signals one idle worker that work is available.
func (p *Pool) wake() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// workerLoop is the body of worker id. It drains its own queue first, then
// steals, then blocks until woken. The cancellation token is checked at each
// iteration.
func (p *Pool) workerLoop(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if item, ok := p.claim(id); ok {
			p.run(ctx, item)
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-p.notify:
		}
	}
}

// claim obtains the next item for worker id: its own best item when the local
// queue is non-empty, otherwise a steal from another worker's tail. Stealing
// only happens when the worker's own queue is empty.
func (p *Pool) claim(id int) (WorkItem, bool) {
	if item, ok := p.queues[id].popBest(); ok {
		return item, true
	}
	for off := 1; off < p.workers; off++ {
		victim := (id + off) % p.workers
		if item, ok := p.queues[victim].stealWorst(); ok {
			p.steals.Add(1)
			if p.metrics != nil {
				p.metrics.WorkSteals.Add(context.Background(), 1)
			}
			return item, true
		}
	}
	return WorkItem{}, false
}

// run executes one item, logging late starts against the deadline hint.
func (p *Pool) run(ctx context.Context, item WorkItem) {
	if !item.Deadline.IsZero() && time.Now().After(item.Deadline) {
		p.logger.Debug("work item started past deadline",
			"item_id", item.ID, "late_by", time.Since(item.Deadline))
	}
	item.Run(ctx)
	if p.metrics != nil {
		p.metrics.QueueDepth.Add(ctx, -1)
	}
}
