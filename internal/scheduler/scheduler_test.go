package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/lenslate/lenslate/internal/observe"
	"github.com/lenslate/lenslate/pkg/types"
)

func item(id string, pri types.Priority) WorkItem {
	return WorkItem{ID: id, Priority: pri, Run: func(context.Context) {}}
}

func TestLocalQueue_PriorityBeforeEarlierLowPriority(t *testing.T) {
	q := &localQueue{}
	q.push(item("low", types.PriorityBackground), 1)
	q.push(item("high", types.PriorityVisible), 2)

	got, ok := q.popBest()
	if !ok || got.ID != "high" {
		t.Fatalf("popBest = %q, want high", got.ID)
	}
	got, _ = q.popBest()
	if got.ID != "low" {
		t.Errorf("popBest = %q, want low", got.ID)
	}
}

func TestLocalQueue_FIFOAmongEqualPriorities(t *testing.T) {
	q := &localQueue{}
	for i := 0; i < 5; i++ {
		q.push(item(fmt.Sprintf("i%d", i), types.PriorityNormal), uint64(i))
	}
	for i := 0; i < 5; i++ {
		got, ok := q.popBest()
		want := fmt.Sprintf("i%d", i)
		if !ok || got.ID != want {
			t.Fatalf("popBest #%d = %q, want %q", i, got.ID, want)
		}
	}
}

func TestLocalQueue_StealTakesWorst(t *testing.T) {
	q := &localQueue{}
	q.push(item("visible", types.PriorityVisible), 1)
	q.push(item("background", types.PriorityBackground), 2)
	q.push(item("normal", types.PriorityNormal), 3)

	got, ok := q.stealWorst()
	if !ok || got.ID != "background" {
		t.Fatalf("stealWorst = %q, want background", got.ID)
	}
	// Owner still gets its best work.
	got, _ = q.popBest()
	if got.ID != "visible" {
		t.Errorf("popBest = %q, want visible", got.ID)
	}
}

func TestLocalQueue_StealWorstFIFOAmongEqual(t *testing.T) {
	q := &localQueue{}
	q.push(item("first", types.PriorityNormal), 1)
	q.push(item("second", types.PriorityNormal), 2)

	// Among equal priorities the later insertion is the worst.
	got, _ := q.stealWorst()
	if got.ID != "second" {
		t.Errorf("stealWorst = %q, want second", got.ID)
	}
}

func TestPool_ClaimPrefersOwnQueue(t *testing.T) {
	p := NewPool(PoolConfig{Workers: 2})
	p.queues[0].push(item("own", types.PriorityBackground), 1)
	p.queues[1].push(item("other", types.PriorityVisible), 2)

	got, ok := p.claim(0)
	if !ok || got.ID != "own" {
		t.Fatalf("claim = %q, want own even though other queue has higher priority", got.ID)
	}
	if p.steals.Load() != 0 {
		t.Errorf("steals = %d, want 0", p.steals.Load())
	}
}

func TestPool_ClaimStealsOnlyWhenOwnQueueEmpty(t *testing.T) {
	p := NewPool(PoolConfig{Workers: 2})
	p.queues[1].push(item("other", types.PriorityNormal), 1)

	got, ok := p.claim(0)
	if !ok || got.ID != "other" {
		t.Fatalf("claim = %q, want other via steal", got.ID)
	}
	if p.steals.Load() != 1 {
		t.Errorf("steals = %d, want 1", p.steals.Load())
	}
}

func TestPool_SubmitDropsWhenIntakeFull(t *testing.T) {
	// Never started, so nothing drains the intake.
	p := NewPool(PoolConfig{Workers: 1, IntakeDepth: 2})

	if !p.Submit(item("a", types.PriorityNormal)) || !p.Submit(item("b", types.PriorityNormal)) {
		t.Fatal("first two submissions should be accepted")
	}
	if p.Submit(item("c", types.PriorityNormal)) {
		t.Fatal("third submission should be dropped, not blocked")
	}

	stats := p.Stats()
	if stats.Submitted != 2 || stats.Dropped != 1 {
		t.Errorf("stats = %+v, want Submitted=2 Dropped=1", stats)
	}
}

// metricValue extracts the single int64 sum value of the named metric, or 0.
func metricValue(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != name {
				continue
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok || len(sum.DataPoints) == 0 {
				t.Fatalf("unexpected data for %q: %+v", name, met.Data)
			}
			return sum.DataPoints[0].Value
		}
	}
	return 0
}

func TestPool_StealsAndDepthAreReported(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	// Never started, so accepted submissions stay queued.
	p := NewPool(PoolConfig{Workers: 2, IntakeDepth: 2, Metrics: m})
	p.Submit(item("a", types.PriorityNormal))
	p.Submit(item("b", types.PriorityNormal))
	p.Submit(item("dropped", types.PriorityNormal))
	if got := metricValue(t, reader, "lenslate.scheduler.queue_depth"); got != 2 {
		t.Errorf("queue depth = %d, want 2 (drops do not count)", got)
	}

	// A cross-queue claim is a steal.
	p.queues[1].push(item("other", types.PriorityNormal), 1)
	if _, ok := p.claim(0); !ok {
		t.Fatal("claim should steal from the other queue")
	}
	if got := metricValue(t, reader, "lenslate.scheduler.steals"); got != 1 {
		t.Errorf("steals = %d, want 1", got)
	}
}

func TestPool_RunsAllSubmittedWork(t *testing.T) {
	p := NewPool(PoolConfig{Workers: 4, IntakeDepth: 64})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	const n = 50
	var ran atomic.Int64
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		ok := p.Submit(WorkItem{
			ID:       fmt.Sprintf("w%d", i),
			Priority: types.PriorityNormal,
			Run: func(context.Context) {
				ran.Add(1)
				wg.Done()
			},
		})
		if !ok {
			t.Fatalf("submit %d rejected", i)
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out; ran %d of %d", ran.Load(), n)
	}

	cancel()
	if err := p.Wait(); err != nil {
		t.Errorf("Wait: %v", err)
	}
}

func TestPool_CancelStopsWorkers(t *testing.T) {
	p := NewPool(PoolConfig{Workers: 2})
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	cancel()

	done := make(chan error, 1)
	go func() { done <- p.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Wait: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("workers did not exit after cancellation")
	}
}
