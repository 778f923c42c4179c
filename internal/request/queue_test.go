package request

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gridweaver/internal/core"
	"gridweaver/internal/grid"
	"gridweaver/internal/pathfinding"
)

func TestQueueSerializesRequests(t *testing.T) {
	g := newOpenGrid(t, 20)
	q := NewQueue(pathfinding.NewFinder(g, pathfinding.Options{}), Options{StepsPerTick: 4})
	watch := &activeWatch{}
	q.AddListener(watch)

	var order []uint64
	var seqs []uint64
	for i := 0; i < 3; i++ {
		i := i
		seq := q.RequestPath(cellCenter(g, 0, i), cellCenter(g, 19, 19-i), func(waypoints []core.Vector3D, ok bool) {
			if !ok {
				t.Errorf("request %d failed", i)
			}
			order = append(order, uint64(i+1))
		}, core.AgentID(i+1), core.InvalidAgentID)
		seqs = append(seqs, seq)
	}

	if !q.Busy() {
		t.Fatalf("Expected the first request to start immediately")
	}
	if got := q.Pending(); got != 2 {
		t.Fatalf("Expected 2 pending requests, got %d", got)
	}

	tickUntilIdle(t, q)

	if watch.maxActive != 1 {
		t.Fatalf("Expected at most one search in flight, saw %d", watch.maxActive)
	}
	for i, seq := range seqs {
		if seq != uint64(i+1) {
			t.Fatalf("Expected sequence numbers 1..3, got %v", seqs)
		}
	}
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("Expected callbacks in FIFO order, got %v", order)
	}
	if len(watch.started) != 3 || watch.started[0] != 1 || watch.started[2] != 3 {
		t.Fatalf("Expected searches to start in FIFO order, got %v", watch.started)
	}

	stats := q.Stats()
	if stats.Requested != 3 || stats.Completed != 3 || stats.Succeeded != 3 {
		t.Fatalf("Unexpected stats %+v", stats)
	}
	if stats.Busy || stats.Pending != 0 {
		t.Fatalf("Expected an idle queue, got %+v", stats)
	}
}

func TestLongSearchSpansTicks(t *testing.T) {
	g := newOpenGrid(t, 40)
	q := NewQueue(pathfinding.NewFinder(g, pathfinding.Options{}), Options{StepsPerTick: 1})

	done := false
	q.RequestPath(cellCenter(g, 0, 0), cellCenter(g, 39, 39), func([]core.Vector3D, bool) {
		done = true
	}, core.InvalidAgentID, core.InvalidAgentID)

	if completed := q.Tick(); completed != 0 || done {
		t.Fatalf("Expected a single expansion not to finish the search")
	}
	ticks := tickUntilIdle(t, q)
	if !done {
		t.Fatalf("Expected the callback after %d ticks", ticks)
	}
	if ticks < 39 {
		t.Fatalf("Expected the search to take at least 39 ticks, took %d", ticks)
	}
}

func TestFailedRequestIsDeliveredOnTick(t *testing.T) {
	g := newOpenGrid(t, 10)
	q := NewQueue(pathfinding.NewFinder(g, pathfinding.Options{}), Options{})

	called := false
	q.RequestPath(cellCenter(g, 3, 3), cellCenter(g, 3, 3), func(waypoints []core.Vector3D, ok bool) {
		called = true
		if ok || len(waypoints) != 0 {
			t.Errorf("Expected an empty failure, got ok=%v %v", ok, waypoints)
		}
	}, core.InvalidAgentID, core.InvalidAgentID)

	if called {
		t.Fatalf("Expected the callback to wait for a tick")
	}
	if completed := q.Tick(); completed != 1 || !called {
		t.Fatalf("Expected the failure on the first tick")
	}
	if q.Stats().Failed != 1 {
		t.Fatalf("Expected one failed request, got %+v", q.Stats())
	}
}

func TestCallbackMayEnqueue(t *testing.T) {
	g := newOpenGrid(t, 10)
	q := NewQueue(pathfinding.NewFinder(g, pathfinding.Options{}), Options{})

	var results []bool
	q.RequestPath(cellCenter(g, 0, 0), cellCenter(g, 9, 9), func(_ []core.Vector3D, ok bool) {
		results = append(results, ok)
		if q.Pending() != 0 {
			t.Errorf("Expected an empty queue inside the callback")
		}
		q.RequestPath(cellCenter(g, 9, 9), cellCenter(g, 0, 5), func(_ []core.Vector3D, ok bool) {
			results = append(results, ok)
		}, core.InvalidAgentID, core.InvalidAgentID)
	}, core.InvalidAgentID, core.InvalidAgentID)

	tickUntilIdle(t, q)
	if len(results) != 2 || !results[0] || !results[1] {
		t.Fatalf("Expected two successful results, got %v", results)
	}
}

func TestTimeBudgetDrainsQueue(t *testing.T) {
	g := newOpenGrid(t, 10)
	q := NewQueue(pathfinding.NewFinder(g, pathfinding.Options{}), Options{TimeBudget: time.Second})

	calls := 0
	for i := 0; i < 3; i++ {
		q.RequestPath(cellCenter(g, 0, 0), cellCenter(g, 9, i), func([]core.Vector3D, bool) { calls++ },
			core.InvalidAgentID, core.InvalidAgentID)
	}
	if completed := q.Tick(); completed != 3 || calls != 3 {
		t.Fatalf("Expected one tick to drain the queue, completed %d", completed)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	g := newOpenGrid(t, 10)
	q := NewQueue(pathfinding.NewFinder(g, pathfinding.Options{}), Options{})

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() { errs <- q.Run(ctx, time.Millisecond) }()

	found := make(chan bool, 1)
	q.RequestPath(cellCenter(g, 0, 0), cellCenter(g, 9, 9), func(_ []core.Vector3D, ok bool) {
		found <- ok
	}, core.InvalidAgentID, core.InvalidAgentID)

	select {
	case ok := <-found:
		if !ok {
			t.Fatalf("Expected the path to be found")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Timed out waiting for the callback")
	}

	cancel()
	if err := <-errs; !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
}

type activeWatch struct {
	mu        sync.Mutex
	active    int
	maxActive int
	started   []uint64
}

func (w *activeWatch) OnStart(req Request) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.active++
	w.maxActive = max(w.maxActive, w.active)
	w.started = append(w.started, req.Seq)
}

func (w *activeWatch) OnComplete(Request, pathfinding.Result) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.active--
}

func tickUntilIdle(t *testing.T, q *Queue) int {
	t.Helper()
	for ticks := 1; ticks <= 10000; ticks++ {
		q.Tick()
		if !q.Busy() {
			return ticks
		}
	}
	t.Fatalf("Queue did not drain")
	return 0
}

func newOpenGrid(t *testing.T, size int) *grid.Grid {
	t.Helper()
	g, err := grid.New(grid.Config{
		WorldSize:   core.Vector2D{X: float64(size), Y: float64(size)},
		NodeRadius:  0.5,
		StaticMask:  1,
		Obstruction: openGround{},
	})
	if err != nil {
		t.Fatalf("grid.New: %v", err)
	}
	return g
}

type openGround struct{}

func (openGround) CheckSphere(core.Vector3D, float64, core.LayerMask) bool { return false }
func (openGround) RaycastDown(core.Vector3D, core.LayerMask) bool { return true }

func cellCenter(g *grid.Grid, col, row int) core.Vector3D {
	return g.Node(col, row).WorldPosition
}
