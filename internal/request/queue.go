// Package request serialises path searches: requests are started in FIFO
// order and exactly one search is in flight at a time. The in-flight search
// advances a slice at a time from Tick, so a long search never stalls the
// caller's frame.
package request

import (
	"context"
	"io"
	"log"
	"sync"
	"time"

	"gridweaver/internal/core"
	"gridweaver/internal/pathfinding"
)

// DefaultStepsPerTick is the expansion budget of one Tick.
const DefaultStepsPerTick = 256

// Callback receives the outcome of a request.
type Callback = func(waypoints []core.Vector3D, ok bool)

// Request is an enqueued path request. It is immutable once queued.
type Request struct {
	Seq       uint64
	Start     core.Vector3D
	End       core.Vector3D
	Callback  Callback
	Requester core.AgentID
	Target    core.AgentID
	Enqueued  time.Time
}

// Listener observes the request lifecycle. Hooks run outside the queue lock.
type Listener interface {
	OnStart(req Request)
	OnComplete(req Request, result pathfinding.Result)
}

// Options configures a Queue.
type Options struct {
	// StepsPerTick is the node expansion budget of one search slice.
	StepsPerTick int
	// TimeBudget lets a Tick keep slicing, and start queued requests, until
	// it is spent. Zero runs one slice per Tick.
	TimeBudget time.Duration
	Logger     *log.Logger
}

// Stats are lifetime counters of a Queue.
type Stats struct {
	Requested  uint64        `json:"requested"`
	Completed  uint64        `json:"completed"`
	Succeeded  uint64        `json:"succeeded"`
	Failed     uint64        `json:"failed"`
	Pending    int           `json:"pending"`
	MaxPending int           `json:"max_pending"`
	Busy       bool          `json:"busy"`
	LastSearch time.Duration `json:"last_search"`
}

// Queue runs path searches one at a time in request order. Each Tick
// advances the current search by a bounded number of steps, so a long
// search spreads over several ticks.
type Queue struct {
	finder       *pathfinding.Finder
	stepsPerTick int
	timeBudget   time.Duration
	logger       *log.Logger

	tickMu sync.Mutex

	mu        sync.Mutex
	pending   []Request
	current   *Request
	search    *pathfinding.Search
	seq       uint64
	stats     Stats
	listeners []Listener
}

// NewQueue returns an empty queue searching with finder. Unset options fall
// back to their defaults.
func NewQueue(finder *pathfinding.Finder, opts Options) *Queue {
	if opts.StepsPerTick <= 0 {
		opts.StepsPerTick = DefaultStepsPerTick
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	return &Queue{
		finder:       finder,
		stepsPerTick: opts.StepsPerTick,
		timeBudget:   opts.TimeBudget,
		logger:       opts.Logger,
	}
}

// AddListener registers l for lifecycle hooks.
func (q *Queue) AddListener(l Listener) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.listeners = append(q.listeners, l)
}

// SetStepsPerTick changes the slice budget for subsequent ticks.
func (q *Queue) SetStepsPerTick(steps int) {
	if steps <= 0 {
		steps = DefaultStepsPerTick
	}
	q.tickMu.Lock()
	q.stepsPerTick = steps
	q.tickMu.Unlock()
}

// RequestPath enqueues a request and starts it when nothing is in flight.
// The callback fires from a later Tick. It is safe to call from any
// goroutine and from inside a callback.
func (q *Queue) RequestPath(start, end core.Vector3D, callback Callback, requester, target core.AgentID) uint64 {
	q.mu.Lock()
	q.seq++
	req := Request{
		Seq:       q.seq,
		Start:     start,
		End:       end,
		Callback:  callback,
		Requester: requester,
		Target:    target,
		Enqueued:  time.Now(),
	}
	q.pending = append(q.pending, req)
	q.stats.Requested++
	if len(q.pending) > q.stats.MaxPending {
		q.stats.MaxPending = len(q.pending)
	}
	started, listeners := q.startNextLocked()
	q.mu.Unlock()

	notifyStart(listeners, started)
	return req.Seq
}

// Tick advances the in-flight search and delivers any result. It returns
// the number of requests completed.
func (q *Queue) Tick() int {
	q.tickMu.Lock()
	defer q.tickMu.Unlock()

	var deadline time.Time
	if q.timeBudget > 0 {
		deadline = time.Now().Add(q.timeBudget)
	}

	completed := 0
	for {
		q.mu.Lock()
		req, search := q.current, q.search
		q.mu.Unlock()
		if req == nil {
			return completed
		}

		if search.Step(q.stepsPerTick) {
			q.complete(*req, search.Result())
			completed++
		}

		if deadline.IsZero() || time.Now().After(deadline) {
			return completed
		}
	}
}

// Run ticks the queue every interval until ctx is cancelled.
func (q *Queue) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			q.Tick()
		}
	}
}

// Pending is the number of requests waiting behind the in-flight one.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Busy reports whether a search is in flight.
func (q *Queue) Busy() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.current != nil
}

// Stats returns a copy of the counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	stats := q.stats
	stats.Pending = len(q.pending)
	stats.Busy = q.current != nil
	return stats
}

func (q *Queue) complete(req Request, result pathfinding.Result) {
	q.mu.Lock()
	q.current = nil
	q.search = nil
	q.stats.Completed++
	if result.OK {
		q.stats.Succeeded++
	} else {
		q.stats.Failed++
	}
	q.stats.LastSearch = result.Elapsed
	listeners := append([]Listener(nil), q.listeners...)
	q.mu.Unlock()

	q.logger.Printf("request #%d (agent %d) ok=%v waypoints=%d expanded=%d in %s, queued %s",
		req.Seq, req.Requester, result.OK, len(result.Waypoints), result.Expanded, result.Elapsed, time.Since(req.Enqueued))

	if req.Callback != nil {
		req.Callback(result.Waypoints, result.OK)
	}
	for _, l := range listeners {
		l.OnComplete(req, result)
	}

	q.mu.Lock()
	started, listeners := q.startNextLocked()
	q.mu.Unlock()
	notifyStart(listeners, started)
}

// startNextLocked starts the queue head when idle. q.mu must be held.
func (q *Queue) startNextLocked() (*Request, []Listener) {
	if q.current != nil || len(q.pending) == 0 {
		return nil, nil
	}

	req := q.pending[0]
	q.pending[0] = Request{}
	q.pending = q.pending[1:]

	q.current = &req
	q.search = q.finder.NewSearch(req.Start, req.End, req.Requester, req.Target)
	return &req, append([]Listener(nil), q.listeners...)
}

func notifyStart(listeners []Listener, req *Request) {
	if req == nil {
		return
	}
	for _, l := range listeners {
		l.OnStart(*req)
	}
}
