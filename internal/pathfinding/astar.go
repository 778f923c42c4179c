package pathfinding

import (
	"io"
	"log"
	"math"
	"sync/atomic"
	"time"

	"gridweaver/internal/core"
	"gridweaver/internal/grid"
)

// Options configures a Finder.
type Options struct {
	Algorithm Algorithm
	Metric    Metric
	// MaxNodes caps the expansions of one search; zero means unlimited.
	MaxNodes int
	Logger   *log.Logger
}

// Finder searches a grid with one algorithm and metric. Searches share the
// scratch fields of the grid's nodes, so only one may be stepped at a time.
type Finder struct {
	grid      *grid.Grid
	algorithm Algorithm
	metric    Metric
	maxNodes  int
	logger    *log.Logger
	stamp     atomic.Uint64
}

// NewFinder creates a finder over g. Nil options fields fall back to A* with
// the octile metric.
func NewFinder(g *grid.Grid, opts Options) *Finder {
	if opts.Algorithm == nil {
		opts.Algorithm = AStar{}
	}
	if opts.Metric == nil {
		opts.Metric = Octile{}
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	return &Finder{
		grid:      g,
		algorithm: opts.Algorithm,
		metric:    opts.Metric,
		maxNodes:  opts.MaxNodes,
		logger:    opts.Logger,
	}
}

func (f *Finder) Grid() *grid.Grid { return f.grid }
func (f *Finder) Algorithm() Algorithm { return f.algorithm }
func (f *Finder) Metric() Metric { return f.metric }

// FindPath runs a search to completion.
func (f *Finder) FindPath(start, target core.Vector3D, agentID core.AgentID) ([]core.Vector3D, bool) {
	s := f.NewSearch(start, target, agentID, core.InvalidAgentID)
	for !s.Step(math.MaxInt) {
	}
	result := s.Result()
	return result.Waypoints, result.OK
}

// Result describes a finished search.
type Result struct {
	Waypoints []core.Vector3D
	OK        bool
	Expanded  int
	Steps     int
	Elapsed   time.Duration
	Algorithm string
}

// Search is a resumable search. Step advances it; nothing is cached between
// steps, so walkability is re-read on every expansion.
type Search struct {
	finder *Finder
	grid   *grid.Grid

	start, target *grid.Node
	agent         core.AgentID
	targetAgent   core.AgentID

	open  *Heap[*grid.Node]
	stamp uint64

	done     bool
	result   Result
	began    time.Time
	expanded int
	steps    int
}

// NewSearch prepares a search from start to target for agentID. Cells
// claimed by targetAgent are passable too, so an agent can path onto the
// agent it is chasing. The search fails immediately when start and target
// share a cell, the target is blocked, or the start is not walkable by the
// agent.
func (f *Finder) NewSearch(start, target core.Vector3D, agentID, targetAgent core.AgentID) *Search {
	s := &Search{
		finder:      f,
		grid:        f.grid,
		start:       f.grid.NodeFromWorldPoint(start),
		target:      f.grid.NodeFromWorldPoint(target),
		agent:       agentID,
		targetAgent: targetAgent,
		stamp:       f.stamp.Add(1),
		began:       time.Now(),
	}

	if s.start == s.target || !s.grid.IsWalkable(s.target) || !s.grid.IsWalkableByObject(s.start, agentID) {
		s.finish(false)
		return s
	}

	capacity := f.grid.MaxSize()
	if capacity > 1024 {
		capacity = 1024
	}
	s.open = NewHeap[*grid.Node](capacity)

	s.touch(s.start)
	s.start.G = 0
	s.start.H = s.Cost(s.start, s.target)
	s.start.Parent = s.start
	s.open.Add(s.start)
	return s
}

// Step expands up to budget nodes and reports whether the search finished.
func (s *Search) Step(budget int) bool {
	if s.done {
		return true
	}
	if budget < 1 {
		budget = 1
	}
	s.steps++

	algorithm := s.finder.algorithm
	for i := 0; i < budget; i++ {
		if s.open.Count() == 0 {
			s.finish(false)
			return true
		}
		if s.finder.maxNodes > 0 && s.expanded >= s.finder.maxNodes {
			s.finder.logger.Printf("search aborted after %d expansions", s.expanded)
			s.finish(false)
			return true
		}

		current := s.open.RemoveFirst()
		if !algorithm.Expand(s, current) {
			continue
		}
		current.Closed = true
		s.expanded++

		if current == s.target {
			s.finish(true)
			return true
		}

		for _, neighbor := range s.grid.Neighbors(current) {
			s.touch(neighbor)
			if neighbor.Closed || !s.Passable(neighbor) {
				continue
			}

			from := algorithm.Parent(s, current, neighbor)
			if from == nil {
				continue
			}

			cost := from.G + s.Cost(from, neighbor)
			inOpen := s.open.Contains(neighbor)
			if cost < neighbor.G || !inOpen {
				neighbor.G = cost
				neighbor.H = s.Cost(neighbor, s.target)
				neighbor.Parent = from
				if inOpen {
					s.open.UpdateItem(neighbor)
				} else {
					s.open.Add(neighbor)
				}
			}
		}
	}
	return false
}

// Done reports whether the search finished.
func (s *Search) Done() bool {
	return s.done
}

// Result returns the outcome; it is only meaningful once Done.
func (s *Search) Result() Result {
	return s.result
}

// Passable reports whether the searching agent may enter node.
func (s *Search) Passable(node *grid.Node) bool {
	if s.grid.IsWalkableByObject(node, s.agent) {
		return true
	}
	return s.targetAgent.Valid() && s.grid.IsWalkable(node) && s.grid.IsOccupiedBy(node, s.targetAgent)
}

// LineOfSight tests a straight line with the search's passability rule.
func (s *Search) LineOfSight(a, b *grid.Node) bool {
	return lineOfSight(a, b, func(col, row int) bool {
		node := s.grid.Node(col, row)
		return node != nil && s.Passable(node)
	})
}

// Cost applies the search metric between two nodes.
func (s *Search) Cost(a, b *grid.Node) int {
	return Distance(s.finder.metric, a, b)
}

// Closed reports whether node was finalised by this search.
func (s *Search) Closed(node *grid.Node) bool {
	return node.Stamp == s.stamp && node.Closed
}

// Neighbors returns the grid neighbours of node.
func (s *Search) Neighbors(node *grid.Node) []*grid.Node {
	return s.grid.Neighbors(node)
}

// touch resets scratch left over from an earlier search.
func (s *Search) touch(node *grid.Node) {
	if node.Stamp != s.stamp {
		node.Reset(s.stamp)
	}
}

func (s *Search) finish(ok bool) {
	s.done = true
	s.result = Result{
		OK:        ok,
		Expanded:  s.expanded,
		Steps:     s.steps,
		Algorithm: s.finder.algorithm.String(),
		Waypoints: []core.Vector3D{},
	}
	if ok {
		s.result.Waypoints = retrace(s.start, s.target, s.finder.algorithm.Simplify(), s.grid.MaxSize())
	}
	if s.open != nil {
		s.open.Clear()
	}
	s.result.Elapsed = time.Since(s.began)
	s.finder.logger.Printf("%s search ok=%v expanded=%d steps=%d waypoints=%d in %s",
		s.result.Algorithm, ok, s.expanded, s.steps, len(s.result.Waypoints), s.result.Elapsed)
}
