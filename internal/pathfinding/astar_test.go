package pathfinding

import (
	"math"
	"testing"

	"gridweaver/internal/core"
	"gridweaver/internal/grid"
)

var algorithms = []Algorithm{AStar{}, ThetaStar{}, LazyThetaStar{}}

func TestStraightOpenPath(t *testing.T) {
	for _, algorithm := range algorithms {
		t.Run(algorithm.String(), func(t *testing.T) {
			g := newTestGrid(t, 10)
			finder := NewFinder(g, Options{Algorithm: algorithm})

			path, ok := finder.FindPath(cellCenter(g, 0, 0), cellCenter(g, 9, 9), core.InvalidAgentID)
			if !ok {
				t.Fatalf("Failed to find path on an open grid")
			}
			if len(path) != 1 {
				t.Fatalf("Expected a single waypoint along the diagonal, got %v", cells(g, path))
			}
			if got := cellOf(g, path[0]); got != [2]int{9, 9} {
				t.Fatalf("Expected the goal as the only waypoint, got %v", got)
			}
		})
	}
}

func TestAStarKeepsDirectionChanges(t *testing.T) {
	g := newTestGrid(t, 10)
	finder := NewFinder(g, Options{Algorithm: AStar{}})

	path, ok := finder.FindPath(cellCenter(g, 0, 0), cellCenter(g, 9, 4), core.InvalidAgentID)
	if !ok {
		t.Fatalf("Failed to find path")
	}
	want := [][2]int{{4, 4}, {9, 4}}
	if got := cells(g, path); !equalCells(got, want) {
		t.Fatalf("Expected waypoints %v, got %v", want, got)
	}
}

func TestAnyAngleOpenPath(t *testing.T) {
	for _, algorithm := range []Algorithm{ThetaStar{}, LazyThetaStar{}} {
		t.Run(algorithm.String(), func(t *testing.T) {
			g := newTestGrid(t, 10)
			finder := NewFinder(g, Options{Algorithm: algorithm})

			path, ok := finder.FindPath(cellCenter(g, 0, 0), cellCenter(g, 9, 4), core.InvalidAgentID)
			if !ok {
				t.Fatalf("Failed to find path")
			}
			if got := cells(g, path); !equalCells(got, [][2]int{{9, 4}}) {
				t.Fatalf("Expected a direct any-angle path, got %v", got)
			}
		})
	}
}

func TestBlockedCorner(t *testing.T) {
	var lengths = make(map[string]int)
	for _, algorithm := range algorithms {
		t.Run(algorithm.String(), func(t *testing.T) {
			g := newTestGrid(t, 10, [2]int{5, 5})
			finder := NewFinder(g, Options{Algorithm: algorithm})

			start := cellCenter(g, 0, 0)
			path, ok := finder.FindPath(start, cellCenter(g, 9, 9), core.InvalidAgentID)
			if !ok {
				t.Fatalf("Failed to route around the blocked cell")
			}
			assertValidPath(t, g, algorithm, start, path, core.InvalidAgentID)
			for _, cell := range cells(g, path) {
				if cell == [2]int{5, 5} {
					t.Fatalf("Path visits the blocked cell: %v", cells(g, path))
				}
			}
			lengths[algorithm.String()] = len(path)
		})
	}

	if lengths["astar"] <= lengths["theta"] || lengths["astar"] <= lengths["lazy-theta"] {
		t.Fatalf("Expected A* to need more waypoints than the any-angle searches, got %v", lengths)
	}
}

func TestUnreachableGoal(t *testing.T) {
	ring := [][2]int{{6, 6}, {6, 7}, {6, 8}, {7, 6}, {8, 6}, {8, 7}, {8, 8}, {7, 8}}

	for _, algorithm := range algorithms {
		t.Run(algorithm.String(), func(t *testing.T) {
			// Goal itself blocked: fails without searching.
			g := newTestGrid(t, 10, [2]int{7, 7})
			finder := NewFinder(g, Options{Algorithm: algorithm})
			s := finder.NewSearch(cellCenter(g, 0, 0), cellCenter(g, 7, 7), core.InvalidAgentID, core.InvalidAgentID)
			if !s.Done() {
				t.Fatalf("Expected an unwalkable goal to end the search immediately")
			}
			if result := s.Result(); result.OK || len(result.Waypoints) != 0 || result.Expanded != 0 {
				t.Fatalf("Expected empty failure, got %+v", result)
			}

			// Goal walled in: the open set drains.
			g = newTestGrid(t, 10, ring...)
			finder = NewFinder(g, Options{Algorithm: algorithm})
			path, ok := finder.FindPath(cellCenter(g, 0, 0), cellCenter(g, 7, 7), core.InvalidAgentID)
			if ok || len(path) != 0 {
				t.Fatalf("Expected failure with no waypoints, got ok=%v path=%v", ok, cells(g, path))
			}
		})
	}
}

func TestEarlyExits(t *testing.T) {
	g := newTestGrid(t, 10)
	finder := NewFinder(g, Options{})

	if _, ok := finder.FindPath(cellCenter(g, 3, 3), cellCenter(g, 3, 3), core.InvalidAgentID); ok {
		t.Fatalf("Expected start == target to fail")
	}

	// Start claimed by someone else.
	g.RequestAreaUpdate(footprint(g, 0, 0, 2, 2), 7, false)
	if _, ok := finder.FindPath(cellCenter(g, 0, 0), cellCenter(g, 9, 9), 8); ok {
		t.Fatalf("Expected a start occupied by another agent to fail")
	}
	if _, ok := finder.FindPath(cellCenter(g, 0, 0), cellCenter(g, 9, 9), 7); !ok {
		t.Fatalf("Expected the occupant to path out of its own footprint")
	}
}

func TestDynamicReservation(t *testing.T) {
	const agentA, agentB core.AgentID = 1, 2

	for _, algorithm := range algorithms {
		t.Run(algorithm.String(), func(t *testing.T) {
			g := newTestGrid(t, 10)
			// A claims column 5, rows 0-8, leaving a gap at row 9.
			g.RequestAreaUpdate(footprint(g, 5, 0, 6, 9), agentA, false)
			finder := NewFinder(g, Options{Algorithm: algorithm})

			start, goal := cellCenter(g, 0, 0), cellCenter(g, 9, 0)

			pathA, ok := finder.FindPath(start, goal, agentA)
			if !ok {
				t.Fatalf("Expected A to path through its own footprint")
			}
			if got := cells(g, pathA); !equalCells(got, [][2]int{{9, 0}}) {
				t.Fatalf("Expected A to walk straight, got %v", got)
			}

			pathB, ok := finder.FindPath(start, goal, agentB)
			if !ok {
				t.Fatalf("Expected B to route through the gap")
			}
			assertValidPath(t, g, algorithm, start, pathB, agentB)
			if len(pathB) < 2 {
				t.Fatalf("Expected B to detour, got %v", cells(g, pathB))
			}
		})
	}
}

func TestTargetAgentCellsArePassable(t *testing.T) {
	const hunter, prey core.AgentID = 1, 2

	g := newTestGrid(t, 10)
	g.RequestAreaUpdate(footprint(g, 6, 6, 8, 8), prey, false)
	finder := NewFinder(g, Options{})

	if _, ok := finder.FindPath(cellCenter(g, 0, 0), cellCenter(g, 7, 7), hunter); ok {
		t.Fatalf("Expected the prey's footprint to block an ordinary search")
	}

	s := finder.NewSearch(cellCenter(g, 0, 0), cellCenter(g, 7, 7), hunter, prey)
	for !s.Step(16) {
	}
	if !s.Result().OK {
		t.Fatalf("Expected the hunter to reach a cell claimed by its target")
	}
}

func TestPathValidityOnCluttered(t *testing.T) {
	var blocked [][2]int
	for col := 0; col < 20; col++ {
		for row := 0; row < 20; row++ {
			if (col*7+row*13)%9 == 0 {
				blocked = append(blocked, [2]int{col, row})
			}
		}
	}

	pairs := [][2][2]int{
		{{1, 1}, {17, 18}},
		{{18, 2}, {2, 17}},
		{{0, 10}, {19, 10}},
		{{5, 0}, {14, 19}},
		{{10, 10}, {0, 19}},
	}

	for _, algorithm := range algorithms {
		t.Run(algorithm.String(), func(t *testing.T) {
			g := newTestGrid(t, 20, blocked...)
			finder := NewFinder(g, Options{Algorithm: algorithm})

			for _, pair := range pairs {
				start := cellCenter(g, pair[0][0], pair[0][1])
				goal := cellCenter(g, pair[1][0], pair[1][1])
				path, ok := finder.FindPath(start, goal, core.InvalidAgentID)
				if !ok {
					t.Fatalf("Failed to find path %v -> %v", pair[0], pair[1])
				}
				if got := cellOf(g, path[len(path)-1]); got != pair[1] {
					t.Fatalf("Path %v -> %v ends at %v", pair[0], pair[1], got)
				}
				assertValidPath(t, g, algorithm, start, path, core.InvalidAgentID)
			}
		})
	}
}

func TestSearchIsResumable(t *testing.T) {
	g := newTestGrid(t, 20, [2]int{10, 8}, [2]int{10, 9}, [2]int{10, 10}, [2]int{10, 11})
	finder := NewFinder(g, Options{Algorithm: ThetaStar{}})

	start, goal := cellCenter(g, 2, 10), cellCenter(g, 18, 10)
	want, ok := finder.FindPath(start, goal, core.InvalidAgentID)
	if !ok {
		t.Fatalf("Failed to find reference path")
	}

	s := finder.NewSearch(start, goal, core.InvalidAgentID, core.InvalidAgentID)
	steps := 0
	for !s.Step(1) {
		steps++
		if steps > g.MaxSize() {
			t.Fatalf("Search did not finish within %d steps", g.MaxSize())
		}
	}

	result := s.Result()
	if !result.OK {
		t.Fatalf("Stepped search failed")
	}
	if result.Steps != result.Expanded || result.Steps < 2 {
		t.Fatalf("Expected one expansion per unit step, got steps=%d expanded=%d", result.Steps, result.Expanded)
	}
	if !equalCells(cells(g, result.Waypoints), cells(g, want)) {
		t.Fatalf("Stepped search returned %v, want %v", cells(g, result.Waypoints), cells(g, want))
	}
	if !s.Step(1) {
		t.Fatalf("Expected Step on a finished search to report done")
	}
}

func TestMaxNodesBudget(t *testing.T) {
	g := newTestGrid(t, 20)
	finder := NewFinder(g, Options{MaxNodes: 5})

	if _, ok := finder.FindPath(cellCenter(g, 0, 0), cellCenter(g, 19, 0), core.InvalidAgentID); ok {
		t.Fatalf("Expected the node budget to abort a long search")
	}
	if _, ok := finder.FindPath(cellCenter(g, 0, 0), cellCenter(g, 3, 0), core.InvalidAgentID); !ok {
		t.Fatalf("Expected a short search to fit the node budget")
	}
}

func TestScratchDoesNotLeakBetweenSearches(t *testing.T) {
	g := newTestGrid(t, 10, [2]int{5, 5})
	finder := NewFinder(g, Options{Algorithm: LazyThetaStar{}})

	first, ok := finder.FindPath(cellCenter(g, 0, 0), cellCenter(g, 9, 9), core.InvalidAgentID)
	if !ok {
		t.Fatalf("first search failed")
	}
	// An unrelated search in between must not disturb a repeat of the first.
	if _, ok := finder.FindPath(cellCenter(g, 9, 0), cellCenter(g, 0, 9), core.InvalidAgentID); !ok {
		t.Fatalf("second search failed")
	}
	again, ok := finder.FindPath(cellCenter(g, 0, 0), cellCenter(g, 9, 9), core.InvalidAgentID)
	if !ok {
		t.Fatalf("repeat search failed")
	}
	if !equalCells(cells(g, first), cells(g, again)) {
		t.Fatalf("repeat search returned %v, first returned %v", cells(g, again), cells(g, first))
	}
}

func TestParseAlgorithm(t *testing.T) {
	tests := map[string]string{
		"astar":      "astar",
		"Theta":      "theta",
		"lazy-theta": "lazy-theta",
		"":           "astar",
	}
	for name, want := range tests {
		algorithm, err := ParseAlgorithm(name)
		if err != nil {
			t.Fatalf("ParseAlgorithm(%q): %v", name, err)
		}
		if algorithm.String() != want {
			t.Fatalf("ParseAlgorithm(%q) = %s, want %s", name, algorithm, want)
		}
	}
	if _, err := ParseAlgorithm("dijkstra"); err == nil {
		t.Fatalf("Expected an error for an unknown algorithm")
	}
}

// Helper functions

// assertValidPath checks that every segment from start through the
// waypoints is traversable by agentID: straight 8-direction runs for A*,
// line of sight for the any-angle searches.
func assertValidPath(t *testing.T, g *grid.Grid, algorithm Algorithm, start core.Vector3D, path []core.Vector3D, agentID core.AgentID) {
	t.Helper()
	prev := g.NodeFromWorldPoint(start)
	for i, waypoint := range path {
		next := g.NodeFromWorldPoint(waypoint)
		if algorithm.Simplify() {
			dx, dy := next.Col-prev.Col, next.Row-prev.Row
			if dx != 0 && dy != 0 && absInt(dx) != absInt(dy) {
				t.Fatalf("Segment %d (%d,%d)->(%d,%d) is not a grid direction", i, prev.Col, prev.Row, next.Col, next.Row)
			}
			steps := max(absInt(dx), absInt(dy))
			for k := 0; k <= steps; k++ {
				col, row := prev.Col+signInt(dx)*k, prev.Row+signInt(dy)*k
				if !g.IsWalkableByObjectAt(col, row, agentID) {
					t.Fatalf("Segment %d crosses blocked cell (%d,%d)", i, col, row)
				}
			}
		} else if !InLineOfSight(g, prev, next, agentID) {
			t.Fatalf("Segment %d (%d,%d)->(%d,%d) has no line of sight", i, prev.Col, prev.Row, next.Col, next.Row)
		}
		prev = next
	}
}

// newTestGrid builds a size x size grid of unit cells centred on the origin
// with the given cells blocked.
func newTestGrid(t *testing.T, size int, blocked ...[2]int) *grid.Grid {
	t.Helper()
	obstruction := &cellSet{half: float64(size) / 2, blocked: make(map[[2]int]bool)}
	for _, cell := range blocked {
		obstruction.blocked[cell] = true
	}
	g, err := grid.New(grid.Config{
		WorldSize:   core.Vector2D{X: float64(size), Y: float64(size)},
		NodeRadius:  0.5,
		StaticMask:  1,
		Obstruction: obstruction,
	})
	if err != nil {
		t.Fatalf("grid.New: %v", err)
	}
	return g
}

type cellSet struct {
	half    float64
	blocked map[[2]int]bool
}

func (c *cellSet) CheckSphere(point core.Vector3D, _ float64, _ core.LayerMask) bool {
	col := int(math.Floor(point.X + c.half))
	row := int(math.Floor(point.Z + c.half))
	return c.blocked[[2]int{col, row}]
}

func (c *cellSet) RaycastDown(point core.Vector3D, mask core.LayerMask) bool {
	return !c.CheckSphere(point, 0, mask)
}

func cellCenter(g *grid.Grid, col, row int) core.Vector3D {
	return g.Node(col, row).WorldPosition
}

func cellOf(g *grid.Grid, p core.Vector3D) [2]int {
	node := g.NodeFromWorldPoint(p)
	return [2]int{node.Col, node.Row}
}

func cells(g *grid.Grid, path []core.Vector3D) [][2]int {
	out := make([][2]int, len(path))
	for i, p := range path {
		out[i] = cellOf(g, p)
	}
	return out
}

func equalCells(a, b [][2]int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func footprint(g *grid.Grid, c0, r0, c1, r1 int) []core.Vector3D {
	a := cellCenter(g, c0, r0)
	b := cellCenter(g, c1, r1)
	return []core.Vector3D{
		{X: a.X, Z: a.Z},
		{X: b.X, Z: a.Z},
		{X: b.X, Z: b.Z},
		{X: a.X, Z: b.Z},
	}
}
