package pathfinding

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gridweaver/internal/grid"
)

// ErrUnknownAlgorithm is returned by ParseAlgorithm for an unrecognised name.
var ErrUnknownAlgorithm = errors.New("unknown search algorithm")

// Algorithm customises the shared search loop.
type Algorithm interface {
	// Expand runs when node is popped from the open set, before it is
	// closed. Returning false drops the node back to undiscovered.
	Expand(s *Search, node *grid.Node) bool
	// Parent picks the node neighbor is relaxed from when current is
	// expanded, or nil to skip the neighbour.
	Parent(s *Search, current, neighbor *grid.Node) *grid.Node
	// Simplify reports whether reconstructed paths keep only direction changes.
	Simplify() bool
	String() string
}

// AStar relaxes every neighbour from the expanded node.
type AStar struct{}

// Expand always accepts the node.
func (AStar) Expand(*Search, *grid.Node) bool { return true }

// Parent is always the expanded node.
func (AStar) Parent(_ *Search, current, _ *grid.Node) *grid.Node {
	return current
}

// Simplify is true: A* paths step cell by cell.
func (AStar) Simplify() bool { return true }

func (AStar) String() string { return "astar" }

// ThetaStar relaxes a neighbour straight from the expanded node's parent
// whenever the two can see each other. Every edge it keeps passes the line
// of sight test, so diagonal steps never cut a blocked corner.
type ThetaStar struct{}

func (ThetaStar) Expand(*Search, *grid.Node) bool { return true }

// Parent prefers the grandparent when it sees neighbor. A neighbour that
// even current cannot see is skipped.
func (ThetaStar) Parent(s *Search, current, neighbor *grid.Node) *grid.Node {
	if parent := current.Parent; parent != nil && s.LineOfSight(parent, neighbor) {
		return parent
	}
	if s.LineOfSight(current, neighbor) {
		return current
	}
	return nil
}

func (ThetaStar) Simplify() bool { return false }

func (ThetaStar) String() string { return "theta" }

// LazyThetaStar assumes line of sight while relaxing and repairs the parent
// of a node when it is expanded. Only closed neighbours the node can see are
// candidates; a node with none is dropped until it is relaxed again.
type LazyThetaStar struct{}

// Expand repairs the parent of node when it cannot see it, picking the
// cheapest closed neighbour in sight. It reports false when none exists.
func (LazyThetaStar) Expand(s *Search, node *grid.Node) bool {
	parent := node.Parent
	if parent == nil || parent == node || s.LineOfSight(parent, node) {
		return true
	}

	var best *grid.Node
	bestG := math.MaxInt
	for _, neighbor := range s.Neighbors(node) {
		if !s.Closed(neighbor) || !s.LineOfSight(neighbor, node) {
			continue
		}
		if g := neighbor.G + s.Cost(neighbor, node); g < bestG {
			best, bestG = neighbor, g
		}
	}
	if best == nil {
		return false
	}
	node.Parent = best
	node.G = bestG
	return true
}

// Parent is the expanded node's parent, or the node itself at the start.
// Expand checks the edge once the neighbour is expanded.
func (LazyThetaStar) Parent(_ *Search, current, _ *grid.Node) *grid.Node {
	if current.Parent != nil {
		return current.Parent
	}
	return current
}

func (LazyThetaStar) Simplify() bool { return false }

func (LazyThetaStar) String() string { return "lazy-theta" }

// ParseAlgorithm returns the algorithm registered under name.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "astar", "a*":
		return AStar{}, nil
	case "theta", "theta*", "thetastar":
		return ThetaStar{}, nil
	case "lazy-theta", "lazytheta", "lazy-theta*":
		return LazyThetaStar{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, name)
	}
}
