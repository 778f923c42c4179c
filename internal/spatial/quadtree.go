package spatial

import (
	"fmt"
	"math"

	"gridweaver/internal/core"
)

const (
	// MaxObstaclesPerNode defines when to split a quadtree node
	MaxObstaclesPerNode = 10
	// MaxDepth defines maximum depth of the quadtree
	MaxDepth = 8
)

// QuadTree indexes obstacle footprints on the ground plane.
type QuadTree struct {
	bounds    core.AABB
	obstacles map[uint64]*core.Obstacle
	root      *quadNode
}

// quadNode represents a node in the quadtree
type quadNode struct {
	bounds    core.AABB
	obstacles map[uint64]*core.Obstacle
	children  [4]*quadNode // NW, NE, SW, SE
	depth     int
}

// NewQuadTree creates a new quadtree with the given bounds
func NewQuadTree(bounds core.AABB) *QuadTree {
	return &QuadTree{
		bounds:    bounds,
		obstacles: make(map[uint64]*core.Obstacle),
		root:      newQuadNode(bounds, 0),
	}
}

func newQuadNode(bounds core.AABB, depth int) *quadNode {
	return &quadNode{
		bounds:    bounds,
		obstacles: make(map[uint64]*core.Obstacle),
		depth:     depth,
	}
}

// Insert adds an obstacle to the quadtree
func (qt *QuadTree) Insert(obstacle *core.Obstacle) error {
	if obstacle == nil {
		return fmt.Errorf("obstacle cannot be nil")
	}

	if !qt.bounds.Contains(obstacle.Bounds) {
		return fmt.Errorf("obstacle bounds %+v outside quadtree bounds %+v", obstacle.Bounds, qt.bounds)
	}

	if _, exists := qt.obstacles[obstacle.ID]; exists {
		qt.root.remove(obstacle.ID)
	}
	qt.obstacles[obstacle.ID] = obstacle
	qt.root.insert(obstacle)
	return nil
}

// Remove removes an obstacle from the quadtree
func (qt *QuadTree) Remove(id uint64) error {
	if _, exists := qt.obstacles[id]; !exists {
		return fmt.Errorf("obstacle with id %d not found", id)
	}

	delete(qt.obstacles, id)
	qt.root.remove(id)
	return nil
}

// Query returns all obstacles overlapping the given bounds
func (qt *QuadTree) Query(bounds core.AABB) []*core.Obstacle {
	var results []*core.Obstacle
	qt.root.query(bounds, &results)
	return results
}

// QueryRadius returns all obstacles within radius of center
func (qt *QuadTree) QueryRadius(center core.Vector2D, radius float64) []*core.Obstacle {
	bounds := core.AABB{
		Min: core.Vector2D{X: center.X - radius, Y: center.Y - radius},
		Max: core.Vector2D{X: center.X + radius, Y: center.Y + radius},
	}

	candidates := qt.Query(bounds)
	var results []*core.Obstacle

	for _, obstacle := range candidates {
		if DistanceToAABB(center, obstacle.Bounds) <= radius {
			results = append(results, obstacle)
		}
	}

	return results
}

// Len returns the number of indexed obstacles.
func (qt *QuadTree) Len() int {
	return len(qt.obstacles)
}

// Clear removes all obstacles from the quadtree
func (qt *QuadTree) Clear() {
	qt.obstacles = make(map[uint64]*core.Obstacle)
	qt.root = newQuadNode(qt.bounds, 0)
}

func (qn *quadNode) insert(obstacle *core.Obstacle) {
	if qn.children[0] != nil {
		if childIndex := qn.childIndex(obstacle.Bounds); childIndex != -1 {
			qn.children[childIndex].insert(obstacle)
			return
		}
	}

	qn.obstacles[obstacle.ID] = obstacle

	if len(qn.obstacles) > MaxObstaclesPerNode && qn.depth < MaxDepth && qn.children[0] == nil {
		qn.split()
	}
}

func (qn *quadNode) remove(id uint64) {
	delete(qn.obstacles, id)

	if qn.children[0] != nil {
		for _, child := range qn.children {
			child.remove(id)
		}
	}
}

// query collects touching as well as overlapping footprints so a cell
// sampled exactly on an obstacle edge still sees it.
func (qn *quadNode) query(bounds core.AABB, results *[]*core.Obstacle) {
	for _, obstacle := range qn.obstacles {
		if touches(bounds, obstacle.Bounds) {
			*results = append(*results, obstacle)
		}
	}

	if qn.children[0] != nil {
		for _, child := range qn.children {
			if touches(bounds, child.bounds) {
				child.query(bounds, results)
			}
		}
	}
}

func (qn *quadNode) split() {
	midX := (qn.bounds.Min.X + qn.bounds.Max.X) / 2
	midY := (qn.bounds.Min.Y + qn.bounds.Max.Y) / 2

	childBounds := [4]core.AABB{
		{Min: core.Vector2D{X: qn.bounds.Min.X, Y: midY}, Max: core.Vector2D{X: midX, Y: qn.bounds.Max.Y}}, // NW
		{Min: core.Vector2D{X: midX, Y: midY}, Max: qn.bounds.Max},                                         // NE
		{Min: qn.bounds.Min, Max: core.Vector2D{X: midX, Y: midY}},                                         // SW
		{Min: core.Vector2D{X: midX, Y: qn.bounds.Min.Y}, Max: core.Vector2D{X: qn.bounds.Max.X, Y: midY}}, // SE
	}

	for i := range qn.children {
		qn.children[i] = newQuadNode(childBounds[i], qn.depth+1)
	}

	for id, obstacle := range qn.obstacles {
		if childIndex := qn.childIndex(obstacle.Bounds); childIndex != -1 {
			qn.children[childIndex].insert(obstacle)
			delete(qn.obstacles, id)
		}
	}
}

// childIndex returns which child quadrant fully contains bounds, or -1.
func (qn *quadNode) childIndex(bounds core.AABB) int {
	if qn.children[0] == nil {
		return -1
	}

	for i, child := range qn.children {
		if child.bounds.Contains(bounds) {
			return i
		}
	}

	return -1
}

func touches(a, b core.AABB) bool {
	return a.Min.X <= b.Max.X && a.Max.X >= b.Min.X &&
		a.Min.Y <= b.Max.Y && a.Max.Y >= b.Min.Y
}

// DistanceToAABB returns the distance from point to the closest point of bounds.
func DistanceToAABB(point core.Vector2D, bounds core.AABB) float64 {
	dx := math.Max(0, math.Max(bounds.Min.X-point.X, point.X-bounds.Max.X))
	dy := math.Max(0, math.Max(bounds.Min.Y-point.Y, point.Y-bounds.Max.Y))
	return math.Sqrt(dx*dx + dy*dy)
}
