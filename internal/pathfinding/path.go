package pathfinding

import (
	"gridweaver/internal/core"
	"gridweaver/internal/grid"
)

// retrace follows parent links from target back to start and returns the
// waypoints in travel order, start excluded.
func retrace(start, target *grid.Node, simplify bool, limit int) []core.Vector3D {
	var chain []*grid.Node
	for node := target; node != start && node != nil && len(chain) <= limit; node = node.Parent {
		chain = append(chain, node)
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}

	if simplify {
		return simplifyPath(start, chain)
	}
	waypoints := make([]core.Vector3D, len(chain))
	for i, node := range chain {
		waypoints[i] = node.WorldPosition
	}
	return waypoints
}

// simplifyPath keeps the cells where the step direction changes, plus the
// goal.
func simplifyPath(start *grid.Node, path []*grid.Node) []core.Vector3D {
	if len(path) == 0 {
		return []core.Vector3D{}
	}

	var waypoints []core.Vector3D
	prev := start
	var oldX, oldY int
	for i, node := range path {
		dirX, dirY := node.Col-prev.Col, node.Row-prev.Row
		if i > 0 && (dirX != oldX || dirY != oldY) {
			waypoints = append(waypoints, prev.WorldPosition)
		}
		oldX, oldY = dirX, dirY
		prev = node
	}
	return append(waypoints, path[len(path)-1].WorldPosition)
}
