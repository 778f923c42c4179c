package pathfinding

import (
	"gridweaver/internal/core"
	"gridweaver/internal/grid"
)

// InLineOfSight reports whether agentID can travel in a straight line from a
// to b. The line is stepped cell by cell; every visited cell must be
// walkable by the agent, and a diagonal step also needs both cells it cuts
// past so the line never clips an obstacle corner.
func InLineOfSight(g *grid.Grid, a, b *grid.Node, agentID core.AgentID) bool {
	return lineOfSight(a, b, func(col, row int) bool {
		return g.IsWalkableByObjectAt(col, row, agentID)
	})
}

func lineOfSight(a, b *grid.Node, open func(col, row int) bool) bool {
	x, y := a.Col, a.Row
	dx, dy := absInt(b.Col-x), absInt(b.Row-y)
	sx, sy := signInt(b.Col-x), signInt(b.Row-y)

	if !open(x, y) {
		return false
	}

	if dx >= dy {
		err := dx / 2
		for i := 0; i < dx; i++ {
			err -= dy
			if err < 0 {
				if !open(x+sx, y) || !open(x, y+sy) {
					return false
				}
				y += sy
				err += dx
			}
			x += sx
			if !open(x, y) {
				return false
			}
		}
		return true
	}

	err := dy / 2
	for i := 0; i < dy; i++ {
		err -= dx
		if err < 0 {
			if !open(x, y+sy) || !open(x+sx, y) {
				return false
			}
			x += sx
			err += dy
		}
		y += sy
		if !open(x, y) {
			return false
		}
	}
	return true
}
