// Package grid holds the walkability and occupancy surface searched by the
// pathfinder. All reads and writes of cell state go through a single
// RWMutex: an area update holds the write lock for its whole call.
package grid

import (
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"sync"

	"gridweaver/internal/core"
)

// ErrInvalidGrid is returned when a grid cannot be built from its configuration.
var ErrInvalidGrid = errors.New("invalid grid")

// Config describes the world area covered by a grid.
type Config struct {
	// WorldSize is the terrain extent; X is width along world X and Y is
	// depth along world Z.
	WorldSize core.Vector2D
	// Center is the terrain centre on the ground plane.
	Center     core.Vector3D
	NodeRadius float64

	// StaticMask selects layers that make a cell unwalkable.
	StaticMask core.LayerMask
	// DynamicMask selects layers that confirm an occupancy claim. When zero,
	// every claimed cell is marked occupied.
	DynamicMask core.LayerMask

	Obstruction core.Obstruction
	Logger      *log.Logger
}

// Stats summarises cell state.
type Stats struct {
	Cells    int `json:"cells"`
	Walkable int `json:"walkable"`
	Occupied int `json:"occupied"`
}

// State is a copy of the mutable cell state in column-major order.
type State struct {
	SizeX    int            `json:"size_x"`
	SizeY    int            `json:"size_y"`
	Walkable []bool         `json:"walkable"`
	Occupant []core.AgentID `json:"occupant"`
}

// Grid is a square-cell walkability map over a rectangular patch of ground.
// Cell (0, 0) is the corner at the minimum X and Z. All methods are safe for
// concurrent use.
type Grid struct {
	mu sync.RWMutex

	nodes        [][]*Node
	sizeX, sizeY int
	nodeRadius   float64
	nodeDiameter float64
	worldSize    core.Vector2D
	center       core.Vector3D
	bottomLeft   core.Vector3D

	staticMask  core.LayerMask
	dynamicMask core.LayerMask
	obstruction core.Obstruction
	logger      *log.Logger
}

// New builds a grid and scans every cell for static obstruction.
func New(cfg Config) (*Grid, error) {
	if cfg.Obstruction == nil {
		return nil, fmt.Errorf("%w: no obstruction tester", ErrInvalidGrid)
	}
	if cfg.NodeRadius <= 0 || math.IsNaN(cfg.NodeRadius) {
		return nil, fmt.Errorf("%w: node radius %.3f", ErrInvalidGrid, cfg.NodeRadius)
	}

	diameter := cfg.NodeRadius * 2
	sizeX := int(math.Round(cfg.WorldSize.X / diameter))
	sizeY := int(math.Round(cfg.WorldSize.Y / diameter))
	if sizeX <= 0 || sizeY <= 0 {
		return nil, fmt.Errorf("%w: %dx%d cells from world size %.2fx%.2f", ErrInvalidGrid, sizeX, sizeY, cfg.WorldSize.X, cfg.WorldSize.Y)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	g := &Grid{
		sizeX:        sizeX,
		sizeY:        sizeY,
		nodeRadius:   cfg.NodeRadius,
		nodeDiameter: diameter,
		worldSize:    cfg.WorldSize,
		center:       cfg.Center,
		bottomLeft: core.Vector3D{
			X: cfg.Center.X - cfg.WorldSize.X/2,
			Y: cfg.Center.Y,
			Z: cfg.Center.Z - cfg.WorldSize.Y/2,
		},
		staticMask:  cfg.StaticMask,
		dynamicMask: cfg.DynamicMask,
		obstruction: cfg.Obstruction,
		logger:      logger,
	}

	g.nodes = make([][]*Node, sizeX)
	blocked := 0
	for col := 0; col < sizeX; col++ {
		g.nodes[col] = make([]*Node, sizeY)
		for row := 0; row < sizeY; row++ {
			pos := g.cellCenter(col, row)
			walkable := !g.obstruction.CheckSphere(pos, g.nodeRadius, g.staticMask)
			if !walkable {
				blocked++
			}
			g.nodes[col][row] = newNode(col, row, pos, walkable)
		}
	}

	g.logger.Printf("grid %dx%d built (node radius %.2f, %d blocked)", sizeX, sizeY, g.nodeRadius, blocked)
	return g, nil
}

// SizeX and SizeY are the cell counts along X and Z.
func (g *Grid) SizeX() int { return g.sizeX }
func (g *Grid) SizeY() int { return g.sizeY }
// NodeRadius is half the side of a cell.
func (g *Grid) NodeRadius() float64 { return g.nodeRadius }
func (g *Grid) NodeDiameter() float64 { return g.nodeDiameter }
// WorldSize is the covered extent, in world units, along X and Z.
func (g *Grid) WorldSize() core.Vector2D { return g.worldSize }
// Center is the world position of the middle of the grid.
func (g *Grid) Center() core.Vector3D { return g.center }

// MaxSize is the number of cells, the upper bound of any open set.
func (g *Grid) MaxSize() int {
	return g.sizeX * g.sizeY
}

// InBounds reports whether (col, row) names a cell.
func (g *Grid) InBounds(col, row int) bool {
	return col >= 0 && col < g.sizeX && row >= 0 && row < g.sizeY
}

// Node returns the cell at (col, row), or nil when out of bounds.
func (g *Grid) Node(col, row int) *Node {
	if !g.InBounds(col, row) {
		return nil
	}
	return g.nodes[col][row]
}

func (g *Grid) cellCenter(col, row int) core.Vector3D {
	return core.Vector3D{
		X: g.bottomLeft.X + float64(col)*g.nodeDiameter + g.nodeRadius,
		Y: g.bottomLeft.Y,
		Z: g.bottomLeft.Z + float64(row)*g.nodeDiameter + g.nodeRadius,
	}
}

// NodeFromWorldPoint returns the cell covering p. Points outside the terrain
// clamp to the nearest edge cell.
func (g *Grid) NodeFromWorldPoint(p core.Vector3D) *Node {
	col, row := g.cellIndex(p)
	return g.nodes[col][row]
}

func (g *Grid) cellIndex(p core.Vector3D) (int, int) {
	percentX := clamp01((p.X - g.bottomLeft.X) / g.worldSize.X)
	percentZ := clamp01((p.Z - g.bottomLeft.Z) / g.worldSize.Y)
	col := int(math.Round(float64(g.sizeX-1) * percentX))
	row := int(math.Round(float64(g.sizeY-1) * percentZ))
	return col, row
}

// Neighbors returns the up to eight in-bounds cells around node.
func (g *Grid) Neighbors(node *Node) []*Node {
	neighbors := make([]*Node, 0, 8)
	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			if dx == 0 && dy == 0 {
				continue
			}
			col, row := node.Col+dx, node.Row+dy
			if g.InBounds(col, row) {
				neighbors = append(neighbors, g.nodes[col][row])
			}
		}
	}
	return neighbors
}

// IsWalkable reports the static obstruction flag of node.
func (g *Grid) IsWalkable(node *Node) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return node.walkable
}

// IsWalkableAt is IsWalkable by coordinates; out-of-bounds cells are not walkable.
func (g *Grid) IsWalkableAt(col, row int) bool {
	node := g.Node(col, row)
	if node == nil {
		return false
	}
	return g.IsWalkable(node)
}

// IsOccupied reports whether any agent has claimed node.
func (g *Grid) IsOccupied(node *Node) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return node.occupant.Valid()
}

// IsOccupiedBy reports whether agentID is the occupant of node.
func (g *Grid) IsOccupiedBy(node *Node, agentID core.AgentID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return node.occupant.Valid() && node.occupant == agentID
}

// Occupant returns the agent claiming node, or core.InvalidAgentID.
func (g *Grid) Occupant(node *Node) core.AgentID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return node.occupant
}

// IsWalkableByObject reports whether agentID may enter node: the cell must be
// statically walkable and either free or already claimed by the same agent.
func (g *Grid) IsWalkableByObject(node *Node, agentID core.AgentID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return walkableBy(node, agentID)
}

// IsWalkableByObjectAt is IsWalkableByObject by coordinates.
func (g *Grid) IsWalkableByObjectAt(col, row int, agentID core.AgentID) bool {
	node := g.Node(col, row)
	if node == nil {
		return false
	}
	return g.IsWalkableByObject(node, agentID)
}

func walkableBy(node *Node, agentID core.AgentID) bool {
	if !node.walkable {
		return false
	}
	return !node.occupant.Valid() || node.occupant == agentID
}

// RequestAreaUpdate rescans the cells inside the bounding box of corners.
// The far edge of the box is exclusive. With reset the cells become walkable
// and unoccupied. Otherwise a cell is rescanned only when it is walkable and
// free or already claimed by agentID, so a claim never overwrites another
// agent's claim or an obstructed cell.
func (g *Grid) RequestAreaUpdate(corners []core.Vector3D, agentID core.AgentID, reset bool) {
	if len(corners) == 0 {
		return
	}
	minCol, minRow, maxCol, maxRow := g.cellRange(corners)
	g.updateCells(minCol, minRow, maxCol, maxRow, agentID, reset)
}

// ReleaseArea drops agentID's claims inside the box of corners and rescans
// those cells for static obstruction. Cells held by other agents are left
// alone. It returns the number of cells released.
func (g *Grid) ReleaseArea(corners []core.Vector3D, agentID core.AgentID) int {
	if len(corners) == 0 || !agentID.Valid() {
		return 0
	}
	minCol, minRow, maxCol, maxRow := g.cellRange(corners)
	return g.releaseCells(minCol, minRow, maxCol, maxRow, agentID)
}

// FootprintCells is the cell box under a square of half-width halfExtent
// centred on p: the cell holding p, grown by one ring per node diameter the
// square reaches past that cell. The far edge is exclusive and the box is
// clamped to the grid, so it always holds the cell under p.
func (g *Grid) FootprintCells(p core.Vector3D, halfExtent float64) (minCol, minRow, maxCol, maxRow int) {
	col, row := g.cellIndex(p)
	rings := 0
	if reach := halfExtent - g.nodeRadius; reach > 0 {
		rings = int(math.Ceil(reach/g.nodeDiameter - 1e-9))
	}
	minCol, minRow = max(col-rings, 0), max(row-rings, 0)
	maxCol, maxRow = min(col+rings+1, g.sizeX), min(row+rings+1, g.sizeY)
	return minCol, minRow, maxCol, maxRow
}

// ClaimFootprint claims the FootprintCells box for agentID under the same
// rules as RequestAreaUpdate.
func (g *Grid) ClaimFootprint(p core.Vector3D, halfExtent float64, agentID core.AgentID) {
	minCol, minRow, maxCol, maxRow := g.FootprintCells(p, halfExtent)
	g.updateCells(minCol, minRow, maxCol, maxRow, agentID, false)
}

// ReleaseFootprint drops agentID's claims in the FootprintCells box.
func (g *Grid) ReleaseFootprint(p core.Vector3D, halfExtent float64, agentID core.AgentID) int {
	if !agentID.Valid() {
		return 0
	}
	minCol, minRow, maxCol, maxRow := g.FootprintCells(p, halfExtent)
	return g.releaseCells(minCol, minRow, maxCol, maxRow, agentID)
}

func (g *Grid) updateCells(minCol, minRow, maxCol, maxRow int, agentID core.AgentID, reset bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for col := minCol; col < maxCol; col++ {
		for row := minRow; row < maxRow; row++ {
			node := g.nodes[col][row]
			if reset {
				node.walkable = true
				node.occupant = core.InvalidAgentID
				continue
			}
			if !walkableBy(node, agentID) {
				continue
			}

			node.walkable = !g.obstruction.CheckSphere(node.WorldPosition, g.nodeRadius, g.staticMask)
			if agentID.Valid() && (g.dynamicMask == core.LayerNone ||
				g.obstruction.CheckSphere(node.WorldPosition, g.nodeRadius, g.dynamicMask)) {
				node.occupant = agentID
			} else {
				node.occupant = core.InvalidAgentID
			}
		}
	}
}

func (g *Grid) releaseCells(minCol, minRow, maxCol, maxRow int, agentID core.AgentID) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	released := 0
	for col := minCol; col < maxCol; col++ {
		for row := minRow; row < maxRow; row++ {
			node := g.nodes[col][row]
			if node.occupant != agentID {
				continue
			}
			node.occupant = core.InvalidAgentID
			node.walkable = !g.obstruction.CheckSphere(node.WorldPosition, g.nodeRadius, g.staticMask)
			released++
		}
	}
	return released
}

// cellRange is the cell box covering corners, far edge exclusive.
func (g *Grid) cellRange(corners []core.Vector3D) (minCol, minRow, maxCol, maxRow int) {
	minCol, minRow = g.cellIndex(corners[0])
	maxCol, maxRow = minCol, minRow
	for _, corner := range corners[1:] {
		col, row := g.cellIndex(corner)
		minCol = min(minCol, col)
		minRow = min(minRow, row)
		maxCol = max(maxCol, col)
		maxRow = max(maxRow, row)
	}
	return minCol, minRow, maxCol, maxRow
}

// ReleaseAgent clears every claim held by agentID.
func (g *Grid) ReleaseAgent(agentID core.AgentID) int {
	if !agentID.Valid() {
		return 0
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	released := 0
	for _, column := range g.nodes {
		for _, node := range column {
			if node.occupant == agentID {
				node.occupant = core.InvalidAgentID
				released++
			}
		}
	}
	return released
}

// Stats counts walkable and occupied cells.
func (g *Grid) Stats() Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()

	stats := Stats{Cells: g.sizeX * g.sizeY}
	for _, column := range g.nodes {
		for _, node := range column {
			if node.walkable {
				stats.Walkable++
			}
			if node.occupant.Valid() {
				stats.Occupied++
			}
		}
	}
	return stats
}

// Snapshot copies the mutable cell state.
func (g *Grid) Snapshot() State {
	g.mu.RLock()
	defer g.mu.RUnlock()

	cells := g.sizeX * g.sizeY
	state := State{
		SizeX:    g.sizeX,
		SizeY:    g.sizeY,
		Walkable: make([]bool, 0, cells),
		Occupant: make([]core.AgentID, 0, cells),
	}
	for _, column := range g.nodes {
		for _, node := range column {
			state.Walkable = append(state.Walkable, node.walkable)
			state.Occupant = append(state.Occupant, node.occupant)
		}
	}
	return state
}

// Restore applies a state taken from a grid of the same dimensions.
func (g *Grid) Restore(state State) error {
	cells := g.sizeX * g.sizeY
	if state.SizeX != g.sizeX || state.SizeY != g.sizeY {
		return fmt.Errorf("%w: snapshot is %dx%d, grid is %dx%d", ErrInvalidGrid, state.SizeX, state.SizeY, g.sizeX, g.sizeY)
	}
	if len(state.Walkable) != cells || len(state.Occupant) != cells {
		return fmt.Errorf("%w: snapshot holds %d/%d cells, want %d", ErrInvalidGrid, len(state.Walkable), len(state.Occupant), cells)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	i := 0
	for _, column := range g.nodes {
		for _, node := range column {
			node.walkable = state.Walkable[i]
			node.occupant = state.Occupant[i]
			i++
		}
	}
	return nil
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
