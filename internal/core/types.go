package core

// Vector2D represents a 2D coordinate/vector
type Vector2D struct {
	X, Y float64
}

// Vector3D represents a world position. The walkable ground plane is spanned
// by X and Z; Y is height and is ignored by the grid.
type Vector3D struct {
	X, Y, Z float64
}

// Ground projects the position onto the ground plane.
func (v Vector3D) Ground() Vector2D {
	return Vector2D{X: v.X, Y: v.Z}
}

// AABB (Axis-Aligned Bounding Box) represents a rectangular boundary on the
// ground plane (Min.Y/Max.Y map to world Z).
type AABB struct {
	Min, Max Vector2D
}

// Corners returns the four footprint corners as world positions.
func (b AABB) Corners() []Vector3D {
	return []Vector3D{
		{X: b.Min.X, Z: b.Min.Y},
		{X: b.Max.X, Z: b.Min.Y},
		{X: b.Max.X, Z: b.Max.Y},
		{X: b.Min.X, Z: b.Max.Y},
	}
}

// Intersects reports whether two boxes overlap with positive area.
func (b AABB) Intersects(o AABB) bool {
	return b.Min.X < o.Max.X && b.Max.X > o.Min.X &&
		b.Min.Y < o.Max.Y && b.Max.Y > o.Min.Y
}

// Contains reports whether o lies completely inside b.
func (b AABB) Contains(o AABB) bool {
	return o.Min.X >= b.Min.X && o.Max.X <= b.Max.X &&
		o.Min.Y >= b.Min.Y && o.Max.Y <= b.Max.Y
}

// AgentID identifies a moving agent that may reserve grid cells.
type AgentID int

// InvalidAgentID marks "no agent": an unoccupied cell or an anonymous request.
const InvalidAgentID AgentID = -1

// Valid reports whether the id refers to an agent.
func (id AgentID) Valid() bool {
	return id != InvalidAgentID
}

// LayerMask selects obstacle layers, one bit per layer.
type LayerMask uint32

const (
	LayerNone LayerMask = 0
	LayerAll  LayerMask = ^LayerMask(0)
)

// Has reports whether any bit of o is set in m.
func (m LayerMask) Has(o LayerMask) bool {
	return m&o != 0
}

// ObstacleKind represents different kinds of static obstacles
type ObstacleKind uint8

const (
	ObstacleKindUnknown ObstacleKind = iota
	ObstacleKindTerrain
	ObstacleKindBuilding
	ObstacleKindUnit
)

func (k ObstacleKind) String() string {
	switch k {
	case ObstacleKindTerrain:
		return "terrain"
	case ObstacleKindBuilding:
		return "building"
	case ObstacleKindUnit:
		return "unit"
	default:
		return "unknown"
	}
}

// Obstacle is a footprint registered with the scene and tested by the grid
// when it scans cells for static obstruction.
type Obstacle struct {
	ID     uint64
	Bounds AABB
	Layer  LayerMask
	Kind   ObstacleKind
}

// Obstruction is the physics capability the grid depends on.
type Obstruction interface {
	// CheckSphere reports whether any obstacle on a layer selected by mask
	// overlaps the circle of the given radius around point.
	CheckSphere(point Vector3D, radius float64, mask LayerMask) bool
	// RaycastDown reports whether the point on the ground is free of
	// obstacles selected by mask.
	RaycastDown(point Vector3D, mask LayerMask) bool
}

// SpatialIndex interface for spatial data structures
type SpatialIndex interface {
	Insert(obstacle *Obstacle) error
	Remove(id uint64) error
	Query(bounds AABB) []*Obstacle
	QueryRadius(center Vector2D, radius float64) []*Obstacle
}
