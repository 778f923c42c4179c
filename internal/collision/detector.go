package collision

import (
	"math"

	"gridweaver/internal/core"
	"gridweaver/internal/spatial"
)

// RaycastHit represents the first obstacle met by a ground-plane ray
type RaycastHit struct {
	Obstacle     *core.Obstacle
	Distance     float64
	ContactPoint core.Vector2D
	Normal       core.Vector2D // Points away from the obstacle
}

// Detector answers obstruction queries against a spatial index of obstacle
// footprints. It is not safe for concurrent mutation; the scene manager
// serializes access.
type Detector struct {
	spatialIndex core.SpatialIndex
}

// NewDetector creates a new collision detector
func NewDetector(spatialIndex core.SpatialIndex) *Detector {
	return &Detector{
		spatialIndex: spatialIndex,
	}
}

// NewQuadTreeDetector creates a detector over a fresh quadtree covering bounds.
func NewQuadTreeDetector(bounds core.AABB) *Detector {
	return NewDetector(spatial.NewQuadTree(bounds))
}

// Insert indexes an obstacle footprint.
func (d *Detector) Insert(obstacle *core.Obstacle) error {
	return d.spatialIndex.Insert(obstacle)
}

// Remove drops an obstacle footprint from the index.
func (d *Detector) Remove(id uint64) error {
	return d.spatialIndex.Remove(id)
}

// CheckSphere reports whether an obstacle on a masked layer overlaps the
// circle of radius around point on the ground plane.
func (d *Detector) CheckSphere(point core.Vector3D, radius float64, mask core.LayerMask) bool {
	if mask == core.LayerNone {
		return false
	}
	center := point.Ground()
	for _, candidate := range d.spatialIndex.QueryRadius(center, radius) {
		if candidate.Layer.Has(mask) {
			return true
		}
	}
	return false
}

// RaycastDown reports whether the ground under point is free of masked obstacles.
func (d *Detector) RaycastDown(point core.Vector3D, mask core.LayerMask) bool {
	return !d.CheckSphere(point, 0, mask)
}

// OverlapBox returns the masked obstacles overlapping bounds.
func (d *Detector) OverlapBox(bounds core.AABB, mask core.LayerMask) []*core.Obstacle {
	var results []*core.Obstacle
	for _, candidate := range d.spatialIndex.Query(bounds) {
		if candidate.Layer.Has(mask) && candidate.Bounds.Intersects(bounds) {
			results = append(results, candidate)
		}
	}
	return results
}

// Raycast performs a ground-plane raycast and returns the first masked hit
func (d *Detector) Raycast(start, direction core.Vector2D, maxDistance float64, mask core.LayerMask) (RaycastHit, bool) {
	length := math.Sqrt(direction.X*direction.X + direction.Y*direction.Y)
	if length == 0 || maxDistance <= 0 {
		return RaycastHit{}, false
	}

	dir := core.Vector2D{
		X: direction.X / length,
		Y: direction.Y / length,
	}

	end := core.Vector2D{
		X: start.X + dir.X*maxDistance,
		Y: start.Y + dir.Y*maxDistance,
	}

	rayBounds := core.AABB{
		Min: core.Vector2D{X: math.Min(start.X, end.X), Y: math.Min(start.Y, end.Y)},
		Max: core.Vector2D{X: math.Max(start.X, end.X), Y: math.Max(start.Y, end.Y)},
	}

	var best RaycastHit
	found := false
	closest := maxDistance

	for _, candidate := range d.spatialIndex.Query(rayBounds) {
		if !candidate.Layer.Has(mask) {
			continue
		}
		t := rayAABBIntersection(start, dir, candidate.Bounds)
		if t < 0 || t > closest {
			continue
		}
		closest = t
		found = true

		hitPoint := core.Vector2D{
			X: start.X + dir.X*t,
			Y: start.Y + dir.Y*t,
		}
		best = RaycastHit{
			Obstacle:     candidate,
			Distance:     t,
			ContactPoint: hitPoint,
			Normal:       outwardNormal(candidate.Bounds, hitPoint),
		}
	}

	return best, found
}

func outwardNormal(bounds core.AABB, hit core.Vector2D) core.Vector2D {
	center := core.Vector2D{
		X: (bounds.Min.X + bounds.Max.X) / 2,
		Y: (bounds.Min.Y + bounds.Max.Y) / 2,
	}
	toCenter := core.Vector2D{X: center.X - hit.X, Y: center.Y - hit.Y}
	length := math.Sqrt(toCenter.X*toCenter.X + toCenter.Y*toCenter.Y)
	if length == 0 {
		return core.Vector2D{}
	}
	return core.Vector2D{X: -toCenter.X / length, Y: -toCenter.Y / length}
}

// rayAABBIntersection returns the ray parameter of the first contact with
// bounds, 0 when the ray starts inside, or -1 when it misses.
func rayAABBIntersection(rayStart, rayDir core.Vector2D, bounds core.AABB) float64 {
	tMin := math.Inf(-1)
	tMax := math.Inf(1)

	if rayDir.X != 0 {
		t1 := (bounds.Min.X - rayStart.X) / rayDir.X
		t2 := (bounds.Max.X - rayStart.X) / rayDir.X
		tMin = math.Max(tMin, math.Min(t1, t2))
		tMax = math.Min(tMax, math.Max(t1, t2))
	} else if rayStart.X < bounds.Min.X || rayStart.X > bounds.Max.X {
		return -1
	}

	if rayDir.Y != 0 {
		t1 := (bounds.Min.Y - rayStart.Y) / rayDir.Y
		t2 := (bounds.Max.Y - rayStart.Y) / rayDir.Y
		tMin = math.Max(tMin, math.Min(t1, t2))
		tMax = math.Min(tMax, math.Max(t1, t2))
	} else if rayStart.Y < bounds.Min.Y || rayStart.Y > bounds.Max.Y {
		return -1
	}

	if tMax < 0 || tMin > tMax {
		return -1
	}
	if tMin > 0 {
		return tMin
	}
	return 0
}
