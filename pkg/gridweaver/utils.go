package gridweaver

import (
	"math"
	"math/rand"

	"gridweaver/internal/core"
)

// Vector and box helpers

// Ground returns a ground-plane point at (x, z).
func Ground(x, z float64) core.Vector3D {
	return core.Vector3D{X: x, Z: z}
}

// AABBFromCenterSize creates a box from its centre and size on the ground plane.
func AABBFromCenterSize(center core.Vector3D, width, depth float64) core.AABB {
	halfWidth := width / 2
	halfDepth := depth / 2
	return core.AABB{
		Min: core.Vector2D{X: center.X - halfWidth, Y: center.Z - halfDepth},
		Max: core.Vector2D{X: center.X + halfWidth, Y: center.Z + halfDepth},
	}
}

// AABBCenter returns the centre of a box as a ground-plane point.
func AABBCenter(b core.AABB) core.Vector3D {
	return core.Vector3D{X: (b.Min.X + b.Max.X) / 2, Z: (b.Min.Y + b.Max.Y) / 2}
}

// AABBExpand grows a box by amount on every side.
func AABBExpand(b core.AABB, amount float64) core.AABB {
	return core.AABB{
		Min: core.Vector2D{X: b.Min.X - amount, Y: b.Min.Y - amount},
		Max: core.Vector2D{X: b.Max.X + amount, Y: b.Max.Y + amount},
	}
}

// Path utility functions

// PathLength is the ground distance walked from start through every waypoint.
func PathLength(start core.Vector3D, path []core.Vector3D) float64 {
	total := 0.0
	prev := start
	for _, p := range path {
		total += prev.Distance(p)
		prev = p
	}
	return total
}

// SmoothPath applies smoothing to a path using simple averaging
func SmoothPath(path []core.Vector3D, iterations int) []core.Vector3D {
	if len(path) < 3 || iterations <= 0 {
		return path
	}

	smoothed := make([]core.Vector3D, len(path))
	copy(smoothed, path)

	for iter := 0; iter < iterations; iter++ {
		for i := 1; i < len(smoothed)-1; i++ {
			prev := smoothed[i-1]
			next := smoothed[i+1]
			smoothed[i] = core.Vector3D{
				X: (prev.X + smoothed[i].X + next.X) / 3,
				Y: (prev.Y + smoothed[i].Y + next.Y) / 3,
				Z: (prev.Z + smoothed[i].Z + next.Z) / 3,
			}
		}
	}

	return smoothed
}

// SimplifyPath drops waypoints closer than tolerance to the line between
// their kept neighbours. The ends are always kept.
func SimplifyPath(path []core.Vector3D, tolerance float64) []core.Vector3D {
	if len(path) < 3 {
		return path
	}

	keep := make([]bool, len(path))
	keep[0] = true
	keep[len(path)-1] = true
	douglasPeucker(path, 0, len(path)-1, tolerance, keep)

	simplified := make([]core.Vector3D, 0, len(path))
	for i, p := range path {
		if keep[i] {
			simplified = append(simplified, p)
		}
	}
	return simplified
}

func douglasPeucker(path []core.Vector3D, start, end int, tolerance float64, keep []bool) {
	if end-start < 2 {
		return
	}

	maxDistance := 0.0
	maxIndex := start
	for i := start + 1; i < end; i++ {
		distance := pointToSegmentDistance(path[i], path[start], path[end])
		if distance > maxDistance {
			maxDistance = distance
			maxIndex = i
		}
	}

	if maxDistance > tolerance {
		keep[maxIndex] = true
		douglasPeucker(path, start, maxIndex, tolerance, keep)
		douglasPeucker(path, maxIndex, end, tolerance, keep)
	}
}

// pointToSegmentDistance measures on the ground plane.
func pointToSegmentDistance(point, a, b core.Vector3D) float64 {
	dx, dz := b.X-a.X, b.Z-a.Z
	lengthSq := dx*dx + dz*dz
	if lengthSq == 0 {
		return math.Hypot(point.X-a.X, point.Z-a.Z)
	}

	t := ((point.X-a.X)*dx + (point.Z-a.Z)*dz) / lengthSq
	t = math.Max(0, math.Min(1, t))
	closest := core.Vector3D{X: a.X + t*dx, Z: a.Z + t*dz}
	return math.Hypot(point.X-closest.X, point.Z-closest.Z)
}

// Random utilities

// RandomPosition returns a uniform ground-plane point inside bounds.
func RandomPosition(rng *rand.Rand, bounds core.AABB) core.Vector3D {
	return core.Vector3D{
		X: bounds.Min.X + rng.Float64()*(bounds.Max.X-bounds.Min.X),
		Z: bounds.Min.Y + rng.Float64()*(bounds.Max.Y-bounds.Min.Y),
	}
}

// RandomPositionInCircle returns a uniform point within radius of center.
func RandomPositionInCircle(rng *rand.Rand, center core.Vector3D, radius float64) core.Vector3D {
	angle := rng.Float64() * 2 * math.Pi
	distance := math.Sqrt(rng.Float64()) * radius
	return core.Vector3D{
		X: center.X + math.Cos(angle)*distance,
		Y: center.Y,
		Z: center.Z + math.Sin(angle)*distance,
	}
}
