package core

import "math"

func (v Vector3D) Add(o Vector3D) Vector3D {
	return Vector3D{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z}
}

func (v Vector3D) Sub(o Vector3D) Vector3D {
	return Vector3D{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z}
}

func (v Vector3D) Scale(s float64) Vector3D {
	return Vector3D{X: v.X * s, Y: v.Y * s, Z: v.Z * s}
}

// Magnitude returns the Euclidean length of v.
func (v Vector3D) Magnitude() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Distance returns the Euclidean distance between two positions.
func (v Vector3D) Distance(o Vector3D) float64 {
	return v.Sub(o).Magnitude()
}

// Lerp interpolates from v to o; t is not clamped.
func (v Vector3D) Lerp(o Vector3D, t float64) Vector3D {
	return v.Add(o.Sub(v).Scale(t))
}

// MoveTowards moves v towards target by at most maxDelta without
// overshooting.
func (v Vector3D) MoveTowards(target Vector3D, maxDelta float64) Vector3D {
	delta := target.Sub(v)
	dist := delta.Magnitude()
	if dist <= maxDelta || dist == 0 {
		return target
	}
	return v.Add(delta.Scale(maxDelta / dist))
}

// Square returns the footprint box of half-width r centred on p.
func Square(p Vector3D, r float64) AABB {
	return AABB{
		Min: Vector2D{X: p.X - r, Y: p.Z - r},
		Max: Vector2D{X: p.X + r, Y: p.Z + r},
	}
}
