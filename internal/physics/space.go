// Package physics answers grid obstruction queries with a Chipmunk2D space
// holding one static box shape per obstacle footprint.
package physics

import (
	"fmt"

	"github.com/jakecoffman/cp"

	"gridweaver/internal/core"
)

// Space is a static-only cp space keyed by obstacle id.
type Space struct {
	space  *cp.Space
	shapes map[uint64]*cp.Shape
}

// NewSpace returns an empty space.
func NewSpace() *Space {
	return &Space{
		space:  cp.NewSpace(),
		shapes: make(map[uint64]*cp.Shape),
	}
}

// Insert adds (or replaces) the footprint of an obstacle as a static box.
func (s *Space) Insert(obstacle *core.Obstacle) error {
	if obstacle == nil {
		return fmt.Errorf("obstacle cannot be nil")
	}
	b := obstacle.Bounds
	if b.Max.X <= b.Min.X || b.Max.Y <= b.Min.Y {
		return fmt.Errorf("obstacle %d has an empty footprint", obstacle.ID)
	}
	if old, ok := s.shapes[obstacle.ID]; ok {
		s.space.RemoveShape(old)
	}

	bb := cp.BB{L: b.Min.X, B: b.Min.Y, R: b.Max.X, T: b.Max.Y}
	shape := cp.NewBox2(s.space.StaticBody, bb, 0)
	shape.SetFilter(cp.ShapeFilter{
		Group:      cp.NO_GROUP,
		Categories: uint(obstacle.Layer),
		Mask:       cp.ALL_CATEGORIES,
	})
	s.space.AddShape(shape)
	s.shapes[obstacle.ID] = shape
	return nil
}

// Remove drops the shape registered for id.
func (s *Space) Remove(id uint64) error {
	shape, ok := s.shapes[id]
	if !ok {
		return fmt.Errorf("obstacle with id %d not found", id)
	}
	s.space.RemoveShape(shape)
	delete(s.shapes, id)
	return nil
}

// Len returns the number of registered shapes.
func (s *Space) Len() int {
	return len(s.shapes)
}

// CheckSphere reports whether a shape on a masked layer lies within radius of point.
func (s *Space) CheckSphere(point core.Vector3D, radius float64, mask core.LayerMask) bool {
	if mask == core.LayerNone || len(s.shapes) == 0 {
		return false
	}
	ground := point.Ground()
	info := s.space.PointQueryNearest(cp.Vector{X: ground.X, Y: ground.Y}, radius, queryFilter(mask))
	return info != nil && info.Shape != nil && info.Distance <= radius
}

// RaycastDown reports whether the ground under point is free of masked shapes.
func (s *Space) RaycastDown(point core.Vector3D, mask core.LayerMask) bool {
	return !s.CheckSphere(point, 0, mask)
}

func queryFilter(mask core.LayerMask) cp.ShapeFilter {
	return cp.ShapeFilter{
		Group:      cp.NO_GROUP,
		Categories: cp.ALL_CATEGORIES,
		Mask:       uint(mask),
	}
}
