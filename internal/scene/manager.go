package scene

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"gridweaver/internal/collision"
	"gridweaver/internal/core"
	"gridweaver/internal/spatial"
)

var (
	ErrNotFound    = errors.New("obstacle not found")
	ErrDuplicate   = errors.New("obstacle already exists")
	ErrOutOfBounds = errors.New("obstacle outside scene bounds")
	ErrNilObstacle = errors.New("obstacle cannot be nil")
)

// Backend is the obstruction store kept in sync with the registry.
type Backend interface {
	core.Obstruction
	Insert(obstacle *core.Obstacle) error
	Remove(id uint64) error
}

// Manager registers the static obstacles of a scene and answers the grid's
// obstruction queries through its backend. It is safe for concurrent use.
type Manager struct {
	mu          sync.RWMutex
	obstacles   map[uint64]*core.Obstacle
	byKind      map[core.ObstacleKind]map[uint64]*core.Obstacle
	index       *spatial.QuadTree
	query       *collision.Detector
	backend     Backend
	sharedIndex bool
	bounds      core.AABB
	nextID      uint64
}

// NewManager creates a scene manager. A nil backend answers obstruction
// queries from the registry's own quadtree.
func NewManager(bounds core.AABB, backend Backend) *Manager {
	m := &Manager{
		obstacles: make(map[uint64]*core.Obstacle),
		byKind:    make(map[core.ObstacleKind]map[uint64]*core.Obstacle),
		index:     spatial.NewQuadTree(bounds),
		bounds:    bounds,
	}
	m.query = collision.NewDetector(m.index)
	if backend == nil {
		backend = m.query
		m.sharedIndex = true
	}
	m.backend = backend
	return m
}

// AddObstacle registers an obstacle, assigning an id when it has none.
func (m *Manager) AddObstacle(obstacle *core.Obstacle) error {
	if obstacle == nil {
		return ErrNilObstacle
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.bounds.Contains(obstacle.Bounds) {
		return fmt.Errorf("%w: %+v", ErrOutOfBounds, obstacle.Bounds)
	}
	if obstacle.ID == 0 {
		m.nextID++
		obstacle.ID = m.nextID
	}
	if _, exists := m.obstacles[obstacle.ID]; exists {
		return fmt.Errorf("%w: id %d", ErrDuplicate, obstacle.ID)
	}

	if err := m.index.Insert(obstacle); err != nil {
		return fmt.Errorf("failed to add obstacle to spatial index: %w", err)
	}
	if !m.sharedIndex {
		if err := m.backend.Insert(obstacle); err != nil {
			_ = m.index.Remove(obstacle.ID)
			return fmt.Errorf("failed to add obstacle to backend: %w", err)
		}
	}

	m.obstacles[obstacle.ID] = obstacle
	m.addToKindIndex(obstacle)
	m.nextID = max(m.nextID, obstacle.ID)
	return nil
}

// RemoveObstacle unregisters an obstacle and returns it.
func (m *Manager) RemoveObstacle(id uint64) (*core.Obstacle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	obstacle, exists := m.obstacles[id]
	if !exists {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}

	if err := m.index.Remove(id); err != nil {
		return nil, fmt.Errorf("failed to remove obstacle from spatial index: %w", err)
	}
	if !m.sharedIndex {
		if err := m.backend.Remove(id); err != nil {
			return nil, fmt.Errorf("failed to remove obstacle from backend: %w", err)
		}
	}

	delete(m.obstacles, id)
	if kind := m.byKind[obstacle.Kind]; kind != nil {
		delete(kind, id)
	}
	return obstacle, nil
}

// Clear unregisters every obstacle. Automatic ids keep counting from where
// they were.
func (m *Manager) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.sharedIndex {
		for id := range m.obstacles {
			if err := m.backend.Remove(id); err != nil {
				return fmt.Errorf("failed to remove obstacle from backend: %w", err)
			}
		}
	}
	m.index.Clear()
	m.obstacles = make(map[uint64]*core.Obstacle)
	m.byKind = make(map[core.ObstacleKind]map[uint64]*core.Obstacle)
	return nil
}

// Obstacle retrieves a copy of an obstacle by id.
func (m *Manager) Obstacle(id uint64) (core.Obstacle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obstacle, exists := m.obstacles[id]
	if !exists {
		return core.Obstacle{}, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return *obstacle, nil
}

// OverlapBox returns copies of the obstacles on mask that overlap bounds.
// It always answers from the registry's quadtree, whatever the backend.
func (m *Manager) OverlapBox(bounds core.AABB, mask core.LayerMask) []core.Obstacle {
	m.mu.RLock()
	defer m.mu.RUnlock()

	hits := m.query.OverlapBox(bounds, mask)
	obstacles := make([]core.Obstacle, 0, len(hits))
	for _, obstacle := range hits {
		obstacles = append(obstacles, *obstacle)
	}
	return obstacles
}

// Raycast casts a ground-plane ray against the obstacles on mask.
func (m *Manager) Raycast(start, direction core.Vector2D, maxDistance float64, mask core.LayerMask) (collision.RaycastHit, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	hit, ok := m.query.Raycast(start, direction, maxDistance, mask)
	if ok {
		obstacle := *hit.Obstacle
		hit.Obstacle = &obstacle
	}
	return hit, ok
}

// Obstacles returns copies of all registered obstacles ordered by id.
func (m *Manager) Obstacles() []core.Obstacle {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obstacles := make([]core.Obstacle, 0, len(m.obstacles))
	for _, obstacle := range m.obstacles {
		obstacles = append(obstacles, *obstacle)
	}
	sort.Slice(obstacles, func(i, j int) bool { return obstacles[i].ID < obstacles[j].ID })
	return obstacles
}

// KindCounts returns the number of registered obstacles of each kind.
func (m *Manager) KindCounts() map[core.ObstacleKind]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[core.ObstacleKind]int, len(m.byKind))
	for kind, obstacles := range m.byKind {
		if len(obstacles) > 0 {
			counts[kind] = len(obstacles)
		}
	}
	return counts
}

// Count returns the number of registered obstacles.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.obstacles)
}

// Bounds returns the scene boundaries
func (m *Manager) Bounds() core.AABB {
	return m.bounds
}

// CheckSphere implements core.Obstruction.
func (m *Manager) CheckSphere(point core.Vector3D, radius float64, mask core.LayerMask) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.backend.CheckSphere(point, radius, mask)
}

// RaycastDown implements core.Obstruction.
func (m *Manager) RaycastDown(point core.Vector3D, mask core.LayerMask) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.backend.RaycastDown(point, mask)
}

func (m *Manager) addToKindIndex(obstacle *core.Obstacle) {
	kind := m.byKind[obstacle.Kind]
	if kind == nil {
		kind = make(map[uint64]*core.Obstacle)
		m.byKind[obstacle.Kind] = kind
	}
	kind[obstacle.ID] = obstacle
}
