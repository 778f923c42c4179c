package agent

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"gridweaver/internal/core"
	"gridweaver/internal/waypoint"
)

// ErrInvalidOptions is returned for a mover that cannot move.
var ErrInvalidOptions = errors.New("invalid mover options")

// arriveEpsilon is how close a mover must get to a waypoint to advance.
const arriveEpsilon = 1e-6

// Footprint receives an agent's cell claims.
type Footprint interface {
	Claim(corners []core.Vector3D, agentID core.AgentID)
	Release(corners []core.Vector3D, agentID core.AgentID)
}

// TargetFunc reports the position of a followed target and whether it still
// exists.
type TargetFunc func() (core.Vector3D, bool)

// Options configures a Mover. Speed is in world units per second.
type Options struct {
	Speed float64
	// Radius is the half-width of the square footprint the mover claims.
	// Zero claims nothing.
	Radius float64
	// A new destination within RepathDistance of the last requested one is
	// ignored while the last request is younger than RepathInterval.
	RepathDistance float64
	RepathInterval time.Duration

	// Now replaces time.Now.
	Now func() time.Time
}

type follow struct {
	position TargetFunc
	target   core.AgentID
	minRange float64
	maxRange float64
}

// Mover walks one agent along the waypoints of its cursor. Update is meant
// to be called once per frame; the other methods may be called from any
// goroutine.
type Mover struct {
	mu sync.Mutex

	id        core.AgentID
	position  core.Vector3D
	opts      Options
	cursor    *waypoint.Cursor
	footprint Footprint
	claimed   []core.Vector3D

	lastDest    core.Vector3D
	lastRequest time.Time
	requested   bool

	follow *follow
}

// NewMover places agent id at position and claims its footprint.
func NewMover(id core.AgentID, position core.Vector3D, requester waypoint.Requester, footprint Footprint, opts Options) (*Mover, error) {
	if !id.Valid() {
		return nil, fmt.Errorf("%w: agent id %d", ErrInvalidOptions, id)
	}
	if opts.Speed <= 0 || math.IsNaN(opts.Speed) {
		return nil, fmt.Errorf("%w: speed %.3f", ErrInvalidOptions, opts.Speed)
	}
	if opts.Radius < 0 {
		return nil, fmt.Errorf("%w: radius %.3f", ErrInvalidOptions, opts.Radius)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	m := &Mover{
		id:        id,
		position:  position,
		opts:      opts,
		cursor:    waypoint.New(requester, id),
		footprint: footprint,
	}
	m.claimLocked()
	return m, nil
}

func (m *Mover) ID() core.AgentID { return m.id }

// Cursor exposes the mover's waypoint cursor.
func (m *Mover) Cursor() *waypoint.Cursor { return m.cursor }

func (m *Mover) Position() core.Vector3D {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.position
}

// Radius is the half-width of the claimed footprint.
func (m *Mover) Radius() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opts.Radius
}

// MoveToDestination sends the mover to dest and stops any follow. With
// override the mover walks straight there without a search. It reports
// whether a new destination was taken.
func (m *Mover) MoveToDestination(dest core.Vector3D, override bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.follow != nil {
		m.follow = nil
		m.cursor.SetTarget(core.InvalidAgentID)
	}
	if override {
		m.cursor.SetDirect(dest)
		m.remember(dest)
		return true
	}
	return m.requestLocked(dest)
}

// Follow keeps the mover between minRange and maxRange of a moving target.
// Cells claimed by target are passable to the mover's searches.
func (m *Mover) Follow(position TargetFunc, target core.AgentID, minRange, maxRange float64) error {
	if position == nil || minRange < 0 || maxRange < minRange {
		return fmt.Errorf("%w: follow range [%.2f, %.2f]", ErrInvalidOptions, minRange, maxRange)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.follow = &follow{position: position, target: target, minRange: minRange, maxRange: maxRange}
	m.cursor.SetTarget(target)
	return nil
}

// Following reports whether the mover tracks a target.
func (m *Mover) Following() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.follow != nil
}

// Stop drops the current path and any follow target.
func (m *Mover) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.follow = nil
	m.requested = false
	m.cursor.SetTarget(core.InvalidAgentID)
	m.cursor.Clear()
}

// Arrived reports whether the mover has nothing left to walk.
func (m *Mover) Arrived() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.cursor.Current()
	return !ok || (m.cursor.AtLastWaypoint() && m.position.Distance(current) <= arriveEpsilon)
}

// Update advances the mover by dt seconds and reports whether it moved.
func (m *Mover) Update(dt float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.follow != nil {
		m.updateFollow()
	}

	budget := m.opts.Speed * dt
	start := m.position
	for budget > 0 {
		current, ok := m.cursor.Current()
		if !ok {
			break
		}
		dist := m.position.Distance(current)
		m.position = m.position.MoveTowards(current, budget)
		budget -= dist
		if m.position.Distance(current) > arriveEpsilon || m.cursor.AtLastWaypoint() {
			break
		}
		m.cursor.MoveNext()
	}

	if m.position == start {
		return false
	}
	m.releaseLocked()
	m.claimLocked()
	return true
}

// Refresh claims the current footprint again, after the cells under the
// mover were reset by someone else.
func (m *Mover) Refresh() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.claimLocked()
}

// SetRepath changes the re-request thresholds.
func (m *Mover) SetRepath(distance float64, interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opts.RepathDistance = distance
	m.opts.RepathInterval = interval
}

// Dispose releases the mover's footprint.
func (m *Mover) Dispose() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.follow = nil
	m.cursor.Clear()
	m.releaseLocked()
}

func (m *Mover) updateFollow() {
	targetPos, ok := m.follow.position()
	if !ok {
		m.follow = nil
		m.cursor.SetTarget(core.InvalidAgentID)
		m.cursor.Clear()
		return
	}

	dist := m.position.Distance(targetPos)
	if dist >= m.follow.minRange && dist <= m.follow.maxRange {
		if !m.cursor.Empty() {
			m.cursor.Clear()
		}
		m.requested = false
		return
	}
	if dist == 0 {
		return
	}
	m.requestLocked(targetPos.Lerp(m.position, m.follow.maxRange/dist))
}

// requestLocked issues a search unless dest repeats a recent request.
func (m *Mover) requestLocked(dest core.Vector3D) bool {
	now := m.opts.Now()
	if m.requested &&
		dest.Distance(m.lastDest) < m.opts.RepathDistance &&
		now.Sub(m.lastRequest) < m.opts.RepathInterval {
		return false
	}
	m.cursor.NewRequest(m.position, dest)
	m.remember(dest)
	return true
}

func (m *Mover) remember(dest core.Vector3D) {
	m.lastDest = dest
	m.lastRequest = m.opts.Now()
	m.requested = true
}

func (m *Mover) claimLocked() {
	if m.footprint == nil || m.opts.Radius == 0 {
		return
	}
	m.claimed = core.Square(m.position, m.opts.Radius).Corners()
	m.footprint.Claim(m.claimed, m.id)
}

func (m *Mover) releaseLocked() {
	if m.footprint == nil || m.claimed == nil {
		return
	}
	m.footprint.Release(m.claimed, m.id)
	m.claimed = nil
}
