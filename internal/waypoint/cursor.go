// Package waypoint tracks an agent's progress along a found path.
package waypoint

import (
	"sync"

	"gridweaver/internal/core"
)

// Requester issues asynchronous path requests. *request.Queue implements it.
type Requester interface {
	RequestPath(start, end core.Vector3D, callback func(waypoints []core.Vector3D, ok bool), requester, target core.AgentID) uint64
}

// Cursor walks a waypoint sequence. Every request and every Clear bumps the
// generation; a result is adopted only if it belongs to the current
// generation, so a late result can never resurrect a cleared path.
// A Cursor is safe for concurrent use.
type Cursor struct {
	mu sync.Mutex

	requester Requester
	agent     core.AgentID
	target    core.AgentID

	waypoints  []core.Vector3D
	index      int
	generation uint64
}

// New returns an empty cursor issuing requests on behalf of agent.
func New(requester Requester, agent core.AgentID) *Cursor {
	return &Cursor{
		requester: requester,
		agent:     agent,
		target:    core.InvalidAgentID,
		index:     -1,
	}
}

// SetTarget sets the agent whose cells subsequent requests may path onto.
func (c *Cursor) SetTarget(target core.AgentID) {
	c.mu.Lock()
	c.target = target
	c.mu.Unlock()
}

// NewRequest asks for a path from start to end. The current waypoints stay
// in place until the result arrives. It returns the request's generation.
func (c *Cursor) NewRequest(start, end core.Vector3D) uint64 {
	c.mu.Lock()
	c.generation++
	generation := c.generation
	requester, agent, target := c.requester, c.agent, c.target
	c.mu.Unlock()

	if requester != nil {
		requester.RequestPath(start, end, func(waypoints []core.Vector3D, ok bool) {
			c.OnPathFound(generation, waypoints, ok)
		}, agent, target)
	}
	return generation
}

// OnPathFound applies the result of the request made at generation. It
// reports whether the waypoints were adopted. Failures and stale results
// leave the cursor unchanged.
func (c *Cursor) OnPathFound(generation uint64, waypoints []core.Vector3D, ok bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !ok || generation != c.generation || len(waypoints) == 0 {
		return false
	}
	c.waypoints = waypoints
	c.index = 0
	return true
}

// SetDirect replaces the path with the single point p, bypassing search.
func (c *Cursor) SetDirect(p core.Vector3D) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	c.waypoints = []core.Vector3D{p}
	c.index = 0
}

// Clear drops the path and invalidates any request in flight.
func (c *Cursor) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLocked()
}

func (c *Cursor) clearLocked() {
	c.generation++
	c.waypoints = nil
	c.index = -1
}

// MoveNext advances to the next waypoint. It does nothing on the last one.
func (c *Cursor) MoveNext() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.index < 0 || c.atLastLocked() {
		return
	}
	c.index++
}

// Current returns the waypoint being walked towards.
func (c *Cursor) Current() (core.Vector3D, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.index < 0 {
		return core.Vector3D{}, false
	}
	return c.waypoints[c.index], true
}

// First and Last return the ends of the whole path, whatever the current
// index. They report false when the cursor is empty.
func (c *Cursor) First() (core.Vector3D, bool) {
	return c.At(0)
}

func (c *Cursor) Last() (core.Vector3D, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.index < 0 {
		return core.Vector3D{}, false
	}
	return c.waypoints[len(c.waypoints)-1], true
}

// At returns waypoint i of the whole path.
func (c *Cursor) At(i int) (core.Vector3D, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.index < 0 || i < 0 || i >= len(c.waypoints) {
		return core.Vector3D{}, false
	}
	return c.waypoints[i], true
}

// Remaining returns a copy of the waypoints from the current one on, or nil
// when empty.
func (c *Cursor) Remaining() []core.Vector3D {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.index < 0 {
		return nil
	}
	return append([]core.Vector3D(nil), c.waypoints[c.index:]...)
}

// Len is the length of the whole path.
func (c *Cursor) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waypoints)
}

// Index is the current waypoint index, -1 when empty.
func (c *Cursor) Index() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index
}

// Generation is the generation of the latest request or clear.
func (c *Cursor) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// AtFirstWaypoint reports whether nothing has been consumed yet.
func (c *Cursor) AtFirstWaypoint() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index == 0
}

// AtLastWaypoint reports whether the current waypoint is the destination.
func (c *Cursor) AtLastWaypoint() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.atLastLocked()
}

// Empty reports whether there is no path.
func (c *Cursor) Empty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index < 0
}

func (c *Cursor) atLastLocked() bool {
	return c.index >= 0 && len(c.waypoints)-c.index <= 1
}
