// Package agent moves agents along found paths and keeps their grid
// footprint claims current.
package agent

import (
	"sync"

	"gridweaver/internal/core"
)

// Tracker hands out agent ids. Ids start at 1 and are never reused.
type Tracker struct {
	mu   sync.Mutex
	last core.AgentID
	live map[core.AgentID]struct{}
}

// NewTracker returns a tracker with no live ids.
func NewTracker() *Tracker {
	return &Tracker{live: make(map[core.AgentID]struct{})}
}

// Allocate returns a fresh id.
func (t *Tracker) Allocate() core.AgentID {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.last++
	t.live[t.last] = struct{}{}
	return t.last
}

// Release retires id. It reports whether the id was live.
func (t *Tracker) Release(id core.AgentID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.live[id]; !ok {
		return false
	}
	delete(t.live, id)
	return true
}

// Alive reports whether id has been allocated and not released.
func (t *Tracker) Alive(id core.AgentID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.live[id]
	return ok
}

// Count is the number of live ids.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.live)
}
