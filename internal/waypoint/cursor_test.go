package waypoint

import (
	"testing"

	"gridweaver/internal/core"
)

func TestCursorAdoptsPath(t *testing.T) {
	requests := &recorder{}
	c := New(requests, 7)

	if !c.Empty() || c.Index() != -1 {
		t.Fatalf("Expected a new cursor to be empty")
	}

	c.NewRequest(point(0), point(3))
	if len(requests.calls) != 1 || requests.calls[0].agent != 7 {
		t.Fatalf("Expected one request for agent 7, got %+v", requests.calls)
	}
	if !c.Empty() {
		t.Fatalf("Expected the cursor to stay empty until the result arrives")
	}

	requests.deliver(0, path(1, 2, 3), true)
	if c.Empty() || !c.AtFirstWaypoint() {
		t.Fatalf("Expected the path to be adopted at index 0")
	}
	if got, _ := c.Current(); got != point(1) {
		t.Fatalf("Current = %+v, want %+v", got, point(1))
	}
	if got, _ := c.Last(); got != point(3) {
		t.Fatalf("Last = %+v, want %+v", got, point(3))
	}
	if c.Len() != 3 || len(c.Remaining()) != 3 {
		t.Fatalf("Expected 3 waypoints, got len %d remaining %d", c.Len(), len(c.Remaining()))
	}

	c.MoveNext()
	c.MoveNext()
	if !c.AtLastWaypoint() || c.Index() != 2 {
		t.Fatalf("Expected to be on the last waypoint, index %d", c.Index())
	}
	c.MoveNext()
	if c.Index() != 2 {
		t.Fatalf("Expected MoveNext to stop on the last waypoint, index %d", c.Index())
	}
	if got := c.Remaining(); len(got) != 1 || got[0] != point(3) {
		t.Fatalf("Remaining = %v", got)
	}
	if got, ok := c.At(1); !ok || got != point(2) {
		t.Fatalf("At(1) = %+v, %v", got, ok)
	}
	if _, ok := c.At(3); ok {
		t.Fatalf("Expected At past the end to fail")
	}
}

func TestCursorDiscardsStaleResults(t *testing.T) {
	tests := []struct {
		name  string
		setup func(c *Cursor, r *recorder)
		// index of the request to deliver last
		deliver int
		want    bool
	}{
		{
			name: "clear before result",
			setup: func(c *Cursor, r *recorder) {
				c.NewRequest(point(0), point(1))
				c.Clear()
			},
			deliver: 0,
		},
		{
			name: "two clears before result",
			setup: func(c *Cursor, r *recorder) {
				c.NewRequest(point(0), point(1))
				c.Clear()
				c.Clear()
			},
			deliver: 0,
		},
		{
			name: "superseded request",
			setup: func(c *Cursor, r *recorder) {
				c.NewRequest(point(0), point(1))
				c.NewRequest(point(0), point(2))
			},
			deliver: 0,
		},
		{
			name: "clear then new request",
			setup: func(c *Cursor, r *recorder) {
				c.NewRequest(point(0), point(1))
				c.Clear()
				c.NewRequest(point(0), point(2))
			},
			deliver: 1,
			want:    true,
		},
		{
			name: "override mode",
			setup: func(c *Cursor, r *recorder) {
				c.NewRequest(point(0), point(1))
				c.SetDirect(point(5))
			},
			deliver: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &recorder{}
			c := New(r, 1)
			tt.setup(c, r)
			before := c.Remaining()

			r.deliver(tt.deliver, path(8, 9), true)

			if tt.want {
				if got, _ := c.Current(); got != point(8) {
					t.Fatalf("Expected the current result to be adopted, got %+v", got)
				}
				return
			}
			if got := c.Remaining(); !equalPoints(got, before) {
				t.Fatalf("Expected the stale result to be discarded, got %v want %v", got, before)
			}
		})
	}
}

func TestCursorFailureKeepsState(t *testing.T) {
	r := &recorder{}
	c := New(r, 1)
	c.NewRequest(point(0), point(2))
	r.deliver(0, path(1, 2), true)
	c.MoveNext()

	c.NewRequest(point(1), point(9))
	r.deliver(1, []core.Vector3D{}, false)

	if c.Index() != 1 || c.Len() != 2 {
		t.Fatalf("Expected a failed search to leave the path alone, index %d len %d", c.Index(), c.Len())
	}
}

func TestCursorTargetIsForwarded(t *testing.T) {
	r := &recorder{}
	c := New(r, 3)
	c.SetTarget(4)
	c.NewRequest(point(0), point(1))

	if r.calls[0].target != 4 {
		t.Fatalf("Expected target 4, got %d", r.calls[0].target)
	}
}

func TestSetDirect(t *testing.T) {
	c := New(nil, 1)
	c.SetDirect(point(4))

	if c.Len() != 1 || !c.AtFirstWaypoint() || !c.AtLastWaypoint() {
		t.Fatalf("Expected a single waypoint path")
	}
	c.Clear()
	if !c.Empty() || c.Remaining() != nil {
		t.Fatalf("Expected Clear to empty the cursor")
	}
	if _, ok := c.Current(); ok {
		t.Fatalf("Expected no current waypoint after Clear")
	}
}

type call struct {
	callback func([]core.Vector3D, bool)
	agent    core.AgentID
	target   core.AgentID
}

type recorder struct {
	calls []call
}

func (r *recorder) RequestPath(_, _ core.Vector3D, callback func([]core.Vector3D, bool), requester, target core.AgentID) uint64 {
	r.calls = append(r.calls, call{callback: callback, agent: requester, target: target})
	return uint64(len(r.calls))
}

func (r *recorder) deliver(i int, waypoints []core.Vector3D, ok bool) {
	r.calls[i].callback(waypoints, ok)
}

func point(x float64) core.Vector3D {
	return core.Vector3D{X: x}
}

func path(xs ...float64) []core.Vector3D {
	out := make([]core.Vector3D, len(xs))
	for i, x := range xs {
		out[i] = point(x)
	}
	return out
}

func equalPoints(a, b []core.Vector3D) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
