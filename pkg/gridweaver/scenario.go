package gridweaver

import (
	"errors"
	"fmt"

	"gridweaver/internal/agent"
	"gridweaver/internal/core"
	"gridweaver/internal/scenario"
)

var (
	// ErrUnknownAgent is returned for an agent id the engine does not hold.
	ErrUnknownAgent = errors.New("unknown agent")
	// ErrOverlap is returned when a building is placed over another obstacle.
	ErrOverlap = errors.New("obstacle overlaps another")
)

// Apply places the scenario's obstacles, spawns its agents, starts their
// moves and queues its anonymous requests. Agents are returned by name.
func (e *Engine) Apply(sc *scenario.Scenario) (map[string]*agent.Mover, error) {
	for i, o := range sc.Obstacles {
		layer := core.LayerMask(o.Layer)
		if layer == core.LayerNone {
			layer = core.LayerMask(e.cfg.World.StaticMask)
		}
		obstacle := &core.Obstacle{Bounds: o.Bounds(), Layer: layer, Kind: o.ObstacleKind()}
		if err := e.PlaceObstacle(obstacle); err != nil {
			return nil, fmt.Errorf("scenario %q obstacle %d: %w", sc.Name, i, err)
		}
	}

	movers := make(map[string]*agent.Mover, len(sc.Agents))
	for _, a := range sc.Agents {
		opts := e.AgentOptions()
		if a.Speed > 0 {
			opts.Speed = a.Speed
		}
		if a.Radius > 0 {
			opts.Radius = a.Radius
		}
		m, err := e.NewAgent(a.Position.Vector(), &opts)
		if err != nil {
			return nil, fmt.Errorf("scenario %q agent %q: %w", sc.Name, a.Name, err)
		}
		movers[a.Name] = m
	}

	for _, a := range sc.Agents {
		m := movers[a.Name]
		switch {
		case a.Follow != "":
			if err := e.Follow(m.ID(), movers[a.Follow].ID(), a.MinRange, a.MaxRange); err != nil {
				return nil, fmt.Errorf("scenario %q agent %q: %w", sc.Name, a.Name, err)
			}
		case a.Destination != nil:
			if _, err := e.MoveAgent(m.ID(), a.Destination.Vector(), a.Override); err != nil {
				return nil, fmt.Errorf("scenario %q agent %q: %w", sc.Name, a.Name, err)
			}
		}
	}

	for i, r := range sc.Requests {
		i := i
		e.RequestPath(r.Start.Vector(), r.End.Vector(), func(waypoints []core.Vector3D, ok bool) {
			e.logger.Printf("scenario %q request %d: ok=%t waypoints=%d", sc.Name, i, ok, len(waypoints))
		}, core.InvalidAgentID, core.InvalidAgentID)
	}

	e.logger.Printf("scenario %q applied: %d obstacles, %d agents, %d requests",
		sc.Name, len(sc.Obstacles), len(sc.Agents), len(sc.Requests))
	return movers, nil
}
