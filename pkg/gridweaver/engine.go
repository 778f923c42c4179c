// Package gridweaver wires the grid, the pathfinder, the request queue and
// the agents of one terrain into an Engine.
package gridweaver

import (
	"context"
	"fmt"
	"io"
	"log"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"gridweaver/internal/agent"
	"gridweaver/internal/config"
	"gridweaver/internal/core"
	"gridweaver/internal/grid"
	"gridweaver/internal/pathfinding"
	"gridweaver/internal/physics"
	"gridweaver/internal/request"
	"gridweaver/internal/scene"
	"gridweaver/internal/snapshot"
)

// statsEvery is how many ticks pass between grid stats publications.
const statsEvery = 60

// Observer receives engine events in addition to queue lifecycle hooks.
type Observer interface {
	request.Listener
	PublishGrid(tick uint64, stats grid.Stats)
	PublishObstacle(obstacle core.Obstacle, removed bool)
}

// Engine is the pathfinding service of one terrain. It is constructed once
// and shared by everything that moves on the terrain.
type Engine struct {
	cfg    config.Config
	logger *log.Logger

	bounds core.AABB
	scene  *scene.Manager
	grid   *grid.Grid
	finder *pathfinding.Finder
	queue  *request.Queue

	tracker *agent.Tracker
	tickMu  sync.Mutex
	mu      sync.RWMutex
	agents  map[core.AgentID]*agent.Mover
	agentCf config.AgentConfig

	observers []Observer
	ticks     atomic.Uint64
}

// Stats is a point-in-time summary of an Engine.
type Stats struct {
	Tick      uint64         `json:"tick"`
	Grid      grid.Stats     `json:"grid"`
	Queue     request.Stats  `json:"queue"`
	Agents    int            `json:"agents"`
	Obstacles int            `json:"obstacles"`
	Kinds     map[string]int `json:"kinds,omitempty"`
	Algorithm string         `json:"algorithm"`
}

// New builds an engine from cfg. A nil logger discards output.
func New(cfg config.Config, logger *log.Logger) (*Engine, error) {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	w := cfg.World
	bounds := core.AABB{
		Min: core.Vector2D{X: w.CenterX - w.Width/2, Y: w.CenterZ - w.Depth/2},
		Max: core.Vector2D{X: w.CenterX + w.Width/2, Y: w.CenterZ + w.Depth/2},
	}

	// A nil backend answers from the scene's own quadtree.
	var backend scene.Backend
	if w.Backend == config.BackendPhysics {
		backend = physics.NewSpace()
	}
	sceneManager := scene.NewManager(bounds, backend)

	g, err := grid.New(grid.Config{
		WorldSize:   core.Vector2D{X: w.Width, Y: w.Depth},
		Center:      core.Vector3D{X: w.CenterX, Z: w.CenterZ},
		NodeRadius:  w.NodeRadius,
		StaticMask:  core.LayerMask(w.StaticMask),
		DynamicMask: core.LayerMask(w.DynamicMask),
		Obstruction: sceneManager,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build grid: %w", err)
	}

	finder := pathfinding.NewFinder(g, pathfinding.Options{
		Algorithm: cfg.Algorithm(),
		Metric:    cfg.Metric(),
		MaxNodes:  cfg.Search.MaxNodes,
		Logger:    logger,
	})
	queue := request.NewQueue(finder, request.Options{
		StepsPerTick: cfg.Scheduler.StepsPerTick,
		TimeBudget:   cfg.Scheduler.TimeBudget.Std(),
		Logger:       logger,
	})

	logger.Printf("engine ready: %s search, %s metric, %s backend", finder.Algorithm(), finder.Metric(), w.Backend)
	return &Engine{
		cfg:     cfg,
		logger:  logger,
		bounds:  bounds,
		scene:   sceneManager,
		grid:    g,
		finder:  finder,
		queue:   queue,
		tracker: agent.NewTracker(),
		agents:  make(map[core.AgentID]*agent.Mover),
		agentCf: cfg.Agents,
	}, nil
}

// Accessors for the engine's parts. They are shared, not copies.
func (e *Engine) Config() config.Config { return e.cfg }
func (e *Engine) Grid() *grid.Grid { return e.grid }
func (e *Engine) Scene() *scene.Manager { return e.scene }
func (e *Engine) Queue() *request.Queue { return e.queue }
func (e *Engine) Bounds() core.AABB { return e.bounds }

// Attach registers an observer for queue and engine events.
func (e *Engine) Attach(o Observer) {
	e.queue.AddListener(o)
	e.mu.Lock()
	e.observers = append(e.observers, o)
	e.mu.Unlock()
}

// AddListener registers queue lifecycle hooks only.
func (e *Engine) AddListener(l request.Listener) {
	e.queue.AddListener(l)
}

// RequestGridAreaUpdate updates the cells under corners. The request is
// dropped when any corner lies outside the terrain. It reports whether the
// grid was updated.
func (e *Engine) RequestGridAreaUpdate(corners []core.Vector3D, agentID core.AgentID, reset bool) bool {
	if len(corners) == 0 {
		return false
	}
	for _, corner := range corners {
		if !e.onTerrain(corner) {
			e.logger.Printf("area update for agent %d ignored: corner (%.2f, %.2f) off terrain", agentID, corner.X, corner.Z)
			return false
		}
	}
	e.grid.RequestAreaUpdate(corners, agentID, reset)
	return true
}

func (e *Engine) onTerrain(p core.Vector3D) bool {
	halfWidth, halfDepth := e.cfg.World.Width/2, e.cfg.World.Depth/2
	return math.Abs(p.X-e.cfg.World.CenterX) <= halfWidth && math.Abs(p.Z-e.cfg.World.CenterZ) <= halfDepth
}

// RequestPath queues a search. onComplete runs from a later Tick.
func (e *Engine) RequestPath(start, end core.Vector3D, onComplete request.Callback, requester, target core.AgentID) uint64 {
	return e.queue.RequestPath(start, end, onComplete, requester, target)
}

// AgentOptions returns the configured defaults for new agents.
func (e *Engine) AgentOptions() agent.Options {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return agent.Options{
		Speed:          e.agentCf.Speed,
		Radius:         e.agentCf.Radius,
		RepathDistance: e.agentCf.RepathDistance,
		RepathInterval: e.agentCf.RepathInterval.Std(),
	}
}

// NewAgent spawns an agent at position. Nil options use the configured
// defaults.
func (e *Engine) NewAgent(position core.Vector3D, opts *agent.Options) (*agent.Mover, error) {
	o := e.AgentOptions()
	if opts != nil {
		o = *opts
	}

	id := e.tracker.Allocate()
	m, err := agent.NewMover(id, position, e.queue, footprint{e}, o)
	if err != nil {
		e.tracker.Release(id)
		return nil, err
	}

	e.mu.Lock()
	e.agents[id] = m
	e.mu.Unlock()
	return m, nil
}

// Agent returns a live agent.
func (e *Engine) Agent(id core.AgentID) (*agent.Mover, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	m, ok := e.agents[id]
	return m, ok
}

// RemoveAgent releases the agent's claims and retires its id.
func (e *Engine) RemoveAgent(id core.AgentID) bool {
	e.mu.Lock()
	m, ok := e.agents[id]
	delete(e.agents, id)
	e.mu.Unlock()
	if !ok {
		return false
	}

	m.Dispose()
	e.grid.ReleaseAgent(id)
	e.tracker.Release(id)
	return true
}

// MoveAgent sends agent id to dest. A search is queued unless override is
// set; an override walks the straight line and stops short of the first
// static obstacle on it. It returns the destination taken.
func (e *Engine) MoveAgent(id core.AgentID, dest core.Vector3D, override bool) (core.Vector3D, error) {
	m, ok := e.Agent(id)
	if !ok {
		return core.Vector3D{}, fmt.Errorf("%w: agent %d", ErrUnknownAgent, id)
	}
	if override {
		dest = e.clipStraightMove(m.Position(), dest, m.Radius())
	}
	m.MoveToDestination(dest, override)
	return dest, nil
}

func (e *Engine) clipStraightMove(from, to core.Vector3D, radius float64) core.Vector3D {
	direction := to.Sub(from)
	distance := direction.Magnitude()
	mask := core.LayerMask(e.cfg.World.StaticMask)
	if distance == 0 || mask == core.LayerNone {
		return to
	}
	hit, ok := e.scene.Raycast(from.Ground(), direction.Ground(), distance, mask)
	if !ok {
		return to
	}
	e.logger.Printf("straight move cut at obstacle %d, %.2f of %.2f", hit.Obstacle.ID, hit.Distance, distance)
	return from.MoveTowards(to, max(hit.Distance-radius, 0))
}

// Follow makes follower keep between minRange and maxRange of target.
func (e *Engine) Follow(follower, target core.AgentID, minRange, maxRange float64) error {
	m, ok := e.Agent(follower)
	if !ok {
		return fmt.Errorf("%w: follower %d", ErrUnknownAgent, follower)
	}
	if !e.tracker.Alive(target) || follower == target {
		return fmt.Errorf("%w: target %d", ErrUnknownAgent, target)
	}
	position := func() (core.Vector3D, bool) {
		if !e.tracker.Alive(target) {
			return core.Vector3D{}, false
		}
		t, ok := e.Agent(target)
		if !ok {
			return core.Vector3D{}, false
		}
		return t.Position(), true
	}
	return m.Follow(position, target, minRange, maxRange)
}

// PlaceObstacle registers an obstacle and rescans the cells it touches. A
// building may not overlap another obstacle on its layers.
func (e *Engine) PlaceObstacle(obstacle *core.Obstacle) error {
	if obstacle != nil && obstacle.Kind == core.ObstacleKindBuilding && obstacle.Layer != core.LayerNone {
		if overlaps := e.scene.OverlapBox(obstacle.Bounds, obstacle.Layer); len(overlaps) > 0 {
			return fmt.Errorf("%w: building overlaps obstacle %d", ErrOverlap, overlaps[0].ID)
		}
	}
	if err := e.scene.AddObstacle(obstacle); err != nil {
		return fmt.Errorf("failed to place obstacle: %w", err)
	}
	e.grid.RequestAreaUpdate(e.scanArea(obstacle.Bounds), core.InvalidAgentID, false)

	e.publishObstacle(*obstacle, false)
	return nil
}

// RemoveObstacle unregisters an obstacle. Its cells are reset and rescanned,
// and agents standing there claim their footprint again.
func (e *Engine) RemoveObstacle(id uint64) error {
	obstacle, err := e.scene.RemoveObstacle(id)
	if err != nil {
		return fmt.Errorf("failed to remove obstacle: %w", err)
	}
	area := e.scanArea(obstacle.Bounds)
	e.grid.RequestAreaUpdate(area, core.InvalidAgentID, true)
	e.grid.RequestAreaUpdate(area, core.InvalidAgentID, false)
	e.refreshAgents()

	e.publishObstacle(*obstacle, true)
	return nil
}

// scanArea widens bounds by one cell so that every cell whose test sphere
// can touch the footprint is covered with the far edge exclusive.
func (e *Engine) scanArea(bounds core.AABB) []core.Vector3D {
	d := e.grid.NodeDiameter()
	return core.AABB{
		Min: core.Vector2D{X: bounds.Min.X - d, Y: bounds.Min.Y - d},
		Max: core.Vector2D{X: bounds.Max.X + d, Y: bounds.Max.Y + d},
	}.Corners()
}

// Tick advances the in-flight search and moves every agent by dt seconds.
// It returns the number of searches completed.
func (e *Engine) Tick(dt float64) int {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	completed := e.queue.Tick()
	for _, m := range e.moversByID() {
		m.Update(dt)
	}

	tick := e.ticks.Add(1)
	if tick%statsEvery == 0 {
		e.publishGrid(tick)
	}
	return completed
}

// Run ticks the engine at the configured interval until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	interval := e.cfg.Scheduler.TickInterval.Std()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	dt := interval.Seconds()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.Tick(dt)
		}
	}
}

// Ticks is the number of completed ticks.
func (e *Engine) Ticks() uint64 { return e.ticks.Load() }

// Stats gathers counters from the grid, scene and queue.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	agents := len(e.agents)
	e.mu.RUnlock()

	kinds := make(map[string]int)
	for kind, n := range e.scene.KindCounts() {
		kinds[kind.String()] = n
	}
	return Stats{
		Tick:      e.ticks.Load(),
		Grid:      e.grid.Stats(),
		Queue:     e.queue.Stats(),
		Agents:    agents,
		Obstacles: e.scene.Count(),
		Kinds:     kinds,
		Algorithm: e.finder.Algorithm().String(),
	}
}

// ApplyTunables adopts the settings of cfg that can change while running:
// scheduler steps and the agents' re-request thresholds.
func (e *Engine) ApplyTunables(cfg config.Config) {
	e.queue.SetStepsPerTick(cfg.Scheduler.StepsPerTick)

	e.mu.Lock()
	e.agentCf.RepathDistance = cfg.Agents.RepathDistance
	e.agentCf.RepathInterval = cfg.Agents.RepathInterval
	movers := make([]*agent.Mover, 0, len(e.agents))
	for _, m := range e.agents {
		movers = append(movers, m)
	}
	e.mu.Unlock()

	for _, m := range movers {
		m.SetRepath(cfg.Agents.RepathDistance, cfg.Agents.RepathInterval.Std())
	}
	e.logger.Printf("tunables applied: %d steps per tick, repath %.2f/%s",
		cfg.Scheduler.StepsPerTick, cfg.Agents.RepathDistance, cfg.Agents.RepathInterval.Std())
}

// SaveSnapshot writes the grid state and obstacles to path.
func (e *Engine) SaveSnapshot(path string) (snapshot.Header, error) {
	snap := snapshot.New(e.ticks.Load(), e.grid.NodeRadius(), e.grid.Snapshot(), e.scene.Obstacles())
	if err := snapshot.Write(path, snap); err != nil {
		return snap.Header, fmt.Errorf("failed to write snapshot: %w", err)
	}
	e.logger.Printf("snapshot %s written at tick %d (%d obstacles)", path, snap.Header.Tick, snap.Header.Obstacles)
	return snap.Header, nil
}

// LoadSnapshot replaces the obstacles and cell state with those saved at
// path. Live agents claim their footprint again afterwards.
func (e *Engine) LoadSnapshot(path string) error {
	snap, err := snapshot.Read(path)
	if err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}
	if snap.Header.NodeRadius != e.grid.NodeRadius() {
		return fmt.Errorf("%w: snapshot node radius %.3f, grid %.3f", grid.ErrInvalidGrid, snap.Header.NodeRadius, e.grid.NodeRadius())
	}
	if err := e.grid.Restore(snap.Grid); err != nil {
		return err
	}

	if err := e.scene.Clear(); err != nil {
		return fmt.Errorf("failed to clear obstacles: %w", err)
	}
	for i := range snap.Obstacles {
		obstacle := snap.Obstacles[i]
		if err := e.scene.AddObstacle(&obstacle); err != nil {
			return fmt.Errorf("failed to restore obstacle %d: %w", obstacle.ID, err)
		}
	}
	e.refreshAgents()

	e.logger.Printf("snapshot %s loaded from tick %d", path, snap.Header.Tick)
	return nil
}

func (e *Engine) moversByID() []*agent.Mover {
	e.mu.RLock()
	defer e.mu.RUnlock()

	movers := make([]*agent.Mover, 0, len(e.agents))
	for _, m := range e.agents {
		movers = append(movers, m)
	}
	sort.Slice(movers, func(i, j int) bool { return movers[i].ID() < movers[j].ID() })
	return movers
}

func (e *Engine) refreshAgents() {
	for _, m := range e.moversByID() {
		m.Refresh()
	}
}

func (e *Engine) publishGrid(tick uint64) {
	e.mu.RLock()
	observers := e.observers
	e.mu.RUnlock()
	if len(observers) == 0 {
		return
	}
	stats := e.grid.Stats()
	for _, o := range observers {
		o.PublishGrid(tick, stats)
	}
}

func (e *Engine) publishObstacle(obstacle core.Obstacle, removed bool) {
	e.mu.RLock()
	observers := e.observers
	e.mu.RUnlock()
	for _, o := range observers {
		o.PublishObstacle(obstacle, removed)
	}
}

// footprint routes agent claims through the engine's terrain check. The
// claim box is turned into whole cells around the cell the agent stands on.
type footprint struct {
	e *Engine
}

func (f footprint) Claim(corners []core.Vector3D, agentID core.AgentID) {
	if len(corners) == 0 {
		return
	}
	for _, corner := range corners {
		if !f.e.onTerrain(corner) {
			f.e.logger.Printf("footprint of agent %d ignored: corner (%.2f, %.2f) off terrain", agentID, corner.X, corner.Z)
			return
		}
	}
	center, halfExtent := squareOf(corners)
	f.e.grid.ClaimFootprint(center, halfExtent, agentID)
}

func (f footprint) Release(corners []core.Vector3D, agentID core.AgentID) {
	if len(corners) == 0 {
		return
	}
	center, halfExtent := squareOf(corners)
	f.e.grid.ReleaseFootprint(center, halfExtent, agentID)
}

// squareOf returns the centre and larger half-extent of the box of corners.
func squareOf(corners []core.Vector3D) (core.Vector3D, float64) {
	minX, minZ := corners[0].X, corners[0].Z
	maxX, maxZ := minX, minZ
	for _, c := range corners[1:] {
		minX, maxX = min(minX, c.X), max(maxX, c.X)
		minZ, maxZ = min(minZ, c.Z), max(maxZ, c.Z)
	}
	center := core.Vector3D{X: (minX + maxX) / 2, Y: corners[0].Y, Z: (minZ + maxZ) / 2}
	return center, max(maxX-minX, maxZ-minZ) / 2
}
