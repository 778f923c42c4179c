// Package config loads the YAML configuration of a gridweaver engine.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"gridweaver/internal/pathfinding"
)

// ErrInvalid is returned for a configuration that cannot drive an engine.
var ErrInvalid = errors.New("invalid config")

// Obstruction backends.
const (
	BackendQuadTree = "quadtree"
	BackendPhysics  = "cp"
)

// Config is the full engine configuration, as read from YAML.
type Config struct {
	World     WorldConfig     `yaml:"world"`
	Search    SearchConfig    `yaml:"search"`
	Agents    AgentConfig     `yaml:"agents"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Observer  ObserverConfig  `yaml:"observer"`
	Journal   JournalConfig   `yaml:"journal"`
	Snapshot  SnapshotConfig  `yaml:"snapshot"`
}

// WorldConfig describes the covered ground and its obstacle layers.
type WorldConfig struct {
	Width       float64 `yaml:"width"`
	Depth       float64 `yaml:"depth"`
	CenterX     float64 `yaml:"center_x"`
	CenterZ     float64 `yaml:"center_z"`
	NodeRadius  float64 `yaml:"node_radius"`
	StaticMask  uint32  `yaml:"static_mask"`
	DynamicMask uint32  `yaml:"dynamic_mask"`
	Backend     string  `yaml:"backend"`
}

type SearchConfig struct {
	Algorithm string `yaml:"algorithm"`
	Metric    string `yaml:"metric"`
	MaxNodes  int    `yaml:"max_nodes"`
}

type AgentConfig struct {
	Speed  float64 `yaml:"speed"`
	Radius float64 `yaml:"radius"`

	RepathDistance float64  `yaml:"repath_distance"`
	RepathInterval Duration `yaml:"repath_interval"`
}

type SchedulerConfig struct {
	StepsPerTick int      `yaml:"steps_per_tick"`
	TimeBudget   Duration `yaml:"time_budget"`
	TickInterval Duration `yaml:"tick_interval"`
}

type ObserverConfig struct {
	Addr string `yaml:"addr"`
}

type JournalConfig struct {
	Path string `yaml:"path"`
}

type SnapshotConfig struct {
	Path string `yaml:"path"`
}

// Duration reads and writes durations as strings such as "250ms".
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	if strings.TrimSpace(s) == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("%w: line %d: duration %q", ErrInvalid, node.Line, s)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Default returns a configuration for a 100x100 terrain of unit cells.
func Default() Config {
	return Config{
		World: WorldConfig{
			Width:       100,
			Depth:       100,
			NodeRadius:  0.5,
			StaticMask:  1,
			DynamicMask: 0,
			Backend:     BackendQuadTree,
		},
		Search: SearchConfig{
			Algorithm: "astar",
			Metric:    "octile",
			MaxNodes:  0,
		},
		Agents: AgentConfig{
			Speed:          4,
			Radius:         0.5,
			RepathDistance: 1,
			RepathInterval: Duration(500 * time.Millisecond),
		},
		Scheduler: SchedulerConfig{
			StepsPerTick: 256,
			TickInterval: Duration(16 * time.Millisecond),
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Write stores cfg as YAML.
func Write(path string, cfg Config) error {
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// Normalize fills unset fields with defaults.
func (c *Config) Normalize() {
	c.World.Backend = strings.ToLower(strings.TrimSpace(c.World.Backend))
	if c.World.Backend == "" {
		c.World.Backend = BackendQuadTree
	}
	c.Search.Algorithm = strings.TrimSpace(c.Search.Algorithm)
	c.Search.Metric = strings.TrimSpace(c.Search.Metric)
}

// Validate reports the first invalid setting, wrapped in ErrInvalid.
func (c Config) Validate() error {
	w := c.World
	if !positive(w.Width) || !positive(w.Depth) {
		return fmt.Errorf("%w: world size %.2fx%.2f", ErrInvalid, w.Width, w.Depth)
	}
	if !positive(w.NodeRadius) {
		return fmt.Errorf("%w: node radius %.3f", ErrInvalid, w.NodeRadius)
	}
	if w.Width < 2*w.NodeRadius || w.Depth < 2*w.NodeRadius {
		return fmt.Errorf("%w: world %.2fx%.2f holds no cell of radius %.3f", ErrInvalid, w.Width, w.Depth, w.NodeRadius)
	}
	switch w.Backend {
	case BackendQuadTree, BackendPhysics:
	default:
		return fmt.Errorf("%w: unknown obstruction backend %q", ErrInvalid, w.Backend)
	}

	if _, err := pathfinding.ParseAlgorithm(c.Search.Algorithm); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if _, err := pathfinding.ParseMetric(c.Search.Metric); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.Search.MaxNodes < 0 {
		return fmt.Errorf("%w: max nodes %d", ErrInvalid, c.Search.MaxNodes)
	}

	a := c.Agents
	if !positive(a.Speed) || a.Radius < 0 || a.RepathDistance < 0 || a.RepathInterval < 0 {
		return fmt.Errorf("%w: agent speed %.2f radius %.2f repath %.2f/%s",
			ErrInvalid, a.Speed, a.Radius, a.RepathDistance, a.RepathInterval.Std())
	}

	s := c.Scheduler
	if s.StepsPerTick < 1 {
		return fmt.Errorf("%w: steps per tick %d", ErrInvalid, s.StepsPerTick)
	}
	if s.TimeBudget < 0 || s.TickInterval <= 0 {
		return fmt.Errorf("%w: time budget %s, tick interval %s", ErrInvalid, s.TimeBudget.Std(), s.TickInterval.Std())
	}
	return nil
}

// Algorithm returns the configured search strategy.
func (c Config) Algorithm() pathfinding.Algorithm {
	a, err := pathfinding.ParseAlgorithm(c.Search.Algorithm)
	if err != nil {
		return pathfinding.AStar{}
	}
	return a
}

// Metric returns the configured cost metric.
func (c Config) Metric() pathfinding.Metric {
	m, err := pathfinding.ParseMetric(c.Search.Metric)
	if err != nil {
		return pathfinding.Octile{}
	}
	return m
}

func positive(v float64) bool {
	return v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}
