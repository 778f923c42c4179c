package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gridweaver/internal/pathfinding"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\"): %v", err)
	}
	if cfg != Default() {
		t.Fatalf("expected defaults for an empty path")
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
world:
  width: 40
  depth: 20
  node_radius: 1
  backend: CP
search:
  algorithm: lazy-theta
  metric: euclidean
agents:
  repath_interval: 2s
scheduler:
  steps_per_tick: 64
  time_budget: 3ms
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.World.Width != 40 || cfg.World.Depth != 20 || cfg.World.NodeRadius != 1 {
		t.Fatalf("unexpected world %+v", cfg.World)
	}
	if cfg.World.Backend != BackendPhysics {
		t.Fatalf("expected backend to be normalised to %q, got %q", BackendPhysics, cfg.World.Backend)
	}
	if cfg.Agents.RepathInterval.Std() != 2*time.Second || cfg.Scheduler.TimeBudget.Std() != 3*time.Millisecond {
		t.Fatalf("unexpected durations %s %s", cfg.Agents.RepathInterval.Std(), cfg.Scheduler.TimeBudget.Std())
	}
	if cfg.Scheduler.StepsPerTick != 64 {
		t.Fatalf("expected 64 steps per tick, got %d", cfg.Scheduler.StepsPerTick)
	}
	// Untouched keys keep their defaults.
	if cfg.Agents.Speed != Default().Agents.Speed || cfg.World.StaticMask != 1 {
		t.Fatalf("expected defaults for unset keys, got %+v", cfg.Agents)
	}
	if _, ok := cfg.Algorithm().(pathfinding.LazyThetaStar); !ok {
		t.Fatalf("expected lazy theta*, got %s", cfg.Algorithm())
	}
	if cfg.Metric().String() != "euclidean" {
		t.Fatalf("expected euclidean metric, got %s", cfg.Metric())
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"zero node radius", "world:\n  node_radius: 0\n"},
		{"negative width", "world:\n  width: -5\n"},
		{"world smaller than a cell", "world:\n  width: 0.5\n  node_radius: 0.5\n"},
		{"unknown backend", "world:\n  backend: bullet\n"},
		{"unknown algorithm", "search:\n  algorithm: dijkstra\n"},
		{"unknown metric", "search:\n  metric: manhattan\n"},
		{"no steps", "scheduler:\n  steps_per_tick: 0\n"},
		{"bad duration", "agents:\n  repath_interval: soon\n"},
		{"zero tick interval", "scheduler:\n  tick_interval: 0s\n"},
		{"zero speed", "agents:\n  speed: 0\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, tt.body)
			if _, err := Load(path); !errors.Is(err, ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected os.ErrNotExist, got %v", err)
	}
}

func TestWriteThenLoad(t *testing.T) {
	cfg := Default()
	cfg.Search.Algorithm = "theta"
	cfg.Scheduler.TimeBudget = Duration(5 * time.Millisecond)

	path := filepath.Join(t.TempDir(), "gridweaver.yaml")
	if err := Write(path, cfg); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != cfg {
		t.Fatalf("loaded %+v, want %+v", got, cfg)
	}
}

func TestWatcherReloads(t *testing.T) {
	path := writeFile(t, "scheduler:\n  steps_per_tick: 32\n")

	w, err := NewWatcher(path, 20*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(path, []byte("scheduler:\n  steps_per_tick: 512\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case cfg := <-w.Updates:
		if cfg.Scheduler.StepsPerTick != 512 {
			t.Fatalf("expected reloaded steps 512, got %d", cfg.Scheduler.StepsPerTick)
		}
	case err := <-w.Errors:
		t.Fatalf("unexpected watch error: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for reload")
	}

	if err := os.WriteFile(path, []byte("scheduler:\n  steps_per_tick: -1\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case err := <-w.Errors:
		if !errors.Is(err, ErrInvalid) {
			t.Fatalf("expected ErrInvalid, got %v", err)
		}
	case cfg := <-w.Updates:
		t.Fatalf("expected the invalid file to be rejected, got %+v", cfg.Scheduler)
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for rejection")
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gridweaver.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}
