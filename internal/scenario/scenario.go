// Package scenario reads JSON scenario documents: obstacles to place, agents
// to spawn and the paths they want.
package scenario

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"gridweaver/internal/core"
)

// ErrInvalid is returned for a document that fails validation.
var ErrInvalid = errors.New("invalid scenario")

//go:embed scenario.schema.json
var schemaJSON string

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = jsonschema.CompileString("scenario.schema.json", schemaJSON)
	})
	return schema, schemaErr
}

// Point is an [x, z] position on the ground plane.
type Point [2]float64

func (p Point) Vector() core.Vector3D {
	return core.Vector3D{X: p[0], Z: p[1]}
}

// Scenario is a JSON description of obstacles, agents and requests to set
// up before a run.
type Scenario struct {
	Name      string     `json:"name"`
	Ticks     int        `json:"ticks,omitempty"`
	DT        float64    `json:"dt,omitempty"`
	Obstacles []Obstacle `json:"obstacles,omitempty"`
	Agents    []Agent    `json:"agents,omitempty"`
	Requests  []Request  `json:"requests,omitempty"`
}

type Obstacle struct {
	Min   Point  `json:"min"`
	Max   Point  `json:"max"`
	Layer uint32 `json:"layer,omitempty"`
	Kind  string `json:"kind,omitempty"`
}

// Bounds returns the obstacle footprint, whichever corners were given.
func (o Obstacle) Bounds() core.AABB {
	return core.AABB{
		Min: core.Vector2D{X: min(o.Min[0], o.Max[0]), Y: min(o.Min[1], o.Max[1])},
		Max: core.Vector2D{X: max(o.Min[0], o.Max[0]), Y: max(o.Min[1], o.Max[1])},
	}
}

func (o Obstacle) ObstacleKind() core.ObstacleKind {
	switch o.Kind {
	case "terrain":
		return core.ObstacleKindTerrain
	case "building":
		return core.ObstacleKindBuilding
	case "unit":
		return core.ObstacleKindUnit
	default:
		return core.ObstacleKindUnknown
	}
}

type Agent struct {
	Name        string  `json:"name"`
	Position    Point   `json:"position"`
	Speed       float64 `json:"speed,omitempty"`
	Radius      float64 `json:"radius,omitempty"`
	Destination *Point  `json:"destination,omitempty"`
	Override    bool    `json:"override,omitempty"`
	Follow      string  `json:"follow,omitempty"`
	MinRange    float64 `json:"min_range,omitempty"`
	MaxRange    float64 `json:"max_range,omitempty"`
}

// Request is an anonymous path request with no agent behind it.
type Request struct {
	Start Point `json:"start"`
	End   Point `json:"end"`
}

// Load reads and validates the scenario at path.
func Load(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sc, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sc, nil
}

// Parse decodes a scenario, checks it against the schema and resolves
// the references between agents.
func Parse(r io.Reader) (*Scenario, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	s, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("compile scenario schema: %w", err)
	}
	if err := s.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	var sc Scenario
	if err := json.Unmarshal(b, &sc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := sc.check(); err != nil {
		return nil, err
	}
	return &sc, nil
}

func (sc *Scenario) check() error {
	names := make(map[string]bool, len(sc.Agents))
	for _, a := range sc.Agents {
		if names[a.Name] {
			return fmt.Errorf("%w: duplicate agent %q", ErrInvalid, a.Name)
		}
		names[a.Name] = true
	}
	for _, a := range sc.Agents {
		if a.Follow == "" {
			continue
		}
		if !names[a.Follow] {
			return fmt.Errorf("%w: agent %q follows unknown agent %q", ErrInvalid, a.Name, a.Follow)
		}
		if a.Follow == a.Name {
			return fmt.Errorf("%w: agent %q follows itself", ErrInvalid, a.Name)
		}
		if a.MaxRange < a.MinRange {
			return fmt.Errorf("%w: agent %q range [%.2f, %.2f]", ErrInvalid, a.Name, a.MinRange, a.MaxRange)
		}
		if a.Destination != nil {
			return fmt.Errorf("%w: agent %q has both a destination and a follow target", ErrInvalid, a.Name)
		}
	}
	for i, o := range sc.Obstacles {
		b := o.Bounds()
		if b.Min.X == b.Max.X || b.Min.Y == b.Max.Y {
			return fmt.Errorf("%w: obstacle %d has an empty footprint", ErrInvalid, i)
		}
	}
	return nil
}
