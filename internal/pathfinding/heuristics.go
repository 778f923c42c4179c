package pathfinding

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gridweaver/internal/grid"
)

// ErrUnknownMetric is returned by ParseMetric for an unrecognised name.
var ErrUnknownMetric = errors.New("unknown distance metric")

// Metric is an integer cell distance. The search uses the same metric for
// edge costs and for the heuristic.
type Metric interface {
	Cost(dx, dy int) int
	String() string
}

// Octile costs 10 per orthogonal and 14 per diagonal step.
type Octile struct{}

func (Octile) Cost(dx, dy int) int {
	dx, dy = absInt(dx), absInt(dy)
	if dx > dy {
		return 14*dy + 10*(dx-dy)
	}
	return 14*dx + 10*(dy-dx)
}

func (Octile) String() string { return "octile" }

// Euclidean is ten times the straight-line cell distance, rounded.
type Euclidean struct{}

func (Euclidean) Cost(dx, dy int) int {
	return int(math.Round(10 * math.Hypot(float64(dx), float64(dy))))
}

func (Euclidean) String() string { return "euclidean" }

// SquaredEuclidean is ten times the squared cell distance. It is not
// admissible and trades path quality for fewer expansions.
type SquaredEuclidean struct{}

func (SquaredEuclidean) Cost(dx, dy int) int {
	return 10 * (dx*dx + dy*dy)
}

func (SquaredEuclidean) String() string { return "squared-euclidean" }

// ParseMetric returns the metric registered under name.
func ParseMetric(name string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "octile", "diagonal":
		return Octile{}, nil
	case "euclidean":
		return Euclidean{}, nil
	case "squared-euclidean", "squared":
		return SquaredEuclidean{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMetric, name)
	}
}

// Distance applies m to two nodes.
func Distance(m Metric, a, b *grid.Node) int {
	return m.Cost(b.Col-a.Col, b.Row-a.Row)
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func signInt(v int) int {
	switch {
	case v < 0:
		return -1
	case v > 0:
		return 1
	default:
		return 0
	}
}
