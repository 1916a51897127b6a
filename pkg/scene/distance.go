package scene

import (
	"context"
	"math"
)

// Oracle decides whether two positions are within a range in scene units.
// Implementations backed by a remote host may block; they must honor ctx.
type Oracle interface {
	InRange(ctx context.Context, a, b Position, units float64) (bool, error)
}

// EuclideanOracle measures straight-line distance.
type EuclideanOracle struct{}

func (EuclideanOracle) InRange(ctx context.Context, a, b Position, units float64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return math.Hypot(a.X-b.X, a.Y-b.Y) <= units, nil
}

// GridOracle measures distance in whole grid squares, the way tabletop maps
// count movement: diagonal steps cost the same as orthogonal ones. Size is
// the number of scene units per square.
type GridOracle struct {
	Size float64
}

func (g GridOracle) InRange(ctx context.Context, a, b Position, units float64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if g.Size <= 0 {
		return EuclideanOracle{}.InRange(ctx, a, b, units)
	}
	dx := math.Round(math.Abs(a.X-b.X) / g.Size)
	dy := math.Round(math.Abs(a.Y-b.Y) / g.Size)
	return math.Max(dx, dy)*g.Size <= units, nil
}

// NewOracle picks the grid oracle when a grid size is configured.
func NewOracle(gridSize float64) Oracle {
	if gridSize > 0 {
		return GridOracle{Size: gridSize}
	}
	return EuclideanOracle{}
}
