package spawn

import (
	"github.com/sverick/couchnet/internal/core"
	"github.com/sverick/couchnet/internal/world"
)

// PointSource hands out authority-defined starting positions.
type PointSource interface {
	// SpawnPoint returns the position at index, wrapping modulo the number
	// of defined points so the point count never bounds the player count.
	SpawnPoint(index int) world.Position
	// Count returns the number of defined spawn points.
	Count() int
}

// Points is the config-backed PointSource.
type Points struct {
	points []world.Position
}

func NewPoints(cfgPoints []core.SpawnPoint) *Points {
	points := make([]world.Position, 0, len(cfgPoints))
	for _, p := range cfgPoints {
		points = append(points, world.Position{X: p.X, Y: p.Y, Z: p.Z})
	}
	return &Points{points: points}
}

func (p *Points) SpawnPoint(index int) world.Position {
	if len(p.points) == 0 {
		return world.Position{}
	}
	if index < 0 {
		index = 0
	}
	return p.points[index%len(p.points)]
}

func (p *Points) Count() int {
	return len(p.points)
}
