package geom

import (
	"fmt"
	"math"
)

// Position is a point in tile units. Entity positions are centers and are
// half-tile aligned in practice.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func Pos(x, y float64) Position { return Position{X: x, Y: y} }

func (p Position) Add(o Position) Position { return Position{X: p.X + o.X, Y: p.Y + o.Y} }
func (p Position) Sub(o Position) Position { return Position{X: p.X - o.X, Y: p.Y - o.Y} }
func (p Position) Neg() Position           { return Position{X: -p.X, Y: -p.Y} }

func (p Position) Equals(o Position) bool { return p.X == o.X && p.Y == o.Y }

// Floor returns the tile containing p.
func (p Position) Floor() Tile {
	return Tile{X: int(math.Floor(p.X)), Y: int(math.Floor(p.Y))}
}

// RotateAboutOrigin rotates p clockwise (y axis points down) by the
// quarter turns encoded in dir.
func (p Position) RotateAboutOrigin(dir Direction) Position {
	switch dir.QuarterTurns() {
	case 1:
		return Position{X: -p.Y, Y: p.X}
	case 2:
		return Position{X: -p.X, Y: -p.Y}
	case 3:
		return Position{X: p.Y, Y: -p.X}
	default:
		return p
	}
}

func (p Position) String() string { return fmt.Sprintf("(%g, %g)", p.X, p.Y) }

// Tile is an integer cell coordinate.
type Tile struct {
	X int
	Y int
}

func (t Tile) Position() Position { return Position{X: float64(t.X), Y: float64(t.Y)} }
