package geom

import (
	"fmt"
	"math"
)

// BoundingBox is an axis-aligned box, half-open by convention: it covers
// [LeftTop.X, RightBottom.X) x [LeftTop.Y, RightBottom.Y).
type BoundingBox struct {
	LeftTop     Position `json:"left_top"`
	RightBottom Position `json:"right_bottom"`
}

func BBox(x1, y1, x2, y2 float64) BoundingBox {
	return BoundingBox{LeftTop: Position{X: x1, Y: y1}, RightBottom: Position{X: x2, Y: y2}}
}

// AroundPoint returns a box of the given size centered on p.
func AroundPoint(p Position, size float64) BoundingBox {
	h := size / 2
	return BBox(p.X-h, p.Y-h, p.X+h, p.Y+h)
}

func (b BoundingBox) Normalize() BoundingBox {
	return BoundingBox{
		LeftTop:     Position{X: math.Min(b.LeftTop.X, b.RightBottom.X), Y: math.Min(b.LeftTop.Y, b.RightBottom.Y)},
		RightBottom: Position{X: math.Max(b.LeftTop.X, b.RightBottom.X), Y: math.Max(b.LeftTop.Y, b.RightBottom.Y)},
	}
}

func (b BoundingBox) Shift(by Position) BoundingBox {
	return BoundingBox{LeftTop: b.LeftTop.Add(by), RightBottom: b.RightBottom.Add(by)}
}

// ShiftToOrigin moves b so that its left-top corner is (0,0).
func (b BoundingBox) ShiftToOrigin() BoundingBox { return b.Shift(b.LeftTop.Neg()) }

// Intersect returns the overlap of a and b. The result is empty (IsEmpty)
// when they do not overlap.
func (b BoundingBox) Intersect(o BoundingBox) BoundingBox {
	return BoundingBox{
		LeftTop:     Position{X: math.Max(b.LeftTop.X, o.LeftTop.X), Y: math.Max(b.LeftTop.Y, o.LeftTop.Y)},
		RightBottom: Position{X: math.Min(b.RightBottom.X, o.RightBottom.X), Y: math.Min(b.RightBottom.Y, o.RightBottom.Y)},
	}
}

func (b BoundingBox) IsEmpty() bool {
	return b.RightBottom.X <= b.LeftTop.X || b.RightBottom.Y <= b.LeftTop.Y
}

// RoundTile expands b to the integer tiles containing it.
func (b BoundingBox) RoundTile() BoundingBox {
	return BoundingBox{
		LeftTop:     Position{X: math.Floor(b.LeftTop.X), Y: math.Floor(b.LeftTop.Y)},
		RightBottom: Position{X: math.Ceil(b.RightBottom.X), Y: math.Ceil(b.RightBottom.Y)},
	}
}

// RoundTileConservative shrinks b by thresh on each side before rounding
// outward, so floating point noise in queried boxes does not add a tile.
func (b BoundingBox) RoundTileConservative(thresh float64) BoundingBox {
	return BoundingBox{
		LeftTop:     Position{X: math.Floor(b.LeftTop.X + thresh), Y: math.Floor(b.LeftTop.Y + thresh)},
		RightBottom: Position{X: math.Ceil(b.RightBottom.X - thresh), Y: math.Ceil(b.RightBottom.Y - thresh)},
	}
}

func (b BoundingBox) RotateAboutOrigin(dir Direction) BoundingBox {
	if dir.QuarterTurns() == 0 {
		return b
	}
	return BoundingBox{
		LeftTop:     b.LeftTop.RotateAboutOrigin(dir),
		RightBottom: b.RightBottom.RotateAboutOrigin(dir),
	}.Normalize()
}

func (b BoundingBox) IsCenteredSquare() bool {
	return b.IsCenteredRectangle() && b.Width() == b.Height()
}

func (b BoundingBox) IsCenteredRectangle() bool {
	return b.LeftTop.X == -b.RightBottom.X && b.LeftTop.Y == -b.RightBottom.Y
}

func (b BoundingBox) Contains(p Position) bool {
	return p.X >= b.LeftTop.X && p.X < b.RightBottom.X && p.Y >= b.LeftTop.Y && p.Y < b.RightBottom.Y
}

func (b BoundingBox) ContainsBox(o BoundingBox) bool {
	return o.LeftTop.X >= b.LeftTop.X && o.LeftTop.Y >= b.LeftTop.Y &&
		o.RightBottom.X <= b.RightBottom.X && o.RightBottom.Y <= b.RightBottom.Y
}

// IntersectsNonZeroArea reports whether a and b share a region of positive
// area. Touching edges do not count.
func (b BoundingBox) IntersectsNonZeroArea(o BoundingBox) bool {
	return b.LeftTop.X < o.RightBottom.X && o.LeftTop.X < b.RightBottom.X &&
		b.LeftTop.Y < o.RightBottom.Y && o.LeftTop.Y < b.RightBottom.Y
}

func (b BoundingBox) Width() float64  { return b.RightBottom.X - b.LeftTop.X }
func (b BoundingBox) Height() float64 { return b.RightBottom.Y - b.LeftTop.Y }

func (b BoundingBox) Center() Position {
	return Position{X: (b.LeftTop.X + b.RightBottom.X) / 2, Y: (b.LeftTop.Y + b.RightBottom.Y) / 2}
}

func (b BoundingBox) Equals(o BoundingBox) bool {
	return b.LeftTop.Equals(o.LeftTop) && b.RightBottom.Equals(o.RightBottom)
}

// ForEachTile calls fn for every integer cell inside b, row-major. Iteration
// stops early when fn returns false.
func (b BoundingBox) ForEachTile(fn func(t Tile) bool) {
	r := b.RoundTile()
	x0, y0 := int(r.LeftTop.X), int(r.LeftTop.Y)
	x1, y1 := int(r.RightBottom.X), int(r.RightBottom.Y)
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			if !fn(Tile{X: x, Y: y}) {
				return
			}
		}
	}
}

// Tiles returns every cell of b, row-major.
func (b BoundingBox) Tiles() []Tile {
	var out []Tile
	b.ForEachTile(func(t Tile) bool {
		out = append(out, t)
		return true
	})
	return out
}

func (b BoundingBox) String() string {
	return fmt.Sprintf("[%v, %v]", b.LeftTop, b.RightBottom)
}
