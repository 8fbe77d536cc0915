package geom

// Direction uses the 8-way encoding of blueprint files; only the four
// cardinal values are supported.
type Direction uint8

const (
	North Direction = 0
	East  Direction = 2
	South Direction = 4
	West  Direction = 6
)

func (d Direction) Valid() bool { return d == North || d == East || d == South || d == West }

// QuarterTurns returns the clockwise quarter-turn count in [0,3].
func (d Direction) QuarterTurns() int { return int(d/2) & 3 }

func (d Direction) Opposite() Direction { return FromQuarterTurns(d.QuarterTurns() + 2) }

// RotateCW rotates d clockwise by n quarter turns.
func (d Direction) RotateCW(n int) Direction { return FromQuarterTurns(d.QuarterTurns() + n) }

// Vector returns the unit tile offset d points toward.
func (d Direction) Vector() Position {
	return Position{X: 0, Y: -1}.RotateAboutOrigin(d)
}

func (d Direction) String() string {
	switch d {
	case North:
		return "north"
	case East:
		return "east"
	case South:
		return "south"
	case West:
		return "west"
	}
	return "invalid"
}

func FromQuarterTurns(n int) Direction {
	n %= 4
	if n < 0 {
		n += 4
	}
	return Direction(n * 2)
}

// NormalizeDirection converts a client-provided value into a cardinal
// direction. It accepts the 8-way encoding (0,2,4,6), quarter turns written
// as negative values, or degrees (multiples of 90).
func NormalizeDirection(v int) Direction {
	if v%90 == 0 && (v >= 90 || v <= -90) {
		return FromQuarterTurns(v / 90)
	}
	if v < 0 {
		return FromQuarterTurns(v)
	}
	return FromQuarterTurns(v / 2)
}
