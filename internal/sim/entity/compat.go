package entity

import "layerforge.ai/internal/sim/geom"

// IsCompatible reports whether a and b occupy the same logical slot: same
// position (a's position may be overridden), same compatibility group, and
// the same direction unless both are rotation pasteable.
func IsCompatible(a, b *Entity, aPosition *geom.Position) bool {
	pos := a.Position
	if aPosition != nil {
		pos = *aPosition
	}
	if !pos.Equals(b.Position) {
		return false
	}
	if a.kind.Group != b.kind.Group {
		return false
	}
	if a.Direction == b.Direction {
		return true
	}
	return a.kind.RotationPasteable && b.kind.RotationPasteable
}

// FindCompatible returns the first candidate compatible with e at pos.
func FindCompatible(candidates []*Entity, e *Entity, pos *geom.Position) *Entity {
	for _, c := range candidates {
		if IsCompatible(e, c, pos) {
			return c
		}
	}
	return nil
}
