// Package sourcemap records where each pasted entity came from so that
// diagnostics can point back at the import that produced it.
package sourcemap

import (
	"layerforge.ai/internal/sim/blueprint"
	"layerforge.ai/internal/sim/entity"
	"layerforge.ai/internal/sim/geom"
)

// Location is a highlightable box on a surface.
type Location struct {
	Surface string           `json:"surface"`
	Area    geom.BoundingBox `json:"area"`
}

type entry struct {
	e   *entity.Entity
	loc Location
}

func (x *entry) Core() *entity.Entity { return x.e }

type Builder struct {
	bp *blueprint.Blueprint[*entry]
}

func NewBuilder() *Builder {
	return &Builder{bp: blueprint.New[*entry]()}
}

// Add records entities, given relative to source.Area.LeftTop, as pasted
// with their origin at the absolute position pastedLeftTop.
func (b *Builder) Add(entities []*entity.Entity, source Location, pastedLeftTop geom.Position) {
	for _, e := range entities {
		placed := e.Shifted(pastedLeftTop)
		delta := source.Area.LeftTop.Sub(pastedLeftTop)
		b.bp.AddSingle(&entry{
			e:   placed,
			loc: Location{Surface: source.Surface, Area: placed.TileBox().Shift(delta)},
		})
	}
}

func (b *Builder) Len() int { return b.bp.Len() }

// Build freezes the builder. The builder must not be used afterwards.
func (b *Builder) Build() *Map {
	m := &Map{bp: b.bp}
	b.bp = nil
	return m
}

// Map answers provenance lookups. A nil Map knows nothing.
type Map struct {
	bp *blueprint.Blueprint[*entry]
}

// GetEntitySourceLocation returns the source location of e, whose position
// is relative to the absolute offset. ok is false for entities with no
// recorded provenance.
func (m *Map) GetEntitySourceLocation(e *entity.Entity, offset geom.Position) (Location, bool) {
	if m == nil || m.bp == nil {
		return Location{}, false
	}
	pos := e.Position.Add(offset)
	x, ok := m.bp.FindCompatible(e, &pos)
	if !ok {
		return Location{}, false
	}
	return x.loc, true
}
