package blueprint

import (
	"layerforge.ai/internal/sim/entity"
	"layerforge.ai/internal/sim/geom"
)

// Entities is the plain entity blueprint.
type Entities = Blueprint[*entity.Entity]

func NewEntities() *Entities { return New[*entity.Entity]() }

type partialEntry struct {
	e       *entity.Entity
	isError bool
}

// PartialBlueprint is the shadow index of what a paste believes already
// exists at each position. An error entry marks a slot already known to be
// conflicting.
type PartialBlueprint struct {
	byTile map[geom.Tile][]partialEntry
	count  int
}

func NewPartial() *PartialBlueprint {
	return &PartialBlueprint{byTile: map[geom.Tile][]partialEntry{}}
}

func (p *PartialBlueprint) Add(e *entity.Entity)           { p.add(partialEntry{e: e}) }
func (p *PartialBlueprint) AddErrorEntity(e *entity.Entity) { p.add(partialEntry{e: e, isError: true}) }

func (p *PartialBlueprint) add(pe partialEntry) {
	p.count++
	pe.e.TileBox().ForEachTile(func(t geom.Tile) bool {
		p.byTile[t] = append(p.byTile[t], pe)
		return true
	})
}

func (p *PartialBlueprint) Len() int { return p.count }

// FindCompatible looks up the entry compatible with e placed at pos. found
// is false when nothing matches; isError is set when the match is an error
// marker.
func (p *PartialBlueprint) FindCompatible(e *entity.Entity, pos geom.Position) (match *entity.Entity, isError, found bool) {
	for _, pe := range p.byTile[pos.Floor()] {
		if entity.IsCompatible(e, pe.e, &pos) {
			return pe.e, pe.isError, true
		}
	}
	return nil, false, false
}

// Overlapping returns the non-error entities whose footprint shares area
// with box.
func (p *PartialBlueprint) Overlapping(box geom.BoundingBox) []*entity.Entity {
	seen := map[*entity.Entity]struct{}{}
	var out []*entity.Entity
	box.ForEachTile(func(t geom.Tile) bool {
		for _, pe := range p.byTile[t] {
			if pe.isError {
				continue
			}
			if _, ok := seen[pe.e]; ok {
				continue
			}
			seen[pe.e] = struct{}{}
			out = append(out, pe.e)
		}
		return true
	})
	return out
}

// Entities returns every non-error entry.
func (p *PartialBlueprint) Entities() []*entity.Entity {
	seen := map[*entity.Entity]struct{}{}
	var out []*entity.Entity
	for _, entries := range p.byTile {
		for _, pe := range entries {
			if pe.isError {
				continue
			}
			if _, ok := seen[pe.e]; !ok {
				seen[pe.e] = struct{}{}
				out = append(out, pe.e)
			}
		}
	}
	return out
}
