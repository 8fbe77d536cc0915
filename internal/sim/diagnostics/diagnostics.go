// Package diagnostics turns paste conflicts into user-facing diagnostics
// with clickable locations.
package diagnostics

import (
	"sort"

	"layerforge.ai/internal/sim/entity"
	"layerforge.ai/internal/sim/geom"
	"layerforge.ai/internal/sim/paste"
	"layerforge.ai/internal/sim/sourcemap"
)

type Diagnostic struct {
	ID      int     `json:"id"`
	Message Message `json:"message"`
	// Location is where the conflict is in the assembly.
	Location *sourcemap.Location `json:"location,omitempty"`
	// AltLocation is where the conflicting content came from, if known.
	AltLocation *sourcemap.Location `json:"alt_location,omitempty"`
}

// Collection groups diagnostics by category. Empty categories are absent.
type Collection map[CategoryID][]Diagnostic

func (c Collection) Count() int {
	n := 0
	for _, ds := range c {
		n += len(ds)
	}
	return n
}

// IDs lists the present categories in display order.
func (c Collection) IDs() []CategoryID {
	var out []CategoryID
	for _, cat := range Categories {
		if len(c[cat.ID]) > 0 {
			out = append(out, cat.ID)
		}
	}
	var extra []CategoryID
	for id, ds := range c {
		if _, known := CategoryByID(id); !known && len(ds) > 0 {
			extra = append(extra, id)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return append(out, extra...)
}

type mapper struct {
	surface string
	offset  geom.Position
	sources *sourcemap.Map
	out     Collection
	nextID  int
}

// Map builds the diagnostics for c. Conflict entities are relative to the
// absolute offset on surface; sources may be nil.
func Map(c paste.Conflicts, surface string, offset geom.Position, sources *sourcemap.Map) Collection {
	m := &mapper{surface: surface, offset: offset, sources: sources, out: Collection{}, nextID: 1}
	for _, p := range c.Overlaps {
		m.overlap(p)
	}
	for _, p := range c.Upgrades {
		m.add(CannotUpgrade, Message{Key: "diagnostics.cannot-upgrade", Params: []string{p.Above.Name, nameOf(p.Below)}}, p.Above, m.source(p.Below))
	}
	for _, p := range c.UnsupportedProps {
		m.add(UnsupportedProp, Message{Key: "diagnostics.unsupported-prop", Params: []string{p.Prop, p.Above.Name}}, p.Above, m.source(p.Above))
	}
	for _, p := range c.ItemRequestChanges {
		m.add(ItemsIgnored, Message{Key: "diagnostics.items-ignored", Params: []string{p.Above.Name}}, p.Above, m.source(p.Above))
	}
	for _, e := range c.FlippedUndergrounds {
		m.add(FlippedUnderground, Message{Key: "diagnostics.flipped-underground", Params: []string{e.Name}}, e, m.source(e))
	}
	for _, e := range c.LostReferences {
		m.add(LostReference, Message{Key: "diagnostics.lost-reference", Params: []string{e.Name}}, e, m.source(e))
	}
	return m.out
}

func (m *mapper) add(cat CategoryID, msg Message, at *entity.Entity, alt *sourcemap.Location) {
	d := Diagnostic{ID: m.nextID, Message: msg, AltLocation: alt}
	m.nextID++
	if at != nil {
		d.Location = &sourcemap.Location{Surface: m.surface, Area: at.TileBox().Shift(m.offset)}
	}
	m.out[cat] = append(m.out[cat], d)
}

func (m *mapper) source(e *entity.Entity) *sourcemap.Location {
	if e == nil {
		return nil
	}
	loc, ok := m.sources.GetEntitySourceLocation(e, m.offset)
	if !ok {
		return nil
	}
	return &loc
}

// overlap points the alternate location at where the above entity would
// sit in the source of the entity it collided with, falling back to the
// above entity's own source.
func (m *mapper) overlap(p paste.Pair) {
	if p.Below == nil {
		m.add(Overlap, Message{Key: "diagnostics.overlap.unknown", Params: []string{p.Above.Name}}, p.Above, m.source(p.Above))
		return
	}
	alt := m.source(p.Below)
	if alt != nil {
		shift := alt.Area.LeftTop.Sub(p.Below.TileBox().LeftTop.Add(m.offset))
		alt = &sourcemap.Location{Surface: alt.Surface, Area: p.Above.TileBox().Shift(m.offset).Shift(shift)}
	} else {
		alt = m.source(p.Above)
	}
	m.add(Overlap, Message{Key: "diagnostics.overlap", Params: []string{p.Above.Name, p.Below.Name}}, p.Above, alt)
}

func nameOf(e *entity.Entity) string {
	if e == nil {
		return "?"
	}
	return e.Name
}
