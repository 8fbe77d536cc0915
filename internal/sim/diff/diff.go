// Package diff computes what changed between a baseline blueprint and an
// edited copy of it, in the form a paste can apply.
package diff

import (
	"fmt"

	"layerforge.ai/internal/sim/blueprint"
	"layerforge.ai/internal/sim/entity"
)

// Diff is the change set from a baseline to current content. Content holds
// reference records for changed entities and full entities for new ones,
// numbered in current's id space. Connections only list added wires.
type Diff struct {
	Content   *blueprint.Entities
	Deletions []*entity.Entity
}

type Stats struct {
	References int `json:"references"`
	Changed    int `json:"changed"`
	Added      int `json:"added"`
	Deleted    int `json:"deleted"`
}

func (d *Diff) Stats() Stats {
	var s Stats
	if d == nil {
		return s
	}
	for _, e := range d.Content.Entities() {
		switch {
		case !e.IsReference():
			s.Added++
		case e.ChangedProps.Len() == 0:
			s.References++
		default:
			s.Changed++
		}
	}
	s.Deleted = len(d.Deletions)
	return s
}

func (d *Diff) IsEmpty() bool {
	return d == nil || (d.Content.Len() == 0 && len(d.Deletions) == 0)
}

// diffIgnored are fields that never make an entity changed: identity and
// placement are what matched it, and wires are diffed separately.
var diffIgnored = entity.NewPropSet("entity_number", "position", entity.PropConnections)

// Compute diffs current against below. Each current entity is matched to
// at most one compatible baseline entity.
func Compute(below, current *blueprint.Entities) (*Diff, error) {
	var (
		toBelow   = map[int]*entity.Entity{}
		toBelowID = map[int]int{}
		taken     = map[*entity.Entity]struct{}{}
		curByID   = map[int]*entity.Entity{}
	)
	for _, c := range current.Entities() {
		curByID[c.EntityNumber] = c
		if b := matchUnused(below, c, taken); b != nil {
			taken[b] = struct{}{}
			toBelow[c.EntityNumber] = b
			toBelowID[c.EntityNumber] = b.EntityNumber
		}
	}

	var out []*entity.Entity
	emitted := map[int]struct{}{}
	for _, c := range current.Entities() {
		b, ok := toBelow[c.EntityNumber]
		if !ok {
			out = append(out, c.Clone())
			emitted[c.EntityNumber] = struct{}{}
			continue
		}
		changed := entity.PropSet{}
		for _, p := range unionPropNames(b, c) {
			if diffIgnored.Has(p) {
				continue
			}
			if !entity.PropEqual(b, c, p) {
				changed.Add(p)
			}
		}
		added := addedConnections(c, b, toBelowID)
		if !added.IsEmpty() {
			changed.Add(entity.PropConnections)
		}
		if changed.Len() == 0 {
			continue
		}
		ref := entity.NewReference(c, changed)
		ref.Connections = added
		out = append(out, ref)
		emitted[c.EntityNumber] = struct{}{}
	}

	// Wire targets must be resolvable on the receiving side, so unchanged
	// entities wired from the diff are forced in as pure references.
	var forced []*entity.Entity
	for _, e := range out {
		for _, id := range e.Connections.EntityIDs() {
			if _, ok := emitted[id]; ok {
				continue
			}
			target, ok := curByID[id]
			if !ok {
				return nil, fmt.Errorf("diff: %v: %w: %d", e, blueprint.ErrUnmappedEntityNumber, id)
			}
			ref := entity.NewReference(target, nil)
			ref.Connections = nil
			forced = append(forced, ref)
			emitted[id] = struct{}{}
		}
	}
	out = append(out, forced...)

	content, err := blueprint.FromEntities(out)
	if err != nil {
		return nil, fmt.Errorf("diff: %w", err)
	}
	d := &Diff{Content: content}
	for _, b := range below.Entities() {
		if _, ok := taken[b]; !ok {
			d.Deletions = append(d.Deletions, b.Clone())
		}
	}
	return d, nil
}

func matchUnused(below *blueprint.Entities, c *entity.Entity, taken map[*entity.Entity]struct{}) *entity.Entity {
	for _, b := range below.GetAt(c.Position) {
		if _, used := taken[b]; used {
			continue
		}
		if entity.IsCompatible(c, b, nil) {
			return b
		}
	}
	return nil
}

// addedConnections returns the wires of c with no equivalent on b once
// c's targets are mapped into b's id space.
func addedConnections(c, b *entity.Entity, toBelowID map[int]int) entity.Connections {
	var out entity.Connections
	c.Connections.Each(func(point, color string, d entity.ConnectionData) {
		if id, ok := toBelowID[d.EntityID]; ok && b.Connections.Has(point, color, entity.ConnectionData{EntityID: id, CircuitID: d.CircuitID}) {
			return
		}
		out.Add(point, color, d)
	})
	return out
}

func unionPropNames(a, b *entity.Entity) []string {
	seen := entity.NewPropSet(a.PropNames()...)
	out := a.PropNames()
	for _, p := range b.PropNames() {
		if !seen.Has(p) {
			seen.Add(p)
			out = append(out, p)
		}
	}
	return out
}
