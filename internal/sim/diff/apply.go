package diff

import (
	"fmt"

	"layerforge.ai/internal/sim/blueprint"
	"layerforge.ai/internal/sim/entity"
)

// Apply returns below with d applied, without touching either. Entity
// numbers of below are kept; new entities get fresh ones.
func Apply(below *blueprint.Entities, d *Diff) (*blueprint.Entities, error) {
	clones := make([]*entity.Entity, 0, below.Len())
	for _, b := range below.Entities() {
		clones = append(clones, b.Clone())
	}
	out, err := blueprint.FromEntities(clones)
	if err != nil {
		return nil, fmt.Errorf("diff apply: %w", err)
	}
	if d == nil {
		return out, nil
	}

	removed := map[int]struct{}{}
	for _, del := range d.Deletions {
		m, ok := out.FindCompatible(del, nil)
		if !ok || m.Name != del.Name {
			continue
		}
		removed[m.EntityNumber] = struct{}{}
		if _, err := out.Remove(m); err != nil {
			return nil, fmt.Errorf("diff apply: %w", err)
		}
	}
	if len(removed) > 0 {
		for _, e := range out.Entities() {
			e.Connections = dropTargets(e.Connections, removed)
		}
	}

	toOut := map[int]int{}
	for _, e := range d.Content.Entities() {
		m, ok := out.FindCompatible(e, nil)
		if !ok {
			c := e.Clone()
			c.DiffType = entity.DiffNone
			c.ChangedProps = nil
			c.Connections = nil
			toOut[e.EntityNumber] = out.AddSingle(c).EntityNumber
			continue
		}
		next := m.Clone()
		if e.IsReference() {
			for _, p := range e.ChangedProps.Keys() {
				switch p {
				case entity.PropConnections:
				case entity.PropName:
					next.Name = e.Name
					next.AdoptKind(e)
				default:
					if v, ok := e.Prop(p); ok {
						next.SetProp(p, v)
					} else {
						next.DeleteProp(p)
					}
				}
			}
		} else {
			conns := next.Connections
			next = e.Clone()
			next.Connections = conns
		}
		if _, err := out.ReplaceUnsafe(m, next); err != nil {
			return nil, fmt.Errorf("diff apply: %w", err)
		}
		toOut[e.EntityNumber] = next.EntityNumber
	}

	for _, e := range d.Content.Entities() {
		target, _ := out.Get(toOut[e.EntityNumber])
		var err error
		e.Connections.Each(func(point, color string, c entity.ConnectionData) {
			if err != nil {
				return
			}
			to, ok := toOut[c.EntityID]
			if !ok {
				err = fmt.Errorf("diff apply: %v: %w: %d", e, blueprint.ErrUnmappedEntityNumber, c.EntityID)
				return
			}
			target.Connections.Add(point, color, entity.ConnectionData{EntityID: to, CircuitID: c.CircuitID})
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func dropTargets(c entity.Connections, removed map[int]struct{}) entity.Connections {
	var out entity.Connections
	c.Each(func(point, color string, d entity.ConnectionData) {
		if _, gone := removed[d.EntityID]; !gone {
			out.Add(point, color, d)
		}
	})
	return out
}
