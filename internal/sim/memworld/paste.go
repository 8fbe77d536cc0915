package memworld

import (
	"sort"

	"layerforge.ai/internal/sim/catalogs"
	"layerforge.ai/internal/sim/entity"
	"layerforge.ai/internal/sim/geom"
	"layerforge.ai/internal/sim/paste"
)

func (w *World) TakeBlueprint(surface string, area geom.BoundingBox, worldTopLeft geom.Position) []*entity.Entity {
	found := w.Entities(surface, area)
	out := make([]*entity.Entity, 0, len(found))
	for _, e := range found {
		c := e.state.Clone()
		if e.ghost && len(e.requests) > 0 {
			c.Items = cloneCounts(e.requests)
		}
		c.SetPosition(c.Position.Sub(worldTopLeft))
		out = append(out, c)
	}
	order := make([]int, len(out))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		a, b := out[order[i]], out[order[j]]
		if a.Position.Y != b.Position.Y {
			return a.Position.Y < b.Position.Y
		}
		return a.Position.X < b.Position.X
	})
	numbers := make(map[int]int, len(out))
	sorted := make([]*entity.Entity, len(out))
	for n, i := range order {
		numbers[int(found[i].id)] = n + 1
		sorted[n] = out[i]
		sorted[n].EntityNumber = n + 1
	}
	for _, e := range sorted {
		var conns entity.Connections
		e.Connections.Each(func(point, color string, d entity.ConnectionData) {
			if to, ok := numbers[d.EntityID]; ok {
				conns.Add(point, color, entity.ConnectionData{EntityID: to, CircuitID: d.CircuitID})
			}
		})
		e.Connections = conns
	}
	return sorted
}

func (w *World) PasteBlueprint(surface string, position geom.Position, entities []*entity.Entity, clip *geom.BoundingBox) []paste.WorldEntity {
	s := w.surface(surface)
	var placed []paste.WorldEntity
	mapped := map[int]*Entity{}
	for _, src := range entities {
		state := src.Shifted(position).Normalize(w.protos)
		state.DiffType = entity.DiffNone
		state.ChangedProps = nil
		if clip != nil && !clip.ContainsBox(state.TileBox()) {
			continue
		}
		if existing := w.compatibleAt(s, state); existing != nil {
			if existing.state.Name == state.Name {
				pasteSettings(existing.state, state)
				mapped[src.EntityNumber] = existing
			}
			continue
		}
		if state.Kind().Type == "underground-belt" {
			w.flipToPartner(s, state)
		}
		if w.collides(s, state, nil) != nil {
			continue
		}
		requests := state.Items
		state.Items = nil
		state.Connections = nil
		h := w.newEntity(state)
		h.ghost = true
		h.requests = requests
		s.index(h)
		if !w.revive(h) {
			w.revive(h)
		}
		mapped[src.EntityNumber] = h
		placed = append(placed, h)
	}
	for _, src := range entities {
		h := mapped[src.EntityNumber]
		if h == nil {
			continue
		}
		src.Connections.Each(func(point, color string, d entity.ConnectionData) {
			if to := mapped[d.EntityID]; to != nil {
				h.state.Connections.Add(point, color, entity.ConnectionData{EntityID: int(to.id), CircuitID: d.CircuitID})
			}
		})
	}
	return placed
}

// revive completes a ghost, consuming its item-request satellite.
func (w *World) revive(h *Entity) bool {
	if !h.ghost {
		return true
	}
	if n := w.ReviveFailures[h.state.Name]; n > 0 {
		w.ReviveFailures[h.state.Name] = n - 1
		return false
	}
	h.ghost = false
	if len(h.requests) > 0 {
		h.state.Items = h.requests
		h.requests = nil
	}
	return true
}

// flipToPartner turns an underground belt to face the same way as an
// opposite-facing belt in an adjacent tile on its axis, as the engine does
// when the two would otherwise form a broken pair.
func (w *World) flipToPartner(s *Surface, state *entity.Entity) {
	v := state.Direction.Vector()
	for _, off := range []geom.Position{v, v.Neg()} {
		at := state.Position.Add(off)
		for o := range s.byTile[at.Floor()] {
			if o.marker || o.state.Kind().Type != "underground-belt" || o.state.Name != state.Name {
				continue
			}
			if o.state.Direction == state.Direction.Opposite() {
				state.SetDirection(o.state.Direction)
				if t, ok := state.Props["type"].(string); ok {
					if t == "input" {
						state.Props["type"] = "output"
					} else {
						state.Props["type"] = "input"
					}
				}
				return
			}
		}
	}
}

func (w *World) ClearBuildableEntities(surface string, area geom.BoundingBox) {
	s := w.surface(surface)
	for _, e := range s.inBox(area) {
		if !area.Contains(e.state.Position) {
			continue
		}
		s.unindex(e)
		e.valid = false
	}
}

func (w *World) TryFastReplace(surface string, target *entity.Entity, newName string) (paste.WorldEntity, bool) {
	s := w.surface(surface)
	old := w.compatibleAt(s, target)
	if old == nil || old.locked || old.state.Name == newName {
		return nil, false
	}
	next := old.state.Clone()
	next.Rename(newName, w.protos)
	if !entity.IsCompatible(next, old.state, nil) {
		return nil, false
	}
	if c := w.collides(s, next, old); c != nil {
		return nil, false
	}
	s.unindex(old)
	old.valid = false
	h := w.newEntity(next)
	h.ghost = old.ghost
	h.requests = cloneCounts(old.requests)
	s.index(h)
	return h, true
}

func (w *World) CreateOverlapMarker(surface string, at *entity.Entity) paste.WorldEntity {
	state := entity.New(catalogs.OverlapMarkerName, at.Position, geom.North).Normalize(w.protos)
	state.Props = map[string]any{"overlapped": at.Name}
	h := w.newEntity(state)
	h.marker = true
	w.surface(surface).index(h)
	return h
}

func pasteSettings(dst, src *entity.Entity) {
	for p := range entity.PasteableProps {
		if p == entity.PropDirection {
			continue
		}
		if v, ok := src.Prop(p); ok {
			dst.SetProp(p, v)
		} else {
			dst.DeleteProp(p)
		}
	}
}

func cloneCounts(m map[string]int) map[string]int {
	if m == nil {
		return nil
	}
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
