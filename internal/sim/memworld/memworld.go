package memworld

import (
	"fmt"
	"sort"

	"layerforge.ai/internal/sim/entity"
	"layerforge.ai/internal/sim/geom"
	"layerforge.ai/internal/sim/paste"
)

// Entity is a world entity handle. Its state lives in an absolute
// coordinate entity record.
type Entity struct {
	id     uint64
	state  *entity.Entity
	ghost  bool
	marker bool
	valid  bool
	locked bool
	// requests is the pending item-request satellite of a ghost.
	requests map[string]int
}

func (e *Entity) ID() uint64                   { return e.id }
func (e *Entity) Name() string                 { return e.state.Name }
func (e *Entity) Position() geom.Position      { return e.state.Position }
func (e *Entity) Direction() geom.Direction    { return e.state.Direction }
func (e *Entity) Valid() bool                  { return e.valid }
func (e *Entity) Ghost() bool                  { return e.ghost }
func (e *Entity) Marker() bool                 { return e.marker }
func (e *Entity) Items() map[string]int        { return e.state.Items }
func (e *Entity) Requests() map[string]int     { return e.requests }
func (e *Entity) Prop(name string) (any, bool) { return e.state.Prop(name) }

// Snapshot returns a copy of the entity state.
func (e *Entity) Snapshot() *entity.Entity { return e.state.Clone() }

// State exposes the live state record. Tests use it to compare object
// identity across replacements.
func (e *Entity) State() *entity.Entity { return e.state }

type Surface struct {
	name     string
	entities map[uint64]*Entity
	byTile   map[geom.Tile]map[*Entity]struct{}
}

func newSurface(name string) *Surface {
	return &Surface{name: name, entities: map[uint64]*Entity{}, byTile: map[geom.Tile]map[*Entity]struct{}{}}
}

func (s *Surface) index(e *Entity) {
	e.state.TileBox().ForEachTile(func(t geom.Tile) bool {
		set := s.byTile[t]
		if set == nil {
			set = map[*Entity]struct{}{}
			s.byTile[t] = set
		}
		set[e] = struct{}{}
		return true
	})
	s.entities[e.id] = e
}

func (s *Surface) unindex(e *Entity) {
	e.state.TileBox().ForEachTile(func(t geom.Tile) bool {
		delete(s.byTile[t], e)
		if len(s.byTile[t]) == 0 {
			delete(s.byTile, t)
		}
		return true
	})
	delete(s.entities, e.id)
}

func (s *Surface) inBox(box geom.BoundingBox) []*Entity {
	seen := map[*Entity]struct{}{}
	var out []*Entity
	box.ForEachTile(func(t geom.Tile) bool {
		for e := range s.byTile[t] {
			if _, ok := seen[e]; !ok {
				seen[e] = struct{}{}
				out = append(out, e)
			}
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// World is an in-memory paste.World. It is not safe for concurrent use;
// the engine loop owns it.
type World struct {
	protos   entity.Prototypes
	surfaces map[string]*Surface
	nextID   uint64

	// ReviveFailures makes the next n revival attempts of a prototype fail.
	ReviveFailures map[string]int
}

var _ paste.World = (*World)(nil)

func New(protos entity.Prototypes) *World {
	return &World{
		protos:         protos,
		surfaces:       map[string]*Surface{},
		nextID:         1,
		ReviveFailures: map[string]int{},
	}
}

func (w *World) surface(name string) *Surface {
	s := w.surfaces[name]
	if s == nil {
		s = newSurface(name)
		w.surfaces[name] = s
	}
	return s
}

func (w *World) newEntity(state *entity.Entity) *Entity {
	e := &Entity{id: w.nextID, state: state, valid: true}
	w.nextID++
	return e
}

// Build places a real entity at its absolute position. It fails when the
// footprint collides with another entity.
func (w *World) Build(surface string, e *entity.Entity) (*Entity, error) {
	s := w.surface(surface)
	state := e.Clone().Normalize(w.protos)
	state.DiffType = entity.DiffNone
	state.ChangedProps = nil
	state.Connections = nil
	if c := w.collides(s, state, nil); c != nil {
		return nil, fmt.Errorf("memworld: %v collides with %s", state, c.Name())
	}
	h := w.newEntity(state)
	s.index(h)
	return h, nil
}

// Connect adds a wire between two world entities.
func (w *World) Connect(a, b *Entity, color string) {
	a.state.Connections.Add("1", color, entity.ConnectionData{EntityID: int(b.id), CircuitID: 1})
	b.state.Connections.Add("1", color, entity.ConnectionData{EntityID: int(a.id), CircuitID: 1})
}

// Lock marks e as not minable. Fast replace refuses locked entities.
func (w *World) Lock(e *Entity) { e.locked = true }

// Entities lists every non-marker entity on surface inside area.
func (w *World) Entities(surface string, area geom.BoundingBox) []*Entity {
	var out []*Entity
	for _, e := range w.surface(surface).inBox(area) {
		if !e.marker && area.Contains(e.state.Position) {
			out = append(out, e)
		}
	}
	return out
}

// Markers lists the overlap markers on surface inside area.
func (w *World) Markers(surface string, area geom.BoundingBox) []*Entity {
	var out []*Entity
	for _, e := range w.surface(surface).inBox(area) {
		if e.marker && area.Contains(e.state.Position) {
			out = append(out, e)
		}
	}
	return out
}

// Find returns the non-marker entity named name at pos.
func (w *World) Find(surface, name string, pos geom.Position) *Entity {
	for e := range w.surface(surface).byTile[pos.Floor()] {
		if !e.marker && e.state.Name == name && e.state.Position.Equals(pos) {
			return e
		}
	}
	return nil
}

func (w *World) collides(s *Surface, state *entity.Entity, except *Entity) *Entity {
	for _, o := range s.inBox(state.TileBox()) {
		if o == except || o.marker {
			continue
		}
		if o.state.TileBox().IntersectsNonZeroArea(state.TileBox()) {
			return o
		}
	}
	return nil
}

func (w *World) compatibleAt(s *Surface, state *entity.Entity) *Entity {
	for e := range s.byTile[state.Position.Floor()] {
		if !e.marker && entity.IsCompatible(state, e.state, nil) {
			return e
		}
	}
	return nil
}
