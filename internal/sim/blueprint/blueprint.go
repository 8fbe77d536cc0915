package blueprint

import (
	"errors"
	"fmt"
	"sort"

	"layerforge.ai/internal/sim/entity"
	"layerforge.ai/internal/sim/geom"
)

var (
	// ErrNotInBlueprint is returned when an entity handed to Replace/Remove
	// is not the value currently stored under its number.
	ErrNotInBlueprint = errors.New("entity not in blueprint")
	// ErrUnmappedEntityNumber is returned by RemapEntityNumbers when the map
	// misses an id in use.
	ErrUnmappedEntityNumber = errors.New("unmapped entity number")
)

// Indexed is any entity record a Blueprint can hold.
type Indexed interface {
	comparable
	Core() *entity.Entity
}

type slot[E Indexed] struct {
	value E
	box   geom.BoundingBox
}

// Blueprint is a collection of entities keyed by entity number, with a
// tile index covering every tile of each entity's footprint. Several
// entities may cover the same tile.
type Blueprint[E Indexed] struct {
	byNumber map[int]slot[E]
	byTile   map[geom.Tile]map[E]struct{}
	next     int
}

func New[E Indexed]() *Blueprint[E] {
	return &Blueprint[E]{
		byNumber: map[int]slot[E]{},
		byTile:   map[geom.Tile]map[E]struct{}{},
		next:     1,
	}
}

// FromEntities builds a blueprint keeping the given entity numbers, which
// must be positive and unique.
func FromEntities[E Indexed](entities []E) (*Blueprint[E], error) {
	bp := New[E]()
	for _, e := range entities {
		n := e.Core().EntityNumber
		if n <= 0 {
			return nil, fmt.Errorf("blueprint: entity %v has no entity number", e.Core())
		}
		if _, dup := bp.byNumber[n]; dup {
			return nil, fmt.Errorf("blueprint: duplicate entity number %d", n)
		}
		bp.insert(n, e)
		if n >= bp.next {
			bp.next = n + 1
		}
	}
	return bp, nil
}

// FromEntitiesRenumbered builds a blueprint assigning fresh sequential
// numbers in slice order. Connections are not rewritten.
func FromEntitiesRenumbered[E Indexed](entities []E) *Blueprint[E] {
	bp := New[E]()
	for _, e := range entities {
		bp.AddSingle(e)
	}
	return bp
}

func (bp *Blueprint[E]) insert(n int, e E) {
	box := e.Core().TileBox()
	bp.byNumber[n] = slot[E]{value: e, box: box}
	box.ForEachTile(func(t geom.Tile) bool {
		set := bp.byTile[t]
		if set == nil {
			set = map[E]struct{}{}
			bp.byTile[t] = set
		}
		set[e] = struct{}{}
		return true
	})
}

func (bp *Blueprint[E]) unindex(s slot[E]) {
	s.box.ForEachTile(func(t geom.Tile) bool {
		set := bp.byTile[t]
		delete(set, s.value)
		if len(set) == 0 {
			delete(bp.byTile, t)
		}
		return true
	})
}

func (bp *Blueprint[E]) checkStored(e E) (slot[E], error) {
	n := e.Core().EntityNumber
	s, ok := bp.byNumber[n]
	if !ok || s.value != e {
		return slot[E]{}, fmt.Errorf("%w: %v", ErrNotInBlueprint, e.Core())
	}
	return s, nil
}

// AddSingle assigns the next entity number to e and indexes it. e must not
// be held by another blueprint.
func (bp *Blueprint[E]) AddSingle(e E) E {
	n := bp.next
	bp.next++
	e.Core().EntityNumber = n
	bp.insert(n, e)
	return e
}

// ReplaceUnsafe swaps old, which must be the stored value, for next under
// the same entity number.
func (bp *Blueprint[E]) ReplaceUnsafe(old, next E) (E, error) {
	s, err := bp.checkStored(old)
	if err != nil {
		var zero E
		return zero, err
	}
	bp.unindex(s)
	n := old.Core().EntityNumber
	next.Core().EntityNumber = n
	bp.insert(n, next)
	return next, nil
}

// Remove deletes e, which must be the stored value.
func (bp *Blueprint[E]) Remove(e E) (E, error) {
	s, err := bp.checkStored(e)
	if err != nil {
		var zero E
		return zero, err
	}
	bp.unindex(s)
	delete(bp.byNumber, e.Core().EntityNumber)
	return e, nil
}

func (bp *Blueprint[E]) Get(number int) (E, bool) {
	s, ok := bp.byNumber[number]
	return s.value, ok
}

func (bp *Blueprint[E]) Len() int { return len(bp.byNumber) }

// GetAtPos returns every entity covering the tile containing (x, y),
// ordered by entity number.
func (bp *Blueprint[E]) GetAtPos(x, y float64) []E {
	return bp.atTile(geom.Pos(x, y).Floor())
}

func (bp *Blueprint[E]) GetAt(pos geom.Position) []E { return bp.atTile(pos.Floor()) }

func (bp *Blueprint[E]) atTile(t geom.Tile) []E {
	set := bp.byTile[t]
	if len(set) == 0 {
		return nil
	}
	out := make([]E, 0, len(set))
	for e := range set {
		out = append(out, e)
	}
	sortByNumber(out)
	return out
}

// GetInBox returns every entity covering at least one tile of box.
func (bp *Blueprint[E]) GetInBox(box geom.BoundingBox) []E {
	seen := map[E]struct{}{}
	var out []E
	box.ForEachTile(func(t geom.Tile) bool {
		for e := range bp.byTile[t] {
			if _, ok := seen[e]; !ok {
				seen[e] = struct{}{}
				out = append(out, e)
			}
		}
		return true
	})
	sortByNumber(out)
	return out
}

// FindCompatible returns the entity at pos compatible with e, if any.
func (bp *Blueprint[E]) FindCompatible(e *entity.Entity, pos *geom.Position) (E, bool) {
	p := e.Position
	if pos != nil {
		p = *pos
	}
	for _, c := range bp.GetAt(p) {
		if entity.IsCompatible(e, c.Core(), pos) {
			return c, true
		}
	}
	var zero E
	return zero, false
}

// Entities returns all entities ordered by entity number.
func (bp *Blueprint[E]) Entities() []E {
	out := make([]E, 0, len(bp.byNumber))
	for _, s := range bp.byNumber {
		out = append(out, s.value)
	}
	sortByNumber(out)
	return out
}

// RemapEntityNumbers renumbers every entity through m and rewrites circuit
// connections to match. Every number in use must be mapped, and targets
// must be distinct.
func (bp *Blueprint[E]) RemapEntityNumbers(m map[int]int) error {
	seen := map[int]struct{}{}
	for n := range bp.byNumber {
		to, ok := m[n]
		if !ok {
			return fmt.Errorf("%w: %d", ErrUnmappedEntityNumber, n)
		}
		if _, dup := seen[to]; dup {
			return fmt.Errorf("blueprint: remap target %d used twice", to)
		}
		seen[to] = struct{}{}
	}
	remapped := make(map[int]entity.Connections, len(bp.byNumber))
	for n, s := range bp.byNumber {
		c, err := s.value.Core().Connections.Remap(m)
		if err != nil {
			return fmt.Errorf("%w: entity %d: %v", ErrUnmappedEntityNumber, n, err)
		}
		remapped[n] = c
	}
	old := bp.byNumber
	bp.byNumber = make(map[int]slot[E], len(old))
	bp.next = 1
	for n, s := range old {
		to := m[n]
		core := s.value.Core()
		core.EntityNumber = to
		core.Connections = remapped[n]
		bp.byNumber[to] = s
		if to >= bp.next {
			bp.next = to + 1
		}
	}
	return nil
}

// SortEntities renumbers entities 1..n in (y, x) order so that logically
// equal blueprints compare equal.
func (bp *Blueprint[E]) SortEntities() error {
	all := bp.Entities()
	sort.SliceStable(all, func(i, j int) bool { return lessByPosition(all[i].Core(), all[j].Core()) })
	m := make(map[int]int, len(all))
	for i, e := range all {
		m[e.Core().EntityNumber] = i + 1
	}
	return bp.RemapEntityNumbers(m)
}

// CheckIndex verifies that the number map and the tile index agree.
func (bp *Blueprint[E]) CheckIndex() error {
	count := 0
	for t, set := range bp.byTile {
		if len(set) == 0 {
			return fmt.Errorf("blueprint: empty bucket at %v", t)
		}
		for e := range set {
			s, ok := bp.byNumber[e.Core().EntityNumber]
			if !ok || s.value != e {
				return fmt.Errorf("blueprint: tile %v holds unknown entity %v", t, e.Core())
			}
			if !s.box.Contains(t.Position()) {
				return fmt.Errorf("blueprint: tile %v outside footprint of %v", t, e.Core())
			}
			count++
		}
	}
	want := 0
	for n, s := range bp.byNumber {
		if s.value.Core().EntityNumber != n {
			return fmt.Errorf("blueprint: entity %v stored under %d", s.value.Core(), n)
		}
		var missing error
		s.box.ForEachTile(func(t geom.Tile) bool {
			want++
			if _, ok := bp.byTile[t][s.value]; !ok {
				missing = fmt.Errorf("blueprint: %v missing from tile %v", s.value.Core(), t)
				return false
			}
			return true
		})
		if missing != nil {
			return missing
		}
	}
	if count != want {
		return fmt.Errorf("blueprint: tile index has %d entries, footprints cover %d", count, want)
	}
	return nil
}

func lessByPosition(a, b *entity.Entity) bool {
	if a.Position.Y != b.Position.Y {
		return a.Position.Y < b.Position.Y
	}
	if a.Position.X != b.Position.X {
		return a.Position.X < b.Position.X
	}
	if a.Name != b.Name {
		return a.Name < b.Name
	}
	return a.Direction < b.Direction
}

func sortByNumber[E Indexed](s []E) {
	sort.Slice(s, func(i, j int) bool { return s[i].Core().EntityNumber < s[j].Core().EntityNumber })
}
