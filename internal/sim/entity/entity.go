package entity

import (
	"fmt"

	"layerforge.ai/internal/sim/catalogs"
	"layerforge.ai/internal/sim/geom"
)

// TileRoundThreshold is the shrink applied to collision boxes before they
// are rounded to tiles.
const TileRoundThreshold = 0.1

// Prototypes resolves entity prototype data by name. *catalogs.PrototypeCatalog
// implements it.
type Prototypes interface {
	Lookup(name string) (catalogs.PrototypeDef, bool)
}

type DiffType uint8

const (
	DiffNone DiffType = iota
	DiffReference
	DiffDelete
)

func (d DiffType) String() string {
	switch d {
	case DiffReference:
		return "reference"
	case DiffDelete:
		return "delete"
	}
	return ""
}

// Kind is the prototype-derived part of an entity that placement and
// compatibility depend on.
type Kind struct {
	Type         string
	CollisionBox geom.BoundingBox
	// Group is the compatibility key: fast-replace group (or the name when
	// the prototype declares none) plus the collision box.
	Group             string
	RotationPasteable bool
}

func defaultKind(name string) Kind {
	b := geom.BBox(-0.4, -0.4, 0.4, 0.4)
	return Kind{CollisionBox: b, Group: groupKey("name:"+name, b)}
}

func groupKey(group string, b geom.BoundingBox) string {
	return fmt.Sprintf("%s|%g,%g,%g,%g", group, b.LeftTop.X, b.LeftTop.Y, b.RightBottom.X, b.RightBottom.Y)
}

// KindOf derives the Kind for name. Unknown prototypes get a 1x1 footprint
// and a name-keyed group.
func KindOf(protos Prototypes, name string) Kind {
	if protos == nil {
		return defaultKind(name)
	}
	def, ok := protos.Lookup(name)
	if !ok {
		return defaultKind(name)
	}
	b := def.Box().Normalize()
	group := def.FastReplaceableGroup
	if group == "" {
		group = "name:" + name
	}
	return Kind{
		Type:              def.Type,
		CollisionBox:      b,
		Group:             groupKey(group, b),
		RotationPasteable: def.Type == "assembling-machine" && b.IsCenteredSquare(),
	}
}

// Entity is one placed or blueprinted entity. Position is in the coordinate
// space of whatever holds it; the holder tracks which.
type Entity struct {
	Name         string
	Position     geom.Position
	Direction    geom.Direction
	EntityNumber int

	Items       map[string]int
	Connections Connections
	// Props holds the remaining payload (recipe, control_behavior, ...)
	// verbatim.
	Props map[string]any

	DiffType     DiffType
	ChangedProps PropSet

	kind    Kind
	tileBox geom.BoundingBox
}

// New returns a plain entity with a default footprint. Call Normalize to
// resolve its prototype.
func New(name string, pos geom.Position, dir geom.Direction) *Entity {
	e := &Entity{Name: name, Position: pos, Direction: dir}
	e.kind = defaultKind(name)
	e.refreshTileBox()
	return e
}

func (e *Entity) Core() *Entity { return e }

func (e *Entity) Kind() Kind { return e.kind }

// TileBox is the rotated and placed collision box rounded to whole tiles.
func (e *Entity) TileBox() geom.BoundingBox { return e.tileBox }

// WorldBox is the rotated and placed collision box without rounding.
func (e *Entity) WorldBox() geom.BoundingBox {
	return e.kind.CollisionBox.RotateAboutOrigin(e.Direction).Shift(e.Position)
}

func (e *Entity) IsReference() bool { return e.DiffType == DiffReference }

// Normalize resolves the prototype of e and recomputes its footprint.
func (e *Entity) Normalize(protos Prototypes) *Entity {
	e.kind = KindOf(protos, e.Name)
	e.refreshTileBox()
	return e
}

// AdoptKind copies the resolved prototype data of other, which must share
// e's name.
func (e *Entity) AdoptKind(other *Entity) {
	e.kind = other.kind
	e.refreshTileBox()
}

func (e *Entity) SetPosition(pos geom.Position) {
	e.Position = pos
	e.refreshTileBox()
}

func (e *Entity) SetDirection(dir geom.Direction) {
	e.Direction = dir
	e.refreshTileBox()
}

// Rename changes the prototype of e.
func (e *Entity) Rename(name string, protos Prototypes) {
	e.Name = name
	e.Normalize(protos)
}

func (e *Entity) refreshTileBox() {
	wb := e.WorldBox()
	tb := wb.RoundTileConservative(TileRoundThreshold)
	if tb.IsEmpty() {
		tb = wb.RoundTile()
	}
	if tb.IsEmpty() {
		t := e.Position.Floor()
		tb = geom.BBox(float64(t.X), float64(t.Y), float64(t.X+1), float64(t.Y+1))
	}
	e.tileBox = tb
}

// Shifted returns a copy of e moved by offset.
func (e *Entity) Shifted(offset geom.Position) *Entity {
	c := e.Clone()
	c.SetPosition(e.Position.Add(offset))
	return c
}

// Clone deep copies e.
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	c := *e
	c.Items = cloneItems(e.Items)
	c.Connections = e.Connections.Clone()
	if e.Props != nil {
		c.Props = make(map[string]any, len(e.Props))
		for k, v := range e.Props {
			c.Props[k] = cloneValue(v)
		}
	}
	if e.ChangedProps != nil {
		c.ChangedProps = e.ChangedProps.Clone()
	}
	return &c
}

// NewReference returns a reference-only update record carrying e's payload
// and the given changed props. An empty set is a pure reference.
func NewReference(e *Entity, changed PropSet) *Entity {
	c := e.Clone()
	c.DiffType = DiffReference
	if changed == nil {
		changed = PropSet{}
	}
	c.ChangedProps = changed
	return c
}

func (e *Entity) String() string {
	return fmt.Sprintf("%s#%d@%v/%v", e.Name, e.EntityNumber, e.Position, e.Direction)
}

func cloneItems(m map[string]int) map[string]int {
	if m == nil {
		return nil
	}
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// cloneValue deep copies JSON-shaped payload values.
func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, x := range t {
			out[k] = cloneValue(x)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = cloneValue(x)
		}
		return out
	case map[string]int:
		return cloneItems(t)
	case Connections:
		return t.Clone()
	default:
		return v
	}
}
