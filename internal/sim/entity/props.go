package entity

import (
	"reflect"
	"sort"

	"layerforge.ai/internal/sim/geom"
)

// Prop names with dedicated fields.
const (
	PropName        = "name"
	PropDirection   = "direction"
	PropItems       = "items"
	PropConnections = "connections"
)

type PropSet map[string]struct{}

func NewPropSet(names ...string) PropSet {
	s := make(PropSet, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

func (s PropSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

func (s PropSet) Add(name string) { s[name] = struct{}{} }

func (s PropSet) Len() int { return len(s) }

func (s PropSet) Clone() PropSet {
	out := make(PropSet, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}

// Keys returns the set members sorted.
func (s PropSet) Keys() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// PasteableProps are overwritten on an existing entity by pasting onto it.
var PasteableProps = NewPropSet(
	PropDirection,
	"recipe",
	"control_behavior",
	"filters",
	"filter",
	"filter_mode",
	"request_filters",
	"request_from_buffers",
	"bar",
	"override_stack_size",
	"infinity_settings",
	"color",
	"station",
	"manual_trains_limit",
	"parameters",
	"alert_parameters",
	"switch_state",
	"drop_position",
	"pickup_position",
	"input_priority",
	"output_priority",
	"schedule",
)

// IgnoredProps never conflict at paste time.
var IgnoredProps = NewPropSet(
	"entity_number",
	"position",
	PropConnections,
	"neighbours",
	"tags",
	"type",
)

// UpdateOnlyProps are only changed through an upgrade (name) or reported
// without being applied (items).
var UpdateOnlyProps = NewPropSet(PropName, PropItems)

// IsKnownProp reports whether the paste model knows how to treat name.
func IsKnownProp(name string) bool {
	return PasteableProps.Has(name) || IgnoredProps.Has(name) || UpdateOnlyProps.Has(name)
}

// Prop returns the value of a named prop, or false when it is absent.
// Defaults (north, no items, no connections) count as absent.
func (e *Entity) Prop(name string) (any, bool) {
	switch name {
	case PropName:
		return e.Name, true
	case PropDirection:
		if e.Direction == geom.North {
			return nil, false
		}
		return e.Direction, true
	case PropItems:
		if len(e.Items) == 0 {
			return nil, false
		}
		return e.Items, true
	case PropConnections:
		if e.Connections.IsEmpty() {
			return nil, false
		}
		return e.Connections, true
	}
	v, ok := e.Props[name]
	return v, ok
}

// SetProp sets a named prop. The name prop does not refresh the footprint;
// use Rename or AdoptKind for that.
func (e *Entity) SetProp(name string, v any) {
	switch name {
	case PropName:
		if s, ok := v.(string); ok {
			e.Name = s
		}
	case PropDirection:
		if d, ok := v.(geom.Direction); ok {
			e.SetDirection(d)
		}
	case PropItems:
		if m, ok := v.(map[string]int); ok {
			e.Items = cloneItems(m)
		}
	case PropConnections:
		if c, ok := v.(Connections); ok {
			e.Connections = c.Clone()
		}
	default:
		if e.Props == nil {
			e.Props = map[string]any{}
		}
		e.Props[name] = cloneValue(v)
	}
}

func (e *Entity) DeleteProp(name string) {
	switch name {
	case PropName:
	case PropDirection:
		e.SetDirection(geom.North)
	case PropItems:
		e.Items = nil
	case PropConnections:
		e.Connections = nil
	default:
		delete(e.Props, name)
	}
}

// PropNames lists the props present on e, sorted.
func (e *Entity) PropNames() []string {
	out := []string{PropName}
	if e.Direction != geom.North {
		out = append(out, PropDirection)
	}
	if len(e.Items) > 0 {
		out = append(out, PropItems)
	}
	if !e.Connections.IsEmpty() {
		out = append(out, PropConnections)
	}
	for k := range e.Props {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// PropEqual compares a prop of a and b structurally.
func PropEqual(a, b *Entity, name string) bool {
	av, aok := a.Prop(name)
	bv, bok := b.Prop(name)
	if aok != bok {
		return false
	}
	if !aok {
		return true
	}
	switch name {
	case PropItems:
		return ItemsEqual(a.Items, b.Items)
	case PropConnections:
		return a.Connections.Equal(b.Connections)
	}
	return reflect.DeepEqual(av, bv)
}

func ItemsEqual(a, b map[string]int) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if w, ok := b[k]; !ok || w != v {
			return false
		}
	}
	return true
}
