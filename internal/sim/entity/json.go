package entity

import (
	"encoding/json"
	"fmt"

	"layerforge.ai/internal/sim/geom"
)

const (
	jsonDiffKey    = "diff"
	jsonChangedKey = "changed_props"
)

// MarshalJSON writes the blueprint-file form of e. Diff metadata is carried
// in the "diff" and "changed_props" keys.
func (e *Entity) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(e.Props)+8)
	for k, v := range e.Props {
		m[k] = v
	}
	m["entity_number"] = e.EntityNumber
	m["name"] = e.Name
	m["position"] = e.Position
	if e.Direction != geom.North {
		m["direction"] = int(e.Direction)
	}
	if len(e.Items) > 0 {
		m["items"] = e.Items
	}
	if !e.Connections.IsEmpty() {
		m["connections"] = e.Connections
	}
	if e.DiffType != DiffNone {
		m[jsonDiffKey] = e.DiffType.String()
	}
	if e.IsReference() {
		m[jsonChangedKey] = e.ChangedProps.Keys()
	}
	return json.Marshal(m)
}

// UnmarshalJSON reads the blueprint-file form. The result carries a default
// footprint until Normalize is called.
func (e *Entity) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*e = Entity{}
	take := func(key string, dst any) error {
		v, ok := raw[key]
		if !ok {
			return nil
		}
		delete(raw, key)
		if err := json.Unmarshal(v, dst); err != nil {
			return fmt.Errorf("entity %s: %w", key, err)
		}
		return nil
	}
	var dir int
	var diff string
	var changed []string
	for _, f := range []struct {
		key string
		dst any
	}{
		{"entity_number", &e.EntityNumber},
		{"name", &e.Name},
		{"position", &e.Position},
		{"direction", &dir},
		{"items", &e.Items},
		{"connections", &e.Connections},
		{jsonDiffKey, &diff},
		{jsonChangedKey, &changed},
	} {
		if err := take(f.key, f.dst); err != nil {
			return err
		}
	}
	if e.Name == "" {
		return fmt.Errorf("entity: missing name")
	}
	e.Direction = geom.NormalizeDirection(dir)
	switch diff {
	case "":
	case "reference":
		e.DiffType = DiffReference
		e.ChangedProps = NewPropSet(changed...)
	case "delete":
		e.DiffType = DiffDelete
	default:
		return fmt.Errorf("entity: unknown diff type %q", diff)
	}
	for k, v := range raw {
		var x any
		if err := json.Unmarshal(v, &x); err != nil {
			return fmt.Errorf("entity %s: %w", k, err)
		}
		if e.Props == nil {
			e.Props = map[string]any{}
		}
		e.Props[k] = x
	}
	e.kind = defaultKind(e.Name)
	e.refreshTileBox()
	return nil
}
