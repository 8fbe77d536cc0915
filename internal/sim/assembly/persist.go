package assembly

import (
	"fmt"

	"github.com/google/uuid"

	"layerforge.ai/internal/persistence/snapshot"
	"layerforge.ai/internal/sim/blueprint"
	"layerforge.ai/internal/sim/geom"
)

// Export captures every assembly in creation order.
func (m *Manager) Export() ([]snapshot.AssemblyV1, error) {
	out := make([]snapshot.AssemblyV1, 0, len(m.order))
	for _, a := range m.List() {
		s := snapshot.AssemblyV1{
			ID:         a.ID.String(),
			Name:       a.Name,
			Surface:    a.Surface,
			Area:       boxArray(a.Area),
			RefreshSeq: a.RefreshSeq,
		}
		for _, imp := range a.Imports {
			s.Imports = append(s.Imports, snapshot.ImportV1{
				SourceID:         imp.SourceID.String(),
				RelativePosition: [2]float64{imp.RelativePosition.X, imp.RelativePosition.Y},
			})
		}
		var err error
		if a.OwnContents != nil {
			if s.OwnContents, err = blueprint.EncodeJSON(a.OwnContents, a.Name); err != nil {
				return nil, fmt.Errorf("assembly %q: encode own contents: %w", a.Name, err)
			}
		}
		if a.below != nil {
			if s.Below, err = blueprint.EncodeJSON(a.below, a.Name); err != nil {
				return nil, fmt.Errorf("assembly %q: encode below: %w", a.Name, err)
			}
		}
		out = append(out, s)
	}
	return out, nil
}

// Restore replaces all assemblies with a snapshot. The world is not
// touched; callers follow up with RefreshAll.
func (m *Manager) Restore(in []snapshot.AssemblyV1) error {
	restored := make([]*Assembly, 0, len(in))
	known := map[uuid.UUID]struct{}{}
	for _, s := range in {
		id, err := uuid.Parse(s.ID)
		if err != nil {
			return fmt.Errorf("assembly %q: bad id: %w", s.Name, err)
		}
		if _, dup := known[id]; dup {
			return fmt.Errorf("assembly %q: duplicate id %s", s.Name, id)
		}
		known[id] = struct{}{}
		a := &Assembly{
			ID:         id,
			Name:       s.Name,
			Surface:    s.Surface,
			Area:       geom.BBox(s.Area[0], s.Area[1], s.Area[2], s.Area[3]),
			RefreshSeq: s.RefreshSeq,
		}
		for _, imp := range s.Imports {
			src, err := uuid.Parse(imp.SourceID)
			if err != nil {
				return fmt.Errorf("assembly %q: bad import id: %w", s.Name, err)
			}
			a.Imports = append(a.Imports, Import{SourceID: src, RelativePosition: geom.Pos(imp.RelativePosition[0], imp.RelativePosition[1])})
		}
		if a.OwnContents, err = m.decode(s.OwnContents); err != nil {
			return fmt.Errorf("assembly %q: own contents: %w", s.Name, err)
		}
		if len(s.Below) > 0 {
			if a.below, err = m.decode(s.Below); err != nil {
				return fmt.Errorf("assembly %q: below: %w", s.Name, err)
			}
		}
		restored = append(restored, a)
	}
	for _, a := range restored {
		for _, imp := range a.Imports {
			if _, ok := known[imp.SourceID]; !ok {
				return fmt.Errorf("assembly %q imports unknown assembly %s", a.Name, imp.SourceID)
			}
		}
	}

	prevAssemblies, prevOrder := m.assemblies, m.order
	m.assemblies = map[uuid.UUID]*Assembly{}
	m.order = nil
	for _, a := range restored {
		m.add(a)
	}
	if m.hasImportCycle() {
		m.assemblies, m.order = prevAssemblies, prevOrder
		return fmt.Errorf("snapshot contains an import cycle")
	}
	m.logger.Printf("restored %d assemblies", len(restored))
	return nil
}

func (m *Manager) decode(raw []byte) (*blueprint.Entities, error) {
	if len(raw) == 0 {
		return blueprint.NewEntities(), nil
	}
	bp, _, err := blueprint.DecodeJSON(raw, m.protos)
	return bp, err
}

// hasImportCycle reports whether any assembly reaches itself through its
// imports.
func (m *Manager) hasImportCycle() bool {
	for _, a := range m.assemblies {
		for _, imp := range a.Imports {
			if m.imports(imp.SourceID, a.ID) {
				return true
			}
		}
	}
	return false
}

func boxArray(b geom.BoundingBox) [4]float64 {
	return [4]float64{b.LeftTop.X, b.LeftTop.Y, b.RightBottom.X, b.RightBottom.Y}
}
