package assembly

import (
	"github.com/google/uuid"

	"layerforge.ai/internal/protocol"
	"layerforge.ai/internal/sim/blueprint"
	"layerforge.ai/internal/sim/entity"
	"layerforge.ai/internal/sim/geom"
)

// Paste builds content into the live area of an assembly, the way a player
// would stamp a blueprint. at is relative to the area's top-left and
// anything falling outside the area is skipped. The edit is unsaved until
// Save is called.
func (m *Manager) Paste(id uuid.UUID, content *blueprint.Entities, at geom.Position) (int, error) {
	a, err := m.Get(id)
	if err != nil {
		return 0, err
	}
	if content == nil || content.Len() == 0 {
		return 0, userErr(protocol.ErrBadRequest, "blueprint is empty")
	}
	// Only content touching the area, in content coordinates.
	window := a.Area.ShiftToOrigin().Shift(at.Neg())
	var entities []*entity.Entity
	for _, e := range content.GetInBox(window) {
		if e.DiffType != entity.DiffDelete {
			entities = append(entities, e)
		}
	}
	if len(entities) == 0 {
		return 0, nil
	}
	clip := a.Area
	placed := m.world.PasteBlueprint(a.Surface, a.Area.LeftTop.Add(at), entities, &clip)
	m.logger.Printf("assembly paste id=%s entities=%d in_area=%d placed=%d", a.ID, content.Len(), len(entities), len(placed))
	return len(placed), nil
}
