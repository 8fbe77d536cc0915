package paste

import (
	"layerforge.ai/internal/sim/entity"
	"layerforge.ai/internal/sim/geom"
)

// WorldEntity is a handle to an entity present in the world.
type WorldEntity interface {
	Name() string
	Position() geom.Position
	Direction() geom.Direction
	Valid() bool
}

// World is the placement capability the engine runs against. Positions
// passed in and out are absolute unless noted.
type World interface {
	// TakeBlueprint reads the entities inside area, with positions made
	// relative to worldTopLeft and entity numbers assigned in (y, x) order.
	TakeBlueprint(surface string, area geom.BoundingBox, worldTopLeft geom.Position) []*entity.Entity
	// PasteBlueprint places entities (content coordinates) with their origin
	// at position, skipping any outside clip when it is set. It returns the
	// entities newly present in the world, completed or still pending.
	PasteBlueprint(surface string, position geom.Position, entities []*entity.Entity, clip *geom.BoundingBox) []WorldEntity
	// ClearBuildableEntities removes every removable entity, ghost and
	// marker in area.
	ClearBuildableEntities(surface string, area geom.BoundingBox)
	// TryFastReplace swaps the entity compatible with target for newName in
	// place. ok is false when the engine would refuse.
	TryFastReplace(surface string, target *entity.Entity, newName string) (replaced WorldEntity, ok bool)
	// CreateOverlapMarker places an inert placeholder covering at.
	CreateOverlapMarker(surface string, at *entity.Entity) WorldEntity
}
