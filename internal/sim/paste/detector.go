package paste

import (
	"errors"
	"fmt"

	"github.com/davecgh/go-spew/spew"

	"layerforge.ai/internal/sim/blueprint"
	"layerforge.ai/internal/sim/entity"
	"layerforge.ai/internal/sim/geom"
)

// ErrUnmatchedPlacement means the world reported an entity that matches no
// pasted content, even assuming an underground belt flip.
var ErrUnmatchedPlacement = errors.New("placed entity matches no pasted content")

// InternalError reports a broken precondition of a paste. The current
// operation must be aborted.
type InternalError struct {
	Err  error
	Msg  string
	Dump string
}

func (e *InternalError) Error() string { return fmt.Sprintf("paste: %s: %v", e.Msg, e.Err) }
func (e *InternalError) Unwrap() error { return e.Err }

// Request describes one layer paste.
type Request struct {
	Surface string
	// Area is the absolute target area.
	Area geom.BoundingBox
	// Existing is the shadow of what is already in Area, in target-relative
	// coordinates. It is updated by the paste.
	Existing *blueprint.PartialBlueprint
	// Content is the layer to overlay, in its own coordinates.
	Content *blueprint.Entities
	// PasteAt is where the content lands relative to Area.LeftTop: its
	// LeftTop is the content origin and its extent clips the content.
	PasteAt geom.BoundingBox
}

type Result struct {
	Conflicts Conflicts
	Placed    []WorldEntity
}

type Detector struct {
	World  World
	Protos entity.Prototypes
}

func NewDetector(w World, protos entity.Prototypes) *Detector {
	return &Detector{World: w, Protos: protos}
}

// PasteAndDetect pastes req.Content into the world and reports how it
// interacted with req.Existing: new entities, upgrades through fast
// replace, item request changes, incompatible overlaps, lost references and
// flipped underground belts. Overlapping content gets an inert marker in
// the world and an error entry in the shadow index.
func (d *Detector) PasteAndDetect(req Request) (Result, error) {
	var res Result
	if req.Content == nil || req.Existing == nil {
		return res, nil
	}
	origin := req.PasteAt.LeftTop
	clip := req.Area.ShiftToOrigin().Intersect(req.PasteAt).RoundTile()
	if clip.IsEmpty() {
		return res, nil
	}

	var (
		toPaste     []*entity.Entity
		relative    []*entity.Entity
		unaccounted = map[*entity.Entity]struct{}{}
	)
	for _, ce := range req.Content.Entities() {
		rel := ce.Shifted(origin)
		if !clip.ContainsBox(rel.TileBox()) {
			continue
		}
		toPaste = append(toPaste, ce)
		relative = append(relative, rel)

		existing, isError, found := req.Existing.FindCompatible(rel, rel.Position)
		if !found {
			unaccounted[rel] = struct{}{}
			continue
		}
		if isError {
			continue
		}
		before := existing.Clone()
		next := existing.Clone()
		merged := entity.Merge(next, rel)
		if merged.UnsupportedProp != "" {
			res.Conflicts.UnsupportedProps = append(res.Conflicts.UnsupportedProps, PropConflict{Below: before, Above: rel, Prop: merged.UnsupportedProp})
			continue
		}
		if merged.Upgraded {
			if _, ok := d.World.TryFastReplace(req.Surface, existing.Shifted(req.Area.LeftTop), rel.Name); !ok {
				unaccounted[rel] = struct{}{}
				continue
			}
			next.Name = rel.Name
			next.AdoptKind(rel)
		}
		*existing = *next
		if merged.Upgraded {
			res.Conflicts.Upgrades = append(res.Conflicts.Upgrades, Pair{Below: before, Above: rel})
		} else if merged.ItemsChanged {
			res.Conflicts.ItemRequestChanges = append(res.Conflicts.ItemRequestChanges, Pair{Below: before, Above: rel})
		}
	}

	relIndex, err := blueprint.FromEntities(relative)
	if err != nil {
		return res, &InternalError{Err: err, Msg: "index pasted content"}
	}

	absClip := clip.Shift(req.Area.LeftTop)
	res.Placed = d.World.PasteBlueprint(req.Surface, req.Area.LeftTop.Add(origin), toPaste, &absClip)

	for _, h := range res.Placed {
		probe := entity.New(h.Name(), h.Position().Sub(req.Area.LeftTop), h.Direction()).Normalize(d.Protos)
		match, ok := relIndex.FindCompatible(probe, nil)
		flipped := false
		if !ok {
			turned := probe.Clone()
			turned.SetDirection(probe.Direction.Opposite())
			if turned.Kind().Type == "underground-belt" {
				match, ok = relIndex.FindCompatible(turned, nil)
			}
			if !ok {
				return res, &InternalError{Err: ErrUnmatchedPlacement, Msg: probe.String(), Dump: spew.Sdump(probe)}
			}
			flipped = true
		}
		// A lost reference outranks the flip for the same entity.
		switch {
		case match.IsReference() && match.ChangedProps.Len() > 0:
			res.Conflicts.LostReferences = append(res.Conflicts.LostReferences, match)
		case flipped:
			res.Conflicts.FlippedUndergrounds = append(res.Conflicts.FlippedUndergrounds, match)
		}
		if _, pending := unaccounted[match]; !pending {
			continue
		}
		delete(unaccounted, match)
		shadow := match.Clone()
		shadow.DiffType = entity.DiffNone
		shadow.ChangedProps = nil
		shadow.SetDirection(probe.Direction)
		req.Existing.Add(shadow)
	}

	for _, rel := range relative {
		if _, ok := unaccounted[rel]; !ok {
			continue
		}
		res.Conflicts.Overlaps = append(res.Conflicts.Overlaps, Pair{Below: belowOf(req.Existing, rel), Above: rel})
		d.World.CreateOverlapMarker(req.Surface, rel.Shifted(req.Area.LeftTop))
		req.Existing.AddErrorEntity(rel)
	}
	return res, nil
}

// belowOf picks the existing entity an overlapping rel collided with,
// preferring one at the same position.
func belowOf(existing *blueprint.PartialBlueprint, rel *entity.Entity) *entity.Entity {
	cands := existing.Overlapping(rel.TileBox())
	for _, c := range cands {
		if c.Position.Equals(rel.Position) {
			return c
		}
	}
	if len(cands) > 0 {
		return cands[0]
	}
	return nil
}
