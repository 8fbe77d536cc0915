// Package assembly manages named world regions whose contents are
// composited from imported layers plus their own saved changes.
package assembly

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"layerforge.ai/internal/sim/blueprint"
	"layerforge.ai/internal/sim/diagnostics"
	"layerforge.ai/internal/sim/geom"
	"layerforge.ai/internal/sim/paste"
)

// Import overlays another assembly's content. RelativePosition is where the
// source area's top-left lands relative to the importing area's top-left.
type Import struct {
	SourceID         uuid.UUID     `json:"source_id"`
	RelativePosition geom.Position `json:"relative_position"`
}

type Assembly struct {
	ID      uuid.UUID
	Name    string
	Surface string
	Area    geom.BoundingBox
	Imports []Import

	// OwnContents is the saved diff over the imports, relative to
	// Area.LeftTop.
	OwnContents *blueprint.Entities

	LastResult *RefreshResult
	RefreshSeq uint64

	// below is the composited imports as of the last refresh. Save diffs
	// against it.
	below *blueprint.Entities
}

// RefreshResult is the outcome of one refresh.
type RefreshResult struct {
	Seq         uint64
	At          time.Time
	Duration    time.Duration
	Layers      int
	Placed      int
	// Composited counts the entities the layers left in the area.
	Composited  int
	Conflicts   paste.Conflicts
	Diagnostics diagnostics.Collection
}

// UserError is a recoverable error caused by a request. It is reported to
// the user and never aborts the engine.
type UserError struct {
	Code string
	Msg  string
}

func (e *UserError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Msg) }

func userErr(code, format string, args ...any) error {
	return &UserError{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// AsUserError unwraps err to a *UserError.
func AsUserError(err error) (*UserError, bool) {
	var ue *UserError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}
