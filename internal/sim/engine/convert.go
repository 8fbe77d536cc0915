package engine

import (
	"github.com/google/uuid"

	"layerforge.ai/internal/protocol"
	"layerforge.ai/internal/sim/assembly"
	"layerforge.ai/internal/sim/diagnostics"
	"layerforge.ai/internal/sim/geom"
	"layerforge.ai/internal/sim/sourcemap"
)

func RefOf(a *assembly.Assembly) protocol.AssemblyRef {
	return protocol.AssemblyRef{
		ID:         a.ID.String(),
		Name:       a.Name,
		Surface:    a.Surface,
		Area:       boxArray(a.Area),
		Imports:    len(a.Imports),
		RefreshSeq: a.RefreshSeq,
	}
}

// DiagnosticsFor reports the last refresh of a, or an empty message when
// it was never refreshed.
func DiagnosticsFor(a *assembly.Assembly) protocol.DiagnosticsMsg {
	if a.LastResult == nil {
		return DiagnosticsMessage(a.ID, a.RefreshSeq, nil)
	}
	return DiagnosticsMessage(a.ID, a.LastResult.Seq, a.LastResult.Diagnostics)
}

func DiagnosticsMessage(id uuid.UUID, seq uint64, c diagnostics.Collection) protocol.DiagnosticsMsg {
	msg := protocol.DiagnosticsMsg{
		Type:            protocol.TypeDiagnostics,
		ProtocolVersion: protocol.Version,
		AssemblyID:      id.String(),
		RefreshSeq:      seq,
		Count:           c.Count(),
		Categories:      map[string][]protocol.Diagnostic{},
	}
	for _, cat := range c.IDs() {
		ds := c[cat]
		out := make([]protocol.Diagnostic, 0, len(ds))
		for _, d := range ds {
			out = append(out, protocol.Diagnostic{
				ID:          d.ID,
				Key:         d.Message.Key,
				Params:      d.Message.Params,
				Text:        d.Message.Render(),
				Location:    locationOf(d.Location),
				AltLocation: locationOf(d.AltLocation),
			})
		}
		msg.Categories[string(cat)] = out
	}
	return msg
}

func locationOf(l *sourcemap.Location) *protocol.Location {
	if l == nil {
		return nil
	}
	return &protocol.Location{Surface: l.Surface, Area: boxArray(l.Area)}
}

func boxArray(b geom.BoundingBox) [4]float64 {
	return [4]float64{b.LeftTop.X, b.LeftTop.Y, b.RightBottom.X, b.RightBottom.Y}
}
