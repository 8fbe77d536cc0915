package engine

import (
	"fmt"

	"github.com/google/uuid"

	"layerforge.ai/internal/protocol"
	"layerforge.ai/internal/sim/assembly"
	"layerforge.ai/internal/sim/blueprint"
	"layerforge.ai/internal/sim/geom"
)

func (e *Engine) handle(cmd protocol.CommandMsg) Reply {
	r, err := e.dispatch(cmd)
	if err != nil {
		r.Ack.Accepted = false
		if ue, ok := assembly.AsUserError(err); ok {
			r.Ack.Code = ue.Code
			r.Ack.Message = ue.Msg
		} else {
			e.logger.Printf("op=%s req=%s: %v", cmd.Op, cmd.ReqID, err)
			r.Ack.Code = protocol.ErrInternal
			r.Ack.Message = err.Error()
		}
		r.Diff = nil
		r.Diagnostics = nil
	}
	r.Ack.Type = protocol.TypeAck
	r.Ack.ProtocolVersion = protocol.Version
	r.Ack.AckFor = cmd.ReqID
	return r
}

func (e *Engine) dispatch(cmd protocol.CommandMsg) (Reply, error) {
	r := Reply{Ack: protocol.AckMsg{Accepted: true, AssemblyID: cmd.AssemblyID}}
	switch cmd.Op {
	case protocol.OpList:
		r.Ack.Assemblies = e.refs()
		return r, nil
	case protocol.OpCreate:
		if cmd.Area == nil {
			return r, badRequest("area is required")
		}
		a, err := e.mgr.Create(cmd.Name, cmd.Surface, boxOf(*cmd.Area))
		if err != nil {
			return r, err
		}
		r.Ack.AssemblyID = a.ID.String()
		return r, nil
	}

	id, err := parseID(cmd.AssemblyID)
	if err != nil {
		return r, err
	}
	switch cmd.Op {
	case protocol.OpSubscribe:
		a, err := e.mgr.Get(id)
		if err != nil {
			return r, err
		}
		msg := DiagnosticsFor(a)
		r.Diagnostics = &msg
	case protocol.OpDelete:
		err = e.mgr.Delete(id)
	case protocol.OpAddImport:
		var src uuid.UUID
		if src, err = parseID(cmd.SourceID); err != nil {
			return r, err
		}
		if cmd.RelativePosition == nil {
			return r, badRequest("relative_position is required")
		}
		rel := geom.Pos(cmd.RelativePosition[0], cmd.RelativePosition[1])
		err = e.mgr.AddImport(id, src, rel)
	case protocol.OpRemoveImport:
		if cmd.ImportIndex == nil {
			return r, badRequest("import_index is required")
		}
		err = e.mgr.RemoveImport(id, *cmd.ImportIndex)
	case protocol.OpRefresh:
		var res *assembly.RefreshResult
		if res, err = e.mgr.Refresh(id); err == nil {
			r.Ack.Message = fmt.Sprintf("refreshed seq=%d diagnostics=%d", res.Seq, res.Diagnostics.Count())
		}
	case protocol.OpReset:
		var res *assembly.RefreshResult
		if res, err = e.mgr.Reset(id); err == nil {
			r.Ack.Message = fmt.Sprintf("reset seq=%d diagnostics=%d", res.Seq, res.Diagnostics.Count())
		}
	case protocol.OpSave:
		d, err := e.mgr.Save(id)
		if err != nil {
			return r, err
		}
		st := d.Stats()
		r.Ack.Message = fmt.Sprintf("saved changed=%d added=%d deleted=%d", st.Changed, st.Added, st.Deleted)
	case protocol.OpDiff:
		d, err := e.mgr.Diff(id)
		if err != nil {
			return r, err
		}
		a, _ := e.mgr.Get(id)
		bp, err := blueprint.EncodeString(d.Content, a.Name)
		if err != nil {
			return r, fmt.Errorf("encode diff: %w", err)
		}
		st := d.Stats()
		r.Diff = &protocol.DiffMsg{
			Type:            protocol.TypeDiff,
			ProtocolVersion: protocol.Version,
			ReqID:           cmd.ReqID,
			AssemblyID:      cmd.AssemblyID,
			Stats:           protocol.DiffStats{References: st.References, Changed: st.Changed, Added: st.Added, Deleted: st.Deleted},
			Blueprint:       bp,
		}
	case protocol.OpPaste:
		content, _, err := blueprint.DecodeString(cmd.Blueprint, e.mgr.Prototypes())
		if err != nil {
			return r, badRequest("blueprint: %v", err)
		}
		var at geom.Position
		if cmd.Position != nil {
			at = geom.Pos(cmd.Position[0], cmd.Position[1])
		}
		placed, err := e.mgr.Paste(id, content, at)
		if err != nil {
			return r, err
		}
		r.Ack.Message = fmt.Sprintf("pasted placed=%d", placed)
	default:
		return r, badRequest("unknown op %q", cmd.Op)
	}
	return r, err
}

func (e *Engine) refs() []protocol.AssemblyRef {
	list := e.mgr.List()
	out := make([]protocol.AssemblyRef, 0, len(list))
	for _, a := range list {
		out = append(out, RefOf(a))
	}
	return out
}

func parseID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, badRequest("bad assembly id %q", s)
	}
	return id, nil
}

func badRequest(format string, args ...any) error {
	return &assembly.UserError{Code: protocol.ErrBadRequest, Msg: fmt.Sprintf(format, args...)}
}

func boxOf(a [4]float64) geom.BoundingBox { return geom.BBox(a[0], a[1], a[2], a[3]) }
