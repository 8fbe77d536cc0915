package engine

import (
	"context"
	"testing"
	"time"

	eventlog "layerforge.ai/internal/persistence/log"
	"layerforge.ai/internal/persistence/snapshot"
	"layerforge.ai/internal/protocol"
	"layerforge.ai/internal/sim/assembly"
	"layerforge.ai/internal/sim/blueprint"
	"layerforge.ai/internal/sim/catalogs"
	"layerforge.ai/internal/sim/entity"
	"layerforge.ai/internal/sim/geom"
	"layerforge.ai/internal/sim/memworld"
)

var protos = &catalogs.Builtin().Prototypes

type auditRecorder struct{ entries []eventlog.AuditEntry }

func (a *auditRecorder) WriteAudit(e eventlog.AuditEntry) error {
	a.entries = append(a.entries, e)
	return nil
}

func newTestEngine() (*Engine, *memworld.World) {
	w := memworld.New(protos)
	mgr := assembly.NewManager(w, protos, assembly.Config{}, nil)
	return New(mgr, Config{SessionID: "s1", PrototypesDigest: "d"}, nil), w
}

func step(t *testing.T, e *Engine, cmd protocol.CommandMsg) Reply {
	t.Helper()
	resp := make(chan Reply, 1)
	e.Step([]Envelope{{SessionID: "c1", Cmd: cmd, Resp: resp}})
	select {
	case r := <-resp:
		if r.Ack.Type != protocol.TypeAck || r.Ack.AckFor != cmd.ReqID {
			t.Fatalf("ack header=%+v", r.Ack)
		}
		return r
	default:
		t.Fatalf("no reply for %s", cmd.Op)
	}
	return Reply{}
}

func mustAccept(t *testing.T, r Reply) {
	t.Helper()
	if !r.Ack.Accepted {
		t.Fatalf("rejected: %s %s", r.Ack.Code, r.Ack.Message)
	}
}

func area(x1, y1, x2, y2 float64) *[4]float64 { return &[4]float64{x1, y1, x2, y2} }

func TestCommandWorkflow(t *testing.T) {
	e, w := newTestEngine()
	audit := &auditRecorder{}
	e.SetAuditLogger(AuditLoggers{audit})

	r := step(t, e, protocol.CommandMsg{ReqID: "1", Op: protocol.OpCreate, Name: "base", Surface: "nauvis", Area: area(0, 0, 10, 10)})
	mustAccept(t, r)
	baseID := r.Ack.AssemblyID
	r = step(t, e, protocol.CommandMsg{ReqID: "2", Op: protocol.OpCreate, Name: "top", Surface: "nauvis", Area: area(20, 0, 30, 10)})
	mustAccept(t, r)
	topID := r.Ack.AssemblyID

	if _, err := w.Build("nauvis", entity.New("iron-chest", geom.Pos(1.5, 1.5), geom.North).Normalize(protos)); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Build("nauvis", entity.New("inserter", geom.Pos(21.5, 1.5), geom.North).Normalize(protos)); err != nil {
		t.Fatal(err)
	}
	mustAccept(t, step(t, e, protocol.CommandMsg{ReqID: "3", Op: protocol.OpSave, AssemblyID: topID}))

	mustAccept(t, step(t, e, protocol.CommandMsg{ReqID: "4", Op: protocol.OpAddImport, AssemblyID: topID, SourceID: baseID, RelativePosition: &[2]float64{0, 0}}))
	r = step(t, e, protocol.CommandMsg{ReqID: "5", Op: protocol.OpRefresh, AssemblyID: topID})
	mustAccept(t, r)

	r = step(t, e, protocol.CommandMsg{ReqID: "6", Op: protocol.OpSubscribe, AssemblyID: topID})
	mustAccept(t, r)
	if r.Diagnostics == nil || r.Diagnostics.RefreshSeq != 1 || r.Diagnostics.Count != 1 {
		t.Fatalf("diagnostics=%+v", r.Diagnostics)
	}
	overlaps := r.Diagnostics.Categories["overlap"]
	if len(overlaps) != 1 || overlaps[0].Location == nil || overlaps[0].Location.Area != [4]float64{21, 1, 22, 2} || overlaps[0].Text == "" {
		t.Fatalf("overlaps=%+v", overlaps)
	}

	r = step(t, e, protocol.CommandMsg{ReqID: "7", Op: protocol.OpDiff, AssemblyID: topID})
	mustAccept(t, r)
	if r.Diff == nil || r.Diff.Stats.Added != 0 || r.Diff.ReqID != "7" {
		t.Fatalf("diff=%+v", r.Diff)
	}
	if _, _, err := blueprint.DecodeString(r.Diff.Blueprint, protos); err != nil {
		t.Fatalf("diff blueprint: %v", err)
	}

	r = step(t, e, protocol.CommandMsg{ReqID: "8", Op: protocol.OpList})
	mustAccept(t, r)
	if len(r.Ack.Assemblies) != 2 || r.Ack.Assemblies[1].Imports != 1 || r.Ack.Assemblies[1].RefreshSeq != 1 {
		t.Fatalf("assemblies=%+v", r.Ack.Assemblies)
	}

	if len(audit.entries) != 8 || audit.entries[0].AssemblyID != baseID || audit.entries[4].Op != protocol.OpRefresh {
		t.Fatalf("audit=%+v", audit.entries)
	}
}

func TestCommandErrors(t *testing.T) {
	e, _ := newTestEngine()
	cases := []struct {
		cmd  protocol.CommandMsg
		code string
	}{
		{protocol.CommandMsg{ReqID: "a", Op: protocol.OpRefresh, AssemblyID: "nope"}, protocol.ErrBadRequest},
		{protocol.CommandMsg{ReqID: "b", Op: protocol.OpRefresh, AssemblyID: "9b2f54a6-0c8b-4a55-9d3e-6b3c4f1f2a10"}, protocol.ErrNotFound},
		{protocol.CommandMsg{ReqID: "c", Op: protocol.OpCreate, Name: "x", Surface: "nauvis"}, protocol.ErrBadRequest},
		{protocol.CommandMsg{ReqID: "d", Op: "explode", AssemblyID: "9b2f54a6-0c8b-4a55-9d3e-6b3c4f1f2a10"}, protocol.ErrBadRequest},
	}
	for _, tc := range cases {
		r := step(t, e, tc.cmd)
		if r.Ack.Accepted || r.Ack.Code != tc.code {
			t.Fatalf("%s: ack=%+v want %s", tc.cmd.ReqID, r.Ack, tc.code)
		}
	}

	r := step(t, e, protocol.CommandMsg{ReqID: "e", Op: protocol.OpCreate, Name: "a", Surface: "nauvis", Area: area(0, 0, 4, 4)})
	mustAccept(t, r)
	r = step(t, e, protocol.CommandMsg{ReqID: "f", Op: protocol.OpAddImport, AssemblyID: r.Ack.AssemblyID, SourceID: r.Ack.AssemblyID})
	if r.Ack.Accepted || r.Ack.Code != protocol.ErrBadRequest {
		t.Fatalf("missing relative position: %+v", r.Ack)
	}
}

func TestRunProcessesInboxAndSnapshots(t *testing.T) {
	w := memworld.New(protos)
	mgr := assembly.NewManager(w, protos, assembly.Config{}, nil)
	e := New(mgr, Config{SessionID: "s1", TickInterval: time.Millisecond, SnapshotEvery: time.Nanosecond}, nil)
	snaps := make(chan snapshot.SnapshotV1, 1)
	e.SetSnapshotSink(snaps)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	resp := make(chan Reply, 1)
	e.Inbox() <- Envelope{Cmd: protocol.CommandMsg{ReqID: "1", Op: protocol.OpCreate, Name: "a", Surface: "nauvis", Area: area(0, 0, 4, 4)}, Resp: resp}
	select {
	case r := <-resp:
		mustAccept(t, r)
	case <-time.After(5 * time.Second):
		t.Fatalf("no reply")
	}

	select {
	case snap := <-snaps:
		if snap.Header.SessionID != "s1" || snap.Header.Version != snapshot.Version {
			t.Fatalf("header=%+v", snap.Header)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no snapshot")
	}

	cancel()
	if err := <-done; err != context.Canceled {
		t.Fatalf("run: %v", err)
	}
	snap, err := e.Snapshot()
	if err != nil || len(snap.Assemblies) != 1 {
		t.Fatalf("snapshot=%+v err=%v", snap, err)
	}
}

func TestRequestSnapshotAndMetrics(t *testing.T) {
	e, _ := newTestEngine()
	snaps := make(chan snapshot.SnapshotV1, 1)
	e.SetSnapshotSink(snaps)

	mustAccept(t, step(t, e, protocol.CommandMsg{ReqID: "1", Op: protocol.OpCreate, Name: "a", Surface: "nauvis", Area: area(0, 0, 4, 4)}))
	step(t, e, protocol.CommandMsg{ReqID: "2", Op: protocol.OpRefresh, AssemblyID: "nope"})

	m := e.Metrics()
	if m.Assemblies != 1 || m.Commands != 2 || m.Rejected != 1 {
		t.Fatalf("metrics=%+v", m)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	reqCtx, reqCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer reqCancel()
	seq, err := e.RequestSnapshot(reqCtx)
	if err != nil || seq != 1 {
		t.Fatalf("seq=%d err=%v", seq, err)
	}
	snap := <-snaps
	if snap.Header.Seq != 1 || len(snap.Assemblies) != 1 {
		t.Fatalf("snapshot=%+v", snap.Header)
	}
	if e.Metrics().SnapshotSeq != 1 {
		t.Fatalf("snapshot seq not tracked")
	}

	cancel()
	<-done
}

func TestPasteCommand(t *testing.T) {
	e, w := newTestEngine()
	r := step(t, e, protocol.CommandMsg{ReqID: "1", Op: protocol.OpCreate, Name: "a", Surface: "nauvis", Area: area(10, 10, 20, 20)})
	mustAccept(t, r)
	id := r.Ack.AssemblyID

	content := blueprint.NewEntities()
	content.AddSingle(entity.New("iron-chest", geom.Pos(0.5, 0.5), geom.North).Normalize(protos))
	bp, err := blueprint.EncodeString(content, "stamp")
	if err != nil {
		t.Fatal(err)
	}
	r = step(t, e, protocol.CommandMsg{ReqID: "2", Op: protocol.OpPaste, AssemblyID: id, Blueprint: bp, Position: &[2]float64{3, 4}})
	mustAccept(t, r)
	if r.Ack.Message != "pasted placed=1" {
		t.Fatalf("message=%q", r.Ack.Message)
	}
	if w.Find("nauvis", "iron-chest", geom.Pos(13.5, 14.5)) == nil {
		t.Fatalf("chest not pasted")
	}

	r = step(t, e, protocol.CommandMsg{ReqID: "3", Op: protocol.OpPaste, AssemblyID: id, Blueprint: "garbage"})
	if r.Ack.Accepted || r.Ack.Code != protocol.ErrBadRequest {
		t.Fatalf("ack=%+v", r.Ack)
	}
}

func TestSubmitReportsBusyInbox(t *testing.T) {
	w := memworld.New(protos)
	mgr := assembly.NewManager(w, protos, assembly.Config{}, nil)
	e := New(mgr, Config{InboxSize: 1}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// Nothing drains the inbox, so the first command stays queued.
	if _, err := e.Submit(ctx, "c1", protocol.CommandMsg{ReqID: "1", Op: protocol.OpList}); err != context.Canceled {
		t.Fatalf("first submit: %v", err)
	}
	if _, err := e.Submit(context.Background(), "c1", protocol.CommandMsg{ReqID: "2", Op: protocol.OpList}); err != ErrBusy {
		t.Fatalf("second submit: %v", err)
	}

	runCtx, stop := context.WithCancel(context.Background())
	defer stop()
	go func() { _ = e.Run(runCtx) }()
	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	var (
		r   Reply
		err error
	)
	for {
		r, err = e.Submit(waitCtx, "c1", protocol.CommandMsg{ReqID: "3", Op: protocol.OpList})
		if err != ErrBusy {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if err != nil || !r.Ack.Accepted || r.Ack.AckFor != "3" {
		t.Fatalf("reply=%+v err=%v", r.Ack, err)
	}
}
