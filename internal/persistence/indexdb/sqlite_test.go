package indexdb

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	eventlog "layerforge.ai/internal/persistence/log"
	"layerforge.ai/internal/persistence/snapshot"
	"layerforge.ai/internal/sim/assembly"
	"layerforge.ai/internal/sim/catalogs"
	"layerforge.ai/internal/sim/diagnostics"
	"layerforge.ai/internal/sim/geom"
	"layerforge.ai/internal/sim/sourcemap"
	"layerforge.ai/internal/sim/tuning"
)

func TestSQLiteIndexWritesRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index", "layerforge.sqlite")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := idx.UpsertCatalogs(catalogs.Builtin(), tuning.Defaults()); err != nil {
		t.Fatalf("catalogs: %v", err)
	}

	var sink assembly.Sink = idx
	rec := assembly.RefreshRecord{
		AssemblyID: "a1",
		Name:       "base",
		Surface:    "nauvis",
		Seq:        2,
		At:         time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Layers:     1,
		Placed:     3,
		Diagnostics: diagnostics.Collection{
			diagnostics.Overlap: {{
				ID:       1,
				Message:  diagnostics.Message{Key: "diagnostics.overlap", Params: []string{"inserter", "iron-chest"}},
				Location: &sourcemap.Location{Surface: "nauvis", Area: geom.BBox(1, 1, 2, 2)},
			}},
			diagnostics.ItemsIgnored: {{ID: 2, Message: diagnostics.Message{Key: "diagnostics.items-ignored", Params: []string{"assembling-machine-2"}}}},
		},
	}
	if err := sink.WriteRefresh(rec); err != nil {
		t.Fatal(err)
	}
	if err := idx.WriteAudit(eventlog.AuditEntry{At: rec.At, SessionID: "s1", Op: "refresh", AssemblyID: "a1", Accepted: true}); err != nil {
		t.Fatal(err)
	}
	idx.RecordSnapshot("/tmp/1.snap.zst", snapshot.SnapshotV1{
		Header:     snapshot.Header{Version: snapshot.Version, Seq: 9, SavedAt: 100},
		Assemblies: []snapshot.AssemblyV1{{ID: "a1"}, {ID: "b1", Imports: []snapshot.ImportV1{{SourceID: "a1"}}}},
	})
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	// Writes after close are ignored.
	if err := idx.WriteRefresh(rec); err != nil {
		t.Fatal(err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()

	count := func(q string, args ...any) int {
		t.Helper()
		var n int
		if err := db.QueryRow(q, args...).Scan(&n); err != nil {
			t.Fatalf("%s: %v", q, err)
		}
		return n
	}
	if n := count(`SELECT COUNT(*) FROM catalogs`); n != 2 {
		t.Fatalf("catalogs=%d", n)
	}
	if n := count(`SELECT diagnostics FROM refreshes WHERE assembly_id='a1' AND seq=2`); n != 2 {
		t.Fatalf("refresh diagnostics=%d", n)
	}
	if n := count(`SELECT COUNT(*) FROM diagnostics WHERE assembly_id='a1' AND category=?`, string(diagnostics.Overlap)); n != 1 {
		t.Fatalf("overlap rows=%d", n)
	}
	var msg string
	if err := db.QueryRow(`SELECT message FROM diagnostics WHERE id=1`).Scan(&msg); err != nil {
		t.Fatal(err)
	}
	if want := rec.Diagnostics[diagnostics.Overlap][0].Message.Render(); msg != want {
		t.Fatalf("message=%q want %q", msg, want)
	}
	if n := count(`SELECT COUNT(*) FROM audits WHERE op='refresh' AND accepted=1`); n != 1 {
		t.Fatalf("audits=%d", n)
	}
	if n := count(`SELECT imports FROM snapshots WHERE seq=9`); n != 1 {
		t.Fatalf("snapshot imports=%d", n)
	}
}

func TestSQLiteIndexDropsWhenFull(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqRefresh}

	_ = s.WriteRefresh(assembly.RefreshRecord{Seq: 2})
	_ = s.WriteAudit(eventlog.AuditEntry{Op: "save"})
	s.RecordSnapshot("/tmp/2.snap.zst", snapshot.SnapshotV1{})

	st := s.Stats()
	if st.DropRefreshTotal != 1 || st.DropAuditTotal != 1 || st.DropSnapshotTotal != 1 {
		t.Fatalf("stats=%+v", st)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestOpenSQLiteRequiresPath(t *testing.T) {
	if _, err := OpenSQLite(""); err == nil {
		t.Fatalf("expected error")
	}
}

func TestNilIndexIsInert(t *testing.T) {
	var s *SQLiteIndex
	if err := s.WriteRefresh(assembly.RefreshRecord{}); err != nil {
		t.Fatal(err)
	}
	s.RecordSnapshot("x", snapshot.SnapshotV1{})
	if st := s.Stats(); st != (Stats{}) {
		t.Fatalf("stats=%+v", st)
	}
}
