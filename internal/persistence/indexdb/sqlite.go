package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	eventlog "layerforge.ai/internal/persistence/log"
	"layerforge.ai/internal/persistence/snapshot"
	"layerforge.ai/internal/sim/assembly"
	"layerforge.ai/internal/sim/catalogs"
	"layerforge.ai/internal/sim/tuning"
)

// SQLiteIndex is a queryable read-model of refreshes, diagnostics and
// audits. Writes are queued to a single writer goroutine and dropped when
// the queue is full; the JSONL logs remain the source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropRefresh  atomic.Uint64
	dropAudit    atomic.Uint64
	dropSnapshot atomic.Uint64
}

type reqKind int

const (
	reqRefresh reqKind = iota + 1
	reqAudit
	reqSnapshot
)

type req struct {
	kind reqKind

	refresh  assembly.RefreshRecord
	audit    eventlog.AuditEntry
	snapshot snapshotRow
}

type snapshotRow struct {
	Seq        uint64
	Path       string
	SavedAt    int64
	Assemblies int
	Imports    int
}

type Stats struct {
	QueueDepth        int    `json:"queue_depth"`
	QueueCapacity     int    `json:"queue_capacity"`
	DropRefreshTotal  uint64 `json:"drop_refresh_total"`
	DropAuditTotal    uint64 `json:"drop_audit_total"`
	DropSnapshotTotal uint64 `json:"drop_snapshot_total"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS refreshes (
			assembly_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			name TEXT NOT NULL,
			surface TEXT NOT NULL,
			at TEXT NOT NULL,
			duration_ms REAL NOT NULL,
			layers INTEGER NOT NULL,
			placed INTEGER NOT NULL,
			diagnostics INTEGER NOT NULL,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (assembly_id, seq)
		);`,
		`CREATE TABLE IF NOT EXISTS diagnostics (
			assembly_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			id INTEGER NOT NULL,
			category TEXT NOT NULL,
			message TEXT NOT NULL,
			x1 REAL, y1 REAL, x2 REAL, y2 REAL,
			alt_surface TEXT,
			PRIMARY KEY (assembly_id, seq, id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_diagnostics_category ON diagnostics(category, assembly_id);`,
		`CREATE TABLE IF NOT EXISTS audits (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			at TEXT NOT NULL,
			session_id TEXT NOT NULL,
			op TEXT NOT NULL,
			assembly_id TEXT,
			accepted INTEGER NOT NULL,
			code TEXT,
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_audits_assembly ON audits(assembly_id, seq);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			seq INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			saved_at INTEGER NOT NULL,
			assemblies INTEGER NOT NULL,
			imports INTEGER NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropRefreshTotal:  s.dropRefresh.Load(),
		DropAuditTotal:    s.dropAudit.Load(),
		DropSnapshotTotal: s.dropSnapshot.Load(),
	}
}

// WriteRefresh queues a refresh record. It never blocks.
func (s *SQLiteIndex) WriteRefresh(rec assembly.RefreshRecord) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqRefresh, refresh: rec}:
	default:
		s.dropRefresh.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) WriteAudit(entry eventlog.AuditEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqAudit, audit: entry}:
	default:
		s.dropAudit.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if s == nil || s.closed.Load() {
		return
	}
	r := snapshotRow{
		Seq:        snap.Header.Seq,
		Path:       path,
		SavedAt:    snap.Header.SavedAt,
		Assemblies: len(snap.Assemblies),
	}
	for _, a := range snap.Assemblies {
		r.Imports += len(a.Imports)
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: r}:
	default:
		s.dropSnapshot.Add(1)
	}
}

// UpsertCatalogs records the catalogs and tuning the server runs with.
func (s *SQLiteIndex) UpsertCatalogs(cats *catalogs.Catalogs, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	protoJSON, err := json.Marshal(cats.Prototypes.Defs)
	if err != nil {
		return err
	}
	tuneJSON, err := json.Marshal(tune)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	rows := []struct {
		name   string
		digest string
		json   []byte
	}{
		{"prototypes", cats.Prototypes.Digest, protoJSON},
		{"tuning", tune.Digest(), tuneJSON},
	}
	for _, r := range rows {
		if _, err := stmt.Exec(r.name, r.digest, string(r.json), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertRefresh, _ := s.db.Prepare(`INSERT OR REPLACE INTO refreshes(assembly_id,seq,name,surface,at,duration_ms,layers,placed,diagnostics,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	insertDiag, _ := s.db.Prepare(`INSERT OR REPLACE INTO diagnostics(assembly_id,seq,id,category,message,x1,y1,x2,y2,alt_surface) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	insertAudit, _ := s.db.Prepare(`INSERT INTO audits(at,session_id,op,assembly_id,accepted,code,raw_json) VALUES(?,?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(seq,path,saved_at,assemblies,imports) VALUES(?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertRefresh, insertDiag, insertAudit, insertSnapshot} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqRefresh:
			rec := r.refresh
			raw, _ := json.Marshal(rec)
			if insertRefresh != nil {
				if _, err := tx.Stmt(insertRefresh).Exec(
					rec.AssemblyID,
					int64(rec.Seq),
					rec.Name,
					rec.Surface,
					rec.At.UTC().Format(time.RFC3339Nano),
					rec.DurationMS,
					rec.Layers,
					rec.Placed,
					rec.Diagnostics.Count(),
					string(raw),
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}
			if insertDiag == nil {
				break
			}
		diags:
			for _, cat := range rec.Diagnostics.IDs() {
				for _, d := range rec.Diagnostics[cat] {
					var box [4]any
					if d.Location != nil {
						b := d.Location.Area
						box = [4]any{b.LeftTop.X, b.LeftTop.Y, b.RightBottom.X, b.RightBottom.Y}
					}
					var alt any
					if d.AltLocation != nil {
						alt = d.AltLocation.Surface
					}
					if _, err := tx.Stmt(insertDiag).Exec(
						rec.AssemblyID, int64(rec.Seq), d.ID, string(cat), d.Message.Render(),
						box[0], box[1], box[2], box[3], alt,
					); err != nil {
						rollback()
						break diags
					}
					opCount++
				}
			}

		case reqAudit:
			a := r.audit
			raw, _ := json.Marshal(a)
			if insertAudit != nil {
				if _, err := tx.Stmt(insertAudit).Exec(
					a.At.UTC().Format(time.RFC3339Nano),
					a.SessionID,
					a.Op,
					a.AssemblyID,
					a.Accepted,
					a.Code,
					string(raw),
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqSnapshot:
			sn := r.snapshot
			if insertSnapshot != nil {
				if _, err := tx.Stmt(insertSnapshot).Exec(
					int64(sn.Seq),
					sn.Path,
					sn.SavedAt,
					sn.Assemblies,
					sn.Imports,
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}
		}
		flushIfNeeded()
	}

	commit()
}
