package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (default: <data>/index/layerforge.sqlite)")
	limit := fs.Int("limit", 20, "result limit")
	assemblyID := fs.String("assembly", "", "assembly_id filter (refreshes, diagnostics, audits)")
	category := fs.String("category", "", "category filter (diagnostics)")
	rejected := fs.Bool("rejected", false, "only rejected commands (audits)")
	_ = fs.Parse(args)

	q := "snapshots"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "layerforge.sqlite")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	f := dbFilter{Limit: *limit, AssemblyID: strings.TrimSpace(*assemblyID), Category: strings.TrimSpace(*category), Rejected: *rejected}
	if err := runQuery(db, q, f, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type dbFilter struct {
	Limit      int
	AssemblyID string
	Category   string
	Rejected   bool
}

// runQuery prints one JSON object per row.
func runQuery(db *sql.DB, q string, f dbFilter, w io.Writer) error {
	if f.Limit <= 0 {
		f.Limit = 20
	}
	switch q {
	case "snapshots":
		rows, err := db.Query(`SELECT seq,path,saved_at,assemblies,imports FROM snapshots ORDER BY seq DESC LIMIT ?`, f.Limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		return eachRow(rows, w, func() (func() any, []any) {
			var r struct {
				Seq        int64  `json:"seq"`
				Path       string `json:"path"`
				SavedAt    int64  `json:"saved_at"`
				Assemblies int    `json:"assemblies"`
				Imports    int    `json:"imports"`
			}
			return func() any { return &r }, []any{&r.Seq, &r.Path, &r.SavedAt, &r.Assemblies, &r.Imports}
		})

	case "refreshes":
		rows, err := db.Query(`SELECT assembly_id,seq,name,at,duration_ms,layers,placed,diagnostics FROM refreshes
			WHERE (?='' OR assembly_id=?) ORDER BY at DESC, seq DESC LIMIT ?`, f.AssemblyID, f.AssemblyID, f.Limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		return eachRow(rows, w, func() (func() any, []any) {
			var r struct {
				AssemblyID  string  `json:"assembly_id"`
				Seq         int64   `json:"seq"`
				Name        string  `json:"name"`
				At          string  `json:"at"`
				DurationMS  float64 `json:"duration_ms"`
				Layers      int     `json:"layers"`
				Placed      int     `json:"placed"`
				Diagnostics int     `json:"diagnostics"`
			}
			return func() any { return &r }, []any{&r.AssemblyID, &r.Seq, &r.Name, &r.At, &r.DurationMS, &r.Layers, &r.Placed, &r.Diagnostics}
		})

	case "diagnostics":
		// Only the latest refresh of each assembly is current.
		rows, err := db.Query(`SELECT d.assembly_id,d.seq,d.id,d.category,d.message,d.x1,d.y1,d.x2,d.y2,d.alt_surface FROM diagnostics d
			JOIN (SELECT assembly_id, MAX(seq) AS seq FROM refreshes GROUP BY assembly_id) l
			  ON l.assembly_id=d.assembly_id AND l.seq=d.seq
			WHERE (?='' OR d.assembly_id=?) AND (?='' OR d.category=?)
			ORDER BY d.assembly_id, d.id LIMIT ?`, f.AssemblyID, f.AssemblyID, f.Category, f.Category, f.Limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		return eachRow(rows, w, func() (func() any, []any) {
			var (
				r              diagnosticRow
				x1, y1, x2, y2 sql.NullFloat64
				alt            sql.NullString
			)
			out := func() any {
				if x1.Valid && y1.Valid && x2.Valid && y2.Valid {
					r.Area = &[4]float64{x1.Float64, y1.Float64, x2.Float64, y2.Float64}
				}
				r.AltSurface = alt.String
				return &r
			}
			return out, []any{&r.AssemblyID, &r.Seq, &r.ID, &r.Category, &r.Message, &x1, &y1, &x2, &y2, &alt}
		})

	case "audits":
		rows, err := db.Query(`SELECT seq,at,session_id,op,COALESCE(assembly_id,''),accepted,COALESCE(code,'') FROM audits
			WHERE (?='' OR assembly_id=?) AND (?=0 OR accepted=0) ORDER BY seq DESC LIMIT ?`,
			f.AssemblyID, f.AssemblyID, boolInt(f.Rejected), f.Limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		return eachRow(rows, w, func() (func() any, []any) {
			var r struct {
				Seq        int64  `json:"seq"`
				At         string `json:"at"`
				SessionID  string `json:"session_id"`
				Op         string `json:"op"`
				AssemblyID string `json:"assembly_id,omitempty"`
				Accepted   bool   `json:"accepted"`
				Code       string `json:"code,omitempty"`
			}
			return func() any { return &r }, []any{&r.Seq, &r.At, &r.SessionID, &r.Op, &r.AssemblyID, &r.Accepted, &r.Code}
		})

	case "catalogs":
		rows, err := db.Query(`SELECT name,digest,updated_at FROM catalogs ORDER BY name`)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		return eachRow(rows, w, func() (func() any, []any) {
			var r struct {
				Name      string `json:"name"`
				Digest    string `json:"digest"`
				UpdatedAt string `json:"updated_at"`
			}
			return func() any { return &r }, []any{&r.Name, &r.Digest, &r.UpdatedAt}
		})

	default:
		return fmt.Errorf("unknown query %q (snapshots|refreshes|diagnostics|audits|catalogs)", q)
	}
}

type diagnosticRow struct {
	AssemblyID string      `json:"assembly_id"`
	Seq        int64       `json:"seq"`
	ID         int         `json:"id"`
	Category   string      `json:"category"`
	Message    string      `json:"message"`
	Area       *[4]float64 `json:"area,omitempty"`
	AltSurface string      `json:"alt_surface,omitempty"`
}

// eachRow scans every row into the destinations next returns and writes
// what out yields afterwards.
func eachRow(rows *sql.Rows, w io.Writer, next func() (out func() any, dst []any)) error {
	defer rows.Close()
	for rows.Next() {
		out, dst := next()
		if err := rows.Scan(dst...); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		writeJSON(w, out())
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows: %w", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func printJSON(v any) { writeJSON(os.Stdout, v) }

func writeJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
