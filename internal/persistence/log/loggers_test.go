package log

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"

	"layerforge.ai/internal/sim/assembly"
	"layerforge.ai/internal/sim/diagnostics"
)

func readJSONL(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		t.Fatalf("zstd: %v", err)
	}
	defer dec.Close()
	var out []map[string]any
	sc := bufio.NewScanner(dec)
	for sc.Scan() {
		var m map[string]any
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("line %q: %v", sc.Text(), err)
		}
		out = append(out, m)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	return out
}

func TestJSONLZstdWriterRotatesHourly(t *testing.T) {
	dir := t.TempDir()
	w := NewJSONLZstdWriter(dir, "x")
	now := time.Date(2024, 5, 1, 10, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return now }
	var closed []string
	w.SetOnClose(func(path string) { closed = append(closed, filepath.Base(path)) })

	if err := w.Write(map[string]int{"n": 1}); err != nil {
		t.Fatal(err)
	}
	if err := w.Write(map[string]int{"n": 2}); err != nil {
		t.Fatal(err)
	}
	now = now.Add(2 * time.Minute)
	if err := w.Write(map[string]int{"n": 3}); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	first := readJSONL(t, filepath.Join(dir, "x-2024-05-01-10.jsonl.zst"))
	second := readJSONL(t, filepath.Join(dir, "x-2024-05-01-11.jsonl.zst"))
	if len(first) != 2 || len(second) != 1 {
		t.Fatalf("first=%d second=%d", len(first), len(second))
	}
	if second[0]["n"] != float64(3) {
		t.Fatalf("second=%v", second)
	}
	if len(closed) != 2 || closed[0] != "x-2024-05-01-10.jsonl.zst" || closed[1] != "x-2024-05-01-11.jsonl.zst" {
		t.Fatalf("closed=%v", closed)
	}
}

func TestRefreshLoggerWritesRecords(t *testing.T) {
	dir := t.TempDir()
	l := NewRefreshLogger(dir)
	var sink assembly.Sink = l
	rec := assembly.RefreshRecord{
		AssemblyID: "a1",
		Name:       "base",
		Seq:        4,
		Layers:     2,
		Counts:     map[diagnostics.CategoryID]int{diagnostics.Overlap: 1},
	}
	if err := sink.WriteRefresh(rec); err != nil {
		t.Fatal(err)
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	matches, err := filepath.Glob(filepath.Join(dir, "refreshes", "refreshes-*.jsonl.zst"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("files=%v err=%v", matches, err)
	}
	lines := readJSONL(t, matches[0])
	if len(lines) != 1 || lines[0]["assembly_id"] != "a1" || lines[0]["seq"] != float64(4) {
		t.Fatalf("lines=%v", lines)
	}
	counts, _ := lines[0]["counts"].(map[string]any)
	if counts["overlap"] != float64(1) {
		t.Fatalf("counts=%v", lines[0]["counts"])
	}
}

func TestAuditLogger(t *testing.T) {
	dir := t.TempDir()
	l := NewAuditLogger(dir)
	if err := l.WriteAudit(AuditEntry{Op: "refresh", Accepted: false, Code: "E_NOT_FOUND"}); err != nil {
		t.Fatal(err)
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	matches, _ := filepath.Glob(filepath.Join(dir, "audit", "audit-*.jsonl.zst"))
	if len(matches) != 1 {
		t.Fatalf("files=%v", matches)
	}
	lines := readJSONL(t, matches[0])
	if len(lines) != 1 || lines[0]["op"] != "refresh" || lines[0]["code"] != "E_NOT_FOUND" {
		t.Fatalf("lines=%v", lines)
	}
}
