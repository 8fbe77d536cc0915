package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"layerforge.ai/internal/persistence/snapshot"
	"layerforge.ai/internal/sim/assembly"
	"layerforge.ai/internal/sim/catalogs"
	"layerforge.ai/internal/sim/diagnostics"
	"layerforge.ai/internal/sim/memworld"
)

// Rebuilds every assembly of a snapshot in an empty world and, when a
// refresh log is given, checks the diagnostic counts against what the
// server recorded for the same refresh.
func main() {
	var (
		snapPath     = flag.String("snapshot", "", "path to .snap.zst")
		refreshesDir = flag.String("refreshes", "", "dir containing refreshes-*.jsonl.zst (optional)")
		configDir    = flag.String("configs", "./configs", "config directory")
		strict       = flag.Bool("strict", false, "exit non-zero on count drift")
	)
	flag.Parse()

	if *snapPath == "" {
		fmt.Fprintln(os.Stderr, "missing -snapshot")
		os.Exit(2)
	}

	snap, err := snapshot.ReadSnapshot(*snapPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	fmt.Printf("snapshot v%d session=%s seq=%d assemblies=%d prototypes=%s\n",
		snap.Header.Version, snap.Header.SessionID, snap.Header.Seq, len(snap.Assemblies), shortDigest(snap.PrototypesDigest))

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load catalogs:", err)
		os.Exit(1)
	}
	if snap.PrototypesDigest != "" && snap.PrototypesDigest != cats.Prototypes.Digest {
		fmt.Fprintf(os.Stderr, "warning: catalog digest %s differs from snapshot\n", shortDigest(cats.Prototypes.Digest))
	}

	// Seq of the last refresh each assembly had when the snapshot was taken.
	savedSeq := map[string]uint64{}
	for _, a := range snap.Assemblies {
		savedSeq[a.ID] = a.RefreshSeq
	}

	protos := &cats.Prototypes
	mgr := assembly.NewManager(memworld.New(protos), protos, assembly.Config{}, nil)
	if err := mgr.Restore(snap.Assemblies); err != nil {
		fmt.Fprintln(os.Stderr, "restore:", err)
		os.Exit(1)
	}
	if err := mgr.RefreshAll(); err != nil {
		fmt.Fprintln(os.Stderr, "refresh:", err)
		os.Exit(1)
	}

	var logged map[string]map[uint64]map[diagnostics.CategoryID]int
	if *refreshesDir != "" {
		files, err := listRefreshFiles(*refreshesDir)
		if err != nil {
			fmt.Fprintln(os.Stderr, "list refreshes:", err)
			os.Exit(1)
		}
		logged = map[string]map[uint64]map[diagnostics.CategoryID]int{}
		for _, path := range files {
			if err := readRefreshFile(path, logged); err != nil {
				fmt.Fprintln(os.Stderr, "read refreshes:", err)
				os.Exit(1)
			}
		}
	}

	drift := 0
	for _, a := range mgr.List() {
		got := map[diagnostics.CategoryID]int{}
		var layers, placed int
		if res := a.LastResult; res != nil {
			layers, placed = res.Layers, res.Placed
			for id, ds := range res.Diagnostics {
				got[id] = len(ds)
			}
		}
		fmt.Printf("%s %q layers=%d placed=%d %s\n", a.ID, a.Name, layers, placed, formatCounts(got))
		if logged == nil {
			continue
		}
		id := a.ID.String()
		want, ok := logged[id][savedSeq[id]]
		if !ok {
			fmt.Printf("  no logged refresh seq=%d\n", savedSeq[id])
			continue
		}
		for _, d := range compareCounts(want, got) {
			fmt.Printf("  drift %s\n", d)
			drift++
		}
	}
	if drift > 0 && *strict {
		os.Exit(1)
	}
	fmt.Printf("replay ok: assemblies=%d drift=%d\n", len(snap.Assemblies), drift)
}

func listRefreshFiles(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "refreshes-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

// readRefreshFile indexes counts by assembly id and refresh seq. Later
// records for the same key win.
func readRefreshFile(path string, into map[string]map[uint64]map[diagnostics.CategoryID]int) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()
	return readRefreshes(dec, filepath.Base(path), into)
}

func readRefreshes(r io.Reader, name string, into map[string]map[uint64]map[diagnostics.CategoryID]int) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		var rec struct {
			AssemblyID string                         `json:"assembly_id"`
			Seq        uint64                         `json:"seq"`
			Counts     map[diagnostics.CategoryID]int `json:"counts"`
		}
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			return fmt.Errorf("%s: unmarshal: %w", name, err)
		}
		bySeq := into[rec.AssemblyID]
		if bySeq == nil {
			bySeq = map[uint64]map[diagnostics.CategoryID]int{}
			into[rec.AssemblyID] = bySeq
		}
		bySeq[rec.Seq] = rec.Counts
	}
	return sc.Err()
}

// compareCounts lists every category whose count differs. Zero and
// missing are the same.
func compareCounts(want, got map[diagnostics.CategoryID]int) []string {
	ids := map[diagnostics.CategoryID]struct{}{}
	for id := range want {
		ids[id] = struct{}{}
	}
	for id := range got {
		ids[id] = struct{}{}
	}
	var out []string
	for id := range ids {
		if want[id] != got[id] {
			out = append(out, fmt.Sprintf("%s: logged=%d rebuilt=%d", id, want[id], got[id]))
		}
	}
	sort.Strings(out)
	return out
}

func formatCounts(c map[diagnostics.CategoryID]int) string {
	if len(c) == 0 {
		return "clean"
	}
	parts := make([]string, 0, len(c))
	for id, n := range c {
		parts = append(parts, fmt.Sprintf("%s=%d", id, n))
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}
