package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"layerforge.ai/internal/persistence/archive"
	"layerforge.ai/internal/persistence/snapshot"
	"layerforge.ai/internal/sim/blueprint"
	"layerforge.ai/internal/sim/catalogs"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "inspect":
			inspectCmd(os.Args[2:])
			return
		case "prune":
			pruneCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		case "metrics":
			metricsCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

// listCmd prints the header of every live snapshot.
func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	seqs, err := archive.ListSnapshots(*dataDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list:", err)
		os.Exit(1)
	}
	for _, seq := range seqs {
		path := filepath.Join(*dataDir, "snapshots", fmt.Sprintf("%d.snap.zst", seq))
		h, err := snapshot.ReadHeader(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			continue
		}
		printJSON(struct {
			Path string `json:"path"`
			snapshot.Header
		}{path, h})
	}
}

func inspectCmd(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	configDir := fs.String("configs", "./configs", "config directory")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: admin inspect [-configs dir] <snapshot>")
		os.Exit(2)
	}
	snap, err := snapshot.ReadSnapshot(fs.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	cats, err := catalogs.Load(*configDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load catalogs:", err)
		os.Exit(1)
	}
	if err := inspect(os.Stdout, snap, &cats.Prototypes); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type assemblySummary struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Surface     string     `json:"surface"`
	Area        [4]float64 `json:"area"`
	Imports     []string   `json:"imports,omitempty"`
	RefreshSeq  uint64     `json:"refresh_seq"`
	OwnEntities int        `json:"own_entities"`
	Refreshed   bool       `json:"refreshed"`
}

// inspect prints the snapshot header and one line per assembly, decoding
// the stored contents so corrupt entries surface here.
func inspect(w io.Writer, snap snapshot.SnapshotV1, protos *catalogs.PrototypeCatalog) error {
	writeJSON(w, snap.Header)
	for _, a := range snap.Assemblies {
		s := assemblySummary{
			ID:         a.ID,
			Name:       a.Name,
			Surface:    a.Surface,
			Area:       a.Area,
			RefreshSeq: a.RefreshSeq,
			Refreshed:  len(a.Below) > 0,
		}
		for _, imp := range a.Imports {
			s.Imports = append(s.Imports, fmt.Sprintf("%s@%g,%g", imp.SourceID, imp.RelativePosition[0], imp.RelativePosition[1]))
		}
		if len(a.OwnContents) > 0 {
			bp, _, err := blueprint.DecodeJSON(a.OwnContents, protos)
			if err != nil {
				return fmt.Errorf("assembly %s: own contents: %w", a.ID, err)
			}
			s.OwnEntities = bp.Len()
		}
		writeJSON(w, s)
	}
	return nil
}

func pruneCmd(args []string) {
	fs := flag.NewFlagSet("prune", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	keep := fs.Int("keep", 10, "number of newest snapshots to keep live")
	_ = fs.Parse(args)

	archived, err := archive.PruneSnapshots(*dataDir, *keep)
	for _, p := range archived {
		fmt.Println(p)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "prune:", err)
		os.Exit(1)
	}
}
