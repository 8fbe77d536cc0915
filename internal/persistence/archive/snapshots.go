package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"layerforge.ai/internal/persistence/snapshot"
)

type SnapshotMeta struct {
	Seq        uint64 `json:"seq"`
	SessionID  string `json:"session_id"`
	SavedAt    int64  `json:"saved_at"`
	Snapshot   string `json:"snapshot"`
	ArchivedAt string `json:"archived_at"`
}

// PruneSnapshots keeps the keep newest snapshots in <dataDir>/snapshots and
// moves the rest to <dataDir>/archives/<session>/ next to a meta file. keep
// <= 0 keeps everything. It returns the archived paths, oldest first.
func PruneSnapshots(dataDir string, keep int) ([]string, error) {
	if keep <= 0 {
		return nil, nil
	}
	seqs, err := ListSnapshots(dataDir)
	if err != nil || len(seqs) <= keep {
		return nil, err
	}
	var out []string
	for _, seq := range seqs[:len(seqs)-keep] {
		dst, err := archiveOne(dataDir, seq)
		if err != nil {
			return out, err
		}
		out = append(out, dst)
	}
	return out, nil
}

// ListSnapshots returns the sequence numbers found in <dataDir>/snapshots,
// ascending. A missing directory is empty.
func ListSnapshots(dataDir string) ([]uint64, error) {
	ents, err := os.ReadDir(filepath.Join(dataDir, "snapshots"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var seqs []uint64
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		seq, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs, nil
}

func archiveOne(dataDir string, seq uint64) (string, error) {
	name := fmt.Sprintf("%d.snap.zst", seq)
	src := filepath.Join(dataDir, "snapshots", name)

	meta := SnapshotMeta{Seq: seq, Snapshot: name, SessionID: "unknown"}
	if h, err := snapshot.ReadHeader(src); err == nil {
		if h.SessionID != "" {
			meta.SessionID = h.SessionID
		}
		meta.SavedAt = h.SavedAt
	}

	dir := filepath.Join(dataDir, "archives", meta.SessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	dst := filepath.Join(dir, name)
	if err := os.Rename(src, dst); err != nil {
		if err := copyFile(src, dst); err != nil {
			return "", err
		}
		if err := os.Remove(src); err != nil {
			return "", err
		}
	}

	meta.ArchivedAt = time.Now().UTC().Format(time.RFC3339Nano)
	if b, err := json.MarshalIndent(meta, "", "  "); err == nil {
		_ = os.WriteFile(MetaPath(dst), b, 0o644)
	}
	return dst, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

// MetaPath returns the meta file written next to an archived snapshot.
func MetaPath(archived string) string {
	return strings.TrimSuffix(archived, ".snap.zst") + ".meta.json"
}
