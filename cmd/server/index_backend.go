package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"layerforge.ai/internal/persistence/indexdb"
	eventlog "layerforge.ai/internal/persistence/log"
	"layerforge.ai/internal/persistence/snapshot"
	"layerforge.ai/internal/sim/assembly"
	"layerforge.ai/internal/sim/catalogs"
	"layerforge.ai/internal/sim/tuning"
)

type runtimeIndex interface {
	WriteRefresh(assembly.RefreshRecord) error
	WriteAudit(eventlog.AuditEntry) error
	RecordSnapshot(path string, snap snapshot.SnapshotV1)
	UpsertCatalogs(cats *catalogs.Catalogs, tune tuning.Tuning) error
	Stats() indexdb.Stats
	Close() error
}

// openRuntimeIndex opens the read-model index. A nil index with a nil
// error means indexing is off.
func openRuntimeIndex(dataDir, sessionID string, disableDB bool, logger *log.Logger) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}
	backend := strings.ToLower(strings.TrimSpace(os.Getenv("LAYERFORGE_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}
	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		idx, err := indexdb.OpenSQLite(filepath.Join(dataDir, "index", "layerforge.sqlite"))
		if err != nil {
			return nil, err
		}
		return idx, nil
	case "remote", "ingest":
		idx, err := indexdb.OpenIngest(indexdb.IngestConfig{
			Endpoint:      os.Getenv("LAYERFORGE_INDEX_INGEST_URL"),
			Token:         os.Getenv("LAYERFORGE_INDEX_INGEST_TOKEN"),
			SessionID:     sessionID,
			BatchSize:     envInt("LAYERFORGE_INDEX_INGEST_BATCH", 128),
			FlushInterval: envDuration("LAYERFORGE_INDEX_INGEST_FLUSH", 0),
			Logger:        log.New(logger.Writer(), "[index] ", logger.Flags()),
		})
		if err != nil {
			return nil, err
		}
		return idx, nil
	default:
		return nil, fmt.Errorf("unsupported LAYERFORGE_INDEX_BACKEND: %s", backend)
	}
}
