package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"

	"layerforge.ai/internal/persistence/archive"
	persistlog "layerforge.ai/internal/persistence/log"
	"layerforge.ai/internal/persistence/snapshot"
	"layerforge.ai/internal/protocol"
	"layerforge.ai/internal/sim/assembly"
	"layerforge.ai/internal/sim/catalogs"
	"layerforge.ai/internal/sim/engine"
	"layerforge.ai/internal/sim/memworld"
	"layerforge.ai/internal/sim/tuning"
	"layerforge.ai/internal/transport/mcp"
	"layerforge.ai/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		logFile    = flag.String("log_file", "", "also write server logs to this file, rotated per tuning.log (optional)")
		envFile    = flag.String("env_file", ".env", "file of LAYERFORGE_* overrides (optional)")
		disableDB  = flag.Bool("disable_db", false, "disable indexing (refresh/audit + catalogs + snapshot metadata)")

		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")
	)
	flag.Parse()

	if err := loadEnvFile(*envFile); err != nil {
		log.Fatalf("load env file: %v", err)
	}
	if err := applyEnvOverrides(flag.CommandLine); err != nil {
		log.Fatalf("env overrides: %v", err)
	}

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, tuneErr := tuning.Load(tp)
	if tuneErr != nil && !os.IsNotExist(tuneErr) {
		log.Fatalf("load tuning: %v", tuneErr)
	}

	logger, closeLog := newServerLogger(*logFile, tune.Log)
	defer closeLog()
	if tuneErr != nil {
		logger.Printf("tuning not found (%s); using defaults", tp)
	}

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}
	protos := &cats.Prototypes
	_ = os.MkdirAll(*dataDir, 0o755)

	sessionID := uuid.NewString()
	var resume *snapshot.SnapshotV1
	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad = latestSnapshot(*dataDir)
	}
	if snapshotToLoad != "" {
		snap, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		if snap.Header.SessionID != "" {
			sessionID = snap.Header.SessionID
		}
		resume = &snap
	}

	// Optional: read-model index (never consulted by the engine).
	idx, err := openRuntimeIndex(*dataDir, sessionID, *disableDB, logger)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertCatalogs(cats, tune); err != nil {
			logger.Printf("index backend: upsert catalogs: %v", err)
		}
	}

	mirr, err := buildMirror(*dataDir, logger)
	if err != nil {
		logger.Fatalf("mirror: %v", err)
	}
	defer mirr.Close()

	world := memworld.New(protos)
	mgr := assembly.NewManager(world, protos, assembly.Config{
		MaxAssemblies: tune.MaxAssemblies,
		MaxImports:    tune.MaxImportsPerAssembly,
		MaxAreaTiles:  tune.MaxAreaTiles,
	}, log.New(logger.Writer(), "[assembly] ", logger.Flags()))

	refreshLog := persistlog.NewRefreshLogger(*dataDir)
	auditLog := persistlog.NewAuditLogger(*dataDir)
	if mirr != nil {
		refreshLog.SetOnClose(func(path string) { mirr.Enqueue(path) })
		auditLog.SetOnClose(func(path string) { mirr.Enqueue(path) })
	}
	defer refreshLog.Close()
	defer auditLog.Close()
	sinks := assembly.Sinks{refreshLog}
	audits := engine.AuditLoggers{auditLog}
	if idx != nil {
		sinks = append(sinks, idx)
		audits = append(audits, idx)
	}
	mgr.SetSink(sinks)

	var lastSeq uint64
	if resume != nil {
		snap := *resume
		if snap.PrototypesDigest != "" && snap.PrototypesDigest != protos.Digest {
			logger.Printf("snapshot prototypes digest %s differs from catalog %s", snap.PrototypesDigest, protos.Digest)
		}
		if err := mgr.Restore(snap.Assemblies); err != nil {
			logger.Fatalf("restore snapshot: %v", err)
		}
		// The world starts empty; rebuild every area from saved contents.
		if err := mgr.RefreshAll(); err != nil {
			logger.Printf("refresh after resume: %v", err)
		}
		lastSeq = snap.Header.Seq
		logger.Printf("resumed from snapshot=%s seq=%d assemblies=%d", filepath.Base(snapshotToLoad), lastSeq, len(snap.Assemblies))
	}

	eng := engine.New(mgr, engine.Config{
		SessionID:        sessionID,
		PrototypesDigest: protos.Digest,
		TickInterval:     time.Duration(tune.EngineTickMs) * time.Millisecond,
		SnapshotEvery:    time.Duration(tune.SnapshotEverySeconds) * time.Second,
		InboxSize:        tune.Limits.EngineInbox,
		LastSnapshotSeq:  lastSeq,
	}, log.New(logger.Writer(), "[engine] ", logger.Flags()))
	eng.SetAuditLogger(audits)

	writeSnapshot := func(snap snapshot.SnapshotV1) {
		path := snapshotPath(*dataDir, snap.Header.Seq)
		if err := snapshot.WriteSnapshot(path, snap); err != nil {
			logger.Printf("snapshot write: %v", err)
			return
		}
		if idx != nil {
			idx.RecordSnapshot(path, snap)
		}
		mirr.Enqueue(path)
		logger.Printf("snapshot written seq=%d assemblies=%d", snap.Header.Seq, len(snap.Assemblies))
		archived, err := archive.PruneSnapshots(*dataDir, tune.SnapshotKeep)
		if err != nil {
			logger.Printf("snapshot prune: %v", err)
		}
		for _, p := range archived {
			mirr.Enqueue(p)
			mirr.Enqueue(archive.MetaPath(p))
		}
		if len(archived) > 0 {
			logger.Printf("archived %d snapshots", len(archived))
		}
	}

	// Snapshot writer. The channel is closed once the engine has stopped.
	snapCh := make(chan snapshot.SnapshotV1, 2)
	eng.SetSnapshotSink(snapCh)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for snap := range snapCh {
			writeSnapshot(snap)
		}
	}()

	ctx, cancel := signalContext()
	defer cancel()

	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		if err := eng.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("engine stopped: %v", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		v := metricsView{
			Engine:        eng.Metrics(),
			Subscribers:   eng.Bus().Subscribers(),
			EventsDropped: eng.Bus().Dropped(),
		}
		if idx != nil {
			st := idx.Stats()
			v.Index = &st
		}
		if mirr != nil {
			st := mirr.Stats()
			v.Mirror = &st
		}
		writeMetrics(rw, v)
	})

	if envBool("LAYERFORGE_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()) {
		mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(rw).Encode(struct {
				SessionID string         `json:"session_id"`
				Metrics   engine.Metrics `json:"metrics"`
			}{SessionID: sessionID, Metrics: eng.Metrics()})
		})
		mux.HandleFunc("/admin/v1/snapshot", func(rw http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				rw.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			ctx2, cancel2 := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel2()
			seq, err := eng.RequestSnapshot(ctx2)
			rw.Header().Set("Content-Type", "application/json")
			if err != nil {
				rw.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "seq": seq, "error": err.Error()})
				return
			}
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "seq": seq})
		})
	} else {
		logger.Printf("admin endpoints disabled (LAYERFORGE_ENABLE_ADMIN_HTTP=false)")
	}
	if envBool("LAYERFORGE_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	digest := protocol.CatalogDigest{
		Prototypes: protocol.DigestRef{Digest: protos.Digest, Count: len(protos.Palette)},
		Tuning:     tune.Digest(),
	}
	mux.HandleFunc("/v1/ws", ws.NewServer(eng, digest, tune.Limits, logger).Handler())

	if envBool("LAYERFORGE_ENABLE_MCP", true) {
		secret := strings.TrimSpace(os.Getenv("LAYERFORGE_MCP_HMAC_SECRET"))
		mcpSrv, err := mcp.NewServer(mcp.Config{
			Engine:     eng,
			HMACSecret: secret,
			Limits:     tune.Limits,
			Logger:     log.New(logger.Writer(), "[mcp] ", logger.Flags()),
		})
		if err != nil {
			logger.Fatalf("mcp: %v", err)
		}
		h := mcpSrv.Handler()
		if secret == "" {
			logger.Printf("mcp endpoint unsigned; loopback clients only")
			h = loopbackOnly(h)
		}
		mux.HandleFunc("/v1/mcp", h)
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s session=%s", *addr, sessionID)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}

	cancel()
	<-engineDone
	close(snapCh)
	<-writerDone

	// The loop has stopped, so the manager can be read directly.
	final, err := eng.Snapshot()
	if err != nil {
		logger.Printf("final snapshot: %v", err)
		return
	}
	writeSnapshot(final)
}

// newServerLogger writes to stdout and, when path is set, to a rotated file.
func newServerLogger(path string, cfg tuning.LogConfig) (*log.Logger, func()) {
	path = strings.TrimSpace(path)
	if path == "" {
		return log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds), func() {}
	}
	rot := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	out := io.MultiWriter(os.Stdout, rot)
	return log.New(out, "[server] ", log.LstdFlags|log.Lmicroseconds), func() { _ = rot.Close() }
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func snapshotPath(dataDir string, seq uint64) string {
	return filepath.Join(dataDir, "snapshots", fmt.Sprintf("%d.snap.zst", seq))
}

func latestSnapshot(dataDir string) string {
	dir := filepath.Join(dataDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestSeq uint64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		seq, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		if best == "" || seq > bestSeq {
			bestSeq = seq
			best = filepath.Join(dir, name)
		}
	}
	return best
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func loopbackOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
