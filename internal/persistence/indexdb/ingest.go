package indexdb

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	eventlog "layerforge.ai/internal/persistence/log"
	"layerforge.ai/internal/persistence/snapshot"
	"layerforge.ai/internal/sim/assembly"
	"layerforge.ai/internal/sim/catalogs"
	"layerforge.ai/internal/sim/tuning"
)

// IngestConfig points the index at a remote ingest endpoint that accepts
// batches of {"events":[...]} and stores them server side.
type IngestConfig struct {
	Endpoint      string
	Token         string
	SessionID     string
	BatchSize     int
	FlushInterval time.Duration
	HTTPTimeout   time.Duration
	RetryBackoff  time.Duration
	Logger        *log.Logger
}

// IngestIndex ships the same rows SQLiteIndex stores to a remote endpoint.
// Events are batched by a single sender goroutine; a full queue drops.
type IngestIndex struct {
	cfg        IngestConfig
	httpClient *http.Client

	ch   chan ingestEvent
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropRefresh  atomic.Uint64
	dropAudit    atomic.Uint64
	dropSnapshot atomic.Uint64
	sendFailed   atomic.Uint64
}

const ingestTokenHeader = "x-layerforge-index-token"

type ingestEvent struct {
	Kind      string `json:"kind"`
	SessionID string `json:"session_id"`
	Payload   any    `json:"payload"`
}

type ingestSnapshotPayload struct {
	Seq        uint64 `json:"seq"`
	Path       string `json:"path"`
	SavedAt    int64  `json:"saved_at"`
	Assemblies int    `json:"assemblies"`
	Imports    int    `json:"imports"`
}

type ingestCatalogPayload struct {
	Name      string `json:"name"`
	Digest    string `json:"digest"`
	JSON      string `json:"json"`
	UpdatedAt string `json:"updated_at"`
}

func OpenIngest(cfg IngestConfig) (*IngestIndex, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	cfg.SessionID = strings.TrimSpace(cfg.SessionID)
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("empty index ingest endpoint")
	}
	if cfg.SessionID == "" {
		return nil, fmt.Errorf("empty session id")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 128
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 100 * time.Millisecond
	}

	d := &IngestIndex{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		ch:         make(chan ingestEvent, 32768),
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.loop()
	}()
	return d, nil
}

// Close flushes what is queued and stops the sender.
func (d *IngestIndex) Close() error {
	if d == nil {
		return nil
	}
	d.once.Do(func() {
		d.closed.Store(true)
		close(d.ch)
		d.wg.Wait()
	})
	return nil
}

func (d *IngestIndex) Stats() Stats {
	if d == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:        len(d.ch),
		QueueCapacity:     cap(d.ch),
		DropRefreshTotal:  d.dropRefresh.Load(),
		DropAuditTotal:    d.dropAudit.Load(),
		DropSnapshotTotal: d.dropSnapshot.Load(),
	}
}

// SendFailed counts batches given up on after retries.
func (d *IngestIndex) SendFailed() uint64 {
	if d == nil {
		return 0
	}
	return d.sendFailed.Load()
}

func (d *IngestIndex) WriteRefresh(rec assembly.RefreshRecord) error {
	if !d.enqueue(ingestEvent{Kind: "refresh", Payload: rec}) {
		d.dropRefresh.Add(1)
	}
	return nil
}

func (d *IngestIndex) WriteAudit(entry eventlog.AuditEntry) error {
	if !d.enqueue(ingestEvent{Kind: "audit", Payload: entry}) {
		d.dropAudit.Add(1)
	}
	return nil
}

func (d *IngestIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	p := ingestSnapshotPayload{
		Seq:        snap.Header.Seq,
		Path:       path,
		SavedAt:    snap.Header.SavedAt,
		Assemblies: len(snap.Assemblies),
	}
	for _, a := range snap.Assemblies {
		p.Imports += len(a.Imports)
	}
	if !d.enqueue(ingestEvent{Kind: "snapshot", Payload: p}) {
		d.dropSnapshot.Add(1)
	}
}

func (d *IngestIndex) UpsertCatalogs(cats *catalogs.Catalogs, tune tuning.Tuning) error {
	if d == nil || d.closed.Load() || cats == nil {
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
	for _, p := range []ingestCatalogPayload{
		{Name: "prototypes", Digest: cats.Prototypes.Digest, JSON: string(protoJSON), UpdatedAt: now},
		{Name: "tuning", Digest: tune.Digest(), JSON: string(tuneJSON), UpdatedAt: now},
	} {
		if !d.enqueue(ingestEvent{Kind: "catalog", Payload: p}) {
			return fmt.Errorf("index ingest queue full")
		}
	}
	return nil
}

// enqueue reports false when the event was dropped. A closed or nil index
// accepts silently.
func (d *IngestIndex) enqueue(ev ingestEvent) bool {
	if d == nil || d.closed.Load() {
		return true
	}
	ev.SessionID = d.cfg.SessionID
	select {
	case d.ch <- ev:
		return true
	default:
		d.printf("index ingest queue full; drop kind=%s", ev.Kind)
		return false
	}
}

func (d *IngestIndex) loop() {
	ticker := time.NewTicker(d.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]ingestEvent, 0, d.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := d.sendBatch(batch); err != nil {
			d.sendFailed.Add(1)
			d.printf("index ingest flush failed batch=%d err=%v", len(batch), err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case ev, ok := <-d.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			if len(batch) >= d.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (d *IngestIndex) sendBatch(events []ingestEvent) error {
	buf, err := json.Marshal(struct {
		Events []ingestEvent `json:"events"`
	}{Events: events})
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			time.Sleep(d.cfg.RetryBackoff << (attempt - 1))
		}
		req, err := http.NewRequest(http.MethodPost, d.cfg.Endpoint, bytes.NewReader(buf))
		if err != nil {
			return err
		}
		req.Header.Set("content-type", "application/json")
		if d.cfg.Token != "" {
			req.Header.Set(ingestTokenHeader, d.cfg.Token)
		}
		resp, err := d.httpClient.Do(req)
		if err == nil {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024))
			_ = resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil
			}
			err = fmt.Errorf("status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
		lastErr = err
	}
	return lastErr
}

func (d *IngestIndex) printf(format string, args ...any) {
	if d != nil && d.cfg.Logger != nil {
		d.cfg.Logger.Printf(format, args...)
	}
}
