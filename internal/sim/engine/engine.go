// Package engine serializes every assembly operation through one loop so
// the world and the assembly registry are only touched from one goroutine.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	eventlog "layerforge.ai/internal/persistence/log"
	"layerforge.ai/internal/persistence/snapshot"
	"layerforge.ai/internal/protocol"
	"layerforge.ai/internal/sim/assembly"
)

type Config struct {
	SessionID        string
	PrototypesDigest string
	// TickInterval batches queued commands. Defaults to 50ms.
	TickInterval time.Duration
	// SnapshotEvery emits a snapshot to the sink. Zero disables.
	SnapshotEvery time.Duration
	InboxSize     int
	// LastSnapshotSeq continues numbering after a resume.
	LastSnapshotSeq uint64
}

// Envelope carries one client command into the loop. Resp must be
// buffered; the loop never blocks on it.
type Envelope struct {
	SessionID string
	Cmd       protocol.CommandMsg
	Resp      chan Reply
}

// Reply is the loop's answer to an Envelope. Diff is set for diff
// commands, Diagnostics for subscribe.
type Reply struct {
	Ack         protocol.AckMsg
	Diff        *protocol.DiffMsg
	Diagnostics *protocol.DiagnosticsMsg
}

type AuditLogger interface {
	WriteAudit(eventlog.AuditEntry) error
}

// AuditLoggers writes every entry to each logger.
type AuditLoggers []AuditLogger

func (ls AuditLoggers) WriteAudit(entry eventlog.AuditEntry) error {
	var errs []error
	for _, l := range ls {
		if err := l.WriteAudit(entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type Engine struct {
	mgr    *assembly.Manager
	cfg    Config
	logger *log.Logger

	inbox chan Envelope
	stop  chan struct{}

	auditLogger  AuditLogger
	snapshotSink chan<- snapshot.SnapshotV1
	snapshotSeq  uint64
	lastSnapshot time.Time
	now          func() time.Time

	snapReqCh chan chan snapshotResult

	assemblies atomic.Int64
	commands   atomic.Uint64
	rejected   atomic.Uint64
	stepMicros atomic.Int64
	snapSeq    atomic.Uint64
}

// Metrics is readable from any goroutine.
type Metrics struct {
	Assemblies  int     `json:"assemblies"`
	InboxDepth  int     `json:"inbox_depth"`
	Commands    uint64  `json:"commands_total"`
	Rejected    uint64  `json:"rejected_total"`
	StepMS      float64 `json:"step_ms"`
	SnapshotSeq uint64  `json:"snapshot_seq"`
}

type snapshotResult struct {
	seq uint64
	err error
}

func New(mgr *assembly.Manager, cfg Config, logger *log.Logger) *Engine {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 50 * time.Millisecond
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 1024
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	e := &Engine{
		mgr:    mgr,
		cfg:    cfg,
		logger: logger,
		inbox:  make(chan Envelope, cfg.InboxSize),
		stop:   make(chan struct{}),
		now:    time.Now,

		snapReqCh:   make(chan chan snapshotResult, 4),
		snapshotSeq: cfg.LastSnapshotSeq,
	}
	e.snapSeq.Store(cfg.LastSnapshotSeq)
	return e
}

func (e *Engine) SetAuditLogger(l AuditLogger)                    { e.auditLogger = l }
func (e *Engine) SetSnapshotSink(ch chan<- snapshot.SnapshotV1) { e.snapshotSink = ch }

func (e *Engine) Inbox() chan<- Envelope { return e.inbox }

// ErrBusy is returned by Submit when the inbox is full.
var ErrBusy = errors.New("engine busy")

// Submit queues cmd without blocking and waits for the loop's reply.
func (e *Engine) Submit(ctx context.Context, sessionID string, cmd protocol.CommandMsg) (Reply, error) {
	resp := make(chan Reply, 1)
	select {
	case e.inbox <- Envelope{SessionID: sessionID, Cmd: cmd, Resp: resp}:
	default:
		return Reply{}, ErrBusy
	}
	select {
	case r := <-resp:
		return r, nil
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}

func (e *Engine) Bus() *assembly.EventBus { return e.mgr.Bus() }

func (e *Engine) Metrics() Metrics {
	return Metrics{
		Assemblies:  int(e.assemblies.Load()),
		InboxDepth:  len(e.inbox),
		Commands:    e.commands.Load(),
		Rejected:    e.rejected.Load(),
		StepMS:      float64(e.stepMicros.Load()) / 1000,
		SnapshotSeq: e.snapSeq.Load(),
	}
}

// RequestSnapshot asks the running loop to emit a snapshot to the sink
// right away and returns its sequence number.
func (e *Engine) RequestSnapshot(ctx context.Context) (uint64, error) {
	resp := make(chan snapshotResult, 1)
	select {
	case e.snapReqCh <- resp:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case r := <-resp:
		return r.seq, r.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()
	e.lastSnapshot = e.now()
	e.assemblies.Store(int64(len(e.mgr.List())))

	var pending []Envelope
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.stop:
			return nil
		case env := <-e.inbox:
			pending = append(pending, env)
		case resp := <-e.snapReqCh:
			resp <- e.emitSnapshot()
		case <-ticker.C:
			e.Step(pending)
			pending = pending[:0]
			e.maybeSnapshot()
		}
	}
}

func (e *Engine) Stop() { close(e.stop) }

// Step handles envs in arrival order. It must not run concurrently with
// Run; tests and replays call it directly.
func (e *Engine) Step(envs []Envelope) {
	if len(envs) == 0 {
		return
	}
	start := time.Now()
	defer func() {
		e.stepMicros.Store(time.Since(start).Microseconds())
		e.assemblies.Store(int64(len(e.mgr.List())))
	}()
	for _, env := range envs {
		r := e.handle(env.Cmd)
		e.commands.Add(1)
		if !r.Ack.Accepted {
			e.rejected.Add(1)
		}
		e.audit(env, r.Ack)
		if env.Resp != nil {
			select {
			case env.Resp <- r:
			default:
				e.logger.Printf("reply dropped req=%s op=%s", env.Cmd.ReqID, env.Cmd.Op)
			}
		}
	}
}

func (e *Engine) maybeSnapshot() {
	if e.snapshotSink == nil || e.cfg.SnapshotEvery <= 0 {
		return
	}
	if e.now().Sub(e.lastSnapshot) < e.cfg.SnapshotEvery {
		return
	}
	e.lastSnapshot = e.now()
	if r := e.emitSnapshot(); r.err != nil {
		e.logger.Printf("snapshot: %v", r.err)
	}
}

func (e *Engine) emitSnapshot() snapshotResult {
	if e.snapshotSink == nil {
		return snapshotResult{err: errors.New("no snapshot sink")}
	}
	snap, err := e.Snapshot()
	if err != nil {
		return snapshotResult{err: err}
	}
	select {
	case e.snapshotSink <- snap:
		return snapshotResult{seq: snap.Header.Seq}
	default:
		return snapshotResult{seq: snap.Header.Seq, err: fmt.Errorf("snapshot sink full; skipped seq=%d", snap.Header.Seq)}
	}
}

// Snapshot captures every assembly. Like Step it must not run while Run
// is active, except from inside the loop.
func (e *Engine) Snapshot() (snapshot.SnapshotV1, error) {
	assemblies, err := e.mgr.Export()
	if err != nil {
		return snapshot.SnapshotV1{}, err
	}
	e.snapshotSeq++
	e.snapSeq.Store(e.snapshotSeq)
	return snapshot.SnapshotV1{
		Header: snapshot.Header{
			Version:   snapshot.Version,
			SessionID: e.cfg.SessionID,
			Seq:       e.snapshotSeq,
			SavedAt:   e.now().Unix(),
		},
		PrototypesDigest: e.cfg.PrototypesDigest,
		Assemblies:       assemblies,
	}, nil
}

func (e *Engine) audit(env Envelope, ack protocol.AckMsg) {
	if e.auditLogger == nil {
		return
	}
	entry := eventlog.AuditEntry{
		At:         e.now().UTC(),
		SessionID:  env.SessionID,
		ReqID:      env.Cmd.ReqID,
		Op:         env.Cmd.Op,
		AssemblyID: env.Cmd.AssemblyID,
		Accepted:   ack.Accepted,
		Code:       ack.Code,
		Message:    ack.Message,
	}
	if entry.AssemblyID == "" {
		entry.AssemblyID = ack.AssemblyID
	}
	if err := e.auditLogger.WriteAudit(entry); err != nil {
		e.logger.Printf("audit: %v", err)
	}
}
