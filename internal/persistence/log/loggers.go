package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"layerforge.ai/internal/sim/assembly"
)

type JSONLZstdWriter struct {
	baseDir string
	prefix  string

	now func() time.Time

	// onClose is called with the path of every file finished by a
	// rotation or Close.
	onClose func(path string)

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

// SetOnClose must be called before the first Write.
func (w *JSONLZstdWriter) SetOnClose(fn func(path string)) { w.onClose = fn }

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	dir := filepath.Dir(w.pathForHour(hour))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		name := w.f.Name()
		_ = w.f.Close()
		w.f = nil
		if w.onClose != nil {
			w.onClose(name)
		}
	}
	w.w = nil
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// RefreshLogger writes one JSONL entry per assembly refresh (compressed).
type RefreshLogger struct{ w *JSONLZstdWriter }

func NewRefreshLogger(dataDir string) *RefreshLogger {
	return &RefreshLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "refreshes"), "refreshes")}
}

func (l *RefreshLogger) WriteRefresh(v assembly.RefreshRecord) error { return l.w.Write(v) }
func (l *RefreshLogger) Close() error                               { return l.w.Close() }
func (l *RefreshLogger) SetOnClose(fn func(path string))            { l.w.SetOnClose(fn) }

// AuditEntry records one client command and its outcome.
type AuditEntry struct {
	At         time.Time `json:"at"`
	SessionID  string    `json:"session_id"`
	ReqID      string    `json:"req_id,omitempty"`
	Op         string    `json:"op"`
	AssemblyID string    `json:"assembly_id,omitempty"`
	Accepted   bool      `json:"accepted"`
	Code       string    `json:"code,omitempty"`
	Message    string    `json:"message,omitempty"`
}

// AuditLogger writes audit JSONL entries (compressed).
type AuditLogger struct{ w *JSONLZstdWriter }

func NewAuditLogger(dataDir string) *AuditLogger {
	return &AuditLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "audit"), "audit")}
}

func (l *AuditLogger) WriteAudit(v AuditEntry) error { return l.w.Write(v) }
func (l *AuditLogger) Close() error                  { return l.w.Close() }
func (l *AuditLogger) SetOnClose(fn func(path string)) { l.w.SetOnClose(fn) }
