// Package mirror copies finished data files (snapshots, archives, rotated
// logs) to object storage in the background.
package mirror

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Uploader stores one local file under an object key.
type Uploader interface {
	Put(ctx context.Context, key, localPath string) error
}

type Stats struct {
	QueueDepth     int
	Enqueued       uint64
	Dropped        uint64
	Uploaded       uint64
	Failed         uint64
	LastUploadUnix int64
	LastErrorUnix  int64
}

type Options struct {
	// Prefix is prepended to every key.
	Prefix      string
	Workers     int
	Queue       int
	EnqueueWait time.Duration
	Attempts    int
	Backoff     time.Duration
}

// Mirror uploads files below dataDir, keyed by their path relative to it.
type Mirror struct {
	up      Uploader
	dataDir string
	opts    Options
	logger  *log.Logger

	jobs chan string
	wg   sync.WaitGroup

	enqueued   atomic.Uint64
	dropped    atomic.Uint64
	uploaded   atomic.Uint64
	failed     atomic.Uint64
	lastUpload atomic.Int64
	lastError  atomic.Int64
}

func New(up Uploader, dataDir string, opts Options, logger *log.Logger) *Mirror {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.Queue <= 0 {
		opts.Queue = 1024
	}
	if opts.EnqueueWait <= 0 {
		opts.EnqueueWait = 25 * time.Millisecond
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 4
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 200 * time.Millisecond
	}
	opts.Prefix = strings.Trim(strings.ReplaceAll(opts.Prefix, "\\", "/"), "/")
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	m := &Mirror{
		up:      up,
		dataDir: dataDir,
		opts:    opts,
		logger:  logger,
		jobs:    make(chan string, opts.Queue),
	}
	for i := 0; i < opts.Workers; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for p := range m.jobs {
				m.upload(p)
			}
		}()
	}
	return m
}

// Enqueue schedules localPath for upload. When the queue stays full for
// EnqueueWait the file is dropped and false is returned. A nil Mirror
// ignores every call.
func (m *Mirror) Enqueue(localPath string) bool {
	if m == nil {
		return false
	}
	m.enqueued.Add(1)
	select {
	case m.jobs <- localPath:
		return true
	default:
	}
	t := time.NewTimer(m.opts.EnqueueWait)
	defer t.Stop()
	select {
	case m.jobs <- localPath:
		return true
	case <-t.C:
		n := m.dropped.Add(1)
		m.logger.Printf("drop %s: queue full dropped_total=%d", localPath, n)
		return false
	}
}

// Close waits for queued uploads to finish. Enqueue must not be called
// afterwards.
func (m *Mirror) Close() {
	if m == nil {
		return
	}
	close(m.jobs)
	m.wg.Wait()
}

func (m *Mirror) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:     len(m.jobs),
		Enqueued:       m.enqueued.Load(),
		Dropped:        m.dropped.Load(),
		Uploaded:       m.uploaded.Load(),
		Failed:         m.failed.Load(),
		LastUploadUnix: m.lastUpload.Load(),
		LastErrorUnix:  m.lastError.Load(),
	}
}

func (m *Mirror) upload(localPath string) {
	key, err := m.objectKey(localPath)
	if err != nil {
		m.failed.Add(1)
		m.logger.Printf("skip %s: %v", localPath, err)
		return
	}
	var lastErr error
	for attempt := 1; attempt <= m.opts.Attempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		lastErr = m.up.Put(ctx, key, localPath)
		cancel()
		if lastErr == nil {
			break
		}
		if attempt < m.opts.Attempts {
			time.Sleep(time.Duration(attempt*attempt) * m.opts.Backoff)
		}
	}
	if lastErr != nil {
		m.failed.Add(1)
		m.lastError.Store(time.Now().Unix())
		m.logger.Printf("upload %s failed: %v", key, lastErr)
		return
	}
	m.uploaded.Add(1)
	m.lastUpload.Store(time.Now().Unix())
	m.logger.Printf("uploaded %s", key)
}

func (m *Mirror) objectKey(localPath string) (string, error) {
	if _, err := os.Stat(localPath); err != nil {
		return "", err
	}
	base, err := filepath.Abs(m.dataDir)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(localPath)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(base, abs)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%s is outside %s", abs, base)
	}
	if m.opts.Prefix != "" {
		rel = path.Join(m.opts.Prefix, rel)
	}
	return rel, nil
}
