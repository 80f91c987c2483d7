// Package gpulock is a cross-process exclusive lock serializing any
// GPU-bound phase (embedding, reranking, local LLM call, parallel
// batch) on a machine, backed by an flock'd file so unrelated
// processes share one mutex without a broker.
package gpulock

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"ragindex/internal/apperr"
)

const (
	// EnvLockPath mirrors AI3_GPU_LOCK_PATH.
	EnvLockPath = "AI3_GPU_LOCK_PATH"
	// EnvTimeoutSec mirrors AI3_GPU_LOCK_TIMEOUT_SEC.
	EnvTimeoutSec = "AI3_GPU_LOCK_TIMEOUT_SEC"

	defaultLockPath     = "/tmp/ragindex_gpu_exclusive.lock"
	defaultTimeoutSec   = 900
	defaultPollInterval = 250 * time.Millisecond
)

// Info describes the current lock holder, written to the lock file as a
// best-effort marker for operator debugging.
type Info struct {
	Phase      string
	DocID      string
	PID        int
	AcquiredAt time.Time
}

// Lock is one acquisition attempt/holding of the GPU exclusive lock.
type Lock struct {
	phase        string
	docID        string
	lockPath     string
	timeout      time.Duration
	pollInterval time.Duration
	log          *zap.Logger

	file *os.File
	info *Info
}

// Option configures a Lock before Acquire.
type Option func(*Lock)

func WithLockPath(path string) Option          { return func(l *Lock) { l.lockPath = path } }
func WithTimeout(d time.Duration) Option       { return func(l *Lock) { l.timeout = d } }
func WithPollInterval(d time.Duration) Option  { return func(l *Lock) { l.pollInterval = d } }

// New constructs a Lock for phase, honoring AI3_GPU_LOCK_PATH and
// AI3_GPU_LOCK_TIMEOUT_SEC as defaults, overridable via opts.
func New(log *zap.Logger, phase, docID string, opts ...Option) *Lock {
	l := &Lock{
		phase:        phase,
		docID:        docID,
		lockPath:     envOr(EnvLockPath, defaultLockPath),
		timeout:      time.Duration(envIntOr(EnvTimeoutSec, defaultTimeoutSec)) * time.Second,
		pollInterval: defaultPollInterval,
		log:          log,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOr(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return def
}

// Acquire blocks until exclusive ownership of the lock is obtained,
// writing a marker describing the holder, or returns a Transient error
// on timeout.
func (l *Lock) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.lockPath), 0o755); err != nil {
		return apperr.Fatal("gpulock.acquire", fmt.Errorf("mkdir lock dir: %w", err))
	}

	f, err := os.OpenFile(l.lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return apperr.Fatal("gpulock.acquire", fmt.Errorf("open lock file: %w", err))
	}
	l.file = f

	deadline := time.Now().Add(l.timeout)
	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			break
		}
		if err != unix.EWOULDBLOCK {
			f.Close()
			l.file = nil
			return apperr.Fatal("gpulock.acquire", fmt.Errorf("flock: %w", err))
		}
		if time.Now().After(deadline) {
			f.Close()
			l.file = nil
			return apperr.Transient("gpulock.acquire", fmt.Errorf(
				"gpu lock timeout after %s (phase=%s doc_id=%s)", l.timeout, l.phase, l.docID))
		}
		time.Sleep(l.pollInterval)
	}

	info := &Info{Phase: l.phase, DocID: l.docID, PID: os.Getpid(), AcquiredAt: time.Now()}
	l.info = info

	_ = f.Truncate(0)
	_, _ = f.Seek(0, 0)
	_, _ = fmt.Fprintf(f, "pid=%d phase=%s doc_id=%s acquired_at=%d\n",
		info.PID, info.Phase, info.DocID, info.AcquiredAt.Unix())
	_ = f.Sync()

	if l.log != nil {
		l.log.Info("gpu lock acquired", zap.String("phase", l.phase), zap.String("doc_id", l.docID), zap.Int("pid", info.PID))
	}
	return nil
}

// Release is best-effort and always safe to call, even if Acquire never
// succeeded.
func (l *Lock) Release() {
	if l.file == nil {
		return
	}
	_ = unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	_ = l.file.Close()
	info := l.info
	l.file = nil

	if info != nil && l.log != nil {
		l.log.Info("gpu lock released",
			zap.String("phase", info.Phase),
			zap.String("doc_id", info.DocID),
			zap.Duration("duration", time.Since(info.AcquiredAt)))
	}
	l.info = nil
}

// WithLock acquires the lock, runs fn, and releases the lock on every
// return path.
func WithLock(log *zap.Logger, phase, docID string, opts []Option, fn func() error) error {
	l := New(log, phase, docID, opts...)
	if err := l.Acquire(); err != nil {
		return err
	}
	defer l.Release()
	return fn()
}
