package auditlog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MetricsRecorder is an optional interface for recording audit log metrics.
type MetricsRecorder interface {
	IncDiagnostic(kind string)
	IncDiagnosticsDropped(n int)
	SetAuditBufferSize(n int)
	ObserveAuditFlush(status string, lines int, seconds float64)
}

// FileSink buffers audit lines in memory and appends them to a file from a
// background goroutine, when the buffer reaches batchSize or every
// flushInterval. Write never blocks on file I/O. It is safe for concurrent use.
type FileSink struct {
	path          string
	buffer        []string
	mu            sync.Mutex
	flushMu       sync.Mutex // serializes appends so batches land in order
	batchSize     int
	flushInterval time.Duration
	kick          chan struct{}
	done          chan struct{}
	stopped       chan struct{}
	started       atomic.Bool
	stopOnce      sync.Once
	closed        bool

	onError func(error)
	metrics MetricsRecorder
}

// NewFileSink creates a FileSink appending to path.
func NewFileSink(path string, batchSize int, flushInterval time.Duration) *FileSink {
	if batchSize <= 0 {
		batchSize = 1
	}
	if flushInterval <= 0 {
		flushInterval = time.Second
	}
	return &FileSink{
		path:          path,
		buffer:        make([]string, 0, batchSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		kick:          make(chan struct{}, 1),
		done:          make(chan struct{}),
		stopped:       make(chan struct{}),
	}
}

// Path returns the file the sink appends to.
func (s *FileSink) Path() string {
	return s.path
}

// SetErrorHandler sets the callback receiving write failures. Failures are
// otherwise dropped.
func (s *FileSink) SetErrorHandler(fn func(error)) {
	s.onError = fn
}

// SetMetrics sets the optional metrics recorder.
func (s *FileSink) SetMetrics(m MetricsRecorder) {
	s.metrics = m
}

// Start runs the flush loop. It blocks until Stop is called or the context is
// cancelled, flushing whatever is buffered on the way out.
func (s *FileSink) Start(ctx context.Context) {
	s.started.Store(true)
	defer close(s.stopped)

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.kick:
			s.flush()
		case <-ticker.C:
			s.flush()
		case <-ctx.Done():
			s.shutdown()
			return
		case <-s.done:
			s.shutdown()
			return
		}
	}
}

// Write queues a line. A full batch wakes the flush loop without waiting for it.
func (s *FileSink) Write(line string) {
	s.mu.Lock()
	s.buffer = append(s.buffer, line)
	n := len(s.buffer)
	closed := s.closed
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.SetAuditBufferSize(n)
	}

	if closed {
		s.flush()
		return
	}
	if n >= s.batchSize {
		select {
		case s.kick <- struct{}{}:
		default:
		}
	}
}

func (s *FileSink) shutdown() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.flush()
}

// flush drains the buffer and appends it to the file. Errors are handed to the
// error handler rather than returned so writers are never blocked.
func (s *FileSink) flush() {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	if len(s.buffer) == 0 {
		s.mu.Unlock()
		return
	}
	batch := s.buffer
	s.buffer = make([]string, 0, s.batchSize)
	s.mu.Unlock()

	start := time.Now()
	err := s.appendLines(batch)

	if s.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		s.metrics.ObserveAuditFlush(status, len(batch), time.Since(start).Seconds())
		s.metrics.SetAuditBufferSize(0)
	}

	if err != nil {
		slog.Debug("failed to append audit lines", "count", len(batch), "path", s.path, "error", err)
		if s.onError != nil {
			s.onError(fmt.Errorf("%w: %v", ErrLogWrite, err))
		}
	}
}

func (s *FileSink) appendLines(lines []string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating log dir: %w", err)
	}

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}

	_, werr := f.WriteString(strings.Join(lines, "\n") + "\n")
	cerr := f.Close()
	if werr != nil {
		return fmt.Errorf("appending to log file: %w", werr)
	}
	if cerr != nil {
		return fmt.Errorf("closing log file: %w", cerr)
	}
	return nil
}

// Stop signals the flush loop to exit and waits for the final flush. Without
// a running loop it flushes inline. Lines written after Stop are appended
// synchronously.
func (s *FileSink) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		if s.started.Load() {
			<-s.stopped
			return
		}
		s.shutdown()
	})
}
