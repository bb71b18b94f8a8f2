package replay

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/alecgard/copilot-stats/internal/metering"
)

// Tailer keeps a ledger in step with an audit log that another process is
// appending to. When the file shrinks or is replaced, the ledger is rebuilt
// from the start of the new file.
type Tailer struct {
	path     string
	replayer Replayer
	pricer   metering.Pricer
	logger   *slog.Logger

	mu      sync.RWMutex
	ledger  *metering.Ledger
	stats   Stats
	offset  int64
	partial []byte

	syncMu sync.Mutex // serializes Sync
}

// NewTailer creates a Tailer for the audit log at path. The file need not
// exist yet.
func NewTailer(path string, replayer Replayer, pricer metering.Pricer, logger *slog.Logger) *Tailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tailer{
		path:     path,
		replayer: replayer,
		pricer:   pricer,
		logger:   logger,
		ledger:   metering.NewLedger(pricer),
	}
}

// Ledger returns the current ledger. It is replaced when the log is truncated.
func (t *Tailer) Ledger() *metering.Ledger {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ledger
}

// Render renders the current ledger.
func (t *Tailer) Render() string {
	return t.Ledger().Render()
}

// Snapshot returns the current ledger rows.
func (t *Tailer) Snapshot() metering.Summary {
	return t.Ledger().Snapshot()
}

// Stats returns the counts accumulated since the ledger was last rebuilt.
func (t *Tailer) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.stats
}

// Sync reads everything appended since the last call. A trailing line
// without a newline is held back until it is completed.
func (t *Tailer) Sync() error {
	t.syncMu.Lock()
	defer t.syncMu.Unlock()

	f, err := os.Open(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			t.reset()
			return nil
		}
		return fmt.Errorf("opening audit log: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat audit log: %w", err)
	}

	t.mu.RLock()
	offset := t.offset
	t.mu.RUnlock()

	if info.Size() < offset {
		t.logger.Info("audit log truncated, rebuilding ledger", "path", t.path)
		t.reset()
		offset = 0
	}

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("seeking audit log: %w", err)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("reading audit log: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.offset = offset + int64(len(data))
	buf := append(t.partial, data...)
	last := bytes.LastIndexByte(buf, '\n')
	if last < 0 {
		t.partial = buf
		return nil
	}
	for _, line := range bytes.Split(buf[:last], []byte{'\n'}) {
		t.replayer.Apply(t.ledger, string(line), &t.stats)
	}
	t.partial = append([]byte(nil), buf[last+1:]...)
	return nil
}

func (t *Tailer) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.offset == 0 && len(t.partial) == 0 {
		return
	}
	t.ledger = metering.NewLedger(t.pricer)
	t.stats = Stats{}
	t.offset = 0
	t.partial = nil
}

// Run syncs once, then on every change to the audit log until ctx is
// cancelled. The parent directory is watched so the log may be created,
// rotated or removed while running.
func (t *Tailer) Run(ctx context.Context) error {
	dir := filepath.Dir(t.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating log dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	if err := t.Sync(); err != nil {
		t.logger.Error("audit log sync failed", "path", t.path, "error", err)
	}

	t.logger.Info("tailing audit log", "path", t.path)

	target := filepath.Clean(t.path)
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				t.logger.Info("audit log removed, rebuilding ledger", "path", t.path)
				t.syncMu.Lock()
				t.reset()
				t.syncMu.Unlock()
				continue
			}
			if err := t.Sync(); err != nil {
				t.logger.Error("audit log sync failed", "path", t.path, "error", err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			// Continue watching despite errors.
			t.logger.Error("file watcher error", "error", err)
		}
	}
}
