package history

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize history watcher")

// Watcher delivers analysis records as they land in a FileStore directory.
//
// Created or rewritten .json files are decoded and each record is sent on
// Records(). A file whose modification time has not changed since it was
// last delivered is not sent again.
type Watcher struct {
	dir     string
	logger  *zap.Logger
	watcher *fsnotify.Watcher
	records chan AnalysisRecord
	stop    chan struct{}
	done    chan struct{}

	started  atomic.Bool
	stopOnce sync.Once
	seen     map[string]time.Time
}

// NewWatcher creates a watcher for dir. The directory is created if missing.
func NewWatcher(dir string, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}

	return &Watcher{
		dir:     dir,
		logger:  logger,
		watcher: fw,
		records: make(chan AnalysisRecord, 16),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		seen:    make(map[string]time.Time),
	}, nil
}

// Start begins watching in a background goroutine. Call Stop to release it.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}

	w.started.Store(true)
	go w.processEvents(ctx)
	return nil
}

// Stop stops the watcher and waits for its goroutine to exit.
// Safe to call more than once, and before Start.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		_ = w.watcher.Close()
	})
	if !w.started.Load() {
		return
	}
	select {
	case <-w.done:
	case <-time.After(5 * time.Second):
		w.logger.Warn("history watcher did not stop in time")
	}
}

// Records returns the channel of decoded records. It is closed when the
// watcher stops.
func (w *Watcher) Records() <-chan AnalysisRecord {
	return w.records
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer close(w.done)
	defer close(w.records)

	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !isRecordFile(filepath.Base(event.Name)) {
				continue
			}
			if !w.deliver(ctx, event.Name) {
				return
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("history watcher error", zap.Error(err))
		}
	}
}

// deliver decodes path and sends its records. Returns false when the
// watcher is shutting down.
func (w *Watcher) deliver(ctx context.Context, path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return true
	}
	if last, ok := w.seen[path]; ok && last.Equal(info.ModTime()) {
		return true
	}

	recs, err := ReadRecordFile(path)
	if err != nil {
		// Partial writes are re-reported by a later write event.
		w.logger.Debug("history file not decodable yet",
			zap.String("path", path),
			zap.Error(err))
		return true
	}
	w.seen[path] = info.ModTime()

	for _, rec := range recs {
		select {
		case w.records <- rec:
		case <-w.stop:
			return false
		case <-ctx.Done():
			return false
		}
	}
	return true
}
