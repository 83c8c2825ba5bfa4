// Package watcher reloads the tunable retrieval policy when the config file
// changes on disk.
package watcher

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/kensaku/pkg/utils"
)

const defaultDebounce = 400 * time.Millisecond

// Watcher watches a single file and invokes a callback after it changes.
// The parent directory is watched so editors that replace the file by rename
// are still seen.
type Watcher struct {
	path     string
	onChange func(path string)
	debounce time.Duration
	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	timer    *time.Timer
	done     chan struct{}
	started  bool
	stopOnce sync.Once
	logger   *zap.Logger
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce sets how long the file must be quiet before onChange runs.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// NewWatcher creates a watcher for path. onChange is called once per burst
// of writes, creates, or renames of the file.
func NewWatcher(path string, onChange func(path string), opts ...WatcherOption) *Watcher {
	w := &Watcher{
		path:     filepath.Clean(path),
		onChange: onChange,
		debounce: defaultDebounce,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = utils.OrNop(w.logger)
	return w
}

// Start starts the watcher. It runs until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		_ = watcher.Close()
		w.mu.Unlock()
		return err
	}
	w.watcher = watcher
	w.started = true
	w.mu.Unlock()

	w.logger.Debug("watcher starting", zap.String("path", w.path), zap.Duration("debounce", w.debounce))
	go w.run(ctx, watcher)
	return nil
}

func (w *Watcher) run(ctx context.Context, watcher *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			if err != nil {
				w.logger.Debug("watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if filepath.Clean(ev.Name) != w.path {
		return
	}
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", ev.Name))
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
		w.schedule()
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		w.timer = nil
		active := w.started
		w.mu.Unlock()
		if !active {
			return
		}
		w.logger.Debug("watcher file changed (debounced)", zap.String("path", w.path))
		if w.onChange != nil {
			w.onChange(w.path)
		}
	})
}

// Path returns the watched file.
func (w *Watcher) Path() string {
	return w.path
}

// Stop stops the watcher and releases resources.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started || w.watcher == nil {
		w.mu.Unlock()
		return
	}
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	_ = w.watcher.Close()
	w.watcher = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}
