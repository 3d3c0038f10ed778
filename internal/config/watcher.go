package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher watches the configuration file and invokes callbacks after a
// debounce window. Callers reload the file themselves; the watcher only
// signals that it changed.
type Watcher struct {
	logger   *zap.Logger
	path     string
	watcher  *fsnotify.Watcher
	debounce time.Duration

	mu        sync.Mutex
	callbacks []func()
	timer     *time.Timer
	running   bool
	stopCh    chan struct{}
}

// NewWatcher creates a config file watcher.
func NewWatcher(path string, logger *zap.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	return &Watcher{
		logger:   logger,
		path:     path,
		watcher:  fw,
		debounce: time.Second,
		stopCh:   make(chan struct{}),
	}, nil
}

// OnChange registers a callback invoked after the file changes.
func (w *Watcher) OnChange(fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, fn)
}

// SetDebounce overrides the debounce window.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.debounce = d
}

// Start begins watching the file and its directory. Watching the
// directory too catches editors that replace the file via rename.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("watcher already running")
	}

	if err := w.watcher.Add(w.path); err != nil {
		return fmt.Errorf("failed to watch file %s: %w", w.path, err)
	}
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		w.logger.Warn("Failed to watch config directory",
			zap.String("dir", filepath.Dir(w.path)),
			zap.Error(err),
		)
	}

	w.running = true
	go w.handleEvents()

	w.logger.Info("Configuration watcher started", zap.String("path", w.path))
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	close(w.stopCh)
	w.watcher.Close()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.running = false
	w.logger.Info("Configuration watcher stopped")
}

func (w *Watcher) handleEvents() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			switch {
			case event.Op&fsnotify.Write == fsnotify.Write:
				w.scheduleReload()
			case event.Op&fsnotify.Create == fsnotify.Create:
				// Recreated after delete or rename, re-arm the watch.
				w.watcher.Add(w.path)
				w.scheduleReload()
			case event.Op&fsnotify.Remove == fsnotify.Remove:
				w.logger.Warn("Config file removed", zap.String("path", event.Name))
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("File watcher error", zap.Error(err))

		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		callbacks := make([]func(), len(w.callbacks))
		copy(callbacks, w.callbacks)
		w.mu.Unlock()

		w.logger.Info("Configuration changed", zap.String("path", w.path))
		for _, fn := range callbacks {
			fn()
		}
	})
}
