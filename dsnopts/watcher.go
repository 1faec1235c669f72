package dsnopts

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches a single Options YAML file for changes and calls back
// with the reloaded Options, the same fsnotify-plus-debounce shape as the
// teacher's config.Watcher, retargeted at one file instead of a tenant
// config tree.
type Watcher struct {
	path     string
	callback func(*Options)
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
	mu       sync.Mutex
	stopCh   chan struct{}
}

// NewWatcher starts watching path and calls callback with every
// successfully reloaded Options. callback is never called concurrently
// with itself.
func NewWatcher(path string, callback func(*Options), logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("dsnopts: creating file watcher: %w", err)
	}

	if err := w.Add(path); err != nil {
		w.Close()
		return nil, fmt.Errorf("dsnopts: watching %s: %w", path, err)
	}

	ow := &Watcher{
		path:     path,
		callback: callback,
		watcher:  w,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}

	go ow.run()
	return ow, nil
}

func (ow *Watcher) run() {
	var debounce *time.Timer
	for {
		select {
		case event, ok := <-ow.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, ow.reload)
			}
		case err, ok := <-ow.watcher.Errors:
			if !ok {
				return
			}
			ow.logger.Error("dsnopts watcher error", "error", err)
		case <-ow.stopCh:
			return
		}
	}
}

func (ow *Watcher) reload() {
	ow.mu.Lock()
	defer ow.mu.Unlock()

	opts, err := LoadFile(ow.path)
	if err != nil {
		ow.logger.Error("dsnopts hot-reload failed", "path", ow.path, "error", err)
		return
	}

	ow.logger.Info("dsnopts options reloaded", "path", ow.path)
	ow.callback(opts)
}

// Stop stops the watcher and releases the underlying fsnotify handle.
func (ow *Watcher) Stop() error {
	close(ow.stopCh)
	return ow.watcher.Close()
}
