package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/nicolasances/gale-broker/internal/broker/ports"
)

const defaultWatchDebounce = 750 * time.Millisecond

// FileWatcher watches a single file (the agent catalog, typically) and
// signals Updates() after a debounced settle period, the way the teacher's
// RuntimeConfigWatcher debounces edits to alex-config.json.
type FileWatcher struct {
	path     string
	logger   ports.Logger
	debounce time.Duration
	updates  chan struct{}

	mu       sync.Mutex
	timer    *time.Timer
	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
	stopOnce sync.Once
}

// WatcherOption customizes FileWatcher construction.
type WatcherOption func(*FileWatcher)

// WithDebounce overrides the default reload debounce window.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger attaches a logger for watcher diagnostics.
func WithLogger(logger ports.Logger) WatcherOption {
	return func(w *FileWatcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewFileWatcher builds a watcher for path. It does not start watching
// until Start is called.
func NewFileWatcher(path string, opts ...WatcherOption) (*FileWatcher, error) {
	if path == "" {
		return nil, fmt.Errorf("config: watch path required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config: resolve watch path: %w", err)
	}
	w := &FileWatcher{
		path:     filepath.Clean(abs),
		logger:   noopLogger{},
		debounce: defaultWatchDebounce,
		updates:  make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start watches the directory containing path for changes and begins
// emitting debounced signals on Updates(). Watching the directory, not the
// file directly, survives editors that replace the file via rename.
func (w *FileWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.watcher != nil {
		w.mu.Unlock()
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return fmt.Errorf("config: start watcher: %w", err)
	}
	w.watcher = fsw
	w.mu.Unlock()

	dir := filepath.Dir(w.path)
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		w.mu.Lock()
		w.watcher = nil
		w.mu.Unlock()
		return fmt.Errorf("config: watch %s: %w", dir, err)
	}

	go w.loop()
	if ctx != nil {
		go func() {
			<-ctx.Done()
			w.Stop()
		}()
	}
	return nil
}

// Stop terminates the watcher. Safe to call multiple times.
func (w *FileWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
			w.timer = nil
		}
		if w.watcher != nil {
			_ = w.watcher.Close()
			w.watcher = nil
		}
		w.mu.Unlock()
	})
}

// Updates signals once per debounced batch of file changes. Buffered by
// one slot so a reload in progress doesn't block the watcher goroutine.
func (w *FileWatcher) Updates() <-chan struct{} {
	return w.updates
}

func (w *FileWatcher) loop() {
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}

func (w *FileWatcher) handleEvent(event fsnotify.Event) {
	if event.Name == "" {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	if filepath.Clean(event.Name) != w.path {
		return
	}
	w.scheduleSignal()
}

func (w *FileWatcher) scheduleSignal() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		select {
		case <-w.stopCh:
			return
		default:
		}
		select {
		case w.updates <- struct{}{}:
		default:
		}
	})
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
