package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces the burst of events editors emit for one save.
const DefaultDebounce = 100 * time.Millisecond

// Watcher reloads a config file whenever it changes on disk.
type Watcher struct {
	path     string
	delay    time.Duration
	onChange func(Config)
	onError  func(error)

	mu       sync.Mutex
	debounce *time.Timer
}

// NewWatcher calls onChange with every successfully reloaded config and
// onError (when non-nil) with load failures. The previous config stays in
// effect after a failure.
func NewWatcher(path string, onChange func(Config), onError func(error)) *Watcher {
	return &Watcher{
		path:     path,
		delay:    DefaultDebounce,
		onChange: onChange,
		onError:  onError,
	}
}

// Watch is NewWatcher(...).Run(ctx).
func Watch(ctx context.Context, path string, onChange func(Config), onError func(error)) error {
	return NewWatcher(path, onChange, onError).Run(ctx)
}

// Run blocks until ctx is done. The parent directory is watched so atomic
// rename-on-save is seen.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("config watcher: watch %s: %w", dir, err)
	}
	defer w.stop()

	name := filepath.Base(w.path)
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.debounceReload(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.report(fmt.Errorf("config watcher: %w", err))
		}
	}
}

func (w *Watcher) debounceReload(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(w.delay, func() {
		if ctx.Err() != nil {
			return
		}
		w.reload()
	})
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.report(fmt.Errorf("reload %s: %w", w.path, err))
		return
	}
	w.onChange(cfg)
}

func (w *Watcher) report(err error) {
	if w.onError != nil {
		w.onError(err)
	}
}

func (w *Watcher) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.debounce != nil {
		w.debounce.Stop()
	}
}
