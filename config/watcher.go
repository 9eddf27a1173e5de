package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/SandraRGdev/wp-api-codeia-sub001/observe"
	"github.com/SandraRGdev/wp-api-codeia-sub001/secret"
)

// DefaultDebounce is how long Watcher waits after the last change before
// reloading. Editors often write a file in several steps.
const DefaultDebounce = 500 * time.Millisecond

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	Path     string
	Resolver *secret.Resolver

	// OnChange receives every configuration that loads and validates.
	OnChange func(*Config)

	// Default: DefaultDebounce
	Debounce time.Duration
	Logger   observe.Logger
}

// Watcher reloads a configuration file when it changes. Invalid reloads
// are logged and skipped; the previous configuration stays in effect.
type Watcher struct {
	config  WatcherConfig
	watcher *fsnotify.Watcher
	logger  observe.Logger

	mu    sync.Mutex
	timer *time.Timer
}

// NewWatcher watches the directory holding config.Path, so atomic
// replacements by rename are seen.
func NewWatcher(config WatcherConfig) (*Watcher, error) {
	if config.OnChange == nil {
		return nil, fmt.Errorf("config: watcher needs OnChange")
	}
	if config.Debounce <= 0 {
		config.Debounce = DefaultDebounce
	}
	abs, err := filepath.Abs(config.Path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	config.Path = abs

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("config: watch %s: %w", filepath.Dir(abs), err)
	}
	return &Watcher{
		config:  config,
		watcher: fw,
		logger:  observe.OrNop(config.Logger).With(observe.F("component", "config")),
	}, nil
}

// Watch delivers reloads until ctx is done, then releases the watcher.
func (w *Watcher) Watch(ctx context.Context) error {
	defer w.stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.config.Path {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) || event.Has(fsnotify.Rename) {
				w.schedule(ctx)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn(ctx, "config watcher error", observe.F("error", err))
		}
	}
}

func (w *Watcher) schedule(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.config.Debounce, func() { w.reload(ctx) })
}

func (w *Watcher) reload(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	cfg, err := Load(ctx, w.config.Path, w.config.Resolver)
	if err != nil {
		w.logger.Error(ctx, "config reload rejected", observe.F("path", w.config.Path), observe.F("error", err))
		return
	}
	w.logger.Info(ctx, "config reloaded", observe.F("path", w.config.Path))
	w.config.OnChange(cfg)
}

func (w *Watcher) stop() {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	w.watcher.Close()
}
