package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 100 * time.Millisecond

// ChangeFunc receives every successfully reloaded configuration.
type ChangeFunc func(*Config)

// Watcher reloads a configuration file whenever it changes on disk.
type Watcher struct {
	path     string
	debounce time.Duration
	onChange ChangeFunc
	logger   *slog.Logger
	watcher  *fsnotify.Watcher
	cancel   context.CancelFunc

	mu      sync.RWMutex
	current *Config
	done    chan struct{}
}

// NewWatcher loads path and starts watching it. onChange is not called for
// the initial load.
func NewWatcher(path string, logger *slog.Logger, onChange ChangeFunc) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	cfg, err := Load(absPath)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	// Watch the directory so editors that replace the file are still seen.
	if err := fsw.Add(filepath.Dir(absPath)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("failed to watch directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		path:     absPath,
		debounce: defaultDebounce,
		onChange: onChange,
		logger:   logger.With("component", "config", "path", absPath),
		watcher:  fsw,
		cancel:   cancel,
		current:  cfg,
		done:     make(chan struct{}),
	}

	go w.watchLoop(ctx)

	return w, nil
}

// Current returns the last successfully loaded configuration.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Close stops the watcher and cleans up resources.
func (w *Watcher) Close() error {
	w.cancel()
	err := w.watcher.Close()
	<-w.done
	return err
}

func (w *Watcher) watchLoop(ctx context.Context) {
	defer close(w.done)

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if filepath.Clean(event.Name) != w.path {
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(w.debounce, func() {
					if ctx.Err() != nil {
						return
					}
					w.reload()
				})
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		// Keep serving the previous configuration.
		w.logger.Error("config reload failed", "error", err)
		return
	}

	w.mu.Lock()
	w.current = cfg
	w.mu.Unlock()

	w.logger.Info("configuration reloaded")
	if w.onChange != nil {
		w.onChange(cfg)
	}
}
