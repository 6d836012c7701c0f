package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/rsvfx/rsfuse/logging"
	"github.com/rsvfx/rsfuse/utils"
)

// reloadDelay coalesces the burst of events a single save produces.
const reloadDelay = 100 * time.Millisecond

// Watcher re-reads a config file whenever it changes and hands every valid result to a callback.
// Invalid documents are logged and ignored, leaving the previous config in effect.
type Watcher struct {
	path      string
	logger    logging.Logger
	watcher   *fsnotify.Watcher
	workers   utils.StoppableWorkers
	debounced func(func())
	onChange  func(*Config)
}

// NewWatcher starts watching path. The parent directory is watched so editors that replace the
// file are seen too.
func NewWatcher(path string, logger logging.Logger, onChange func(*Config)) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "cannot create config watcher")
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		return nil, multierr.Combine(errors.Wrapf(err, "cannot watch %q", path), fsw.Close())
	}

	w := &Watcher{
		path:      abs,
		logger:    logger,
		watcher:   fsw,
		workers:   utils.NewStoppableWorkers(logger),
		debounced: debounce.New(reloadDelay),
		onChange:  onChange,
	}
	w.workers.AddWorker("config-watcher", w.watch)
	return w, nil
}

func (w *Watcher) watch(ctx context.Context) {
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
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				w.debounced(w.reload)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warnw("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Read(w.path)
	if err != nil {
		w.logger.Warnw("ignoring invalid config", "path", w.path, "error", err)
		return
	}
	w.logger.Infow("config reloaded", "path", w.path)
	w.onChange(cfg)
}

// Close stops watching. A reload still pending is dropped.
func (w *Watcher) Close() error {
	w.workers.Stop()
	w.debounced(func() {})
	return w.watcher.Close()
}
