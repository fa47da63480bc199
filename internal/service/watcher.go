package service

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/m-mizutani/goerr/v2"
)

// Watcher publishes dataset events when source files change on disk.
type Watcher struct {
	dir    string
	bus    *EventBus
	logger *slog.Logger
	fsw    *fsnotify.Watcher
}

// NewWatcher watches dir, creating it if needed.
func NewWatcher(dir string, bus *EventBus, logger *slog.Logger) (*Watcher, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, goerr.Wrap(err, "creating sources directory", goerr.V("dir", dir))
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, goerr.Wrap(err, "creating watcher")
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, goerr.Wrap(err, "watching sources", goerr.V("dir", dir))
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{dir: dir, bus: bus, logger: logger, fsw: fsw}, nil
}

// Run forwards file events to the bus until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if e, ok := translate(ev); ok {
				w.logger.Debug("dataset changed", "dataset", e.Dataset, "kind", e.Kind)
				w.bus.Publish(e)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

// translate maps a file event to a dataset event. Chmod-only events and
// non-GeoJSON files are ignored.
func translate(ev fsnotify.Event) (Event, bool) {
	name := filepath.Base(ev.Name)
	if !IsDatasetFile(name) {
		return Event{}, false
	}
	switch {
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		return Event{Kind: DatasetDeleted, Dataset: name}, true
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		return Event{Kind: DatasetUpdated, Dataset: name}, true
	}
	return Event{}, false
}
