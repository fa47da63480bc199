package templates

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/m-mizutani/goerr/v2"
)

// Watch reloads the fragments of dir whenever an .html file in it changes,
// until ctx is done. A fragment that fails to parse is logged and the
// previous templates keep serving.
func (r *Renderer) Watch(ctx context.Context, dir string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return goerr.Wrap(err, "creating fragment watcher")
	}
	defer fsw.Close()
	if err := fsw.Add(dir); err != nil {
		return goerr.Wrap(err, "watching fragments", goerr.V("dir", dir))
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Ext(ev.Name) != ".html" || ev.Op == fsnotify.Chmod {
				continue
			}
			if err := r.Reload(dir); err != nil {
				logger.Warn("fragment reload failed", "file", ev.Name, "error", err)
				continue
			}
			logger.Info("fragments reloaded", "file", filepath.Base(ev.Name))
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			logger.Warn("fragment watcher error", "error", err)
		}
	}
}
