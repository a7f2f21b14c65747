// ABOUTME: Hot reload: follows the modules directory with fsnotify and applies debounced changes.
// ABOUTME: A path that still exists after the quiet window is (re)loaded, a vanished one is unloaded.

package loader

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/2389/coven-tools/internal/debounce"
	"github.com/2389/coven-tools/internal/manifest"
)

// ErrNoModulesDir is returned by StartWatching when no directory is configured.
var ErrNoModulesDir = errors.New("no modules directory configured")

type watchState struct {
	watcher   *fsnotify.Watcher
	debouncer *debounce.Debouncer
	cancel    context.CancelFunc
	done      chan struct{}
}

// StartWatching begins following the modules directory. Calling it while
// already watching is a no-op.
func (l *Loader) StartWatching(ctx context.Context) error {
	if l.dir == "" {
		return ErrNoModulesDir
	}

	l.watchMu.Lock()
	defer l.watchMu.Unlock()
	if l.watch != nil {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := addTree(w, l.dir); err != nil {
		_ = w.Close()
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	ws := &watchState{
		watcher: w,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	ws.debouncer = debounce.New(l.debounce, func(path string) {
		l.applyChange(ctx, path)
	})
	l.watch = ws

	go l.watchLoop(ctx, ws)

	l.logger.Info("watching modules directory", "dir", l.dir)
	return nil
}

// StopWatching stops the watcher and waits for any in-progress change to finish.
func (l *Loader) StopWatching() {
	l.watchMu.Lock()
	ws := l.watch
	l.watch = nil
	l.watchMu.Unlock()

	if ws == nil {
		return
	}
	ws.cancel()
	_ = ws.watcher.Close()
	<-ws.done
	ws.debouncer.Close()
	l.logger.Info("stopped watching modules directory", "dir", l.dir)
}

// Watching reports whether the watcher is running.
func (l *Loader) Watching() bool {
	l.watchMu.Lock()
	defer l.watchMu.Unlock()
	return l.watch != nil
}

func (l *Loader) watchLoop(ctx context.Context, ws *watchState) {
	defer close(ws.done)

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-ws.watcher.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := addTree(ws.watcher, ev.Name); err != nil {
						l.logger.Warn("failed to watch new directory", "dir", ev.Name, "error", err)
					}
					continue
				}
			}
			if ev.Op == fsnotify.Chmod {
				continue
			}
			if !manifest.Eligible(l.dir, ev.Name, l.include) {
				continue
			}
			l.logger.Debug("module file changed", "path", ev.Name, "op", ev.Op.String())
			ws.debouncer.Trigger(ev.Name)

		case err, ok := <-ws.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Warn("watcher error", "error", err)
		}
	}
}

// applyChange settles one debounced path.
func (l *Loader) applyChange(ctx context.Context, path string) {
	if ctx.Err() != nil {
		return
	}

	var err error
	_, statErr := os.Stat(path)
	switch {
	case statErr == nil:
		err = l.LoadPath(ctx, path)
	case errors.Is(statErr, fs.ErrNotExist):
		err = l.UnloadPath(ctx, path)
	default:
		err = statErr
	}

	if err != nil {
		l.logger.Warn("hot reload failed", "path", path, "error", err)
	} else {
		l.logger.Info("hot reload applied", "path", path)
	}

	if l.onChange != nil {
		l.onChange()
	}
}

// addTree watches dir and every directory below it.
func addTree(w *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
