package config

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// WatchHomeConfig watches ~/.ngoclaw/config.yaml for writes (editors commonly
// replace-via-rename, so the watch is on the directory, filtered to the
// file name) and logs a notice when it changes. The running process does
// not hot-reload its already-unmarshalled Config — reload requires a
// restart — this only shortens the feedback loop for "did my edit even
// land" during local iteration.
//
// Returns a stop function; safe to call stop more than once. Returns a
// no-op stop and a logged warning if the watcher cannot be created (e.g.
// the platform's inotify/kqueue limits are exhausted).
func WatchHomeConfig(logger *zap.Logger) (stop func()) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("config: failed to start file watcher, live-edit notices disabled", zap.Error(err))
		return func() {}
	}

	root := HomeDir()
	if err := watcher.Add(root); err != nil {
		logger.Warn("config: failed to watch config directory", zap.String("dir", root), zap.Error(err))
		watcher.Close()
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		defer watcher.Close()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != "config.yaml" {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					logger.Info("config.yaml changed on disk; restart to apply",
						zap.String("path", event.Name), zap.String("op", event.Op.String()))
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("config: watcher error", zap.Error(err))
			case <-done:
				return
			}
		}
	}()

	var stopped bool
	return func() {
		if stopped {
			return
		}
		stopped = true
		close(done)
	}
}
