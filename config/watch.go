package config

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"SpotWire/logger"
)

// WatchCookieFile watches the sp_dc cookie file and calls onChange when it
// is rewritten. The sp_dc cookie rotates in practice; without the watch,
// a long-running client would keep refreshing tokens with a dead cookie.
// Returns a stop function.
func WatchCookieFile(path string, onChange func()) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch the directory: editors replace files instead of writing in
	// place, which drops the watch on the file itself.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	target := filepath.Clean(path)
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					logger.Info("cookie file changed", logger.String("path", path))
					onChange()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("cookie file watcher error", logger.ErrorField(err))
			}
		}
	}()

	return func() { watcher.Close() }, nil
}
