package proc

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/leeineian/melody/music"
	"github.com/leeineian/melody/sys"
)

// reloadDelay collapses the burst of events an editor save produces.
const reloadDelay = 500 * time.Millisecond

// WatchAutoplaylist registers a daemon that reloads a whenever its file is
// edited on disk.
func WatchAutoplaylist(a *music.Autoplaylist) {
	sys.RegisterDaemon(sys.LogAutoplaylist, func(ctx context.Context) (bool, func(), func()) {
		if a.Path() == "" {
			return false, nil, nil
		}
		w, err := fsnotify.NewWatcher()
		if err != nil {
			sys.LogAutoplaylist(sys.MsgAutoplaylistWatchFail, err)
			return false, nil, nil
		}
		// Editors often replace the file, so the directory is watched.
		if err := w.Add(filepath.Dir(a.Path())); err != nil {
			sys.LogAutoplaylist(sys.MsgAutoplaylistWatchFail, err)
			w.Close()
			return false, nil, nil
		}
		run := func() {
			watchFile(ctx, w, a.Path(), reloadDelay, func() {
				sys.LogAutoplaylist(sys.MsgAutoplaylistReload)
				n := a.Reload()
				sys.LogAutoplaylist(sys.MsgAutoplaylistLoaded, n, a.Path())
			})
		}
		return true, run, func() { w.Close() }
	})
}

// watchFile calls reload once per burst of changes to path.
func watchFile(ctx context.Context, w *fsnotify.Watcher, path string, delay time.Duration, reload func()) {
	path = filepath.Clean(path)
	timer := time.NewTimer(delay)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				timer.Reset(delay)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			sys.LogAutoplaylist(sys.MsgAutoplaylistWatchFail, err)
		case <-timer.C:
			reload()
		}
	}
}
