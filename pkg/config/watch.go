package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// watchDebounce coalesces the burst of events one save produces.
const watchDebounce = 200 * time.Millisecond

// Watch calls onChange after the config file is written, created or
// replaced, until ctx is done. The parent directory is watched so editors
// that save by renaming a temp file are seen too.
func (f *File) Watch(ctx context.Context, onChange func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return pkgerrors.Wrap(err, "failed to create config watcher")
	}

	dir := filepath.Dir(f.filepath)
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return pkgerrors.Wrapf(err, "failed to watch %s", dir)
	}

	target := filepath.Clean(f.filepath)
	go func() {
		defer w.Close()

		var pending <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				logrus.WithFields(logrus.Fields{
					"path": ev.Name,
					"op":   ev.Op.String(),
				}).Debug("config file changed")
				pending = time.After(watchDebounce)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logrus.WithError(err).Warn("config watcher error")
			case <-pending:
				pending = nil
				onChange()
			}
		}
	}()

	return nil
}
