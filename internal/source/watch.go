package source

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch calls onChange with the file name whenever a node file in the
// directory is written, created, removed or renamed. The lock file and files
// that do not map to a node are ignored, so persisting hashes never triggers
// a run. Call the returned stop function to clean up.
func (d *Dir) Watch(onChange func(file string)) (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("source watcher: %w", err)
	}
	if err := w.Add(d.dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("source watcher add %s: %w", d.dir, err)
	}

	done := make(chan struct{})
	go func() {
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) &&
					!ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
					continue
				}
				name := filepath.Base(ev.Name)
				if name == d.lock {
					continue
				}
				if _, _, ok := Classify(name); !ok {
					continue
				}
				onChange(name)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				d.log.Warn("source watcher error", "dir", d.dir, "err", err)
			case <-done:
				return
			}
		}
	}()

	return func() { close(done) }, nil
}
