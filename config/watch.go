package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/grovetools/companion/pkg/paths"
)

const watchDebounce = 200 * time.Millisecond

// Watch reloads r whenever environments.yaml or its override file
// changes on disk, until ctx is canceled. The debounce window and
// directory-rather-than-file watch target are grounded on the
// teacher's ConfigWatcher: editors commonly replace a file rather than
// write in place, which fsnotify reports as Remove+Create on the
// containing directory rather than a Write on the file itself, and a
// single save can fire several events in quick succession.
func Watch(ctx context.Context, r *Resolver) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dir := filepath.Dir(paths.EnvironmentsFile())
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	targets := map[string]bool{
		filepath.Base(paths.EnvironmentsFile()):                 true,
		filepath.Base(overridePathFor(paths.EnvironmentsFile())): true,
	}

	go func() {
		defer watcher.Close()

		var mu sync.Mutex
		var lastChange time.Time

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !targets[filepath.Base(event.Name)] {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}

				mu.Lock()
				if time.Since(lastChange) < watchDebounce {
					mu.Unlock()
					continue
				}
				lastChange = time.Now()
				mu.Unlock()

				if err := r.Reload(); err != nil {
					log.WithError(err).Warn("failed to reload environments.yaml")
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.WithError(err).Warn("environments.yaml watcher error")
			}
		}
	}()

	return nil
}
