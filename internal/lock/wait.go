package lock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WaitForRelease blocks until specID's lock file is removed, ctx is done, or
// the lock is already absent. It uses fsnotify to watch the spec directory
// rather than busy-polling, waking only on a Remove/Rename event for the
// lock file itself.
func (m *Manager) WaitForRelease(ctx context.Context, specID string) error {
	path := m.lockPath(specID)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("lock: create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("lock: watch spec dir: %w", err)
	}

	// The lock may have been removed between the initial Stat and Add.
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("lock: watcher closed unexpectedly")
			}
			if ev.Name == path && (ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0) {
				return nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("lock: watcher closed unexpectedly")
			}
			return fmt.Errorf("lock: watch error: %w", err)
		case <-time.After(5 * time.Second):
			// Periodic fallback poll in case the filesystem event was
			// missed (e.g. on some network filesystems); cheap given the
			// infrequency of lock churn.
			if _, err := os.Stat(path); os.IsNotExist(err) {
				return nil
			}
		}
	}
}
