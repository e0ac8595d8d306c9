package source

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"forgedash/internal/log"

	"github.com/fsnotify/fsnotify"
)

// DebounceInterval is how long Watch waits after the last event before it
// reports a change.
const DebounceInterval = 100 * time.Millisecond

// Watch calls onChange whenever one of paths is written, created, renamed or
// removed, collapsing bursts of events into one call. It watches the parent
// directories so files replaced by editors keep being tracked. Watch blocks
// until ctx is done.
func Watch(ctx context.Context, onChange func(), paths ...string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify: create watcher: %w", err)
	}
	defer watcher.Close() //nolint:errcheck // best-effort close on shutdown

	targets := make(map[string]bool, len(paths))
	dirs := make(map[string]bool)
	for _, p := range paths {
		if p == "" {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", p, err)
		}
		targets[abs] = true
		dir := filepath.Dir(abs)
		if dirs[dir] {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("fsnotify: watch %s: %w", dir, err)
		}
		dirs[dir] = true
	}
	if len(targets) == 0 {
		return nil
	}

	// pending is nil while no change is waiting to be reported.
	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			abs, err := filepath.Abs(ev.Name)
			if err != nil || !targets[abs] {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			pending = time.After(DebounceInterval)
		case <-pending:
			pending = nil
			onChange()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.GetLogger().WithError(err).Warn("fsnotify: watcher error")
		}
	}
}
