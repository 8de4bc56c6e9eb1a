package workspace

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/rhuss/vibe/pkg/debug"
)

// DefaultDebounce is the quiet period after the last event before a
// change is reported.
const DefaultDebounce = 300 * time.Millisecond

// Watcher reports edits under a directory tree. Bursts of events, such as
// an editor's write-rename-chmod sequence, collapse into one notification.
type Watcher struct {
	dir      string
	debounce time.Duration
	fsw      *fsnotify.Watcher
}

// NewWatcher watches dir and every non-skipped subdirectory. A zero
// debounce uses DefaultDebounce.
func NewWatcher(dir string, debounce time.Duration) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	w := &Watcher{dir: dir, debounce: debounce, fsw: fsw}
	if err := w.addTree(dir); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && (skipDirs[d.Name()] || d.Name()[0] == '.') {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

// Run calls onChange after each debounced burst of edits until ctx is
// done. onChange runs on the watcher goroutine; events arriving while it
// runs are coalesced into the next call.
func (w *Watcher) Run(ctx context.Context, onChange func(ctx context.Context)) error {
	defer w.fsw.Close()

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	pending := false

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			debug.Log("workspace", "change", "op", event.Op.String(), "name", event.Name)
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addTree(event.Name); err != nil {
						slog.Warn("watching new directory failed", "dir", event.Name, "error", err)
					}
				}
			}
			pending = true
			timer.Reset(w.debounce)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watch error", "dir", w.dir, "error", err)

		case <-timer.C:
			if pending {
				pending = false
				onChange(ctx)
			}
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	rel, err := filepath.Rel(w.dir, event.Name)
	if err != nil {
		return false
	}
	return !Ignored(rel)
}
