package loader

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long a Watcher waits for events to stop before
// reporting a batch.
const DefaultDebounce = 500 * time.Millisecond

// Watcher reports changes to the specification files under a source path.
type Watcher struct {
	source   string
	debounce time.Duration
	logger   *slog.Logger
}

// NewWatcher creates a watcher for source, which may be a file or a
// directory. A non-positive debounce uses DefaultDebounce.
func NewWatcher(source string, debounce time.Duration, logger *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{source: filepath.Clean(source), debounce: debounce, logger: logger}
}

// Watch blocks until ctx ends. Once events have been quiet for the
// debounce window, onChange receives the sorted paths that changed.
// onChange runs on the watching goroutine; events arriving meanwhile are
// batched for the next call.
func (w *Watcher) Watch(ctx context.Context, onChange func(ctx context.Context, paths []string)) error {
	info, err := os.Stat(w.source)
	if err != nil {
		return fmt.Errorf("watch %s: %w", w.source, err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch %s: %w", w.source, err)
	}
	defer fw.Close()

	dir := info.IsDir()
	if dir {
		err = w.addTree(fw, w.source)
	} else {
		// Editors save by rename, which drops a watch on the file itself.
		err = fw.Add(filepath.Dir(w.source))
	}
	if err != nil {
		return fmt.Errorf("watch %s: %w", w.source, err)
	}
	w.logger.Info("watching specifications", "source", w.source, "debounce", w.debounce)

	pending := make(map[string]bool)
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Op == fsnotify.Chmod {
				continue
			}
			if dir && ev.Has(fsnotify.Create) {
				if st, err := os.Stat(ev.Name); err == nil && st.IsDir() {
					if w.hidden(ev.Name) {
						continue
					}
					if err := w.addTree(fw, ev.Name); err != nil {
						w.logger.Warn("spec watcher could not follow directory", "dir", ev.Name, "err", err)
					}
					pending[ev.Name] = true
					timer.Reset(w.debounce)
					continue
				}
			}
			if !w.relevant(ev.Name) {
				continue
			}
			pending[ev.Name] = true
			timer.Reset(w.debounce)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("spec watcher error", "err", err)

		case <-timer.C:
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			clear(pending)
			slices.Sort(paths)
			w.logger.Debug("specifications changed", "paths", paths)
			onChange(ctx, paths)
		}
	}
}

// addTree watches root and every non-hidden directory below it.
func (w *Watcher) addTree(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return fw.Add(path)
	})
}

// relevant reports whether an event on name can change what Load returns.
func (w *Watcher) relevant(name string) bool {
	name = filepath.Clean(name)
	if name == w.source {
		return true
	}
	rel, err := filepath.Rel(w.source, name)
	if err != nil || strings.HasPrefix(rel, "..") {
		return false
	}
	return recognized(name) && !w.hidden(name)
}

// hidden reports whether any path element below the source starts with a dot.
func (w *Watcher) hidden(name string) bool {
	rel, err := filepath.Rel(w.source, name)
	if err != nil {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if strings.HasPrefix(part, ".") && part != "." && part != ".." {
			return true
		}
	}
	return false
}
