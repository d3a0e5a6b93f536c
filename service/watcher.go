package service

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

// watchDebounce is how long the watcher waits for edits to settle
// before signalling a rebuild.
const watchDebounce = 500 * time.Millisecond

// watcher signals when curated vocabulary files change. Events are
// debounced and coalesced: a burst of edits produces one notification.
type watcher struct {
	fsw    *fsnotify.Watcher
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]struct{}

	notify chan struct{}
}

// newWatcher watches the base directories of the given glob patterns.
// Directories that do not exist yet are skipped; subdirectories created
// later are picked up.
func newWatcher(patterns []string, logger *slog.Logger) (*watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &watcher{
		fsw:     fsw,
		logger:  logger,
		pending: make(map[string]struct{}),
		notify:  make(chan struct{}, 1),
	}

	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}
		base, _ := doublestar.SplitPattern(pattern)
		if err := w.addRecursive(base); err != nil {
			logger.Debug("Vocabulary path not watchable", "path", base, "error", err)
		}
	}
	return w, nil
}

// addRecursive watches a directory tree. Missing roots are tolerated;
// the pattern may point at files that appear later.
func (w *watcher) addRecursive(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		base := filepath.Base(path)
		if strings.HasPrefix(base, ".") && base != "." {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			w.logger.Warn("Failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}

// Notify returns the channel signalled after changes settle.
func (w *watcher) Notify() <-chan struct{} {
	return w.notify
}

func (w *watcher) Close() error {
	return w.fsw.Close()
}

// run processes filesystem events until the context ends.
func (w *watcher) run(ctx context.Context) {
	ticker := time.NewTicker(watchDebounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("Watcher error", "error", err)
		case <-ticker.C:
			w.flush()
		}
	}
}

func (w *watcher) handle(event fsnotify.Event) {
	ext := strings.ToLower(filepath.Ext(event.Name))
	if ext != ".yaml" && ext != ".yml" {
		// New directories need their own watch for nested files.
		if event.Has(fsnotify.Create) {
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				if err := w.fsw.Add(event.Name); err != nil {
					w.logger.Warn("Failed to watch new directory", "path", event.Name, "error", err)
				}
			}
		}
		return
	}

	w.mu.Lock()
	w.pending[event.Name] = struct{}{}
	w.mu.Unlock()

	w.logger.Debug("Vocabulary change detected", "path", event.Name, "op", event.Op.String())
}

// flush emits one notification when changes accumulated since the last
// tick. The channel is buffered; a pending signal absorbs new ones.
func (w *watcher) flush() {
	w.mu.Lock()
	n := len(w.pending)
	if n > 0 {
		w.pending = make(map[string]struct{})
	}
	w.mu.Unlock()
	if n == 0 {
		return
	}

	select {
	case w.notify <- struct{}{}:
		w.logger.Debug("Vocabulary changed, rebuild queued", "files", n)
	default:
	}
}
