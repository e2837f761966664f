// Package watcher emits local-change events for a repository's working tree,
// filtering out git internals and the engine's own writes.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Event is one observed local change.
type Event struct {
	Path string
	Time time.Time
}

// Watcher watches one repository's working tree recursively.
type Watcher struct {
	root    string
	ignores *IgnoreWindows
	out     chan<- Event
	logger  *slog.Logger
}

// New creates a watcher rooted at the repository's local path. Events pass
// through the ignore registry before being sent to out; sends never block
// (the engine debounces, so a dropped event during a burst is harmless).
func New(root string, ignores *IgnoreWindows, out chan<- Event, logger *slog.Logger) *Watcher {
	return &Watcher{
		root:    root,
		ignores: ignores,
		out:     out,
		logger:  logger,
	}
}

// Run watches until the context is cancelled. It waits for the root to exist
// first, since the engine may still be cloning.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.waitForRoot(ctx); err != nil {
		return err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer func() {
		_ = fsw.Close()
	}()

	if err := w.addRecursive(fsw, w.root); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.root, err)
	}

	w.logger.Info("watching working tree", "path", w.root)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handle(fsw, ev)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "path", w.root, "error", err)
		}
	}
}

// handle filters one fsnotify event and forwards it to the engine queue.
func (w *Watcher) handle(fsw *fsnotify.Watcher, ev fsnotify.Event) {
	if ev.Op == fsnotify.Chmod {
		return
	}
	if underGitDir(w.root, ev.Name) {
		return
	}

	// New directories must be registered before events inside them occur.
	// This happens ahead of the suppression check: a pull can bring a new
	// directory, and suppression drops events, not watch registrations —
	// otherwise later human edits inside it would be invisible.
	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(fsw, ev.Name); err != nil {
				w.logger.Warn("failed to watch new directory", "path", ev.Name, "error", err)
			}
		}
	}

	now := time.Now()
	if w.ignores.Active(now) {
		w.logger.Debug("suppressing self-triggered event", "path", ev.Name, "op", ev.Op.String())
		return
	}

	select {
	case w.out <- Event{Path: ev.Name, Time: now}:
	default:
		w.logger.Debug("event queue full, dropping change event", "path", ev.Name)
	}
}

// addRecursive registers dir and every subdirectory except .git.
func (w *Watcher) addRecursive(fsw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// The tree can change underneath the walk; skip what vanished.
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() == ".git" {
			return filepath.SkipDir
		}
		return fsw.Add(path)
	})
}

// waitForRoot blocks until the watched path exists.
func (w *Watcher) waitForRoot(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		if _, err := os.Stat(w.root); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// underGitDir reports whether path lies inside the repository's .git
// directory.
func underGitDir(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return strings.Contains(path, string(filepath.Separator)+".git"+string(filepath.Separator))
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if part == ".git" {
			return true
		}
	}
	return false
}
