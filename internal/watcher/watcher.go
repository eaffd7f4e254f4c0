// Package watcher wraps a cross-platform recursive filesystem watcher rooted
// at a project's watch root, coalescing rapid events with a short debounce
// before dispatch and dropping events for paths registered through Suppress.
// Nothing in the repository calls Suppress, so events for files the tool
// writes itself are not suppressed.
//
// Generalized from wave/tooling/watcher.go: the fsnotify wrapping, the
// sync.Map-cached watched-directory set, and the doublestar-based ignore
// patterns carry over; this version ignores elm-stuff/**, **/node_modules
// and **/.git instead of the teacher's dist/static-output patterns, and
// drops the CSS/Vite WatchedFile-merge machinery entirely (§4.K names no
// per-pattern hook configuration, only "dirty marks → scheduler wake").
package watcher

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

const (
	globElmStuff    = "**/elm-stuff/**"
	globNodeModules = "**/node_modules/**"
	globGit         = "**/.git/**"
)

// selfWriteGrace is how long a path stays suppressed after Suppress is
// called for it (§4.K "suppressed for a grace window to avoid
// self-triggered rebuilds").
const selfWriteGrace = 2 * time.Second

// Watcher recursively watches watchRoot, filtering out the tool's own
// scratch directories and any caller-supplied ignore patterns.
type Watcher struct {
	log     *slog.Logger
	fsWatch *fsnotify.Watcher

	watchedDirs sync.Map // absolute dir path -> struct{}

	ignoredDirs []string

	matchCacheMu sync.Mutex
	matchCache   map[string]bool

	selfWritesMu sync.Mutex
	selfWrites   map[string]time.Time
}

// New creates a Watcher. extraIgnoredDirGlobs are additional doublestar
// glob patterns (matched against absolute, forward-slashed paths) under
// which whole subtrees are never watched, e.g. a target's output directory.
func New(log *slog.Logger, extraIgnoredDirGlobs []string) (*Watcher, error) {
	if log == nil {
		log = slog.Default()
	}

	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		log:        log,
		fsWatch:    fsWatch,
		matchCache: make(map[string]bool),
		selfWrites: make(map[string]time.Time),
	}
	w.ignoredDirs = append([]string{globElmStuff, globNodeModules, globGit}, extraIgnoredDirGlobs...)
	return w, nil
}

func (w *Watcher) norm(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return filepath.ToSlash(p)
	}
	return filepath.ToSlash(abs)
}

func (w *Watcher) Events() <-chan fsnotify.Event {
	return w.fsWatch.Events
}

func (w *Watcher) Errors() <-chan error {
	return w.fsWatch.Errors
}

func (w *Watcher) Close() error {
	return w.fsWatch.Close()
}

// AddDir recursively adds root and its non-ignored subdirectories to the
// watch set.
func (w *Watcher) AddDir(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return err
		}

		if w.IsIgnoredDir(path) {
			return filepath.SkipDir
		}

		absPath := w.norm(path)
		if _, exists := w.watchedDirs.Load(absPath); exists {
			return nil
		}

		if err := w.fsWatch.Add(path); err != nil {
			return err
		}

		w.watchedDirs.Store(absPath, struct{}{})
		return nil
	})
}

// RemoveStale drops watches for directories that no longer exist on disk.
func (w *Watcher) RemoveStale() {
	w.watchedDirs.Range(func(key, _ any) bool {
		path := key.(string)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			w.fsWatch.Remove(path)
			w.watchedDirs.Delete(path)
		}
		return true
	})
}

func (w *Watcher) matchPattern(pattern, path string) bool {
	key := pattern + "\x00" + path

	w.matchCacheMu.Lock()
	if cached, found := w.matchCache[key]; found {
		w.matchCacheMu.Unlock()
		return cached
	}
	w.matchCacheMu.Unlock()

	matches, err := doublestar.Match(pattern, path)
	if err != nil {
		w.log.Error("pattern match error", "pattern", pattern, "path", path, "error", err)
		return false
	}

	w.matchCacheMu.Lock()
	w.matchCache[key] = matches
	w.matchCacheMu.Unlock()
	return matches
}

// IsIgnoredDir reports whether path falls under elm-stuff, node_modules,
// .git, or a caller-supplied ignored subtree.
func (w *Watcher) IsIgnoredDir(path string) bool {
	np := w.norm(path)
	for _, pattern := range w.ignoredDirs {
		if w.matchPattern(pattern, np) {
			return true
		}
	}
	return false
}

// Suppress marks path as a self-produced write: events naming it (compared
// after making both paths absolute; symlinks are not resolved) are dropped by
// Debouncer's caller for
// selfWriteGrace, per §4.K "writes produced by the tool itself… are
// suppressed for a grace window to avoid self-triggered rebuilds".
func (w *Watcher) Suppress(path string) {
	np := w.norm(path)
	w.selfWritesMu.Lock()
	w.selfWrites[np] = time.Now().Add(selfWriteGrace)
	w.selfWritesMu.Unlock()
}

// IsSelfWrite reports whether path was recently suppressed via Suppress
// and consumes the suppression on a hit with remaining grace, matching the
// teacher's fire-once debounce-entry handling.
func (w *Watcher) IsSelfWrite(path string) bool {
	np := w.norm(path)
	w.selfWritesMu.Lock()
	defer w.selfWritesMu.Unlock()

	deadline, ok := w.selfWrites[np]
	if !ok {
		return false
	}
	if time.Now().After(deadline) {
		delete(w.selfWrites, np)
		return false
	}
	delete(w.selfWrites, np)
	return true
}

// isNonEmptyChmodOnly reports whether evt is only a permission change on a
// non-empty file; editors sometimes chmod an empty file as part of a
// create sequence, so those are not filtered.
func isNonEmptyChmodOnly(evt fsnotify.Event) bool {
	if evt.Has(fsnotify.Write) || evt.Has(fsnotify.Create) || evt.Has(fsnotify.Remove) ||
		evt.Has(fsnotify.Rename) {
		return false
	}

	info, err := os.Stat(evt.Name)
	if err != nil {
		return false
	}

	return info.Size() > 0
}

// Relevant filters out ignored-directory events and chmod-only noise,
// applied by the dispatcher before handing events to the Debouncer.
func (w *Watcher) Relevant(evt fsnotify.Event) bool {
	if w.IsIgnoredDir(filepath.Dir(evt.Name)) {
		return false
	}
	if isNonEmptyChmodOnly(evt) {
		return false
	}
	return true
}
