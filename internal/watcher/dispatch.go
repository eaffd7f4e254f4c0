package watcher

import (
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/elm-watch/elm-watch/internal/paths"
	"github.com/elm-watch/elm-watch/internal/scheduler"
)

// Dispatch marks targets dirty in response to a debounced batch of FS
// events, generalizing wave/internal/devserver/events.go's
// classifyEvent/handleFileChange pair: there, a changed path was matched
// against each WatchedFile's glob to decide which hooks to run; here a
// changed path is matched against each target's relatedFiles set (or, for
// targets that haven't compiled yet, its raw inputs) and the group's own
// manifest path, since any of those changing can affect what the target
// compiles to.
func Dispatch(log *slog.Logger, groups []*scheduler.Group, events []fsnotify.Event) {
	if log == nil {
		log = slog.Default()
	}

	changed := make(map[paths.AbsolutePath]struct{}, len(events))
	for _, evt := range events {
		abs, err := filepath.Abs(evt.Name)
		if err != nil {
			continue
		}
		changed[paths.AbsolutePath(filepath.ToSlash(abs))] = struct{}{}
	}
	if len(changed) == 0 {
		return
	}

	for _, group := range groups {
		manifestChanged := false
		if _, ok := changed[group.PackageManifest]; ok {
			manifestChanged = true
		}

		for _, target := range group.Targets {
			if manifestChanged {
				target.MarkDirty()
				log.Debug("target marked dirty by manifest change", "target", target.Name, "manifest", group.PackageManifest)
				continue
			}

			snap := target.Snapshot()

			relevant := snap.RelatedFiles
			if relevant == nil {
				relevant = make(map[paths.AbsolutePath]struct{}, len(snap.Inputs))
				for _, in := range snap.Inputs {
					relevant[in] = struct{}{}
				}
			}

			for path := range changed {
				if _, ok := relevant[path]; ok {
					target.MarkDirty()
					log.Debug("target marked dirty by file change", "target", target.Name, "path", path)
					break
				}
			}
		}
	}
}
