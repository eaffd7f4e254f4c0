// Package statusline exposes only the boundary the core needs to report
// per-target status; the human-facing rendering it names (ANSI status
// lines, spinners, summaries) is out of scope per spec.md §1 and lives
// entirely on the CLI side, mirroring colorlog's own split between the
// ambient structured-logging handler (kept in internal/logging) and the
// CLI's cosmetic presentation layer (not part of this module's core).
package statusline

import "github.com/elm-watch/elm-watch/internal/scheduler"

// Reporter receives a status update for one target every time its
// scheduler.Status transitions. Implementations decide how (or whether) to
// render it; the core never assumes a terminal exists.
type Reporter interface {
	Report(targetName string, status scheduler.Status)
}

// NopReporter discards every report; used when running headless (e.g.
// under test, or piping elm-watch's output through another tool).
type NopReporter struct{}

func (NopReporter) Report(targetName string, status scheduler.Status) {}
