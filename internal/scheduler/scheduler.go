// Package scheduler implements spec.md §4.I: the per-target state machine,
// the bounded-parallelism action-selection algorithm, and mode-dependent
// prioritization. GetOutputActions is a pure function of target state (no
// side effects, no I/O) so it can be exhaustively tested against §8's
// scheduler properties; the side-effecting half (actually running the
// compiler/walker/postprocess and mutating TargetState) lives in
// execution.go. There is no direct teacher equivalent for the selection
// algorithm itself — wave has nothing resembling per-target dependency
// groups — but the tagged-status-over-subclassing shape follows §9's design
// note and the rest of this module's errs.Error-style tagged variants.
package scheduler

import (
	"sort"
	"sync"

	"github.com/elm-watch/elm-watch/internal/elmmake"
	"github.com/elm-watch/elm-watch/internal/errs"
	"github.com/elm-watch/elm-watch/internal/paths"
	"github.com/elm-watch/elm-watch/internal/project"
)

// RunMode distinguishes the one-shot `make` invocation from the long-lived
// `hot` session; it drives prioritization in GetOutputActions (§4.I step 3).
type RunMode string

const (
	RunModeMake RunMode = "make"
	RunModeHot  RunMode = "hot"
)

// StatusKind enumerates the per-target status variants of §4.I.
type StatusKind int

const (
	StatusNotWrittenToDisk StatusKind = iota
	StatusSuccess
	StatusElmMake
	StatusElmMakeTypecheckOnly
	StatusPostprocess
	StatusInterrupted
	StatusQueuedForElmMake
	StatusQueuedForPostprocess
	StatusError
)

func (k StatusKind) String() string {
	switch k {
	case StatusNotWrittenToDisk:
		return "NotWrittenToDisk"
	case StatusSuccess:
		return "Success"
	case StatusElmMake:
		return "ElmMake"
	case StatusElmMakeTypecheckOnly:
		return "ElmMakeTypecheckOnly"
	case StatusPostprocess:
		return "Postprocess"
	case StatusInterrupted:
		return "Interrupted"
	case StatusQueuedForElmMake:
		return "QueuedForElmMake"
	case StatusQueuedForPostprocess:
		return "QueuedForPostprocess"
	case StatusError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Status is the tagged value of a target's current position in the
// dirty → queued → compiling → (post-processing | proxy-write) → success |
// error lifecycle (§3, §4.I). Unused fields are zero for variants that don't
// need them, the same sentinel-struct shape as internal/errs.Error.
type Status struct {
	Kind StatusKind

	CompiledTimestamp int64  // Success
	FileSize          int64  // Success
	PostprocessArgv   []string
	Code              string // QueuedForPostprocess: code awaiting postprocessing; Success: the code written, without the identifier header (in hot mode, with the client code appended; this is what the WebSocket delivers)
	Err               *errs.Error
}

// Target is one mutable TargetState (§3). Status transitions are serialized
// per target (§3 invariant: "A target is in a compiling status for at most
// one scheduler slot at a time; status transitions are serialized per
// target"), enforced here by Target's own mutex rather than a global lock,
// so unrelated targets never contend.
type Target struct {
	mu sync.Mutex

	Name                string
	GroupKey            paths.AbsolutePath // governing package manifest path
	Inputs              []paths.AbsolutePath
	Output              paths.AbsolutePath
	CompilationMode     elmmake.Mode
	PostprocessArgv     []string

	Status              Status
	RelatedFiles        map[paths.AbsolutePath]struct{}
	Dirty               bool

	// Hot-mode-only fields (§3); zero values are harmless in make mode.
	BrowserUIPosition string
	OpenErrorOverlay  bool
	Priority          int
}

// NewTarget builds a Target from a resolved project target, initialized per
// §3 ("created during project init and lives for the process lifetime").
func NewTarget(rt project.ResolvedTarget, postprocessArgv []string) *Target {
	return &Target{
		Name:            rt.Name,
		GroupKey:        rt.PackageManifestPath,
		Inputs:          rt.Inputs,
		Output:          rt.Output,
		CompilationMode: elmmake.ModeStandard,
		PostprocessArgv: postprocessArgv,
		Status:          Status{Kind: StatusNotWrittenToDisk},
		Dirty:           true, // never compiled yet: eligible for first dispatch
	}
}

// Snapshot returns a copy of the fields GetOutputActions needs, taken under
// the target's own lock so selection never races a concurrent transition.
func (t *Target) Snapshot() Target {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := *t
	cp.mu = sync.Mutex{}
	return cp
}

// MarkDirty flags the target for recompilation (§4.J "mark dirty=true" on a
// relevant FS event). Safe to call from the watcher goroutine concurrently
// with scheduler execution.
func (t *Target) MarkDirty() {
	t.mu.Lock()
	t.Dirty = true
	t.mu.Unlock()
}

// SetStatus performs one atomic status transition.
func (t *Target) SetStatus(s Status) {
	t.mu.Lock()
	t.Status = s
	t.mu.Unlock()
}

// Group is every Target sharing a package manifest (§3 targetGroups): the
// compiler operates per package manifest, so at most one target per group
// may occupy an elm-make/typecheck slot at a time (§4.I step 1).
type Group struct {
	Key             paths.AbsolutePath
	PackageManifest paths.AbsolutePath
	SourceDirs      []paths.AbsolutePath
	Targets         []*Target
}

// ActionKind enumerates the dispatchable action kinds of §4.I.
type ActionKind int

const (
	ActionNeedsElmMake ActionKind = iota
	ActionNeedsElmMakeTypecheckOnly
	ActionNeedsPostprocess
	ActionQueueForElmMake
)

// Source distinguishes a NeedsElmMake action triggered because the target
// just went dirty from one that was already sitting in QueuedForElmMake.
type Source string

const (
	SourceDirty  Source = "dirty"
	SourceQueued Source = "queued"
)

// Action is one unit of dispatchable work, as selected by GetOutputActions.
type Action struct {
	Kind            ActionKind
	Target          *Target // nil only for ActionNeedsElmMakeTypecheckOnly
	Group           *Group  // set for ActionNeedsElmMakeTypecheckOnly
	Priority        int
	Source          Source
	PostprocessCode string
}

// elmMakeErrorTags is the subset of §7's taxonomy that counts as an
// "elm-make error" for the make-mode fail-fast rule (§4.I, §8 scenario 3).
var elmMakeErrorTags = map[errs.Tag]struct{}{
	errs.TagElmMakeError:            {},
	errs.TagElmMakeCrashError:       {},
	errs.TagElmMakeJsonParseError:   {},
	errs.TagUnexpectedElmMakeOutput: {},
	errs.TagElmNotFoundError:        {},
	errs.TagCommandNotFoundError:    {},
	errs.TagOtherSpawnError:         {},
}

func isElmMakeError(err *errs.Error) bool {
	if err == nil {
		return false
	}
	_, ok := elmMakeErrorTags[err.Tag()]
	return ok
}

// GetOutputActions runs one tick of the selection algorithm (§4.I) over
// every group, then prioritizes and trims to the available slot count. It
// reads each live *Target through Snapshot (under that target's own lock)
// and never mutates one, so it has zero side effects and can be
// property-tested without a real project.
func GetOutputActions(groups []*Group, runMode RunMode, maxParallel, numExecuting int, includeInterrupted bool) []Action {
	var elmMakeActions []Action
	var postprocessActions []Action
	var typecheckGroups []*Group

	for _, g := range groups {
		occupied := false
		for _, t := range g.Targets {
			k := t.Snapshot().Status.Kind
			if k == StatusElmMake || k == StatusElmMakeTypecheckOnly {
				occupied = true
			}
		}

		var idleTargets []*Target
		dispatchedAny := false

		for _, t := range g.Targets {
			snap := t.Snapshot()
			switch {
			case snap.Status.Kind == StatusElmMake || snap.Status.Kind == StatusElmMakeTypecheckOnly || snap.Status.Kind == StatusPostprocess:
				// Already occupying a slot this tick; nothing to select.

			case snap.Status.Kind == StatusQueuedForElmMake:
				if !occupied {
					elmMakeActions = append(elmMakeActions, Action{Kind: ActionNeedsElmMake, Target: t, Priority: snap.Priority, Source: SourceQueued})
					occupied = true
					dispatchedAny = true
				}

			case snap.Status.Kind == StatusQueuedForPostprocess:
				postprocessActions = append(postprocessActions, Action{Kind: ActionNeedsPostprocess, Target: t, Priority: snap.Priority, PostprocessCode: snap.Status.Code})

			case snap.Status.Kind == StatusInterrupted && includeInterrupted:
				if occupied {
					elmMakeActions = append(elmMakeActions, Action{Kind: ActionQueueForElmMake, Target: t})
				} else {
					elmMakeActions = append(elmMakeActions, Action{Kind: ActionNeedsElmMake, Target: t, Priority: snap.Priority, Source: SourceDirty})
					occupied = true
				}
				dispatchedAny = true

			case snap.Status.Kind == StatusInterrupted:
				idleTargets = append(idleTargets, t)

			case (snap.Status.Kind == StatusSuccess || snap.Status.Kind == StatusNotWrittenToDisk || snap.Status.Kind == StatusError) && snap.Dirty:
				if occupied {
					elmMakeActions = append(elmMakeActions, Action{Kind: ActionQueueForElmMake, Target: t})
				} else {
					elmMakeActions = append(elmMakeActions, Action{Kind: ActionNeedsElmMake, Target: t, Priority: snap.Priority, Source: SourceDirty})
					occupied = true
				}
				dispatchedAny = true

			default:
				idleTargets = append(idleTargets, t)
			}
		}

		// §4.I: "Targets with no priority assignment and no explicit dirty
		// dispatch form the typecheck-only group for their package manifest."
		if len(idleTargets) > 0 && !dispatchedAny && !occupied {
			typecheckGroups = append(typecheckGroups, g)
		}
	}

	sortByPriorityDesc(elmMakeActions)
	sortByPriorityDesc(postprocessActions)

	var ordered []Action
	switch runMode {
	case RunModeHot:
		// §4.I step 3: "hot: post-process (by descending priority) first,
		// then elm-make (by descending priority), then typecheck-only."
		ordered = append(ordered, postprocessActions...)
		ordered = append(ordered, elmMakeActions...)
		ordered = appendTypecheck(ordered, typecheckGroups)
	default:
		// "make: elm-make first, then typecheck-only, then post-process."
		ordered = append(ordered, elmMakeActions...)
		ordered = appendTypecheck(ordered, typecheckGroups)
		if !anyElmMakeErrorPresent(groups) {
			ordered = append(ordered, postprocessActions...)
		}
	}

	slots := maxParallel - numExecuting
	if slots < 0 {
		slots = 0
	}
	return trimToSlots(ordered, slots)
}

func appendTypecheck(actions []Action, groups []*Group) []Action {
	for _, g := range groups {
		actions = append(actions, Action{Kind: ActionNeedsElmMakeTypecheckOnly, Group: g})
	}
	return actions
}

func anyElmMakeErrorPresent(groups []*Group) bool {
	for _, g := range groups {
		for _, t := range g.Targets {
			if snap := t.Snapshot(); snap.Status.Kind == StatusError && isElmMakeError(snap.Status.Err) {
				return true
			}
		}
	}
	return false
}

func sortByPriorityDesc(actions []Action) {
	sort.SliceStable(actions, func(i, j int) bool {
		return actions[i].Priority > actions[j].Priority
	})
}

// trimToSlots bounds the executing-action count to slots (§4.I step 4):
// excess NeedsElmMake/NeedsElmMakeTypecheckOnly actions demote to
// QueueForElmMake; excess NeedsPostprocess actions are simply dropped for
// this tick (the target stays QueuedForPostprocess, "stays pending").
// ActionQueueForElmMake never consumes a slot: it is a state transition, not
// a running process.
func trimToSlots(actions []Action, slots int) []Action {
	out := make([]Action, 0, len(actions))
	used := 0
	for _, a := range actions {
		switch a.Kind {
		case ActionQueueForElmMake:
			out = append(out, a)
		case ActionNeedsElmMake, ActionNeedsElmMakeTypecheckOnly:
			if used < slots {
				out = append(out, a)
				used++
			} else {
				out = append(out, Action{Kind: ActionQueueForElmMake, Target: a.Target})
			}
		case ActionNeedsPostprocess:
			if used < slots {
				out = append(out, a)
				used++
			}
		}
	}
	return out
}
