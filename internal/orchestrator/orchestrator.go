// Package orchestrator runs §4.I's selection loop: repeatedly ask
// scheduler.GetOutputActions what can run right now, dispatch it, and wake
// up again whenever a dispatched action finishes or an external caller
// (the file watcher) marks a target dirty. Neither `make`'s run-once
// semantics nor `hot`'s run-forever semantics live in internal/scheduler
// itself, since GetOutputActions is kept a pure, side-effect-free function;
// this package is the side-effecting driver cmd/elm-watch wires up.
package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/elm-watch/elm-watch/internal/scheduler"
	"github.com/elm-watch/elm-watch/internal/statusline"
)

// ProxyTemplate renders the unsubstituted proxy-file body for one target
// (hot mode only); required whenever a group can produce
// ActionNeedsElmMakeTypecheckOnly.
type ProxyTemplate func(*scheduler.Target) string

// Orchestrator drives one project's groups through the scheduler's
// selection/dispatch cycle.
type Orchestrator struct {
	groups      []*scheduler.Group
	groupOf     map[*scheduler.Target]*scheduler.Group
	runMode     scheduler.RunMode
	maxParallel int
	deps        scheduler.Deps
	proxy       ProxyTemplate
	reporter    statusline.Reporter

	numExecuting atomic.Int32
	events       chan struct{}
	wg           sync.WaitGroup

	statusHook func(*scheduler.Target, scheduler.Status)
}

// SetStatusHook registers a callback invoked after every status transition
// this orchestrator drives, in addition to reporter.Report. `hot` wires this
// to internal/hotserver's broadcast methods; `make` leaves it unset.
func (o *Orchestrator) SetStatusHook(hook func(*scheduler.Target, scheduler.Status)) {
	o.statusHook = hook
}

// New builds an Orchestrator for groups. reporter may be statusline.NopReporter{}.
func New(groups []*scheduler.Group, runMode scheduler.RunMode, maxParallel int, deps scheduler.Deps, proxy ProxyTemplate, reporter statusline.Reporter) *Orchestrator {
	groupOf := make(map[*scheduler.Target]*scheduler.Group)
	for _, g := range groups {
		for _, t := range g.Targets {
			groupOf[t] = g
		}
	}
	if reporter == nil {
		reporter = statusline.NopReporter{}
	}
	return &Orchestrator{
		groups:      groups,
		groupOf:     groupOf,
		runMode:     runMode,
		maxParallel: maxParallel,
		deps:        deps,
		proxy:       proxy,
		reporter:    reporter,
		events:      make(chan struct{}, 1),
	}
}

// Kick wakes a blocked RunForever/RunUntilIdle loop, used by the file
// watcher right after it calls Target.MarkDirty so the next tick happens
// without waiting for an in-flight action to complete first.
func (o *Orchestrator) Kick() {
	select {
	case o.events <- struct{}{}:
	default:
	}
}

// RunUntilIdle loops until every target has reached a terminal status
// (Success or Error) and is no longer dirty, for `make`'s one-shot
// semantics. Returns when idle or when ctx is cancelled.
func (o *Orchestrator) RunUntilIdle(ctx context.Context) error {
	for {
		if o.allTerminal() && o.numExecuting.Load() == 0 {
			return nil
		}
		if !o.tick(ctx) {
			select {
			case <-o.events:
			case <-ctx.Done():
				o.wg.Wait()
				return ctx.Err()
			}
		}
	}
}

// RunForever loops until ctx is cancelled, for `hot`'s long-lived session:
// once idle it blocks on Kick (from the watcher) or action completion
// instead of returning.
func (o *Orchestrator) RunForever(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			o.wg.Wait()
			return
		default:
		}
		if !o.tick(ctx) {
			select {
			case <-o.events:
			case <-ctx.Done():
				o.wg.Wait()
				return
			}
		}
	}
}

func (o *Orchestrator) allTerminal() bool {
	for _, g := range o.groups {
		for _, t := range g.Targets {
			snap := t.Snapshot()
			if snap.Dirty || (snap.Status.Kind != scheduler.StatusSuccess && snap.Status.Kind != scheduler.StatusError) {
				return false
			}
		}
	}
	return true
}

// tick runs one selection/dispatch round; it returns whether any action was
// selected (so the caller knows whether to wait for a wakeup).
func (o *Orchestrator) tick(ctx context.Context) bool {
	actions := scheduler.GetOutputActions(o.groups, o.runMode, o.maxParallel, int(o.numExecuting.Load()), true)
	for _, a := range actions {
		o.apply(ctx, a)
	}
	return len(actions) > 0
}

func (o *Orchestrator) apply(ctx context.Context, a scheduler.Action) {
	switch a.Kind {
	case scheduler.ActionQueueForElmMake:
		// A pure state transition (§4.I trimToSlots), not a running process:
		// no slot, no goroutine.
		a.Target.SetStatus(scheduler.Status{Kind: scheduler.StatusQueuedForElmMake})

	case scheduler.ActionNeedsElmMake:
		group := o.groupOf[a.Target]
		o.run(func() {
			scheduler.HandleNeedsElmMake(ctx, a.Target, group, o.deps)
			o.report(a.Target)
		})

	case scheduler.ActionNeedsElmMakeTypecheckOnly:
		group := a.Group
		o.run(func() {
			scheduler.HandleNeedsElmMakeTypecheckOnly(ctx, group, o.deps, o.proxy)
			for _, t := range group.Targets {
				o.report(t)
			}
		})

	case scheduler.ActionNeedsPostprocess:
		mode := a.Target.Snapshot().CompilationMode
		o.run(func() {
			scheduler.HandleNeedsPostprocess(ctx, a.Target, mode, o.deps)
			o.report(a.Target)
		})
	}
}

func (o *Orchestrator) report(t *scheduler.Target) {
	status := t.Snapshot().Status
	o.reporter.Report(t.Name, status)
	if o.statusHook != nil {
		o.statusHook(t, status)
	}
}

func (o *Orchestrator) run(fn func()) {
	o.numExecuting.Add(1)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.numExecuting.Add(-1)
		defer o.Kick()
		fn()
	}()
}
