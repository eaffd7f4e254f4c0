package scheduler

import (
	"testing"

	"github.com/elm-watch/elm-watch/internal/errs"
	"github.com/elm-watch/elm-watch/internal/paths"
)

func newGroup(key string, n int) *Group {
	g := &Group{Key: paths.AbsolutePath(key)}
	for i := 0; i < n; i++ {
		g.Targets = append(g.Targets, &Target{
			Name:     key,
			GroupKey: g.Key,
			Status:   Status{Kind: StatusNotWrittenToDisk},
			Dirty:    true,
		})
	}
	return g
}

func TestGetOutputActions_OneElmMakePerGroup(t *testing.T) {
	g := newGroup("/pkg/elm.json", 3)

	actions := GetOutputActions([]*Group{g}, RunModeMake, 8, 0, false)

	needsElmMake := 0
	for _, a := range actions {
		if a.Kind == ActionNeedsElmMake {
			needsElmMake++
		}
	}
	if needsElmMake != 1 {
		t.Fatalf("expected exactly 1 NeedsElmMake action for a 3-target group sharing a manifest, got %d", needsElmMake)
	}

	// The other two should be queued (free transitions), not dispatched.
	queued := 0
	for _, a := range actions {
		if a.Kind == ActionQueueForElmMake {
			queued++
		}
	}
	if queued != 2 {
		t.Fatalf("expected 2 targets queued behind the group's single slot, got %d", queued)
	}
}

func TestGetOutputActions_RespectsMaxParallel(t *testing.T) {
	var groups []*Group
	for i := 0; i < 5; i++ {
		groups = append(groups, newGroup(string(rune('a'+i))+"/elm.json", 1))
	}

	actions := GetOutputActions(groups, RunModeMake, 2, 0, false)

	executing := 0
	for _, a := range actions {
		if a.Kind == ActionNeedsElmMake || a.Kind == ActionNeedsElmMakeTypecheckOnly || a.Kind == ActionNeedsPostprocess {
			executing++
		}
	}
	if executing > 2 {
		t.Fatalf("scheduled %d concurrent actions, want <= maxParallel (2)", executing)
	}
}

func TestGetOutputActions_MakeModeFailFast(t *testing.T) {
	g := newGroup("/pkg/elm.json", 2)
	g.Targets[0].Status = Status{Kind: StatusError, Err: errs.New(errs.TagElmMakeError, "boom", nil)}
	g.Targets[0].Dirty = false
	g.Targets[1].Status = Status{Kind: StatusQueuedForPostprocess, Code: "var x=1;"}
	g.Targets[1].Dirty = false

	actions := GetOutputActions([]*Group{g}, RunModeMake, 8, 0, false)

	for _, a := range actions {
		if a.Kind == ActionNeedsPostprocess {
			t.Fatalf("make mode must not dispatch postprocess while an elm-make error is present (fail-fast)")
		}
	}
}

func TestGetOutputActions_HotModePrioritizesPostprocess(t *testing.T) {
	g1 := newGroup("/a/elm.json", 1)
	g1.Targets[0].Status = Status{Kind: StatusQueuedForPostprocess, Code: "low"}
	g1.Targets[0].Dirty = false
	g1.Targets[0].Priority = 1

	g2 := newGroup("/b/elm.json", 1)
	g2.Targets[0].Status = Status{Kind: StatusQueuedForPostprocess, Code: "high"}
	g2.Targets[0].Dirty = false
	g2.Targets[0].Priority = 10

	actions := GetOutputActions([]*Group{g1, g2}, RunModeHot, 8, 0, false)

	var postprocessActions []Action
	for _, a := range actions {
		if a.Kind == ActionNeedsPostprocess {
			postprocessActions = append(postprocessActions, a)
		}
	}
	if len(postprocessActions) != 2 {
		t.Fatalf("expected 2 postprocess actions, got %d", len(postprocessActions))
	}
	if postprocessActions[0].Priority < postprocessActions[1].Priority {
		t.Fatalf("postprocess actions not ordered by descending priority: %+v", postprocessActions)
	}
}

func TestGetOutputActions_TrimDemotesExcessElmMake(t *testing.T) {
	var groups []*Group
	for i := 0; i < 3; i++ {
		groups = append(groups, newGroup(string(rune('a'+i))+"/elm.json", 1))
	}

	actions := GetOutputActions(groups, RunModeMake, 1, 0, false)

	needsElmMake, queued := 0, 0
	for _, a := range actions {
		switch a.Kind {
		case ActionNeedsElmMake:
			needsElmMake++
		case ActionQueueForElmMake:
			queued++
		}
	}
	if needsElmMake != 1 {
		t.Fatalf("expected exactly 1 dispatched NeedsElmMake at maxParallel=1, got %d", needsElmMake)
	}
	if queued != 2 {
		t.Fatalf("expected 2 excess actions demoted to QueueForElmMake, got %d", queued)
	}
}

func TestGetOutputActions_IdleTargetsBecomeTypecheckOnly(t *testing.T) {
	g := newGroup("/pkg/elm.json", 2)
	g.Targets[0].Dirty = false
	g.Targets[1].Dirty = false

	actions := GetOutputActions([]*Group{g}, RunModeMake, 8, 0, false)

	found := false
	for _, a := range actions {
		if a.Kind == ActionNeedsElmMakeTypecheckOnly && a.Group == g {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a NeedsElmMakeTypecheckOnly action for a group with no dirty targets")
	}
}
