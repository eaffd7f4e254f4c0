package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/elm-watch/elm-watch/internal/elmmake"
	"github.com/elm-watch/elm-watch/internal/errs"
	"github.com/elm-watch/elm-watch/internal/importwalker"
	"github.com/elm-watch/elm-watch/internal/inject"
	"github.com/elm-watch/elm-watch/internal/paths"
	"github.com/elm-watch/elm-watch/internal/scheduler"
)

func oneTargetGroup() (*scheduler.Group, *scheduler.Target) {
	target := &scheduler.Target{
		Name:   "main",
		Inputs: []paths.AbsolutePath{"/proj/src/Main.elm"},
		Output: "/proj/main.js",
		Status: scheduler.Status{Kind: scheduler.StatusNotWrittenToDisk},
		Dirty:  true,
	}
	group := &scheduler.Group{SourceDirs: []paths.AbsolutePath{"/proj/src"}, Targets: []*scheduler.Target{target}}
	return group, target
}

func fakeDeps(written map[paths.AbsolutePath][]byte) scheduler.Deps {
	return scheduler.Deps{
		Compile: func(ctx context.Context, g *scheduler.Group, mode elmmake.Mode, inputs []paths.AbsolutePath, outputPath paths.AbsolutePath) *errs.Error {
			written[outputPath] = []byte("compiled")
			return nil
		},
		Walk: func(sourceDirs []paths.AbsolutePath, inputs []paths.AbsolutePath) importwalker.Result {
			return importwalker.Result{Related: map[paths.AbsolutePath]struct{}{}}
		},
		ReadOutput:  func(p paths.AbsolutePath) ([]byte, error) { return written[p], nil },
		WriteOutput: func(p paths.AbsolutePath, data []byte) error { written[p] = data; return nil },
		Now:         func() time.Time { return time.Unix(1_700_000_000, 0) },
	}
}

func TestRunUntilIdle_CompletesASingleTarget(t *testing.T) {
	group, target := oneTargetGroup()
	written := map[paths.AbsolutePath][]byte{}

	orch := New([]*scheduler.Group{group}, scheduler.RunModeMake, 4, fakeDeps(written), nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := orch.RunUntilIdle(ctx); err != nil {
		t.Fatalf("RunUntilIdle returned error: %v", err)
	}

	if got := target.Snapshot().Status.Kind; got != scheduler.StatusSuccess {
		t.Fatalf("expected target to reach StatusSuccess, got %v", got)
	}
	if string(written["/proj/main.js"]) != "compiled" {
		t.Fatalf("unexpected output contents: %q", written["/proj/main.js"])
	}
}

func TestSetStatusHook_FiresAlongsideReporter(t *testing.T) {
	group, _ := oneTargetGroup()
	written := map[paths.AbsolutePath][]byte{}

	orch := New([]*scheduler.Group{group}, scheduler.RunModeMake, 4, fakeDeps(written), nil, nil)

	var mu sync.Mutex
	var hookedKinds []scheduler.StatusKind
	orch.SetStatusHook(func(target *scheduler.Target, status scheduler.Status) {
		mu.Lock()
		hookedKinds = append(hookedKinds, status.Kind)
		mu.Unlock()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := orch.RunUntilIdle(ctx); err != nil {
		t.Fatalf("RunUntilIdle returned error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(hookedKinds) == 0 {
		t.Fatalf("expected the status hook to fire at least once")
	}
	last := hookedKinds[len(hookedKinds)-1]
	if last != scheduler.StatusSuccess {
		t.Fatalf("expected the final hooked status to be Success, got %v", last)
	}
}

func TestKick_WakesABlockedRunForever(t *testing.T) {
	group, target := oneTargetGroup()
	written := map[paths.AbsolutePath][]byte{}
	target.Dirty = false
	target.Status = scheduler.Status{Kind: scheduler.StatusSuccess}

	orch := New([]*scheduler.Group{group}, scheduler.RunModeHot, 4, fakeDeps(written), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		orch.RunForever(ctx)
		close(done)
	}()

	// Give RunForever a moment to settle into its idle wait, then mark the
	// target dirty and Kick so it picks the work up without a poll loop.
	time.Sleep(20 * time.Millisecond)
	target.MarkDirty()
	orch.Kick()

	deadline := time.After(2 * time.Second)
	for {
		if target.Snapshot().Status.Kind == scheduler.StatusSuccess && !target.Snapshot().Dirty {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("target never recompiled after Kick")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	<-done
}
