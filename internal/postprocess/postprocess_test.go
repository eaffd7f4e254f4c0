package postprocess

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeTransport struct {
	closed  atomic.Bool
	respond func(wireRequest) wireResponse
}

func (f *fakeTransport) Send(_ context.Context, req wireRequest) (wireResponse, error) {
	return f.respond(req), nil
}

func (f *fakeTransport) Close() error {
	f.closed.Store(true)
	return nil
}

func newTestPool(t *testing.T, maxParallel int, respond func(wireRequest) wireResponse) *Pool {
	t.Helper()
	p := NewPool([]string{"postprocess.js"}, t.TempDir(), maxParallel, nil)
	p.newTransport = func() (transport, error) {
		return &fakeTransport{respond: respond}, nil
	}
	return p
}

func TestPostprocessSuccess(t *testing.T) {
	p := newTestPool(t, 2, func(req wireRequest) wireResponse {
		return wireResponse{Ok: true, Code: req.Code + "-postprocessed"}
	})

	code, err := p.Postprocess(context.Background(), Request{Code: "var x = 1;", TargetName: "Main"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if code != "var x = 1;-postprocessed" {
		t.Fatalf("unexpected code: %q", code)
	}
}

func TestPostprocessErrorClassification(t *testing.T) {
	cases := []struct {
		tag  string
		want string
	}{
		{"MissingScript", "ElmWatchNodeMissingScript"},
		{"ImportError", "ElmWatchNodeImportError"},
		{"DefaultExportNotFunction", "ElmWatchNodeDefaultExportNotFunction"},
		{"BadReturnValue", "ElmWatchNodeBadReturnValue"},
		{"RunError", "ElmWatchNodeRunError"},
	}
	for _, c := range cases {
		p := newTestPool(t, 1, func(req wireRequest) wireResponse {
			return wireResponse{Ok: false, ErrorTag: c.tag, ErrorMessage: "boom"}
		})
		_, err := p.Postprocess(context.Background(), Request{Code: "x"})
		if err == nil {
			t.Fatalf("%s: expected error", c.tag)
		}
		if string(err.Tag()) != c.want {
			t.Fatalf("%s: got tag %s, want %s", c.tag, err.Tag(), c.want)
		}
	}
}

// TestPoolBoundsParallelism verifies that at most maxParallel Postprocess
// calls are in flight at once (§5 "a single post-process worker pool of
// size maxParallel bounds parallelism").
func TestPoolBoundsParallelism(t *testing.T) {
	const maxParallel = 3
	var inFlight atomic.Int32
	var maxSeen atomic.Int32

	p := newTestPool(t, maxParallel, func(req wireRequest) wireResponse {
		n := inFlight.Add(1)
		for {
			cur := maxSeen.Load()
			if n <= cur || maxSeen.CompareAndSwap(cur, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return wireResponse{Ok: true, Code: "ok"}
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = p.Postprocess(context.Background(), Request{Code: "x"})
		}()
	}
	wg.Wait()

	if maxSeen.Load() > maxParallel {
		t.Fatalf("saw %d concurrent postprocess calls, want <= %d", maxSeen.Load(), maxParallel)
	}
}

func TestShutdownClosesWorkers(t *testing.T) {
	var created []*fakeTransport
	var mu sync.Mutex

	p := NewPool([]string{"postprocess.js"}, t.TempDir(), 2, nil)
	p.newTransport = func() (transport, error) {
		ft := &fakeTransport{respond: func(wireRequest) wireResponse { return wireResponse{Ok: true, Code: "x"} }}
		mu.Lock()
		created = append(created, ft)
		mu.Unlock()
		return ft, nil
	}

	_, _ = p.Postprocess(context.Background(), Request{Code: "x"})
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	for _, ft := range created {
		if !ft.closed.Load() {
			t.Fatalf("worker was not closed on shutdown")
		}
	}
}
