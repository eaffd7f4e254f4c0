package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/elm-watch/elm-watch/internal/elmmake"
	"github.com/elm-watch/elm-watch/internal/errs"
	"github.com/elm-watch/elm-watch/internal/importwalker"
	"github.com/elm-watch/elm-watch/internal/inject"
	"github.com/elm-watch/elm-watch/internal/paths"
)

func fixedNow() time.Time { return time.Unix(1_700_000_000, 0) }

func fakeTarget(output paths.AbsolutePath) *Target {
	return &Target{
		Name:   "main",
		Inputs: []paths.AbsolutePath{"/proj/src/Main.elm"},
		Output: output,
		Status: Status{Kind: StatusNotWrittenToDisk},
		Dirty:  true,
	}
}

func TestHandleNeedsElmMake_Success(t *testing.T) {
	written := map[paths.AbsolutePath][]byte{}
	group := &Group{SourceDirs: []paths.AbsolutePath{"/proj/src"}}
	target := fakeTarget("/proj/main.js")

	deps := Deps{
		Compile: func(ctx context.Context, g *Group, mode elmmake.Mode, inputs []paths.AbsolutePath, outputPath paths.AbsolutePath) *errs.Error {
			written[outputPath] = []byte("console.log('compiled')")
			return nil
		},
		Walk: func(sourceDirs []paths.AbsolutePath, inputs []paths.AbsolutePath) importwalker.Result {
			return importwalker.Result{Related: map[paths.AbsolutePath]struct{}{inputs[0]: {}}}
		},
		ReadOutput:  func(p paths.AbsolutePath) ([]byte, error) { return written[p], nil },
		WriteOutput: func(p paths.AbsolutePath, data []byte) error { written[p] = data; return nil },
		Now:         fixedNow,
	}

	HandleNeedsElmMake(context.Background(), target, group, deps)

	snap := target.Snapshot()
	if snap.Status.Kind != StatusSuccess {
		t.Fatalf("expected StatusSuccess, got %v (err=%v)", snap.Status.Kind, snap.Status.Err)
	}
	if snap.Status.CompiledTimestamp != fixedNow().UnixMilli() {
		t.Fatalf("expected CompiledTimestamp %d, got %d", fixedNow().UnixMilli(), snap.Status.CompiledTimestamp)
	}
	if string(written["/proj/main.js"]) != "console.log('compiled')" {
		t.Fatalf("unexpected final output: %q", written["/proj/main.js"])
	}
	if _, ok := snap.RelatedFiles["/proj/src/Main.elm"]; !ok {
		t.Fatalf("expected relatedFiles to include the input")
	}
}

func TestHandleNeedsElmMake_CompileErrorWinsOverWalkError(t *testing.T) {
	group := &Group{SourceDirs: []paths.AbsolutePath{"/proj/src"}}
	target := fakeTarget("/proj/main.js")
	compileErr := errs.New(errs.TagElmMakeError, "compile failed", nil)

	deps := Deps{
		Compile: func(ctx context.Context, g *Group, mode elmmake.Mode, inputs []paths.AbsolutePath, outputPath paths.AbsolutePath) *errs.Error {
			return compileErr
		},
		Walk: func(sourceDirs []paths.AbsolutePath, inputs []paths.AbsolutePath) importwalker.Result {
			return importwalker.Result{Err: errs.New(errs.TagImportWalkerFileSystemError, "walk failed", nil)}
		},
		Now: fixedNow,
	}

	HandleNeedsElmMake(context.Background(), target, group, deps)

	snap := target.Snapshot()
	if snap.Status.Kind != StatusError {
		t.Fatalf("expected StatusError, got %v", snap.Status.Kind)
	}
	if snap.Status.Err.Tag() != errs.TagElmMakeError {
		t.Fatalf("expected the compiler error to win, got tag %v", snap.Status.Err.Tag())
	}
}

func TestHandleNeedsElmMake_DirtiedDuringCompileInterrupts(t *testing.T) {
	group := &Group{SourceDirs: []paths.AbsolutePath{"/proj/src"}}
	target := fakeTarget("/proj/main.js")

	deps := Deps{
		Compile: func(ctx context.Context, g *Group, mode elmmake.Mode, inputs []paths.AbsolutePath, outputPath paths.AbsolutePath) *errs.Error {
			target.mu.Lock()
			target.Dirty = true
			target.mu.Unlock()
			return nil
		},
		Walk: func(sourceDirs []paths.AbsolutePath, inputs []paths.AbsolutePath) importwalker.Result {
			return importwalker.Result{Related: map[paths.AbsolutePath]struct{}{}}
		},
		ReadOutput: func(p paths.AbsolutePath) ([]byte, error) { return []byte("x"), nil },
		Now:        fixedNow,
	}

	HandleNeedsElmMake(context.Background(), target, group, deps)

	if snap := target.Snapshot(); snap.Status.Kind != StatusInterrupted {
		t.Fatalf("expected StatusInterrupted, got %v", snap.Status.Kind)
	}
}

func TestHandleNeedsElmMake_HotModeAppendsClientCodeAndIdentifier(t *testing.T) {
	written := map[paths.AbsolutePath][]byte{}
	group := &Group{SourceDirs: []paths.AbsolutePath{"/proj/src"}}
	target := fakeTarget("/proj/main.js")

	deps := Deps{
		Compile: func(ctx context.Context, g *Group, mode elmmake.Mode, inputs []paths.AbsolutePath, outputPath paths.AbsolutePath) *errs.Error {
			written[outputPath] = []byte("var Elm = {};")
			return nil
		},
		Walk: func(sourceDirs []paths.AbsolutePath, inputs []paths.AbsolutePath) importwalker.Result {
			return importwalker.Result{Related: map[paths.AbsolutePath]struct{}{}}
		},
		ReadOutput:  func(p paths.AbsolutePath) ([]byte, error) { return written[p], nil },
		WriteOutput: func(p paths.AbsolutePath, data []byte) error { written[p] = data; return nil },
		HotMode:     true,
		Identifier: func(t *Target) inject.Identifier {
			return inject.Identifier{Version: "1.0.0", TargetName: t.Name, WebSocketPort: 8000, WebSocketToken: "tok"}
		},
		ClientCode: func(t *Target, compiledTimestamp int64) string {
			return "/* client */"
		},
		Now: fixedNow,
	}

	HandleNeedsElmMake(context.Background(), target, group, deps)

	snap := target.Snapshot()
	if snap.Status.Kind != StatusSuccess {
		t.Fatalf("expected StatusSuccess, got %v (err=%v)", snap.Status.Kind, snap.Status.Err)
	}
	out := string(written["/proj/main.js"])
	wantHeader := `// elm-watch hot {"version":"1.0.0","targetName":"main","webSocketPort":8000,"webSocketToken":"tok"}` + "\n"
	if out[:len(wantHeader)] != wantHeader {
		t.Fatalf("expected output to start with the identifier header, got %q", out[:min(len(out), len(wantHeader))])
	}
	if !contains(out, "/* client */") {
		t.Fatalf("expected client code to be appended, got %q", out)
	}
	if snap.Status.Code == "" {
		t.Fatalf("expected Status.Code to carry the broadcastable code in hot mode")
	}
}

func TestHandleNeedsPostprocess_WritesPostprocessedResult(t *testing.T) {
	written := map[paths.AbsolutePath][]byte{}
	target := fakeTarget("/proj/main.js")
	target.Status = Status{Kind: StatusQueuedForPostprocess, Code: "raw", PostprocessArgv: []string{"script.js"}}

	deps := Deps{
		Postprocess: func(ctx context.Context, code, targetName string, mode elmmake.Mode, argv []string) (string, *errs.Error) {
			return code + "-postprocessed", nil
		},
		WriteOutput: func(p paths.AbsolutePath, data []byte) error { written[p] = data; return nil },
		Now:         fixedNow,
	}

	HandleNeedsPostprocess(context.Background(), target, elmmake.ModeStandard, deps)

	snap := target.Snapshot()
	if snap.Status.Kind != StatusSuccess {
		t.Fatalf("expected StatusSuccess, got %v", snap.Status.Kind)
	}
	if string(written["/proj/main.js"]) != "raw-postprocessed" {
		t.Fatalf("unexpected final output: %q", written["/proj/main.js"])
	}
}

func TestHandleNeedsElmMakeTypecheckOnly_WritesProxyOncePerStaleTarget(t *testing.T) {
	written := map[paths.AbsolutePath][]byte{}
	t1 := fakeTarget("/proj/a.js")
	t1.Name = "a"
	t2 := fakeTarget("/proj/b.js")
	t2.Name = "b"
	group := &Group{SourceDirs: []paths.AbsolutePath{"/proj/src"}, Targets: []*Target{t1, t2}}

	deps := Deps{
		Compile: func(ctx context.Context, g *Group, mode elmmake.Mode, inputs []paths.AbsolutePath, outputPath paths.AbsolutePath) *errs.Error {
			return nil
		},
		Walk: func(sourceDirs []paths.AbsolutePath, inputs []paths.AbsolutePath) importwalker.Result {
			return importwalker.Result{Related: map[paths.AbsolutePath]struct{}{}}
		},
		ReadOutput:  func(p paths.AbsolutePath) ([]byte, error) { return written[p], nil },
		WriteOutput: func(p paths.AbsolutePath, data []byte) error { written[p] = data; return nil },
	}

	proxyTemplate := func(t *Target) string { return "/* proxy for " + t.Name + " */" }
	idFn := func(t *Target) inject.Identifier {
		return inject.Identifier{Version: "1.0.0", TargetName: t.Name, WebSocketPort: 8000, WebSocketToken: "tok"}
	}
	deps.Identifier = idFn

	HandleNeedsElmMakeTypecheckOnly(context.Background(), group, deps, proxyTemplate)

	if len(written) != 2 {
		t.Fatalf("expected both targets' proxies written, got %d", len(written))
	}
	for _, t := range group.Targets {
		if t.Snapshot().Status.Kind != StatusElmMakeTypecheckOnly {
			t.Fatalf("expected %s to remain ElmMakeTypecheckOnly (proxy write doesn't itself terminate the status), got %v", t.Name, t.Snapshot().Status.Kind)
		}
	}

	// Second run against the now-written (current) proxies should skip
	// rewriting, since the identifier hasn't changed.
	written2 := map[paths.AbsolutePath][]byte{}
	for k, v := range written {
		written2[k] = v
	}
	deps.ReadOutput = func(p paths.AbsolutePath) ([]byte, error) { return written2[p], nil }
	deps.WriteOutput = func(p paths.AbsolutePath, data []byte) error {
		t.Fatalf("expected no write when the proxy is already current")
		return nil
	}
	HandleNeedsElmMakeTypecheckOnly(context.Background(), group, deps, proxyTemplate)
}

func contains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
