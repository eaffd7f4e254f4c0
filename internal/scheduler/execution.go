package scheduler

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/elm-watch/elm-watch/internal/elmmake"
	"github.com/elm-watch/elm-watch/internal/errs"
	"github.com/elm-watch/elm-watch/internal/importwalker"
	"github.com/elm-watch/elm-watch/internal/inject"
	"github.com/elm-watch/elm-watch/internal/paths"
	"github.com/elm-watch/elm-watch/internal/tasks"
)

// Identifier mints the versioned-identifier header (§6.3) for one target's
// hot-mode output. Injected rather than imported from internal/hotserver to
// keep scheduler free of a dependency on the WebSocket layer.
type Identifier func(target *Target) inject.Identifier

// ClientCodeFn renders the browser-side WebSocket client blob for one
// target's just-finished compile (§4.G "Client / proxy blobs"). Like
// Identifier, it is injected rather than imported from internal/hotserver so
// scheduler stays free of a WebSocket-layer dependency; it is appended after
// the injected/post-processed code (mirroring ProxyFile's client-code +
// stub pairing) so opening a target's output file alone establishes the
// hot-reload connection.
type ClientCodeFn func(target *Target, compiledTimestamp int64) string

// Deps bundles the side-effecting collaborators a NeedsElmMake/
// NeedsElmMakeTypecheckOnly/NeedsPostprocess action needs to run. Passed as
// an interface-free struct of functions (rather than concrete *elmmake.Run
// etc. calls baked into the handlers) purely so tests can fake the compiler
// and walker without spawning real processes.
type Deps struct {
	Compile func(ctx context.Context, group *Group, mode elmmake.Mode, inputs []paths.AbsolutePath, outputPath paths.AbsolutePath) *errs.Error
	Walk    func(sourceDirs []paths.AbsolutePath, inputs []paths.AbsolutePath) importwalker.Result
	ReadOutput  func(path paths.AbsolutePath) ([]byte, error)
	WriteOutput func(path paths.AbsolutePath, data []byte) error

	Postprocess func(ctx context.Context, code, targetName string, mode elmmake.Mode, argv []string) (string, *errs.Error)

	HotMode    bool
	Identifier Identifier
	ClientCode ClientCodeFn
	TempSuffix string // e.g. ".elm-watch-tmp"
	DiagnosticDir string

	Now func() time.Time // defaults to time.Now; overridable for tests

	Logger *slog.Logger
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// injectMode maps elmmake.Mode to inject.CompilationMode; the two types are
// distinct (inject additionally distinguishes ModeStandard from ModeDebug
// for placeholder handling, see internal/inject's doc comment) but every
// elmmake.Mode has exactly one inject.CompilationMode counterpart.
func injectMode(m elmmake.Mode) inject.CompilationMode {
	switch m {
	case elmmake.ModeDebug:
		return inject.ModeDebug
	case elmmake.ModeOptimize:
		return inject.ModeOptimize
	default:
		return inject.ModeStandard
	}
}

// HandleNeedsElmMake executes one ActionNeedsElmMake: spawn the compiler and
// compute relatedFiles concurrently (§4.I "spawn the compiler and compute
// relatedFiles in parallel; on completion, join results"), then combine the
// compiler-result × walker-result 2x2 outcome matrix.
func HandleNeedsElmMake(ctx context.Context, t *Target, group *Group, deps Deps) {
	t.mu.Lock()
	t.Dirty = false
	t.Status = Status{Kind: StatusElmMake}
	mode := t.CompilationMode
	inputs := append([]paths.AbsolutePath(nil), t.Inputs...)
	finalOutput := t.Output
	t.mu.Unlock()

	compilePath := finalOutput
	postprocessConfigured := len(t.PostprocessArgv) > 0 && deps.Postprocess != nil
	if postprocessConfigured {
		compilePath = paths.AbsolutePath(string(finalOutput) + deps.TempSuffix)
	}

	compileFn := func(ctx context.Context) (struct{}, error) {
		if cerr := deps.Compile(ctx, group, mode, inputs, compilePath); cerr != nil {
			return struct{}{}, cerr
		}
		return struct{}{}, nil
	}
	walkFn := func(ctx context.Context) (importwalker.Result, error) {
		return deps.Walk(group.SourceDirs, inputs), nil
	}

	_, walkResult, compileErr := tasks.Join(ctx, compileFn, walkFn)

	t.mu.Lock()
	wasDirtiedDuringCompile := t.Dirty
	t.mu.Unlock()
	if wasDirtiedDuringCompile {
		t.SetStatus(Status{Kind: StatusInterrupted})
		return
	}

	related := walkResult.Related
	if related == nil {
		// Walker itself failed outright (rather than returning a partial
		// set): fall back to the realpaths of inputs, per §4.I.
		related = make(map[paths.AbsolutePath]struct{}, len(inputs))
		for _, in := range inputs {
			related[in] = struct{}{}
		}
	}

	var asErr *errs.Error
	if compileErr != nil {
		var ok bool
		asErr, ok = compileErr.(*errs.Error)
		if !ok {
			asErr = errs.New(errs.TagOtherSpawnError, compileErr.Error(), compileErr)
		}
	}

	switch {
	case asErr != nil:
		// compiler-error × any: the compiler's error wins regardless of the
		// walker's outcome; relatedFiles is whatever the walker produced
		// (partial or full) so future changes in the already-walked subtree
		// still mark the target dirty.
		t.SetStatus(Status{Kind: StatusError, Err: asErr})
		t.mu.Lock()
		t.RelatedFiles = related
		t.mu.Unlock()

	case walkResult.Err != nil:
		// success x walker-error: keep the partial relatedFiles, but record
		// the walker error as the target's status.
		t.SetStatus(Status{Kind: StatusError, Err: walkResult.Err})
		t.mu.Lock()
		t.RelatedFiles = related
		t.mu.Unlock()

	default:
		onCompileSuccess(t, compilePath, finalOutput, mode, related, postprocessConfigured, deps)
	}
}

func onCompileSuccess(t *Target, compilePath, finalOutput paths.AbsolutePath, mode elmmake.Mode, related map[paths.AbsolutePath]struct{}, postprocessConfigured bool, deps Deps) {
	code, err := deps.ReadOutput(compilePath)
	if err != nil {
		t.SetStatus(Status{Kind: StatusError, Err: errs.New(errs.TagReadOutputError, "read compiled output", err).WithPath(string(compilePath))})
		return
	}

	if deps.HotMode {
		rewritten, injectErr := inject.Apply(string(code), injectMode(mode), deps.DiagnosticDir)
		if injectErr != nil {
			t.SetStatus(Status{Kind: StatusError, Err: injectErr})
			return
		}
		code = []byte(rewritten)
	}

	if postprocessConfigured {
		t.mu.Lock()
		t.RelatedFiles = related
		t.Status = Status{Kind: StatusQueuedForPostprocess, Code: string(code), PostprocessArgv: t.PostprocessArgv}
		t.mu.Unlock()
		return
	}

	finishSuccess(t, finalOutput, code, related, deps)
}

// HandleNeedsPostprocess executes one ActionNeedsPostprocess: run the
// configured postprocess worker, then write the result to the final path
// (§4.I "mark dirty=false; status = Postprocess; run worker; on completion,
// write to final path").
func HandleNeedsPostprocess(ctx context.Context, t *Target, mode elmmake.Mode, deps Deps) {
	t.mu.Lock()
	t.Dirty = false
	code := t.Status.Code
	argv := t.Status.PostprocessArgv
	name := t.Name
	related := t.RelatedFiles
	finalOutput := t.Output
	t.Status = Status{Kind: StatusPostprocess}
	t.mu.Unlock()

	result, perr := deps.Postprocess(ctx, code, name, mode, argv)
	if perr != nil {
		t.SetStatus(Status{Kind: StatusError, Err: perr})
		return
	}

	finishSuccess(t, finalOutput, []byte(result), related, deps)
}

func finishSuccess(t *Target, finalOutput paths.AbsolutePath, code []byte, related map[paths.AbsolutePath]struct{}, deps Deps) {
	compiledTimestamp := deps.now().UnixMilli()
	broadcastCode := string(code)

	if deps.HotMode {
		if deps.ClientCode != nil {
			broadcastCode = broadcastCode + "\n" + deps.ClientCode(t, compiledTimestamp)
			code = []byte(broadcastCode)
		}
		if deps.Identifier != nil {
			header := deps.Identifier(t).HeaderLine()
			code = append([]byte(header), code...)
		}
	}

	if err := deps.WriteOutput(finalOutput, code); err != nil {
		t.SetStatus(Status{Kind: StatusError, Err: errs.New(errs.TagWriteOutputError, "write output", err).WithPath(string(finalOutput))})
		return
	}

	t.mu.Lock()
	t.RelatedFiles = related
	t.Status = Status{Kind: StatusSuccess, FileSize: int64(len(code)), CompiledTimestamp: compiledTimestamp, Code: broadcastCode}
	t.mu.Unlock()
}

// HandleNeedsElmMakeTypecheckOnly runs `elm make --output=/dev/null` once
// for the whole group (deduplicated-by-realpath union of inputs), then
// writes a proxy file per target whose on-disk proxy is stale, per §4.I.
func HandleNeedsElmMakeTypecheckOnly(ctx context.Context, group *Group, deps Deps, proxyTemplate func(*Target) string) {
	union := dedupeInputs(group.Targets)

	compileFn := func(ctx context.Context) (struct{}, error) {
		if cerr := deps.Compile(ctx, group, elmmake.ModeStandard, union, paths.AbsolutePath(os.DevNull)); cerr != nil {
			return struct{}{}, cerr
		}
		return struct{}{}, nil
	}

	for _, t := range group.Targets {
		t.SetStatus(Status{Kind: StatusElmMakeTypecheckOnly})
	}

	walkResults := make(map[*Target]importwalker.Result, len(group.Targets))
	walkFn := func(ctx context.Context) (struct{}, error) {
		for _, t := range group.Targets {
			walkResults[t] = deps.Walk(group.SourceDirs, t.Snapshot().Inputs)
		}
		return struct{}{}, nil
	}

	_, _, compileErr := tasks.Join(ctx, compileFn, walkFn)

	for _, t := range group.Targets {
		wr := walkResults[t]
		if compileErr != nil {
			asErr, ok := compileErr.(*errs.Error)
			if !ok {
				asErr = errs.New(errs.TagOtherSpawnError, compileErr.Error(), compileErr)
			}
			t.SetStatus(Status{Kind: StatusError, Err: asErr})
			continue
		}

		id := deps.Identifier(t)
		existing, _ := deps.ReadOutput(t.Output)
		if inject.IsProxyCurrent(existing, id) {
			t.mu.Lock()
			t.RelatedFiles = wr.Related
			t.mu.Unlock()
			continue
		}

		proxy := inject.ProxyFile(proxyTemplate(t), id)
		if err := deps.WriteOutput(t.Output, []byte(proxy)); err != nil {
			t.SetStatus(Status{Kind: StatusError, Err: errs.New(errs.TagWriteProxyOutputError, "write proxy output", err).WithPath(string(t.Output))})
			continue
		}
		t.mu.Lock()
		t.RelatedFiles = wr.Related
		t.mu.Unlock()
	}
}

func dedupeInputs(targets []*Target) []paths.AbsolutePath {
	seen := make(map[paths.AbsolutePath]struct{})
	var out []paths.AbsolutePath
	for _, t := range targets {
		for _, in := range t.Snapshot().Inputs {
			real, err := paths.Realpath(in)
			if err != nil {
				real = in
			}
			if _, ok := seen[real]; ok {
				continue
			}
			seen[real] = struct{}{}
			out = append(out, in)
		}
	}
	return out
}
