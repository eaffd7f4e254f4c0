// Command elm-watch is the CLI boundary of spec.md §6.6: it parses the
// `make`/`hot`/`init` subcommands and the `--debug`/`--optimize` flags, then
// drives internal/project, internal/scheduler, internal/orchestrator,
// internal/hotserver and internal/watcher to do the actual work. Flag
// parsing and help text are explicitly out of core (§1): this file is
// deliberately thin, modeled on the teacher's BuildWaveWithHook
// (wave/tooling/cli.go) for the flag-then-dispatch shape and on its
// site/backend/cmd/serve main.go for the grace.Orchestrate-driven HTTP
// server lifecycle.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/elm-watch/elm-watch/internal/elmmake"
	"github.com/elm-watch/elm-watch/internal/env"
	"github.com/elm-watch/elm-watch/internal/errs"
	"github.com/elm-watch/elm-watch/internal/hotserver"
	"github.com/elm-watch/elm-watch/internal/importwalker"
	"github.com/elm-watch/elm-watch/internal/inject"
	"github.com/elm-watch/elm-watch/internal/lifecycle"
	"github.com/elm-watch/elm-watch/internal/logging"
	"github.com/elm-watch/elm-watch/internal/manifest"
	"github.com/elm-watch/elm-watch/internal/orchestrator"
	"github.com/elm-watch/elm-watch/internal/paths"
	"github.com/elm-watch/elm-watch/internal/postprocess"
	"github.com/elm-watch/elm-watch/internal/project"
	"github.com/elm-watch/elm-watch/internal/scheduler"
	"github.com/elm-watch/elm-watch/internal/state"
	"github.com/elm-watch/elm-watch/internal/statusline"
	"github.com/elm-watch/elm-watch/internal/watcher"
)

// version is the elm-watch protocol/version string sent in the hot-reload
// identifier header (§6.3) and checked against the client's
// elmWatchVersion query parameter (§6.4). The CLI's own --version flag and
// release process are out of core; this is a fixed development value.
const version = "1.0.0-dev"

const manifestFileName = "elm-watch.json"
const defaultPort = 8000

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: elm-watch make|hot|init [targets...] [--debug|--optimize]")
		os.Exit(1)
	}

	command := os.Args[1]
	rest := os.Args[2:]

	switch command {
	case "init":
		runInit()
	case "make":
		os.Exit(runMake(rest))
	case "hot":
		runHot(rest)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", command)
		os.Exit(1)
	}
}

// cliFlags is the minimal flag/positional-argument shape named in §6.6;
// the full parser (error prose, --help, etc.) is out of core.
type cliFlags struct {
	debug    bool
	optimize bool
	targets  []string
}

func parseFlags(args []string) (cliFlags, error) {
	fs := flag.NewFlagSet("elm-watch", flag.ContinueOnError)
	debug := fs.Bool("debug", false, "compile in debug mode")
	optimize := fs.Bool("optimize", false, "compile in optimize mode")
	if err := fs.Parse(args); err != nil {
		return cliFlags{}, err
	}
	if *debug && *optimize {
		return cliFlags{}, fmt.Errorf("--debug and --optimize are mutually exclusive")
	}
	return cliFlags{debug: *debug, optimize: *optimize, targets: fs.Args()}, nil
}

// enabledFilter reduces the CLI's positional target arguments to the single
// substring project.Resolve accepts. Multiple target arguments narrowing to
// an intersection, and exact (non-substring) matching, are CLI-parser
// niceties out of core per §1; zero or one argument covers the common case.
func enabledFilter(targets []string) string {
	if len(targets) == 0 {
		return ""
	}
	return targets[0]
}

func runInit() {
	schema := manifest.ProjectManifestSchema()
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, "init: encode schema:", err)
		os.Exit(1)
	}
	// Scaffolding elm-watch.json itself (prompting for targets, writing a
	// starter file) is out of core per §1; we only expose the schema
	// companion file `init` would write alongside it.
	fmt.Println(string(data))
}

func runMake(args []string) int {
	flags, err := parseFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "make:", err)
		return 1
	}

	env.LoadDotEnv()
	logger := logging.New("make")

	cwd, err := os.Getwd()
	if err != nil {
		logger.Error("getwd", "error", err)
		return 1
	}

	loaded, ppErr := loadProject(cwd, flags)
	if ppErr != nil {
		logger.Error(ppErr.Error(), "tag", ppErr.Tag())
		return 1
	}
	for _, name := range loaded.proj.DisabledTargets {
		logger.Info("target disabled by filter", "target", name)
	}

	maxParallel := env.MaxParallelism()
	deps, pool := buildDeps(buildDepsOptions{
		logger:      logger,
		hotMode:     false,
		workingDir:  cwd,
		postprocess: loaded.pm.Postprocess,
		maxParallel: maxParallel,
	})
	defer drainPool(pool)

	orch := orchestrator.New(loaded.groups, scheduler.RunModeMake, maxParallel, deps, nil, statusline.NopReporter{})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()
	if err := orch.RunUntilIdle(ctx); err != nil {
		logger.Error("make: run did not complete", "error", err)
		return 1
	}

	exitCode := 0
	for _, g := range loaded.groups {
		for _, t := range g.Targets {
			snap := t.Snapshot()
			switch snap.Status.Kind {
			case scheduler.StatusSuccess:
				logger.Info("compiled", "target", t.Name, "bytes", snap.Status.FileSize)
			case scheduler.StatusError:
				logger.Error("failed", "target", t.Name, "error", snap.Status.Err)
				exitCode = 1
			default:
				logger.Warn("stuck in non-terminal status at end of make", "target", t.Name, "status", snap.Status.Kind.String(),
					"tag", errs.TagStuckInProgressState)
				exitCode = 1
			}
		}
	}
	return exitCode
}

func runHot(args []string) {
	flags, err := parseFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "hot:", err)
		os.Exit(1)
	}
	if flags.debug {
		fmt.Fprintln(os.Stderr, "hot: --debug is not allowed in hot mode (§6.6)")
		os.Exit(1)
	}

	env.LoadDotEnv()
	logger := logging.New("hot")

	cwd, err := os.Getwd()
	if err != nil {
		logger.Error("getwd", "error", err)
		os.Exit(1)
	}

	loaded, ppErr := loadProject(cwd, flags)
	if ppErr != nil {
		logger.Error(ppErr.Error(), "tag", ppErr.Tag())
		os.Exit(1)
	}
	groups := loaded.groups

	statePath := state.Path(loaded.proj.WatchRoot)
	stuff, _ := state.Load(statePath)
	for _, g := range groups {
		for _, t := range g.Targets {
			if saved, ok := stuff.Targets[t.Name]; ok {
				if saved.CompilationMode != "" {
					t.CompilationMode = elmmake.Mode(saved.CompilationMode)
				}
				t.BrowserUIPosition = saved.BrowserUIPosition
			}
		}
	}

	token := mintToken()
	port := defaultPort
	if loaded.pm.Port != 0 {
		port = loaded.pm.Port
	}

	maxParallel := env.MaxParallelism()

	var targetNames []string
	for _, g := range groups {
		for _, t := range g.Targets {
			targetNames = append(targetNames, t.Name)
		}
	}

	server := hotserver.NewServer(logger, version, token, targetNames)

	deps, pool := buildDeps(buildDepsOptions{
		logger:      logger,
		hotMode:     true,
		workingDir:  cwd,
		postprocess: loaded.pm.Postprocess,
		maxParallel: maxParallel,
		port:        port,
		token:       token,
	})
	defer drainPool(pool)

	proxyTemplate := func(t *scheduler.Target) string {
		return inject.ClientCode(hotserver.ClientTemplate(), t.Name, 0, injectMode(t.CompilationMode), t.BrowserUIPosition, port, token, t.CompilationMode == elmmake.ModeDebug)
	}

	reporter := statusline.NopReporter{}
	orch := orchestrator.New(groups, scheduler.RunModeHot, maxParallel, deps, proxyTemplate, reporter)
	orch.SetStatusHook(func(t *scheduler.Target, status scheduler.Status) {
		switch status.Kind {
		case scheduler.StatusSuccess:
			if status.Code != "" {
				server.BroadcastCompileResult(t.Name, status.Code, status.CompiledTimestamp, string(t.CompilationMode), t.BrowserUIPosition)
			}
			server.BroadcastStatusChanged(t.Name, hotserver.StatusPayload{Kind: "Success"})
		case scheduler.StatusError:
			msg := ""
			if status.Err != nil {
				msg = status.Err.Error()
			}
			server.BroadcastStatusChanged(t.Name, hotserver.StatusPayload{Kind: "CompileError", Message: msg})
		case scheduler.StatusElmMake, scheduler.StatusElmMakeTypecheckOnly, scheduler.StatusPostprocess:
			server.BroadcastStatusChanged(t.Name, hotserver.StatusPayload{Kind: status.Kind.String()})
		}
		saveState(statePath, groups)
	})

	fsWatcher, err := watcher.New(logger, nil)
	if err != nil {
		logger.Error("watcher: init", "error", err)
		os.Exit(1)
	}
	if err := fsWatcher.AddDir(string(loaded.proj.WatchRoot)); err != nil {
		logger.Error("watcher: watch root", "error", err, "root", loaded.proj.WatchRoot)
	}

	debouncer := watcher.NewDebouncer(10*time.Millisecond, func(events []fsnotify.Event) {
		watcher.Dispatch(logger, groups, events)
		orch.Kick()
	})

	ctx, cancel := context.WithCancel(context.Background())
	go watchLoop(ctx, logger, fsWatcher, debouncer)
	go orch.RunForever(ctx)

	mux := http.NewServeMux()
	mux.Handle("/", server.Handler())
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	server.Start(ctx)

	lifecycle.Orchestrate(lifecycle.OrchestrateOptions{
		Logger: logger,
		StartupCallback: func() error {
			logger.Info("hot: listening", "port", port, "watchRoot", loaded.proj.WatchRoot)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		},
		ShutdownCallback: func(shutdownCtx context.Context) error {
			cancel()
			server.Stop()
			_ = fsWatcher.Close()
			debouncer.Stop()
			if pool != nil {
				_ = pool.Shutdown(shutdownCtx)
			}
			return httpServer.Shutdown(shutdownCtx)
		},
	})
}

// watchLoop pumps fsnotify events (filtered through Relevant/IsSelfWrite)
// into the debouncer until ctx is cancelled, per §4.K.
func watchLoop(ctx context.Context, logger *slog.Logger, w *watcher.Watcher, d *watcher.Debouncer) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-w.Events():
			if !ok {
				return
			}
			if w.IsSelfWrite(evt.Name) {
				continue
			}
			if !w.Relevant(evt) {
				continue
			}
			d.Add(evt)
		case err, ok := <-w.Errors():
			if !ok {
				return
			}
			logger.Warn("watcher error", "error", err)
		}
	}
}

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

func mintToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func saveState(path paths.AbsolutePath, groups []*scheduler.Group) {
	s := &state.Stuff{Targets: map[string]state.TargetState{}}
	for _, g := range groups {
		for _, t := range g.Targets {
			snap := t.Snapshot()
			s.Targets[t.Name] = state.TargetState{
				CompilationMode:   string(snap.CompilationMode),
				BrowserUIPosition: snap.BrowserUIPosition,
			}
		}
	}
	_ = state.Save(path, s)
}

// loadedProject bundles the manifest/project resolution results `make` and
// `hot` both need.
type loadedProject struct {
	pm     *manifest.ProjectManifest
	proj   *project.Project
	groups []*scheduler.Group
}

// loadProject reads and resolves the project manifest into scheduler
// groups, reading each group's governing package manifest to compute its
// source directories (§4.E, §4.I).
func loadProject(cwd string, flags cliFlags) (*loadedProject, *errs.Error) {
	manifestPath, found := paths.FindClosest(manifestFileName, paths.AbsolutePath(cwd))
	if !found {
		return nil, errs.New(errs.TagProjectManifestNotFound, "no "+manifestFileName+" found above "+cwd, nil).WithPath(cwd)
	}

	pm, perr := manifest.ReadProjectManifest(string(manifestPath))
	if perr != nil {
		return nil, perr
	}

	proj, rerr := project.Resolve(manifestPath, pm, enabledFilter(flags.targets))
	if rerr != nil {
		return nil, rerr
	}

	mode := elmmake.ModeStandard
	switch {
	case flags.debug:
		mode = elmmake.ModeDebug
	case flags.optimize:
		mode = elmmake.ModeOptimize
	}

	var groups []*scheduler.Group
	for _, tg := range proj.TargetGroups {
		pkgManifest, mErr := manifest.ReadPackageManifest(string(tg.PackageManifestPath))
		if mErr != nil {
			return nil, mErr
		}

		packageDir := paths.Dirname(tg.PackageManifestPath)
		var sourceDirs []paths.AbsolutePath
		for _, sd := range pkgManifest.SourceDirs() {
			sourceDirs = append(sourceDirs, paths.Join(packageDir, sd))
		}

		group := &scheduler.Group{
			Key:             tg.PackageManifestPath,
			PackageManifest: tg.PackageManifestPath,
			SourceDirs:      sourceDirs,
		}
		for _, rt := range tg.Targets {
			target := scheduler.NewTarget(rt, pm.Postprocess)
			target.CompilationMode = mode
			group.Targets = append(group.Targets, target)
		}
		groups = append(groups, group)
	}

	return &loadedProject{pm: pm, proj: proj, groups: groups}, nil
}

type buildDepsOptions struct {
	logger      *slog.Logger
	hotMode     bool
	workingDir  string
	postprocess []string
	maxParallel int
	port        int
	token       string
}

// buildDeps wires scheduler.Deps's collaborator functions to the real
// elmmake/importwalker/postprocess/inject implementations. Returns the
// postprocess.Pool too (nil if the project has no postprocess configured)
// so the caller can drain it on shutdown.
func buildDeps(opts buildDepsOptions) (scheduler.Deps, *postprocess.Pool) {
	var pool *postprocess.Pool
	if len(opts.postprocess) > 0 {
		pool = postprocess.NewPool(opts.postprocess, opts.workingDir, opts.maxParallel, opts.logger)
	}

	postprocessFn := func(ctx context.Context, code, targetName string, mode elmmake.Mode, argv []string) (string, *errs.Error) {
		if pool == nil {
			return code, nil
		}
		runMode := "make"
		if opts.hotMode {
			runMode = "hot"
		}
		userArgs := argv
		if len(userArgs) > 0 {
			userArgs = userArgs[1:]
		}
		return pool.Postprocess(ctx, postprocess.Request{
			Code:            code,
			TargetName:      targetName,
			CompilationMode: string(mode),
			RunMode:         runMode,
			UserArgs:        userArgs,
		})
	}

	compileFn := func(ctx context.Context, group *scheduler.Group, mode elmmake.Mode, inputs []paths.AbsolutePath, outputPath paths.AbsolutePath) *errs.Error {
		run, err := elmmake.Make(ctx, elmmake.Request{
			PackageManifestPath: group.PackageManifest,
			Mode:                mode,
			Inputs:              inputs,
			OutputPath:          outputPath,
			Logger:              opts.logger,
		})
		if err != nil {
			return err
		}
		return run.Wait()
	}

	walkFn := func(sourceDirs []paths.AbsolutePath, inputs []paths.AbsolutePath) importwalker.Result {
		return importwalker.Walk(sourceDirs, inputs)
	}

	deps := scheduler.Deps{
		Compile:       compileFn,
		Walk:          walkFn,
		ReadOutput:    func(p paths.AbsolutePath) ([]byte, error) { return os.ReadFile(string(p)) },
		WriteOutput:   func(p paths.AbsolutePath, data []byte) error { return paths.WriteFileAtomic(p, data, 0o644) },
		Postprocess:   postprocessFn,
		HotMode:       opts.hotMode,
		TempSuffix:    ".elm-watch-tmp",
		DiagnosticDir: opts.workingDir,
		Logger:        opts.logger,
	}

	if opts.hotMode {
		port, token := opts.port, opts.token
		deps.Identifier = func(t *scheduler.Target) inject.Identifier {
			return inject.Identifier{Version: version, TargetName: t.Name, WebSocketPort: port, WebSocketToken: token}
		}
		deps.ClientCode = func(t *scheduler.Target, compiledTimestamp int64) string {
			return inject.ClientCode(hotserver.ClientTemplate(), t.Name, compiledTimestamp, injectMode(t.CompilationMode), t.BrowserUIPosition, port, token, t.CompilationMode == elmmake.ModeDebug)
		}
	}

	return deps, pool
}

func drainPool(pool *postprocess.Pool) {
	if pool == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = pool.Shutdown(ctx)
}
