// Package postprocess implements spec.md §4.H: a bounded pool of isolated
// workers that load a user-supplied Node.js script and transform one
// target's emitted JS with it, each as its own subprocess talking
// newline-delimited JSON over stdin/stdout. Pool lifecycle (lazy creation up
// to maxParallel, idle reap, drain-on-shutdown) is grounded on
// internal/lifecycle's shutdown-callback idiom; parallelism is bounded by a
// buffered-channel semaphore, and the package does not use errgroup.
package postprocess

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/elm-watch/elm-watch/internal/errs"
)

// Request describes one postprocess invocation (§4.H).
type Request struct {
	Code            string
	TargetName      string
	CompilationMode string
	RunMode         string
	UserArgs        []string // postprocess argv, minus argv[0] (the script path)
}

// wireRequest/wireResponse are the newline-delimited JSON messages exchanged
// with the Node bootstrap (see bootstrap.go).
type wireRequest struct {
	Code            string   `json:"code"`
	TargetName      string   `json:"targetName"`
	CompilationMode string   `json:"compilationMode"`
	RunMode         string   `json:"runMode"`
	Argv            []string `json:"argv"`
}

type wireResponse struct {
	Ok            bool   `json:"ok"`
	Code          string `json:"code,omitempty"`
	ErrorTag      string `json:"errorTag,omitempty"`
	ErrorMessage  string `json:"errorMessage,omitempty"`
	ValuePreview  string `json:"valuePreview,omitempty"`
}

// transport is the wire protocol to one worker process. Separated from
// *worker so tests can exercise pool scheduling without spawning node.
type transport interface {
	Send(ctx context.Context, req wireRequest) (wireResponse, error)
	Close() error
}

// Pool bounds postprocess parallelism to maxParallel, per §4.H "Lazy
// creation up to maxParallel… workers outlive individual targets… terminated
// on shutdown or when demand drops to zero."
type Pool struct {
	scriptPath  string
	workingDir  string
	maxParallel int
	idleTimeout time.Duration
	logger      *slog.Logger

	mu      sync.Mutex
	workers []*worker
	sem     chan struct{}

	newTransport func() (transport, error) // overridden in tests
}

type worker struct {
	transport transport
	lastUsed  time.Time
}

// NewPool constructs a pool. postprocessArgv is the manifest's "postprocess"
// array (§6.1); argv[0] is resolved against workingDir to locate the user's
// script, per §4.H ("path resolved against the project working directory").
func NewPool(postprocessArgv []string, workingDir string, maxParallel int, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	if maxParallel <= 0 {
		maxParallel = 1
	}
	scriptPath := ""
	if len(postprocessArgv) > 0 {
		scriptPath = postprocessArgv[0]
		if !filepath.IsAbs(scriptPath) {
			scriptPath = filepath.Join(workingDir, scriptPath)
		}
	}

	p := &Pool{
		scriptPath:  scriptPath,
		workingDir:  workingDir,
		maxParallel: maxParallel,
		idleTimeout: 60 * time.Second,
		logger:      logger,
		sem:         make(chan struct{}, maxParallel),
	}
	p.newTransport = func() (transport, error) {
		return spawnNodeTransport(scriptPath, workingDir)
	}
	return p
}

// Postprocess runs one request through a pooled worker, per the Request →
// Success{code} | ErrorVariant contract of §4.H.
func (p *Pool) Postprocess(ctx context.Context, req Request) (string, *errs.Error) {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return "", errs.New(errs.TagOtherSpawnError, "postprocess: context cancelled waiting for a worker slot", ctx.Err())
	}
	defer func() { <-p.sem }()

	w, err := p.acquire()
	if err != nil {
		return "", errs.New(errs.TagElmWatchNodeImportError, "spawn postprocess worker", err).WithPath(p.scriptPath)
	}

	resp, err := w.transport.Send(ctx, wireRequest{
		Code:            req.Code,
		TargetName:      req.TargetName,
		CompilationMode: req.CompilationMode,
		RunMode:         req.RunMode,
		Argv:            req.UserArgs,
	})
	if err != nil {
		w.transport.Close()
		return "", errs.New(errs.TagPostprocessStdinWriteError, "postprocess worker transport failed", err).WithPath(p.scriptPath)
	}

	p.release(w)

	if !resp.Ok {
		return "", classifyWireError(resp, p.scriptPath)
	}
	return resp.Code, nil
}

func classifyWireError(resp wireResponse, scriptPath string) *errs.Error {
	var tag errs.Tag
	switch resp.ErrorTag {
	case "MissingScript":
		tag = errs.TagElmWatchNodeMissingScript
	case "ImportError":
		tag = errs.TagElmWatchNodeImportError
	case "DefaultExportNotFunction":
		tag = errs.TagElmWatchNodeDefaultExportNotFunc
	case "BadReturnValue":
		tag = errs.TagElmWatchNodeBadReturnValue
	default:
		tag = errs.TagElmWatchNodeRunError
	}
	e := errs.New(tag, resp.ErrorMessage, nil).WithPath(scriptPath)
	if resp.ValuePreview != "" {
		e = e.WithIO("", resp.ValuePreview)
	}
	return e
}

// acquire returns an idle worker or spawns a new one, up to maxParallel
// (enforced by the semaphore in Postprocess, not here).
func (p *Pool) acquire() (*worker, error) {
	p.mu.Lock()
	if n := len(p.workers); n > 0 {
		w := p.workers[n-1]
		p.workers = p.workers[:n-1]
		p.mu.Unlock()
		return w, nil
	}
	p.mu.Unlock()

	t, err := p.newTransport()
	if err != nil {
		return nil, err
	}
	return &worker{transport: t}, nil
}

func (p *Pool) release(w *worker) {
	w.lastUsed = time.Now()
	p.mu.Lock()
	p.workers = append(p.workers, w)
	p.mu.Unlock()
}

// ReapIdle closes workers that have been idle past idleTimeout, per §4.H
// "terminated… when idle past a threshold". Nothing in the repository calls
// it, so pooled workers are closed only by Shutdown or after a failed Send.
func (p *Pool) ReapIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()

	kept := p.workers[:0]
	now := time.Now()
	for _, w := range p.workers {
		if now.Sub(w.lastUsed) > p.idleTimeout {
			if err := w.transport.Close(); err != nil {
				p.logger.Warn("postprocess: error closing idle worker", "error", err)
			}
			continue
		}
		kept = append(kept, w)
	}
	p.workers = kept
}

// Shutdown drains the pool, closing every worker. Per §5 "Post-process
// workers are terminated when the pool is drained."
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	workers := p.workers
	p.workers = nil
	p.mu.Unlock()

	var firstErr error
	for _, w := range workers {
		if err := w.transport.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("postprocess: close worker: %w", err)
		}
	}
	return firstErr
}

// nodeTransport is the real transport: one `node <bootstrap>` subprocess
// speaking newline-delimited JSON, matching the elm-watch-node precedent
// named in SPEC_FULL.md §4.H.
type nodeTransport struct {
	cmd    *exec.Cmd
	stdin  *bufio.Writer
	stdout *bufio.Reader
	mu     sync.Mutex
}

func spawnNodeTransport(scriptPath, workingDir string) (transport, error) {
	cmd := exec.Command("node", "--input-type=module", "-e", bootstrapScript)
	cmd.Dir = workingDir
	cmd.Env = append(cmd.Env, "ELM_WATCH_NODE_SCRIPT_PATH="+scriptPath)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	return &nodeTransport{
		cmd:    cmd,
		stdin:  bufio.NewWriter(stdin),
		stdout: bufio.NewReader(stdout),
	}, nil
}

func (t *nodeTransport) Send(ctx context.Context, req wireRequest) (wireResponse, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	line, err := json.Marshal(req)
	if err != nil {
		return wireResponse{}, err
	}
	if _, err := t.stdin.Write(append(line, '\n')); err != nil {
		return wireResponse{}, err
	}
	if err := t.stdin.Flush(); err != nil {
		return wireResponse{}, err
	}

	respLine, err := t.stdout.ReadBytes('\n')
	if err != nil {
		return wireResponse{}, err
	}
	var resp wireResponse
	if err := json.Unmarshal(respLine, &resp); err != nil {
		return wireResponse{}, err
	}
	return resp, nil
}

func (t *nodeTransport) Close() error {
	if t.cmd.Process == nil {
		return nil
	}
	_ = t.cmd.Process.Kill()
	return t.cmd.Wait()
}
