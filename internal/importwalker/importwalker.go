// Package importwalker implements spec.md §4.C: given a target group's
// source directories and input files, discovers every file whose creation,
// deletion, or modification can affect that target, by recursively
// following `import Module.Name` declarations through the configured source
// directories. The directory-children caching (avoiding one exists(2) per
// candidate path) mirrors the teacher watcher's sync.Map-backed directory
// cache in wave/tooling/watcher.go.
package importwalker

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/elm-watch/elm-watch/internal/errs"
	"github.com/elm-watch/elm-watch/internal/importparser"
	"github.com/elm-watch/elm-watch/internal/paths"
)

// prefixReadSize is the fixed-size buffer used for the "synchronous read in
// fixed-size buffers" baseline I/O strategy named in §4.B.
const prefixReadSize = 2048

// Result is the outcome of a single walk.
type Result struct {
	Related map[paths.AbsolutePath]struct{}
	Err     *errs.Error // non-nil on FsError, with Related holding the partial result
}

// dirCache caches the immediate children of a source directory, computed
// once, to avoid N stat(2)/exists calls per import (§4.C step 2).
type dirCache struct {
	mu       sync.Mutex
	children map[paths.AbsolutePath]map[string]struct{}
}

func newDirCache() *dirCache {
	return &dirCache{children: make(map[paths.AbsolutePath]map[string]struct{})}
}

func (c *dirCache) childrenOf(dir paths.AbsolutePath) map[string]struct{} {
	c.mu.Lock()
	if set, ok := c.children[dir]; ok {
		c.mu.Unlock()
		return set
	}
	c.mu.Unlock()

	set := make(map[string]struct{})
	entries, err := os.ReadDir(string(dir))
	if err == nil {
		for _, e := range entries {
			name := e.Name()
			// Only the top-level path segment matters for the "cheap
			// existence hint" in step 3, so strip extensions.
			set[strings.TrimSuffix(name, filepath.Ext(name))] = struct{}{}
		}
	}

	c.mu.Lock()
	c.children[dir] = set
	c.mu.Unlock()
	return set
}

// Walk computes every related file for a target group. sourceDirs and
// inputs must both be non-empty, per spec.md §4.C's preconditions.
func Walk(sourceDirs []paths.AbsolutePath, inputs []paths.AbsolutePath) Result {
	related := make(map[paths.AbsolutePath]struct{})
	cache := newDirCache()

	// Step 1: seed with each input's realpath, plus the "shadow" paths it
	// would have in every other source directory.
	for _, input := range inputs {
		real, err := paths.Realpath(input)
		if err != nil {
			real = input
		}
		related[real] = struct{}{}

		for _, sd := range sourceDirs {
			if rel, ok := relativeUnder(sd, real); ok {
				for _, other := range sourceDirs {
					related[paths.Join(other, rel)] = struct{}{}
				}
			}
		}
	}

	visited := make(map[string]struct{})
	var walkErr *errs.Error

	var dfs func(file paths.AbsolutePath)
	dfs = func(file paths.AbsolutePath) {
		modules, err := readModulePrefix(file)
		if err != nil {
			if walkErr == nil && !os.IsNotExist(err) {
				walkErr = errs.New(errs.TagImportWalkerFileSystemError, "read import prefix", err).WithPath(string(file))
			}
			return
		}

		for _, m := range modules {
			rel := moduleRelativePath(m)
			if _, seen := visited[rel]; seen {
				continue
			}

			topSegment := strings.TrimSuffix(strings.SplitN(rel, string(filepath.Separator), 2)[0], ".elm")

			found := false
			for _, sd := range sourceDirs {
				candidate := paths.Join(sd, rel)
				related[candidate] = struct{}{}

				if _, exists := cache.childrenOf(sd)[topSegment]; exists {
					found = true
					if _, statErr := os.Stat(string(candidate)); statErr == nil {
						visited[rel] = struct{}{}
						dfs(candidate)
					}
				}
			}
			if !found {
				// Missing files are not errors (§4.C step 4): they may be
				// created later and must then trigger a rebuild. Still
				// record as visited so diamonds don't re-probe it forever.
				visited[rel] = struct{}{}
			}
		}
	}

	for _, input := range inputs {
		real, err := paths.Realpath(input)
		if err != nil {
			real = input
		}
		visited[relSelf(real)] = struct{}{}
		dfs(real)
	}

	if walkErr != nil {
		return Result{Related: related, Err: walkErr}
	}
	return Result{Related: related}
}

// relSelf builds the `visited` key recorded for an input before its walk.
// Module keys are source-directory-relative paths, so this key never equals
// one: an input that imports itself, directly or indirectly, is read once
// more under its module path, after which that path is in `visited` and the
// walk stops.
func relSelf(p paths.AbsolutePath) string {
	return "@self:" + string(p)
}

func relativeUnder(dir, file paths.AbsolutePath) (string, bool) {
	rel, err := filepath.Rel(string(dir), string(file))
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return rel, true
}

func moduleRelativePath(module string) string {
	parts := strings.Split(module, ".")
	parts[len(parts)-1] = parts[len(parts)-1] + ".elm"
	return filepath.Join(parts...)
}

func readModulePrefix(file paths.AbsolutePath) ([]string, error) {
	f, err := os.Open(string(file))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, prefixReadSize)
	p := importparser.New()

	buf := make([]byte, prefixReadSize)
	for {
		if p.IsNonImport() {
			break
		}
		n, rerr := r.Read(buf)
		for i := 0; i < n; i++ {
			if p.IsNonImport() {
				break
			}
			p.Feed(buf[i])
		}
		if rerr != nil {
			break
		}
		if n == 0 {
			break
		}
	}
	p.Finish()
	return p.Modules(), nil
}

// ShadowPaths returns, for diagnostics/tests, the set of paths an input
// would occupy across every source directory (§8 scenario 2: "Shadow
// source-dirs").
func ShadowPaths(sourceDirs []paths.AbsolutePath, input paths.AbsolutePath) ([]paths.AbsolutePath, error) {
	real, err := paths.Realpath(input)
	if err != nil {
		return nil, fmt.Errorf("importwalker: shadow paths: %w", err)
	}
	var out []paths.AbsolutePath
	for _, sd := range sourceDirs {
		if rel, ok := relativeUnder(sd, real); ok {
			for _, other := range sourceDirs {
				out = append(out, paths.Join(other, rel))
			}
			return out, nil
		}
	}
	return nil, nil
}
