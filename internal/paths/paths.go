// Package paths implements spec.md §4.A: absolute-path helpers, closest-file
// search, longest-common-ancestor, and realpath resolution. Every function
// is a pure free function of its inputs except Realpath, FindClosest, Equal
// and WriteFileAtomic, which consult the filesystem, and Resolve, which reads
// the process's working directory — the same free-function, no-receiver shape
// the teacher uses throughout wave/internal/config, with the same
// fmt.Errorf("paths: …: %w", err) wrapping idiom.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// AbsolutePath is a branded absolute, OS-native path. The brand exists only
// at the type level (a plain string underneath) so callers cannot
// accidentally pass a relative path where an absolute one is required; it
// carries no extra runtime state.
type AbsolutePath string

func (a AbsolutePath) String() string { return string(a) }

// Resolve joins base with segments and returns the cleaned absolute result.
// base itself need not be absolute; the result is made absolute against the
// process's working directory if necessary.
func Resolve(base string, segments ...string) (AbsolutePath, error) {
	all := append([]string{base}, segments...)
	joined := filepath.Join(all...)
	abs, err := filepath.Abs(joined)
	if err != nil {
		return "", fmt.Errorf("paths: resolve %q: %w", joined, err)
	}
	return AbsolutePath(filepath.Clean(abs)), nil
}

// Dirname returns the parent directory of p.
func Dirname(p AbsolutePath) AbsolutePath {
	return AbsolutePath(filepath.Dir(string(p)))
}

// Join appends segments to p.
func Join(p AbsolutePath, segments ...string) AbsolutePath {
	all := append([]string{string(p)}, segments...)
	return AbsolutePath(filepath.Join(all...))
}

// Realpath resolves symlinks and returns the canonical absolute path. It
// fails with a wrapped FsError-equivalent (the caller inspects os.IsNotExist
// etc. via errors.Is/As on the returned error, per spec.md §4.E step 1).
func Realpath(p AbsolutePath) (AbsolutePath, error) {
	resolved, err := filepath.EvalSymlinks(string(p))
	if err != nil {
		return "", fmt.Errorf("paths: realpath %q: %w", p, err)
	}
	abs, err := filepath.Abs(resolved)
	if err != nil {
		return "", fmt.Errorf("paths: realpath %q: %w", p, err)
	}
	return AbsolutePath(abs), nil
}

// FindClosest walks upward from startDir (inclusive) looking for a file
// named name, stopping at the filesystem root. Returns ("", false) if none
// is found.
func FindClosest(name string, startDir AbsolutePath) (AbsolutePath, bool) {
	dir := string(startDir)
	for {
		candidate := filepath.Join(dir, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return AbsolutePath(candidate), true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

// LongestCommonAncestor returns the deepest directory that is an ancestor of
// (or equal to) every path given. Returns ("", false) when the paths share
// no common root at all (e.g. different drive letters on Windows).
func LongestCommonAncestor(ps []AbsolutePath) (AbsolutePath, bool) {
	if len(ps) == 0 {
		return "", false
	}

	split := func(p AbsolutePath) []string {
		clean := filepath.Clean(string(p))
		vol := filepath.VolumeName(clean)
		rest := strings.TrimPrefix(clean, vol)
		rest = strings.Trim(filepath.ToSlash(rest), "/")
		parts := []string{vol}
		if rest != "" {
			parts = append(parts, strings.Split(rest, "/")...)
		}
		return parts
	}

	common := split(ps[0])
	for _, p := range ps[1:] {
		parts := split(p)
		if parts[0] != common[0] {
			return "", false
		}
		n := len(common)
		if len(parts) < n {
			n = len(parts)
		}
		i := 1
		for ; i < n; i++ {
			if common[i] != parts[i] {
				break
			}
		}
		common = common[:i]
	}

	if len(common) == 0 {
		return "", false
	}

	vol := common[0]
	rest := strings.Join(common[1:], string(filepath.Separator))
	result := vol + string(filepath.Separator) + rest
	if vol == "" {
		result = string(filepath.Separator) + rest
	}
	return AbsolutePath(filepath.Clean(result)), true
}

// WriteFileAtomic writes data to a sibling temporary file and renames it
// into place, so readers never observe a partially written output (§5
// "Output writing uses a temporary path + rename to provide atomic
// replacement").
func WriteFileAtomic(p AbsolutePath, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(string(p))
	tmp, err := os.CreateTemp(dir, ".elm-watch-tmp-*")
	if err != nil {
		return fmt.Errorf("paths: create temp file for %q: %w", p, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("paths: write temp file for %q: %w", p, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("paths: close temp file for %q: %w", p, err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("paths: chmod temp file for %q: %w", p, err)
	}
	if err := os.Rename(tmpName, string(p)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("paths: rename temp file into %q: %w", p, err)
	}
	return nil
}

// Equal reports whether two absolute paths refer to the same canonical
// location (realpath equality, per spec.md §3's duplicate-input rule).
func Equal(a, b AbsolutePath) bool {
	ra, errA := Realpath(a)
	rb, errB := Realpath(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return ra == rb
}
