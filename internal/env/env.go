// Package env centralizes the environment variables elm-watch recognizes
// (§6.5) and optional .env loading for local development, mirroring the
// teacher's config.GetIsDev/SetModeToDev pattern of thin os.Getenv wrappers
// around well-known keys.
package env

import (
	"os"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

const (
	MaxParallel           = "ELM_WATCH_MAX_PARALLEL"
	ElmTimeoutMs          = "__ELM_WATCH_ELM_TIMEOUT"
	TmpDir                = "__ELM_WATCH_TMP_DIR"
	LoadingMessageDelayMs = "__ELM_WATCH_LOADING_MESSAGE_DELAY"
	NoColor               = "NO_COLOR"
	Editor                = "EDITOR"
)

var loadOnce sync.Once

// LoadDotEnv loads a .env file from the current directory if present. It is
// a no-op (not an error) when no .env file exists, matching godotenv's own
// "optional file" convention. Safe to call multiple times; only the first
// call has effect.
func LoadDotEnv() {
	loadOnce.Do(func() {
		_ = godotenv.Load()
	})
}

// MaxParallelism returns the configured parallelism cap, defaulting to
// runtime.NumCPU() when ELM_WATCH_MAX_PARALLEL is unset or invalid.
func MaxParallelism() int {
	v := os.Getenv(MaxParallel)
	if v == "" {
		return runtime.NumCPU()
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return runtime.NumCPU()
	}
	return n
}

// ElmTimeout returns the grace period before a compiler subprocess is force
// killed (§4.F kill semantics), defaulting to 10s.
func ElmTimeout() time.Duration {
	v := os.Getenv(ElmTimeoutMs)
	if v == "" {
		return 10 * time.Second
	}
	ms, err := strconv.Atoi(v)
	if err != nil || ms < 0 {
		return 10 * time.Second
	}
	return time.Duration(ms) * time.Millisecond
}

// TempDir returns the directory used for the Install dummy module,
// defaulting to os.TempDir(). Preserved per §9: this only applies to the
// install step, never to per-target compiles.
func TempDir() string {
	if v := os.Getenv(TmpDir); v != "" {
		return v
	}
	return os.TempDir()
}

// LoadingMessageDelay returns the delay before the "installing dependencies"
// status line is shown, defaulting to 100ms. No caller in this repository
// reads it: neither elmmake.Install nor the per-target compile status lines
// consult it.
func LoadingMessageDelay() time.Duration {
	v := os.Getenv(LoadingMessageDelayMs)
	if v == "" {
		return 100 * time.Millisecond
	}
	ms, err := strconv.Atoi(v)
	if err != nil || ms < 0 {
		return 100 * time.Millisecond
	}
	return time.Duration(ms) * time.Millisecond
}

// EditorCommand returns the $EDITOR value, and whether it was set at all
// (distinguishing OpenEditorFailed{EnvNotSet} from an empty command).
func EditorCommand() (string, bool) {
	v, ok := os.LookupEnv(Editor)
	return v, ok
}
