// Package lifecycle manages process startup/shutdown orchestration: signal
// handling for the hot server's main loop, and grace-period termination of
// spawned child processes (the external compiler, post-process workers).
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/elm-watch/elm-watch/internal/logging"
)

func defaultSignals() []os.Signal {
	if runtime.GOOS == "windows" {
		return []os.Signal{os.Interrupt}
	}
	return []os.Signal{syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT}
}

// OrchestrateOptions configures Orchestrate.
type OrchestrateOptions struct {
	ShutdownTimeout time.Duration // Default: 30 seconds
	Signals         []os.Signal   // Default: SIGHUP, SIGINT, SIGTERM, SIGQUIT
	Logger          *slog.Logger  // Default: os.Stdout

	// StartupCallback runs the hot server's main loop. It should block until
	// the server is ready to shut down. Return an error instead of calling
	// os.Exit/log.Fatal.
	StartupCallback func() error

	// ShutdownCallback runs cleanup (stop watcher, drain post-process pool,
	// kill in-flight compiler processes). The context has a deadline based
	// on ShutdownTimeout.
	ShutdownCallback func(context.Context) error
}

// Orchestrate manages the core process lifecycle for `elm-watch hot`:
// startup, signal-triggered shutdown, and bounded cleanup.
func Orchestrate(options OrchestrateOptions) {
	if options.Logger == nil {
		options.Logger = newDefaultLogger()
	}
	if options.ShutdownTimeout == 0 {
		options.ShutdownTimeout = 30 * time.Second
	}
	if len(options.Signals) == 0 {
		options.Signals = defaultSignals()
	}

	ctx, stopCtx := context.WithCancel(context.Background())
	defer stopCtx()

	sig := make(chan os.Signal, 2)
	signal.Notify(sig, options.Signals...)
	defer signal.Stop(sig)

	cleanup := make(chan struct{})

	go func() {
		select {
		case receivedSignal := <-sig:
			options.Logger.Info("shutdown: signal received, initiating graceful shutdown", "signal", receivedSignal)
		case <-ctx.Done():
			options.Logger.Info("shutdown: initiating graceful shutdown due to startup failure")
		}

		shutdownCtx, cancelCtx := context.WithTimeout(context.Background(), options.ShutdownTimeout)
		defer cancelCtx()

		if options.ShutdownCallback != nil {
			if err := options.ShutdownCallback(shutdownCtx); err != nil {
				options.Logger.Error("shutdown: cleanup error", "error", err)
			}
		}

		if shutdownCtx.Err() == context.DeadlineExceeded {
			options.Logger.Warn("shutdown: graceful shutdown timed out, forcing exit")
		}

		close(cleanup)
	}()

	if options.StartupCallback != nil {
		if err := options.StartupCallback(); err != nil {
			options.Logger.Error("startup: error", "error", err)
			stopCtx()
			<-cleanup
			return
		}
	}

	<-cleanup
}

// TerminateProcess sends an interrupt/terminate signal, then waits up to
// timeToWait before force-killing. Used by internal/elmmake to implement the
// compiler driver's graceful kill (§4.F: "kill() enforces a minimum run
// time… earlier calls are delayed so the child is not interrupted during its
// JSON-output flush").
func TerminateProcess(process *os.Process, timeToWait time.Duration, logger *slog.Logger) error {
	if logger == nil {
		logger = newDefaultLogger()
	}

	var err error
	if runtime.GOOS == "windows" {
		err = process.Kill()
	} else {
		err = process.Signal(syscall.SIGTERM)
	}
	if err != nil {
		return fmt.Errorf("lifecycle: send termination signal: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := process.Wait()
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("lifecycle: process exited with error: %w", err)
		}
		return nil
	case <-time.After(timeToWait):
		if err := process.Kill(); err != nil {
			return fmt.Errorf("lifecycle: failed to kill process after timeout: %w", err)
		}
		logger.Warn("lifecycle: process killed after timeout", "pid", process.Pid, "timeout", timeToWait)
		return nil
	}
}

func newDefaultLogger() *slog.Logger {
	return logging.New("lifecycle")
}
