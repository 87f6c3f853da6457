// Package process manages the lifecycle of child processes: spawning
// with optional stdin piping, output handling, and graceful stop with a
// bounded force-kill escalation.
package process

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// ErrLaunch indicates the subprocess could not be started.
var ErrLaunch = errors.New("failed to launch process")

// killExitCode is reported when a process had to be force-killed
// (128 + SIGKILL).
const killExitCode = 137

// defaultKillTimeout bounds the wait after SIGKILL before giving up.
const defaultKillTimeout = 5 * time.Second

// defaultCaptureLines bounds retained diagnostic output.
const defaultCaptureLines = 50

// OutputMode selects what happens to the child's stdout/stderr.
type OutputMode int

const (
	// OutputDiscard routes both streams to /dev/null.
	OutputDiscard OutputMode = iota
	// OutputScan forwards each line to a logger, optionally classified
	// by a LevelParser.
	OutputScan
	// OutputCapture retains the last lines for post-mortem diagnostics.
	OutputCapture
)

// LevelParser extracts a log level and message from a process output
// line (used with OutputScan).
type LevelParser func(line string) (level, msg string)

// Options configures how a subprocess is spawned.
type Options struct {
	Stdin        bool         // pipe stdin, exposed via Handle.Stdin
	Output       OutputMode   // default OutputDiscard
	OutputLogger *slog.Logger // logger for OutputScan (nil = handle logger)
	LevelParser  LevelParser  // optional level classification for OutputScan
	CaptureLines int          // ring size for OutputCapture (default 50)
}

// Handle supervises one running subprocess. Owned exclusively by the
// component that spawned it.
type Handle struct {
	name   string
	cmd    *exec.Cmd
	logger *slog.Logger

	stdin       io.WriteCloser
	killTimeout time.Duration

	waitDone chan struct{}
	waitErr  error

	mu       sync.Mutex
	captured []string
	stopped  bool
}

// Start spawns the subprocess in its own process group and begins
// supervising it. Fails with a wrapped ErrLaunch if the spawn fails.
func Start(name string, args []string, logger *slog.Logger, opts Options) (*Handle, error) {
	cmd := exec.Command(name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	h := &Handle{
		name:        name,
		cmd:         cmd,
		logger:      logger,
		killTimeout: defaultKillTimeout,
		waitDone:    make(chan struct{}),
	}

	if opts.Stdin {
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("%w: stdin pipe: %v", ErrLaunch, err)
		}
		h.stdin = stdin
	}

	var outputWG sync.WaitGroup
	switch opts.Output {
	case OutputDiscard:
		cmd.Stdout = nil
		cmd.Stderr = nil

	case OutputScan:
		scanLogger := opts.OutputLogger
		if scanLogger == nil {
			scanLogger = logger
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("%w: stdout pipe: %v", ErrLaunch, err)
		}
		stderr, err := cmd.StderrPipe()
		if err != nil {
			return nil, fmt.Errorf("%w: stderr pipe: %v", ErrLaunch, err)
		}
		outputWG.Add(2)
		go func() {
			defer outputWG.Done()
			h.scanInto(stdout, scanLogger, opts.LevelParser)
		}()
		go func() {
			defer outputWG.Done()
			h.scanInto(stderr, scanLogger, opts.LevelParser)
		}()

	case OutputCapture:
		limit := opts.CaptureLines
		if limit <= 0 {
			limit = defaultCaptureLines
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("%w: stdout pipe: %v", ErrLaunch, err)
		}
		stderr, err := cmd.StderrPipe()
		if err != nil {
			return nil, fmt.Errorf("%w: stderr pipe: %v", ErrLaunch, err)
		}
		outputWG.Add(2)
		go func() {
			defer outputWG.Done()
			h.captureInto(stdout, limit)
		}()
		go func() {
			defer outputWG.Done()
			h.captureInto(stderr, limit)
		}()
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLaunch, name, err)
	}

	logger.Info("Process started", "name", name, "pid", cmd.Process.Pid)

	go func() {
		outputWG.Wait()
		h.waitErr = cmd.Wait()
		close(h.waitDone)
	}()

	return h, nil
}

// Pid returns the OS process identifier.
func (h *Handle) Pid() int {
	return h.cmd.Process.Pid
}

// Stdin returns the write end of the child's stdin pipe, or nil if the
// handle was started without one.
func (h *Handle) Stdin() io.WriteCloser {
	return h.stdin
}

// Running reports whether the subprocess has not yet exited.
func (h *Handle) Running() bool {
	select {
	case <-h.waitDone:
		return false
	default:
		return true
	}
}

// Done is closed once the subprocess has exited and its output streams
// are drained.
func (h *Handle) Done() <-chan struct{} {
	return h.waitDone
}

// ExitCode returns the subprocess exit code. Valid only after Done.
func (h *Handle) ExitCode() int {
	return exitCodeFromError(h.waitErr)
}

// Diagnostics returns captured output lines (OutputCapture mode),
// newest last.
func (h *Handle) Diagnostics() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return strings.Join(h.captured, "\n")
}

// SetKillTimeout overrides the bounded wait after SIGKILL. Used by tests.
func (h *Handle) SetKillTimeout(d time.Duration) {
	h.killTimeout = d
}

// Stop sends sig, waits up to graceful for exit, and force-kills on
// timeout. Returns the exit code (137 when killed). Idempotent; calling
// Stop on an exited process returns its exit code immediately.
func (h *Handle) Stop(sig syscall.Signal, graceful time.Duration) int {
	h.mu.Lock()
	alreadyStopped := h.stopped
	h.stopped = true
	h.mu.Unlock()

	if !h.Running() {
		return h.ExitCode()
	}

	if !alreadyStopped {
		h.logger.Info("Stopping process", "name", h.name, "pid", h.Pid(), "signal", sig.String())
		if err := h.cmd.Process.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
			h.logger.Warn("Failed to signal process", "error", err)
		}
	}

	select {
	case <-h.waitDone:
		return h.ExitCode()
	case <-time.After(graceful):
		h.logger.Warn("Graceful shutdown timeout, forcing kill", "name", h.name, "timeout", graceful)
		if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			h.logger.Error("Failed to kill process", "error", err)
		}
		select {
		case <-h.waitDone:
		case <-time.After(h.killTimeout):
			h.logger.Error("Process did not exit after kill signal", "name", h.name)
		}
		return killExitCode
	}
}

// scanInto streams output lines into a logger, classified by the parser
// when one is configured.
func (h *Handle) scanInto(reader io.Reader, logger *slog.Logger, parser LevelParser) {
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		line := scanner.Text()

		level, msg := "info", line
		if parser != nil {
			level, msg = parser(line)
		}

		switch level {
		case "fatal", "error":
			logger.Error(msg)
		case "warning":
			logger.Warn(msg)
		case "debug", "trace":
			logger.Debug(msg)
		default:
			logger.Info(msg)
		}
	}
}

// captureInto retains the last limit lines of output for diagnostics.
func (h *Handle) captureInto(reader io.Reader, limit int) {
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		h.mu.Lock()
		h.captured = append(h.captured, scanner.Text())
		if len(h.captured) > limit {
			h.captured = h.captured[len(h.captured)-limit:]
		}
		h.mu.Unlock()
	}
}

// exitCodeFromError extracts an exit code from a Wait error: 0 for nil,
// the code for ExitError, 1 otherwise.
func exitCodeFromError(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}
