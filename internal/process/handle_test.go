package process

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"syscall"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startShell(t *testing.T, script string, opts Options) *Handle {
	t.Helper()
	h, err := Start("sh", []string{"-c", script}, testLogger(), opts)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.SetKillTimeout(200 * time.Millisecond)
	return h
}

func TestStartMissingBinary(t *testing.T) {
	_, err := Start("/nonexistent/command", nil, testLogger(), Options{})
	if !errors.Is(err, ErrLaunch) {
		t.Errorf("Start = %v, want ErrLaunch", err)
	}
}

func TestGracefulStop(t *testing.T) {
	h := startShell(t, `trap 'exit 0' TERM; while :; do sleep 0.1; done`, Options{})
	time.Sleep(100 * time.Millisecond)

	if code := h.Stop(syscall.SIGTERM, time.Second); code != 0 {
		t.Errorf("Stop = %d, want 0", code)
	}
	if h.Running() {
		t.Error("process still running after Stop")
	}
}

func TestForceKillOnTimeout(t *testing.T) {
	h := startShell(t, `trap '' TERM; sleep 10`, Options{})
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	code := h.Stop(syscall.SIGTERM, 100*time.Millisecond)
	if code != killExitCode {
		t.Errorf("Stop = %d, want %d", code, killExitCode)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("forced kill took %v", elapsed)
	}
}

func TestStopAfterExit(t *testing.T) {
	h := startShell(t, "exit 3", Options{})

	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for exit")
	}

	if code := h.ExitCode(); code != 3 {
		t.Errorf("ExitCode = %d, want 3", code)
	}
	if code := h.Stop(syscall.SIGTERM, time.Second); code != 3 {
		t.Errorf("Stop after exit = %d, want 3", code)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	h := startShell(t, "sleep 10", Options{})
	time.Sleep(50 * time.Millisecond)

	h.Stop(syscall.SIGTERM, time.Second)
	code := h.Stop(syscall.SIGTERM, time.Second)
	if h.Running() {
		t.Error("still running after double Stop")
	}
	_ = code
}

func TestStdinPipe(t *testing.T) {
	h := startShell(t, "cat > /dev/null", Options{Stdin: true})

	if h.Stdin() == nil {
		t.Fatal("Stdin() = nil with Stdin option set")
	}
	if _, err := h.Stdin().Write([]byte("data")); err != nil {
		t.Errorf("stdin write: %v", err)
	}
	if err := h.Stdin().Close(); err != nil {
		t.Errorf("stdin close: %v", err)
	}

	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("cat did not exit after stdin close")
	}
	if code := h.ExitCode(); code != 0 {
		t.Errorf("ExitCode = %d, want 0", code)
	}
}

func TestStdinBrokenPipe(t *testing.T) {
	h := startShell(t, "exit 0", Options{Stdin: true})

	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for exit")
	}

	// Writes after child exit eventually fail with EPIPE
	var writeErr error
	for i := 0; i < 100; i++ {
		if _, writeErr = h.Stdin().Write(make([]byte, 64*1024)); writeErr != nil {
			break
		}
	}
	if writeErr == nil {
		t.Error("expected broken pipe writing to exited child")
	}
}

func TestOutputCapture(t *testing.T) {
	h := startShell(t, `echo out-line; echo err-line >&2`, Options{Output: OutputCapture})

	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for exit")
	}

	diag := h.Diagnostics()
	if !strings.Contains(diag, "out-line") || !strings.Contains(diag, "err-line") {
		t.Errorf("Diagnostics = %q, want both streams captured", diag)
	}
}

func TestOutputCaptureBounded(t *testing.T) {
	h := startShell(t, `i=0; while [ $i -lt 100 ]; do echo line$i; i=$((i+1)); done`,
		Options{Output: OutputCapture, CaptureLines: 10})

	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for exit")
	}

	if diag := h.Diagnostics(); strings.Contains(diag, "line0\n") || !strings.Contains(diag, "line99") {
		t.Errorf("capture ring not bounded correctly: %q", diag)
	}
}

func TestOutputScan(t *testing.T) {
	parsed := 0
	parser := func(line string) (string, string) {
		parsed++
		return "info", line
	}
	h := startShell(t, `echo one; echo two`, Options{Output: OutputScan, LevelParser: parser})

	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for exit")
	}
	if parsed < 2 {
		t.Errorf("parser saw %d lines, want 2", parsed)
	}
}

func TestExitCodeFromError(t *testing.T) {
	if code := exitCodeFromError(nil); code != 0 {
		t.Errorf("nil error = %d, want 0", code)
	}
	if code := exitCodeFromError(errors.New("other")); code != 1 {
		t.Errorf("generic error = %d, want 1", code)
	}
}
