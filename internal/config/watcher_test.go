package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWatcherNotifiesOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "streams.toml")
	if err := os.WriteFile(path, []byte("a = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	loaded := make(chan string, 1)
	loader := func(p string) (string, error) {
		data, err := os.ReadFile(p)
		return string(data), err
	}

	w := NewWatcher(path, loader, testLogger(), WithDebounce[string](50*time.Millisecond))
	w.OnReload(func(content string) {
		select {
		case loaded <- content:
		default:
		}
	})

	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = w.Stop() }()

	if err := os.WriteFile(path, []byte("a = 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case content := <-loaded:
		if content != "a = 2\n" {
			t.Errorf("handler received %q, want fresh content", content)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for reload notification")
	}
}

func TestWatcherStartMissingFile(t *testing.T) {
	w := NewWatcher("/nonexistent/streams.toml", func(string) (int, error) { return 0, nil }, testLogger())
	if err := w.Start(); err == nil {
		_ = w.Stop()
		t.Error("expected error watching a missing file")
	}
}

func TestWatcherStopBeforeStart(t *testing.T) {
	w := NewWatcher("whatever", func(string) (int, error) { return 0, nil }, testLogger())
	if err := w.Stop(); err != nil {
		t.Errorf("Stop before Start: %v", err)
	}
}
