package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/yuzito/camstream/internal/encoder"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeStreamer struct {
	config   encoder.StreamConfig
	running  bool
	startErr error
	restarts int
	order    *[]string
}

func (f *fakeStreamer) Start(ctx context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.running = true
	return nil
}

func (f *fakeStreamer) Stop() {
	f.running = false
	if f.order != nil {
		*f.order = append(*f.order, "streamer")
	}
}

func (f *fakeStreamer) Restart(ctx context.Context, cfg encoder.StreamConfig) error {
	f.restarts++
	if f.startErr != nil {
		return f.startErr
	}
	f.config = cfg
	f.running = true
	return nil
}

func (f *fakeStreamer) Config() encoder.StreamConfig { return f.config }
func (f *fakeStreamer) Running() bool                { return f.running }

type fakeRelay struct {
	url      string
	startErr error
	stops    int
	order    *[]string
}

func (f *fakeRelay) Start() (string, error) { return f.url, f.startErr }
func (f *fakeRelay) Stop() {
	f.stops++
	if f.order != nil {
		*f.order = append(*f.order, "relay")
	}
}

type fakeReporter struct {
	starts int
	stops  int
	order  *[]string
}

func (f *fakeReporter) Start() { f.starts++ }
func (f *fakeReporter) Stop() {
	f.stops++
	if f.order != nil {
		*f.order = append(*f.order, "reporter")
	}
}

func newTestSupervisor(streamer *fakeStreamer, rly *fakeRelay, rep *fakeReporter) *Supervisor {
	s := &Supervisor{
		logger:   testLogger(),
		settings: Settings{Destination: "rtmp://remote/live/stream"},
		streamer: streamer,
		reporter: rep,
	}
	if rly != nil {
		s.relay = rly
		s.settings.SelfHosted = true
	}
	return s
}

func TestStartWithoutRelay(t *testing.T) {
	streamer := &fakeStreamer{config: encoder.StreamConfig{Destination: "rtmp://remote/live/stream"}}
	rep := &fakeReporter{}
	s := newTestSupervisor(streamer, nil, rep)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !streamer.running {
		t.Error("streamer not started")
	}
	if streamer.config.Destination != "rtmp://remote/live/stream" {
		t.Errorf("destination = %q", streamer.config.Destination)
	}
	if rep.starts != 0 {
		t.Error("stats server started outside self-hosted mode")
	}
}

func TestRelayURLOverridesDestination(t *testing.T) {
	streamer := &fakeStreamer{config: encoder.StreamConfig{Destination: "rtmp://remote/live/stream"}}
	rly := &fakeRelay{url: "rtmp://0.0.0.0:1935/live/stream"}
	s := newTestSupervisor(streamer, rly, &fakeReporter{})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if streamer.config.Destination != "rtmp://0.0.0.0:1935/live/stream" {
		t.Errorf("destination = %q, want relay ingest URL", streamer.config.Destination)
	}
	if rep, ok := s.reporter.(*fakeReporter); !ok || rep.starts != 1 {
		t.Error("stats server not started in self-hosted mode")
	}
}

func TestRelayFailureDegradesToConfiguredDestination(t *testing.T) {
	streamer := &fakeStreamer{config: encoder.StreamConfig{Destination: "rtmp://remote/live/stream"}}
	rly := &fakeRelay{startErr: errors.New("nginx missing")}
	s := newTestSupervisor(streamer, rly, &fakeReporter{})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start should degrade, got %v", err)
	}
	if !streamer.running {
		t.Error("streamer not started in degraded mode")
	}
	if streamer.config.Destination != "rtmp://remote/live/stream" {
		t.Errorf("destination = %q, want original", streamer.config.Destination)
	}
}

func TestStreamerFailureIsFatal(t *testing.T) {
	streamer := &fakeStreamer{startErr: errors.New("camera unavailable")}
	rep := &fakeReporter{}
	s := newTestSupervisor(streamer, nil, rep)
	s.relay = nil

	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected streamer failure to propagate")
	}
	if rep.starts != 0 {
		t.Error("reporter started despite fatal streamer failure")
	}
}

func TestStopOrderAndIdempotence(t *testing.T) {
	var order []string
	streamer := &fakeStreamer{order: &order}
	rly := &fakeRelay{order: &order}
	rep := &fakeReporter{order: &order}
	s := newTestSupervisor(streamer, rly, rep)

	s.Stop()
	s.Stop()

	want := []string{"streamer", "reporter", "relay"}
	if len(order) != len(want) {
		t.Fatalf("stop calls = %v, want %v exactly once each", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("stop order = %v, want %v", order, want)
		}
	}
	if rly.stops != 1 || rep.stops != 1 {
		t.Error("components stopped more than once")
	}
}

func TestMergeStreamConfig(t *testing.T) {
	current := encoder.StreamConfig{
		Destination: "rtmp://a/live/stream",
		Width:       1280,
		Height:      720,
		FPS:         30,
		Bitrate:     "2M",
		PixelFormat: "yuv420p",
	}

	var fc fileConfig
	if got := mergeStreamConfig(current, fc); got != current {
		t.Errorf("empty file section changed config: %+v", got)
	}

	fc.Stream.Bitrate = "5M"
	fc.Stream.FPS = 60
	got := mergeStreamConfig(current, fc)
	if got.Bitrate != "5M" || got.FPS != 60 {
		t.Errorf("merge = %+v", got)
	}
	if got.Width != 1280 || got.Destination != current.Destination {
		t.Errorf("merge clobbered unset fields: %+v", got)
	}
}

func TestLoadStreamSection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `[stream]
bitrate = "4M"
width = 1920
height = 1080
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	fc, err := loadStreamSection(path)
	if err != nil {
		t.Fatalf("loadStreamSection: %v", err)
	}
	if fc.Stream.Bitrate != "4M" || fc.Stream.Width != 1920 || fc.Stream.Height != 1080 {
		t.Errorf("parsed = %+v", fc.Stream)
	}

	if _, err := loadStreamSection(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("expected error for missing file")
	}
}
