package status

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yuzito/camstream/internal/camera"
	"github.com/yuzito/camstream/internal/encoder"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStreamer() *encoder.Streamer {
	src := camera.NewTestSource(1280, 720, 30)
	return encoder.New(encoder.StreamConfig{
		Destination: "rtmp://localhost:1935/live/stream",
		Width:       1280,
		Height:      720,
		FPS:         30,
		Bitrate:     "2M",
		PixelFormat: "yuv420p",
	}, src, testLogger())
}

func get(t *testing.T, handler http.Handler, path string) (*http.Response, string) {
	t.Helper()
	srv := httptest.NewServer(handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	return resp, string(body)
}

func TestStatsWithStreamer(t *testing.T) {
	r := NewReporter("127.0.0.1:0", newTestStreamer(), testLogger())
	resp, body := get(t, r.Handler(), "/live/stats")

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}

	var data StatsData
	if err := json.Unmarshal([]byte(body), &data); err != nil {
		t.Fatalf("decoding body: %v", err)
	}

	if data.Status != "inactive" {
		t.Errorf("status = %q, want inactive for a stopped streamer", data.Status)
	}
	if data.Stream.Resolution != "1280x720" {
		t.Errorf("resolution = %q", data.Stream.Resolution)
	}
	if data.Stream.FPS != 30 {
		t.Errorf("fps = %d", data.Stream.FPS)
	}
	if data.Stream.URL != "rtmp://localhost:1935/live/stream" {
		t.Errorf("url = %q", data.Stream.URL)
	}
	if data.StartedAt == "" || data.Uptime == "" {
		t.Error("missing uptime fields")
	}
	if data.Camera == nil || data.Camera.Model != "Synthetic test source" {
		t.Errorf("camera = %+v", data.Camera)
	}
	if data.Camera.FocalLength != "Unknown" {
		t.Errorf("focal_length = %q, want Unknown", data.Camera.FocalLength)
	}
}

func TestStatsWithoutStreamer(t *testing.T) {
	r := NewReporter("127.0.0.1:0", nil, testLogger())
	resp, body := get(t, r.Handler(), "/live/stats")

	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
	if !strings.Contains(body, `"status":"error"`) {
		t.Errorf("body = %s, want status error marker", body)
	}
	if !strings.Contains(body, `"error":"Streamer not initialized"`) {
		t.Errorf("body = %s, want error message", body)
	}
}

func TestHealthEndpoint(t *testing.T) {
	r := NewReporter("127.0.0.1:0", nil, testLogger())
	resp, body := get(t, r.Handler(), "/api/health")

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !strings.Contains(body, `"status":"ok"`) {
		t.Errorf("body = %s", body)
	}
}

func TestVersionEndpoint(t *testing.T) {
	r := NewReporter("127.0.0.1:0", nil, testLogger())
	resp, body := get(t, r.Handler(), "/api/version")

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !strings.Contains(body, `"version"`) || !strings.Contains(body, `"go_version"`) {
		t.Errorf("body = %s", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	r := NewReporter("127.0.0.1:0", nil, testLogger())
	resp, body := get(t, r.Handler(), "/metrics")

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !strings.Contains(body, "go_goroutines") {
		t.Error("metrics output missing runtime collectors")
	}
}

func TestStartStopIdempotent(t *testing.T) {
	r := NewReporter("127.0.0.1:0", nil, testLogger())

	r.Stop() // not running yet
	r.Start()
	r.Start() // no-op
	r.Stop()
	r.Stop() // no-op
}

func TestReadTemperature(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "temp")
	if err := os.WriteFile(path, []byte("48123\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := readTemperature(path, testLogger()); got != "48.1°C" {
		t.Errorf("readTemperature = %q, want 48.1°C", got)
	}

	if got := readTemperature(filepath.Join(dir, "missing"), testLogger()); got != "Unknown" {
		t.Errorf("missing zone = %q, want Unknown", got)
	}

	bad := filepath.Join(dir, "bad")
	if err := os.WriteFile(bad, []byte("not-a-number"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := readTemperature(bad, testLogger()); got != "Unknown" {
		t.Errorf("garbage zone = %q, want Unknown", got)
	}
}
