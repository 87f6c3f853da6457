// Package relay runs a self-hosted nginx-rtmp server that accepts the
// encoder's RTMP publish and re-serves it as RTMP, HLS, and DASH. The
// server lives entirely in a scratch directory that is created on start
// and removed on stop.
package relay

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"text/template"
	"time"

	"github.com/yuzito/camstream/internal/process"
)

var (
	// ErrDependencyMissing indicates nginx is absent or built without
	// the rtmp module.
	ErrDependencyMissing = errors.New("nginx with rtmp module not installed")

	// ErrConfigWrite indicates the scratch directory or nginx config
	// could not be materialized.
	ErrConfigWrite = errors.New("failed to write relay configuration")
)

const (
	scratchPrefix      = "camstream_nginx_"
	defaultSettle      = 2 * time.Second
	defaultStopTimeout = 5 * time.Second
)

// configTemplate is the full nginx configuration: an HTTP server for
// HLS/DASH segments and an RTMP ingest application with both enabled.
var configTemplate = template.Must(template.New("nginx").Parse(`worker_processes auto;
daemon off;
error_log logs/error.log info;

events {
    worker_connections 1024;
}

http {
    include mime.types;
    default_type application/octet-stream;
    server {
        listen {{.HTTPPort}};

        location /live {
            root html;
            add_header 'Access-Control-Allow-Origin' '*';
        }
    }
}

rtmp {
    server {
        listen {{.RTMPPort}};
        chunk_size 4096;

        application live {
            live on;
            record off;

            hls on;
            hls_path html/live/hls;
            hls_fragment 3;
            hls_playlist_length 60;

            dash on;
            dash_path html/live/dash;
        }
    }
}
`))

// Server supervises one nginx-rtmp subprocess.
type Server struct {
	logger   *slog.Logger
	host     string
	rtmpPort int
	httpPort int

	binary      string
	settle      time.Duration
	stopTimeout time.Duration

	mu         sync.Mutex
	running    bool
	handle     *process.Handle
	scratchDir string
	ingestURL  string
}

// NewServer creates a relay bound to the given host and ports. Nothing
// is checked or started until Start.
func NewServer(host string, rtmpPort, httpPort int, logger *slog.Logger) *Server {
	return &Server{
		logger:      logger,
		host:        host,
		rtmpPort:    rtmpPort,
		httpPort:    httpPort,
		binary:      "nginx",
		settle:      defaultSettle,
		stopTimeout: defaultStopTimeout,
	}
}

// Start verifies the nginx installation, materializes the scratch
// directory, and launches the relay. Returns the RTMP ingest URL the
// encoder should publish to. A Start while running is a warned no-op
// returning the existing URL.
func (s *Server) Start() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.logger.Warn("Relay already running, ignoring start")
		return s.ingestURL, nil
	}

	// Dependency check happens before any filesystem work
	nginxPath, err := s.checkInstalled()
	if err != nil {
		return "", err
	}

	dir, err := os.MkdirTemp("", scratchPrefix)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrConfigWrite, err)
	}

	confPath, err := s.writeConfig(dir)
	if err != nil {
		s.removeScratch(dir)
		return "", err
	}

	handle, err := process.Start(nginxPath, []string{"-c", confPath, "-p", dir},
		s.logger, process.Options{Output: process.OutputCapture})
	if err != nil {
		s.removeScratch(dir)
		return "", err
	}

	// Give nginx time to bind its ports or fail
	select {
	case <-handle.Done():
		diag := handle.Diagnostics()
		s.removeScratch(dir)
		return "", fmt.Errorf("%w: nginx exited with code %d: %s",
			process.ErrLaunch, handle.ExitCode(), diag)
	case <-time.After(s.settle):
	}

	s.handle = handle
	s.scratchDir = dir
	s.ingestURL = fmt.Sprintf("rtmp://%s:%d/live/stream", s.host, s.rtmpPort)
	s.running = true

	s.logger.Info("RTMP relay started", "url", s.ingestURL)
	s.logger.Info("HLS endpoint available",
		"url", fmt.Sprintf("http://%s:%d/live/hls/stream.m3u8", s.host, s.httpPort))
	s.logger.Info("DASH endpoint available",
		"url", fmt.Sprintf("http://%s:%d/live/dash/stream.mpd", s.host, s.httpPort))

	return s.ingestURL, nil
}

// Stop terminates nginx and removes the scratch directory. Cleanup
// failures are logged, never raised. A Stop while not running is a
// warned no-op, so it is safe to call from a defer on every exit path.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		s.logger.Warn("No relay is running, ignoring stop")
		return
	}
	s.running = false
	handle, dir := s.handle, s.scratchDir
	s.mu.Unlock()

	s.logger.Info("Stopping RTMP relay")
	handle.Stop(syscall.SIGTERM, s.stopTimeout)
	s.removeScratch(dir)
}

// Running reports whether the relay subprocess is active.
func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// checkInstalled resolves the nginx binary and confirms its build
// metadata mentions the rtmp module.
func (s *Server) checkInstalled() (string, error) {
	nginxPath, err := exec.LookPath(s.binary)
	if err != nil {
		return "", fmt.Errorf("%w: nginx not found in PATH", ErrDependencyMissing)
	}

	// nginx -V prints build configuration on stderr
	out, err := exec.Command(nginxPath, "-V").CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%w: nginx -V failed: %v", ErrDependencyMissing, err)
	}
	if !strings.Contains(string(out), "rtmp") {
		return "", fmt.Errorf("%w: rtmp module not present in nginx build", ErrDependencyMissing)
	}

	s.logger.Info("Found nginx with rtmp module", "path", nginxPath)
	return nginxPath, nil
}

// writeConfig lays out the scratch directory and renders nginx.conf
// into it.
func (s *Server) writeConfig(dir string) (string, error) {
	for _, sub := range []string{
		"logs",
		filepath.Join("html", "live", "hls"),
		filepath.Join("html", "live", "dash"),
	} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return "", fmt.Errorf("%w: %v", ErrConfigWrite, err)
		}
	}

	confPath := filepath.Join(dir, "nginx.conf")
	f, err := os.Create(confPath)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrConfigWrite, err)
	}
	defer f.Close()

	params := struct {
		RTMPPort int
		HTTPPort int
	}{s.rtmpPort, s.httpPort}
	if err := configTemplate.Execute(f, params); err != nil {
		return "", fmt.Errorf("%w: %v", ErrConfigWrite, err)
	}

	s.logger.Info("Relay configuration written", "path", confPath)
	return confPath, nil
}

func (s *Server) removeScratch(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		s.logger.Error("Failed to remove relay scratch directory", "dir", dir, "error", err)
		return
	}
	s.logger.Info("Removed relay scratch directory", "dir", dir)
}
