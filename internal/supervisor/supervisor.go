// Package supervisor wires the relay, the streamer, and the status
// reporter into a single start/stop lifecycle.
package supervisor

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/pelletier/go-toml/v2"

	"github.com/yuzito/camstream/internal/camera"
	"github.com/yuzito/camstream/internal/config"
	"github.com/yuzito/camstream/internal/encoder"
	"github.com/yuzito/camstream/internal/logging"
	"github.com/yuzito/camstream/internal/relay"
	"github.com/yuzito/camstream/internal/status"
)

// Settings carries everything the supervisor needs to assemble the
// pipeline, resolved from CLI, env, and config file by the caller.
type Settings struct {
	Destination string
	Width       int
	Height      int
	FPS         int
	Bitrate     string
	PixelFormat string

	SelfHosted bool
	Host       string
	RTMPPort   int
	HTTPPort   int

	StatsAddr  string
	ConfigPath string
	FFmpegLogs bool
}

type streamController interface {
	Start(ctx context.Context) error
	Stop()
	Restart(ctx context.Context, cfg encoder.StreamConfig) error
	Config() encoder.StreamConfig
	Running() bool
}

type relayController interface {
	Start() (string, error)
	Stop()
}

type statusController interface {
	Start()
	Stop()
}

// Supervisor owns at most one streamer, one relay, and one reporter.
type Supervisor struct {
	logger   *slog.Logger
	settings Settings

	streamer streamController
	reporter statusController
	relay    relayController
	watcher  *config.Watcher[fileConfig]

	stopOnce sync.Once
}

// New assembles the components. In self-hosted mode a relay is created;
// its ingest URL replaces the destination once it starts.
func New(settings Settings, source camera.Source, logger *slog.Logger) *Supervisor {
	streamer := encoder.New(encoder.StreamConfig{
		Destination: settings.Destination,
		Width:       settings.Width,
		Height:      settings.Height,
		FPS:         settings.FPS,
		Bitrate:     settings.Bitrate,
		PixelFormat: settings.PixelFormat,
	}, source, logging.GetLogger("encoder"))
	if settings.FFmpegLogs {
		streamer.EnableEncoderLogs(logging.GetLogger("ffmpeg"))
	}

	s := &Supervisor{
		logger:   logger,
		settings: settings,
		streamer: streamer,
		reporter: status.NewReporter(settings.StatsAddr, streamer, logging.GetLogger("status")),
	}
	if settings.SelfHosted {
		s.relay = relay.NewServer(settings.Host, settings.RTMPPort, settings.HTTPPort,
			logging.GetLogger("relay"))
	}
	return s
}

// Start brings the pipeline up: relay first (self-hosted mode), then
// the streamer, then the stats reporter (self-hosted mode), then the
// config watcher. A relay failure degrades to the configured
// destination; a streamer failure is fatal and propagates.
func (s *Supervisor) Start(ctx context.Context) error {
	destination := s.settings.Destination

	if s.relay != nil {
		url, err := s.relay.Start()
		if err != nil {
			s.logger.Error("Failed to start RTMP relay, continuing with configured destination",
				"error", err, "destination", destination)
		} else {
			destination = url
		}
	}

	streamCfg := s.streamer.Config()
	streamCfg.Destination = destination
	if err := s.streamer.Restart(ctx, streamCfg); err != nil {
		return err
	}

	if s.settings.SelfHosted {
		s.reporter.Start()
	}
	s.startWatcher()
	return nil
}

// Stop shuts everything down once, in order streamer, reporter, relay.
// Every step runs even if an earlier one reported problems.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("Shutting down")

		if s.watcher != nil {
			if err := s.watcher.Stop(); err != nil {
				s.logger.Warn("Error stopping config watcher", "error", err)
			}
		}

		s.streamer.Stop()
		s.reporter.Stop()
		if s.relay != nil {
			s.relay.Stop()
		}
	})
}

// startWatcher enables hot-reload of the stream section when a config
// file is present. Failure to watch only disables reload.
func (s *Supervisor) startWatcher() {
	path := s.settings.ConfigPath
	if path == "" {
		return
	}
	if _, err := os.Stat(path); err != nil {
		s.logger.Debug("No config file to watch", "path", path)
		return
	}

	w := config.NewWatcher(path, loadStreamSection, logging.GetLogger("config"))
	w.OnReload(func(fc fileConfig) {
		current := s.streamer.Config()
		next := mergeStreamConfig(current, fc)
		if next == current {
			s.logger.Debug("Config change does not affect the stream, skipping restart")
			return
		}

		s.logger.Info("Stream configuration changed, restarting encoder",
			"resolution", next.Resolution(), "fps", next.FPS, "bitrate", next.Bitrate)
		if err := s.streamer.Restart(context.Background(), next); err != nil {
			s.logger.Error("Failed to restart streamer after config change", "error", err)
		}
	})

	if err := w.Start(); err != nil {
		s.logger.Warn("Failed to start config watcher, hot-reload disabled", "error", err)
		return
	}
	s.watcher = w
}

// fileConfig is the stream section of the TOML config file.
type fileConfig struct {
	Stream struct {
		Destination string `toml:"destination"`
		Width       int    `toml:"width"`
		Height      int    `toml:"height"`
		FPS         int    `toml:"fps"`
		Bitrate     string `toml:"bitrate"`
		PixelFormat string `toml:"pixel_format"`
	} `toml:"stream"`
}

func loadStreamSection(path string) (fileConfig, error) {
	var fc fileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(data, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// mergeStreamConfig overlays the non-zero file values onto the current
// stream config.
func mergeStreamConfig(current encoder.StreamConfig, fc fileConfig) encoder.StreamConfig {
	if fc.Stream.Destination != "" {
		current.Destination = fc.Stream.Destination
	}
	if fc.Stream.Width > 0 {
		current.Width = fc.Stream.Width
	}
	if fc.Stream.Height > 0 {
		current.Height = fc.Stream.Height
	}
	if fc.Stream.FPS > 0 {
		current.FPS = fc.Stream.FPS
	}
	if fc.Stream.Bitrate != "" {
		current.Bitrate = fc.Stream.Bitrate
	}
	if fc.Stream.PixelFormat != "" {
		current.PixelFormat = fc.Stream.PixelFormat
	}
	return current
}
