// Package encoder drives the streaming pipeline: it pumps raw camera
// frames into an ffmpeg subprocess that encodes H.264 and publishes to
// an RTMP destination.
package encoder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"syscall"
	"time"

	"github.com/yuzito/camstream/internal/camera"
	"github.com/yuzito/camstream/internal/ffmpeg"
	"github.com/yuzito/camstream/internal/process"
)

// ErrWriteFailure indicates a frame could not be written to the encoder
// stdin, usually because the subprocess exited.
var ErrWriteFailure = errors.New("failed to write frame to encoder")

const (
	// defaultStopTimeout is the graceful window before the encoder is
	// force-killed.
	defaultStopTimeout = 5 * time.Second

	// pumpJoinTimeout bounds how long Stop waits for the frame pump.
	// The pump blocks at most one frame interval in CaptureFrame.
	pumpJoinTimeout = 2 * time.Second
)

// StreamConfig describes one encoding session. Treated as immutable
// once the streamer starts; reconfiguration goes through Restart.
type StreamConfig struct {
	Destination string
	Width       int
	Height      int
	FPS         int
	Bitrate     string
	PixelFormat string
}

// Resolution returns the "WIDTHxHEIGHT" form used in logs and status.
func (c StreamConfig) Resolution() string {
	return fmt.Sprintf("%dx%d", c.Width, c.Height)
}

func (c StreamConfig) encoderParams() ffmpeg.Params {
	return ffmpeg.Params{
		Destination: c.Destination,
		Width:       c.Width,
		Height:      c.Height,
		FPS:         c.FPS,
		Bitrate:     c.Bitrate,
		PixelFormat: c.PixelFormat,
	}
}

// Streamer owns a frame source and an encoder subprocess, moving frames
// between them until stopped or until either side fails.
type Streamer struct {
	logger     *slog.Logger
	scanLogger *slog.Logger

	binary      string
	args        []string
	stopTimeout time.Duration

	mu        sync.Mutex
	config    StreamConfig
	source    camera.Source
	running   bool
	startedAt time.Time
	handle    *process.Handle
	stop      chan struct{}
	pumpDone  chan struct{}
	cleanup   *sync.Once
}

// New creates a streamer for the given config and frame source. The
// source must be closed (not yet opened); Start claims it.
func New(config StreamConfig, source camera.Source, logger *slog.Logger) *Streamer {
	return &Streamer{
		logger:      logger,
		binary:      "ffmpeg",
		stopTimeout: defaultStopTimeout,
		config:      config,
		source:      source,
	}
}

// EnableEncoderLogs routes ffmpeg output through the given logger
// instead of discarding it, classifying lines by their level prefix.
func (s *Streamer) EnableEncoderLogs(logger *slog.Logger) {
	s.scanLogger = logger
}

// Start opens and warms the camera, spawns the encoder, and begins
// pumping frames. A second Start while running is a warned no-op.
func (s *Streamer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.logger.Warn("Streamer already running, ignoring start")
		return nil
	}

	if err := s.source.Open(ctx); err != nil {
		return fmt.Errorf("open camera: %w", err)
	}

	opts := process.Options{Stdin: true}
	if s.scanLogger != nil {
		opts.Output = process.OutputScan
		opts.OutputLogger = s.scanLogger
		opts.LevelParser = ffmpeg.ParseLogLevel
	}

	args := s.args
	if args == nil {
		args = ffmpeg.BuildArgs(s.config.encoderParams())
	}

	handle, err := process.Start(s.binary, args, s.logger, opts)
	if err != nil {
		if closeErr := s.source.Close(); closeErr != nil {
			s.logger.Warn("Failed to release camera", "error", closeErr)
		}
		return err
	}

	s.handle = handle
	s.stop = make(chan struct{})
	s.pumpDone = make(chan struct{})
	s.cleanup = new(sync.Once)
	s.running = true
	s.startedAt = time.Now()

	s.logger.Info("Streaming started",
		"destination", s.config.Destination,
		"resolution", s.config.Resolution(),
		"fps", s.config.FPS,
		"bitrate", s.config.Bitrate)

	go s.pump(handle, s.stop, s.pumpDone, s.cleanup)
	return nil
}

// Stop shuts the pipeline down: stops the pump, closes the encoder
// stdin, signals the subprocess, and releases the camera. A Stop while
// not running is a warned no-op.
func (s *Streamer) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		s.logger.Warn("Streamer not running, ignoring stop")
		return
	}
	s.running = false
	handle, stop, pumpDone, cleanup := s.handle, s.stop, s.pumpDone, s.cleanup
	s.mu.Unlock()

	close(stop)
	select {
	case <-pumpDone:
	case <-time.After(pumpJoinTimeout):
		s.logger.Warn("Frame pump did not stop in time")
	}

	s.teardown(handle, cleanup)
	s.logger.Info("Streaming stopped")
}

// Restart stops the pipeline if running and starts it with a new
// config. Used by the supervisor on config reload.
func (s *Streamer) Restart(ctx context.Context, config StreamConfig) error {
	if s.Running() {
		s.Stop()
		restarts.Inc()
	}

	s.mu.Lock()
	s.config = config
	s.mu.Unlock()

	return s.Start(ctx)
}

// Running reports whether the pipeline is active.
func (s *Streamer) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Config returns the current stream configuration.
func (s *Streamer) Config() StreamConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

// Source returns the frame source, for status reporting.
func (s *Streamer) Source() camera.Source {
	return s.source
}

// StartedAt returns when the current session began. Zero when the
// streamer has never run.
func (s *Streamer) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// pump is the single capture loop: one frame captured, one frame
// written, one stop check per iteration. On a capture or write failure
// it tears the session down and exits; it never retries.
func (s *Streamer) pump(handle *process.Handle, stop <-chan struct{}, done chan<- struct{}, cleanup *sync.Once) {
	defer close(done)

	buf := make([]byte, s.source.FrameSize())
	stdin := handle.Stdin()

	for {
		select {
		case <-stop:
			return
		default:
		}

		if err := s.source.CaptureFrame(buf); err != nil {
			s.logger.Error("Frame capture failed, stopping stream", "error", err)
			s.failSession(handle, cleanup)
			return
		}

		if _, err := stdin.Write(buf); err != nil {
			writeFailures.Inc()
			s.logger.Error("Streaming failed",
				"error", fmt.Errorf("%w: %v", ErrWriteFailure, err))
			s.failSession(handle, cleanup)
			return
		}

		framesPiped.Inc()
		bytesPiped.Add(float64(len(buf)))
	}
}

// failSession is the pump's cleanup path: same teardown as Stop, plus
// clearing the running flag.
func (s *Streamer) failSession(handle *process.Handle, cleanup *sync.Once) {
	s.teardown(handle, cleanup)
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// teardown closes the encoder stdin, stops the subprocess, and releases
// the camera. Runs at most once per session whether triggered by Stop
// or by a pump failure.
func (s *Streamer) teardown(handle *process.Handle, cleanup *sync.Once) {
	cleanup.Do(func() {
		if stdin := handle.Stdin(); stdin != nil {
			if err := stdin.Close(); err != nil {
				s.logger.Debug("Failed to close encoder stdin", "error", err)
			}
		}
		handle.Stop(syscall.SIGTERM, s.stopTimeout)

		if err := s.source.Close(); err != nil {
			s.logger.Warn("Failed to release camera", "error", err)
		}
	})
}
