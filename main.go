package main

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/danielgtaylor/huma/v2/humacli"

	"github.com/yuzito/camstream/cmd"
	"github.com/yuzito/camstream/internal/camera"
	"github.com/yuzito/camstream/internal/config"
	"github.com/yuzito/camstream/internal/logging"
	"github.com/yuzito/camstream/internal/supervisor"
	"github.com/yuzito/camstream/internal/version"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Stream settings
	Destination string `help:"RTMP destination URL" short:"d" default:"rtmp://localhost/live/stream" toml:"stream.destination" env:"STREAM_DESTINATION"`
	Width       int    `help:"Frame width in pixels" default:"1280" toml:"stream.width" env:"STREAM_WIDTH"`
	Height      int    `help:"Frame height in pixels" default:"720" toml:"stream.height" env:"STREAM_HEIGHT"`
	Fps         int    `help:"Frames per second" default:"30" toml:"stream.fps" env:"STREAM_FPS"`
	Bitrate     string `help:"Video bitrate" default:"2M" toml:"stream.bitrate" env:"STREAM_BITRATE"`
	PixelFormat string `help:"Encoder pixel format" default:"yuv420p" toml:"stream.pixel_format" env:"STREAM_PIXEL_FORMAT"`

	// Camera settings
	Device     string `help:"V4L2 device path" default:"/dev/video0" toml:"camera.device" env:"CAMERA_DEVICE"`
	TestSource bool   `help:"Use a synthetic frame source instead of a camera" default:"false" toml:"camera.test_source" env:"CAMERA_TEST_SOURCE"`

	// Relay settings
	SelfHosted bool   `help:"Run a local nginx-rtmp relay and publish to it" default:"false" toml:"relay.self_hosted" env:"RELAY_SELF_HOSTED"`
	Host       string `help:"Host the relay advertises (default: auto-detected local IP)" default:"" toml:"relay.host" env:"RELAY_HOST"`
	RtmpPort   int    `help:"Relay RTMP port" default:"1935" toml:"relay.rtmp_port" env:"RELAY_RTMP_PORT"`
	HttpPort   int    `help:"Relay HTTP port for HLS/DASH" default:"8080" toml:"relay.http_port" env:"RELAY_HTTP_PORT"`

	// Status server settings
	StatsPort int `help:"Stats server port" default:"8081" toml:"status.port" env:"STATUS_PORT"`

	// Encoder settings
	FfmpegLogs bool `help:"Log ffmpeg output instead of discarding it" default:"false" toml:"encoder.ffmpeg_logs" env:"ENCODER_FFMPEG_LOGS"`

	// Logging settings
	LoggingLevel   string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat  string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingCamera  string `help:"Camera logging level" default:"info" toml:"logging.camera" env:"LOGGING_CAMERA"`
	LoggingEncoder string `help:"Encoder logging level" default:"info" toml:"logging.encoder" env:"LOGGING_ENCODER"`
	LoggingRelay   string `help:"Relay logging level" default:"info" toml:"logging.relay" env:"LOGGING_RELAY"`
	LoggingStatus  string `help:"Status server logging level" default:"info" toml:"logging.status" env:"LOGGING_STATUS"`
	LoggingFfmpeg  string `help:"ffmpeg output logging level" default:"info" toml:"logging.ffmpeg" env:"LOGGING_FFMPEG"`
}

func main() {
	var cli humacli.CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		// Load configuration automatically
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", loadErr)
		}

		logging.Initialize(logging.Config{
			Level:  opts.LoggingLevel,
			Format: opts.LoggingFormat,
			Modules: map[string]string{
				"camera":  opts.LoggingCamera,
				"encoder": opts.LoggingEncoder,
				"relay":   opts.LoggingRelay,
				"status":  opts.LoggingStatus,
				"ffmpeg":  opts.LoggingFfmpeg,
			},
		})

		logger := logging.GetLogger("main")
		logger.Info("Starting camstream",
			"version", version.String(),
			"destination", opts.Destination,
			"resolution", fmt.Sprintf("%dx%d", opts.Width, opts.Height))

		var source camera.Source
		if opts.TestSource {
			source = camera.NewTestSource(opts.Width, opts.Height, opts.Fps)
		} else {
			source = camera.NewDevice(opts.Device, opts.Width, opts.Height,
				logging.GetLogger("camera"))
		}

		host := opts.Host
		if host == "" {
			host = localIP()
		}

		sup := supervisor.New(supervisor.Settings{
			Destination: opts.Destination,
			Width:       opts.Width,
			Height:      opts.Height,
			FPS:         opts.Fps,
			Bitrate:     opts.Bitrate,
			PixelFormat: opts.PixelFormat,
			SelfHosted:  opts.SelfHosted,
			Host:        host,
			RTMPPort:    opts.RtmpPort,
			HTTPPort:    opts.HttpPort,
			StatsAddr:   fmt.Sprintf(":%d", opts.StatsPort),
			ConfigPath:  opts.Config,
			FFmpegLogs:  opts.FfmpegLogs,
		}, source, logger)

		hooks.OnStart(func() {
			if err := sup.Start(context.Background()); err != nil {
				logger.Error("Failed to start streaming", "error", err)
				sup.Stop()
				os.Exit(1)
			}
			logger.Info("Streaming, press Ctrl+C to stop")
			// Returning would end the process; the pipeline runs in the
			// background until a signal triggers OnStop.
			select {}
		})

		hooks.OnStop(func() {
			sup.Stop()
		})
	})

	cli.Root().AddCommand(cmd.CreateDevicesCmd())

	cli.Run()
}

// localIP finds the address other devices can reach this host on. The
// dial never sends packets; it only selects the outbound interface.
func localIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}
