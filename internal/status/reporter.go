// Package status serves the HTTP observability surface: live stream
// statistics, health and version endpoints, and Prometheus metrics.
package status

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yuzito/camstream/internal/encoder"
	"github.com/yuzito/camstream/internal/version"
)

// StreamInfo describes the active encoding session.
type StreamInfo struct {
	URL        string `json:"url" doc:"RTMP destination the encoder publishes to"`
	Resolution string `json:"resolution" example:"1280x720"`
	FPS        int    `json:"fps" example:"30"`
	Bitrate    string `json:"bitrate" example:"2M"`
	Format     string `json:"format" example:"yuv420p"`
}

// SystemInfo carries host-level metrics.
type SystemInfo struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	Temperature   string  `json:"temperature" example:"48.1°C"`
	DiskUsage     float64 `json:"disk_usage"`
}

// CameraInfo reports camera identity, or the error that prevented
// reading it.
type CameraInfo struct {
	Model       string `json:"model,omitempty"`
	FocalLength string `json:"focal_length,omitempty"`
	SensorMode  string `json:"sensor_mode,omitempty"`
	Error       string `json:"error,omitempty"`
}

// StatsData is the /live/stats response body.
type StatsData struct {
	Status    string      `json:"status" enum:"active,inactive"`
	Uptime    string      `json:"uptime"`
	StartedAt string      `json:"started_at"`
	Stream    StreamInfo  `json:"stream"`
	System    SystemInfo  `json:"system"`
	Camera    *CameraInfo `json:"camera,omitempty"`
}

// StatsResponse wraps the stats body for huma.
type StatsResponse struct {
	Body StatsData
}

// HealthResponse is the /api/health body wrapper.
type HealthResponse struct {
	Body struct {
		Status string `json:"status" example:"ok"`
	}
}

// VersionResponse is the /api/version body wrapper.
type VersionResponse struct {
	Body version.Info
}

// reporterError is returned when stats cannot be produced. It controls
// its own status code and serializes with the legacy error shape.
type reporterError struct {
	StatusField string `json:"status"`
	Message     string `json:"error"`
}

func (e *reporterError) Error() string  { return e.Message }
func (e *reporterError) GetStatus() int { return http.StatusInternalServerError }

// Reporter serves the status API for one streamer. The streamer may be
// nil, in which case /live/stats answers with an error body.
type Reporter struct {
	logger    *slog.Logger
	addr      string
	mux       *http.ServeMux
	api       huma.API
	streamer  *encoder.Streamer
	startedAt time.Time

	mu         sync.Mutex
	running    bool
	httpServer *http.Server
}

// NewReporter builds the API surface. Nothing listens until Start.
func NewReporter(addr string, streamer *encoder.Streamer, logger *slog.Logger) *Reporter {
	mux := http.NewServeMux()

	config := huma.DefaultConfig("Camstream API", version.String())
	config.Info.Description = "Camera streaming status and control"
	config.Servers = []*huma.Server{}

	r := &Reporter{
		logger:    logger,
		addr:      addr,
		mux:       mux,
		api:       humago.New(mux, config),
		streamer:  streamer,
		startedAt: time.Now(),
	}

	mux.Handle("GET /metrics", promhttp.Handler())
	r.registerRoutes()
	return r
}

// Handler returns the underlying mux, for tests and embedding.
func (r *Reporter) Handler() http.Handler {
	return r.mux
}

// Start serves the API in a background goroutine. A Start while
// running is a warned no-op.
func (r *Reporter) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		r.logger.Warn("Stats server already running, ignoring start")
		return
	}

	r.httpServer = &http.Server{Addr: r.addr, Handler: r.mux}
	r.running = true

	r.logger.Info("Starting stats server", "addr", r.addr)
	go func() {
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("Stats server failed", "error", err)
		}
	}()
}

// Stop closes the server without waiting for in-flight requests.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		r.logger.Warn("No stats server is running, ignoring stop")
		return
	}
	r.running = false
	srv := r.httpServer
	r.mu.Unlock()

	r.logger.Info("Stopping stats server")
	if err := srv.Close(); err != nil {
		r.logger.Warn("Error closing stats server", "error", err)
	}
}

func (r *Reporter) registerRoutes() {
	huma.Register(r.api, huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/api/health",
		Summary:     "Health",
		Description: "Check API health status",
		Tags:        []string{"health"},
	}, func(ctx context.Context, input *struct{}) (*HealthResponse, error) {
		resp := &HealthResponse{}
		resp.Body.Status = "ok"
		return resp, nil
	})

	huma.Register(r.api, huma.Operation{
		OperationID: "get-version",
		Method:      http.MethodGet,
		Path:        "/api/version",
		Summary:     "Version",
		Description: "Get application version information",
		Tags:        []string{"system"},
	}, func(ctx context.Context, input *struct{}) (*VersionResponse, error) {
		return &VersionResponse{Body: version.Get()}, nil
	})

	huma.Register(r.api, huma.Operation{
		OperationID: "get-stats",
		Method:      http.MethodGet,
		Path:        "/live/stats",
		Summary:     "Stream statistics",
		Description: "Camera, stream, and system statistics",
		Tags:        []string{"stream"},
	}, r.getStats)
}

// getStats assembles the stats body. Read-only: it never mutates
// streamer state.
func (r *Reporter) getStats(ctx context.Context, _ *struct{}) (*StatsResponse, error) {
	if r.streamer == nil {
		return nil, &reporterError{StatusField: "error", Message: "Streamer not initialized"}
	}

	cfg := r.streamer.Config()
	streamStatus := "inactive"
	if r.streamer.Running() {
		streamStatus = "active"
	}

	data := StatsData{
		Status:    streamStatus,
		Uptime:    time.Since(r.startedAt).Round(time.Second).String(),
		StartedAt: r.startedAt.Format(time.RFC3339),
		Stream: StreamInfo{
			URL:        cfg.Destination,
			Resolution: cfg.Resolution(),
			FPS:        cfg.FPS,
			Bitrate:    cfg.Bitrate,
			Format:     cfg.PixelFormat,
		},
		System: collectSystem(ctx, r.logger),
	}

	if source := r.streamer.Source(); source != nil {
		props, err := source.Properties()
		if err != nil {
			r.logger.Error("Failed to read camera properties", "error", err)
			data.Camera = &CameraInfo{Error: err.Error()}
		} else {
			data.Camera = &CameraInfo{
				Model:       props.Model,
				FocalLength: props.FocalLength,
				SensorMode:  props.SensorMode,
			}
		}
	}

	return &StatsResponse{Body: data}, nil
}
