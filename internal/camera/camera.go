// Package camera provides raw frame sources for the streaming pipeline.
// The primary implementation claims a V4L2 capture device and delivers
// RGB24 frames via read I/O; a synthetic source exists for running
// without hardware.
package camera

import (
	"context"
	"errors"
)

// Sentinel errors for camera failures.
var (
	// ErrDeviceUnavailable indicates the camera could not be claimed or
	// configured with the requested format.
	ErrDeviceUnavailable = errors.New("camera device unavailable")

	// ErrCapture indicates the device stopped delivering frames mid-stream.
	ErrCapture = errors.New("camera capture failed")
)

// bytesPerPixel is fixed by the RGB24 capture layout fed to the encoder.
const bytesPerPixel = 3

// Properties describes the identity of an open camera. Fields that the
// platform cannot report are set to "Unknown" rather than omitted.
type Properties struct {
	Model       string
	FocalLength string
	SensorMode  string
}

// Source produces a continuous sequence of raw RGB24 frames at a fixed
// resolution. Implementations are not safe for concurrent capture; the
// encoder owns the single capture loop.
type Source interface {
	// Open claims the device and blocks for a warm-up period before
	// returning. Fails with ErrDeviceUnavailable if the device cannot
	// be claimed.
	Open(ctx context.Context) error

	// CaptureFrame fills buf with exactly one frame of FrameSize()
	// bytes, blocking until a frame is available. Fails with ErrCapture
	// once the device stops.
	CaptureFrame(buf []byte) error

	// Close releases the device. Idempotent.
	Close() error

	// FrameSize returns width*height*3 for the configured resolution.
	FrameSize() int

	// Properties reports camera identity for the status endpoint.
	// Only valid while the source is open.
	Properties() (Properties, error)
}

// FrameSize computes the raw buffer size for a resolution in the RGB24
// layout.
func FrameSize(width, height int) int {
	return width * height * bytesPerPixel
}
