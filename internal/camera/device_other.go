//go:build !linux

package camera

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Device is a stub on non-Linux platforms; V4L2 capture is Linux-only.
type Device struct {
	path   string
	width  int
	height int
}

// NewDevice creates a stub frame source that fails on Open.
func NewDevice(path string, width, height int, _ *slog.Logger) *Device {
	return &Device{path: path, width: width, height: height}
}

// SetWarmup is a no-op on non-Linux platforms.
func (d *Device) SetWarmup(time.Duration) {}

func (d *Device) Open(context.Context) error {
	return fmt.Errorf("%w: V4L2 capture requires Linux", ErrDeviceUnavailable)
}

func (d *Device) CaptureFrame([]byte) error {
	return fmt.Errorf("%w: device not open", ErrCapture)
}

func (d *Device) Close() error { return nil }

func (d *Device) FrameSize() int { return FrameSize(d.width, d.height) }

func (d *Device) Properties() (Properties, error) {
	return Properties{}, fmt.Errorf("%w: device not open", ErrDeviceUnavailable)
}

// DeviceInfo identifies a discovered capture device.
type DeviceInfo struct {
	Path string
	Name string
}

// FindDevices returns no devices on non-Linux platforms.
func FindDevices() ([]DeviceInfo, error) {
	return nil, nil
}
