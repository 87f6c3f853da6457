//go:build linux

package camera

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// V4L2 constants shared across architectures.
const (
	vidiocQuerycap = 0x80685600

	v4l2BufTypeVideoCapture = 1
	v4l2FieldNone           = 1

	v4l2CapVideoCapture = 0x00000001
	v4l2CapReadWrite    = 0x01000000
	v4l2CapDeviceCaps   = 0x80000000

	v4l2PixFmtRGB24 = 0x33424752 // 'RGB3'
)

// defaultWarmup matches the fixed delay the camera needs to settle
// exposure before frames are representative.
const defaultWarmup = 2 * time.Second

// v4l2Capability has size 104 bytes.
type v4l2Capability struct {
	driver       [16]byte
	card         [32]byte
	busInfo      [32]byte
	version      uint32
	capabilities uint32
	deviceCaps   uint32
	reserved     [3]uint32
}

// v4l2PixFormat has size 48 bytes.
type v4l2PixFormat struct {
	width        uint32
	height       uint32
	pixelformat  uint32
	field        uint32
	bytesperline uint32
	sizeimage    uint32
	colorspace   uint32
	priv         uint32
	flags        uint32
	ycbcrEnc     uint32
	quantization uint32
	xferFunc     uint32
}

// Device is a V4L2 camera delivering RGB24 frames via read I/O.
type Device struct {
	path   string
	width  int
	height int
	warmup time.Duration
	logger *slog.Logger

	mu    sync.Mutex
	file  *os.File
	model string
}

// NewDevice creates a V4L2 frame source for the given device path and
// resolution. The device is not claimed until Open.
func NewDevice(path string, width, height int, logger *slog.Logger) *Device {
	return &Device{
		path:   path,
		width:  width,
		height: height,
		warmup: defaultWarmup,
		logger: logger,
	}
}

// SetWarmup overrides the warm-up delay. Used by tests.
func (d *Device) SetWarmup(delay time.Duration) {
	d.warmup = delay
}

// Open claims the device, configures RGB24 capture at the requested
// resolution, and blocks for the warm-up delay.
func (d *Device) Open(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.file != nil {
		d.logger.Warn("Camera already open", "path", d.path)
		return nil
	}

	file, err := os.OpenFile(d.path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDeviceUnavailable, d.path, err)
	}

	caps, err := queryCapability(file.Fd())
	if err != nil {
		file.Close()
		return fmt.Errorf("%w: querycap %s: %v", ErrDeviceUnavailable, d.path, err)
	}

	deviceCaps := caps.capabilities
	if caps.capabilities&v4l2CapDeviceCaps != 0 {
		deviceCaps = caps.deviceCaps
	}
	if deviceCaps&v4l2CapVideoCapture == 0 {
		file.Close()
		return fmt.Errorf("%w: %s is not a video capture device", ErrDeviceUnavailable, d.path)
	}
	if deviceCaps&v4l2CapReadWrite == 0 {
		file.Close()
		return fmt.Errorf("%w: %s does not support read I/O", ErrDeviceUnavailable, d.path)
	}

	format := v4l2Format{typ: v4l2BufTypeVideoCapture}
	format.pix.width = uint32(d.width)
	format.pix.height = uint32(d.height)
	format.pix.pixelformat = v4l2PixFmtRGB24
	format.pix.field = v4l2FieldNone

	if err := ioctl(file.Fd(), vidiocSFmt, unsafe.Pointer(&format)); err != nil {
		file.Close()
		return fmt.Errorf("%w: set format on %s: %v", ErrDeviceUnavailable, d.path, err)
	}

	// The driver may adjust the format; only the exact request is usable
	// because the encoder declares the frame geometry up front.
	if format.pix.pixelformat != v4l2PixFmtRGB24 ||
		format.pix.width != uint32(d.width) || format.pix.height != uint32(d.height) {
		file.Close()
		return fmt.Errorf("%w: %s rejected %dx%d RGB24", ErrDeviceUnavailable, d.path, d.width, d.height)
	}

	d.file = file
	d.model = cstr(caps.card[:])
	d.logger.Info("Camera opened", "path", d.path, "model", d.model,
		"width", d.width, "height", d.height)

	// Allow camera to warm up
	select {
	case <-time.After(d.warmup):
	case <-ctx.Done():
		d.closeLocked()
		return ctx.Err()
	}

	return nil
}

// CaptureFrame fills buf with exactly one RGB24 frame, blocking until
// the driver delivers it.
func (d *Device) CaptureFrame(buf []byte) error {
	d.mu.Lock()
	file := d.file
	d.mu.Unlock()

	if file == nil {
		return fmt.Errorf("%w: device not open", ErrCapture)
	}

	n, err := file.Read(buf)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCapture, err)
	}
	if n != len(buf) {
		return fmt.Errorf("%w: short frame: %d of %d bytes", ErrCapture, n, len(buf))
	}
	return nil
}

// Close releases the device. Idempotent.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closeLocked()
}

func (d *Device) closeLocked() error {
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	d.logger.Info("Camera released", "path", d.path)
	return err
}

// FrameSize returns the raw frame buffer size.
func (d *Device) FrameSize() int {
	return FrameSize(d.width, d.height)
}

// Properties reports the camera identity. Fields the platform cannot
// provide degrade to "Unknown".
func (d *Device) Properties() (Properties, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.file == nil {
		return Properties{}, fmt.Errorf("%w: device not open", ErrDeviceUnavailable)
	}

	props := Properties{
		Model:       d.model,
		FocalLength: "Unknown",
		SensorMode:  "Unknown",
	}
	if props.Model == "" {
		props.Model = "Unknown"
	}

	// Sensor mode is reported as the negotiated geometry; V4L2 has no
	// portable focal length control.
	props.SensorMode = fmt.Sprintf("%dx%d RGB24", d.width, d.height)

	return props, nil
}

// DeviceInfo identifies a discovered capture device.
type DeviceInfo struct {
	Path string
	Name string
}

// FindDevices enumerates V4L2 video capture devices under /dev.
func FindDevices() ([]DeviceInfo, error) {
	paths, err := filepath.Glob("/dev/video*")
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	var devices []DeviceInfo
	for _, path := range paths {
		file, err := os.OpenFile(path, os.O_RDWR, 0)
		if err != nil {
			continue
		}
		caps, err := queryCapability(file.Fd())
		file.Close()
		if err != nil {
			continue
		}

		deviceCaps := caps.capabilities
		if caps.capabilities&v4l2CapDeviceCaps != 0 {
			deviceCaps = caps.deviceCaps
		}
		if deviceCaps&v4l2CapVideoCapture == 0 {
			continue
		}

		devices = append(devices, DeviceInfo{Path: path, Name: cstr(caps.card[:])})
	}
	return devices, nil
}

func queryCapability(fd uintptr) (*v4l2Capability, error) {
	caps := &v4l2Capability{}
	if err := ioctl(fd, vidiocQuerycap, unsafe.Pointer(caps)); err != nil {
		return nil, err
	}
	return caps, nil
}

func ioctl(fd uintptr, req uint, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, uintptr(req), uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

func cstr(b []byte) string {
	if i := strings.IndexByte(string(b), 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}
