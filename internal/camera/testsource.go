package camera

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// TestSource generates a moving RGB24 gradient at the configured frame
// rate, so the full pipeline can run without camera hardware.
type TestSource struct {
	width  int
	height int
	fps    int
	warmup time.Duration

	mu      sync.Mutex
	open    bool
	frameNo uint64
	last    time.Time
}

// NewTestSource creates a synthetic frame source.
func NewTestSource(width, height, fps int) *TestSource {
	return &TestSource{width: width, height: height, fps: fps}
}

// SetWarmup overrides the warm-up delay. Zero by default.
func (s *TestSource) SetWarmup(delay time.Duration) {
	s.warmup = delay
}

func (s *TestSource) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.open {
		s.mu.Unlock()
		return nil
	}
	s.open = true
	s.frameNo = 0
	s.last = time.Time{}
	s.mu.Unlock()

	if s.warmup > 0 {
		select {
		case <-time.After(s.warmup):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// CaptureFrame fills buf with the next gradient frame, pacing to the
// configured frame rate the way a real driver would.
func (s *TestSource) CaptureFrame(buf []byte) error {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return fmt.Errorf("%w: test source closed", ErrCapture)
	}
	frameNo := s.frameNo
	s.frameNo++
	last := s.last
	s.last = time.Now()
	s.mu.Unlock()

	if len(buf) != s.FrameSize() {
		return fmt.Errorf("%w: buffer is %d bytes, want %d", ErrCapture, len(buf), s.FrameSize())
	}

	if s.fps > 0 && !last.IsZero() {
		interval := time.Second / time.Duration(s.fps)
		if elapsed := time.Since(last); elapsed < interval {
			time.Sleep(interval - elapsed)
		}
	}

	shift := byte(frameNo)
	i := 0
	for y := 0; y < s.height; y++ {
		for x := 0; x < s.width; x++ {
			buf[i] = byte(x) + shift
			buf[i+1] = byte(y) + shift
			buf[i+2] = shift
			i += 3
		}
	}
	return nil
}

func (s *TestSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	return nil
}

func (s *TestSource) FrameSize() int {
	return FrameSize(s.width, s.height)
}

func (s *TestSource) Properties() (Properties, error) {
	return Properties{
		Model:       "Synthetic test source",
		FocalLength: "Unknown",
		SensorMode:  fmt.Sprintf("%dx%d RGB24", s.width, s.height),
	}, nil
}
