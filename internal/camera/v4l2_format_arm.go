//go:build linux && arm

package camera

import "unsafe"

// VIDIOC_S_FMT for 32-bit arm (struct size 204).
const vidiocSFmt = 0xc0cc5605

// v4l2Format mirrors struct v4l2_format: the fmt union is 4-byte aligned
// on 32-bit kernels and padded to 200 bytes.
type v4l2Format struct {
	typ uint32
	pix v4l2PixFormat
	_   [152]byte
}

// Compile-time struct size assertions, kernel ABI must match.
var (
	_ [104]byte = [unsafe.Sizeof(v4l2Capability{})]byte{}
	_ [48]byte  = [unsafe.Sizeof(v4l2PixFormat{})]byte{}
	_ [204]byte = [unsafe.Sizeof(v4l2Format{})]byte{}
)
