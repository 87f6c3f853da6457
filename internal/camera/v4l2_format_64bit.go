//go:build linux && (amd64 || arm64 || riscv64)

package camera

import "unsafe"

// VIDIOC_S_FMT for 64-bit architectures (struct size 208).
const vidiocSFmt = 0xc0d05605

// v4l2Format mirrors struct v4l2_format: the fmt union is 8-byte aligned
// on 64-bit kernels and padded to 200 bytes.
type v4l2Format struct {
	typ uint32
	_   uint32
	pix v4l2PixFormat
	_   [152]byte
}

// Compile-time struct size assertions, kernel ABI must match.
var (
	_ [104]byte = [unsafe.Sizeof(v4l2Capability{})]byte{}
	_ [48]byte  = [unsafe.Sizeof(v4l2PixFormat{})]byte{}
	_ [208]byte = [unsafe.Sizeof(v4l2Format{})]byte{}
)
