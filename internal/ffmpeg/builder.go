// Package ffmpeg builds the encoder subprocess invocation and parses its
// log output.
package ffmpeg

import (
	"fmt"
	"strconv"
	"strings"
)

// Params describes one encoder invocation: raw RGB24 frames on stdin,
// H.264 in an FLV container to the destination.
type Params struct {
	Destination string
	Width       int
	Height      int
	FPS         int
	Bitrate     string
	PixelFormat string
}

// BuildArgs builds the ffmpeg argument list for streaming raw frames
// from stdin to an RTMP destination.
func BuildArgs(p Params) []string {
	size := fmt.Sprintf("%dx%d", p.Width, p.Height)

	args := []string{
		"-y",
		// Input: raw frames on stdin
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"-video_size", size,
		"-framerate", strconv.Itoa(p.FPS),
		"-i", "pipe:0",
		// Output: low-latency H.264 in FLV
		"-c:v", "libx264",
		"-pix_fmt", p.PixelFormat,
		"-preset", "ultrafast",
		"-tune", "zerolatency",
		"-b:v", p.Bitrate,
		"-maxrate", p.Bitrate,
		"-bufsize", HalveBitrate(p.Bitrate),
		// Keyframe every two seconds
		"-g", strconv.Itoa(p.FPS * 2),
		"-f", "flv",
		p.Destination,
	}
	return args
}

// HalveBitrate returns half the numeric value of a bitrate string,
// keeping its unit suffix: "2M" -> "1M", "5M" -> "2.5M", "800k" -> "400k".
// Returns the input unchanged if the numeric prefix cannot be parsed.
func HalveBitrate(bitrate string) string {
	i := 0
	for i < len(bitrate) && (bitrate[i] >= '0' && bitrate[i] <= '9' || bitrate[i] == '.') {
		i++
	}
	if i == 0 {
		return bitrate
	}

	value, err := strconv.ParseFloat(bitrate[:i], 64)
	if err != nil {
		return bitrate
	}

	half := strconv.FormatFloat(value/2, 'f', -1, 64)
	return half + bitrate[i:]
}

// ParseLogLevel extracts the log level from an ffmpeg output line.
// With "-loglevel level+info" ffmpeg prefixes lines with "[level]" or
// "[component @ 0x...] [level]". Returns info for anything else.
func ParseLogLevel(line string) (level, msg string) {
	bracket, rest, ok := leadingBracket(line)
	if !ok {
		return "info", line
	}

	if isLogLevel(bracket) {
		return bracket, rest
	}

	// Component prefix: keep the component, strip only the [level]
	if inner, innerRest, innerOK := leadingBracket(rest); innerOK && isLogLevel(inner) {
		return inner, "[" + bracket + "] " + innerRest
	}

	return "info", line
}

// leadingBracket splits "[x] rest" into x and rest.
func leadingBracket(line string) (bracket, rest string, ok bool) {
	if len(line) < 3 || line[0] != '[' {
		return "", "", false
	}
	end := strings.Index(line, "] ")
	if end == -1 {
		return "", "", false
	}
	return line[1:end], line[end+2:], true
}

func isLogLevel(s string) bool {
	switch s {
	case "quiet", "panic", "fatal", "error", "warning", "info", "verbose", "debug", "trace":
		return true
	}
	return false
}
