// Package ffprobe provides a typed wrapper around ffprobe JSON output for
// camera streams.
//
// Inspect runs ffprobe against an RTSP URL or file and returns the parsed
// Result. VideoSize is the shortcut used when a capture needs to learn the
// native resolution of a stream before decoding it.
package ffprobe
