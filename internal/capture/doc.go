// Package capture keeps a network video source alive and exposes its most
// recent decoded frames.
//
// A StreamCapture owns one decoder process (ffmpeg by default) that writes
// raw BGR24 frames to a pipe. A single background goroutine reads fixed-size
// frames, pushes them into a small drop-oldest buffer and restarts the
// decoder with exponential backoff whenever the stream breaks. After
// MaxRetries consecutive failures the capture enters a permanent closed
// state; Grab and Retrieve then report false and Done is closed.
//
// The decoder is started through a Launcher so tests can substitute
// in-memory processes for ffmpeg.
package capture
