// Package video holds the decoded frame type shared by the capture layer,
// the tracking ledger and the plate-reading workers, plus the small amount of
// geometry and image handling those consumers need.
//
// Frames are immutable once produced. Every consumer treats Data as read-only,
// which lets the HD cache and eviction snapshots share a frame without copying.
package video
