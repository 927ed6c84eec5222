// Package notifications delivers drivewatch events via pluggable notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and gracefully degrades to a no-op when notifications are
// disabled. Each event type is gated by a config flag so plate reads, stream
// health and errors can be muted independently; the test event is always
// delivered.
package notifications
