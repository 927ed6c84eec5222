// Package daemon coordinates the long-running drivewatch process.
//
// It owns the pipeline lifecycle, enforces single-instance execution with a
// flock on <state_dir>/drivewatch.lock, serves the local status API and
// closes integration clients (journal, MQTT) on shutdown.
//
// Keep orchestration logic here: capture, detection and reporting live in
// their own packages while the daemon focuses on startup, shutdown and
// status.
package daemon
