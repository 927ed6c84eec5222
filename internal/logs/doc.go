// Package logs reads the daemon's log files for `drivewatch logs`.
//
// Last returns the final lines of a file together with the offset where the
// next read should start. Follow polls from an offset and hands every new
// line to a callback until the context ends. It reopens the path on every
// poll and starts over when the file shrinks, which happens when the daemon
// repoints drivewatch.log at a new run.
package logs
