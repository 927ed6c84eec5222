// Package logging assembles the structured slog loggers used across
// drivewatch.
//
// It owns the console and JSON handlers, level and output plumbing, and the
// context helpers that tag log lines with track ids, stream names and
// correlation ids. Components obtain a child logger through
// NewComponentLogger so every line carries a component field; warnings go
// through WarnWithContext so they always say what happened, what it affects
// and what to check next.
package logging
