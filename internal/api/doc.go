// Package api defines the wire-format types served by the daemon's local
// HTTP endpoint and a small client the CLI uses to read them.
//
// DTOs use camelCase JSON tags. Timestamps are UTC RFC3339 with
// milliseconds; zero times are omitted.
package api
