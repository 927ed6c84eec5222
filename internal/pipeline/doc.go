// Package pipeline drives the detection loop and the eviction workers.
//
// The ingest goroutine reads low resolution frames, forwards them to the
// detector, feeds the tracking ledger and attaches high resolution frames
// while objects are live. Objects that leave the scene are handed to a
// bounded queue; workers decide whether the object crossed the reference
// line, crop the plate from the matching high resolution frame, read it,
// and fan the result out to MQTT, the journal and ntfy.
//
// Captures that exhaust their reconnect budget are discarded and rebuilt
// through the configured SourceFactory.
package pipeline
