// Command drivewatch is the operator CLI: it runs the daemon in the
// foreground, manages configuration, probes camera streams, lists journaled
// crossings, tails the daemon log and checks the health of every integration.
package main
