// Package sinks implements progress.Sink consumers for story events:
// structured logs, Prometheus metrics, view analytics persistence,
// completion notices and per-session timeline archives.
package sinks
