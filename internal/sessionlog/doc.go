// Package sessionlog provides the session log bus: run-scoped sessions with an
// ordered log, live listener fan-out, a bounded history of recent entries
// across all sessions, and a non-blocking batching hub that forwards every
// entry to durable sinks such as structured logs or Prometheus.
package sessionlog
