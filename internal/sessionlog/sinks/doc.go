// Package sinks implements concrete session log consumers: a level-filtering
// zap sink and a Prometheus sink. Each satisfies sessionlog.Sink and is safe
// for repeated Consume/Close cycles.
package sinks
