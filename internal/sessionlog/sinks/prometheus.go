package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/govwatch/internal/sessionlog"
)

// PrometheusSink exports session log activity: entries per source and level,
// sessions opened, and sessions closed by terminal status.
type PrometheusSink struct {
	entries         *prometheus.CounterVec
	sessionsStarted prometheus.Counter
	sessionsEnded   *prometheus.CounterVec
	sessionsRunning prometheus.Gauge
	sessionDuration *prometheus.HistogramVec
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		entries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "govwatch_session_log_entries_total",
			Help: "Session log entries partitioned by source and level.",
		}, []string{"source", "level"}),
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "govwatch_sessions_started_total",
			Help: "Total sessions opened.",
		}),
		sessionsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "govwatch_sessions_ended_total",
			Help: "Total sessions terminated partitioned by status.",
		}, []string{"status"}),
		sessionsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "govwatch_sessions_running",
			Help: "Sessions opened and not yet terminated.",
		}),
		sessionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "govwatch_session_duration_seconds",
			Help:    "Wall time per session.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"status"}),
	}
	for _, collector := range []prometheus.Collector{
		s.entries,
		s.sessionsStarted,
		s.sessionsEnded,
		s.sessionsRunning,
		s.sessionDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register session log collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []sessionlog.Entry) error {
	for _, entry := range batch {
		source := entry.Source
		if source == "" {
			source = "unknown"
		}
		s.entries.WithLabelValues(source, string(entry.Level)).Inc()

		switch entry.Metadata[sessionlog.MetaEvent] {
		case sessionlog.EventSessionOpen:
			s.sessionsStarted.Inc()
			s.sessionsRunning.Inc()
		case sessionlog.EventSessionEnd:
			status, _ := entry.Metadata["status"].(string)
			s.sessionsEnded.WithLabelValues(status).Inc()
			s.sessionsRunning.Dec()
			if ms, ok := entry.Metadata["duration_ms"].(int64); ok && ms > 0 {
				s.sessionDuration.WithLabelValues(status).Observe(float64(ms) / 1000)
			}
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
