package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/govwatch/internal/sessionlog"
)

func TestLogSinkFiltersByMinimumLevel(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	sink := NewLogSink(zap.New(core), zapcore.WarnLevel)
	now := time.Now()
	batch := []sessionlog.Entry{
		{ID: 1, Timestamp: now, Level: sessionlog.LevelDebug, Source: "oece", Message: "noise"},
		{ID: 2, Timestamp: now, Level: sessionlog.LevelSuccess, Source: "oece", Message: "done"},
		{ID: 3, Timestamp: now, Level: sessionlog.LevelWarning, Source: "oece", Message: "slow page"},
		{
			ID: 4, Timestamp: now, Level: sessionlog.LevelError, Source: "seace", Message: "login failed",
			Metadata: map[string]any{"step": "login"},
		},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))
	require.NoError(t, sink.Close(context.Background()))

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, "slow page", entries[0].Message)
	require.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	require.Equal(t, "seace", entries[1].ContextMap()["source"])
}

// TestPrometheusSinkRecordsMetrics ensures counters follow session lifecycle entries.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now()
	batch := []sessionlog.Entry{
		{
			ID: 1, Timestamp: now, Level: sessionlog.LevelInfo, Source: "orchestrator",
			Metadata: map[string]any{sessionlog.MetaEvent: sessionlog.EventSessionOpen},
		},
		{ID: 2, Timestamp: now, Level: sessionlog.LevelWarning, Source: "oece"},
		{
			ID: 3, Timestamp: now, Level: sessionlog.LevelSuccess, Source: "orchestrator",
			Metadata: map[string]any{
				sessionlog.MetaEvent: sessionlog.EventSessionEnd,
				"status":             "completed",
				"duration_ms":        int64(1500),
			},
		},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.sessionsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.sessionsEnded.WithLabelValues("completed")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.sessionsRunning))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.entries.WithLabelValues("oece", "warning")))
	require.Equal(t, 1, testutil.CollectAndCount(sink.sessionDuration, "govwatch_session_duration_seconds"))
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
