package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/govwatch/internal/sessionlog"
)

// LogSink mirrors session entries into a zap logger, dropping anything below
// the configured minimum level.
type LogSink struct {
	logger *zap.Logger
	min    zapcore.Level
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger, minLevel zapcore.Level) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger, min: minLevel}
}

// Consume logs each entry that passes the level filter.
func (s *LogSink) Consume(_ context.Context, batch []sessionlog.Entry) error {
	for _, entry := range batch {
		lvl := entry.Level.ZapLevel()
		if lvl < s.min {
			continue
		}
		ce := s.logger.Check(lvl, entry.Message)
		if ce == nil {
			continue
		}
		fields := []zap.Field{
			zap.Int64("entry_id", entry.ID),
			zap.String("session_id", entry.SessionID),
			zap.String("source", entry.Source),
			zap.String("level", string(entry.Level)),
			zap.Time("at", entry.Timestamp),
		}
		if len(entry.Metadata) > 0 {
			fields = append(fields, zap.Any("metadata", entry.Metadata))
		}
		ce.Write(fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
