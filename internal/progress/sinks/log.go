package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/storyprogress/internal/progress"
)

// LogSink writes one structured log line per story event.
type LogSink struct {
	logger *zap.Logger
	level  zapcore.Level
}

// NewLogSink wires a zap logger to the sink interface. Events are logged at
// Info unless a different level is given.
func NewLogSink(logger *zap.Logger, level ...zapcore.Level) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	lvl := zapcore.InfoLevel
	if len(level) > 0 {
		lvl = level[0]
	}
	return &LogSink{logger: logger, level: lvl}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		ce := s.logger.Check(s.level, "story event")
		if ce == nil {
			return nil
		}
		fields := []zap.Field{
			zap.String("session_id", evt.SessionUUID().String()),
			zap.String("stage", string(evt.Stage)),
			zap.Int("segment", evt.Segment),
			zap.Int("segment_count", evt.SegmentCount),
			zap.Float64("progress", evt.Progress),
			zap.Time("ts", evt.TS),
		}
		if evt.Cause != "" {
			fields = append(fields, zap.String("cause", string(evt.Cause)))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		ce.Write(fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
