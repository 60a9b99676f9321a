package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogSink writes every message to the logger.
type LogSink struct {
	lg *zap.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(lg *zap.Logger) *LogSink {
	return &LogSink{lg: lg}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Send(_ context.Context, m Message) error {
	s.lg.Info("Notification",
		zap.String("event", m.Event),
		zap.String("room", m.Room),
		zap.ByteString("envelope", m.Body),
	)
	return nil
}

func (s *LogSink) Close() error { return nil }
