package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/regcrawl/internal/crawler"
)

// LogSink emits one structured log line per outcome.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Record logs the outcome.
func (s *LogSink) Record(_ context.Context, o crawler.Outcome) error {
	fields := []zap.Field{
		zap.String("target", o.Target),
		zap.String("code", o.Code),
		zap.Int("state", int(o.State)),
		zap.Int("increment", o.Increment),
		zap.String("log_time", o.LogTime.Format(crawler.TimeLayout)),
	}
	if o.Total != nil {
		fields = append(fields, zap.Int("total", *o.Total))
	}
	if o.ErrorText != "" {
		fields = append(fields, zap.String("error_info", o.ErrorText))
	}
	s.logger.Info("crawl outcome", fields...)
	return nil
}
