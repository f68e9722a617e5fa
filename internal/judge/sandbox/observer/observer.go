// Package observer defines logging hooks for sandbox execution.
package observer

import (
	"context"

	"go.uber.org/zap"

	"arbiter/pkg/utils/logger"
)

// MetricsRecorder records sandbox execution observations.
type MetricsRecorder interface {
	ObserveCompile(ctx context.Context, languageID string, ok bool, timeMs int64)
	ObserveRun(ctx context.Context, languageID string, verdict string, testIndex int, timeMs int64)
}

// LogRecorder emits observations through the structured logger.
type LogRecorder struct{}

// NewLogRecorder creates a logging recorder.
func NewLogRecorder() *LogRecorder {
	return &LogRecorder{}
}

func (r *LogRecorder) ObserveCompile(ctx context.Context, languageID string, ok bool, timeMs int64) {
	logger.Debug(ctx, "sandbox compile finished",
		zap.String("language", languageID),
		zap.Bool("ok", ok),
		zap.Int64("time_ms", timeMs))
}

func (r *LogRecorder) ObserveRun(ctx context.Context, languageID string, verdict string, testIndex int, timeMs int64) {
	logger.Debug(ctx, "sandbox test finished",
		zap.String("language", languageID),
		zap.String("verdict", verdict),
		zap.Int("test_index", testIndex),
		zap.Int64("time_ms", timeMs))
}

// Nop discards all observations.
type Nop struct{}

func (Nop) ObserveCompile(context.Context, string, bool, int64)    {}
func (Nop) ObserveRun(context.Context, string, string, int, int64) {}

var (
	_ MetricsRecorder = (*LogRecorder)(nil)
	_ MetricsRecorder = Nop{}
)
