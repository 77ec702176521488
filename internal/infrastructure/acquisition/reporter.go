package acquisition

import (
	"path/filepath"
	"sync/atomic"

	"acqbridge/internal/core/ports"

	"go.uber.org/zap"
)

// LogReporter forwards runtime diagnostics to a zap logger.
type LogReporter struct {
	logger *zap.SugaredLogger
	errors atomic.Uint64
}

func NewLogReporter(logger *zap.SugaredLogger) *LogReporter {
	return &LogReporter{logger: logger.Named("runtime")}
}

// Report implements ports.Reporter
func (r *LogReporter) Report(entry ports.ReportEntry) {
	fields := []interface{}{
		"file", filepath.Base(entry.File),
		"line", entry.Line,
		"function", entry.Function,
	}
	if entry.IsError {
		r.errors.Add(1)
		r.logger.Errorw(entry.Message, fields...)
		return
	}
	r.logger.Infow(entry.Message, fields...)
}

// Errors is the number of error entries reported so far.
func (r *LogReporter) Errors() uint64 {
	return r.errors.Load()
}
