package metrics

import "serumflow/logger"

// WriterStats are the counters every sink writer reports.
type WriterStats struct {
	BatchesWritten int64
	FilesWritten   int64
	BytesWritten   int64
	ErrorsCount    int64
	NormChannelLen int
	NormChannelCap int
}

func (s WriterStats) errorRate() float64 {
	attempts := s.BatchesWritten + s.ErrorsCount
	if attempts == 0 {
		return 0
	}
	return float64(s.ErrorsCount) / float64(attempts)
}

// ReportWriter emits the writer counters and a summary line. The summary is a
// warning when any write failed.
func ReportWriter(log *logger.Log, component string, stats WriterStats) {
	EmitMetric(log, component, "batches_written", stats.BatchesWritten, "counter", nil)
	EmitMetric(log, component, "bytes_written", stats.BytesWritten, "counter", logger.Fields{"unit": "bytes"})
	EmitMetric(log, component, "errors_count", stats.ErrorsCount, "counter", nil)
	EmitMetric(log, component, "error_rate", stats.errorRate(), "gauge", nil)
	if stats.FilesWritten > 0 {
		EmitMetric(log, component, "files_written", stats.FilesWritten, "counter", nil)
	}

	summary := log.WithComponent(component).WithFields(logger.Fields{
		"batches_written":  stats.BatchesWritten,
		"files_written":    stats.FilesWritten,
		"bytes_written":    stats.BytesWritten,
		"errors_count":     stats.ErrorsCount,
		"error_rate":       stats.errorRate(),
		"norm_channel_len": stats.NormChannelLen,
		"norm_channel_cap": stats.NormChannelCap,
	})
	if stats.ErrorsCount > 0 {
		summary.Warn("writer stats: write errors seen")
		return
	}
	summary.Info("writer stats")
}
