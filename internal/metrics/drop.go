package metrics

import "serumflow/logger"

// DropMetric identifies the metric name emitted when channel messages are dropped.
type DropMetric string

const (
	// DropMetricTrades records dropped trade batches between processor and writers.
	DropMetricTrades DropMetric = "trade_batches_dropped"
	// DropMetricBooks records dropped book snapshots between processor and writers.
	DropMetricBooks DropMetric = "book_snapshots_dropped"
	// DropMetricDashboard records updates a slow dashboard client could not take.
	DropMetricDashboard DropMetric = "dashboard_messages_dropped"
)

// EmitDropMetric logs and emits a metric for one dropped channel message and
// counts it in Prometheus. market and stage are attached when not empty.
func EmitDropMetric(log *logger.Log, metric DropMetric, market, stage string) {
	channelDrops.WithLabelValues(string(metric)).Inc()

	fields := logger.Fields{}
	if market != "" {
		fields["market"] = market
	}
	if stage != "" {
		fields["stage"] = stage
	}

	EmitMetric(log, "channel_drops", string(metric), 1, "counter", fields)
}
