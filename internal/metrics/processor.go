package metrics

import "serumflow/logger"

// TradeProcessorStats is a point-in-time view of the trade processor.
type TradeProcessorStats struct {
	UpdatesProcessed int64
	TradesProcessed  int64
	BatchesFlushed   int64
	BatchesDropped   int64
	Resyncs          int64
	ActiveBatches    int
	RawChannelLen    int
	RawChannelCap    int
}

// ReportTradeProcessor emits trade processor counters and channel occupancy.
func ReportTradeProcessor(log *logger.Log, stats TradeProcessorStats) {
	avgTradesPerUpdate := float64(0)
	if stats.UpdatesProcessed > 0 {
		avgTradesPerUpdate = float64(stats.TradesProcessed) / float64(stats.UpdatesProcessed)
	}

	EmitMetric(log, "trade_processor", "updates_processed", stats.UpdatesProcessed, "counter", nil)
	EmitMetric(log, "trade_processor", "trades_processed", stats.TradesProcessed, "counter", nil)
	EmitMetric(log, "trade_processor", "batches_flushed", stats.BatchesFlushed, "counter", nil)
	EmitMetric(log, "trade_processor", "batches_dropped", stats.BatchesDropped, "counter", nil)
	EmitMetric(log, "trade_processor", "active_batches", stats.ActiveBatches, "gauge", nil)

	log.WithComponent("trade_processor").WithFields(logger.Fields{
		"updates_processed":     stats.UpdatesProcessed,
		"trades_processed":      stats.TradesProcessed,
		"batches_flushed":       stats.BatchesFlushed,
		"batches_dropped":       stats.BatchesDropped,
		"resyncs":               stats.Resyncs,
		"active_batches":        stats.ActiveBatches,
		"avg_trades_per_update": avgTradesPerUpdate,
		"raw_channel_len":       stats.RawChannelLen,
		"raw_channel_cap":       stats.RawChannelCap,
	}).Info("trade processor metrics")
}

// BookProcessorStats is a point-in-time view of the book processor.
type BookProcessorStats struct {
	UpdatesReceived  int64
	SnapshotsSent    int64
	SnapshotsDropped int64
	PendingMarkets   int
	RawChannelLen    int
	RawChannelCap    int
	NormChannelLen   int
	NormChannelCap   int
}

// ReportBookProcessor emits book processor counters and channel occupancy.
func ReportBookProcessor(log *logger.Log, stats BookProcessorStats) {
	EmitMetric(log, "book_processor", "snapshots_sent", stats.SnapshotsSent, "counter", nil)
	EmitMetric(log, "book_processor", "snapshots_dropped", stats.SnapshotsDropped, "counter", nil)
	log.WithComponent("book_processor").WithFields(logger.Fields{
		"updates_received":  stats.UpdatesReceived,
		"snapshots_sent":    stats.SnapshotsSent,
		"snapshots_dropped": stats.SnapshotsDropped,
		"pending_markets":   stats.PendingMarkets,
		"raw_channel_len":   stats.RawChannelLen,
		"raw_channel_cap":   stats.RawChannelCap,
		"norm_channel_len":  stats.NormChannelLen,
		"norm_channel_cap":  stats.NormChannelCap,
	}).Info("book processor metrics")
}
