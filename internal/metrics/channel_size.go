package metrics

import (
	"context"
	"time"

	"serumflow/internal/channel"
	"serumflow/logger"
)

// StartChannelSizeMetrics emits occupancy metrics for the trade and book
// channel buffers every interval until the context is cancelled. When
// interval <= 0, a one-second cadence is used.
func StartChannelSizeMetrics(ctx context.Context, channels *channel.Channels, interval time.Duration) {
	if !IsFeatureEnabled(FeatureChannelSize) {
		return
	}
	if channels == nil {
		return
	}
	if interval <= 0 {
		interval = time.Second
	}

	log := logger.GetLogger()
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				emitChannelSizes(log, channels)
			}
		}
	}()
}

func emitChannelSizes(log *logger.Log, channels *channel.Channels) {
	const component = "channel_buffers"
	gauge := func(name string, length, capacity int) {
		EmitMetric(log, component, name+"_buffer_length", length, "gauge", logger.Fields{
			"buffer":   name,
			"capacity": capacity,
		})
	}
	if c := channels.Trades; c != nil {
		gauge("trade_raw", len(c.Raw), cap(c.Raw))
		gauge("trade_archive", len(c.Archive), cap(c.Archive))
		gauge("trade_stream", len(c.Stream), cap(c.Stream))
		st := c.GetStats()
		EmitMetric(log, component, "trade_messages_dropped", st.RawDropped+st.ArchiveDropped+st.StreamDropped, "gauge", nil)
	}
	if c := channels.Books; c != nil {
		gauge("book_raw", len(c.Raw), cap(c.Raw))
		gauge("book_norm", len(c.Norm), cap(c.Norm))
		st := c.GetStats()
		EmitMetric(log, component, "book_messages_dropped", st.RawDropped+st.NormDropped, "gauge", nil)
	}
}
