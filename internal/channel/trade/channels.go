package trade

import (
	"context"
	"sync/atomic"

	"serumflow/logger"
	"serumflow/models"
)

type ChannelStats struct {
	RawSent        int64
	ArchiveSent    int64
	StreamSent     int64
	RawDropped     int64
	ArchiveDropped int64
	StreamDropped  int64
}

type counters struct {
	sent, dropped atomic.Int64
}

// Channels carries trade updates from the engine to the processor (Raw) and
// finished batches to the S3 archive and the Kafka stream.
type Channels struct {
	Raw     chan models.RawTradeMessage
	Archive chan models.TradeBatchMessage
	Stream  chan models.TradeBatchMessage

	raw, archive, stream counters
	log                  *logger.Log
}

func NewChannels(rawBufferSize, batchBufferSize int) *Channels {
	c := &Channels{
		Raw:     make(chan models.RawTradeMessage, rawBufferSize),
		Archive: make(chan models.TradeBatchMessage, batchBufferSize),
		Stream:  make(chan models.TradeBatchMessage, batchBufferSize),
		log:     logger.GetLogger(),
	}
	c.log.WithComponent("trade_channels").WithFields(logger.Fields{
		"raw_buffer_size":   rawBufferSize,
		"batch_buffer_size": batchBufferSize,
	}).Debug("trade channels created")
	return c
}

func (c *Channels) Close() {
	close(c.Raw)
	close(c.Archive)
	close(c.Stream)
	c.log.WithComponent("trade_channels").Debug("trade channels closed")
}

func offer[T any](ctx context.Context, ch chan T, msg T, n *counters) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case ch <- msg:
		n.sent.Add(1)
		return true
	default:
		n.dropped.Add(1)
		return false
	}
}

// SendRaw never blocks; the engine calls it while holding its emit lock.
func (c *Channels) SendRaw(ctx context.Context, msg models.RawTradeMessage) bool {
	return offer(ctx, c.Raw, msg, &c.raw)
}

func (c *Channels) SendArchive(ctx context.Context, msg models.TradeBatchMessage) bool {
	return offer(ctx, c.Archive, msg, &c.archive)
}

func (c *Channels) SendStream(ctx context.Context, msg models.TradeBatchMessage) bool {
	return offer(ctx, c.Stream, msg, &c.stream)
}

func (c *Channels) GetStats() ChannelStats {
	return ChannelStats{
		RawSent:        c.raw.sent.Load(),
		ArchiveSent:    c.archive.sent.Load(),
		StreamSent:     c.stream.sent.Load(),
		RawDropped:     c.raw.dropped.Load(),
		ArchiveDropped: c.archive.dropped.Load(),
		StreamDropped:  c.stream.dropped.Load(),
	}
}
