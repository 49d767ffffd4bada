package book

import (
	"context"
	"sync/atomic"

	"serumflow/logger"
	"serumflow/models"
)

// ChannelStats counts deliveries and drops per stage.
type ChannelStats struct {
	RawSent     int64
	NormSent    int64
	RawDropped  int64
	NormDropped int64
}

// Channels carries order book updates from the engine (Raw) and the
// depth-limited snapshots built from them (Norm). Sends never block; a full
// buffer drops the message and counts it.
type Channels struct {
	Raw  chan models.RawBookMessage
	Norm chan models.BookSnapshotMessage

	rawSent, rawDropped   atomic.Int64
	normSent, normDropped atomic.Int64
	log                   *logger.Log
}

func NewChannels(rawBufferSize, normBufferSize int) *Channels {
	c := &Channels{
		Raw:  make(chan models.RawBookMessage, rawBufferSize),
		Norm: make(chan models.BookSnapshotMessage, normBufferSize),
		log:  logger.GetLogger(),
	}
	c.log.WithComponent("book_channels").WithFields(logger.Fields{
		"raw_buffer_size":  rawBufferSize,
		"norm_buffer_size": normBufferSize,
	}).Debug("book channels created")
	return c
}

// Close closes both stages. No send may follow.
func (c *Channels) Close() {
	close(c.Raw)
	close(c.Norm)
	c.log.WithComponent("book_channels").Debug("book channels closed")
}

func offer[T any](ctx context.Context, ch chan T, msg T, sent, dropped *atomic.Int64) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case ch <- msg:
		sent.Add(1)
		return true
	default:
		dropped.Add(1)
		return false
	}
}

func (c *Channels) SendRaw(ctx context.Context, msg models.RawBookMessage) bool {
	return offer(ctx, c.Raw, msg, &c.rawSent, &c.rawDropped)
}

func (c *Channels) SendNorm(ctx context.Context, msg models.BookSnapshotMessage) bool {
	return offer(ctx, c.Norm, msg, &c.normSent, &c.normDropped)
}

func (c *Channels) GetStats() ChannelStats {
	return ChannelStats{
		RawSent:     c.rawSent.Load(),
		NormSent:    c.normSent.Load(),
		RawDropped:  c.rawDropped.Load(),
		NormDropped: c.normDropped.Load(),
	}
}
