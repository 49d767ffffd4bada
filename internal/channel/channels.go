package channel

import (
	"serumflow/internal/channel/book"
	"serumflow/internal/channel/trade"
)

type Channels struct {
	Trades *trade.Channels
	Books  *book.Channels
}

func NewChannels(tradeBufferSize, bookBufferSize int) *Channels {
	return &Channels{
		Trades: trade.NewChannels(tradeBufferSize, tradeBufferSize),
		Books:  book.NewChannels(bookBufferSize, bookBufferSize),
	}
}

func (c *Channels) Close() {
	if c.Trades != nil {
		c.Trades.Close()
	}
	if c.Books != nil {
		c.Books.Close()
	}
}
