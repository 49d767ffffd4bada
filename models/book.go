package models

import (
	"time"

	"serumflow/serum"
)

// RawBookMessage wraps one order book update emitted by the market engine.
type RawBookMessage struct {
	Market    string
	Name      string
	Slot      uint64
	Version   uint64
	Book      *serum.OrderBook
	Timestamp time.Time
}

// BookSnapshotMessage is a depth-limited view of a market's order book.
type BookSnapshotMessage struct {
	Market    string        `json:"market"`
	Name      string        `json:"name"`
	Slot      uint64        `json:"slot"`
	Version   uint64        `json:"version"`
	Bids      []serum.Level `json:"bids"`
	Asks      []serum.Level `json:"asks"`
	BestBid   *serum.Level  `json:"best_bid,omitempty"`
	BestAsk   *serum.Level  `json:"best_ask,omitempty"`
	Spread    *float64      `json:"spread,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}
