package models

import (
	"time"

	"serumflow/serum"
)

// RawTradeMessage wraps one trade update emitted by the market engine.
type RawTradeMessage struct {
	Market     string
	Name       string
	Slot       uint64
	NextSeqNum uint32
	Resync     bool
	Trades     []serum.TradeEvent
	Timestamp  time.Time
}

// NormTradeMessage is a single fill in human units.
type NormTradeMessage struct {
	Market        string  `json:"market"`
	Name          string  `json:"name"`
	Slot          uint64  `json:"slot"`
	Side          string  `json:"side"`
	Price         float64 `json:"price"`
	Size          float64 `json:"size"`
	Maker         bool    `json:"maker"`
	FeeOrRebate   uint64  `json:"fee_or_rebate"`
	OrderID       string  `json:"order_id"`
	Owner         string  `json:"owner"`
	ClientOrderID uint64  `json:"client_order_id"`
	ReceivedTime  int64   `json:"received_time"`
}

// TradeBatchMessage represents a batch of fills for one market.
type TradeBatchMessage struct {
	BatchID     string             `json:"batch_id"`
	Market      string             `json:"market"`
	Name        string             `json:"name"`
	Trades      []NormTradeMessage `json:"trades"`
	RecordCount int                `json:"record_count"`
	Resync      bool               `json:"resync"`
	Timestamp   time.Time          `json:"timestamp"`
	ProcessedAt time.Time          `json:"processed_at"`
}
