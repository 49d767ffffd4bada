package engine

import (
	"github.com/gagliardetto/solana-go"

	"serumflow/serum"
)

// BookUpdate is emitted whenever either side of a market changes. Book always
// holds the latest decoded value of each side; a side that has not been
// observed yet is nil.
type BookUpdate struct {
	Market  solana.PublicKey
	Name    string
	Slot    uint64
	Version uint64
	Book    *serum.OrderBook
}

// TradeUpdate carries the fills appended to the event queue since the previous
// update. Trades may be empty.
type TradeUpdate struct {
	Market     solana.PublicKey
	Name       string
	Slot       uint64
	NextSeqNum uint32
	Resync     bool
	Trades     []serum.TradeEvent
}

// OpenOrdersUpdate carries a decoded open orders account.
type OpenOrdersUpdate struct {
	Market  solana.PublicKey
	Name    string
	Address solana.PublicKey
	Slot    uint64
	Account *serum.OpenOrdersAccount
}
