package serum

import (
	"fmt"
	"sort"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/google/btree"
)

// OrderBookSide is one decoded bids or asks account.
type OrderBookSide struct {
	Flags AccountFlags
	Slab  *Slab
}

// DecodeOrderBookSide decodes a bids or asks account.
func DecodeOrderBookSide(data []byte) (*OrderBookSide, error) {
	if err := minLength("order book side", data, headPadding+accountFlagsSize+SlabHeaderSize+tailPadding); err != nil {
		return nil, err
	}
	body := data[headPadding : len(data)-tailPadding]
	flags := AccountFlags(NewReader(body).U64(0))
	if flags.Has(FlagBids) == flags.Has(FlagAsks) {
		return nil, fmt.Errorf("%w: %s is not exactly one order book side", ErrUnexpectedFlags, flags)
	}
	slab, err := DecodeSlab(body[accountFlagsSize:])
	if err != nil {
		return nil, err
	}
	return &OrderBookSide{Flags: flags, Slab: slab}, nil
}

// Side reports whether the account holds bids or asks.
func (s *OrderBookSide) Side() Side {
	if s.Flags.Has(FlagBids) {
		return SideBid
	}
	return SideAsk
}

// Order is a resting order materialized from a slab leaf.
type Order struct {
	Side          Side
	Price         uint64
	Quantity      uint64
	OrderID       bin.Uint128
	Owner         solana.PublicKey
	OwnerSlot     uint8
	FeeTier       uint8
	ClientOrderID uint64
	SlabIndex     uint32
}

// Orders returns the side's orders in arena order.
func (s *OrderBookSide) Orders() []Order {
	side := s.Side()
	leaves := s.Slab.Leaves()
	orders := make([]Order, 0, len(leaves))
	for _, n := range leaves {
		orders = append(orders, Order{
			Side:          side,
			Price:         n.Leaf.Price(),
			Quantity:      n.Leaf.Quantity,
			OrderID:       n.Leaf.Key,
			Owner:         n.Leaf.Owner,
			OwnerSlot:     n.Leaf.OwnerSlot,
			FeeTier:       n.Leaf.FeeTier,
			ClientOrderID: n.Leaf.ClientOrderID,
			SlabIndex:     n.Index,
		})
	}
	return orders
}

// SortedOrders returns the orders best price first: bids descending, asks
// ascending. Equal prices keep time priority through the low 64 bits of the
// key.
func (s *OrderBookSide) SortedOrders() []Order {
	orders := s.Orders()
	bids := s.Side() == SideBid
	sort.SliceStable(orders, func(i, j int) bool {
		if orders[i].Price != orders[j].Price {
			if bids {
				return orders[i].Price > orders[j].Price
			}
			return orders[i].Price < orders[j].Price
		}
		return orders[i].OrderID.Lo < orders[j].OrderID.Lo
	})
	return orders
}

// OrderBook combines the latest bids and asks of a market. Either side may be
// nil until it has been observed.
type OrderBook struct {
	Bids          *OrderBookSide
	Asks          *OrderBookSide
	BaseDecimals  uint8
	QuoteDecimals uint8
	BaseLotSize   uint64
	QuoteLotSize  uint64
}

// Level is an aggregated price level in human units.
type Level struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
	Orders   int     `json:"orders"`
}

type lotLevel struct {
	price  uint64
	qty    uint64
	orders int
}

// Levels aggregates a side into at most depth price levels, best first. A
// depth of zero returns every level.
func (b *OrderBook) Levels(side Side, depth int) []Level {
	src := b.Bids
	less := func(a, c lotLevel) bool { return a.price > c.price }
	if side == SideAsk {
		src = b.Asks
		less = func(a, c lotLevel) bool { return a.price < c.price }
	}
	if src == nil {
		return nil
	}

	tree := btree.NewG[lotLevel](16, less)
	for _, n := range src.Slab.Leaves() {
		lvl, _ := tree.Get(lotLevel{price: n.Leaf.Price()})
		lvl.price = n.Leaf.Price()
		lvl.qty += n.Leaf.Quantity
		lvl.orders++
		tree.ReplaceOrInsert(lvl)
	}

	levels := make([]Level, 0, tree.Len())
	tree.Ascend(func(l lotLevel) bool {
		if depth > 0 && len(levels) >= depth {
			return false
		}
		levels = append(levels, Level{
			Price:    b.Price(l.price),
			Quantity: b.Quantity(l.qty),
			Orders:   l.orders,
		})
		return true
	})
	return levels
}

// BestBid returns the highest bid level.
func (b *OrderBook) BestBid() (Level, bool) {
	return first(b.Levels(SideBid, 1))
}

// BestAsk returns the lowest ask level.
func (b *OrderBook) BestAsk() (Level, bool) {
	return first(b.Levels(SideAsk, 1))
}

// Spread returns best ask minus best bid when both sides have orders.
func (b *OrderBook) Spread() (float64, bool) {
	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()
	if !okBid || !okAsk {
		return 0, false
	}
	return ask.Price - bid.Price, true
}

// Price converts a lot price of this market to human units.
func (b *OrderBook) Price(lots uint64) float64 {
	return PriceLotsToHuman(lots, b.BaseDecimals, b.QuoteDecimals, b.BaseLotSize, b.QuoteLotSize)
}

// Quantity converts a lot quantity of this market to human units.
func (b *OrderBook) Quantity(lots uint64) float64 {
	return QuantityLotsToHuman(lots, b.BaseLotSize, b.BaseDecimals)
}

func first(levels []Level) (Level, bool) {
	if len(levels) == 0 {
		return Level{}, false
	}
	return levels[0], true
}
