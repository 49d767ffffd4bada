package serum_test

import (
	"reflect"
	"testing"

	"serumflow/serum"
	"serumflow/serum/serumtest"
)

func decodeSide(t *testing.T, flags serum.AccountFlags, nodes ...serumtest.Node) *serum.OrderBookSide {
	t.Helper()
	side, err := serum.DecodeOrderBookSide(serumtest.Side(serum.FlagInitialized|flags, nodes, len(nodes)+2))
	if err != nil {
		t.Fatalf("decode side: %v", err)
	}
	return side
}

func unitBook(t *testing.T) *serum.OrderBook {
	t.Helper()
	return &serum.OrderBook{
		Bids: decodeSide(t, serum.FlagBids,
			serumtest.Leaf(10, 1, 1),
			serumtest.Leaf(10, 2, 2),
			serumtest.Leaf(9, 3, 5),
			serumtest.Leaf(11, 4, 1),
		),
		Asks: decodeSide(t, serum.FlagAsks,
			serumtest.Leaf(13, 5, 4),
			serumtest.Leaf(12, 6, 3),
		),
		BaseLotSize:  1,
		QuoteLotSize: 1,
	}
}

func TestOrderBookLevels(t *testing.T) {
	book := unitBook(t)
	tests := []struct {
		name  string
		side  serum.Side
		depth int
		want  []serum.Level
	}{
		{"all bids", serum.SideBid, 0, []serum.Level{{Price: 11, Quantity: 1, Orders: 1}, {Price: 10, Quantity: 3, Orders: 2}, {Price: 9, Quantity: 5, Orders: 1}}},
		{"top bids", serum.SideBid, 2, []serum.Level{{Price: 11, Quantity: 1, Orders: 1}, {Price: 10, Quantity: 3, Orders: 2}}},
		{"all asks", serum.SideAsk, 0, []serum.Level{{Price: 12, Quantity: 3, Orders: 1}, {Price: 13, Quantity: 4, Orders: 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := book.Levels(tt.side, tt.depth); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("got %+v want %+v", got, tt.want)
			}
		})
	}
}

func TestOrderBookBestAndSpread(t *testing.T) {
	book := unitBook(t)
	bid, ok := book.BestBid()
	if !ok || bid.Price != 11 {
		t.Fatalf("best bid: %+v %v", bid, ok)
	}
	ask, ok := book.BestAsk()
	if !ok || ask.Price != 12 {
		t.Fatalf("best ask: %+v %v", ask, ok)
	}
	spread, ok := book.Spread()
	if !ok || spread != 1 {
		t.Fatalf("spread: %v %v", spread, ok)
	}

	book.Asks = nil
	if _, ok := book.Spread(); ok {
		t.Fatalf("spread with a missing side should not be reported")
	}
	if levels := book.Levels(serum.SideAsk, 0); levels != nil {
		t.Fatalf("expected no ask levels, got %v", levels)
	}
}

func TestOrderBookHumanUnits(t *testing.T) {
	book := &serum.OrderBook{
		Bids:          decodeSide(t, serum.FlagBids, serumtest.Leaf(10000, 1, 20)),
		BaseDecimals:  9,
		QuoteDecimals: 6,
		BaseLotSize:   100000,
		QuoteLotSize:  100,
	}
	bid, ok := book.BestBid()
	if !ok {
		t.Fatalf("expected a bid")
	}
	if bid.Price != 10000 {
		t.Fatalf("price: got %v", bid.Price)
	}
	if !almostEqual(bid.Quantity, 0.002) {
		t.Fatalf("quantity: got %v", bid.Quantity)
	}
}
