package serum

import "strings"

// AccountFlags is the u64 bit set at the start of every dex account.
type AccountFlags uint64

const (
	FlagInitialized  AccountFlags = 1 << 0
	FlagMarket       AccountFlags = 1 << 1
	FlagOpenOrders   AccountFlags = 1 << 2
	FlagRequestQueue AccountFlags = 1 << 3
	FlagEventQueue   AccountFlags = 1 << 4
	FlagBids         AccountFlags = 1 << 5
	FlagAsks         AccountFlags = 1 << 6
	FlagDisabled     AccountFlags = 1 << 7
)

var accountFlagNames = []struct {
	flag AccountFlags
	name string
}{
	{FlagInitialized, "initialized"},
	{FlagMarket, "market"},
	{FlagOpenOrders, "open_orders"},
	{FlagRequestQueue, "request_queue"},
	{FlagEventQueue, "event_queue"},
	{FlagBids, "bids"},
	{FlagAsks, "asks"},
	{FlagDisabled, "disabled"},
}

// Has reports whether every bit of f is set.
func (a AccountFlags) Has(f AccountFlags) bool {
	return a&f == f
}

func (a AccountFlags) String() string {
	var parts []string
	for _, n := range accountFlagNames {
		if a.Has(n.flag) {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// EventFlags is the first byte of an event record.
type EventFlags uint8

const (
	EventFill         EventFlags = 1 << 0
	EventOut          EventFlags = 1 << 1
	EventBid          EventFlags = 1 << 2
	EventMaker        EventFlags = 1 << 3
	EventReleaseFunds EventFlags = 1 << 4
)

func (e EventFlags) IsFill() bool  { return e&EventFill != 0 }
func (e EventFlags) IsOut() bool   { return e&EventOut != 0 }
func (e EventFlags) IsBid() bool   { return e&EventBid != 0 }
func (e EventFlags) IsMaker() bool { return e&EventMaker != 0 }

// Side is one side of the book.
type Side uint8

const (
	SideBid Side = iota
	SideAsk
)

func (s Side) String() string {
	if s == SideBid {
		return "bid"
	}
	return "ask"
}
