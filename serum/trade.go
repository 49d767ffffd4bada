package serum

// TradeEvent is a fill expressed in human units.
type TradeEvent struct {
	Side  Side
	Price float64
	Size  float64
	Event Event
}

// TradePrice derives the fill price and size from the native amounts of a fill
// event. The fee or rebate is added or removed depending on side and maker
// role before the quote amount is divided by the base amount.
func TradePrice(ev Event, baseDecimals, quoteDecimals uint8) (price, size float64, ok bool) {
	paid := float64(ev.NativeQtyPaid)
	released := float64(ev.NativeQtyReleased)
	fee := float64(ev.NativeFeeOrRebate)

	var quote, base float64
	switch {
	case ev.Flags.IsBid() && ev.Flags.IsMaker():
		quote, base = paid+fee, released
	case ev.Flags.IsBid():
		quote, base = paid-fee, released
	case ev.Flags.IsMaker():
		quote, base = released-fee, paid
	default:
		quote, base = released+fee, paid
	}
	if base == 0 {
		return 0, 0, false
	}
	price = quote * pow10(baseDecimals) / (pow10(quoteDecimals) * base)
	size = base / pow10(baseDecimals)
	return price, size, true
}

// NewTradeEvent converts a fill event. Events that are not fills or that paid
// nothing are not trades.
func NewTradeEvent(ev Event, baseDecimals, quoteDecimals uint8) (TradeEvent, bool) {
	if !ev.Flags.IsFill() || ev.NativeQtyPaid == 0 {
		return TradeEvent{}, false
	}
	price, size, ok := TradePrice(ev, baseDecimals, quoteDecimals)
	if !ok {
		return TradeEvent{}, false
	}
	side := SideAsk
	if ev.Flags.IsBid() {
		side = SideBid
	}
	return TradeEvent{Side: side, Price: price, Size: size, Event: ev}, true
}

// Trades converts every fill in events, preserving order.
func Trades(events []Event, baseDecimals, quoteDecimals uint8) []TradeEvent {
	trades := make([]TradeEvent, 0, len(events))
	for _, ev := range events {
		if t, ok := NewTradeEvent(ev, baseDecimals, quoteDecimals); ok {
			trades = append(trades, t)
		}
	}
	return trades
}

// TradeBatch is the outcome of diffing an event queue snapshot against a
// sequence baseline.
type TradeBatch struct {
	Header QueueHeader
	Trades []TradeEvent
	Resync bool
}

// DecodeTradesSince decodes the fills appended to the event queue after
// sequence number since.
func DecodeTradesSince(data []byte, since uint32, baseDecimals, quoteDecimals uint8) (*TradeBatch, error) {
	q, resync, err := DecodeEventQueueSince(data, since)
	if err != nil {
		return nil, err
	}
	return &TradeBatch{
		Header: q.Header,
		Trades: Trades(q.Events, baseDecimals, quoteDecimals),
		Resync: resync,
	}, nil
}
