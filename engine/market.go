package engine

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gagliardetto/solana-go"

	"serumflow/internal/metrics"
	"serumflow/logger"
	"serumflow/serum"
)

// State is the lifecycle stage of a market.
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateLive
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateLive:
		return "live"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

type cachedSide struct {
	side *serum.OrderBookSide
	slot uint64
}

// MarketState owns the live view of one market: the latest bids and asks and
// the event queue sequence baseline.
type MarketState struct {
	Address       solana.PublicKey
	Name          string
	Market        *serum.Market
	BaseDecimals  uint8
	QuoteDecimals uint8

	manager *Manager
	log     *logger.Log

	state   atomic.Int32
	ready   chan struct{}
	initErr error

	// emitMu orders apply-and-emit sequences so observers never see an older
	// book after a newer one.
	emitMu sync.Mutex

	mu      sync.RWMutex
	bids    cachedSide
	asks    cachedSide
	version uint64
	seq     uint32
	seqSet  bool
	seqSlot uint64
	trades  []serum.TradeEvent

	feedMu     sync.Mutex
	obsMu      sync.RWMutex
	book       feed[BookUpdate]
	tradeFeed  feed[TradeUpdate]
	openOrders map[solana.PublicKey]*feed[OpenOrdersUpdate]
}

func newMarketState(m *Manager, address solana.PublicKey, name string) *MarketState {
	if name == "" {
		name = address.String()
	}
	return &MarketState{
		Address:    address,
		Name:       name,
		manager:    m,
		log:        m.log,
		ready:      make(chan struct{}),
		openOrders: make(map[solana.PublicKey]*feed[OpenOrdersUpdate]),
	}
}

// State reports the current lifecycle stage.
func (s *MarketState) State() State {
	return State(s.state.Load())
}

// Ready is closed once initialization finished, successfully or not.
func (s *MarketState) Ready() <-chan struct{} {
	return s.ready
}

// Err returns the initialization error, if any.
func (s *MarketState) Err() error {
	select {
	case <-s.ready:
		return s.initErr
	default:
		return nil
	}
}

// OrderBook returns the current merged book. Sides that have not been observed
// are nil.
func (s *MarketState) OrderBook() *serum.OrderBook {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bookLocked()
}

// RecentTrades returns up to limit of the most recent trades, newest first.
func (s *MarketState) RecentTrades(limit int) []serum.TradeEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.trades) {
		limit = len(s.trades)
	}
	out := make([]serum.TradeEvent, limit)
	copy(out, s.trades[:limit])
	return out
}

// SeqBaseline returns the event queue sequence number of the last processed
// update and whether one has been recorded.
func (s *MarketState) SeqBaseline() (uint32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seq, s.seqSet
}

func (s *MarketState) bookLocked() *serum.OrderBook {
	book := &serum.OrderBook{
		Bids:          s.bids.side,
		Asks:          s.asks.side,
		BaseDecimals:  s.BaseDecimals,
		QuoteDecimals: s.QuoteDecimals,
	}
	if s.Market != nil {
		book.BaseLotSize = s.Market.BaseLotSize
		book.QuoteLotSize = s.Market.QuoteLotSize
	}
	return book
}

// ApplyBids decodes a bids account snapshot and emits the merged book. An
// update from an older slot than the cached one is ignored. A decode failure
// leaves the cached side untouched.
func (s *MarketState) ApplyBids(data []byte, slot uint64) error {
	return s.applySide(serum.SideBid, data, slot)
}

// ApplyAsks is ApplyBids for the asks account.
func (s *MarketState) ApplyAsks(data []byte, slot uint64) error {
	return s.applySide(serum.SideAsk, data, slot)
}

func (s *MarketState) applySide(want serum.Side, data []byte, slot uint64) error {
	account := want.String() + "s"
	decoded, err := serum.DecodeOrderBookSide(data)
	if err == nil && decoded.Side() != want {
		err = fmt.Errorf("%w: got %s for %s", serum.ErrUnexpectedFlags, decoded.Flags, account)
	}
	if err != nil {
		metrics.IncDecodeError(s.Name, account)
		return fmt.Errorf("%s %s: %w", s.Name, account, err)
	}
	if n := len(decoded.Slab.Malformed); n > 0 {
		s.log.WithComponent("market_manager").WithFields(logger.Fields{
			"market":    s.Name,
			"account":   account,
			"malformed": n,
			"slot":      slot,
		}).Warn("skipped malformed slab nodes")
	}

	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	cache := &s.bids
	if want == serum.SideAsk {
		cache = &s.asks
	}
	if cache.side != nil && slot < cache.slot {
		s.mu.Unlock()
		metrics.IncStale(s.Name, account)
		return nil
	}
	*cache = cachedSide{side: decoded, slot: slot}
	s.version++
	update := BookUpdate{
		Market:  s.Address,
		Name:    s.Name,
		Slot:    slot,
		Version: s.version,
		Book:    s.bookLocked(),
	}
	s.mu.Unlock()

	metrics.IncUpdate(s.Name, account)
	s.emitBook(update)
	return nil
}

// ApplyEventQueue diffs an event queue snapshot against the sequence baseline
// and emits the new fills. The first snapshot only records the baseline. A
// regressed sequence number resynchronizes from the full queue.
func (s *MarketState) ApplyEventQueue(data []byte, slot uint64) (*TradeUpdate, error) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	if s.seqSet && slot < s.seqSlot {
		s.mu.Unlock()
		metrics.IncStale(s.Name, "event_queue")
		return nil, nil
	}

	update := &TradeUpdate{Market: s.Address, Name: s.Name, Slot: slot, Trades: []serum.TradeEvent{}}
	if !s.seqSet {
		q, err := serum.DecodeEventQueue(data)
		if err != nil {
			s.mu.Unlock()
			metrics.IncDecodeError(s.Name, "event_queue")
			return nil, fmt.Errorf("%s event queue: %w", s.Name, err)
		}
		update.NextSeqNum = q.Header.NextSeqNum
	} else {
		batch, err := serum.DecodeTradesSince(data, s.seq, s.BaseDecimals, s.QuoteDecimals)
		if err != nil {
			s.mu.Unlock()
			metrics.IncDecodeError(s.Name, "event_queue")
			return nil, fmt.Errorf("%s event queue: %w", s.Name, err)
		}
		update.NextSeqNum = batch.Header.NextSeqNum
		update.Resync = batch.Resync
		update.Trades = batch.Trades
	}
	if update.Resync {
		s.log.WithComponent("market_manager").WithFields(logger.Fields{
			"market":   s.Name,
			"baseline": s.seq,
			"next_seq": update.NextSeqNum,
			"slot":     slot,
		}).Warn("event queue sequence regressed; resynchronizing")
	}
	s.seq = update.NextSeqNum
	s.seqSet = true
	s.seqSlot = slot
	s.rememberTrades(update.Trades)
	s.mu.Unlock()

	metrics.IncUpdate(s.Name, "event_queue")
	if update.Resync {
		metrics.IncResync(s.Name)
	}
	metrics.AddTrades(s.Name, len(update.Trades))
	s.emitTrades(*update)
	return update, nil
}

const recentTradesLimit = 256

func (s *MarketState) rememberTrades(trades []serum.TradeEvent) {
	if len(trades) == 0 {
		return
	}
	merged := make([]serum.TradeEvent, 0, len(trades)+len(s.trades))
	merged = append(merged, trades...)
	merged = append(merged, s.trades...)
	if len(merged) > recentTradesLimit {
		merged = merged[:recentTradesLimit]
	}
	s.trades = merged
}

// ApplyOpenOrders decodes an open orders account and emits it to the
// observers of that account.
func (s *MarketState) ApplyOpenOrders(address solana.PublicKey, data []byte, slot uint64) error {
	account, err := serum.DecodeOpenOrdersAccount(data)
	if err != nil {
		metrics.IncDecodeError(s.Name, "open_orders")
		return fmt.Errorf("%s open orders %s: %w", s.Name, address, err)
	}
	if account.Market != s.Address {
		metrics.IncDecodeError(s.Name, "open_orders")
		return fmt.Errorf("%s open orders %s belongs to market %s", s.Name, address, account.Market)
	}
	metrics.IncUpdate(s.Name, "open_orders")
	s.emitOpenOrders(address, OpenOrdersUpdate{
		Market:  s.Address,
		Name:    s.Name,
		Address: address,
		Slot:    slot,
		Account: account,
	})
	return nil
}

func (s *MarketState) emitBook(update BookUpdate) {
	s.obsMu.RLock()
	fns := s.book.snapshot()
	s.obsMu.RUnlock()
	for _, fn := range fns {
		fn(update)
	}
}

func (s *MarketState) emitTrades(update TradeUpdate) {
	s.obsMu.RLock()
	fns := s.tradeFeed.snapshot()
	s.obsMu.RUnlock()
	for _, fn := range fns {
		fn(update)
	}
}

func (s *MarketState) emitOpenOrders(address solana.PublicKey, update OpenOrdersUpdate) {
	s.obsMu.RLock()
	var fns []func(OpenOrdersUpdate)
	if f, ok := s.openOrders[address]; ok {
		fns = f.snapshot()
	}
	s.obsMu.RUnlock()
	for _, fn := range fns {
		fn(update)
	}
}
