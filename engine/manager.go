package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/gagliardetto/solana-go"

	"serumflow/logger"
	"serumflow/serum"
)

// Manager owns the MarketState of every market it has been asked about.
type Manager struct {
	fetcher AccountFetcher
	source  PushSource
	log     *logger.Log

	mu      sync.Mutex
	markets map[solana.PublicKey]*MarketState
	// failed keeps the last failed attempt per address until it is retried.
	failed map[solana.PublicKey]*MarketState
}

// NewManager creates a manager. fetcher is required to initialize markets;
// source may be nil, in which case state only changes through the Apply
// methods.
func NewManager(fetcher AccountFetcher, source PushSource, log *logger.Log) *Manager {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Manager{
		fetcher: fetcher,
		source:  source,
		log:     log,
		markets: make(map[solana.PublicKey]*MarketState),
		failed:  make(map[solana.PublicKey]*MarketState),
	}
}

// Market returns the live state of the market at address, initializing it on
// first use: the market account is fetched and decoded, then both token mints
// for their decimals. Concurrent callers share one initialization. A failed
// initialization is forgotten so that a later call retries it.
func (m *Manager) Market(ctx context.Context, address solana.PublicKey) (*MarketState, error) {
	return m.NamedMarket(ctx, address, "")
}

// NamedMarket is Market with a display name used in logs, metrics and updates.
func (m *Manager) NamedMarket(ctx context.Context, address solana.PublicKey, name string) (*MarketState, error) {
	m.mu.Lock()
	st, ok := m.markets[address]
	if !ok {
		st = newMarketState(m, address, name)
		m.markets[address] = st
		delete(m.failed, address)
		st.state.Store(int32(StateInitializing))
		m.mu.Unlock()
		m.initialize(ctx, st)
	} else {
		m.mu.Unlock()
	}

	select {
	case <-st.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if st.initErr != nil {
		return nil, st.initErr
	}
	return st, nil
}

func (m *Manager) initialize(ctx context.Context, st *MarketState) {
	log := m.log.WithComponent("market_manager").WithFields(logger.Fields{
		"market":  st.Name,
		"address": st.Address.String(),
	})
	log.Info("initializing market")

	err := m.loadMetadata(ctx, st)
	if err != nil {
		st.initErr = err
		st.state.Store(int32(StateFailed))
		m.mu.Lock()
		if m.markets[st.Address] == st {
			delete(m.markets, st.Address)
			m.failed[st.Address] = st
		}
		m.mu.Unlock()
		log.WithError(err).Error("market initialization failed")
	} else {
		st.state.Store(int32(StateLive))
		log.WithFields(logger.Fields{
			"base_decimals":  st.BaseDecimals,
			"quote_decimals": st.QuoteDecimals,
			"base_lot_size":  st.Market.BaseLotSize,
			"quote_lot_size": st.Market.QuoteLotSize,
		}).Info("market live")
	}
	close(st.ready)
}

func (m *Manager) loadMetadata(ctx context.Context, st *MarketState) error {
	if m.fetcher == nil {
		return fmt.Errorf("market %s: no account fetcher configured", st.Name)
	}
	acc, err := m.fetcher.GetAccount(ctx, st.Address)
	if err != nil {
		return fmt.Errorf("fetch market %s: %w", st.Name, err)
	}
	market, err := serum.DecodeMarket(acc.Data)
	if err != nil {
		return fmt.Errorf("decode market %s: %w", st.Name, err)
	}
	if !market.Flags.Has(serum.FlagMarket) {
		return fmt.Errorf("decode market %s: %w: %s", st.Name, serum.ErrUnexpectedFlags, market.Flags)
	}
	baseDecimals, err := m.mintDecimals(ctx, market.BaseMint)
	if err != nil {
		return fmt.Errorf("market %s base mint: %w", st.Name, err)
	}
	quoteDecimals, err := m.mintDecimals(ctx, market.QuoteMint)
	if err != nil {
		return fmt.Errorf("market %s quote mint: %w", st.Name, err)
	}

	st.Market = market
	st.BaseDecimals = baseDecimals
	st.QuoteDecimals = quoteDecimals
	return nil
}

func (m *Manager) mintDecimals(ctx context.Context, mint solana.PublicKey) (uint8, error) {
	acc, err := m.fetcher.GetAccount(ctx, mint)
	if err != nil {
		return 0, err
	}
	return serum.DecodeMintDecimals(acc.Data)
}

// Lookup returns an already initialized market without fetching anything.
func (m *Manager) Lookup(address solana.PublicKey) (*MarketState, bool) {
	m.mu.Lock()
	st, ok := m.markets[address]
	m.mu.Unlock()
	if !ok || st.State() != StateLive {
		return nil, false
	}
	return st, true
}

// LookupName finds a live market by display name or base58 address.
func (m *Manager) LookupName(name string) (*MarketState, bool) {
	for _, st := range m.Markets() {
		if st.Name == name || st.Address.String() == name {
			return st, true
		}
	}
	return nil, false
}

// Markets lists the live markets ordered by name.
func (m *Manager) Markets() []*MarketState {
	m.mu.Lock()
	out := make([]*MarketState, 0, len(m.markets))
	for _, st := range m.markets {
		if st.State() == StateLive {
			out = append(out, st)
		}
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// AllMarkets lists every market the manager knows about, whether
// initializing, live or failed on its last attempt, ordered by name.
func (m *Manager) AllMarkets() []*MarketState {
	m.mu.Lock()
	out := make([]*MarketState, 0, len(m.markets)+len(m.failed))
	for _, st := range m.markets {
		out = append(out, st)
	}
	for _, st := range m.failed {
		out = append(out, st)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Address.String() < out[j].Address.String()
	})
	return out
}

// Close cancels every push subscription held by the manager's markets.
func (m *Manager) Close() {
	for _, st := range m.Markets() {
		st.closeFeeds()
	}
}

func (s *MarketState) closeFeeds() {
	s.feedMu.Lock()
	defer s.feedMu.Unlock()
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.book.closeHandles()
	s.book.observers = nil
	s.tradeFeed.closeHandles()
	s.tradeFeed.observers = nil
	for _, f := range s.openOrders {
		f.closeHandles()
		f.observers = nil
	}
}
