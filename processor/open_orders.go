package processor

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/gagliardetto/solana-go"

	appconfig "serumflow/config"
	"serumflow/engine"
	"serumflow/logger"
	"serumflow/serum"
)

// OpenOrdersSummary is the latest state of one watched open orders account.
type OpenOrdersSummary struct {
	Address    string  `json:"address"`
	Market     string  `json:"market"`
	Owner      string  `json:"owner"`
	Slot       uint64  `json:"slot"`
	BaseFree   float64 `json:"base_free"`
	BaseTotal  float64 `json:"base_total"`
	QuoteFree  float64 `json:"quote_free"`
	QuoteTotal float64 `json:"quote_total"`
	Bids       int     `json:"bids"`
	Asks       int     `json:"asks"`
}

// OpenOrdersMonitor streams the open orders accounts listed in the market
// configuration and keeps their latest balances.
type OpenOrdersMonitor struct {
	config  *appconfig.Config
	manager *engine.Manager
	log     *logger.Log

	mu      sync.RWMutex
	running bool
	subs    []*engine.Subscription
	latest  map[solana.PublicKey]OpenOrdersSummary
}

func NewOpenOrdersMonitor(cfg *appconfig.Config, manager *engine.Manager) *OpenOrdersMonitor {
	return &OpenOrdersMonitor{
		config:  cfg,
		manager: manager,
		log:     logger.GetLogger(),
		latest:  make(map[solana.PublicKey]OpenOrdersSummary),
	}
}

// Start subscribes every configured open orders account of a live market.
// Accounts of markets that are not live are skipped with a warning.
func (m *OpenOrdersMonitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("open orders monitor already running")
	}
	m.running = true
	m.mu.Unlock()

	log := m.log.WithComponent("open_orders_monitor")
	for _, mc := range m.config.Markets {
		if len(mc.OpenOrders) == 0 {
			continue
		}
		key, err := mc.PublicKey()
		if err != nil {
			m.Stop()
			return fmt.Errorf("market %s: %w", mc.Name, err)
		}
		st, ok := m.manager.Lookup(key)
		if !ok || st.State() != engine.StateLive {
			log.WithFields(logger.Fields{"market": mc.Name}).Warn("market not live, open orders not watched")
			continue
		}
		addrs, err := mc.OpenOrdersKeys()
		if err != nil {
			m.Stop()
			return fmt.Errorf("market %s: %w", mc.Name, err)
		}
		for _, addr := range addrs {
			sub, err := st.SubscribeOpenOrders(ctx, addr, m.onOpenOrders(st))
			if err != nil {
				m.Stop()
				return fmt.Errorf("subscribe open orders %s: %w", addr, err)
			}
			m.mu.Lock()
			m.subs = append(m.subs, sub)
			m.mu.Unlock()
		}
	}
	return nil
}

// Stop cancels every subscription.
func (m *OpenOrdersMonitor) Stop() {
	m.mu.Lock()
	m.running = false
	subs := m.subs
	m.subs = nil
	m.mu.Unlock()
	for _, sub := range subs {
		sub.Unsubscribe()
	}
}

func (m *OpenOrdersMonitor) onOpenOrders(st *engine.MarketState) func(engine.OpenOrdersUpdate) {
	return func(u engine.OpenOrdersUpdate) {
		summary := Summarize(u, st.BaseDecimals, st.QuoteDecimals)

		m.mu.Lock()
		m.latest[u.Address] = summary
		m.mu.Unlock()

		m.log.WithComponent("open_orders_monitor").WithFields(logger.Fields{
			"market":      u.Name,
			"address":     summary.Address,
			"base_total":  summary.BaseTotal,
			"quote_total": summary.QuoteTotal,
			"bids":        summary.Bids,
			"asks":        summary.Asks,
		}).Debug("open orders updated")
	}
}

// Summarize converts an open orders update to human units.
func Summarize(u engine.OpenOrdersUpdate, baseDecimals, quoteDecimals uint8) OpenOrdersSummary {
	acc := u.Account
	s := OpenOrdersSummary{
		Address:    u.Address.String(),
		Market:     acc.Market.String(),
		Owner:      acc.Owner.String(),
		Slot:       u.Slot,
		BaseFree:   serum.NativeToHuman(acc.BaseTokenFree, baseDecimals),
		BaseTotal:  serum.NativeToHuman(acc.BaseTokenTotal, baseDecimals),
		QuoteFree:  serum.NativeToHuman(acc.QuoteTokenFree, quoteDecimals),
		QuoteTotal: serum.NativeToHuman(acc.QuoteTokenTotal, quoteDecimals),
	}
	for _, o := range acc.OpenOrders() {
		if o.Side == serum.SideBid {
			s.Bids++
		} else {
			s.Asks++
		}
	}
	return s
}

// Accounts returns the latest summary of every watched account, ordered by
// address.
func (m *OpenOrdersMonitor) Accounts() []OpenOrdersSummary {
	m.mu.RLock()
	out := make([]OpenOrdersSummary, 0, len(m.latest))
	for _, s := range m.latest {
		out = append(out, s)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}
