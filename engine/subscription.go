package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/gagliardetto/solana-go"

	"serumflow/logger"
)

// Subscription is the handle returned by the Subscribe methods.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Unsubscribe stops further emissions to this observer. Other subscriptions on
// the same market are unaffected. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(s.cancel)
}

// feed is the set of observers of one kind of update together with the push
// subscriptions that keep it supplied.
type feed[T any] struct {
	nextID    uint64
	observers map[uint64]func(T)
	handles   []Handle
}

func (f *feed[T]) add(fn func(T)) uint64 {
	if f.observers == nil {
		f.observers = make(map[uint64]func(T))
	}
	f.nextID++
	f.observers[f.nextID] = fn
	return f.nextID
}

func (f *feed[T]) snapshot() []func(T) {
	ids := make([]uint64, 0, len(f.observers))
	for id := range f.observers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]func(T), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, f.observers[id])
	}
	return fns
}

func (f *feed[T]) closeHandles() {
	for _, h := range f.handles {
		h.Unsubscribe()
	}
	f.handles = nil
}

type pushTarget struct {
	address solana.PublicKey
	account string
	apply   func(data []byte, slot uint64) error
}

// SubscribeOrderBook registers fn for merged book updates. The first observer
// starts push subscriptions for the bids and asks accounts and primes both
// sides from the fetcher. fn runs on the push source's goroutine and must not
// call back into this market's Apply methods.
func (s *MarketState) SubscribeOrderBook(ctx context.Context, fn func(BookUpdate)) (*Subscription, error) {
	if err := s.requireLive(); err != nil {
		return nil, err
	}
	targets := []pushTarget{
		{address: s.Market.Bids, account: "bids", apply: s.ApplyBids},
		{address: s.Market.Asks, account: "asks", apply: s.ApplyAsks},
	}
	return subscribe(ctx, s, &s.book, fn, targets)
}

// SubscribeTrades registers fn for trade batches decoded from the event queue.
func (s *MarketState) SubscribeTrades(ctx context.Context, fn func(TradeUpdate)) (*Subscription, error) {
	if err := s.requireLive(); err != nil {
		return nil, err
	}
	targets := []pushTarget{{
		address: s.Market.EventQueue,
		account: "event_queue",
		apply: func(data []byte, slot uint64) error {
			_, err := s.ApplyEventQueue(data, slot)
			return err
		},
	}}
	return subscribe(ctx, s, &s.tradeFeed, fn, targets)
}

// SubscribeOpenOrders registers fn for updates of one open orders account.
func (s *MarketState) SubscribeOpenOrders(ctx context.Context, address solana.PublicKey, fn func(OpenOrdersUpdate)) (*Subscription, error) {
	if err := s.requireLive(); err != nil {
		return nil, err
	}
	s.feedMu.Lock()
	f, ok := s.openOrders[address]
	if !ok {
		f = &feed[OpenOrdersUpdate]{}
		s.obsMu.Lock()
		s.openOrders[address] = f
		s.obsMu.Unlock()
	}
	s.feedMu.Unlock()

	targets := []pushTarget{{
		address: address,
		account: "open_orders",
		apply: func(data []byte, slot uint64) error {
			return s.ApplyOpenOrders(address, data, slot)
		},
	}}
	return subscribe(ctx, s, f, fn, targets)
}

func (s *MarketState) requireLive() error {
	if st := s.State(); st != StateLive {
		return fmt.Errorf("market %s is %s", s.Name, st)
	}
	return nil
}

func subscribe[T any](ctx context.Context, s *MarketState, f *feed[T], fn func(T), targets []pushTarget) (*Subscription, error) {
	if fn == nil {
		return nil, fmt.Errorf("observer is required")
	}
	s.feedMu.Lock()
	defer s.feedMu.Unlock()

	first := len(f.observers) == 0
	if first {
		handles, err := s.startPush(ctx, targets)
		if err != nil {
			return nil, err
		}
		f.handles = handles
	}

	s.obsMu.Lock()
	id := f.add(fn)
	s.obsMu.Unlock()

	if first {
		s.prime(ctx, targets)
	}

	return &Subscription{cancel: func() {
		s.feedMu.Lock()
		defer s.feedMu.Unlock()
		s.obsMu.Lock()
		delete(f.observers, id)
		last := len(f.observers) == 0
		s.obsMu.Unlock()
		if last {
			f.closeHandles()
		}
	}}, nil
}

func (s *MarketState) startPush(ctx context.Context, targets []pushTarget) ([]Handle, error) {
	source := s.manager.source
	if source == nil {
		return nil, nil
	}
	handles := make([]Handle, 0, len(targets))
	for _, t := range targets {
		t := t
		h, err := source.Subscribe(ctx, t.address, func(data []byte, slot uint64) {
			if err := t.apply(data, slot); err != nil {
				s.log.WithComponent("market_manager").WithError(err).WithFields(logger.Fields{
					"market":  s.Name,
					"account": t.account,
					"slot":    slot,
				}).Warn("failed to apply account update")
			}
		})
		if err != nil {
			for _, opened := range handles {
				opened.Unsubscribe()
			}
			return nil, fmt.Errorf("subscribe %s %s: %w", s.Name, t.account, err)
		}
		handles = append(handles, h)
	}
	return handles, nil
}

// prime loads the current value of each target so observers do not wait for
// the first push. Failures are logged; the push feed still delivers later.
func (s *MarketState) prime(ctx context.Context, targets []pushTarget) {
	fetcher := s.manager.fetcher
	if fetcher == nil {
		return
	}
	for _, t := range targets {
		acc, err := fetcher.GetAccount(ctx, t.address)
		if err == nil {
			err = t.apply(acc.Data, acc.Slot)
		}
		if err != nil {
			s.log.WithComponent("market_manager").WithError(err).WithFields(logger.Fields{
				"market":  s.Name,
				"account": t.account,
			}).Warn("failed to prime feed")
		}
	}
}
