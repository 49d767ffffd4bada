package processor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"

	appconfig "serumflow/config"
	"serumflow/engine"
	"serumflow/internal/channel/book"
	"serumflow/internal/channel/trade"
	"serumflow/models"
	"serumflow/serum"
	"serumflow/serum/serumtest"
)

var (
	marketKey = serumtest.Key(1)
	baseMint  = serumtest.Key(10)
	quoteMint = serumtest.Key(20)
	eventKey  = serumtest.Key(60)
	bidsKey   = serumtest.Key(70)
	asksKey   = serumtest.Key(80)
	ooKey     = serumtest.Key(90)
)

type mapFetcher struct {
	mu       sync.Mutex
	accounts map[solana.PublicKey]*engine.Account
}

func (f *mapFetcher) set(address solana.PublicKey, data []byte, slot uint64) {
	f.mu.Lock()
	f.accounts[address] = &engine.Account{Data: data, Slot: slot}
	f.mu.Unlock()
}

func (f *mapFetcher) GetAccount(_ context.Context, address solana.PublicKey) (*engine.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	acc, ok := f.accounts[address]
	if !ok {
		return nil, fmt.Errorf("account %s not found", address)
	}
	return acc, nil
}

func newLiveMarket(t *testing.T) (*engine.Manager, *engine.MarketState, *mapFetcher) {
	t.Helper()
	f := &mapFetcher{accounts: make(map[solana.PublicKey]*engine.Account)}
	f.set(marketKey, serumtest.Market(serum.Market{
		Flags:        serum.FlagInitialized | serum.FlagMarket,
		OwnAddress:   marketKey,
		BaseMint:     baseMint,
		QuoteMint:    quoteMint,
		EventQueue:   eventKey,
		Bids:         bidsKey,
		Asks:         asksKey,
		BaseLotSize:  100000,
		QuoteLotSize: 100,
	}), 1)
	f.set(baseMint, serumtest.Mint(9), 1)
	f.set(quoteMint, serumtest.Mint(6), 1)

	m := engine.NewManager(f, nil, nil)
	st, err := m.NamedMarket(context.Background(), marketKey, "SOL/USDC")
	if err != nil {
		t.Fatalf("market: %v", err)
	}
	return m, st, f
}

func testConfig() *appconfig.Config {
	return &appconfig.Config{
		Markets: []appconfig.MarketConfig{{Name: "SOL/USDC", Address: marketKey.String()}},
		Processor: appconfig.ProcessorConfig{
			BatchSize:    2,
			BatchTimeout: time.Hour,
			BookDepth:    5,
			BookInterval: 10 * time.Millisecond,
		},
		Storage: appconfig.StorageConfig{
			S3: appconfig.S3Config{Enabled: true},
		},
	}
}

func fill(id uint64) serum.Event {
	return serum.Event{
		Flags:             serum.EventFill | serum.EventBid,
		NativeQtyReleased: 1_000_000_000,
		NativeQtyPaid:     2_000_000,
		OrderID:           serumtest.U128(id, id),
		ClientOrderID:     id,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestTradeProcessorStartStop(t *testing.T) {
	m, _, _ := newLiveMarket(t)
	p := NewTradeProcessor(testConfig(), m, trade.NewChannels(4, 4))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := p.Start(ctx); err == nil {
		t.Fatalf("expected error on second start")
	}
	p.Stop()
	p.Stop()
}

func TestTradeProcessorBatchesBySize(t *testing.T) {
	m, st, _ := newLiveMarket(t)
	ch := trade.NewChannels(8, 8)
	p := NewTradeProcessor(testConfig(), m, ch)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer p.Stop()

	ring := serumtest.NewRing(8)
	ring.Push(fill(1))
	if _, err := st.ApplyEventQueue(ring.Bytes(), 1); err != nil {
		t.Fatalf("baseline: %v", err)
	}
	ring.Push(fill(2), fill(3))
	if _, err := st.ApplyEventQueue(ring.Bytes(), 2); err != nil {
		t.Fatalf("diff: %v", err)
	}

	select {
	case batch := <-ch.Archive:
		if batch.RecordCount != 2 || len(batch.Trades) != 2 {
			t.Fatalf("expected 2 trades, got %d", batch.RecordCount)
		}
		if batch.BatchID == "" || batch.Name != "SOL/USDC" || batch.Market != marketKey.String() {
			t.Fatalf("unexpected batch header: %+v", batch)
		}
		got := batch.Trades[0]
		if got.Side != "bid" || got.Price != 2 || got.Size != 1 || got.Slot != 2 {
			t.Fatalf("unexpected trade: %+v", got)
		}
		if got.ClientOrderID != 3 {
			t.Fatalf("expected newest fill first, got client id %d", got.ClientOrderID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for batch")
	}

	if len(ch.Stream) != 0 {
		t.Fatalf("stream sink is disabled but received %d batches", len(ch.Stream))
	}
}

func TestTradeProcessorFlushesOnStop(t *testing.T) {
	m, st, _ := newLiveMarket(t)
	cfg := testConfig()
	cfg.Processor.BatchSize = 100
	cfg.Storage.Kafka.Enabled = true
	ch := trade.NewChannels(8, 8)
	p := NewTradeProcessor(cfg, m, ch)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	ring := serumtest.NewRing(8)
	if _, err := st.ApplyEventQueue(ring.Bytes(), 1); err != nil {
		t.Fatalf("baseline: %v", err)
	}
	ring.Push(fill(1))
	if _, err := st.ApplyEventQueue(ring.Bytes(), 2); err != nil {
		t.Fatalf("diff: %v", err)
	}
	waitFor(t, "trade to be batched", func() bool { return p.Stats().TradesProcessed == 1 })

	p.Stop()
	if len(ch.Archive) != 1 || len(ch.Stream) != 1 {
		t.Fatalf("expected one batch per sink, got archive=%d stream=%d", len(ch.Archive), len(ch.Stream))
	}
	if s := p.Stats(); s.BatchesFlushed != 1 || s.ActiveBatches != 0 {
		t.Fatalf("unexpected stats: %+v", s)
	}
}

func TestTradeProcessorDropsWhenSinkFull(t *testing.T) {
	m, _, _ := newLiveMarket(t)
	ch := trade.NewChannels(1, 0)
	p := NewTradeProcessor(testConfig(), m, ch)
	p.addToBatch(models.RawTradeMessage{Market: "m", Name: "m", Timestamp: time.Now()},
		[]models.NormTradeMessage{{Side: "bid"}, {Side: "ask"}})
	if s := p.Stats(); s.BatchesDropped != 1 || s.ActiveBatches != 0 {
		t.Fatalf("expected dropped batch, got %+v", s)
	}
}

func TestNormalizeTrade(t *testing.T) {
	ev := serum.Event{
		Flags:             serum.EventFill | serum.EventMaker,
		NativeQtyPaid:     1,
		NativeFeeOrRebate: 7,
		OrderID:           serumtest.U128(0xab, 0x01),
		Owner:             ooKey,
		ClientOrderID:     42,
	}
	raw := models.RawTradeMessage{Market: "m", Name: "n", Slot: 9}
	got := normalizeTrade(raw, serum.TradeEvent{Side: serum.SideAsk, Price: 1.5, Size: 2, Event: ev}, 123)
	if got.OrderID != "00000000000000ab0000000000000001" {
		t.Fatalf("unexpected order id %s", got.OrderID)
	}
	if !got.Maker || got.FeeOrRebate != 7 || got.Side != "ask" || got.Owner != ooKey.String() {
		t.Fatalf("unexpected trade: %+v", got)
	}
	if got.Slot != 9 || got.ReceivedTime != 123 || got.ClientOrderID != 42 {
		t.Fatalf("unexpected metadata: %+v", got)
	}
}

func testBook() *serum.OrderBook {
	bids, err := serum.DecodeOrderBookSide(serumtest.Side(serum.FlagInitialized|serum.FlagBids,
		[]serumtest.Node{serumtest.Leaf(100, 1, 5), serumtest.Leaf(90, 2, 5), serumtest.Leaf(100, 3, 5)}, 4))
	if err != nil {
		panic(err)
	}
	asks, err := serum.DecodeOrderBookSide(serumtest.Side(serum.FlagInitialized|serum.FlagAsks,
		[]serumtest.Node{serumtest.Leaf(110, 4, 1)}, 2))
	if err != nil {
		panic(err)
	}
	return &serum.OrderBook{
		Bids:          bids,
		Asks:          asks,
		BaseDecimals:  9,
		QuoteDecimals: 6,
		BaseLotSize:   100000,
		QuoteLotSize:  100,
	}
}

func TestBuildSnapshot(t *testing.T) {
	b := testBook()
	snap := BuildSnapshot(models.RawBookMessage{Name: "SOL/USDC", Version: 3, Book: b}, 1)
	if len(snap.Bids) != 1 || len(snap.Asks) != 1 {
		t.Fatalf("depth not applied: %d bids, %d asks", len(snap.Bids), len(snap.Asks))
	}
	if snap.BestBid == nil || snap.BestBid.Price != b.Price(100) || snap.BestBid.Orders != 2 {
		t.Fatalf("unexpected best bid: %+v", snap.BestBid)
	}
	if snap.Spread == nil || *snap.Spread != b.Price(110)-b.Price(100) {
		t.Fatalf("unexpected spread: %v", snap.Spread)
	}

	empty := BuildSnapshot(models.RawBookMessage{Name: "x"}, 5)
	if empty.Bids == nil || empty.Asks == nil || empty.BestBid != nil || empty.Spread != nil {
		t.Fatalf("empty snapshot should have empty sides and no top: %+v", empty)
	}
}

func TestBookProcessorPublishesLatest(t *testing.T) {
	m, st, _ := newLiveMarket(t)
	ch := book.NewChannels(8, 8)
	p := NewBookProcessor(testConfig(), m, ch)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer p.Stop()

	bids := serumtest.Side(serum.FlagInitialized|serum.FlagBids, []serumtest.Node{serumtest.Leaf(100, 1, 5)}, 2)
	asks := serumtest.Side(serum.FlagInitialized|serum.FlagAsks, []serumtest.Node{serumtest.Leaf(110, 2, 5)}, 2)
	if err := st.ApplyBids(bids, 5); err != nil {
		t.Fatalf("bids: %v", err)
	}
	if err := st.ApplyAsks(asks, 5); err != nil {
		t.Fatalf("asks: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case snap := <-ch.Norm:
			if snap.Version < 2 {
				continue
			}
			if snap.BestBid == nil || snap.BestAsk == nil || snap.Spread == nil {
				t.Fatalf("expected both sides in %+v", snap)
			}
			if snap.Slot != 5 || snap.Name != "SOL/USDC" {
				t.Fatalf("unexpected snapshot header: %+v", snap)
			}
			return
		case <-deadline:
			t.Fatal("timed out waiting for snapshot")
		}
	}
}

func TestBookProcessorKeepsNewestVersion(t *testing.T) {
	m, _, _ := newLiveMarket(t)
	p := NewBookProcessor(testConfig(), m, book.NewChannels(1, 1))
	p.remember(models.RawBookMessage{Market: "m", Version: 2})
	p.remember(models.RawBookMessage{Market: "m", Version: 1})
	if got := p.pending["m"].Version; got != 2 {
		t.Fatalf("expected version 2 to be kept, got %d", got)
	}
	if s := p.Stats(); s.UpdatesReceived != 2 || s.PendingMarkets != 1 {
		t.Fatalf("unexpected stats: %+v", s)
	}
}

func TestOpenOrdersMonitor(t *testing.T) {
	m, _, f := newLiveMarket(t)
	oo := serum.OpenOrdersAccount{
		Flags:          serum.FlagInitialized | serum.FlagOpenOrders,
		Market:         marketKey,
		Owner:          serumtest.Key(99),
		BaseTokenTotal: 2_000_000_000,
		QuoteTokenFree: 1_500_000,
		FreeSlotBits:   serumtest.U128(^uint64(0), ^uint64(0)&^0b11),
		IsBidBits:      serumtest.U128(0, 0b01),
	}
	oo.Orders[0] = serumtest.U128(100, 1)
	oo.Orders[1] = serumtest.U128(110, 2)
	f.set(ooKey, serumtest.OpenOrders(oo), 3)

	cfg := testConfig()
	cfg.Markets[0].OpenOrders = []string{ooKey.String()}
	mon := NewOpenOrdersMonitor(cfg, m)
	if err := mon.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer mon.Stop()

	accounts := mon.Accounts()
	if len(accounts) != 1 {
		t.Fatalf("expected primed account, got %d", len(accounts))
	}
	got := accounts[0]
	if got.Address != ooKey.String() || got.Slot != 3 {
		t.Fatalf("unexpected summary header: %+v", got)
	}
	if got.BaseTotal != 2 || got.QuoteFree != 1.5 || got.Bids != 1 || got.Asks != 1 {
		t.Fatalf("unexpected balances: %+v", got)
	}
}
