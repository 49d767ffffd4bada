package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gorilla/websocket"

	"serumflow/config"
	"serumflow/engine"
	"serumflow/logger"
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
)

type mapFetcher struct {
	mu       sync.Mutex
	accounts map[solana.PublicKey]*engine.Account
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

func newLiveManager(t *testing.T) (*engine.Manager, *engine.MarketState) {
	t.Helper()
	f := &mapFetcher{accounts: map[solana.PublicKey]*engine.Account{
		marketKey: {Data: serumtest.Market(serum.Market{
			Flags:        serum.FlagInitialized | serum.FlagMarket,
			OwnAddress:   marketKey,
			BaseMint:     baseMint,
			QuoteMint:    quoteMint,
			EventQueue:   eventKey,
			Bids:         bidsKey,
			Asks:         asksKey,
			BaseLotSize:  100000,
			QuoteLotSize: 100,
		}), Slot: 1},
		baseMint:  {Data: serumtest.Mint(9), Slot: 1},
		quoteMint: {Data: serumtest.Mint(6), Slot: 1},
	}}
	m := engine.NewManager(f, nil, nil)
	st, err := m.NamedMarket(context.Background(), marketKey, "SOL/USDC")
	if err != nil {
		t.Fatalf("market: %v", err)
	}
	return m, st
}

func newTestServer(t *testing.T, manager *engine.Manager) *Server {
	t.Helper()
	srv, err := NewServer(config.DashboardConfig{Enabled: true, Addr: ":0", BookDepth: 5, MaxTrades: 10}, logger.GetLogger(), manager, nil)
	if err != nil {
		t.Fatalf("NewServer returned error: %v", err)
	}
	t.Cleanup(srv.cleanup)
	return srv
}

func get(t *testing.T, h http.Handler, path string, out interface{}) int {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if out != nil && rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return rec.Code
}

func TestNormalizeAddress(t *testing.T) {
	cases := map[string]string{
		"":                               "0.0.0.0:8080",
		"  :9090  ":                      "0.0.0.0:9090",
		"localhost":                      "localhost:8080",
		"0.0.0.0:80":                     "0.0.0.0:80",
		"[::1]:443":                      "[::1]:443",
		"::1":                            "[::1]:8080",
		"*:8080":                         "0.0.0.0:8080",
		"http://13.200.112.203:8080":     "13.200.112.203:8080",
		"https://13.200.112.203":         "13.200.112.203:8080",
		"http://:7070":                   "0.0.0.0:7070",
		"tcp://localhost:5050":           "localhost:5050",
		"https://dashboard.example.com/": "dashboard.example.com:8080",
	}

	for input, want := range cases {
		if got := normalizeAddress(input); got != want {
			t.Fatalf("normalizeAddress(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestNewServerDisabled(t *testing.T) {
	srv, err := NewServer(config.DashboardConfig{}, logger.GetLogger(), nil, nil)
	if err != nil || srv != nil {
		t.Fatalf("expected nil server without error, got %v, %v", srv, err)
	}
	if srv.Address() != "" {
		t.Fatal("nil server should report an empty address")
	}
}

func TestNewServerNormalizesConfiguredAddress(t *testing.T) {
	srv := newTestServer(t, nil)
	if got := srv.Address(); got != "0.0.0.0:0" {
		t.Fatalf("server address = %q, want %q", got, "0.0.0.0:0")
	}
}

func TestMarketEndpoints(t *testing.T) {
	m, st := newLiveManager(t)
	bids := serumtest.Side(serum.FlagInitialized|serum.FlagBids, []serumtest.Node{serumtest.Leaf(100, 1, 5)}, 2)
	if err := st.ApplyBids(bids, 2); err != nil {
		t.Fatalf("bids: %v", err)
	}
	ring := serumtest.NewRing(8)
	if _, err := st.ApplyEventQueue(ring.Bytes(), 2); err != nil {
		t.Fatalf("baseline: %v", err)
	}
	ring.Push(serum.Event{
		Flags:             serum.EventFill | serum.EventBid,
		NativeQtyReleased: 1_000_000_000,
		NativeQtyPaid:     2_000_000,
		ClientOrderID:     7,
	})
	if _, err := st.ApplyEventQueue(ring.Bytes(), 3); err != nil {
		t.Fatalf("diff: %v", err)
	}

	srv := newTestServer(t, m)
	router, err := srv.buildRouter("SerumFlow")
	if err != nil {
		t.Fatalf("buildRouter: %v", err)
	}

	var markets struct {
		Markets []marketView `json:"markets"`
	}
	if code := get(t, router, "/api/markets", &markets); code != http.StatusOK {
		t.Fatalf("/api/markets status %d", code)
	}
	if len(markets.Markets) != 1 {
		t.Fatalf("expected one market, got %+v", markets.Markets)
	}
	if got := markets.Markets[0]; got.Name != "SOL/USDC" || got.State != engine.StateLive.String() || got.BaseDecimals != 9 || got.QuoteDecimals != 6 {
		t.Fatalf("unexpected market view: %+v", got)
	}

	for _, path := range []string{"/api/books/SOL-USDC", "/api/books/" + marketKey.String()} {
		var snap models.BookSnapshotMessage
		if code := get(t, router, path, &snap); code != http.StatusOK {
			t.Fatalf("%s status %d", path, code)
		}
		if snap.Name != "SOL/USDC" || len(snap.Bids) != 1 || len(snap.Asks) != 0 || snap.BestBid == nil {
			t.Fatalf("%s unexpected snapshot: %+v", path, snap)
		}
	}

	if code := get(t, router, "/api/books/BTC-USDC", nil); code != http.StatusNotFound {
		t.Fatalf("unknown market status %d, want 404", code)
	}

	var trades struct {
		Market string                    `json:"market"`
		Trades []models.NormTradeMessage `json:"trades"`
	}
	if code := get(t, router, "/api/trades/SOL-USDC", &trades); code != http.StatusOK {
		t.Fatalf("/api/trades status %d", code)
	}
	if len(trades.Trades) != 1 || trades.Trades[0].ClientOrderID != 7 || trades.Trades[0].Price != 2 {
		t.Fatalf("unexpected trades: %+v", trades.Trades)
	}

	var oo struct {
		Accounts []json.RawMessage `json:"accounts"`
	}
	if code := get(t, router, "/api/open_orders", &oo); code != http.StatusOK || oo.Accounts == nil || len(oo.Accounts) != 0 {
		t.Fatalf("unexpected open orders response %d %+v", code, oo)
	}
}

func TestMarketsListsFailedMarkets(t *testing.T) {
	m, _ := newLiveManager(t)
	missing := serumtest.Key(90)
	if _, err := m.NamedMarket(context.Background(), missing, "BONK/USDC"); err == nil {
		t.Fatal("expected market without account to fail")
	}

	router, err := newTestServer(t, m).buildRouter("SerumFlow")
	if err != nil {
		t.Fatalf("buildRouter: %v", err)
	}
	var markets struct {
		Markets []marketView `json:"markets"`
	}
	if code := get(t, router, "/api/markets", &markets); code != http.StatusOK {
		t.Fatalf("/api/markets status %d", code)
	}
	if len(markets.Markets) != 2 {
		t.Fatalf("expected two markets, got %+v", markets.Markets)
	}
	failed, live := markets.Markets[0], markets.Markets[1]
	if failed.Name != "BONK/USDC" || failed.State != engine.StateFailed.String() || failed.Error == "" || failed.BaseDecimals != 0 {
		t.Fatalf("unexpected failed market view: %+v", failed)
	}
	if live.Name != "SOL/USDC" || live.State != engine.StateLive.String() || live.Error != "" {
		t.Fatalf("unexpected live market view: %+v", live)
	}
}

func TestStaticEndpoints(t *testing.T) {
	srv := newTestServer(t, nil)
	router, err := srv.buildRouter("SerumFlow")
	if err != nil {
		t.Fatalf("buildRouter: %v", err)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "SerumFlow") {
		t.Fatalf("index status %d", rec.Code)
	}

	for _, path := range []string{"/api/metrics", "/api/logs", "/api/resources", "/api/markets", "/metrics"} {
		if code := get(t, router, path, nil); code != http.StatusOK {
			t.Fatalf("%s status %d", path, code)
		}
	}
}

func TestWebsocketStreamsBookUpdates(t *testing.T) {
	m, st := newLiveManager(t)
	srv := newTestServer(t, m)
	router, err := srv.buildRouter("SerumFlow")
	if err != nil {
		t.Fatalf("buildRouter: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := srv.hub.start(ctx); err != nil {
		t.Fatalf("hub start: %v", err)
	}

	ts := httptest.NewServer(router)
	defer ts.Close()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for srv.hub.clientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	asks := serumtest.Side(serum.FlagInitialized|serum.FlagAsks, []serumtest.Node{serumtest.Leaf(110, 2, 5)}, 2)
	if err := st.ApplyAsks(asks, 4); err != nil {
		t.Fatalf("asks: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg struct {
		Type   string                     `json:"type"`
		Market string                     `json:"market"`
		Data   models.BookSnapshotMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Type != "book" || msg.Market != "SOL/USDC" || len(msg.Data.Asks) != 1 {
		t.Fatalf("unexpected message: %s", data)
	}
}
