package solana

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go/rpc/ws"

	appconfig "serumflow/config"
	"serumflow/serum/serumtest"
)

func testConfig(httpURL string) *appconfig.Config {
	return &appconfig.Config{
		RPC: appconfig.RPCConfig{
			HTTPURL:           httpURL,
			WSURL:             "ws://127.0.0.1:1",
			Commitment:        "confirmed",
			RequestsPerSecond: 1000,
			Burst:             10,
			Timeout:           time.Second,
			ReconnectDelay:    10 * time.Millisecond,
			MaxReconnectDelay: 40 * time.Millisecond,
		},
	}
}

// rpcServer answers getAccountInfo with accounts, echoing the request id.
func rpcServer(t *testing.T, accounts map[string][]byte, slot uint64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage   `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Method != "getAccountInfo" || len(req.Params) == 0 {
			http.Error(w, "unexpected method "+req.Method, http.StatusBadRequest)
			return
		}
		var address string
		_ = json.Unmarshal(req.Params[0], &address)

		value := "null"
		if data, ok := accounts[address]; ok {
			value = fmt.Sprintf(`{"data":[%q,"base64"],"executable":false,"lamports":1,"owner":"11111111111111111111111111111111","rentEpoch":0}`,
				base64.StdEncoding.EncodeToString(data))
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"result":{"context":{"slot":%d},"value":%s}}`, req.ID, slot, value)
	}))
}

func TestFetcherGetAccount(t *testing.T) {
	key := serumtest.Key(5)
	mint := serumtest.Mint(6)
	srv := rpcServer(t, map[string][]byte{key.String(): mint}, 321)
	defer srv.Close()

	f := NewFetcher(testConfig(srv.URL))
	acc, err := f.GetAccount(context.Background(), key)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if acc.Slot != 321 {
		t.Fatalf("slot: got %d", acc.Slot)
	}
	if string(acc.Data) != string(mint) {
		t.Fatalf("data mismatch: %d bytes", len(acc.Data))
	}
}

func TestFetcherAccountNotFound(t *testing.T) {
	srv := rpcServer(t, nil, 1)
	defer srv.Close()

	f := NewFetcher(testConfig(srv.URL))
	_, err := f.GetAccount(context.Background(), serumtest.Key(9))
	if !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestFetcherHonoursContext(t *testing.T) {
	srv := rpcServer(t, nil, 1)
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.RPC.RequestsPerSecond = 0.001
	cfg.RPC.Burst = 1
	f := NewFetcher(cfg)
	f.limiter.Allow()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := f.GetAccount(ctx, serumtest.Key(1)); err == nil {
		t.Fatalf("expected the limiter wait to fail")
	}
}

func TestSourceLifecycle(t *testing.T) {
	s := NewSource(testConfig(""))
	dialErr := errors.New("dial refused")
	s.dial = func(context.Context, string) (*ws.Client, error) { return nil, dialErr }

	if _, err := s.Subscribe(context.Background(), serumtest.Key(1), func([]byte, uint64) {}); err == nil {
		t.Fatalf("subscribe before start should fail")
	}
	if err := s.Start(context.Background()); !errors.Is(err, dialErr) {
		t.Fatalf("expected dial error, got %v", err)
	}
	s.Stop()
	if st := s.Stats(); st.ActiveSubscriptions != 0 || st.Reconnects != 0 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestSourceBackoff(t *testing.T) {
	s := NewSource(testConfig(""))
	delays := []time.Duration{}
	d := s.config.RPC.ReconnectDelay
	for i := 0; i < 4; i++ {
		d = s.backoff(d)
		delays = append(delays, d)
	}
	want := []time.Duration{20 * time.Millisecond, 40 * time.Millisecond, 40 * time.Millisecond, 40 * time.Millisecond}
	for i := range want {
		if delays[i] != want[i] {
			t.Fatalf("delays: got %v want %v", delays, want)
		}
	}
}

func TestSleepStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if sleep(ctx, time.Hour) {
		t.Fatalf("sleep should return false for a cancelled context")
	}
	if !sleep(context.Background(), time.Millisecond) {
		t.Fatalf("sleep should complete")
	}
}
