package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"serumflow/serum"
)

func TestTradeBatchMessageJSON(t *testing.T) {
	msg := TradeBatchMessage{
		BatchID: "b1",
		Market:  "9wFFyRfZBsuAha4YcuxcXLKwMxJR43S7fPfQLusDBzvT",
		Name:    "SOL/USDC",
		Trades: []NormTradeMessage{{
			Side:  "bid",
			Price: 21.5,
			Size:  3,
			Maker: true,
		}},
		RecordCount: 1,
		Timestamp:   time.Unix(0, 0).UTC(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, key := range []string{`"batch_id":"b1"`, `"record_count":1`, `"side":"bid"`, `"maker":true`} {
		if !strings.Contains(string(data), key) {
			t.Fatalf("expected %s in %s", key, data)
		}
	}
}

func TestBookSnapshotOmitsMissingTop(t *testing.T) {
	msg := BookSnapshotMessage{Name: "SOL/USDC", Bids: []serum.Level{{Price: 1, Quantity: 2, Orders: 1}}}
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(data)
	if strings.Contains(s, "best_bid") || strings.Contains(s, "spread") {
		t.Fatalf("unexpected optional fields in %s", s)
	}
	if !strings.Contains(s, `"bids":[{"price":1,"quantity":2,"orders":1}]`) {
		t.Fatalf("unexpected bids encoding: %s", s)
	}
}
