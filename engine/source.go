package engine

import (
	"context"

	"github.com/gagliardetto/solana-go"
)

// Account is a raw account snapshot together with the slot it was observed at.
type Account struct {
	Data []byte
	Slot uint64
}

// AccountFetcher loads account snapshots on demand. It is used while a market
// is initializing and to prime a feed when its first observer arrives.
type AccountFetcher interface {
	GetAccount(ctx context.Context, address solana.PublicKey) (*Account, error)
}

// UpdateFunc receives raw account data pushed by a PushSource. It may be called
// concurrently from several goroutines.
type UpdateFunc func(data []byte, slot uint64)

// Handle cancels a push subscription.
type Handle interface {
	Unsubscribe()
}

// PushSource delivers account updates as they happen.
type PushSource interface {
	Subscribe(ctx context.Context, address solana.PublicKey, fn UpdateFunc) (Handle, error)
}
