package solana

import (
	"context"
	"errors"
	"fmt"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"golang.org/x/time/rate"

	appconfig "serumflow/config"
	"serumflow/engine"
	"serumflow/logger"
)

// ErrAccountNotFound is returned when the RPC node has no data for an address.
var ErrAccountNotFound = errors.New("account not found")

// Fetcher loads account snapshots over JSON-RPC, throttled to the configured
// request rate.
type Fetcher struct {
	client     *rpc.Client
	limiter    *rate.Limiter
	commitment rpc.CommitmentType
	timeout    time.Duration
	log        *logger.Log
}

// NewFetcher creates a fetcher for cfg.RPC.HTTPURL.
func NewFetcher(cfg *appconfig.Config) *Fetcher {
	burst := cfg.RPC.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Fetcher{
		client:     rpc.New(cfg.RPC.HTTPURL),
		limiter:    rate.NewLimiter(rate.Limit(cfg.RPC.RequestsPerSecond), burst),
		commitment: rpc.CommitmentType(cfg.RPC.Commitment),
		timeout:    cfg.RPC.Timeout,
		log:        logger.GetLogger(),
	}
}

// GetAccount implements engine.AccountFetcher.
func (f *Fetcher) GetAccount(ctx context.Context, address solanago.PublicKey) (*engine.Account, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := f.client.GetAccountInfoWithOpts(ctx, address, &rpc.GetAccountInfoOpts{
		Encoding:   solanago.EncodingBase64,
		Commitment: f.commitment,
	})
	if errors.Is(err, rpc.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, address)
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", address, err)
	}
	if out == nil || out.Value == nil || out.Value.Data == nil {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, address)
	}

	data := out.Value.Data.GetBinary()
	logger.RecordAccountFetch(len(data))
	f.log.WithComponent("solana_fetcher").WithFields(logger.Fields{
		"address":  address.String(),
		"slot":     out.Context.Slot,
		"bytes":    len(data),
		"duration": time.Since(start).String(),
	}).Debug("fetched account")

	return &engine.Account{Data: data, Slot: out.Context.Slot}, nil
}
