package solana

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/ws"

	appconfig "serumflow/config"
	"serumflow/engine"
	"serumflow/logger"
)

// Source streams account updates over the websocket RPC. Every subscription
// runs in its own goroutine and resubscribes with exponential backoff when the
// stream breaks; a broken connection is redialed once and shared again.
type Source struct {
	config  *appconfig.Config
	ctx     context.Context
	cancel  context.CancelFunc
	wg      *sync.WaitGroup
	mu      sync.RWMutex
	running bool
	log     *logger.Log

	connMu sync.Mutex
	client *ws.Client
	gen    uint64

	dial func(ctx context.Context, url string) (*ws.Client, error)

	active     atomic.Int64
	updates    atomic.Int64
	reconnects atomic.Int64
}

// Stats is a point in time view of a Source.
type Stats struct {
	ActiveSubscriptions int64 `json:"active_subscriptions"`
	Updates             int64 `json:"updates"`
	Reconnects          int64 `json:"reconnects"`
}

// NewSource creates a websocket source for cfg.RPC.WSURL.
func NewSource(cfg *appconfig.Config) *Source {
	return &Source{
		config: cfg,
		wg:     &sync.WaitGroup{},
		log:    logger.GetLogger(),
		dial:   ws.Connect,
	}
}

// Start opens the websocket connection.
func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("solana source already running")
	}

	log := s.log.WithComponent("solana_source").WithFields(logger.Fields{"operation": "start", "url": s.config.RPC.WSURL})
	client, err := s.dial(ctx, s.config.RPC.WSURL)
	if err != nil {
		log.WithError(err).Error("failed to connect websocket")
		return fmt.Errorf("connect %s: %w", s.config.RPC.WSURL, err)
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.connMu.Lock()
	s.client = client
	s.gen++
	s.connMu.Unlock()
	s.running = true

	log.Info("solana source started")
	return nil
}

// Stop cancels every subscription, waits for their goroutines and closes the
// connection.
func (s *Source) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.log.WithComponent("solana_source").Info("stopping solana source")
	s.wg.Wait()

	s.connMu.Lock()
	if s.client != nil {
		s.client.Close()
		s.client = nil
	}
	s.connMu.Unlock()
	s.log.WithComponent("solana_source").Info("solana source stopped")
}

// Stats returns the current counters.
func (s *Source) Stats() Stats {
	return Stats{
		ActiveSubscriptions: s.active.Load(),
		Updates:             s.updates.Load(),
		Reconnects:          s.reconnects.Load(),
	}
}

type accountHandle struct {
	cancel context.CancelFunc
}

func (h *accountHandle) Unsubscribe() {
	h.cancel()
}

// Subscribe implements engine.PushSource. The first subscription attempt is
// made synchronously so that an unreachable node fails the caller; later
// interruptions are retried in the background until Unsubscribe or Stop.
func (s *Source) Subscribe(ctx context.Context, address solanago.PublicKey, fn engine.UpdateFunc) (engine.Handle, error) {
	s.mu.RLock()
	running := s.running
	parent := s.ctx
	s.mu.RUnlock()
	if !running {
		return nil, fmt.Errorf("solana source is not running")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub, gen, err := s.accountSubscribe(address)
	if err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(parent)
	s.wg.Add(1)
	s.active.Add(1)
	go s.stream(subCtx, address, fn, sub, gen)
	return &accountHandle{cancel: cancel}, nil
}

func (s *Source) accountSubscribe(address solanago.PublicKey) (*ws.AccountSubscription, uint64, error) {
	s.connMu.Lock()
	client, gen := s.client, s.gen
	s.connMu.Unlock()
	if client == nil {
		return nil, gen, fmt.Errorf("solana source is not connected")
	}
	sub, err := client.AccountSubscribeWithOpts(address, rpc.CommitmentType(s.config.RPC.Commitment), solanago.EncodingBase64)
	if err != nil {
		return nil, gen, fmt.Errorf("account subscribe %s: %w", address, err)
	}
	return sub, gen, nil
}

func (s *Source) stream(ctx context.Context, address solanago.PublicKey, fn engine.UpdateFunc, sub *ws.AccountSubscription, gen uint64) {
	defer s.wg.Done()
	defer s.active.Add(-1)

	log := s.log.WithComponent("solana_source").WithFields(logger.Fields{
		"address": address.String(),
		"worker":  "account_stream",
	})
	delay := s.config.RPC.ReconnectDelay

	for {
		if sub == nil {
			var err error
			sub, gen, err = s.accountSubscribe(address)
			if err != nil {
				log.WithError(err).Warn("resubscribe failed")
				s.redial(ctx, gen)
				if !sleep(ctx, delay) {
					return
				}
				delay = s.backoff(delay)
				continue
			}
			delay = s.config.RPC.ReconnectDelay
			log.Info("resubscribed")
		}

		got, err := sub.Recv(ctx)
		if err != nil {
			sub.Unsubscribe()
			sub = nil
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Warn("account stream interrupted")
			s.redial(ctx, gen)
			if !sleep(ctx, delay) {
				return
			}
			delay = s.backoff(delay)
			continue
		}
		if got == nil || got.Value.Data == nil {
			continue
		}
		s.updates.Add(1)
		data := got.Value.Data.GetBinary()
		logger.RecordAccountUpdate(len(data))
		fn(data, got.Context.Slot)
	}
}

// redial replaces the shared connection unless another stream already did so
// since gen was observed.
func (s *Source) redial(ctx context.Context, gen uint64) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.gen != gen || ctx.Err() != nil {
		return
	}
	if s.client != nil {
		s.client.Close()
		s.client = nil
	}
	client, err := s.dial(ctx, s.config.RPC.WSURL)
	if err != nil {
		s.log.WithComponent("solana_source").WithError(err).Warn("websocket redial failed")
		return
	}
	s.client = client
	s.gen++
	s.reconnects.Add(1)
}

func (s *Source) backoff(delay time.Duration) time.Duration {
	if delay <= 0 {
		delay = time.Second
	}
	delay *= 2
	if limit := s.config.RPC.MaxReconnectDelay; limit > 0 && delay > limit {
		delay = limit
	}
	return delay
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
