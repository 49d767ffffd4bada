package processor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	appconfig "serumflow/config"
	"serumflow/engine"
	"serumflow/internal/channel/book"
	"serumflow/internal/metrics"
	"serumflow/logger"
	"serumflow/models"
	"serumflow/serum"
)

// BookProcessor follows the order book of every live market and publishes a
// depth-limited snapshot of each changed book once per interval.
type BookProcessor struct {
	config   *appconfig.Config
	manager  *engine.Manager
	channels *book.Channels
	ctx      context.Context
	cancel   context.CancelFunc
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log

	subs    []*engine.Subscription
	pending map[string]models.RawBookMessage

	updatesReceived  atomic.Int64
	snapshotsSent    atomic.Int64
	snapshotsDropped atomic.Int64
}

// NewBookProcessor creates a new processor instance.
func NewBookProcessor(cfg *appconfig.Config, manager *engine.Manager, channels *book.Channels) *BookProcessor {
	return &BookProcessor{
		config:   cfg,
		manager:  manager,
		channels: channels,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
		pending:  make(map[string]models.RawBookMessage),
	}
}

// Start launches the workers and subscribes to every live market.
func (p *BookProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("book processor already running")
	}
	p.running = true
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.mu.Unlock()

	log := p.log.WithComponent("book_processor").WithFields(logger.Fields{"operation": "start"})
	log.Info("starting book processor")

	p.wg.Add(1)
	go p.worker()

	p.wg.Add(1)
	go p.publisher()

	p.wg.Add(1)
	go p.metricsReporter()

	for _, st := range p.manager.Markets() {
		if st.State() != engine.StateLive {
			continue
		}
		sub, err := st.SubscribeOrderBook(p.ctx, p.onBook)
		if err != nil {
			p.Stop()
			return fmt.Errorf("subscribe order book %s: %w", st.Name, err)
		}
		p.mu.Lock()
		p.subs = append(p.subs, sub)
		p.mu.Unlock()
	}

	log.Info("book processor started successfully")
	return nil
}

// Stop unsubscribes and publishes the last pending snapshots.
func (p *BookProcessor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	subs := p.subs
	p.subs = nil
	p.mu.Unlock()

	p.log.WithComponent("book_processor").Info("stopping book processor")
	for _, sub := range subs {
		sub.Unsubscribe()
	}
	p.cancel()
	p.wg.Wait()
	p.publishPending()
	p.log.WithComponent("book_processor").Info("book processor stopped")
}

// onBook runs on the engine's emit path and must not block.
func (p *BookProcessor) onBook(u engine.BookUpdate) {
	msg := models.RawBookMessage{
		Market:    u.Market.String(),
		Name:      u.Name,
		Slot:      u.Slot,
		Version:   u.Version,
		Book:      u.Book,
		Timestamp: time.Now(),
	}
	if !p.channels.SendRaw(p.ctx, msg) {
		metrics.EmitDropMetric(p.log, metrics.DropMetricBooks, u.Name, "raw")
	}
}

func (p *BookProcessor) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case msg, ok := <-p.channels.Raw:
			if !ok {
				return
			}
			p.remember(msg)
		}
	}
}

// remember keeps only the newest book of each market until the next publish.
func (p *BookProcessor) remember(msg models.RawBookMessage) {
	p.updatesReceived.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	if prev, ok := p.pending[msg.Market]; ok && prev.Version >= msg.Version {
		return
	}
	p.pending[msg.Market] = msg
}

func (p *BookProcessor) publisher() {
	defer p.wg.Done()
	interval := p.config.Processor.BookInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.publishPending()
		}
	}
}

func (p *BookProcessor) publishPending() {
	p.mu.Lock()
	pending := p.pending
	p.pending = make(map[string]models.RawBookMessage, len(pending))
	p.mu.Unlock()

	for _, raw := range pending {
		snap := BuildSnapshot(raw, p.config.Processor.BookDepth)
		if p.channels.SendNorm(context.Background(), snap) {
			p.snapshotsSent.Add(1)
			continue
		}
		p.snapshotsDropped.Add(1)
		metrics.EmitDropMetric(p.log, metrics.DropMetricBooks, raw.Name, "snapshot")
	}
}

// BuildSnapshot converts a book into at most depth levels per side. A depth
// of zero keeps every level.
func BuildSnapshot(raw models.RawBookMessage, depth int) models.BookSnapshotMessage {
	snap := models.BookSnapshotMessage{
		Market:    raw.Market,
		Name:      raw.Name,
		Slot:      raw.Slot,
		Version:   raw.Version,
		Bids:      []serum.Level{},
		Asks:      []serum.Level{},
		Timestamp: raw.Timestamp,
	}
	if raw.Book == nil {
		return snap
	}
	if bids := raw.Book.Levels(serum.SideBid, depth); bids != nil {
		snap.Bids = bids
	}
	if asks := raw.Book.Levels(serum.SideAsk, depth); asks != nil {
		snap.Asks = asks
	}
	if len(snap.Bids) > 0 {
		best := snap.Bids[0]
		snap.BestBid = &best
	}
	if len(snap.Asks) > 0 {
		best := snap.Asks[0]
		snap.BestAsk = &best
	}
	if snap.BestBid != nil && snap.BestAsk != nil {
		spread := snap.BestAsk.Price - snap.BestBid.Price
		snap.Spread = &spread
	}
	return snap
}

// Stats returns the processor counters.
func (p *BookProcessor) Stats() metrics.BookProcessorStats {
	p.mu.RLock()
	pending := len(p.pending)
	p.mu.RUnlock()
	return metrics.BookProcessorStats{
		UpdatesReceived:  p.updatesReceived.Load(),
		SnapshotsSent:    p.snapshotsSent.Load(),
		SnapshotsDropped: p.snapshotsDropped.Load(),
		PendingMarkets:   pending,
		RawChannelLen:    len(p.channels.Raw),
		RawChannelCap:    cap(p.channels.Raw),
		NormChannelLen:   len(p.channels.Norm),
		NormChannelCap:   cap(p.channels.Norm),
	}
}

func (p *BookProcessor) metricsReporter() {
	defer p.wg.Done()
	interval := p.config.Metrics.ReportInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			metrics.ReportBookProcessor(p.log, p.Stats())
		}
	}
}
