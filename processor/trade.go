package processor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	appconfig "serumflow/config"
	"serumflow/engine"
	"serumflow/internal/channel/trade"
	"serumflow/internal/metrics"
	"serumflow/logger"
	"serumflow/models"
	"serumflow/serum"
)

// TradeProcessor subscribes to the trade feed of every live market, turns
// each update into normalized fills and batches them per market before
// handing them to the archive and stream writers.
type TradeProcessor struct {
	config   *appconfig.Config
	manager  *engine.Manager
	channels *trade.Channels
	ctx      context.Context
	cancel   context.CancelFunc
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log

	subs      []*engine.Subscription
	batches   map[string]*models.TradeBatchMessage
	lastFlush map[string]time.Time

	archive bool
	stream  bool

	updatesProcessed atomic.Int64
	tradesProcessed  atomic.Int64
	batchesFlushed   atomic.Int64
	batchesDropped   atomic.Int64
	resyncs          atomic.Int64
}

// NewTradeProcessor creates a new processor instance.
func NewTradeProcessor(cfg *appconfig.Config, manager *engine.Manager, channels *trade.Channels) *TradeProcessor {
	return &TradeProcessor{
		config:    cfg,
		manager:   manager,
		channels:  channels,
		wg:        &sync.WaitGroup{},
		log:       logger.GetLogger(),
		batches:   make(map[string]*models.TradeBatchMessage),
		lastFlush: make(map[string]time.Time),
		archive:   cfg.Storage.S3.Enabled,
		stream:    cfg.Storage.Kafka.Enabled,
	}
}

// Start launches the workers and subscribes to every live market.
func (p *TradeProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("trade processor already running")
	}
	p.running = true
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.mu.Unlock()

	log := p.log.WithComponent("trade_processor").WithFields(logger.Fields{"operation": "start"})
	log.Info("starting trade processor")

	p.wg.Add(1)
	go p.worker()

	p.wg.Add(1)
	go p.flusher()

	p.wg.Add(1)
	go p.metricsReporter()

	for _, st := range p.manager.Markets() {
		if st.State() != engine.StateLive {
			continue
		}
		sub, err := st.SubscribeTrades(p.ctx, p.onTrades)
		if err != nil {
			p.Stop()
			return fmt.Errorf("subscribe trades %s: %w", st.Name, err)
		}
		p.mu.Lock()
		p.subs = append(p.subs, sub)
		p.mu.Unlock()
	}

	log.WithFields(logger.Fields{"markets": len(p.subs)}).Info("trade processor started successfully")
	return nil
}

// Stop unsubscribes, waits for the workers and flushes remaining batches.
func (p *TradeProcessor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	subs := p.subs
	p.subs = nil
	p.mu.Unlock()

	p.log.WithComponent("trade_processor").Info("stopping trade processor")
	for _, sub := range subs {
		sub.Unsubscribe()
	}
	p.cancel()
	p.wg.Wait()
	p.drain()
	p.flushAll()
	p.log.WithComponent("trade_processor").Info("trade processor stopped")
}

// onTrades runs on the engine's emit path and must not block.
func (p *TradeProcessor) onTrades(u engine.TradeUpdate) {
	if len(u.Trades) == 0 && !u.Resync {
		return
	}
	msg := models.RawTradeMessage{
		Market:     u.Market.String(),
		Name:       u.Name,
		Slot:       u.Slot,
		NextSeqNum: u.NextSeqNum,
		Resync:     u.Resync,
		Trades:     u.Trades,
		Timestamp:  time.Now(),
	}
	if !p.channels.SendRaw(p.ctx, msg) {
		metrics.EmitDropMetric(p.log, metrics.DropMetricTrades, u.Name, "raw")
	}
}

func (p *TradeProcessor) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case msg, ok := <-p.channels.Raw:
			if !ok {
				return
			}
			p.handleMessage(msg)
		}
	}
}

// drain processes messages still buffered after the worker stopped.
func (p *TradeProcessor) drain() {
	for {
		select {
		case msg, ok := <-p.channels.Raw:
			if !ok {
				return
			}
			p.handleMessage(msg)
		default:
			return
		}
	}
}

func (p *TradeProcessor) handleMessage(raw models.RawTradeMessage) {
	p.updatesProcessed.Add(1)
	if raw.Resync {
		p.resyncs.Add(1)
		p.log.WithComponent("trade_processor").WithFields(logger.Fields{
			"market":       raw.Name,
			"next_seq_num": raw.NextSeqNum,
		}).Warn("trade stream resynchronized, fills may be missing")
	}

	entries := NormalizeTrades(raw)
	p.tradesProcessed.Add(int64(len(entries)))
	if len(entries) == 0 && !raw.Resync {
		return
	}
	p.addToBatch(raw, entries)
}

// NormalizeTrades flattens the fills of raw into one record per fill, keeping
// the newest-first order.
func NormalizeTrades(raw models.RawTradeMessage) []models.NormTradeMessage {
	entries := make([]models.NormTradeMessage, 0, len(raw.Trades))
	recv := raw.Timestamp.UnixMilli()
	for _, t := range raw.Trades {
		entries = append(entries, normalizeTrade(raw, t, recv))
	}
	return entries
}

func normalizeTrade(raw models.RawTradeMessage, t serum.TradeEvent, recv int64) models.NormTradeMessage {
	return models.NormTradeMessage{
		Market:        raw.Market,
		Name:          raw.Name,
		Slot:          raw.Slot,
		Side:          t.Side.String(),
		Price:         t.Price,
		Size:          t.Size,
		Maker:         t.Event.Flags.IsMaker(),
		FeeOrRebate:   t.Event.NativeFeeOrRebate,
		OrderID:       fmt.Sprintf("%016x%016x", t.Event.OrderID.Hi, t.Event.OrderID.Lo),
		Owner:         t.Event.Owner.String(),
		ClientOrderID: t.Event.ClientOrderID,
		ReceivedTime:  recv,
	}
}

func (p *TradeProcessor) addToBatch(raw models.RawTradeMessage, entries []models.NormTradeMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := raw.Market
	batch, ok := p.batches[key]
	if !ok {
		batch = &models.TradeBatchMessage{
			BatchID:     uuid.New().String(),
			Market:      raw.Market,
			Name:        raw.Name,
			Trades:      make([]models.NormTradeMessage, 0, p.config.Processor.BatchSize),
			Timestamp:   raw.Timestamp,
			ProcessedAt: time.Now(),
		}
		p.batches[key] = batch
		p.lastFlush[key] = time.Now()
	}

	batch.Trades = append(batch.Trades, entries...)
	batch.RecordCount = len(batch.Trades)
	batch.Resync = batch.Resync || raw.Resync
	if raw.Timestamp.After(batch.Timestamp) {
		batch.Timestamp = raw.Timestamp
	}

	if batch.RecordCount >= p.config.Processor.BatchSize {
		p.flush(key)
	}
}

func (p *TradeProcessor) flusher() {
	defer p.wg.Done()
	interval := p.config.Processor.BatchTimeout / 2
	if interval <= 0 || interval > time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.flushTimedOut()
		}
	}
}

func (p *TradeProcessor) flushTimedOut() {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	for k, t := range p.lastFlush {
		if now.Sub(t) >= p.config.Processor.BatchTimeout {
			p.flush(k)
		}
	}
}

// flush hands a batch to every enabled sink. Caller holds p.mu. A sink whose
// channel is full loses the batch; the batch is never retried.
func (p *TradeProcessor) flush(key string) {
	batch, ok := p.batches[key]
	if !ok {
		return
	}
	delete(p.batches, key)
	delete(p.lastFlush, key)
	if batch.RecordCount == 0 && !batch.Resync {
		return
	}

	ctx := context.Background()
	delivered := true
	if p.archive && !p.channels.SendArchive(ctx, *batch) {
		delivered = false
		metrics.EmitDropMetric(p.log, metrics.DropMetricTrades, batch.Name, "archive")
	}
	if p.stream && !p.channels.SendStream(ctx, *batch) {
		delivered = false
		metrics.EmitDropMetric(p.log, metrics.DropMetricTrades, batch.Name, "stream")
	}
	if !delivered {
		p.batchesDropped.Add(1)
		p.log.WithComponent("trade_processor").WithFields(logger.Fields{
			"batch_id": batch.BatchID,
			"market":   batch.Name,
		}).Warn("trade channel full, dropping batch")
		return
	}
	p.batchesFlushed.Add(1)
}

func (p *TradeProcessor) flushAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k := range p.batches {
		p.flush(k)
	}
}

// Stats returns the processor counters.
func (p *TradeProcessor) Stats() metrics.TradeProcessorStats {
	p.mu.RLock()
	active := len(p.batches)
	p.mu.RUnlock()
	return metrics.TradeProcessorStats{
		UpdatesProcessed: p.updatesProcessed.Load(),
		TradesProcessed:  p.tradesProcessed.Load(),
		BatchesFlushed:   p.batchesFlushed.Load(),
		BatchesDropped:   p.batchesDropped.Load(),
		Resyncs:          p.resyncs.Load(),
		ActiveBatches:    active,
		RawChannelLen:    len(p.channels.Raw),
		RawChannelCap:    cap(p.channels.Raw),
	}
}

func (p *TradeProcessor) metricsReporter() {
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
			metrics.ReportTradeProcessor(p.log, p.Stats())
		}
	}
}
