package writer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	kafka "github.com/segmentio/kafka-go"

	appconfig "serumflow/config"
	"serumflow/internal/metrics"
	"serumflow/logger"
	"serumflow/models"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaWriter publishes trade batches and book snapshots as JSON messages
// keyed by market address. Either input channel may be nil.
type KafkaWriter struct {
	config    *appconfig.Config
	tradeChan <-chan models.TradeBatchMessage
	bookChan  <-chan models.BookSnapshotMessage
	trades    messageWriter
	books     messageWriter
	ctx       context.Context
	wg        *sync.WaitGroup
	mu        sync.RWMutex
	running   bool
	log       *logger.Log

	messagesWritten atomic.Int64
	bytesWritten    atomic.Int64
	errorsCount     atomic.Int64
}

func NewKafkaWriter(cfg *appconfig.Config, tradeChan <-chan models.TradeBatchMessage, bookChan <-chan models.BookSnapshotMessage) (*KafkaWriter, error) {
	if len(cfg.Storage.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Storage.Kafka.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: cfg.Storage.Kafka.BatchTimeout,
		}
	}
	kw := newKafkaWriter(cfg, tradeChan, bookChan,
		newWriter(cfg.Storage.Kafka.TradeTopic), newWriter(cfg.Storage.Kafka.BookTopic))
	kw.log.WithComponent("kafka_writer").WithFields(logger.Fields{
		"brokers":     cfg.Storage.Kafka.Brokers,
		"trade_topic": cfg.Storage.Kafka.TradeTopic,
		"book_topic":  cfg.Storage.Kafka.BookTopic,
	}).Debug("kafka writer initialized")
	return kw, nil
}

func newKafkaWriter(cfg *appconfig.Config, tradeChan <-chan models.TradeBatchMessage, bookChan <-chan models.BookSnapshotMessage, trades, books messageWriter) *KafkaWriter {
	return &KafkaWriter{
		config:    cfg,
		tradeChan: tradeChan,
		bookChan:  bookChan,
		trades:    trades,
		books:     books,
		wg:        &sync.WaitGroup{},
		log:       logger.GetLogger(),
	}
}

func (kw *KafkaWriter) Start(ctx context.Context) error {
	kw.mu.Lock()
	if kw.running {
		kw.mu.Unlock()
		return fmt.Errorf("kafka writer already running")
	}
	kw.running = true
	kw.ctx = ctx
	kw.mu.Unlock()

	kw.log.WithComponent("kafka_writer").Debug("starting kafka writer")

	kw.wg.Add(1)
	go kw.run()

	return nil
}

func (kw *KafkaWriter) run() {
	defer kw.wg.Done()

	tradeChan, bookChan := kw.tradeChan, kw.bookChan
	for tradeChan != nil || bookChan != nil {
		select {
		case <-kw.ctx.Done():
			return
		case batch, ok := <-tradeChan:
			if !ok {
				tradeChan = nil
				continue
			}
			kw.publish(kw.trades, batch.Market, batch, logger.Fields{
				"batch_id": batch.BatchID,
				"records":  batch.RecordCount,
			})
		case snap, ok := <-bookChan:
			if !ok {
				bookChan = nil
				continue
			}
			kw.publish(kw.books, snap.Market, snap, logger.Fields{
				"market":  snap.Name,
				"version": snap.Version,
			})
		}
	}
}

func (kw *KafkaWriter) drain() {
	tradeChan, bookChan := kw.tradeChan, kw.bookChan
	for {
		select {
		case batch, ok := <-tradeChan:
			if !ok {
				tradeChan = nil
				continue
			}
			kw.publish(kw.trades, batch.Market, batch, logger.Fields{"batch_id": batch.BatchID})
		case snap, ok := <-bookChan:
			if !ok {
				bookChan = nil
				continue
			}
			kw.publish(kw.books, snap.Market, snap, logger.Fields{"market": snap.Name})
		default:
			return
		}
	}
}

func (kw *KafkaWriter) publish(w messageWriter, key string, value interface{}, fields logger.Fields) {
	log := kw.log.WithComponent("kafka_writer")
	data, err := json.Marshal(value)
	if err != nil {
		kw.errorsCount.Add(1)
		log.WithError(err).Warn("failed to marshal message")
		return
	}
	msg := kafka.Message{
		Key:   []byte(key),
		Value: data,
	}
	if err := w.WriteMessages(context.WithoutCancel(kw.ctx), msg); err != nil {
		kw.errorsCount.Add(1)
		log.WithError(err).Warn("failed to write message")
		return
	}
	kw.messagesWritten.Add(1)
	kw.bytesWritten.Add(int64(len(data)))
	logger.RecordSinkWrite("kafka", int64(len(data)))
	log.WithFields(fields).Debug("message written to kafka")
}

// Stats returns writer counters in the shape shared by all writers.
func (kw *KafkaWriter) Stats() metrics.WriterStats {
	return metrics.WriterStats{
		BatchesWritten: kw.messagesWritten.Load(),
		BytesWritten:   kw.bytesWritten.Load(),
		ErrorsCount:    kw.errorsCount.Load(),
		NormChannelLen: len(kw.tradeChan) + len(kw.bookChan),
		NormChannelCap: cap(kw.tradeChan) + cap(kw.bookChan),
	}
}

// Stop waits for the publishing loop, which ends once the start context is
// cancelled or both channels are closed, then publishes what is still queued.
func (kw *KafkaWriter) Stop() {
	kw.mu.Lock()
	if !kw.running {
		kw.mu.Unlock()
		return
	}
	kw.running = false
	kw.mu.Unlock()

	kw.log.WithComponent("kafka_writer").Debug("stopping kafka writer")
	kw.wg.Wait()
	kw.drain()
	kw.trades.Close()
	kw.books.Close()
	metrics.ReportWriter(kw.log, "kafka_writer", kw.Stats())
	kw.log.WithComponent("kafka_writer").Debug("kafka writer stopped")
}
