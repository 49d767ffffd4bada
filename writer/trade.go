package writer

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	appconfig "serumflow/config"
	"serumflow/internal/metrics"
	"serumflow/logger"
	"serumflow/models"
)

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// TradeWriter consumes trade batches and archives them to S3 as parquet.
// Fills are buffered per market and flushed periodically or when the buffer
// reaches writer.max_buffer records.
type TradeWriter struct {
	cfg         *appconfig.Config
	normChan    <-chan models.TradeBatchMessage
	s3Client    objectPutter
	buffer      map[string][]models.NormTradeMessage
	mu          sync.Mutex
	flushTicker *time.Ticker
	ctx         context.Context
	wg          *sync.WaitGroup
	running     bool
	log         *logger.Log

	batchesWritten atomic.Int64
	filesWritten   atomic.Int64
	bytesWritten   atomic.Int64
	errorsCount    atomic.Int64
}

// NewTradeWriter initializes a trade writer with AWS credentials.
func NewTradeWriter(cfg *appconfig.Config, normChan <-chan models.TradeBatchMessage) (*TradeWriter, error) {
	ctx := context.Background()
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Storage.S3.Region)}
	if cfg.Storage.S3.AccessKeyID != "" && cfg.Storage.S3.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.Storage.S3.AccessKeyID,
				cfg.Storage.S3.SecretAccessKey,
				"",
			)))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.S3.Endpoint)
		}
		o.UsePathStyle = cfg.Storage.S3.PathStyle
	})
	return newTradeWriter(cfg, normChan, client), nil
}

func newTradeWriter(cfg *appconfig.Config, normChan <-chan models.TradeBatchMessage, client objectPutter) *TradeWriter {
	return &TradeWriter{
		cfg:      cfg,
		normChan: normChan,
		s3Client: client,
		buffer:   make(map[string][]models.NormTradeMessage),
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
	}
}

// Start launches the worker, the flush ticker and the metrics reporter.
func (w *TradeWriter) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("trade writer already running")
	}
	w.running = true
	w.ctx = ctx
	interval := w.cfg.Writer.FlushInterval
	if interval <= 0 {
		interval = time.Minute
	}
	w.flushTicker = time.NewTicker(interval)
	w.mu.Unlock()

	w.wg.Add(1)
	go w.worker()

	w.wg.Add(1)
	go w.flushLoop()

	w.wg.Add(1)
	go w.metricsReporter()

	w.log.WithComponent("trade_writer").WithFields(logger.Fields{
		"bucket": w.cfg.Storage.S3.Bucket,
		"prefix": w.cfg.Storage.S3.Prefix,
	}).Info("trade writer started")
	return nil
}

// Stop waits for the workers, which end once the start context is cancelled,
// then uploads whatever is still queued or buffered.
func (w *TradeWriter) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}
	w.wg.Wait()
	w.drain()
	w.flushAll()
	w.log.WithComponent("trade_writer").Info("trade writer stopped")
}

func (w *TradeWriter) worker() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case batch, ok := <-w.normChan:
			if !ok {
				return
			}
			if w.add(batch) {
				w.flushBuffer(batch.Market)
			}
		}
	}
}

func (w *TradeWriter) drain() {
	for {
		select {
		case batch, ok := <-w.normChan:
			if !ok {
				return
			}
			w.add(batch)
		default:
			return
		}
	}
}

// add buffers a batch and reports whether the market's buffer is full.
func (w *TradeWriter) add(batch models.TradeBatchMessage) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buffer[batch.Market] = append(w.buffer[batch.Market], batch.Trades...)
	w.batchesWritten.Add(1)
	limit := w.cfg.Writer.MaxBuffer
	if limit <= 0 {
		limit = w.cfg.Processor.BatchSize
	}
	return len(w.buffer[batch.Market]) >= limit
}

func (w *TradeWriter) flushLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flushAll()
		}
	}
}

func (w *TradeWriter) flushAll() {
	w.mu.Lock()
	keys := make([]string, 0, len(w.buffer))
	for k := range w.buffer {
		keys = append(keys, k)
	}
	w.mu.Unlock()
	for _, k := range keys {
		w.flushBuffer(k)
	}
}

func (w *TradeWriter) flushBuffer(market string) {
	w.mu.Lock()
	trades := w.buffer[market]
	if len(trades) == 0 {
		w.mu.Unlock()
		return
	}
	delete(w.buffer, market)
	w.mu.Unlock()

	log := w.log.WithComponent("trade_writer").WithFields(logger.Fields{"market": market})
	data, err := encodeTrades(trades, w.cfg.Writer.Compression)
	if err != nil {
		w.errorsCount.Add(1)
		log.WithError(err).Error("create parquet failed")
		return
	}
	key := w.s3Key(market, time.Now().UTC())
	start := time.Now()
	if err := w.upload(key, data); err != nil {
		w.errorsCount.Add(1)
		log.WithError(err).Error("upload to s3 failed")
		return
	}
	w.filesWritten.Add(1)
	w.bytesWritten.Add(int64(len(data)))
	logger.RecordSinkWrite("s3", int64(len(data)))
	logger.LogPerformanceEntry(log, "trade_writer", "s3_upload", time.Since(start), logger.Fields{"bytes": len(data)})
	logger.LogDataFlowEntry(log, "trade_archive", "s3", len(trades), "trade_parquet")
	log.WithFields(logger.Fields{"s3_key": key, "records": len(trades), "bytes": len(data)}).Info("trade file uploaded")
}

func (w *TradeWriter) upload(key string, data []byte) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(w.cfg.Storage.S3.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type":      "parquet",
			"serumflow-version": w.cfg.Serumflow.Version,
		},
	}
	ctx := context.Background()
	if w.ctx != nil {
		ctx = context.WithoutCancel(w.ctx)
	}
	_, err := w.s3Client.PutObject(ctx, input)
	return err
}

func (w *TradeWriter) s3Key(market string, ts time.Time) string {
	parts := []string{
		fmt.Sprintf("market=%s", market),
		fmt.Sprintf("year=%04d", ts.Year()),
		fmt.Sprintf("month=%02d", int(ts.Month())),
		fmt.Sprintf("day=%02d", ts.Day()),
		fmt.Sprintf("hour=%02d", ts.Hour()),
	}
	if w.cfg.Storage.S3.Prefix != "" {
		parts = append([]string{w.cfg.Storage.S3.Prefix}, parts...)
	}
	filename := fmt.Sprintf("trades_%s_%s.parquet", ts.Format("20060102150405"), uuid.New().String())
	return filepath.ToSlash(filepath.Join(append(parts, filename)...))
}

// Stats returns writer counters in the shape shared by all writers.
func (w *TradeWriter) Stats() metrics.WriterStats {
	return metrics.WriterStats{
		BatchesWritten: w.batchesWritten.Load(),
		FilesWritten:   w.filesWritten.Load(),
		BytesWritten:   w.bytesWritten.Load(),
		ErrorsCount:    w.errorsCount.Load(),
		NormChannelLen: len(w.normChan),
		NormChannelCap: cap(w.normChan),
	}
}

func (w *TradeWriter) metricsReporter() {
	defer w.wg.Done()
	interval := w.cfg.Metrics.ReportInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			metrics.ReportWriter(w.log, "trade_writer", w.Stats())
		}
	}
}
