package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"serumflow/config"
	"serumflow/engine"
	"serumflow/internal/channel"
	"serumflow/internal/dashboard"
	"serumflow/internal/metrics"
	"serumflow/logger"
	"serumflow/processor"
	"serumflow/reader/solana"
	"serumflow/writer"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "", "Path to configuration file (defaults per APP_ENV)")
	flag.Parse()

	cfg, err := config.LoadConfig(config.ResolvePath(*configPath))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Serumflow.Name,
		"version": cfg.Serumflow.Version,
		"env":     config.AppEnvironment(),
		"markets": len(cfg.Markets),
	}).Info("starting serumflow")

	if config.IsProductionLike(config.AppEnvironment()) && !cfg.Storage.S3.Enabled && !cfg.Storage.Kafka.Enabled {
		log.Error("no storage sink enabled; enable s3 or kafka outside development")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics.Configure(cfg.Metrics)
	metrics.Init(cfg.Metrics.Addr)
	metrics.InitCloudWatch(cfg.Metrics.CloudWatch)
	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, cfg.Metrics.ReportInterval)
	}

	source := solana.NewSource(cfg)
	if err := source.Start(ctx); err != nil {
		log.WithError(err).Error("failed to connect account stream")
		os.Exit(1)
	}
	manager := engine.NewManager(solana.NewFetcher(cfg), source, log)

	live := loadMarkets(ctx, cfg, manager, log)
	if live == 0 {
		log.Error("no market could be loaded")
		source.Stop()
		os.Exit(1)
	}

	channels := channel.NewChannels(cfg.Channels.TradeBuffer, cfg.Channels.BookBuffer)
	if cfg.Metrics.ChannelSize {
		metrics.StartChannelSizeMetrics(ctx, channels, cfg.Metrics.ReportInterval)
	}

	// Writers get their own context so they keep draining until the
	// processors have flushed.
	writerCtx, writerCancel := context.WithCancel(context.Background())
	defer writerCancel()

	var tradeWriter *writer.TradeWriter
	if cfg.Storage.S3.Enabled {
		tradeWriter, err = writer.NewTradeWriter(cfg, channels.Trades.Archive)
		if err != nil {
			log.WithError(err).Error("failed to create S3 trade writer")
			os.Exit(1)
		}
		if err := tradeWriter.Start(writerCtx); err != nil {
			log.WithError(err).Error("failed to start S3 trade writer")
			os.Exit(1)
		}
	} else {
		log.WithComponent("main").Info("S3 storage disabled; trades are not archived")
	}

	var kafkaWriter *writer.KafkaWriter
	var bookProcessor *processor.BookProcessor
	if cfg.Storage.Kafka.Enabled {
		kafkaWriter, err = writer.NewKafkaWriter(cfg, channels.Trades.Stream, channels.Books.Norm)
		if err != nil {
			log.WithError(err).Error("failed to create kafka writer")
			os.Exit(1)
		}
		if err := kafkaWriter.Start(writerCtx); err != nil {
			log.WithError(err).Error("failed to start kafka writer")
			os.Exit(1)
		}
		bookProcessor = processor.NewBookProcessor(cfg, manager, channels.Books)
	} else {
		log.WithComponent("main").Info("kafka disabled; trades and books are not streamed")
	}

	tradeProcessor := processor.NewTradeProcessor(cfg, manager, channels.Trades)
	if err := tradeProcessor.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start trade processor")
		os.Exit(1)
	}
	if bookProcessor != nil {
		if err := bookProcessor.Start(ctx); err != nil {
			log.WithError(err).Error("failed to start book processor")
			os.Exit(1)
		}
	}
	monitor := processor.NewOpenOrdersMonitor(cfg, manager)
	if err := monitor.Start(ctx); err != nil {
		log.WithError(err).Warn("open orders monitor failed to start")
	}

	var wg sync.WaitGroup
	dashCtx, dashCancel := context.WithCancel(ctx)
	defer dashCancel()
	dash, err := dashboard.NewServer(cfg.Dashboard, log, manager, monitor)
	if err != nil {
		log.WithError(err).Warn("dashboard disabled")
	} else if dash != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := dash.Run(dashCtx, cfg.Serumflow.Name); err != nil {
				log.WithError(err).Warn("dashboard stopped")
			}
		}()
	}

	log.WithField("live_markets", live).Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	done := make(chan struct{})
	go func() {
		defer close(done)

		dashCancel()
		wg.Wait()

		log.Info("stopping processors")
		monitor.Stop()
		if bookProcessor != nil {
			bookProcessor.Stop()
		}
		tradeProcessor.Stop()

		log.Info("stopping account stream")
		manager.Close()
		source.Stop()

		log.Info("stopping writers")
		channels.Close()
		writerCancel()
		if tradeWriter != nil {
			tradeWriter.Stop()
		}
		if kafkaWriter != nil {
			kafkaWriter.Stop()
		}
		cancel()
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("serumflow stopped")
}

// loadMarkets initializes every configured market and returns how many went
// live. A market that fails is logged and left out.
func loadMarkets(ctx context.Context, cfg *config.Config, manager *engine.Manager, log *logger.Log) int {
	live := 0
	for _, mc := range cfg.Markets {
		entry := log.WithComponent("main").WithFields(logger.Fields{"market": mc.Name, "address": mc.Address})
		key, err := mc.PublicKey()
		if err != nil {
			entry.WithError(err).Error("invalid market address")
			continue
		}
		st, err := manager.NamedMarket(ctx, key, mc.Name)
		if err != nil {
			entry.WithError(err).Error("failed to load market")
			continue
		}
		if st.State() == engine.StateLive {
			live++
			entry.WithFields(logger.Fields{
				"base_decimals":  st.BaseDecimals,
				"quote_decimals": st.QuoteDecimals,
			}).Info("market live")
		}
	}
	return live
}
