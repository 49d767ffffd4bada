package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Serumflow SerumflowConfig `yaml:"serumflow"`
	RPC       RPCConfig       `yaml:"rpc"`
	Markets   []MarketConfig  `yaml:"markets"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Channels  ChannelsConfig  `yaml:"channels"`
	Processor ProcessorConfig `yaml:"processor"`
	Writer    WriterConfig    `yaml:"writer"`
	Storage   StorageConfig   `yaml:"storage"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type SerumflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type RPCConfig struct {
	HTTPURL           string        `yaml:"http_url"`
	WSURL             string        `yaml:"ws_url"`
	Commitment        string        `yaml:"commitment"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	Timeout           time.Duration `yaml:"timeout"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
	MaxReconnectDelay time.Duration `yaml:"max_reconnect_delay"`
}

// MarketConfig names a market to follow. OpenOrders optionally lists open
// orders accounts whose updates are streamed too.
type MarketConfig struct {
	Name       string   `yaml:"name"`
	Address    string   `yaml:"address"`
	OpenOrders []string `yaml:"open_orders"`
}

// PublicKey parses the market address.
func (m MarketConfig) PublicKey() (solana.PublicKey, error) {
	return solana.PublicKeyFromBase58(strings.TrimSpace(m.Address))
}

// OpenOrdersKeys parses the open orders addresses.
func (m MarketConfig) OpenOrdersKeys() ([]solana.PublicKey, error) {
	keys := make([]solana.PublicKey, 0, len(m.OpenOrders))
	for _, addr := range m.OpenOrders {
		key, err := solana.PublicKeyFromBase58(strings.TrimSpace(addr))
		if err != nil {
			return nil, fmt.Errorf("open orders address %q: %w", addr, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

type MetricsConfig struct {
	Addr           string           `yaml:"addr"`
	ChannelSize    bool             `yaml:"channel_size"`
	ReportInterval time.Duration    `yaml:"report_interval"`
	CloudWatch     CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
	Dashboard string `yaml:"dashboard"`
}

type ChannelsConfig struct {
	TradeBuffer int `yaml:"trade_buffer"`
	BookBuffer  int `yaml:"book_buffer"`
}

type ProcessorConfig struct {
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	BookDepth    int           `yaml:"book_depth"`
	BookInterval time.Duration `yaml:"book_interval"`
}

type WriterConfig struct {
	FlushInterval time.Duration `yaml:"flush_interval"`
	MaxBuffer     int           `yaml:"max_buffer"`
	Compression   string        `yaml:"compression"`
}

type StorageConfig struct {
	S3    S3Config    `yaml:"s3"`
	Kafka KafkaConfig `yaml:"kafka"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type KafkaConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Brokers      []string      `yaml:"brokers"`
	TradeTopic   string        `yaml:"trade_topic"`
	BookTopic    string        `yaml:"book_topic"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
}

type DashboardConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Addr            string        `yaml:"addr"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	MaxTrades       int           `yaml:"max_trades"`
	BookDepth       int           `yaml:"book_depth"`
	LogHistory      int           `yaml:"log_history"`
	MetricsHistory  int           `yaml:"metrics_history"`
}

type LoggingConfig struct {
	Level  string                 `yaml:"level"`
	Format string                 `yaml:"format"`
	Output string                 `yaml:"output"`
	MaxAge int                    `yaml:"max_age"`
	Fields map[string]interface{} `yaml:"fields"`
}

func LoadConfig(path string) (*Config, error) {
	// Read configuration file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		RPC: RPCConfig{
			Commitment:        "confirmed",
			RequestsPerSecond: 10,
			Burst:             5,
			Timeout:           10 * time.Second,
			ReconnectDelay:    time.Second,
			MaxReconnectDelay: 30 * time.Second,
		},
		Metrics: MetricsConfig{
			ChannelSize:    true,
			ReportInterval: time.Minute,
		},
		Processor: ProcessorConfig{
			BookDepth:    20,
			BookInterval: time.Second,
		},
		Dashboard: DashboardConfig{
			Addr:            ":8080",
			RefreshInterval: 5 * time.Second,
			MaxTrades:       200,
			BookDepth:       20,
			LogHistory:      500,
			MetricsHistory:  200,
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&config)

	// Validate configuration
	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyEnvOverrides(config *Config) {
	if v := os.Getenv("SOLANA_RPC_URL"); v != "" {
		config.RPC.HTTPURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("SOLANA_WS_URL"); v != "" {
		config.RPC.WSURL = strings.TrimSpace(v)
	}

	// Override S3 settings from environment variables if available
	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		var brokers []string
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
		config.Storage.Kafka.Brokers = brokers
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Serumflow.Name == "" {
		return fmt.Errorf("serumflow.name is required")
	}

	if cfg.Serumflow.Version == "" {
		return fmt.Errorf("serumflow.version is required")
	}

	if cfg.RPC.HTTPURL == "" {
		return fmt.Errorf("rpc.http_url is required")
	}
	if cfg.RPC.WSURL == "" {
		return fmt.Errorf("rpc.ws_url is required")
	}
	switch cfg.RPC.Commitment {
	case "processed", "confirmed", "finalized":
	default:
		return fmt.Errorf("rpc.commitment '%s' is invalid", cfg.RPC.Commitment)
	}
	if cfg.RPC.RequestsPerSecond <= 0 {
		return fmt.Errorf("rpc.requests_per_second must be greater than 0")
	}

	if len(cfg.Markets) == 0 {
		return fmt.Errorf("at least one market is required")
	}
	names := make(map[string]struct{}, len(cfg.Markets))
	for i, m := range cfg.Markets {
		if m.Name == "" {
			return fmt.Errorf("markets[%d].name is required", i)
		}
		if _, dup := names[m.Name]; dup {
			return fmt.Errorf("markets[%d].name '%s' is duplicated", i, m.Name)
		}
		names[m.Name] = struct{}{}
		if _, err := m.PublicKey(); err != nil {
			return fmt.Errorf("markets[%d].address '%s' is invalid: %w", i, m.Address, err)
		}
		if _, err := m.OpenOrdersKeys(); err != nil {
			return fmt.Errorf("markets[%d]: %w", i, err)
		}
	}

	if cfg.Channels.TradeBuffer <= 0 {
		return fmt.Errorf("channels.trade_buffer must be greater than 0")
	}
	if cfg.Channels.BookBuffer <= 0 {
		return fmt.Errorf("channels.book_buffer must be greater than 0")
	}

	if cfg.Processor.BatchSize <= 0 {
		return fmt.Errorf("processor.batch_size must be greater than 0")
	}
	if cfg.Processor.BatchTimeout <= 0 {
		return fmt.Errorf("processor.batch_timeout must be greater than 0")
	}

	if cfg.Writer.FlushInterval <= 0 {
		return fmt.Errorf("writer.flush_interval must be greater than 0")
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if cfg.Storage.S3.AccessKeyID == "" || cfg.Storage.S3.SecretAccessKey == "" {
			return fmt.Errorf("storage.s3.access_key_id and storage.s3.secret_access_key are required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	if cfg.Storage.Kafka.Enabled {
		if len(cfg.Storage.Kafka.Brokers) == 0 {
			return fmt.Errorf("storage.kafka.brokers is required when Kafka is enabled")
		}
		if cfg.Storage.Kafka.TradeTopic == "" && cfg.Storage.Kafka.BookTopic == "" {
			return fmt.Errorf("storage.kafka needs a trade_topic or a book_topic")
		}
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
