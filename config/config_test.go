package config

import (
	"os"
	"strings"
	"testing"
)

const minimalConfig = `serumflow:
  name: "TestApp"
  version: "1.0"
rpc:
  http_url: "http://localhost:8899"
  ws_url: "ws://localhost:8900"
markets:
  - name: "SOL/USDC"
    address: "9wFFyRfZBsuAha4YcuxcXLKwMxJR43S7fPfQLusDBzvT"
channels:
  trade_buffer: 1
  book_buffer: 1
processor:
  batch_size: 1
  batch_timeout: 1s
writer:
  flush_interval: 1s
storage:
  s3:
    enabled: false
`

// writeTempConfig writes content to a temporary file and returns its path.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}
	return f.Name()
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeTempConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Serumflow.Name != "TestApp" {
		t.Errorf("unexpected name: %s", cfg.Serumflow.Name)
	}
	if cfg.RPC.Commitment != "confirmed" {
		t.Errorf("expected default commitment, got %s", cfg.RPC.Commitment)
	}
	if cfg.Processor.BookDepth != 20 {
		t.Errorf("expected default book depth, got %d", cfg.Processor.BookDepth)
	}
	key, err := cfg.Markets[0].PublicKey()
	if err != nil {
		t.Fatalf("market key: %v", err)
	}
	if key.String() != "9wFFyRfZBsuAha4YcuxcXLKwMxJR43S7fPfQLusDBzvT" {
		t.Errorf("unexpected market key %s", key)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("SOLANA_RPC_URL", "http://rpc.example:8899")
	t.Setenv("KAFKA_BROKERS", "b1:9092, b2:9092,")

	cfg, err := LoadConfig(writeTempConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.RPC.HTTPURL != "http://rpc.example:8899" {
		t.Errorf("rpc url not overridden: %s", cfg.RPC.HTTPURL)
	}
	if len(cfg.Storage.Kafka.Brokers) != 2 || cfg.Storage.Kafka.Brokers[1] != "b2:9092" {
		t.Errorf("unexpected brokers %v", cfg.Storage.Kafka.Brokers)
	}
}

func TestLoadConfigValidation(t *testing.T) {
	cases := []struct {
		name    string
		replace [2]string
		wantErr string
	}{
		{"missing name", [2]string{`name: "TestApp"`, `name: ""`}, "serumflow.name is required"},
		{"bad commitment", [2]string{`ws_url: "ws://localhost:8900"`, "ws_url: \"ws://localhost:8900\"\n  commitment: \"eventual\""}, "rpc.commitment"},
		{"bad market address", [2]string{"9wFFyRfZBsuAha4YcuxcXLKwMxJR43S7fPfQLusDBzvT", "not-a-key"}, "markets[0].address"},
		{"zero trade buffer", [2]string{"trade_buffer: 1", "trade_buffer: 0"}, "channels.trade_buffer"},
		{"invalid bucket", [2]string{"enabled: false", "enabled: true\n    bucket: \"Invalid\"\n    region: \"x\"\n    access_key_id: \"a\"\n    secret_access_key: \"b\""}, "storage.s3.bucket 'Invalid' is invalid"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Setenv("S3_BUCKET", "")
			content := strings.Replace(minimalConfig, c.replace[0], c.replace[1], 1)
			_, err := LoadConfig(writeTempConfig(t, content))
			if err == nil || !strings.Contains(err.Error(), c.wantErr) {
				t.Fatalf("expected error containing %q, got %v", c.wantErr, err)
			}
		})
	}
}

func TestLoadConfigRejectsDuplicateMarkets(t *testing.T) {
	content := strings.Replace(minimalConfig, "channels:", `  - name: "SOL/USDC"
    address: "A8YFbxQYFVqKZaoYJLLUVcQiWP7G2MeEgW5wsAQgMvFw"
channels:`, 1)
	_, err := LoadConfig(writeTempConfig(t, content))
	if err == nil || !strings.Contains(err.Error(), "duplicated") {
		t.Fatalf("expected duplicate market error, got %v", err)
	}
}

func TestIsValidS3Bucket(t *testing.T) {
	cases := []struct {
		name  string
		valid bool
	}{
		{"valid-bucket", true},
		{"Invalid", false},
		{"ab", false},
		{"my..bucket", false},
	}
	for _, c := range cases {
		if got := isValidS3Bucket(c.name); got != c.valid {
			t.Errorf("isValidS3Bucket(%q) = %v, want %v", c.name, got, c.valid)
		}
	}
}

func TestAppEnvironmentAliases(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	if env := AppEnvironment(); env != EnvironmentProduction {
		t.Fatalf("got %s", env)
	}
	if !IsProductionLike(AppEnvironment()) {
		t.Fatalf("production should be production-like")
	}
	t.Setenv("APP_ENV", "")
	if env := AppEnvironment(); env != EnvironmentDevelopment {
		t.Fatalf("got %s", env)
	}
}

func TestResolvePathKeepsExplicitPath(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	if got := ResolvePath("custom.yml"); got != "custom.yml" {
		t.Fatalf("got %s", got)
	}
}

func TestResolvePathFallsBackToDefault(t *testing.T) {
	t.Setenv("APP_ENV", "stagging")
	if got := ResolvePath(""); got != defaultConfigPath {
		t.Fatalf("got %s", got)
	}
	if IsProductionLike(EnvironmentDevelopment) {
		t.Fatal("development is not production-like")
	}
}
