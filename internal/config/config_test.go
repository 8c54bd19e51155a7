package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("from env: %v", err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.LogLevel != "info" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Concurrency != 8 || cfg.MaxBatchSize != 256 || cfg.OracleRetryAttempts != 3 {
		t.Fatalf("unexpected limits %+v", cfg)
	}
	if cfg.OracleTimeout != 5*time.Second || cfg.RateLimitWindow() != time.Minute {
		t.Fatalf("unexpected durations %+v", cfg)
	}
	if cfg.OracleCacheTTL != 0 || cfg.OracleCacheEntries != 10000 {
		t.Fatalf("unexpected oracle cache %+v", cfg)
	}
	if len(cfg.ChainRPCURLs) != 0 {
		t.Fatalf("expected no chains by default")
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("VALIDATION_CONCURRENCY", "16")
	t.Setenv("MAX_BATCH_SIZE", "-1")
	t.Setenv("CHAIN_RPC_URLS", "eip155:1=https://mainnet.example, eip155:8453=https://base.example")
	t.Setenv("RATE_LIMIT_FAIL_CLOSED", "true")
	t.Setenv("POLICY_BUNDLE_PATH", "policy/bundles/keypackage_v0/")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("from env: %v", err)
	}
	if cfg.HTTPAddr != ":9090" || cfg.Concurrency != 16 {
		t.Fatalf("expected overrides, got %+v", cfg)
	}
	if cfg.MaxBatchSize != 256 {
		t.Fatalf("expected invalid value to fall back to default, got %d", cfg.MaxBatchSize)
	}
	if !cfg.RateLimitFailClosed {
		t.Fatal("expected fail closed")
	}
	if cfg.PolicyBundlePath != "policy/bundles/keypackage_v0/" || cfg.PolicyBundleID != "" {
		t.Fatalf("expected bundle id to be left to the manifest, got %q %q", cfg.PolicyBundlePath, cfg.PolicyBundleID)
	}
	chains := cfg.Chains()
	if len(chains) != 2 || chains[0] != "eip155:1" || cfg.ChainRPCURLs["eip155:8453"] != "https://base.example" {
		t.Fatalf("unexpected chains %v", cfg.ChainRPCURLs)
	}
}

func TestParseChainRPCURLsErrors(t *testing.T) {
	for _, raw := range []string{
		"eip155:1",
		"=https://x",
		"solana:1=https://x",
		"eip155:1=https://a,eip155:1=https://b",
	} {
		if _, err := ParseChainRPCURLs(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestFromViperExplicitValues(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set(KeyOracleRetryBackoffMS, 250)
	v.Set(KeyRedisAddr, "localhost:6379")
	cfg, err := FromViper(v)
	if err != nil {
		t.Fatalf("from viper: %v", err)
	}
	if cfg.OracleRetryBackoff != 250*time.Millisecond || cfg.RedisAddr != "localhost:6379" {
		t.Fatalf("unexpected config %+v", cfg)
	}
}
