package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	HTTPAddr        string
	LogLevel        string
	ShutdownTimeout time.Duration

	Concurrency          int
	SignatureConcurrency int
	MaxBatchSize         int
	MaxBodyBytes         int64
	MaxUpdatesPerLog     int
	MaxActionsPerUpdate  int

	// ChainRPCURLs maps CAIP-2 chain ids (eip155:<n>) to JSON-RPC endpoints.
	ChainRPCURLs        map[string]string
	OracleTimeout       time.Duration
	OracleRetryAttempts int
	OracleRetryBackoff  time.Duration
	OracleMaxBackoff    time.Duration
	OracleRPS           float64

	// OracleCacheTTL of zero, the default, disables caching of block-pinned
	// answers. A reorg can change what a pinned block number resolves to.
	OracleCacheTTL     time.Duration
	OracleCacheEntries int

	PolicyBundlePath string
	PolicyBundleID   string

	RateLimitRequests      int
	RateLimitWindowSeconds int
	RateLimitFailClosed    bool
	RateLimitMaxKeys       int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// Keys are the lowercase form of their environment variable.
const (
	KeyHTTPAddr               = "http_addr"
	KeyLogLevel               = "log_level"
	KeyShutdownTimeoutMS      = "shutdown_timeout_ms"
	KeyConcurrency            = "validation_concurrency"
	KeySignatureConcurrency   = "signature_concurrency"
	KeyMaxBatchSize           = "max_batch_size"
	KeyMaxBodyBytes           = "max_body_bytes"
	KeyMaxUpdatesPerLog       = "max_updates_per_log"
	KeyMaxActionsPerUpdate    = "max_actions_per_update"
	KeyChainRPCURLs           = "chain_rpc_urls"
	KeyOracleTimeoutMS        = "oracle_timeout_ms"
	KeyOracleRetryAttempts    = "oracle_retry_attempts"
	KeyOracleRetryBackoffMS   = "oracle_retry_backoff_ms"
	KeyOracleMaxBackoffMS     = "oracle_max_backoff_ms"
	KeyOracleRPS              = "oracle_rps"
	KeyOracleCacheTTLMS       = "oracle_cache_ttl_ms"
	KeyOracleCacheEntries     = "oracle_cache_entries"
	KeyPolicyBundlePath       = "policy_bundle_path"
	KeyPolicyBundleID         = "policy_bundle_id"
	KeyRateLimitRequests      = "rate_limit_requests"
	KeyRateLimitWindowSeconds = "rate_limit_window_seconds"
	KeyRateLimitFailClosed    = "rate_limit_fail_closed"
	KeyRateLimitMaxKeys       = "rate_limit_max_keys"
	KeyRedisAddr              = "redis_addr"
	KeyRedisPassword          = "redis_password"
	KeyRedisDB                = "redis_db"
	KeyRedisPrefix            = "redis_prefix"
)

// SetDefaults registers every key with its default, which also makes
// AutomaticEnv pick the key up from the environment.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyHTTPAddr, ":8080")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyShutdownTimeoutMS, 10000)
	v.SetDefault(KeyConcurrency, 8)
	v.SetDefault(KeySignatureConcurrency, 4)
	v.SetDefault(KeyMaxBatchSize, 256)
	v.SetDefault(KeyMaxBodyBytes, 8<<20)
	v.SetDefault(KeyMaxUpdatesPerLog, 1024)
	v.SetDefault(KeyMaxActionsPerUpdate, 32)
	v.SetDefault(KeyChainRPCURLs, "")
	v.SetDefault(KeyOracleTimeoutMS, 5000)
	v.SetDefault(KeyOracleRetryAttempts, 3)
	v.SetDefault(KeyOracleRetryBackoffMS, 100)
	v.SetDefault(KeyOracleMaxBackoffMS, 1000)
	v.SetDefault(KeyOracleRPS, 20.0)
	v.SetDefault(KeyOracleCacheTTLMS, 0)
	v.SetDefault(KeyOracleCacheEntries, 10000)
	v.SetDefault(KeyPolicyBundlePath, "")
	v.SetDefault(KeyPolicyBundleID, "")
	v.SetDefault(KeyRateLimitRequests, 0)
	v.SetDefault(KeyRateLimitWindowSeconds, 60)
	v.SetDefault(KeyRateLimitFailClosed, false)
	v.SetDefault(KeyRateLimitMaxKeys, 10000)
	v.SetDefault(KeyRedisAddr, "")
	v.SetDefault(KeyRedisPassword, "")
	v.SetDefault(KeyRedisDB, 0)
	v.SetDefault(KeyRedisPrefix, "mlsvalidation:")
}

// FromEnv reads the configuration from the process environment only.
func FromEnv() (Config, error) {
	v := viper.New()
	SetDefaults(v)
	v.AutomaticEnv()
	return FromViper(v)
}

func FromViper(v *viper.Viper) (Config, error) {
	chains, err := ParseChainRPCURLs(v.GetString(KeyChainRPCURLs))
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		HTTPAddr:               v.GetString(KeyHTTPAddr),
		LogLevel:               v.GetString(KeyLogLevel),
		ShutdownTimeout:        millis(v, KeyShutdownTimeoutMS),
		Concurrency:            positive(v, KeyConcurrency),
		SignatureConcurrency:   positive(v, KeySignatureConcurrency),
		MaxBatchSize:           positive(v, KeyMaxBatchSize),
		MaxBodyBytes:           v.GetInt64(KeyMaxBodyBytes),
		MaxUpdatesPerLog:       positive(v, KeyMaxUpdatesPerLog),
		MaxActionsPerUpdate:    positive(v, KeyMaxActionsPerUpdate),
		ChainRPCURLs:           chains,
		OracleTimeout:          millis(v, KeyOracleTimeoutMS),
		OracleRetryAttempts:    positive(v, KeyOracleRetryAttempts),
		OracleRetryBackoff:     millis(v, KeyOracleRetryBackoffMS),
		OracleMaxBackoff:       millis(v, KeyOracleMaxBackoffMS),
		OracleRPS:              v.GetFloat64(KeyOracleRPS),
		OracleCacheTTL:         time.Duration(v.GetInt(KeyOracleCacheTTLMS)) * time.Millisecond,
		OracleCacheEntries:     positive(v, KeyOracleCacheEntries),
		PolicyBundlePath:       v.GetString(KeyPolicyBundlePath),
		PolicyBundleID:         v.GetString(KeyPolicyBundleID),
		RateLimitRequests:      v.GetInt(KeyRateLimitRequests),
		RateLimitWindowSeconds: positive(v, KeyRateLimitWindowSeconds),
		RateLimitFailClosed:    v.GetBool(KeyRateLimitFailClosed),
		RateLimitMaxKeys:       positive(v, KeyRateLimitMaxKeys),
		RedisAddr:              v.GetString(KeyRedisAddr),
		RedisPassword:          v.GetString(KeyRedisPassword),
		RedisDB:                v.GetInt(KeyRedisDB),
		RedisPrefix:            v.GetString(KeyRedisPrefix),
	}
	return cfg, nil
}

// ParseChainRPCURLs parses "eip155:1=https://a,eip155:8453=https://b".
func ParseChainRPCURLs(raw string) (map[string]string, error) {
	out := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		chainID, url, ok := strings.Cut(entry, "=")
		chainID, url = strings.TrimSpace(chainID), strings.TrimSpace(url)
		if !ok || chainID == "" || url == "" {
			return nil, fmt.Errorf("chain rpc url %q: want <chain id>=<url>", entry)
		}
		if !strings.HasPrefix(chainID, "eip155:") {
			return nil, fmt.Errorf("chain rpc url %q: only eip155 chains are supported", entry)
		}
		if _, dup := out[chainID]; dup {
			return nil, fmt.Errorf("chain rpc url %q: chain listed twice", entry)
		}
		out[chainID] = url
	}
	return out, nil
}

// Chains returns the configured chain ids in a stable order.
func (c Config) Chains() []string {
	ids := make([]string, 0, len(c.ChainRPCURLs))
	for id := range c.ChainRPCURLs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (c Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowSeconds) * time.Second
}

// positive falls back to the registered default for zero or negative values.
func positive(v *viper.Viper, key string) int {
	n := v.GetInt(key)
	if n <= 0 {
		if def, ok := defaultInts[key]; ok {
			return def
		}
	}
	return n
}

func millis(v *viper.Viper, key string) time.Duration {
	return time.Duration(positive(v, key)) * time.Millisecond
}

var defaultInts = intDefaults()

func intDefaults() map[string]int {
	d := viper.New()
	SetDefaults(d)
	out := make(map[string]int)
	for _, key := range d.AllKeys() {
		out[key] = d.GetInt(key)
	}
	return out
}
