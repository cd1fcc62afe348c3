// Package config loads runtime settings from environment variables and an
// optional config file.
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/xrpldata/ledgercache/internal/core"
)

// Config holds every runtime setting of the cache builder.
type Config struct {
	// StoreBackend selects where cache documents live: "r2" or "filesystem".
	StoreBackend string `mapstructure:"store_backend"`

	// CacheDir is the root directory of the filesystem backend.
	CacheDir string `mapstructure:"cache_dir"`

	// Cloudflare R2 credentials (r2 backend only).
	R2AccountID       string `mapstructure:"r2_account_id"`
	R2AccessKeyID     string `mapstructure:"r2_access_key_id"`
	R2SecretAccessKey string `mapstructure:"r2_secret_access_key"`
	R2Bucket          string `mapstructure:"r2_bucket_name"`

	// XRPL endpoints.
	RPCURL  string `mapstructure:"rpc_url"`  // rippled JSON-RPC, for the search passes
	ClioURL string `mapstructure:"clio_url"` // Clio, for the ledger_index fast path

	RequestTimeoutSec int     `mapstructure:"request_timeout_sec"` // per-request HTTP timeout
	MaxRetries        int     `mapstructure:"max_retries"`         // attempts per request on transient failures
	QueryRatePerSec   float64 `mapstructure:"query_rate_per_sec"`  // pacing toward the node; 0 = unlimited
}

// Load reads configuration with defaults, an optional ledgercache.yaml in
// the working directory, and LEDGERCACHE_* environment variables. The R2
// credentials additionally honor the bare R2_* names the original tooling
// used.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("ledgercache")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Defaults
	v.SetDefault("store_backend", "r2")
	v.SetDefault("cache_dir", ".")
	v.SetDefault("rpc_url", core.DefaultRPCURL)
	v.SetDefault("clio_url", core.DefaultClioURL)
	v.SetDefault("request_timeout_sec", 30)
	v.SetDefault("max_retries", 3)
	v.SetDefault("query_rate_per_sec", 3.0)

	// Environment variables
	v.SetEnvPrefix("LEDGERCACHE")
	v.AutomaticEnv()
	v.BindEnv("r2_account_id", "LEDGERCACHE_R2_ACCOUNT_ID", "R2_ACCOUNT_ID")
	v.BindEnv("r2_access_key_id", "LEDGERCACHE_R2_ACCESS_KEY_ID", "R2_ACCESS_KEY_ID")
	v.BindEnv("r2_secret_access_key", "LEDGERCACHE_R2_SECRET_ACCESS_KEY", "R2_SECRET_ACCESS_KEY")
	v.BindEnv("r2_bucket_name", "LEDGERCACHE_R2_BUCKET_NAME", "R2_BUCKET_NAME")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// No config file; defaults and env vars apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}
