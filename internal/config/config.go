// Package config loads the ingestion engine's environment-driven
// configuration using koanf: struct defaults layered under an
// environment-variable overlay, matching spec §6's env-only surface.
package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// Mode selects the CLI's run path.
type Mode string

const (
	ModeIngest  Mode = "ingest"
	ModeExplore Mode = "explore"
)

// Config holds every recognized environment option from spec §6.
type Config struct {
	DatabaseURL string `koanf:"database_url"`
	APIBaseURL  string `koanf:"api_base_url"`
	TargetAPIKey string `koanf:"target_api_key"`
	Mode        Mode   `koanf:"mode"`

	PartitionCount      int  `koanf:"partition_count"`
	BatchSize           int  `koanf:"batch_size"`
	DBWriteConcurrency  int  `koanf:"db_write_concurrency"`
	MaxPendingWrites    int  `koanf:"max_pending_writes"`
	PGSyncCommit        string `koanf:"pg_sync_commit"`
	HealthPort          int  `koanf:"health_port"`
	AutoSubmit          bool `koanf:"auto_submit"`
	GithubRepoURL       string `koanf:"github_repo_url"`
	MinTimestampMs      int64 `koanf:"min_timestamp_ms"`
	MaxTimestampMs      int64 `koanf:"max_timestamp_ms"`
	ProgressLogIntervalMs int `koanf:"progress_log_interval_ms"`
	RequestTimeoutMs    int  `koanf:"request_timeout_ms"`
	MaxRetries          int  `koanf:"max_retries"`
	RetryBaseMs         int  `koanf:"retry_base_ms"`
	RetryMaxMs          int  `koanf:"retry_max_ms"`
}

func defaults() *Config {
	return &Config{
		Mode:                  ModeIngest,
		PartitionCount:        8,
		BatchSize:             5000,
		DBWriteConcurrency:    2,
		MaxPendingWrites:      100,
		PGSyncCommit:          "off",
		HealthPort:            8080,
		AutoSubmit:            false,
		MinTimestampMs:        1766700000000,
		MaxTimestampMs:        1769900000000,
		ProgressLogIntervalMs: 15000,
		RequestTimeoutMs:      45000,
		MaxRetries:            8,
		RetryBaseMs:           250,
		RetryMaxMs:            15000,
	}
}

// Load reads the environment into a Config, applying defaults first and
// the environment overlay second, then validates and normalizes it.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	envProvider := env.Provider("", ".", func(key string) string {
		return strings.ToLower(key)
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("config: load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	normalize(cfg)
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// normalize applies clamps and defaulting spec §6 describes as part of
// the env surface rather than pure validation failures.
func normalize(cfg *Config) {
	if cfg.PartitionCount < 1 {
		cfg.PartitionCount = 1
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if cfg.BatchSize > 5000 {
		cfg.BatchSize = 5000
	}
	if cfg.DBWriteConcurrency < 1 {
		cfg.DBWriteConcurrency = 1
	}
	if cfg.MaxPendingWrites < 1 {
		cfg.MaxPendingWrites = 1
	}
	cfg.APIBaseURL = normalizeAPIBaseURL(cfg.APIBaseURL)
}

// normalizeAPIBaseURL ensures the configured API base ends in /api/v1,
// per spec §6.
func normalizeAPIBaseURL(base string) string {
	base = strings.TrimRight(base, "/")
	if base == "" {
		return base
	}
	if strings.HasSuffix(base, "/api/v1") {
		return base
	}
	return base + "/api/v1"
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.APIBaseURL == "" {
		return fmt.Errorf("API_BASE_URL is required")
	}
	if c.TargetAPIKey == "" {
		return fmt.Errorf("TARGET_API_KEY is required")
	}
	if c.Mode != ModeIngest && c.Mode != ModeExplore {
		return fmt.Errorf("MODE must be %q or %q, got %q", ModeIngest, ModeExplore, c.Mode)
	}
	if c.PGSyncCommit != "on" && c.PGSyncCommit != "off" {
		return fmt.Errorf("PG_SYNC_COMMIT must be %q or %q, got %q", "on", "off", c.PGSyncCommit)
	}
	if c.MaxTimestampMs <= c.MinTimestampMs {
		return fmt.Errorf("MAX_TIMESTAMP_MS (%d) must exceed MIN_TIMESTAMP_MS (%d)", c.MaxTimestampMs, c.MinTimestampMs)
	}
	return nil
}
