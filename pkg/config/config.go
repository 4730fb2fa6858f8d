// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config assembles the pipeline's Config from a layered
// file/env/flag stack: CLI flags win over environment variables, which win
// over the YAML file, which wins over built-in defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Default sizing
const (
	DefaultDescribeWorkers = 15
	DefaultEnrichWorkers   = 15
	DefaultUpsertWorkers   = 8
	DefaultRatePerMin      = 200.0
	DefaultCacheTTLHours   = 24
	DefaultRetryAttempts   = 5
	DefaultCoalesceBatch   = 200
	DefaultEmbedBatch      = 96
	DefaultSampleSize      = 100
	DefaultSchemaVersion   = 1
)

// Config is the fully resolved configuration for one pipeline run.
type Config struct {
	Version int `yaml:"version"`

	// Tenant identifies which CRM org the CLI bridge alias points at.
	Tenant TenantConfig `yaml:"tenant"`

	// Index holds the external vector index's endpoint and credentials.
	Index IndexConfig `yaml:"index"`

	// Embedding holds the embedding model's endpoint and credentials.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Concurrency controls the pipeline's worker pool sizes.
	Concurrency ConcurrencyConfig `yaml:"concurrency"`

	// RateLimit controls the global token bucket.
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// Cache controls the on-disk cache store.
	Cache CacheConfig `yaml:"cache"`

	// Retry controls the retry engine's backoff policy.
	Retry RetryConfig `yaml:"retry"`

	// Batch controls coalesced-query and embedding batch sizes.
	Batch BatchConfig `yaml:"batch"`

	// Phases is the phase selector, empty meaning the full pipeline.
	Phases []string `yaml:"phases"`

	// OutputDir is where the JSONL corpus, markdown docs, and schema
	// snapshot are written.
	OutputDir string `yaml:"output_dir"`

	// CorpusNamespace prefixes chunk IDs so multiple tenants' corpora
	// can share one vector index without collision.
	CorpusNamespace string `yaml:"corpus_namespace"`

	// Resume toggles whether a run consults the Progress Store to skip
	// refs already completed in a prior run.
	Resume bool `yaml:"resume"`

	// Incremental toggles whether the Uploader diffs against the
	// previous run's content hashes (false forces a full re-upload).
	Incremental bool `yaml:"incremental"`

	// DryRun, when true, emits the corpus locally but issues no upserts
	// or deletes against the vector index.
	DryRun bool `yaml:"dry_run"`

	// ClearCache wipes the cache store before the run starts.
	ClearCache bool `yaml:"clear_cache"`
}

// TenantConfig names the tenant alias the CLI bridge is invoked against.
type TenantConfig struct {
	Alias string `yaml:"alias"`
}

// IndexConfig holds the vector index's connection details.
type IndexConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key,omitempty"`
}

// EmbeddingConfig holds the embedding model's connection details.
type EmbeddingConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key,omitempty"`
	Model    string `yaml:"model"`
}

// ConcurrencyConfig controls worker pool sizes's default
// sizing table.
type ConcurrencyConfig struct {
	DescribeWorkers int `yaml:"describe_workers"`
	EnrichWorkers   int `yaml:"enrich_workers"`
	UpsertWorkers   int `yaml:"upsert_workers"`
}

// RateLimitConfig controls the global token bucket.
type RateLimitConfig struct {
	Burst      int     `yaml:"burst"`
	RatePerMin float64 `yaml:"rate_per_min"`
}

// CacheConfig controls the on-disk cache store.
type CacheConfig struct {
	Dir           string `yaml:"dir"`
	TTLHours      int    `yaml:"ttl_hours"`
	SchemaVersion int    `yaml:"schema_version"`
}

// RetryConfig controls the retry engine's backoff policy.
type RetryConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
}

// BatchConfig controls coalesced-query and embedding batch sizes.
type BatchConfig struct {
	CoalesceSize int `yaml:"coalesce_size"`
	EmbedSize    int `yaml:"embed_size"`
	SampleSize   int `yaml:"sample_size"`
}

// DefaultConfig returns a Config populated with the default sizing table.
// Callers layer a file, then environment variables, then flags on top
// via Load (which also applies environment variables) and ApplyFlags.
func DefaultConfig() *Config {
	return &Config{
		Version: DefaultSchemaVersion,
		Embedding: EmbeddingConfig{
			Model: "text-embedding-3-small",
		},
		Concurrency: ConcurrencyConfig{
			DescribeWorkers: DefaultDescribeWorkers,
			EnrichWorkers:   DefaultEnrichWorkers,
			UpsertWorkers:   DefaultUpsertWorkers,
		},
		RateLimit: RateLimitConfig{
			Burst:      20,
			RatePerMin: DefaultRatePerMin,
		},
		Cache: CacheConfig{
			Dir:           ".sfcorpus/cache",
			TTLHours:      DefaultCacheTTLHours,
			SchemaVersion: DefaultSchemaVersion,
		},
		Retry: RetryConfig{
			MaxAttempts: DefaultRetryAttempts,
		},
		Batch: BatchConfig{
			CoalesceSize: DefaultCoalesceBatch,
			EmbedSize:    DefaultEmbedBatch,
			SampleSize:   DefaultSampleSize,
		},
		OutputDir:   ".sfcorpus/out",
		Incremental: true,
	}
}

// CacheTTL returns the configured cache TTL as a time.Duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLHours) * time.Hour
}

// Load builds a Config by starting from DefaultConfig, merging a YAML file
// at path (if path is non-empty and the file exists), then applying
// environment variable overrides. CLI flag overrides are applied
// separately by the caller (cmd/sfcorpus), since pflag's FlagSet lifetime
// belongs to the command, not this package. Load does not call Validate:
// --dry-run (a flag, not a file/env setting) relaxes which fields are
// required, so the caller must call Validate itself after ApplyFlags.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from a --config flag or env var
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, &FatalConfigError{What: "cannot read configuration file", Detail: err.Error()}
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, &FatalConfigError{What: "invalid configuration file", Detail: err.Error()}
		}
	}

	cfg.applyEnv()

	return cfg, nil
}

// Save writes cfg to path as YAML, creating parent directories as needed.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// applyEnv applies the environment variables documented in :
// tenant alias, vector index endpoint/credentials, embedding model
// credentials, cache/output directory paths, and the batch/pool/rate/TTL
// tunables.
func (c *Config) applyEnv() {
	if v := os.Getenv("SFCORPUS_TENANT_ALIAS"); v != "" {
		c.Tenant.Alias = v
	}
	if v := os.Getenv("SFCORPUS_INDEX_ENDPOINT"); v != "" {
		c.Index.Endpoint = v
	}
	if v := os.Getenv("SFCORPUS_INDEX_API_KEY"); v != "" {
		c.Index.APIKey = v
	}
	if v := os.Getenv("SFCORPUS_EMBEDDING_ENDPOINT"); v != "" {
		c.Embedding.Endpoint = v
	}
	if v := os.Getenv("SFCORPUS_EMBEDDING_API_KEY"); v != "" {
		c.Embedding.APIKey = v
	}
	if v := os.Getenv("SFCORPUS_EMBEDDING_MODEL"); v != "" {
		c.Embedding.Model = v
	}
	if v := os.Getenv("SFCORPUS_CACHE_DIR"); v != "" {
		c.Cache.Dir = v
	}
	if v := os.Getenv("SFCORPUS_OUTPUT_DIR"); v != "" {
		c.OutputDir = v
	}
	if v := getEnvInt("SFCORPUS_DESCRIBE_WORKERS"); v != 0 {
		c.Concurrency.DescribeWorkers = v
	}
	if v := getEnvInt("SFCORPUS_ENRICH_WORKERS"); v != 0 {
		c.Concurrency.EnrichWorkers = v
	}
	if v := getEnvInt("SFCORPUS_UPSERT_WORKERS"); v != 0 {
		c.Concurrency.UpsertWorkers = v
	}
	if v := getEnvFloat("SFCORPUS_RATE_PER_MIN"); v != 0 {
		c.RateLimit.RatePerMin = v
	}
	if v := getEnvInt("SFCORPUS_CACHE_TTL_HOURS"); v != 0 {
		c.Cache.TTLHours = v
	}
	if v := getEnvInt("SFCORPUS_RETRY_ATTEMPTS"); v != 0 {
		c.Retry.MaxAttempts = v
	}
	if v := getEnvInt("SFCORPUS_COALESCE_BATCH"); v != 0 {
		c.Batch.CoalesceSize = v
	}
	if v := getEnvInt("SFCORPUS_EMBED_BATCH"); v != 0 {
		c.Batch.EmbedSize = v
	}
	if v := os.Getenv("SFCORPUS_CORPUS_NAMESPACE"); v != "" {
		c.CorpusNamespace = v
	}
}

func getEnvInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func getEnvFloat(key string) float64 {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return f
}

// FatalConfigError is the error type main inspects to choose the
// fatal-config exit code of : missing credentials, unreadable
// cache dir, or invalid flags abort before any remote calls.
type FatalConfigError struct {
	What   string
	Detail string
}

func (e *FatalConfigError) Error() string {
	if e.Detail == "" {
		return e.What
	}
	return fmt.Sprintf("%s: %s", e.What, e.Detail)
}

// Validate checks the fields that must be set before any remote call is
// attempted. It does not validate phase selectors (ParsePhases does that).
func (c *Config) Validate() error {
	if c.Tenant.Alias == "" {
		return &FatalConfigError{What: "missing tenant alias", Detail: "set tenant.alias, SFCORPUS_TENANT_ALIAS, or --tenant"}
	}
	if !c.DryRun {
		if c.Index.Endpoint == "" {
			return &FatalConfigError{What: "missing vector index endpoint", Detail: "set index.endpoint, SFCORPUS_INDEX_ENDPOINT, or --index-endpoint (or pass --dry-run)"}
		}
		if c.Embedding.Endpoint == "" {
			return &FatalConfigError{What: "missing embedding model endpoint", Detail: "set embedding.endpoint, SFCORPUS_EMBEDDING_ENDPOINT, or --embedding-endpoint (or pass --dry-run)"}
		}
	}
	if c.Concurrency.DescribeWorkers <= 0 || c.Concurrency.EnrichWorkers <= 0 || c.Concurrency.UpsertWorkers <= 0 {
		return &FatalConfigError{What: "invalid worker pool size", Detail: "pool sizes must be positive"}
	}
	if c.Cache.TTLHours <= 0 {
		return &FatalConfigError{What: "invalid cache TTL", Detail: "ttl_hours must be positive"}
	}
	if c.Batch.CoalesceSize <= 0 || c.Batch.EmbedSize <= 0 {
		return &FatalConfigError{What: "invalid batch size", Detail: "batch sizes must be positive"}
	}
	return nil
}
