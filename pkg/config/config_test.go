// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_MatchesSizingTable(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, DefaultDescribeWorkers, cfg.Concurrency.DescribeWorkers)
	require.Equal(t, DefaultEnrichWorkers, cfg.Concurrency.EnrichWorkers)
	require.Equal(t, DefaultUpsertWorkers, cfg.Concurrency.UpsertWorkers)
	require.Equal(t, DefaultRatePerMin, cfg.RateLimit.RatePerMin)
	require.Equal(t, DefaultCacheTTLHours, cfg.Cache.TTLHours)
	require.Equal(t, DefaultRetryAttempts, cfg.Retry.MaxAttempts)
	require.Equal(t, DefaultCoalesceBatch, cfg.Batch.CoalesceSize)
	require.Equal(t, DefaultEmbedBatch, cfg.Batch.EmbedSize)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tenant:\n  alias: acme-prod\ncache:\n  ttl_hours: 48\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "acme-prod", cfg.Tenant.Alias)
	require.Equal(t, 48, cfg.Cache.TTLHours)
	// Untouched fields keep their defaults.
	require.Equal(t, DefaultDescribeWorkers, cfg.Concurrency.DescribeWorkers)
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	// Load itself never validates (see Load's doc comment): --dry-run can
	// only be applied by the caller after Load returns, via ApplyFlags, so
	// Validate must be called separately once flags are in place.
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.NotNil(t, cfg)
	require.Equal(t, "", cfg.Tenant.Alias)
	require.Error(t, cfg.Validate()) // no tenant alias set anywhere
}

func TestApplyEnv_OverridesFileValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tenant:\n  alias: from-file\n"), 0o600))

	t.Setenv("SFCORPUS_TENANT_ALIAS", "from-env")
	t.Setenv("SFCORPUS_CACHE_TTL_HOURS", "72")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.Tenant.Alias)
	require.Equal(t, 72, cfg.Cache.TTLHours)
}

func TestValidate_RequiresTenantAlias(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.Validate()
	require.Error(t, err)
	var fatal *FatalConfigError
	require.ErrorAs(t, err, &fatal)
}

func TestValidate_DryRunSkipsIndexAndEmbeddingEndpoints(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tenant.Alias = "acme"
	cfg.DryRun = true
	require.NoError(t, cfg.Validate())
}

func TestValidate_RequiresIndexEndpointWhenNotDryRun(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tenant.Alias = "acme"
	err := cfg.Validate()
	require.Error(t, err)
}

func TestBindFlags_ApplyFlagsOverridesEnvAndFile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tenant.Alias = "from-file"
	cfg.Cache.TTLHours = 48

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fv := BindFlags(fs)
	require.NoError(t, fs.Parse([]string{"--tenant", "from-flag", "--cache-ttl-hours", "12", "--dry-run"}))

	ApplyFlags(cfg, fv)
	require.Equal(t, "from-flag", cfg.Tenant.Alias)
	require.Equal(t, 12, cfg.Cache.TTLHours)
	require.True(t, cfg.DryRun)
}

func TestBindFlags_ZeroValueFlagsDoNotClobberDefaults(t *testing.T) {
	cfg := DefaultConfig()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fv := BindFlags(fs)
	require.NoError(t, fs.Parse(nil))

	ApplyFlags(cfg, fv)
	require.Equal(t, DefaultEmbedBatch, cfg.Batch.EmbedSize)
	require.Equal(t, ".sfcorpus/cache", cfg.Cache.Dir)
}

func TestCacheTTL_ConvertsHoursToDuration(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cache.TTLHours = 2
	require.Equal(t, 2*60*60*1e9, int(cfg.CacheTTL()))
}
