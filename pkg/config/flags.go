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

package config

import (
	"github.com/spf13/pflag"
)

// BindFlags registers the CLI flags of onto fs: phase
// selector(s), resume on/off, clear-cache, dry-run, max workers, cache TTL
// hours, cache dir, output dir, embed batch size, incremental on/off, and
// corpus namespace. Call ApplyFlags after fs.Parse to layer the flags'
// values onto cfg (flags win over env, which won over the file in Load).
func BindFlags(fs *pflag.FlagSet) *FlagValues {
	fv := &FlagValues{}
	fs.StringVar(&fv.Tenant, "tenant", "", "tenant alias the CLI bridge is invoked against")
	fs.StringSliceVar(&fv.Phases, "phases", nil, "comma-separated phase selector (default: full pipeline)")
	fs.BoolVar(&fv.Resume, "resume", true, "resume from the Progress Store, skipping refs already completed")
	fs.BoolVar(&fv.ClearCache, "clear-cache", false, "clear the on-disk cache before running")
	fs.BoolVar(&fv.DryRun, "dry-run", false, "emit the corpus locally only; issue no upserts or deletes")
	fs.IntVar(&fv.MaxWorkers, "max-workers", 0, "override describe/enrich worker pool size (0 keeps the per-pool defaults)")
	fs.IntVar(&fv.CacheTTLHours, "cache-ttl-hours", 0, "override cache TTL in hours (0 keeps the default)")
	fs.StringVar(&fv.CacheDir, "cache-dir", "", "override the cache directory")
	fs.StringVar(&fv.OutputDir, "output-dir", "", "override the corpus output directory")
	fs.IntVar(&fv.EmbedBatch, "embed-batch", 0, "override the embedding batch size (0 keeps the default)")
	fs.BoolVar(&fv.Incremental, "incremental", true, "diff against the previous run's content hashes before uploading")
	fs.StringVar(&fv.CorpusNamespace, "corpus-namespace", "", "prefix applied to chunk IDs in the vector index")
	return fv
}

// FlagValues holds pflag-bound destinations for the CLI flags BindFlags
// registers. Its zero value before fs.Parse reflects the flag defaults
// above; ApplyFlags only overwrites cfg fields the user actually set,
// except for the boolean toggles (resume, incremental, clear-cache,
// dry-run), which pflag always
// gives an explicit value for and which ApplyFlags therefore always
// applies.
type FlagValues struct {
	Tenant          string
	Phases          []string
	Resume          bool
	ClearCache      bool
	DryRun          bool
	MaxWorkers      int
	CacheTTLHours   int
	CacheDir        string
	OutputDir       string
	EmbedBatch      int
	Incremental     bool
	CorpusNamespace string
}

// ApplyFlags layers fv onto cfg. Call this after fs.Parse(os.Args[1:]).
func ApplyFlags(cfg *Config, fv *FlagValues) {
	if fv.Tenant != "" {
		cfg.Tenant.Alias = fv.Tenant
	}
	if len(fv.Phases) > 0 {
		cfg.Phases = fv.Phases
	}
	cfg.Resume = fv.Resume
	cfg.ClearCache = fv.ClearCache
	cfg.DryRun = fv.DryRun
	cfg.Incremental = fv.Incremental
	if fv.MaxWorkers > 0 {
		cfg.Concurrency.DescribeWorkers = fv.MaxWorkers
		cfg.Concurrency.EnrichWorkers = fv.MaxWorkers
	}
	if fv.CacheTTLHours > 0 {
		cfg.Cache.TTLHours = fv.CacheTTLHours
	}
	if fv.CacheDir != "" {
		cfg.Cache.Dir = fv.CacheDir
	}
	if fv.OutputDir != "" {
		cfg.OutputDir = fv.OutputDir
	}
	if fv.EmbedBatch > 0 {
		cfg.Batch.EmbedSize = fv.EmbedBatch
	}
	if fv.CorpusNamespace != "" {
		cfg.CorpusNamespace = fv.CorpusNamespace
	}
}
