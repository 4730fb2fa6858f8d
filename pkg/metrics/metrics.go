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

// Package metrics exposes the pipeline's Prometheus instrumentation: cache
// hit/miss/write counters, rate limiter adjustments, per-phase durations,
// and uploader batch outcomes, served over promhttp.Handler behind an
// optional --metrics-addr flag.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry bundles every metric this pipeline emits, all registered
// against one prometheus.Registerer so main can choose the default
// registry or an isolated one per test.
type Registry struct {
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter
	CacheWrites prometheus.Counter
	CacheBytesSaved prometheus.Counter

	RateLimiterRatePerMin prometheus.Gauge
	RateLimiterAdjustments *prometheus.CounterVec // label: direction (up|down)

	RetryAttempts  *prometheus.CounterVec // label: class
	RetryExhausted *prometheus.CounterVec // label: class

	PhaseDuration *prometheus.HistogramVec // label: phase
	PhaseErrored  *prometheus.CounterVec   // label: phase

	UploadBatchesSucceeded prometheus.Counter
	UploadBatchesFailed    prometheus.Counter
	ChunksUpserted         prometheus.Counter
	ChunksDeleted          prometheus.Counter
}

// New creates a Registry and registers all of its metrics against reg.
// Passing a fresh prometheus.NewRegistry() keeps tests isolated from the
// process-wide default registry.
func New(reg prometheus.Registerer) *Registry {
	r := &Registry{
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sfcorpus", Subsystem: "cache", Name: "hits_total",
			Help: "Cache reads served from a fresh on-disk entry.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sfcorpus", Subsystem: "cache", Name: "misses_total",
			Help: "Cache reads that found no usable entry.",
		}),
		CacheWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sfcorpus", Subsystem: "cache", Name: "writes_total",
			Help: "Entries written to the cache store.",
		}),
		CacheBytesSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sfcorpus", Subsystem: "cache", Name: "bytes_saved_total",
			Help: "Bytes saved by zstd compression across cache writes.",
		}),
		RateLimiterRatePerMin: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sfcorpus", Subsystem: "rate_limiter", Name: "rate_per_min",
			Help: "Current steady-state token refill rate.",
		}),
		RateLimiterAdjustments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sfcorpus", Subsystem: "rate_limiter", Name: "adjustments_total",
			Help: "Adaptive rate adjustments, labeled by direction.",
		}, []string{"direction"}),
		RetryAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sfcorpus", Subsystem: "retry", Name: "attempts_total",
			Help: "Retry attempts, labeled by the bridge result class being retried.",
		}, []string{"class"}),
		RetryExhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sfcorpus", Subsystem: "retry", Name: "exhausted_total",
			Help: "Operations that exhausted all retry attempts, labeled by class.",
		}, []string{"class"}),
		PhaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sfcorpus", Subsystem: "orchestrator", Name: "phase_duration_seconds",
			Help:    "Wall-clock duration of each orchestrator phase.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"phase"}),
		PhaseErrored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sfcorpus", Subsystem: "orchestrator", Name: "phase_errored_refs_total",
			Help: "Refs a phase left in an errored state, labeled by phase.",
		}, []string{"phase"}),
		UploadBatchesSucceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sfcorpus", Subsystem: "uploader", Name: "batches_succeeded_total",
			Help: "Embedding+upsert batches that completed without exhausting retries.",
		}),
		UploadBatchesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sfcorpus", Subsystem: "uploader", Name: "batches_failed_total",
			Help: "Embedding+upsert batches that exhausted retries.",
		}),
		ChunksUpserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sfcorpus", Subsystem: "uploader", Name: "chunks_upserted_total",
			Help: "Chunks successfully upserted into the vector index.",
		}),
		ChunksDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sfcorpus", Subsystem: "uploader", Name: "chunks_deleted_total",
			Help: "Chunks (by ID prefix) deleted from the vector index.",
		}),
	}

	reg.MustRegister(
		r.CacheHits, r.CacheMisses, r.CacheWrites, r.CacheBytesSaved,
		r.RateLimiterRatePerMin, r.RateLimiterAdjustments,
		r.RetryAttempts, r.RetryExhausted,
		r.PhaseDuration, r.PhaseErrored,
		r.UploadBatchesSucceeded, r.UploadBatchesFailed,
		r.ChunksUpserted, r.ChunksDeleted,
	)
	return r
}
