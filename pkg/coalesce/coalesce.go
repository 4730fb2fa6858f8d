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

// Package coalesce merges many per-object remote queries into the minimum
// number of batched remote queries, short-circuiting through
// the Cache Store and re-partitioning batch results back onto refs.
package coalesce

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/arcspan/sfcorpus/pkg/bridge"
	"github.com/arcspan/sfcorpus/pkg/cache"
	"github.com/arcspan/sfcorpus/pkg/schema"
)

// DefaultBatchSize is B from : refs per coalesced query.
const DefaultBatchSize = 200

// BatchFunc executes one remote batch query for dataType over refs and
// returns a payload per ref that matched (refs absent from the result map
// are treated by Coalesce as legitimately empty, never as errors). The
// returned Class reflects the CLI Bridge's classification of the call.
type BatchFunc func(ctx context.Context, dataType string, refs []schema.ObjectRef) (map[schema.ObjectRef][]byte, bridge.Class, error)

// Coalescer batches per-object queries through a Cache Store.
type Coalescer struct {
	store         *cache.Store
	schemaVersion int
	logger        *slog.Logger
	// BatchSize is the number of refs per coalesced query; New sets it to
	// DefaultBatchSize and callers may override it on the Coalescer.
	BatchSize int
	// MaxConcurrentBatches bounds how many batches are in flight at once.
	MaxConcurrentBatches int
	// Halt, if set, is polled between batch dispatches so a tripped Quota
	// Wall stops new remote calls without aborting batches already in
	// flight. Refs never dispatched this way come back in Result.Skipped.
	Halt func() bool
}

// New creates a Coalescer backed by store.
func New(store *cache.Store, schemaVersion int, logger *slog.Logger) *Coalescer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coalescer{
		store:                store,
		schemaVersion:        schemaVersion,
		logger:               logger,
		BatchSize:            DefaultBatchSize,
		MaxConcurrentBatches: 4,
	}
}

// RefError records that a ref could not be resolved even at batch size 1.
type RefError struct {
	Ref schema.ObjectRef
	Err error
}

// Result is the outcome of one Coalesce call.
type Result struct {
	Payloads map[schema.ObjectRef][]byte
	Errors   []RefError
	// Skipped lists refs never dispatched because Halt tripped before
	// their batch ran. Still pending; a resumed run should retry them.
	Skipped []schema.ObjectRef
}

// Coalesce partitions refs into cached/uncached, batches the uncached
// ones, dispatches, repartitions, caches the fresh results, and merges
// everything back together. A batch that fails with syntactic_error is
// halved and retried for just that sub-batch; at batch size 1 a lasting
// failure is reported as a per-ref error rather than aborting the whole
// call. A batch that fails any other way (transport, quota, timeout,
// already exhausted by the Retry Engine) is reported as a per-ref error
// immediately, without bisecting.
func (c *Coalescer) Coalesce(ctx context.Context, dataType string, refs []schema.ObjectRef, batch BatchFunc) (Result, error) {
	result := Result{Payloads: make(map[schema.ObjectRef][]byte, len(refs))}

	var uncached []schema.ObjectRef
	for _, ref := range refs {
		key := cache.Key(dataType, string(ref), nil, c.schemaVersion)
		if payload, ok, err := c.store.Get(key); err != nil {
			return result, fmt.Errorf("cache get %s/%s: %w", dataType, ref, err)
		} else if ok {
			result.Payloads[ref] = payload
		} else {
			uncached = append(uncached, ref)
		}
	}

	if len(uncached) == 0 {
		return result, nil
	}

	batches := chunkRefs(uncached, c.BatchSize)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.MaxConcurrentBatches)

	var mu sync.Mutex
	for _, b := range batches {
		b := b
		if c.Halt != nil && c.Halt() {
			mu.Lock()
			result.Skipped = append(result.Skipped, b...)
			mu.Unlock()
			continue
		}
		g.Go(func() error {
			payloads, errs := c.runBatch(gctx, dataType, b, c.BatchSize, batch)
			mu.Lock()
			for ref, payload := range payloads {
				result.Payloads[ref] = payload
			}
			result.Errors = append(result.Errors, errs...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}

	return result, nil
}

// runBatch dispatches one batch. A clean success (err == nil and
// class == ClassOK) caches every ref in the batch. A syntactic_error is
// halved and retried for just that sub-batch, since the failure may be
// caused by one malformed ref within an otherwise-fine batch. Any other
// non-nil outcome (transport, quota, timeout — all of which the Retry
// Engine already retried inside BatchFunc before giving up) is reported as
// an immediate per-ref error for the whole batch rather than bisected,
// since bisecting a quota failure just re-runs the same exhausted retry
// cycle at every halving level.
func (c *Coalescer) runBatch(ctx context.Context, dataType string, refs []schema.ObjectRef, size int, batch BatchFunc) (map[schema.ObjectRef][]byte, []RefError) {
	rows, class, err := batch(ctx, dataType, refs)
	if err == nil && class == bridge.ClassOK {
		out := make(map[schema.ObjectRef][]byte, len(refs))
		for _, ref := range refs {
			payload, ok := rows[ref]
			if !ok {
				payload = []byte{} // missing = empty payload, not an error
			}
			out[ref] = payload
			key := cache.Key(dataType, string(ref), nil, c.schemaVersion)
			if perr := c.store.Put(key, dataType, payload); perr != nil {
				c.logger.Warn("coalesce.cache_write.error", "ref", string(ref), "err", perr)
			}
		}
		return out, nil
	}

	if err == nil && class != bridge.ClassSyntactic {
		// Non-nil class but no error is unexpected from a well-behaved
		// BatchFunc; treat it the same as a non-syntactic failure rather
		// than bisect.
		errs := make([]RefError, len(refs))
		for i, ref := range refs {
			errs[i] = RefError{Ref: ref, Err: fmt.Errorf("coalesce: batch reported class=%s with no error", class)}
		}
		return nil, errs
	}

	if class != bridge.ClassSyntactic {
		c.logger.Warn("coalesce.batch.failed", "data_type", dataType, "size", len(refs), "class", string(class), "err", err)
		errs := make([]RefError, len(refs))
		for i, ref := range refs {
			errs[i] = RefError{Ref: ref, Err: fmt.Errorf("coalesce: batch failed (class=%s): %w", class, err)}
		}
		return nil, errs
	}

	if len(refs) == 1 {
		return nil, []RefError{{Ref: refs[0], Err: fmt.Errorf("coalesce: batch failed at size 1 (class=%s): %w", class, err)}}
	}

	c.logger.Info("coalesce.batch.halving", "data_type", dataType, "size", len(refs), "class", string(class))
	mid := len(refs) / 2
	left, leftErrs := c.runBatch(ctx, dataType, refs[:mid], size, batch)
	right, rightErrs := c.runBatch(ctx, dataType, refs[mid:], size, batch)

	merged := make(map[schema.ObjectRef][]byte, len(left)+len(right))
	for k, v := range left {
		merged[k] = v
	}
	for k, v := range right {
		merged[k] = v
	}
	return merged, append(leftErrs, rightErrs...)
}

// chunkRefs sorts refs lexicographically and splits them into batches of at
// most size, so the same ref set always yields the same batches.
func chunkRefs(refs []schema.ObjectRef, size int) [][]schema.ObjectRef {
	if size <= 0 {
		size = DefaultBatchSize
	}
	sorted := append([]schema.ObjectRef(nil), refs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var batches [][]schema.ObjectRef
	for i := 0; i < len(sorted); i += size {
		end := i + size
		if end > len(sorted) {
			end = len(sorted)
		}
		batches = append(batches, sorted[i:end])
	}
	return batches
}
