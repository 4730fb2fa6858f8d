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

// Package describe fetches full field/relationship metadata for each
// object ref through a bounded worker pool, short-circuited by the Cache
// Store.
package describe

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/arcspan/sfcorpus/pkg/bridge"
	"github.com/arcspan/sfcorpus/pkg/cache"
	"github.com/arcspan/sfcorpus/pkg/schema"
)

// DefaultWorkers is the default per-ref describe worker pool size.
const DefaultWorkers = 15

const dataType = "describe"

// FetchFunc performs one "describe object" remote call, already wrapped in
// Retry Engine and Rate Limiter by the caller.
type FetchFunc func(ctx context.Context, ref schema.ObjectRef) (payload []byte, class bridge.Class, err error)

// ParseFunc turns a describe payload into the fields/relationships that
// populate an ObjectRecord.
type ParseFunc func(ref schema.ObjectRef, payload []byte) (fields []schema.FieldSpec, relationships []schema.Relationship, label, description string, err error)

// Describer fetches and caches per-object schema detail.
type Describer struct {
	store         *cache.Store
	schemaVersion int
	workers       int
	logger        *slog.Logger
	// Halt, if set, is polled before dispatching each ref's goroutine so a
	// tripped Quota Wall stops issuing new describe calls without aborting
	// calls already in flight. Refs never dispatched come back in Skipped.
	Halt func() bool
}

// New creates a Describer backed by store.
func New(store *cache.Store, schemaVersion, workers int, logger *slog.Logger) *Describer {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Describer{store: store, schemaVersion: schemaVersion, workers: workers, logger: logger}
}

// Failure records one ref's describe failure.
type Failure struct {
	Ref schema.ObjectRef
	Err error
}

// Describe fetches (or loads from cache) schema detail for every ref in
// refs, bounded by the configured worker pool. ContentHash is left unset;
// the caller hashes once all enrichers have also run. If Halt trips
// mid-dispatch, remaining refs are never fetched and come back in skipped
// rather than results or failures, so a resumed run retries them.
func (d *Describer) Describe(ctx context.Context, refs []schema.ObjectRef, fetch FetchFunc, parse ParseFunc) (results map[schema.ObjectRef]schema.ObjectRecord, failures []Failure, skipped []schema.ObjectRef) {
	results = make(map[schema.ObjectRef]schema.ObjectRecord, len(refs))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)

	for _, ref := range refs {
		ref := ref
		if d.Halt != nil && d.Halt() {
			skipped = append(skipped, ref)
			continue
		}
		g.Go(func() error {
			record, err := d.describeOne(gctx, ref, fetch, parse)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, Failure{Ref: ref, Err: err})
				return nil // a single ref's failure never aborts siblings
			}
			results[ref] = record
			return nil
		})
	}
	_ = g.Wait() // describeOne never returns a non-nil error from Go()

	return results, failures, skipped
}

func (d *Describer) describeOne(ctx context.Context, ref schema.ObjectRef, fetch FetchFunc, parse ParseFunc) (schema.ObjectRecord, error) {
	key := cache.Key(dataType, string(ref), nil, d.schemaVersion)

	payload, hit, err := d.store.Get(key)
	if err != nil {
		return schema.ObjectRecord{}, fmt.Errorf("describe %s: cache get: %w", ref, err)
	}

	if !hit {
		var class bridge.Class
		payload, class, err = fetch(ctx, ref)
		if err != nil {
			return schema.ObjectRecord{}, fmt.Errorf("describe %s: fetch: %w", ref, err)
		}
		if class != bridge.ClassOK {
			return schema.ObjectRecord{}, fmt.Errorf("describe %s: fetch classified %s", ref, class)
		}
		if err := d.store.Put(key, dataType, payload); err != nil {
			d.logger.Warn("describe.cache_write.error", "ref", string(ref), "err", err)
		}
	}

	fields, relationships, label, description, err := parse(ref, payload)
	if err != nil {
		return schema.ObjectRecord{}, fmt.Errorf("describe %s: parse: %w", ref, err)
	}

	return schema.ObjectRecord{
		Ref:           ref,
		Label:         label,
		Description:   description,
		Fields:        fields,
		Relationships: relationships,
	}, nil
}
