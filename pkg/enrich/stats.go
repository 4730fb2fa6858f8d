// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/arcspan/sfcorpus/pkg/bridge"
	"github.com/arcspan/sfcorpus/pkg/coalesce"
	"github.com/arcspan/sfcorpus/pkg/schema"
)

// CountFetcher performs one coalesced record-count batch query.
type CountFetcher func(ctx context.Context, dataType string, refs []schema.ObjectRef) (map[schema.ObjectRef]int64, bridge.Class, error)

// FreshnessFetcher performs one coalesced date-filtered count batch query,
// returning the fraction of rows considered fresh per ref.
type FreshnessFetcher func(ctx context.Context, dataType string, refs []schema.ObjectRef) (map[schema.ObjectRef]float64, bridge.Class, error)

// SampleFetcher samples up to limit rows of ref to compute field fill rates.
// There is no remote batching win here (each object's sample is a distinct
// query), so this runs per-object inside the enricher's worker pool.
type SampleFetcher func(ctx context.Context, ref schema.ObjectRef, fields []schema.FieldSpec, limit int) ([]schema.FieldFillRate, error)

// PicklistFetcher runs one grouped query per picklist field on ref.
type PicklistFetcher func(ctx context.Context, ref schema.ObjectRef, field string) ([]schema.PicklistValueCount, error)

// StatsEnricher computes usage statistics for each object.
type StatsEnricher struct {
	coalescer  *coalesce.Coalescer
	workers    int
	sampleSize int
	logger     *slog.Logger
	// Halt, if set, is polled before dispatching each ref's sample/picklist
	// work (and forwarded onto the underlying Coalescer for the count and
	// freshness batches) so a tripped Quota Wall stops new remote calls
	// mid-phase.
	Halt func() bool
}

// NewStatsEnricher creates a StatsEnricher. workers and sampleSize fall back
// to DefaultWorkers/DefaultSampleSize when <= 0.
func NewStatsEnricher(coalescer *coalesce.Coalescer, workers, sampleSize int, logger *slog.Logger) *StatsEnricher {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if sampleSize <= 0 {
		sampleSize = DefaultSampleSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StatsEnricher{coalescer: coalescer, workers: workers, sampleSize: sampleSize, logger: logger}
}

// picklistFields is the subset of a record's fields eligible for picklist
// distribution sampling: its "picklist"- and "multipicklist"-typed fields.
func picklistFields(fields []schema.FieldSpec) []string {
	var out []string
	for _, f := range fields {
		if f.Type == "picklist" || f.Type == "multipicklist" {
			out = append(out, f.Name)
		}
	}
	return out
}

// Enrich attaches a StatsBlock to every record in records it manages to
// fully process. Refs whose count/freshness batch never dispatched (Halt
// tripped) or whose batch failed at size 1 come back in the returned
// EnrichOutcome instead of getting a block, so the caller can leave them
// pending/errored in the Progress Store rather than mark them done.
func (e *StatsEnricher) Enrich(ctx context.Context, records *Records, count CountFetcher, freshness FreshnessFetcher, sample SampleFetcher, picklist PicklistFetcher) (EnrichOutcome, error) {
	var outcome EnrichOutcome
	refs := records.Refs()
	if len(refs) == 0 {
		return outcome, nil
	}

	e.coalescer.Halt = e.Halt

	countBatch := func(ctx context.Context, dataType string, batchRefs []schema.ObjectRef) (map[schema.ObjectRef][]byte, bridge.Class, error) {
		counts, class, err := count(ctx, dataType, batchRefs)
		if err != nil {
			return nil, class, err
		}
		out := make(map[schema.ObjectRef][]byte, len(counts))
		for ref, c := range counts {
			out[ref] = encodeInt(c)
		}
		return out, class, nil
	}
	countRes, err := e.coalescer.Coalesce(ctx, "stats_count", refs, countBatch)
	if err != nil {
		return outcome, fmt.Errorf("stats enricher: count: %w", err)
	}

	freshBatch := func(ctx context.Context, dataType string, batchRefs []schema.ObjectRef) (map[schema.ObjectRef][]byte, bridge.Class, error) {
		fresh, class, err := freshness(ctx, dataType, batchRefs)
		if err != nil {
			return nil, class, err
		}
		out := make(map[schema.ObjectRef][]byte, len(fresh))
		for ref, f := range fresh {
			out[ref] = encodeFloat(f)
		}
		return out, class, nil
	}
	freshRes, err := e.coalescer.Coalesce(ctx, "stats_freshness", refs, freshBatch)
	if err != nil {
		return outcome, fmt.Errorf("stats enricher: freshness: %w", err)
	}

	failed := make(map[schema.ObjectRef]error)
	for _, re := range countRes.Errors {
		failed[re.Ref] = re.Err
	}
	for _, re := range freshRes.Errors {
		if _, ok := failed[re.Ref]; !ok {
			failed[re.Ref] = re.Err
		}
	}
	skipped := make(map[schema.ObjectRef]bool)
	for _, ref := range countRes.Skipped {
		skipped[ref] = true
	}
	for _, ref := range freshRes.Skipped {
		skipped[ref] = true
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	for _, ref := range refs {
		ref := ref
		if _, isFailed := failed[ref]; isFailed || skipped[ref] {
			continue
		}
		if e.Halt != nil && e.Halt() {
			mu.Lock()
			skipped[ref] = true
			mu.Unlock()
			continue
		}
		g.Go(func() error {
			fields := records.Fields(ref)

			fillRates, serr := sample(gctx, ref, fields, e.sampleSize)
			if serr != nil {
				e.logger.Warn("stats.sample.error", "ref", string(ref), "err", serr)
			}

			distribution := make(map[string][]schema.PicklistValueCount)
			for _, field := range picklistFields(fields) {
				values, perr := picklist(gctx, ref, field)
				if perr != nil {
					e.logger.Warn("stats.picklist.error", "ref", string(ref), "field", field, "err", perr)
					continue
				}
				distribution[field] = values
			}

			recordCount, _ := decodeInt(countRes.Payloads[ref])
			freshnessFraction, _ := decodeFloat(freshRes.Payloads[ref])

			block := &schema.StatsBlock{
				RecordCount:           recordCount,
				FieldFillRates:        fillRates,
				PicklistDistribution:  distribution,
				FreshnessFraction:     freshnessFraction,
			}

			records.With(ref, func(rec *schema.ObjectRecord) {
				rec.Stats = block
			})
			return nil
		})
	}
	_ = g.Wait()

	for ref, ferr := range failed {
		outcome.Failed = append(outcome.Failed, RefFailure{Ref: ref, Err: ferr})
	}
	sort.Slice(outcome.Failed, func(i, j int) bool { return outcome.Failed[i].Ref < outcome.Failed[j].Ref })
	for ref := range skipped {
		outcome.Skipped = append(outcome.Skipped, ref)
	}
	sort.Slice(outcome.Skipped, func(i, j int) bool { return outcome.Skipped[i] < outcome.Skipped[j] })

	return outcome, nil
}
