// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package enrich

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/arcspan/sfcorpus/pkg/coalesce"
	"github.com/arcspan/sfcorpus/pkg/schema"
)

// HistoryEnricher attaches per-custom-field audit metadata (created/modified
// by/at) to each record, from one coalesced query over custom fields.
type HistoryEnricher struct {
	coalescer *coalesce.Coalescer
	// Halt, if set, is forwarded onto the underlying Coalescer so a
	// tripped Quota Wall stops new remote calls mid-phase.
	Halt func() bool
}

// NewHistoryEnricher creates a HistoryEnricher.
func NewHistoryEnricher(coalescer *coalesce.Coalescer) *HistoryEnricher {
	return &HistoryEnricher{coalescer: coalescer}
}

// Enrich attaches a HistoryBlock to every record in records it manages to
// process. Refs whose batch never dispatched (Halt tripped) or failed come
// back in the returned EnrichOutcome instead of getting a block.
func (e *HistoryEnricher) Enrich(ctx context.Context, records *Records, fetch coalesce.BatchFunc) (EnrichOutcome, error) {
	var outcome EnrichOutcome
	refs := records.Refs()
	if len(refs) == 0 {
		return outcome, nil
	}

	e.coalescer.Halt = e.Halt

	res, err := e.coalescer.Coalesce(ctx, "field_history", refs, fetch)
	if err != nil {
		return outcome, fmt.Errorf("history enricher: %w", err)
	}

	skipped := make(map[schema.ObjectRef]bool, len(res.Skipped))
	for _, ref := range res.Skipped {
		skipped[ref] = true
	}
	failed := make(map[schema.ObjectRef]bool, len(res.Errors))
	for _, re := range res.Errors {
		failed[re.Ref] = true
		outcome.Failed = append(outcome.Failed, RefFailure{Ref: re.Ref, Err: re.Err})
	}

	for _, ref := range refs {
		if skipped[ref] || failed[ref] {
			continue
		}
		var entries []schema.FieldHistoryEntry
		if p := res.Payloads[ref]; len(p) > 0 {
			if err := json.Unmarshal(p, &entries); err != nil {
				return outcome, fmt.Errorf("history enricher: %s: decode: %w", ref, err)
			}
		}
		block := &schema.HistoryBlock{Fields: entries}
		records.With(ref, func(rec *schema.ObjectRecord) {
			rec.History = block
		})
	}
	outcome.Skipped = res.Skipped
	return outcome, nil
}
