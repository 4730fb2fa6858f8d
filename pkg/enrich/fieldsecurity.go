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

// FieldSecurityEnricher attaches per-field editable_by/readonly_by grants
// to each record, from one coalesced query joining field-permissions with
// the working set.
type FieldSecurityEnricher struct {
	coalescer *coalesce.Coalescer
	// Halt, if set, is forwarded onto the underlying Coalescer so a
	// tripped Quota Wall stops new remote calls mid-phase.
	Halt func() bool
}

// NewFieldSecurityEnricher creates a FieldSecurityEnricher.
func NewFieldSecurityEnricher(coalescer *coalesce.Coalescer) *FieldSecurityEnricher {
	return &FieldSecurityEnricher{coalescer: coalescer}
}

// Enrich merges field-level permissions into each record's Security block,
// leaving any ObjectPermissions set by OrgSecurityEnricher untouched. Refs
// whose batch never dispatched (Halt tripped) or failed come back in the
// returned EnrichOutcome instead of getting a (possibly empty) block.
func (e *FieldSecurityEnricher) Enrich(ctx context.Context, records *Records, fetch coalesce.BatchFunc) (EnrichOutcome, error) {
	var outcome EnrichOutcome
	refs := records.Refs()
	if len(refs) == 0 {
		return outcome, nil
	}

	e.coalescer.Halt = e.Halt

	res, err := e.coalescer.Coalesce(ctx, "field_security", refs, fetch)
	if err != nil {
		return outcome, fmt.Errorf("field security enricher: %w", err)
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
		var perms []schema.FieldPermission
		if p := res.Payloads[ref]; len(p) > 0 {
			if err := json.Unmarshal(p, &perms); err != nil {
				return outcome, fmt.Errorf("field security enricher: %s: decode: %w", ref, err)
			}
		}
		records.With(ref, func(rec *schema.ObjectRecord) {
			if rec.Security == nil {
				rec.Security = &schema.SecurityBlock{}
			}
			rec.Security.FieldPermissions = perms
		})
	}
	outcome.Skipped = res.Skipped
	return outcome, nil
}
