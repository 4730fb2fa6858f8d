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

package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/arcspan/sfcorpus/pkg/bridge"
	"github.com/arcspan/sfcorpus/pkg/coalesce"
	"github.com/arcspan/sfcorpus/pkg/schema"
)

// countFetcher implements enrich.CountFetcher over tenantCLI.batchQuery.
func (t *tenantCLI) countFetcher(ctx context.Context, dataType string, refs []schema.ObjectRef) (map[schema.ObjectRef]int64, bridge.Class, error) {
	rows, class, err := t.batchQuery(ctx, "record_count", refs)
	if err != nil || class != bridge.ClassOK {
		return nil, class, err
	}
	out := make(map[schema.ObjectRef]int64, len(rows))
	for ref, raw := range rows {
		var n int64
		if jerr := json.Unmarshal(raw, &n); jerr != nil {
			return nil, bridge.ClassTransport, fmt.Errorf("count %s: decode: %w", ref, jerr)
		}
		out[ref] = n
	}
	return out, bridge.ClassOK, nil
}

// freshnessFetcher implements enrich.FreshnessFetcher.
func (t *tenantCLI) freshnessFetcher(ctx context.Context, dataType string, refs []schema.ObjectRef) (map[schema.ObjectRef]float64, bridge.Class, error) {
	rows, class, err := t.batchQuery(ctx, "freshness", refs)
	if err != nil || class != bridge.ClassOK {
		return nil, class, err
	}
	out := make(map[schema.ObjectRef]float64, len(rows))
	for ref, raw := range rows {
		var f float64
		if jerr := json.Unmarshal(raw, &f); jerr != nil {
			return nil, bridge.ClassTransport, fmt.Errorf("freshness %s: decode: %w", ref, jerr)
		}
		out[ref] = f
	}
	return out, bridge.ClassOK, nil
}

// sampleFetcher implements enrich.SampleFetcher: a per-object sampled query
// over ref's fields, LIMIT limit rows.
func (t *tenantCLI) sampleFetcher(ctx context.Context, ref schema.ObjectRef, fields []schema.FieldSpec, limit int) ([]schema.FieldFillRate, error) {
	payload, class, err := t.perObjectQuery(ctx, "field_fill_sample", ref, "--limit", fmt.Sprint(limit))
	if err != nil {
		return nil, err
	}
	if class != bridge.ClassOK {
		return nil, fmt.Errorf("sample %s: classified %s", ref, class)
	}
	var rates []schema.FieldFillRate
	if jerr := json.Unmarshal(payload, &rates); jerr != nil {
		return nil, fmt.Errorf("sample %s: decode: %w", ref, jerr)
	}
	return rates, nil
}

// picklistFetcher implements enrich.PicklistFetcher: one grouped query per
// picklist field.
func (t *tenantCLI) picklistFetcher(ctx context.Context, ref schema.ObjectRef, field string) ([]schema.PicklistValueCount, error) {
	payload, class, err := t.perObjectQuery(ctx, "picklist_distribution", ref, "--field", field)
	if err != nil {
		return nil, err
	}
	if class != bridge.ClassOK {
		return nil, fmt.Errorf("picklist %s/%s: classified %s", ref, field, class)
	}
	var values []schema.PicklistValueCount
	if jerr := json.Unmarshal(payload, &values); jerr != nil {
		return nil, fmt.Errorf("picklist %s/%s: decode: %w", ref, field, jerr)
	}
	return values, nil
}

// automationFetcher builds a coalesce.BatchFunc for one automation kind
// (flows, triggers, validation_rules, workflow_rules).
func (t *tenantCLI) automationFetcher(kind string) coalesce.BatchFunc {
	return func(ctx context.Context, dataType string, refs []schema.ObjectRef) (map[schema.ObjectRef][]byte, bridge.Class, error) {
		return t.batchQuery(ctx, kind, refs)
	}
}

// fieldPermissionsFetcher builds the coalesce.BatchFunc FieldSecurityEnricher uses.
func (t *tenantCLI) fieldPermissionsFetcher() coalesce.BatchFunc {
	return func(ctx context.Context, dataType string, refs []schema.ObjectRef) (map[schema.ObjectRef][]byte, bridge.Class, error) {
		return t.batchQuery(ctx, "field_permissions", refs)
	}
}

// fieldHistoryFetcher builds the coalesce.BatchFunc HistoryEnricher uses.
func (t *tenantCLI) fieldHistoryFetcher() coalesce.BatchFunc {
	return func(ctx context.Context, dataType string, refs []schema.ObjectRef) (map[schema.ObjectRef][]byte, bridge.Class, error) {
		return t.batchQuery(ctx, "field_history", refs)
	}
}
