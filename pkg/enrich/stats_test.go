// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package enrich

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arcspan/sfcorpus/pkg/bridge"
	"github.com/arcspan/sfcorpus/pkg/cache"
	"github.com/arcspan/sfcorpus/pkg/coalesce"
	"github.com/arcspan/sfcorpus/pkg/schema"
)

func newTestCoalescer(t *testing.T) *coalesce.Coalescer {
	t.Helper()
	store, err := cache.New(t.TempDir(), 0)
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return coalesce.New(store, 1, nil)
}

func newTestRecords(refs ...schema.ObjectRef) *Records {
	m := make(map[schema.ObjectRef]*schema.ObjectRecord, len(refs))
	for _, ref := range refs {
		m[ref] = &schema.ObjectRecord{
			Ref:    ref,
			Fields: []schema.FieldSpec{{Name: "Status", Type: "picklist"}},
		}
	}
	return NewRecords(m)
}

func TestStatsEnricher_AttachesBlockToEveryRecord(t *testing.T) {
	e := NewStatsEnricher(newTestCoalescer(t), 2, 50, nil)
	records := newTestRecords("Account", "Contact")

	count := func(ctx context.Context, dataType string, refs []schema.ObjectRef) (map[schema.ObjectRef]int64, bridge.Class, error) {
		out := make(map[schema.ObjectRef]int64, len(refs))
		for _, r := range refs {
			out[r] = 42
		}
		return out, bridge.ClassOK, nil
	}
	freshness := func(ctx context.Context, dataType string, refs []schema.ObjectRef) (map[schema.ObjectRef]float64, bridge.Class, error) {
		out := make(map[schema.ObjectRef]float64, len(refs))
		for _, r := range refs {
			out[r] = 0.75
		}
		return out, bridge.ClassOK, nil
	}
	sample := func(ctx context.Context, ref schema.ObjectRef, fields []schema.FieldSpec, limit int) ([]schema.FieldFillRate, error) {
		require.Equal(t, 50, limit)
		return []schema.FieldFillRate{{Field: "Status", Rate: 0.9}}, nil
	}
	picklist := func(ctx context.Context, ref schema.ObjectRef, field string) ([]schema.PicklistValueCount, error) {
		return []schema.PicklistValueCount{{Value: "Open", Count: 10}}, nil
	}

	outcome, err := e.Enrich(context.Background(), records, count, freshness, sample, picklist)
	require.NoError(t, err)
	require.Empty(t, outcome.Skipped)
	require.Empty(t, outcome.Failed)

	for _, ref := range []schema.ObjectRef{"Account", "Contact"} {
		rec := records.records[ref]
		require.NotNil(t, rec.Stats)
		require.Equal(t, int64(42), rec.Stats.RecordCount)
		require.InDelta(t, 0.75, rec.Stats.FreshnessFraction, 1e-9)
		require.Equal(t, []schema.FieldFillRate{{Field: "Status", Rate: 0.9}}, rec.Stats.FieldFillRates)
		require.Equal(t, []schema.PicklistValueCount{{Value: "Open", Count: 10}}, rec.Stats.PicklistDistribution["Status"])
	}
}

func TestStatsEnricher_SampleErrorDoesNotAbortRun(t *testing.T) {
	e := NewStatsEnricher(newTestCoalescer(t), 2, 50, nil)
	records := newTestRecords("Account")

	count := func(ctx context.Context, dataType string, refs []schema.ObjectRef) (map[schema.ObjectRef]int64, bridge.Class, error) {
		return map[schema.ObjectRef]int64{"Account": 1}, bridge.ClassOK, nil
	}
	freshness := func(ctx context.Context, dataType string, refs []schema.ObjectRef) (map[schema.ObjectRef]float64, bridge.Class, error) {
		return map[schema.ObjectRef]float64{"Account": 1}, bridge.ClassOK, nil
	}
	sample := func(ctx context.Context, ref schema.ObjectRef, fields []schema.FieldSpec, limit int) ([]schema.FieldFillRate, error) {
		return nil, assertErr("sample failed")
	}
	picklist := func(ctx context.Context, ref schema.ObjectRef, field string) ([]schema.PicklistValueCount, error) {
		return nil, nil
	}

	outcome, err := e.Enrich(context.Background(), records, count, freshness, sample, picklist)
	require.NoError(t, err)
	require.Empty(t, outcome.Skipped)
	require.Empty(t, outcome.Failed)
	require.NotNil(t, records.records["Account"].Stats)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
