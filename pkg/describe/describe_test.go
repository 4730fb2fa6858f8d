// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package describe

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arcspan/sfcorpus/pkg/bridge"
	"github.com/arcspan/sfcorpus/pkg/cache"
	"github.com/arcspan/sfcorpus/pkg/schema"
)

func newDescriber(t *testing.T, workers int) *Describer {
	t.Helper()
	store, err := cache.New(t.TempDir(), 0)
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return New(store, 1, workers, nil)
}

func stubParse(ref schema.ObjectRef, payload []byte) ([]schema.FieldSpec, []schema.Relationship, string, string, error) {
	return []schema.FieldSpec{{Name: "Id", Type: "id"}}, nil, string(ref) + " Label", string(payload), nil
}

func TestDescribe_PopulatesFieldsAndRelationships(t *testing.T) {
	d := newDescriber(t, 4)

	fetch := func(ctx context.Context, ref schema.ObjectRef) ([]byte, bridge.Class, error) {
		return []byte("desc-" + string(ref)), bridge.ClassOK, nil
	}

	results, failures, skipped := d.Describe(context.Background(), []schema.ObjectRef{"Account", "Contact"}, fetch, stubParse)
	require.Empty(t, failures)
	require.Empty(t, skipped)
	require.Len(t, results, 2)
	require.Equal(t, "Account Label", results["Account"].Label)
	require.Equal(t, []schema.FieldSpec{{Name: "Id", Type: "id"}}, results["Contact"].Fields)
	require.Empty(t, results["Account"].ContentHash)
}

func TestDescribe_SecondRunHitsCacheWithNoFetch(t *testing.T) {
	d := newDescriber(t, 4)
	var calls int32

	fetch := func(ctx context.Context, ref schema.ObjectRef) ([]byte, bridge.Class, error) {
		atomic.AddInt32(&calls, 1)
		return []byte("desc-" + string(ref)), bridge.ClassOK, nil
	}

	refs := []schema.ObjectRef{"Account", "Contact", "Opportunity"}
	_, failures, _ := d.Describe(context.Background(), refs, fetch, stubParse)
	require.Empty(t, failures)

	_, failures, _ = d.Describe(context.Background(), refs, fetch, stubParse)
	require.Empty(t, failures)
	require.Equal(t, int32(3), atomic.LoadInt32(&calls), "second run must be served entirely from cache")
}

func TestDescribe_OneRefFailureDoesNotAbortSiblings(t *testing.T) {
	d := newDescriber(t, 4)

	fetch := func(ctx context.Context, ref schema.ObjectRef) ([]byte, bridge.Class, error) {
		if ref == "Broken__c" {
			return nil, bridge.ClassTransport, nil
		}
		return []byte("desc-" + string(ref)), bridge.ClassOK, nil
	}

	results, failures, _ := d.Describe(context.Background(), []schema.ObjectRef{"Account", "Broken__c", "Contact"}, fetch, stubParse)
	require.Len(t, failures, 1)
	require.Equal(t, schema.ObjectRef("Broken__c"), failures[0].Ref)
	require.Len(t, results, 2)
	require.Contains(t, results, schema.ObjectRef("Account"))
	require.Contains(t, results, schema.ObjectRef("Contact"))
}

func TestDescribe_ParseErrorSurfacesAsFailure(t *testing.T) {
	d := newDescriber(t, 2)

	fetch := func(ctx context.Context, ref schema.ObjectRef) ([]byte, bridge.Class, error) {
		return []byte("bad"), bridge.ClassOK, nil
	}
	parse := func(ref schema.ObjectRef, payload []byte) ([]schema.FieldSpec, []schema.Relationship, string, string, error) {
		return nil, nil, "", "", assertErr("malformed payload")
	}

	_, failures, _ := d.Describe(context.Background(), []schema.ObjectRef{"Account"}, fetch, parse)
	require.Len(t, failures, 1)
}

func TestDescribe_HaltSkipsAllRefsWhenAlreadyTripped(t *testing.T) {
	d := newDescriber(t, 4)
	d.Halt = func() bool { return true }

	var calls int32
	fetch := func(ctx context.Context, ref schema.ObjectRef) ([]byte, bridge.Class, error) {
		atomic.AddInt32(&calls, 1)
		return []byte("desc-" + string(ref)), bridge.ClassOK, nil
	}

	results, failures, skipped := d.Describe(context.Background(), []schema.ObjectRef{"Account", "Contact"}, fetch, stubParse)
	require.Equal(t, int32(0), atomic.LoadInt32(&calls), "no fetch should run once Halt reports tripped")
	require.Empty(t, results)
	require.Empty(t, failures)
	require.Len(t, skipped, 2)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
