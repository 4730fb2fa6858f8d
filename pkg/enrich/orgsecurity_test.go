// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package enrich

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arcspan/sfcorpus/pkg/bridge"
	"github.com/arcspan/sfcorpus/pkg/cache"
	"github.com/arcspan/sfcorpus/pkg/schema"
)

func TestOrgSecurityEnricher_MergesGrantsAcrossPrincipals(t *testing.T) {
	e := NewOrgSecurityEnricher(nil, 1, 4, nil)
	records := newTestRecords("Account", "Contact")

	list := func(ctx context.Context) ([]schema.Profile, []schema.PermissionSet, []schema.Role, bridge.Class, error) {
		return []schema.Profile{{Name: "Admin"}}, []schema.PermissionSet{{Name: "ReadOnlyPS"}}, []schema.Role{{Name: "CEO"}}, bridge.ClassOK, nil
	}
	detail := func(ctx context.Context, principal string) (map[schema.ObjectRef]schema.ObjectPermission, bridge.Class, error) {
		grant := schema.ObjectPermission{Name: principal, Read: true}
		if principal == "Admin" {
			grant.Create, grant.Edit, grant.Delete = true, true, true
		}
		return map[schema.ObjectRef]schema.ObjectPermission{
			"Account": grant,
			"Contact": grant,
		}, bridge.ClassOK, nil
	}

	roles, failures, processed, err := e.Enrich(context.Background(), records, list, detail, nil)
	require.NoError(t, err)
	require.Empty(t, failures)
	require.Equal(t, []schema.Role{{Name: "CEO"}}, roles)
	require.ElementsMatch(t, []string{"Admin", "ReadOnlyPS"}, processed)

	sec := records.records["Account"].Security
	require.NotNil(t, sec)
	require.Len(t, sec.ObjectPermissions, 2)
}

func TestOrgSecurityEnricher_OnePrincipalFailureDoesNotAbortOthers(t *testing.T) {
	e := NewOrgSecurityEnricher(nil, 1, 4, nil)
	records := newTestRecords("Account")

	list := func(ctx context.Context) ([]schema.Profile, []schema.PermissionSet, []schema.Role, bridge.Class, error) {
		return []schema.Profile{{Name: "Admin"}, {Name: "Broken"}}, nil, nil, bridge.ClassOK, nil
	}
	detail := func(ctx context.Context, principal string) (map[schema.ObjectRef]schema.ObjectPermission, bridge.Class, error) {
		if principal == "Broken" {
			return nil, bridge.ClassTransport, nil
		}
		return map[schema.ObjectRef]schema.ObjectPermission{"Account": {Name: principal, Read: true}}, bridge.ClassOK, nil
	}

	_, failures, processed, err := e.Enrich(context.Background(), records, list, detail, nil)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	require.Equal(t, "Broken", failures[0].Principal)
	require.Equal(t, []string{"Admin"}, processed)

	sec := records.records["Account"].Security
	require.NotNil(t, sec)
	require.Len(t, sec.ObjectPermissions, 1)
}

func TestOrgSecurityEnricher_PropagatesListFailure(t *testing.T) {
	e := NewOrgSecurityEnricher(nil, 1, 4, nil)
	records := newTestRecords("Account")

	list := func(ctx context.Context) ([]schema.Profile, []schema.PermissionSet, []schema.Role, bridge.Class, error) {
		return nil, nil, nil, bridge.ClassQuota, nil
	}
	detail := func(ctx context.Context, principal string) (map[schema.ObjectRef]schema.ObjectPermission, bridge.Class, error) {
		return nil, bridge.ClassOK, nil
	}

	_, _, _, err := e.Enrich(context.Background(), records, list, detail, nil)
	require.Error(t, err)
}

func TestOrgSecurityEnricher_SecondCallHitsCacheWithNoDetailFetch(t *testing.T) {
	store, err := cache.New(t.TempDir(), 0)
	require.NoError(t, err)
	t.Cleanup(store.Close)

	e := NewOrgSecurityEnricher(store, 1, 4, nil)
	records := newTestRecords("Account")

	list := func(ctx context.Context) ([]schema.Profile, []schema.PermissionSet, []schema.Role, bridge.Class, error) {
		return []schema.Profile{{Name: "Admin"}}, nil, nil, bridge.ClassOK, nil
	}
	var calls int32
	detail := func(ctx context.Context, principal string) (map[schema.ObjectRef]schema.ObjectPermission, bridge.Class, error) {
		atomic.AddInt32(&calls, 1)
		return map[schema.ObjectRef]schema.ObjectPermission{"Account": {Name: principal, Read: true}}, bridge.ClassOK, nil
	}

	_, failures, processed, err := e.Enrich(context.Background(), records, list, detail, nil)
	require.NoError(t, err)
	require.Empty(t, failures)
	require.Equal(t, []string{"Admin"}, processed)

	_, failures, processed, err = e.Enrich(context.Background(), records, list, detail, nil)
	require.NoError(t, err)
	require.Empty(t, failures)
	require.Equal(t, []string{"Admin"}, processed)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls), "second call must be served entirely from cache")
}

func TestOrgSecurityEnricher_PendingFilterNarrowsPrincipals(t *testing.T) {
	e := NewOrgSecurityEnricher(nil, 1, 4, nil)
	records := newTestRecords("Account")

	list := func(ctx context.Context) ([]schema.Profile, []schema.PermissionSet, []schema.Role, bridge.Class, error) {
		return []schema.Profile{{Name: "Admin"}, {Name: "Standard"}}, nil, nil, bridge.ClassOK, nil
	}
	detail := func(ctx context.Context, principal string) (map[schema.ObjectRef]schema.ObjectPermission, bridge.Class, error) {
		return map[schema.ObjectRef]schema.ObjectPermission{"Account": {Name: principal, Read: true}}, bridge.ClassOK, nil
	}
	pending := func(principals []string) []string {
		var out []string
		for _, p := range principals {
			if p != "Admin" {
				out = append(out, p)
			}
		}
		return out
	}

	_, failures, processed, err := e.Enrich(context.Background(), records, list, detail, pending)
	require.NoError(t, err)
	require.Empty(t, failures)
	require.Equal(t, []string{"Standard"}, processed)
}

func TestOrgSecurityEnricher_HaltSkipsRemainingPrincipals(t *testing.T) {
	e := NewOrgSecurityEnricher(nil, 1, 4, nil)
	e.Halt = func() bool { return true }
	records := newTestRecords("Account")

	list := func(ctx context.Context) ([]schema.Profile, []schema.PermissionSet, []schema.Role, bridge.Class, error) {
		return []schema.Profile{{Name: "Admin"}}, nil, nil, bridge.ClassOK, nil
	}
	var calls int32
	detail := func(ctx context.Context, principal string) (map[schema.ObjectRef]schema.ObjectPermission, bridge.Class, error) {
		atomic.AddInt32(&calls, 1)
		return map[schema.ObjectRef]schema.ObjectPermission{"Account": {Name: principal, Read: true}}, bridge.ClassOK, nil
	}

	_, failures, processed, err := e.Enrich(context.Background(), records, list, detail, nil)
	require.NoError(t, err)
	require.Empty(t, failures)
	require.Empty(t, processed)
	require.Equal(t, int32(0), atomic.LoadInt32(&calls))
}
