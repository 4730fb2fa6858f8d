// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/arcspan/sfcorpus/pkg/bridge"
	"github.com/arcspan/sfcorpus/pkg/cache"
	"github.com/arcspan/sfcorpus/pkg/schema"
)

// orgSecurityDataType namespaces this enricher's cache entries from every
// other coalesced data type.
const orgSecurityDataType = "org_security_grants"

// GlobalLister enumerates every profile, permission set, and role defined
// tenant-wide, each as one single (uncoalesced) remote query.
type GlobalLister func(ctx context.Context) ([]schema.Profile, []schema.PermissionSet, []schema.Role, bridge.Class, error)

// GrantDetailFetcher retrieves one principal's (profile's or permission
// set's) object-level CRUD grants across the whole working set. This is
// always a dedicated remote call, never coalesced — the primary source of
// quota pressure in a full run. Each returned ObjectPermission.Name must
// equal principal.
type GrantDetailFetcher func(ctx context.Context, principal string) (map[schema.ObjectRef]schema.ObjectPermission, bridge.Class, error)

// PendingFilter narrows a phase's working set down to the principals still
// outstanding for this phase, per the Progress Store. Passed in by the
// caller rather than imported directly, since the set of principals isn't
// known until GlobalLister has already run.
type PendingFilter func(principals []string) []string

// OrgSecurityEnricher enumerates profiles, permission sets, and roles
// globally, then fetches each principal's object-level grants individually.
// It is the enricher most likely to hit the quota wall and require
// multi-day resumption, so every principal's grant detail is cached and
// resumable exactly like the Coalescer-backed enrichers, despite not going
// through a Coalescer itself (there's nothing to coalesce across — each
// principal is already its own remote call).
type OrgSecurityEnricher struct {
	store         *cache.Store
	schemaVersion int
	workers       int
	logger        *slog.Logger
	// Halt, if set, is polled before dispatching each principal's detail
	// fetch, so a tripped Quota Wall stops new remote calls mid-phase.
	Halt func() bool
}

// NewOrgSecurityEnricher creates an OrgSecurityEnricher. store may be nil,
// in which case grant detail is always fetched fresh and never cached.
func NewOrgSecurityEnricher(store *cache.Store, schemaVersion, workers int, logger *slog.Logger) *OrgSecurityEnricher {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OrgSecurityEnricher{store: store, schemaVersion: schemaVersion, workers: workers, logger: logger}
}

// PrincipalFailure records one profile or permission set whose grant detail
// could not be retrieved.
type PrincipalFailure struct {
	Principal string
	Err       error
}

// Roles is returned alongside any error so the caller can persist it
// (e.g. into security.json) even though roles carry no per-object grants.
type Roles = []schema.Role

// Enrich merges object-level permissions into each record's Security block,
// leaving any FieldPermissions set by FieldSecurityEnricher untouched. It
// returns the enumerated roles (informational), any per-principal
// failures, and the principals actually processed this call (cache hit or
// fresh fetch merged successfully) so the caller can mark exactly those
// `done` in the Progress Store. A principal failure never aborts the
// others; a principal skipped because Halt tripped shows up in neither
// list, leaving it pending for the next run.
func (e *OrgSecurityEnricher) Enrich(ctx context.Context, records *Records, list GlobalLister, detail GrantDetailFetcher, pending PendingFilter) (Roles, []PrincipalFailure, []string, error) {
	profiles, permSets, roles, class, err := list(ctx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("org security enricher: list: %w", err)
	}
	if class != bridge.ClassOK {
		return nil, nil, nil, fmt.Errorf("org security enricher: list call classified %s", class)
	}

	principals := make([]string, 0, len(profiles)+len(permSets))
	for _, p := range profiles {
		principals = append(principals, p.Name)
	}
	for _, ps := range permSets {
		principals = append(principals, ps.Name)
	}
	if pending != nil {
		principals = pending(principals)
	}

	var mu sync.Mutex
	var failures []PrincipalFailure
	var processed []string

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	for _, principal := range principals {
		principal := principal
		if e.Halt != nil && e.Halt() {
			continue // quota wall tripped; leave the remaining principals pending
		}
		g.Go(func() error {
			grants, err := e.fetchGrants(gctx, principal, detail)
			if err != nil {
				mu.Lock()
				failures = append(failures, PrincipalFailure{Principal: principal, Err: err})
				mu.Unlock()
				e.logger.Warn("orgsecurity.principal.error", "principal", principal, "err", err)
				return nil
			}

			for ref, grant := range grants {
				grant := grant
				records.With(ref, func(rec *schema.ObjectRecord) {
					if rec.Security == nil {
						rec.Security = &schema.SecurityBlock{}
					}
					rec.Security.ObjectPermissions = append(rec.Security.ObjectPermissions, grant)
				})
			}
			mu.Lock()
			processed = append(processed, principal)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return roles, failures, processed, err
	}

	sort.Strings(processed)
	sort.Slice(failures, func(i, j int) bool { return failures[i].Principal < failures[j].Principal })

	return roles, failures, processed, nil
}

// fetchGrants serves principal's grants from the Cache Store when present,
// otherwise calls detail and caches a successful result. With no store
// configured it always calls detail.
func (e *OrgSecurityEnricher) fetchGrants(ctx context.Context, principal string, detail GrantDetailFetcher) (map[schema.ObjectRef]schema.ObjectPermission, error) {
	if e.store == nil {
		return e.fetchAndClassify(ctx, principal, detail)
	}

	key := cache.Key(orgSecurityDataType, principal, nil, e.schemaVersion)
	if payload, ok, err := e.store.Get(key); err != nil {
		return nil, fmt.Errorf("cache get: %w", err)
	} else if ok {
		var grants map[schema.ObjectRef]schema.ObjectPermission
		if err := json.Unmarshal(payload, &grants); err != nil {
			return nil, fmt.Errorf("decode cached grants: %w", err)
		}
		return grants, nil
	}

	grants, err := e.fetchAndClassify(ctx, principal, detail)
	if err != nil {
		return nil, err
	}
	if payload, merr := json.Marshal(grants); merr != nil {
		e.logger.Warn("orgsecurity.cache_encode.error", "principal", principal, "err", merr)
	} else if perr := e.store.Put(key, orgSecurityDataType, payload); perr != nil {
		e.logger.Warn("orgsecurity.cache_write.error", "principal", principal, "err", perr)
	}
	return grants, nil
}

func (e *OrgSecurityEnricher) fetchAndClassify(ctx context.Context, principal string, detail GrantDetailFetcher) (map[schema.ObjectRef]schema.ObjectPermission, error) {
	grants, class, err := detail(ctx, principal)
	if err != nil {
		return nil, err
	}
	if class != bridge.ClassOK {
		return nil, fmt.Errorf("classified %s", class)
	}
	return grants, nil
}
