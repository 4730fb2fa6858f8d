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
	"github.com/arcspan/sfcorpus/pkg/orchestrator"
	"github.com/arcspan/sfcorpus/pkg/ratelimit"
	"github.com/arcspan/sfcorpus/pkg/retry"
	"github.com/arcspan/sfcorpus/pkg/schema"
)

// tenantCLI invokes the tenant's authenticated command-line tool through
// the CLI Bridge, governed by the Rate Limiter and retried by the Retry
// Engine. Every remote-call closure this binary builds
// for the Enumerator/Describer/Enrichers is a thin wrapper around call.
type tenantCLI struct {
	binary  string // e.g. "sf", resolved once at startup
	alias   string // --target-org value
	bridge  *bridge.Bridge
	limiter *ratelimit.Limiter
	retry   *retry.Engine
	wall    *orchestrator.QuotaWall // may be nil, which skips quota-wall tracking
}

func newTenantCLI(binary, alias string, br *bridge.Bridge, lim *ratelimit.Limiter, re *retry.Engine, wall *orchestrator.QuotaWall) *tenantCLI {
	return &tenantCLI{binary: binary, alias: alias, bridge: br, limiter: lim, retry: re, wall: wall}
}

// call acquires a rate limiter token, runs argv as a subprocess of the
// tenant CLI (with the target-org alias and --json appended), reports the outcome
// back to the limiter, and retries transport/quota/timeout classifications
// via the Retry Engine. A syntactic_error is returned immediately, never
// retried.
func (t *tenantCLI) call(ctx context.Context, argv []string, stdin []byte) (bridge.Result, error) {
	full := append([]string{t.binary}, argv...)
	full = append(full, "--target-org", t.alias, "--json")

	var last bridge.Result
	classified, err := t.retry.Do(ctx, func(ctx context.Context) (retry.Classified, error) {
		if lerr := t.limiter.Acquire(ctx); lerr != nil {
			return retry.Classified{Class: bridge.ClassTimeout}, fmt.Errorf("rate limiter: %w", lerr)
		}
		res, rerr := t.bridge.Run(ctx, full, stdin, 0)
		last = res
		if rerr != nil {
			return retry.Classified{Class: bridge.ClassTransport}, rerr
		}
		switch res.Class {
		case bridge.ClassOK:
			t.limiter.Report(ratelimit.OutcomeSuccess)
			if t.wall != nil {
				t.wall.RecordSuccess()
			}
		case bridge.ClassQuota:
			t.limiter.Report(ratelimit.OutcomeQuotaError)
		default:
			t.limiter.Report(ratelimit.OutcomeFailure)
		}
		return retry.Classified{Class: res.Class, Result: res}, nil
	})
	if err != nil {
		if rerr, ok := err.(*retry.Error); ok {
			return last, rerr
		}
		return last, err
	}
	if res, ok := classified.Result.(bridge.Result); ok {
		return res, nil
	}
	return last, nil
}

// List implements enumerate.Lister: `sf schema object-list`.
func (t *tenantCLI) List(ctx context.Context) ([]schema.ObjectRef, bridge.Class, error) {
	res, err := t.call(ctx, []string{"schema", "object-list"}, nil)
	if err != nil {
		return nil, res.Class, err
	}
	if res.Class != bridge.ClassOK {
		return nil, res.Class, nil
	}
	var names []string
	if err := json.Unmarshal(res.Stdout, &names); err != nil {
		return nil, bridge.ClassTransport, fmt.Errorf("tenant cli: decode object-list: %w", err)
	}
	refs := make([]schema.ObjectRef, len(names))
	for i, n := range names {
		refs[i] = schema.ObjectRef(n)
	}
	return refs, bridge.ClassOK, nil
}

// Fetch implements describe.FetchFunc: `sf schema object-describe --name <ref>`.
func (t *tenantCLI) Fetch(ctx context.Context, ref schema.ObjectRef) ([]byte, bridge.Class, error) {
	res, err := t.call(ctx, []string{"schema", "object-describe", "--name", string(ref)}, nil)
	if err != nil {
		return nil, res.Class, err
	}
	return res.Stdout, res.Class, nil
}

// describePayload is the wire shape `schema object-describe` returns.
type describePayload struct {
	Label         string                  `json:"label"`
	Description   string                  `json:"description"`
	Fields        []schema.FieldSpec      `json:"fields"`
	Relationships []schema.Relationship   `json:"relationships"`
}

// parseDescribe implements describe.ParseFunc.
func parseDescribe(ref schema.ObjectRef, payload []byte) ([]schema.FieldSpec, []schema.Relationship, string, string, error) {
	var p describePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, nil, "", "", fmt.Errorf("describe: decode %s: %w", ref, err)
	}
	return p.Fields, p.Relationships, p.Label, p.Description, nil
}

// batchQuery runs a coalesced query over refs via `sf data query-batch`,
// used by every coalesce.BatchFunc this binary builds. kind distinguishes
// the remote query shape (count, freshness, field_permissions, ...); the
// tenant CLI dispatches on it server-side.
func (t *tenantCLI) batchQuery(ctx context.Context, kind string, refs []schema.ObjectRef) (map[schema.ObjectRef][]byte, bridge.Class, error) {
	names := make([]string, len(refs))
	for i, r := range refs {
		names[i] = string(r)
	}
	stdin, err := json.Marshal(names)
	if err != nil {
		return nil, bridge.ClassTransport, fmt.Errorf("batch query: encode refs: %w", err)
	}

	res, err := t.call(ctx, []string{"data", "query-batch", "--kind", kind}, stdin)
	if err != nil {
		return nil, res.Class, err
	}
	if res.Class != bridge.ClassOK {
		return nil, res.Class, nil
	}

	var rows map[string]json.RawMessage
	if jerr := json.Unmarshal(res.Stdout, &rows); jerr != nil {
		return nil, bridge.ClassTransport, fmt.Errorf("batch query %s: decode: %w", kind, jerr)
	}
	out := make(map[schema.ObjectRef][]byte, len(rows))
	for ref, raw := range rows {
		out[schema.ObjectRef(ref)] = []byte(raw)
	}
	return out, bridge.ClassOK, nil
}

// perObjectQuery runs one uncoalesced query against a single ref, used for
// sample-based field fill rates and picklist distributions where no
// remote batching win exists.
func (t *tenantCLI) perObjectQuery(ctx context.Context, kind string, ref schema.ObjectRef, extra ...string) ([]byte, bridge.Class, error) {
	argv := append([]string{"data", "query-object", "--kind", kind, "--name", string(ref)}, extra...)
	res, err := t.call(ctx, argv, nil)
	if err != nil {
		return nil, res.Class, err
	}
	return res.Stdout, res.Class, nil
}

// principals returns a GlobalLister implementation: `sf security principals`.
func (t *tenantCLI) principals(ctx context.Context) ([]schema.Profile, []schema.PermissionSet, []schema.Role, bridge.Class, error) {
	res, err := t.call(ctx, []string{"security", "principals"}, nil)
	if err != nil {
		return nil, nil, nil, res.Class, err
	}
	if res.Class != bridge.ClassOK {
		return nil, nil, nil, res.Class, nil
	}
	var p struct {
		Profiles       []schema.Profile       `json:"profiles"`
		PermissionSets []schema.PermissionSet `json:"permission_sets"`
		Roles          []schema.Role          `json:"roles"`
	}
	if jerr := json.Unmarshal(res.Stdout, &p); jerr != nil {
		return nil, nil, nil, bridge.ClassTransport, fmt.Errorf("security principals: decode: %w", jerr)
	}
	return p.Profiles, p.PermissionSets, p.Roles, bridge.ClassOK, nil
}

// grantsFor returns a GrantDetailFetcher implementation: `sf security grants --principal <p>`.
func (t *tenantCLI) grantsFor(ctx context.Context, principal string) (map[schema.ObjectRef]schema.ObjectPermission, bridge.Class, error) {
	res, err := t.call(ctx, []string{"security", "grants", "--principal", principal}, nil)
	if err != nil {
		return nil, res.Class, err
	}
	if res.Class != bridge.ClassOK {
		return nil, res.Class, nil
	}
	var rows map[string]schema.ObjectPermission
	if jerr := json.Unmarshal(res.Stdout, &rows); jerr != nil {
		return nil, bridge.ClassTransport, fmt.Errorf("security grants %s: decode: %w", principal, jerr)
	}
	out := make(map[schema.ObjectRef]schema.ObjectPermission, len(rows))
	for ref, perm := range rows {
		perm.Name = principal
		out[schema.ObjectRef(ref)] = perm
	}
	return out, bridge.ClassOK, nil
}
