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

// Package enrich implements the five independent enrichers:
// StatsEnricher, AutomationEnricher, FieldSecurityEnricher, HistoryEnricher,
// and OrgSecurityEnricher. Each attaches one optional block to every
// ObjectRecord in a working set; enrichers run in any order and may run
// concurrently with each other. Each touches only its own block, except
// that FieldSecurityEnricher and OrgSecurityEnricher share the Security
// block and write disjoint fields of it.
package enrich

import (
	"sort"
	"strconv"
	"sync"

	"github.com/arcspan/sfcorpus/pkg/schema"
)

// DefaultWorkers is the default size of every enricher's internal worker
// pool.
const DefaultWorkers = 15

// DefaultSampleSize is the default LIMIT used by the StatsEnricher's field
// fill-rate sample.
const DefaultSampleSize = 100

// Records is a concurrency-safe view over the working set's ObjectRecords,
// shared by every enricher running against the same pipeline run. Each
// enricher mutates only the block it owns, so a single mutex is enough:
// contention is brief and writes never touch another enricher's field.
type Records struct {
	mu      sync.Mutex
	records map[schema.ObjectRef]*schema.ObjectRecord
}

// NewRecords wraps an already-described working set for enrichment.
func NewRecords(records map[schema.ObjectRef]*schema.ObjectRecord) *Records {
	return &Records{records: records}
}

// Refs returns every ref in the working set, in deterministic order.
func (r *Records) Refs() []schema.ObjectRef {
	r.mu.Lock()
	defer r.mu.Unlock()
	refs := make([]schema.ObjectRef, 0, len(r.records))
	for ref := range r.records {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i] < refs[j] })
	return refs
}

// With locks the working set and runs fn against the record for ref, if
// present. fn must only mutate the block(s) its enricher owns.
func (r *Records) With(ref schema.ObjectRef, fn func(*schema.ObjectRecord)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[ref]; ok {
		fn(rec)
	}
}

// Subset returns a Records view restricted to refs, sharing the same
// underlying *ObjectRecord pointers so mutations through the subset are
// visible on the parent (and vice versa). Refs absent from the parent are
// silently dropped. Used to seed a phase's working set from the Progress
// Store's pending list without copying or reconstructing records.
func (r *Records) Subset(refs []schema.ObjectRef) *Records {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub := make(map[schema.ObjectRef]*schema.ObjectRecord, len(refs))
	for _, ref := range refs {
		if rec, ok := r.records[ref]; ok {
			sub[ref] = rec
		}
	}
	return &Records{records: sub}
}

// RefFailure records that one ref's enrichment step failed even after the
// Retry Engine exhausted its attempts.
type RefFailure struct {
	Ref schema.ObjectRef
	Err error
}

// EnrichOutcome reports, per Enrich call, which refs were left untouched
// because the Quota Wall tripped mid-phase (Skipped, still pending for a
// resumed run) versus which refs were attempted and failed (Failed, marked
// `error` in the Progress Store). A ref absent from both lists was enriched
// successfully.
type EnrichOutcome struct {
	Skipped []schema.ObjectRef
	Failed  []RefFailure
}

// Fields returns a snapshot of ref's described fields, for enrichers that
// need to know what fields exist (e.g. history, field security).
func (r *Records) Fields(ref schema.ObjectRef) []schema.FieldSpec {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[ref]; ok {
		return append([]schema.FieldSpec(nil), rec.Fields...)
	}
	return nil
}

// encodeInt/decodeInt and encodeFloat/decodeFloat let coalesced int64/float64
// results travel through the Cache Store and Coalescer, which operate on
// opaque []byte payloads.
func encodeInt(v int64) []byte { return []byte(strconv.FormatInt(v, 10)) }

func decodeInt(b []byte) (int64, error) {
	if len(b) == 0 {
		return 0, nil
	}
	return strconv.ParseInt(string(b), 10, 64)
}

func encodeFloat(v float64) []byte { return []byte(strconv.FormatFloat(v, 'g', -1, 64)) }

func decodeFloat(b []byte) (float64, error) {
	if len(b) == 0 {
		return 0, nil
	}
	return strconv.ParseFloat(string(b), 64)
}
