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

// Package schema defines the closed data model extracted from a tenant:
// object refs, field specs, the variant enricher blocks, and the chunked
// corpus representation uploaded to the vector index.
//
// All IDs are deterministic and stable across re-runs for idempotency.
package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// ObjectRef is the opaque, stable tenant identifier for a schema object
// (e.g. a Salesforce API name like "Account" or "My_Custom_Object__c").
type ObjectRef string

// FieldSpec describes one field on an object. Uniquely identified within
// an ObjectRecord by Name.
type FieldSpec struct {
	Name           string `json:"name"`
	Type           string `json:"type"`
	Required       bool   `json:"required"`
	Unique         bool   `json:"unique"`
	ExternalID     bool   `json:"external_id"`
	Length         int    `json:"length,omitempty"`
	Precision      int    `json:"precision,omitempty"`
	Scale          int    `json:"scale,omitempty"`
	Formula        string `json:"formula,omitempty"`
	RelationshipTo string `json:"relationship_to,omitempty"`
}

// Relationship describes a reference from one object to another.
type Relationship struct {
	FieldName      string `json:"field_name"`
	ToObject       string `json:"to_object"`
	RelationshipTo string `json:"relationship_name,omitempty"`
	CascadeDelete  bool   `json:"cascade_delete,omitempty"`
}

// FieldFillRate is a sampled fraction of populated values for one field.
type FieldFillRate struct {
	Field string  `json:"field"`
	Rate  float64 `json:"rate"`
}

// PicklistValueCount is one value's share of a sampled picklist distribution.
type PicklistValueCount struct {
	Value string `json:"value"`
	Count int64  `json:"count"`
}

// StatsBlock is the usage-statistics enricher output for one object.
type StatsBlock struct {
	RecordCount        int64                           `json:"record_count"`
	FieldFillRates      []FieldFillRate                 `json:"field_fill_rates,omitempty"`
	PicklistDistribution map[string][]PicklistValueCount `json:"picklist_distribution,omitempty"`
	FreshnessFraction   float64                         `json:"freshness_fraction"`
	TopOwningProfiles   []string                        `json:"top_owning_profiles,omitempty"`
}

// CodeComplexity summarizes size of a piece of automation source (a
// trigger or Apex-style class body).
type CodeComplexity struct {
	TotalLines   int `json:"total_lines"`
	CommentLines int `json:"comment_lines"`
	CodeLines    int `json:"code_lines"`
}

// FlowRef references an automation flow touching the object.
type FlowRef struct {
	Name   string `json:"name"`
	Status string `json:"status,omitempty"`
}

// TriggerRef references an Apex-style trigger on the object.
type TriggerRef struct {
	Name       string         `json:"name"`
	Events     []string       `json:"events,omitempty"`
	Complexity CodeComplexity `json:"complexity"`
}

// ValidationRuleRef references a validation rule on the object.
type ValidationRuleRef struct {
	Name        string `json:"name"`
	Active      bool   `json:"active"`
	Description string `json:"description,omitempty"`
}

// WorkflowRuleRef references a legacy workflow rule on the object.
type WorkflowRuleRef struct {
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// AutomationBlock is the automation enricher output for one object.
type AutomationBlock struct {
	Flows           []FlowRef           `json:"flows,omitempty"`
	Triggers        []TriggerRef        `json:"triggers,omitempty"`
	ValidationRules []ValidationRuleRef `json:"validation_rules,omitempty"`
	WorkflowRules   []WorkflowRuleRef   `json:"workflow_rules,omitempty"`
}

// FieldPermission records per-field edit/read grants for one profile or
// permission set.
type FieldPermission struct {
	Field      string `json:"field"`
	EditableBy []string `json:"editable_by,omitempty"`
	ReadonlyBy []string `json:"readonly_by,omitempty"`
}

// ObjectPermission records object-level CRUD grants for one profile or
// permission set.
type ObjectPermission struct {
	Name   string `json:"name"`
	Create bool   `json:"create"`
	Read   bool   `json:"read"`
	Edit   bool   `json:"edit"`
	Delete bool   `json:"delete"`
}

// SecurityBlock is the field-level and object-level security enricher
// output for one object.
type SecurityBlock struct {
	FieldPermissions  []FieldPermission  `json:"field_permissions,omitempty"`
	ObjectPermissions []ObjectPermission `json:"object_permissions,omitempty"`
}

// FieldHistoryEntry records audit metadata for one custom field.
type FieldHistoryEntry struct {
	Field        string `json:"field"`
	CreatedBy    string `json:"created_by"`
	CreatedAt    string `json:"created_at"`
	ModifiedBy   string `json:"modified_by"`
	ModifiedAt   string `json:"modified_at"`
}

// HistoryBlock is the audit-history enricher output for one object.
type HistoryBlock struct {
	Fields []FieldHistoryEntry `json:"fields,omitempty"`
}

// Profile is a tenant-global security entity referenced by SecurityBlock.
type Profile struct {
	Name string `json:"name"`
}

// PermissionSet is a tenant-global security entity referenced by
// SecurityBlock.
type PermissionSet struct {
	Name string `json:"name"`
}

// Role is a tenant-global security entity referenced by SecurityBlock.
type Role struct {
	Name   string `json:"name"`
	Parent string `json:"parent,omitempty"`
}

// ObjectRecord is the canonical, closed-schema representation of one
// tenant object once Describer and all selected Enrichers have run.
//
// The variant enricher blocks are optional fields, not structural typing:
// a nil block means that enricher was not selected for this run, not that
// the object has no automation/security/etc.
type ObjectRecord struct {
	Ref           ObjectRef        `json:"ref"`
	Label         string           `json:"label"`
	Description   string           `json:"description,omitempty"`
	Fields        []FieldSpec      `json:"fields"`
	Relationships []Relationship   `json:"relationships,omitempty"`
	Stats         *StatsBlock      `json:"stats,omitempty"`
	Automation    *AutomationBlock `json:"automation,omitempty"`
	Security      *SecurityBlock   `json:"security,omitempty"`
	History       *HistoryBlock    `json:"history,omitempty"`

	// ContentHash is the hash of the canonical JSON serialization with
	// sorted keys. Set once by WithHash() after all enrichers have finished;
	// zero value until then.
	ContentHash string `json:"content_hash,omitempty"`
}

// canonical returns a copy of the record with all semantically-unordered
// slices sorted, so that Hash is invariant under re-serialization order.
func (r ObjectRecord) canonical() ObjectRecord {
	c := r
	c.ContentHash = "" // never included in its own hash input

	c.Fields = append([]FieldSpec(nil), r.Fields...)
	sort.Slice(c.Fields, func(i, j int) bool { return c.Fields[i].Name < c.Fields[j].Name })

	c.Relationships = append([]Relationship(nil), r.Relationships...)
	sort.Slice(c.Relationships, func(i, j int) bool {
		return c.Relationships[i].FieldName < c.Relationships[j].FieldName
	})

	if r.Stats != nil {
		s := *r.Stats
		s.FieldFillRates = append([]FieldFillRate(nil), r.Stats.FieldFillRates...)
		sort.Slice(s.FieldFillRates, func(i, j int) bool {
			return s.FieldFillRates[i].Field < s.FieldFillRates[j].Field
		})
		s.TopOwningProfiles = append([]string(nil), r.Stats.TopOwningProfiles...)
		sort.Strings(s.TopOwningProfiles)
		if r.Stats.PicklistDistribution != nil {
			s.PicklistDistribution = make(map[string][]PicklistValueCount, len(r.Stats.PicklistDistribution))
			for field, values := range r.Stats.PicklistDistribution {
				vs := append([]PicklistValueCount(nil), values...)
				sort.Slice(vs, func(i, j int) bool { return vs[i].Value < vs[j].Value })
				s.PicklistDistribution[field] = vs
			}
		}
		c.Stats = &s
	}

	if r.Automation != nil {
		a := *r.Automation
		a.Flows = append([]FlowRef(nil), r.Automation.Flows...)
		sort.Slice(a.Flows, func(i, j int) bool { return a.Flows[i].Name < a.Flows[j].Name })
		a.Triggers = append([]TriggerRef(nil), r.Automation.Triggers...)
		sort.Slice(a.Triggers, func(i, j int) bool { return a.Triggers[i].Name < a.Triggers[j].Name })
		a.ValidationRules = append([]ValidationRuleRef(nil), r.Automation.ValidationRules...)
		sort.Slice(a.ValidationRules, func(i, j int) bool { return a.ValidationRules[i].Name < a.ValidationRules[j].Name })
		a.WorkflowRules = append([]WorkflowRuleRef(nil), r.Automation.WorkflowRules...)
		sort.Slice(a.WorkflowRules, func(i, j int) bool { return a.WorkflowRules[i].Name < a.WorkflowRules[j].Name })
		c.Automation = &a
	}

	if r.Security != nil {
		s := *r.Security
		s.FieldPermissions = append([]FieldPermission(nil), r.Security.FieldPermissions...)
		sort.Slice(s.FieldPermissions, func(i, j int) bool { return s.FieldPermissions[i].Field < s.FieldPermissions[j].Field })
		for i := range s.FieldPermissions {
			ebd := append([]string(nil), s.FieldPermissions[i].EditableBy...)
			sort.Strings(ebd)
			s.FieldPermissions[i].EditableBy = ebd
			rbd := append([]string(nil), s.FieldPermissions[i].ReadonlyBy...)
			sort.Strings(rbd)
			s.FieldPermissions[i].ReadonlyBy = rbd
		}
		s.ObjectPermissions = append([]ObjectPermission(nil), r.Security.ObjectPermissions...)
		sort.Slice(s.ObjectPermissions, func(i, j int) bool { return s.ObjectPermissions[i].Name < s.ObjectPermissions[j].Name })
		c.Security = &s
	}

	if r.History != nil {
		h := *r.History
		h.Fields = append([]FieldHistoryEntry(nil), r.History.Fields...)
		sort.Slice(h.Fields, func(i, j int) bool { return h.Fields[i].Field < h.Fields[j].Field })
		c.History = &h
	}

	return c
}

// Hash computes the content hash: SHA-256 of the canonical JSON
// serialization (sorted keys, semantically-unordered lists sorted), with
// ContentHash itself excluded from the input. It is deterministic across
// runs given identical inputs and invariant under re-serialization order.
func (r ObjectRecord) Hash() (string, error) {
	c := r.canonical()
	b, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// WithHash returns a copy of r with ContentHash populated by Hash().
func (r ObjectRecord) WithHash() (ObjectRecord, error) {
	h, err := r.Hash()
	if err != nil {
		return r, err
	}
	r.ContentHash = h
	return r, nil
}

// Chunk is the atomic unit of vector-index upsert: one line of the JSONL
// corpus.
type Chunk struct {
	ID       string       `json:"id"`
	Text     string       `json:"text"`
	Metadata ChunkMetadata `json:"metadata"`
}

// ChunkMetadata carries everything the Incremental Uploader and downstream
// retrieval need without re-parsing Text.
type ChunkMetadata struct {
	ObjectName  string   `json:"object_name"`
	Type        string   `json:"type"`
	ContentHash string   `json:"content_hash"`
	TotalParts  int      `json:"total_parts"`
	PartIndex   int      `json:"part_index"`
	SiblingIDs  []string `json:"sibling_ids"`
}

// CacheEntry is owned exclusively by the Cache Store.
type CacheEntry struct {
	Key           string `json:"key"`
	Payload       []byte `json:"payload"`
	CreatedAt     int64  `json:"created_at"` // unix seconds
	SchemaVersion int    `json:"schema_version"`
	Compressed    bool   `json:"compressed"`
}

// ProgressState is one of the allowed ProgressRecord states. Records
// monotonically advance pending -> in_flight -> done (or error, which is
// retryable back to pending).
type ProgressState string

const (
	StatePending  ProgressState = "pending"
	StateInFlight ProgressState = "in_flight"
	StateDone     ProgressState = "done"
	StateError    ProgressState = "error"
)

// ProgressRecord is owned exclusively by the Progress & Resume Store.
type ProgressRecord struct {
	Ref           ObjectRef     `json:"ref"`
	Phase         string        `json:"phase"`
	State         ProgressState `json:"state"`
	LastAttemptAt int64         `json:"last_attempt_at"`
	Error         string        `json:"error,omitempty"`
}
