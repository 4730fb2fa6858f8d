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

// Package emit renders each completed ObjectRecord into a human-readable
// document and a chunked JSONL corpus.
package emit

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/arcspan/sfcorpus/pkg/schema"
)

// renderDocument produces the human-readable markdown body for record, in
// the fixed section order names: object, fields, automation,
// security, statistics. Sections whose enricher did not run are omitted.
func renderDocument(record schema.ObjectRecord) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## Object\n\n")
	fmt.Fprintf(&b, "**%s** (`%s`)\n\n", record.Label, record.Ref)
	if record.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", record.Description)
	}
	if len(record.Relationships) > 0 {
		fmt.Fprintf(&b, "Relates to: ")
		names := make([]string, len(record.Relationships))
		for i, rel := range record.Relationships {
			names[i] = rel.ToObject
		}
		fmt.Fprintf(&b, "%s\n\n", strings.Join(names, ", "))
	}

	b.WriteString(renderFieldsSection(record.Fields))

	if record.Automation != nil {
		b.WriteString(renderAutomationSection(*record.Automation))
	}
	if record.Security != nil {
		b.WriteString(renderSecuritySection(*record.Security))
	}
	if record.Stats != nil {
		b.WriteString(renderStatsSection(*record.Stats))
	}

	return b.String()
}

func renderFieldsSection(fields []schema.FieldSpec) string {
	var b strings.Builder
	b.WriteString("## Fields\n\n")
	b.WriteString("| Name | Type | Required | Unique |\n")
	b.WriteString("|---|---|---|---|\n")
	for _, f := range fields {
		fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", f.Name, f.Type, yesNo(f.Required), yesNo(f.Unique))
	}
	b.WriteString("\n")
	return b.String()
}

func renderAutomationSection(a schema.AutomationBlock) string {
	var b strings.Builder
	b.WriteString("## Automation\n\n")

	if len(a.Flows) > 0 {
		b.WriteString("Flows:\n\n")
		for _, f := range a.Flows {
			fmt.Fprintf(&b, "- %s (%s)\n", f.Name, f.Status)
		}
		b.WriteString("\n")
	}
	if len(a.Triggers) > 0 {
		b.WriteString("Triggers:\n\n")
		for _, t := range a.Triggers {
			fmt.Fprintf(&b, "- %s, events: %s, %d lines (%d code / %d comment)\n",
				t.Name, strings.Join(t.Events, "/"), t.Complexity.TotalLines, t.Complexity.CodeLines, t.Complexity.CommentLines)
		}
		b.WriteString("\n")
	}
	if len(a.ValidationRules) > 0 {
		b.WriteString("Validation rules:\n\n")
		for _, v := range a.ValidationRules {
			fmt.Fprintf(&b, "- %s (active: %s)\n", v.Name, yesNo(v.Active))
		}
		b.WriteString("\n")
	}
	if len(a.WorkflowRules) > 0 {
		b.WriteString("Workflow rules:\n\n")
		for _, w := range a.WorkflowRules {
			fmt.Fprintf(&b, "- %s (active: %s)\n", w.Name, yesNo(w.Active))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func renderSecuritySection(s schema.SecurityBlock) string {
	var b strings.Builder
	b.WriteString("## Security\n\n")

	if len(s.ObjectPermissions) > 0 {
		b.WriteString("Object permissions:\n\n")
		for _, p := range s.ObjectPermissions {
			fmt.Fprintf(&b, "- %s: create=%s read=%s edit=%s delete=%s\n",
				p.Name, yesNo(p.Create), yesNo(p.Read), yesNo(p.Edit), yesNo(p.Delete))
		}
		b.WriteString("\n")
	}
	if len(s.FieldPermissions) > 0 {
		b.WriteString("Field permissions:\n\n")
		for _, p := range s.FieldPermissions {
			fmt.Fprintf(&b, "- %s: editable by [%s], readonly by [%s]\n",
				p.Field, strings.Join(p.EditableBy, ", "), strings.Join(p.ReadonlyBy, ", "))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func renderStatsSection(s schema.StatsBlock) string {
	var b strings.Builder
	b.WriteString("## Statistics\n\n")
	fmt.Fprintf(&b, "Record count: %d\n\n", s.RecordCount)
	fmt.Fprintf(&b, "Freshness fraction: %s\n\n", strconv.FormatFloat(s.FreshnessFraction, 'f', 4, 64))
	if len(s.FieldFillRates) > 0 {
		b.WriteString("Field fill rates:\n\n")
		for _, fr := range s.FieldFillRates {
			fmt.Fprintf(&b, "- %s: %s\n", fr.Field, strconv.FormatFloat(fr.Rate, 'f', 4, 64))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
