// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/arcspan/sfcorpus/pkg/coalesce"
	"github.com/arcspan/sfcorpus/pkg/schema"
)

// rawTrigger is the wire shape a trigger batch query returns: the fetched
// source text lets complexity be computed locally, with no extra remote
// call
type rawTrigger struct {
	Name   string   `json:"name"`
	Events []string `json:"events"`
	Source string   `json:"source"`
}

// AutomationFetchers bundles the four coalesced batch queries an
// AutomationEnricher run needs. Each BatchFunc returns, per ref, a JSON
// payload the enricher decodes into the corresponding schema type.
type AutomationFetchers struct {
	Flows           coalesce.BatchFunc // JSON []schema.FlowRef per ref
	Triggers        coalesce.BatchFunc // JSON []rawTrigger per ref
	ValidationRules coalesce.BatchFunc // JSON []schema.ValidationRuleRef per ref
	WorkflowRules   coalesce.BatchFunc // JSON []schema.WorkflowRuleRef per ref
}

// AutomationEnricher attaches flows, triggers, validation rules, and
// workflow rules to each record, one coalesced query per kind against the
// full working set.
type AutomationEnricher struct {
	coalescer *coalesce.Coalescer
	// Halt, if set, is forwarded onto the underlying Coalescer for each of
	// the four batch queries, so a tripped Quota Wall stops new remote
	// calls between kinds rather than only after all four have run.
	Halt func() bool
}

// NewAutomationEnricher creates an AutomationEnricher.
func NewAutomationEnricher(coalescer *coalesce.Coalescer) *AutomationEnricher {
	return &AutomationEnricher{coalescer: coalescer}
}

// Enrich attaches an AutomationBlock to every record in records it manages
// to fully process. Refs any of the four coalesced queries skipped (Halt
// tripped) or failed come back in the returned EnrichOutcome without a
// block, rather than getting one built from partial data.
func (e *AutomationEnricher) Enrich(ctx context.Context, records *Records, fetchers AutomationFetchers) (EnrichOutcome, error) {
	var outcome EnrichOutcome
	refs := records.Refs()
	if len(refs) == 0 {
		return outcome, nil
	}

	e.coalescer.Halt = e.Halt

	flowRes, err := e.coalescer.Coalesce(ctx, "automation_flows", refs, fetchers.Flows)
	if err != nil {
		return outcome, fmt.Errorf("automation enricher: flows: %w", err)
	}
	triggerRes, err := e.coalescer.Coalesce(ctx, "automation_triggers", refs, fetchers.Triggers)
	if err != nil {
		return outcome, fmt.Errorf("automation enricher: triggers: %w", err)
	}
	validationRes, err := e.coalescer.Coalesce(ctx, "automation_validation_rules", refs, fetchers.ValidationRules)
	if err != nil {
		return outcome, fmt.Errorf("automation enricher: validation rules: %w", err)
	}
	workflowRes, err := e.coalescer.Coalesce(ctx, "automation_workflow_rules", refs, fetchers.WorkflowRules)
	if err != nil {
		return outcome, fmt.Errorf("automation enricher: workflow rules: %w", err)
	}

	failed := make(map[schema.ObjectRef]error)
	skipped := make(map[schema.ObjectRef]bool)
	for _, res := range []coalesce.Result{flowRes, triggerRes, validationRes, workflowRes} {
		for _, re := range res.Errors {
			if _, ok := failed[re.Ref]; !ok {
				failed[re.Ref] = re.Err
			}
		}
		for _, ref := range res.Skipped {
			skipped[ref] = true
		}
	}

	for _, ref := range refs {
		if _, ok := failed[ref]; ok || skipped[ref] {
			continue
		}

		var flows []schema.FlowRef
		if p := flowRes.Payloads[ref]; len(p) > 0 {
			if err := json.Unmarshal(p, &flows); err != nil {
				return outcome, fmt.Errorf("automation enricher: %s: decode flows: %w", ref, err)
			}
		}

		var rawTriggers []rawTrigger
		if p := triggerRes.Payloads[ref]; len(p) > 0 {
			if err := json.Unmarshal(p, &rawTriggers); err != nil {
				return outcome, fmt.Errorf("automation enricher: %s: decode triggers: %w", ref, err)
			}
		}
		triggers := make([]schema.TriggerRef, 0, len(rawTriggers))
		for _, rt := range rawTriggers {
			triggers = append(triggers, schema.TriggerRef{
				Name:       rt.Name,
				Events:     rt.Events,
				Complexity: complexityOf(rt.Source),
			})
		}

		var validations []schema.ValidationRuleRef
		if p := validationRes.Payloads[ref]; len(p) > 0 {
			if err := json.Unmarshal(p, &validations); err != nil {
				return outcome, fmt.Errorf("automation enricher: %s: decode validation rules: %w", ref, err)
			}
		}

		var workflows []schema.WorkflowRuleRef
		if p := workflowRes.Payloads[ref]; len(p) > 0 {
			if err := json.Unmarshal(p, &workflows); err != nil {
				return outcome, fmt.Errorf("automation enricher: %s: decode workflow rules: %w", ref, err)
			}
		}

		block := &schema.AutomationBlock{
			Flows:           flows,
			Triggers:        triggers,
			ValidationRules: validations,
			WorkflowRules:   workflows,
		}
		records.With(ref, func(rec *schema.ObjectRecord) {
			rec.Automation = block
		})
	}

	for ref, ferr := range failed {
		outcome.Failed = append(outcome.Failed, RefFailure{Ref: ref, Err: ferr})
	}
	sort.Slice(outcome.Failed, func(i, j int) bool { return outcome.Failed[i].Ref < outcome.Failed[j].Ref })
	for ref := range skipped {
		outcome.Skipped = append(outcome.Skipped, ref)
	}
	sort.Slice(outcome.Skipped, func(i, j int) bool { return outcome.Skipped[i] < outcome.Skipped[j] })

	return outcome, nil
}

// complexityOf derives line-count complexity from Apex-style source text:
// blank lines count as neither comment nor code.
func complexityOf(source string) schema.CodeComplexity {
	if source == "" {
		return schema.CodeComplexity{}
	}
	var c schema.CodeComplexity
	inBlockComment := false
	for _, line := range strings.Split(source, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		c.TotalLines++

		switch {
		case inBlockComment:
			c.CommentLines++
			if strings.Contains(trimmed, "*/") {
				inBlockComment = false
			}
		case strings.HasPrefix(trimmed, "//"):
			c.CommentLines++
		case strings.HasPrefix(trimmed, "/*"):
			c.CommentLines++
			if !strings.Contains(trimmed, "*/") {
				inBlockComment = true
			}
		default:
			c.CodeLines++
		}
	}
	return c
}
