// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package enrich

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arcspan/sfcorpus/pkg/bridge"
	"github.com/arcspan/sfcorpus/pkg/schema"
)

func jsonBatch(t *testing.T, value func(ref schema.ObjectRef) any) func(ctx context.Context, dataType string, refs []schema.ObjectRef) (map[schema.ObjectRef][]byte, bridge.Class, error) {
	t.Helper()
	return func(ctx context.Context, dataType string, refs []schema.ObjectRef) (map[schema.ObjectRef][]byte, bridge.Class, error) {
		out := make(map[schema.ObjectRef][]byte, len(refs))
		for _, ref := range refs {
			b, err := json.Marshal(value(ref))
			require.NoError(t, err)
			out[ref] = b
		}
		return out, bridge.ClassOK, nil
	}
}

func TestAutomationEnricher_AttachesAllFourKinds(t *testing.T) {
	e := NewAutomationEnricher(newTestCoalescer(t))
	records := newTestRecords("Account")

	source := "// header comment\nif (x) {\n  doThing();\n}\n"
	fetchers := AutomationFetchers{
		Flows: jsonBatch(t, func(ref schema.ObjectRef) any {
			return []schema.FlowRef{{Name: "OnCreateFlow", Status: "Active"}}
		}),
		Triggers: jsonBatch(t, func(ref schema.ObjectRef) any {
			return []rawTrigger{{Name: "AccountTrigger", Events: []string{"before insert"}, Source: source}}
		}),
		ValidationRules: jsonBatch(t, func(ref schema.ObjectRef) any {
			return []schema.ValidationRuleRef{{Name: "RequireName", Active: true}}
		}),
		WorkflowRules: jsonBatch(t, func(ref schema.ObjectRef) any {
			return []schema.WorkflowRuleRef{{Name: "LegacyRule", Active: false}}
		}),
	}

	outcome, err := e.Enrich(context.Background(), records, fetchers)
	require.NoError(t, err)
	require.Empty(t, outcome.Skipped)
	require.Empty(t, outcome.Failed)

	block := records.records["Account"].Automation
	require.NotNil(t, block)
	require.Equal(t, "OnCreateFlow", block.Flows[0].Name)
	require.Equal(t, "RequireName", block.ValidationRules[0].Name)
	require.Equal(t, "LegacyRule", block.WorkflowRules[0].Name)
	require.Len(t, block.Triggers, 1)
	require.Equal(t, "AccountTrigger", block.Triggers[0].Name)
	require.Equal(t, 1, block.Triggers[0].Complexity.CommentLines)
	require.Equal(t, 3, block.Triggers[0].Complexity.CodeLines)
}

func TestComplexityOf_CountsBlockComments(t *testing.T) {
	source := "/* start\n still a comment\n end */\ncode();\n\n// trailing\n"
	c := complexityOf(source)
	require.Equal(t, 4, c.CommentLines)
	require.Equal(t, 1, c.CodeLines)
	require.Equal(t, 5, c.TotalLines)
}

func TestComplexityOf_EmptySource(t *testing.T) {
	require.Equal(t, schema.CodeComplexity{}, complexityOf(""))
}
