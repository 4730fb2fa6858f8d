// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package emit

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arcspan/sfcorpus/pkg/schema"
)

func sampleRecord() schema.ObjectRecord {
	return schema.ObjectRecord{
		Ref:   "Account",
		Label: "Account",
		Fields: []schema.FieldSpec{
			{Name: "Id", Type: "id", Required: true},
			{Name: "Name", Type: "string", Required: true},
		},
		ContentHash: "deadbeef",
	}
}

func TestBuildChunks_SingleChunkGetsBareID(t *testing.T) {
	chunks := BuildChunks(sampleRecord(), DefaultTokenCap)
	require.Len(t, chunks, 1)
	require.Equal(t, "salesforce_object_Account", chunks[0].ID)
	require.Equal(t, 1, chunks[0].Metadata.TotalParts)
	require.Equal(t, 1, chunks[0].Metadata.PartIndex)
	require.Empty(t, chunks[0].Metadata.SiblingIDs)
	require.Equal(t, "deadbeef", chunks[0].Metadata.ContentHash)
}

func TestBuildChunks_MultiChunkGetsPartSuffixAndSiblings(t *testing.T) {
	record := sampleRecord()
	for i := 0; i < 200; i++ {
		record.Fields = append(record.Fields, schema.FieldSpec{Name: "Field_" + string(rune('A'+i%26)) + string(rune(i)), Type: "string"})
	}

	chunks := BuildChunks(record, 20)
	require.Greater(t, len(chunks), 1)
	require.Equal(t, "salesforce_object_Account_part_1", chunks[0].ID)
	require.Equal(t, len(chunks), chunks[0].Metadata.TotalParts)
	for i, c := range chunks {
		require.Equal(t, i+1, c.Metadata.PartIndex)
		require.Len(t, c.Metadata.SiblingIDs, len(chunks)-1)
		require.NotContains(t, c.Metadata.SiblingIDs, c.ID)
	}
}

func TestBuildCorpus_OrdersByRefThenPartIndex(t *testing.T) {
	zulu := sampleRecord()
	zulu.Ref = "Zulu"
	alpha := sampleRecord()
	alpha.Ref = "Alpha"

	chunks := BuildCorpus([]schema.ObjectRecord{zulu, alpha}, DefaultTokenCap)
	require.Len(t, chunks, 2)
	require.Equal(t, "salesforce_object_Alpha", chunks[0].ID)
	require.Equal(t, "salesforce_object_Zulu", chunks[1].ID)
}

func TestChunkText_NeverExceedsCapByMuchForOrdinaryProse(t *testing.T) {
	doc := renderDocument(sampleRecord())
	texts := chunkText(doc, 10)
	require.NotEmpty(t, texts)
	for _, text := range texts {
		require.LessOrEqual(t, approxTokens(text), 40, "a single small record should not blow up into huge fragments")
	}
}

func TestSplitSentences_BreaksOnTerminalPunctuation(t *testing.T) {
	sentences := splitSentences("First sentence. Second sentence! Third one?")
	require.Len(t, sentences, 3)
	require.True(t, strings.HasPrefix(sentences[1], " Second") || strings.HasPrefix(strings.TrimSpace(sentences[1]), "Second"))
}
