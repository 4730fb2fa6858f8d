// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package schema

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleRecord() ObjectRecord {
	return ObjectRecord{
		Ref:   "Account",
		Label: "Account",
		Fields: []FieldSpec{
			{Name: "Name", Type: "string", Required: true},
			{Name: "Id", Type: "id", Unique: true, ExternalID: false},
		},
		Relationships: []Relationship{
			{FieldName: "OwnerId", ToObject: "User"},
		},
		Stats: &StatsBlock{
			RecordCount: 42,
			FieldFillRates: []FieldFillRate{
				{Field: "Name", Rate: 1.0},
				{Field: "Id", Rate: 1.0},
			},
			TopOwningProfiles: []string{"System Administrator", "Standard User"},
		},
	}
}

func TestHash_DeterministicAcrossFieldOrder(t *testing.T) {
	a := sampleRecord()
	b := sampleRecord()
	// Reverse field order in b; semantically identical to a.
	b.Fields = []FieldSpec{b.Fields[1], b.Fields[0]}
	b.Stats.FieldFillRates = []FieldFillRate{b.Stats.FieldFillRates[1], b.Stats.FieldFillRates[0]}
	b.Stats.TopOwningProfiles = []string{b.Stats.TopOwningProfiles[1], b.Stats.TopOwningProfiles[0]}

	ha, err := a.Hash()
	require.NoError(t, err)
	hb, err := b.Hash()
	require.NoError(t, err)
	require.Equal(t, ha, hb)
}

func TestHash_ChangesWithContent(t *testing.T) {
	a := sampleRecord()
	b := sampleRecord()
	b.Fields = append(b.Fields, FieldSpec{Name: "Nickname__c", Type: "string"})

	ha, err := a.Hash()
	require.NoError(t, err)
	hb, err := b.Hash()
	require.NoError(t, err)
	require.NotEqual(t, ha, hb)
}

func TestHash_IgnoresExistingContentHashField(t *testing.T) {
	a := sampleRecord()
	withHash, err := a.WithHash()
	require.NoError(t, err)

	// Hashing again (as if ContentHash were already populated) must not
	// change the result, since ContentHash is excluded from its own input.
	h2, err := withHash.Hash()
	require.NoError(t, err)
	require.Equal(t, withHash.ContentHash, h2)
}

func TestHash_DeterministicAcrossRuns(t *testing.T) {
	h1, err := sampleRecord().Hash()
	require.NoError(t, err)
	h2, err := sampleRecord().Hash()
	require.NoError(t, err)
	require.Equal(t, h1, h2)
}
