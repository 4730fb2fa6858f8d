// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParsePhases_EmptySelectorReturnsFullPipeline(t *testing.T) {
	phases, err := ParsePhases(nil)
	require.NoError(t, err)
	require.Equal(t, allPhases, phases)
}

func TestParsePhases_AddsImplicitPrerequisites(t *testing.T) {
	phases, err := ParsePhases([]string{"upload"})
	require.NoError(t, err)
	require.Equal(t, []Phase{PhaseEnumerate, PhaseDescribe, PhaseEmit, PhaseUpload}, phases)
}

func TestParsePhases_StatsOnlyPullsInEnumerateAndDescribe(t *testing.T) {
	phases, err := ParsePhases([]string{"stats"})
	require.NoError(t, err)
	require.Equal(t, []Phase{PhaseEnumerate, PhaseDescribe, PhaseStats}, phases)
}

func TestParsePhases_RejectsUnknownPhase(t *testing.T) {
	_, err := ParsePhases([]string{"nonsense"})
	require.Error(t, err)
}

func TestParsePhases_PreservesDependencyOrderRegardlessOfInputOrder(t *testing.T) {
	phases, err := ParsePhases([]string{"upload", "enumerate", "emit"})
	require.NoError(t, err)
	require.Equal(t, []Phase{PhaseEnumerate, PhaseDescribe, PhaseEmit, PhaseUpload}, phases)
}
