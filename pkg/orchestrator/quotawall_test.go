// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQuotaWall_TripsAfterConsecutiveQuotaErrors(t *testing.T) {
	w := NewQuotaWall(3, time.Minute, nil)
	require.False(t, w.Tripped())

	w.RecordQuotaError()
	w.RecordQuotaError()
	require.False(t, w.Tripped())

	w.RecordQuotaError()
	require.True(t, w.Tripped())
}

func TestQuotaWall_SuccessResetsConsecutiveCount(t *testing.T) {
	w := NewQuotaWall(3, time.Minute, nil)
	w.RecordQuotaError()
	w.RecordQuotaError()
	w.RecordSuccess()
	w.RecordQuotaError()
	w.RecordQuotaError()
	require.False(t, w.Tripped(), "success should have reset the consecutive-failure streak")
}
