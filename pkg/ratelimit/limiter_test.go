// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAcquire_BlocksUntilTokenAvailable(t *testing.T) {
	l := New(nil, WithBurst(1), WithInitialRate(MinRatePerMin))
	defer l.Stop()

	require.NoError(t, l.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := l.Acquire(ctx)
	require.Error(t, err, "second acquire with an empty bucket and a short deadline should fail")
}

func TestAdjust_ScalesDownOnQuotaError(t *testing.T) {
	l := New(nil, WithInitialRate(200))
	defer l.Stop()

	l.Report(OutcomeSuccess)
	l.Report(OutcomeQuotaError)
	l.adjust()

	require.InDelta(t, 100.0, l.CurrentRate(), 0.01)
}

func TestAdjust_ScalesDownOnLowSuccessRatio(t *testing.T) {
	l := New(nil, WithInitialRate(200))
	defer l.Stop()

	for i := 0; i < 2; i++ {
		l.Report(OutcomeSuccess)
	}
	for i := 0; i < 8; i++ {
		l.Report(OutcomeFailure)
	}
	l.adjust()

	require.InDelta(t, 100.0, l.CurrentRate(), 0.01)
}

func TestAdjust_ScalesUpOnHighSuccess(t *testing.T) {
	l := New(nil, WithInitialRate(200))
	defer l.Stop()

	for i := 0; i < 100; i++ {
		l.Report(OutcomeSuccess)
	}
	l.adjust()

	require.InDelta(t, 240.0, l.CurrentRate(), 0.01)
}

func TestAdjust_ClampsToBounds(t *testing.T) {
	l := New(nil, WithInitialRate(MaxRatePerMin))
	defer l.Stop()
	for i := 0; i < 100; i++ {
		l.Report(OutcomeSuccess)
	}
	l.adjust()
	require.LessOrEqual(t, l.CurrentRate(), MaxRatePerMin)

	l2 := New(nil, WithInitialRate(MinRatePerMin))
	defer l2.Stop()
	l2.Report(OutcomeQuotaError)
	l2.adjust()
	require.GreaterOrEqual(t, l2.CurrentRate(), MinRatePerMin)
}

func TestAdjust_NoOpWithoutObservations(t *testing.T) {
	l := New(nil, WithInitialRate(200))
	defer l.Stop()
	l.adjust()
	require.InDelta(t, 200.0, l.CurrentRate(), 0.01)
}
