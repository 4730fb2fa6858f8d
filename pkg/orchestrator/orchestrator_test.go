// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arcspan/sfcorpus/pkg/cache"
)

func TestRun_SuccessRunsAllPhasesInOrder(t *testing.T) {
	o := New(nil, nil)
	var order []Phase

	runner := func(p Phase) PhaseRunner {
		return func(ctx context.Context) (PhaseOutcome, error) {
			order = append(order, p)
			return PhaseOutcome{Processed: 3}, nil
		}
	}

	phases := []Phase{PhaseEnumerate, PhaseDescribe, PhaseStats}
	runners := map[Phase]PhaseRunner{
		PhaseEnumerate: runner(PhaseEnumerate),
		PhaseDescribe:  runner(PhaseDescribe),
		PhaseStats:     runner(PhaseStats),
	}

	report := o.Run(context.Background(), "", phases, runners, nil)
	require.Equal(t, ExitSuccess, report.ExitCode)
	require.Equal(t, phases, order)
	require.NotEmpty(t, report.RunID)
}

func TestRun_PhaseErrorIsFatal(t *testing.T) {
	o := New(nil, nil)
	runners := map[Phase]PhaseRunner{
		PhaseEnumerate: func(ctx context.Context) (PhaseOutcome, error) {
			return PhaseOutcome{}, errors.New("cannot reach CLI")
		},
		PhaseDescribe: func(ctx context.Context) (PhaseOutcome, error) {
			t.Fatal("describe must not run after enumerate fails")
			return PhaseOutcome{}, nil
		},
	}

	report := o.Run(context.Background(), "run-1", []Phase{PhaseEnumerate, PhaseDescribe}, runners, nil)
	require.Equal(t, ExitFatal, report.ExitCode)
}

func TestRun_QuotaWallHaltStopsDownstreamPhases(t *testing.T) {
	o := New(nil, nil)
	describeRan := false
	runners := map[Phase]PhaseRunner{
		PhaseEnumerate: func(ctx context.Context) (PhaseOutcome, error) {
			return PhaseOutcome{Processed: 10, Halted: true}, nil
		},
		PhaseDescribe: func(ctx context.Context) (PhaseOutcome, error) {
			describeRan = true
			return PhaseOutcome{}, nil
		},
	}

	report := o.Run(context.Background(), "run-2", []Phase{PhaseEnumerate, PhaseDescribe}, runners, nil)
	require.Equal(t, ExitPartial, report.ExitCode)
	require.Equal(t, PhaseEnumerate, report.HaltedPhase)
	require.False(t, describeRan)
}

func TestRun_ErroredRefsWithoutHaltIsPartialNotFatal(t *testing.T) {
	o := New(nil, nil)
	runners := map[Phase]PhaseRunner{
		PhaseEnumerate: func(ctx context.Context) (PhaseOutcome, error) {
			return PhaseOutcome{Processed: 8, Errored: 2}, nil
		},
	}

	report := o.Run(context.Background(), "run-3", []Phase{PhaseEnumerate}, runners, nil)
	require.Equal(t, ExitPartial, report.ExitCode)
}

func TestRun_IncludesCacheStatsAndElapsed(t *testing.T) {
	o := New(nil, nil)
	runners := map[Phase]PhaseRunner{
		PhaseEnumerate: func(ctx context.Context) (PhaseOutcome, error) {
			time.Sleep(time.Millisecond)
			return PhaseOutcome{Processed: 1}, nil
		},
	}

	report := o.Run(context.Background(), "run-4", []Phase{PhaseEnumerate}, runners, func() cache.Stats {
		return cache.Stats{Hits: 5, Misses: 1}
	})
	require.EqualValues(t, 5, report.CacheStats.Hits)
	require.Greater(t, report.Elapsed, time.Duration(0))
}
