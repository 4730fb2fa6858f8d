// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arcspan/sfcorpus/pkg/bridge"
)

func fastConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Millisecond,
		QuotaFloor:  2 * time.Millisecond,
		JitterFrac:  0.25,
		QuotaJitter: 0.5,
	}
}

func TestDo_SucceedsImmediatelyOnOK(t *testing.T) {
	e := New(fastConfig(), nil, nil)
	calls := 0
	res, err := e.Do(context.Background(), func(ctx context.Context) (Classified, error) {
		calls++
		return Classified{Class: bridge.ClassOK}, nil
	})
	require.NoError(t, err)
	require.Equal(t, bridge.ClassOK, res.Class)
	require.Equal(t, 1, calls)
}

func TestDo_RetriesTransportThenSucceeds(t *testing.T) {
	e := New(fastConfig(), nil, nil)
	calls := 0
	res, err := e.Do(context.Background(), func(ctx context.Context) (Classified, error) {
		calls++
		if calls < 3 {
			return Classified{Class: bridge.ClassTransport}, nil
		}
		return Classified{Class: bridge.ClassOK}, nil
	})
	require.NoError(t, err)
	require.Equal(t, bridge.ClassOK, res.Class)
	require.Equal(t, 3, calls)
}

func TestDo_SyntacticNeverRetried(t *testing.T) {
	e := New(fastConfig(), nil, nil)
	calls := 0
	_, err := e.Do(context.Background(), func(ctx context.Context) (Classified, error) {
		calls++
		return Classified{Class: bridge.ClassSyntactic}, nil
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, FailureSyntactic, rerr.Kind)
}

func TestDo_ExhaustsAndReportsError(t *testing.T) {
	e := New(fastConfig(), nil, nil)
	calls := 0
	_, err := e.Do(context.Background(), func(ctx context.Context) (Classified, error) {
		calls++
		return Classified{Class: bridge.ClassTransport}, nil
	})
	require.Error(t, err)
	require.Equal(t, 3, calls)
	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, FailureExhausted, rerr.Kind)
}

func TestDo_QuotaErrorNotifiesObserver(t *testing.T) {
	quotaSeen := 0
	e := New(fastConfig(), nil, func() { quotaSeen++ })
	_, _ = e.Do(context.Background(), func(ctx context.Context) (Classified, error) {
		return Classified{Class: bridge.ClassQuota}, nil
	})
	require.Equal(t, 3, quotaSeen)
}

func TestDo_ContextCancellationStopsRetrying(t *testing.T) {
	cfg := fastConfig()
	cfg.BaseDelay = 50 * time.Millisecond
	cfg.MaxAttempts = 10
	e := New(cfg, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	calls := 0
	_, err := e.Do(ctx, func(ctx context.Context) (Classified, error) {
		calls++
		return Classified{Class: bridge.ClassTransport}, nil
	})
	require.Error(t, err)
	require.Less(t, calls, 10)
}
