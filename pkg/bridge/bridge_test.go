// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRun_OK(t *testing.T) {
	b := New(nil)
	res, err := b.Run(context.Background(), []string{"echo", "-n", "hello"}, nil, 0)
	require.NoError(t, err)
	require.Equal(t, ClassOK, res.Class)
	require.Equal(t, "hello", string(res.Stdout))
	require.Equal(t, 0, res.ExitCode)
}

func TestRun_ClassifiesQuotaFromStderr(t *testing.T) {
	b := New(nil)
	res, err := b.Run(context.Background(), []string{
		"sh", "-c", "echo REQUEST_LIMIT_EXCEEDED 1>&2; exit 1",
	}, nil, 0)
	require.NoError(t, err)
	require.Equal(t, ClassQuota, res.Class)
	require.Equal(t, 1, res.ExitCode)
}

func TestRun_ClassifiesSyntacticFromStderr(t *testing.T) {
	b := New(nil)
	res, err := b.Run(context.Background(), []string{
		"sh", "-c", "echo MALFORMED_QUERY 1>&2; exit 2",
	}, nil, 0)
	require.NoError(t, err)
	require.Equal(t, ClassSyntactic, res.Class)
}

func TestRun_UnrecognizedNonZeroIsTransport(t *testing.T) {
	b := New(nil)
	res, err := b.Run(context.Background(), []string{
		"sh", "-c", "echo something unexpected 1>&2; exit 3",
	}, nil, 0)
	require.NoError(t, err)
	require.Equal(t, ClassTransport, res.Class)
}

func TestRun_TimeoutClassifiesAsTimeout(t *testing.T) {
	b := New(nil)
	res, err := b.Run(context.Background(), []string{"sleep", "2"}, nil, 20*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, ClassTimeout, res.Class)
}

func TestRun_StdinIsPassedThrough(t *testing.T) {
	b := New(nil)
	res, err := b.Run(context.Background(), []string{"cat"}, []byte("payload"), 0)
	require.NoError(t, err)
	require.Equal(t, ClassOK, res.Class)
	require.Equal(t, "payload", string(res.Stdout))
}

func TestRun_ConcurrentInvocationsAreSafe(t *testing.T) {
	b := New(nil)
	done := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			_, err := b.Run(context.Background(), []string{"echo", "ok"}, nil, 0)
			done <- err
		}()
	}
	for i := 0; i < 8; i++ {
		require.NoError(t, <-done)
	}
}
