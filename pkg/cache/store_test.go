// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package cache

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, ttl time.Duration) *Store {
	t.Helper()
	s, err := New(t.TempDir(), ttl)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestPutGet_RoundTrip(t *testing.T) {
	s := newTestStore(t, time.Hour)
	key := Key("describe", "Account", map[string]string{"p": "1"}, 1)

	err := s.Put(key, "describe", []byte("payload"))
	require.NoError(t, err)

	got, ok, err := s.Get(key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "payload", string(got))
}

func TestGet_MissWhenAbsent(t *testing.T) {
	s := newTestStore(t, time.Hour)
	_, ok, err := s.Get(Key("describe", "Contact", nil, 1))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGet_MissAfterTTLExpiry(t *testing.T) {
	s := newTestStore(t, 5*time.Millisecond)
	key := Key("describe", "Account", nil, 1)
	require.NoError(t, s.Put(key, "describe", []byte("x")))

	time.Sleep(15 * time.Millisecond)
	_, ok, err := s.Get(key)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPutGet_CompressesLargePayloads(t *testing.T) {
	s := newTestStore(t, time.Hour)
	key := Key("stats", "Account", nil, 1)
	big := strings.Repeat("a", 8*1024)

	require.NoError(t, s.Put(key, "stats", []byte(big)))
	got, ok, err := s.Get(key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, big, string(got))
	require.Greater(t, s.Stats().BytesSaved, int64(0))
}

func TestKey_StableForSameInputs(t *testing.T) {
	k1 := Key("describe", "Account", map[string]string{"a": "1", "b": "2"}, 1)
	k2 := Key("describe", "Account", map[string]string{"b": "2", "a": "1"}, 1)
	require.Equal(t, k1, k2, "key derivation must not depend on map iteration order")
}

func TestKey_DiffersOnSchemaVersion(t *testing.T) {
	k1 := Key("describe", "Account", nil, 1)
	k2 := Key("describe", "Account", nil, 2)
	require.NotEqual(t, k1, k2)
}

func TestClear_RemovesAllEntries(t *testing.T) {
	s := newTestStore(t, time.Hour)
	key := Key("describe", "Account", nil, 1)
	require.NoError(t, s.Put(key, "describe", []byte("x")))

	require.NoError(t, s.Clear("", 0))

	_, ok, err := s.Get(key)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestClear_DataTypeFilterOnlyRemovesMatchingEntries(t *testing.T) {
	s := newTestStore(t, time.Hour)
	describeKey := Key("describe", "Account", nil, 1)
	statsKey := Key("stats_count", "Account", nil, 1)
	require.NoError(t, s.Put(describeKey, "describe", []byte("x")))
	require.NoError(t, s.Put(statsKey, "stats_count", []byte("y")))

	require.NoError(t, s.Clear("describe", 0))

	_, ok, err := s.Get(describeKey)
	require.NoError(t, err)
	require.False(t, ok, "describe entry should have been cleared")

	got, ok, err := s.Get(statsKey)
	require.NoError(t, err)
	require.True(t, ok, "stats_count entry should survive a describe-scoped clear")
	require.Equal(t, "y", string(got))
}

func TestStats_Monotonic(t *testing.T) {
	s := newTestStore(t, time.Hour)
	key := Key("describe", "Account", nil, 1)
	require.NoError(t, s.Put(key, "describe", []byte("x")))
	_, _, _ = s.Get(key)
	_, _, _ = s.Get(Key("describe", "Missing", nil, 1))

	stats := s.Stats()
	require.Equal(t, int64(1), stats.Writes)
	require.Equal(t, int64(1), stats.Hits)
	require.Equal(t, int64(1), stats.Misses)
}
