// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersEveryMetricWithoutPanicking(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)
	require.NotNil(t, r)

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}

func TestCacheCounters_IncrementIndependently(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.CacheHits.Inc()
	r.CacheHits.Inc()
	r.CacheMisses.Inc()

	require.Equal(t, float64(2), counterValue(t, r.CacheHits))
	require.Equal(t, float64(1), counterValue(t, r.CacheMisses))
	require.Equal(t, float64(0), counterValue(t, r.CacheWrites))
}

func TestRetryAttempts_LabeledByClass(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.RetryAttempts.WithLabelValues("quota_error").Inc()
	r.RetryAttempts.WithLabelValues("quota_error").Inc()
	r.RetryAttempts.WithLabelValues("transport_error").Inc()

	require.Equal(t, float64(2), counterValue(t, r.RetryAttempts.WithLabelValues("quota_error")))
	require.Equal(t, float64(1), counterValue(t, r.RetryAttempts.WithLabelValues("transport_error")))
}

func TestPhaseDuration_ObservesIntoTheCorrectLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.PhaseDuration.WithLabelValues("describe").Observe(3.5)

	var m dto.Metric
	require.NoError(t, r.PhaseDuration.WithLabelValues("describe").(prometheus.Histogram).Write(&m))
	require.EqualValues(t, 1, m.GetHistogram().GetSampleCount())
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}
