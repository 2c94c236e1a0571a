package store

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordMetricAndSummary(t *testing.T) {
	for _, id := range availableBackends(t) {
		t.Run(string(id), func(t *testing.T) {
			s := openStore(t, id)

			values := []float64{10, 30, 20}
			for _, v := range values {
				require.NoError(t, s.RecordMetric("query_latency_ms", v, "ms", nil))
			}

			sum, err := s.MetricsSummary("query_latency_ms")
			require.NoError(t, err)
			require.NotNil(t, sum)
			assert.Equal(t, "query_latency_ms", sum.Name)
			assert.Equal(t, int64(3), sum.Count)
			assert.Equal(t, float64(10), sum.Min)
			assert.Equal(t, float64(30), sum.Max)
			assert.InDelta(t, 20.0, sum.Mean, 0.001)
			assert.Equal(t, float64(20), sum.LastValue)
			assert.False(t, sum.LastAt.IsZero())
		})
	}
}

func TestMetricsSummaryUnknownName(t *testing.T) {
	id := availableBackends(t)[0]
	s := openStore(t, id)

	sum, err := s.MetricsSummary("never_recorded")
	require.NoError(t, err)
	assert.Nil(t, sum)
}

func TestMetricSamplesAppendOnly(t *testing.T) {
	id := availableBackends(t)[0]
	s := openStore(t, id)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.RecordMetric("hits", 1, "count", nil))
	}
	stats, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(5), stats["metric_samples"], "every sample must be its own row")
}

func TestNamespaceMetrics(t *testing.T) {
	for _, id := range availableBackends(t) {
		t.Run(string(id), func(t *testing.T) {
			s := openStore(t, id)

			record := func(ns string, v float64) {
				require.NoError(t, s.RecordMetric("op_latency_ms", v, "ms",
					map[string]string{namespaceTag: ns}))
			}
			record("app/one", 5)
			record("app/one", 15)
			record("app/two", 40)
			// Untagged samples belong to no namespace.
			require.NoError(t, s.RecordMetric("op_latency_ms", 99, "ms", nil))

			groups, err := s.NamespaceMetrics("app/**")
			require.NoError(t, err)
			require.Len(t, groups, 2)

			assert.Equal(t, "app/one", groups[0].Namespace)
			require.Len(t, groups[0].Summaries, 1)
			one := groups[0].Summaries[0]
			assert.Equal(t, int64(2), one.Count)
			assert.Equal(t, float64(5), one.Min)
			assert.Equal(t, float64(15), one.Max)
			assert.InDelta(t, 10.0, one.Mean, 0.001)

			assert.Equal(t, "app/two", groups[1].Namespace)
			require.Len(t, groups[1].Summaries, 1)
			assert.Equal(t, int64(1), groups[1].Summaries[0].Count)
		})
	}
}

func TestNamespaceMetricsPatternFilter(t *testing.T) {
	id := availableBackends(t)[0]
	s := openStore(t, id)

	for i, ns := range []string{"jobs/fast", "jobs/slow", "web/api"} {
		require.NoError(t, s.RecordMetric("latency_ms", float64(i), "ms",
			map[string]string{namespaceTag: ns}))
	}

	groups, err := s.NamespaceMetrics("jobs/*")
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "jobs/fast", groups[0].Namespace)
	assert.Equal(t, "jobs/slow", groups[1].Namespace)
}

func TestStoreSelfInstrumentation(t *testing.T) {
	id := availableBackends(t)[0]
	path := t.TempDir() + "/memory.db"

	s, err := Open(path, WithBackend(id))
	require.NoError(t, err)
	defer s.Close()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Store(StoreRequest{
			Key:       fmt.Sprintf("k%d", i),
			Value:     i,
			Namespace: "app",
		}))
	}

	sum, err := s.MetricsSummary("store_latency_ms")
	require.NoError(t, err)
	require.NotNil(t, sum, "instrumented store must record write latency samples")
	assert.Equal(t, int64(3), sum.Count)

	groups, err := s.NamespaceMetrics("app")
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "app", groups[0].Namespace)
}
