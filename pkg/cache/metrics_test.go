package cache

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/assetmesh/errors"
	"github.com/c360/assetmesh/metric"
)

func TestCacheMetricsExport(t *testing.T) {
	registry := metric.NewMetricsRegistry()

	c, err := NewLRU[string](10, WithMetrics[string](registry, "asset_store"))
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Set("asset:hvac-1", "running")
	require.NoError(t, err)
	_, err = c.Set("asset:hvac-2", "idle")
	require.NoError(t, err)

	val, found := c.Get("asset:hvac-1")
	require.True(t, found)
	assert.Equal(t, "running", val)

	_, found = c.Get("asset:hvac-9")
	assert.False(t, found)

	removed, err := c.Delete("asset:hvac-2")
	require.NoError(t, err)
	assert.True(t, removed)

	inner := c.(*store[string])
	m := inner.rec.metrics
	require.NotNil(t, m, "Prometheus export should be wired")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.hits))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.misses))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.sets))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deletes))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.size))

	// The collectors carry the component label into scrape output.
	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	var labeled bool
	for _, mf := range families {
		if mf.GetName() != "assetmesh_cache_hits_total" {
			continue
		}
		for _, lp := range mf.GetMetric()[0].GetLabel() {
			if lp.GetName() == "component" && lp.GetValue() == "asset_store" {
				labeled = true
			}
		}
	}
	assert.True(t, labeled, "hits counter should carry component=asset_store")
}

func TestCacheMetricsEvictions(t *testing.T) {
	registry := metric.NewMetricsRegistry()

	c, err := NewLRU[string](2, WithMetrics[string](registry, "history"))
	require.NoError(t, err)
	defer c.Close()

	for _, key := range []string{"asset:a", "asset:b", "asset:c"} {
		_, err := c.Set(key, "x")
		require.NoError(t, err)
	}

	m := c.(*store[string]).rec.metrics
	assert.Equal(t, 1.0, testutil.ToFloat64(m.evictions),
		"overflowing a two-slot cache evicts exactly once")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.size))
}

func TestCacheMetricsPrefixConflict(t *testing.T) {
	registry := metric.NewMetricsRegistry()

	first, err := NewLRU[string](4, WithMetrics[string](registry, "asset_store"))
	require.NoError(t, err)
	defer first.Close()

	// A second cache under the same component prefix collides in the
	// registry; construction must fail instead of double counting.
	_, err = NewLRU[string](4, WithMetrics[string](registry, "asset_store"))
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}

func TestCacheWithoutMetrics(t *testing.T) {
	c, err := NewLRU[string](10)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Set("asset:hvac-1", "running")
	require.NoError(t, err)

	val, found := c.Get("asset:hvac-1")
	assert.True(t, found)
	assert.Equal(t, "running", val)

	// Statistics stay on even without Prometheus export.
	require.NotNil(t, c.Stats())
	assert.Equal(t, int64(1), c.Stats().Hits())
	assert.Nil(t, c.(*store[string]).rec.metrics)
}
