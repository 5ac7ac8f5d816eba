package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gaugeValue(t *testing.T, r *Registry, name string) float64 {
	t.Helper()
	families, err := r.Gatherer().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return f.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

func TestRecordCache_UpdatesGauges(t *testing.T) {
	r := New()
	r.RecordCache(0.75, 42)
	assert.Equal(t, 0.75, gaugeValue(t, r, "gamegov_handlecache_hit_rate"))
	assert.Equal(t, float64(42), gaugeValue(t, r, "gamegov_handlecache_size"))
}

func TestRecordExtremeActive_TogglesGauge(t *testing.T) {
	r := New()
	r.RecordExtremeActive(true)
	assert.Equal(t, float64(1), gaugeValue(t, r, "gamegov_extreme_active"))
	r.RecordExtremeActive(false)
	assert.Equal(t, float64(0), gaugeValue(t, r, "gamegov_extreme_active"))
}

func TestSnapshot_RoundTrips(t *testing.T) {
	r := New()
	want := Snapshot{Mode: "game", ForegroundPID: 100, CacheHitRate: 0.9}
	r.SetSnapshot(want)
	assert.Equal(t, want, r.Snapshot())
}
