package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_SeedsDefaultsWhenMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Defaults(), s.Get())
	assert.FileExists(t, path)
}

func TestLoad_MergesOverDefaultsAndPreservesUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	raw := map[string]any{
		"thermal_thresholds": map[string]int{"soft": 70, "hard": 85, "shutdown": 95},
		"future_feature_flag": true,
	}
	b, err := json.Marshal(raw)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o644))

	s, err := Load(path)
	require.NoError(t, err)
	doc := s.Get()
	assert.Equal(t, 70, doc.ThermalThresholds.Soft)
	assert.True(t, doc.ModuleManagerEnabled) // default preserved
	_, ok := doc.Extra["future_feature_flag"]
	assert.True(t, ok)
}

func TestSetThermalThresholds_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	s, err := Load(path)
	require.NoError(t, err)

	want := ThermalThresholds{Soft: 75, Hard: 88, Shutdown: 99}
	require.NoError(t, s.SetThermalThresholds(want))

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, want, reloaded.Get().ThermalThresholds)
}

func TestGamelist_AddRemoveIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	s, err := Load(filepath.Join(dir, "config.json"))
	require.NoError(t, err)

	require.NoError(t, s.AddGamelistUser("steam.exe"))
	require.NoError(t, s.AddGamelistUser("steam.exe"))
	assert.Equal(t, []string{"steam.exe"}, s.Get().UserGamelist)

	require.NoError(t, s.RemoveGamelistUser("steam.exe"))
	assert.Empty(t, s.Get().UserGamelist)
}
