package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 0.75, cfg.Matching.Theta1)
	assert.Equal(t, 0.70, cfg.Matching.Theta2)
	assert.Equal(t, 100, cfg.Matching.CandidateCapK)
	assert.Equal(t, 4, cfg.Task.WorkersPerPage)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Matching, cfg.Matching)
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "linkcore.yaml")
	yamlContent := `
matching:
  theta1: 0.80
  theta2: 0.65
task:
  batch_size: 250
`
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.80, cfg.Matching.Theta1)
	assert.Equal(t, 0.65, cfg.Matching.Theta2)
	assert.Equal(t, 250, cfg.Task.BatchSize)
	// Fields not present in the file keep their defaults.
	assert.Equal(t, 100, cfg.Matching.CandidateCapK)
}

func TestSaveRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "linkcore.yaml")
	cfg := DefaultConfig()
	cfg.Matching.Theta1 = 0.9
	require.NoError(t, cfg.Save(path))

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.9, reloaded.Matching.Theta1)
}

func TestValidateRejectsOutOfRangeThresholds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Matching.Theta1 = 1.5
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Task.BatchSize = 0
	assert.Error(t, cfg.Validate())
}

func TestEnvOverrideDatabasePath(t *testing.T) {
	t.Setenv("LINKCORE_DATABASE_PATH", "/tmp/override.db")
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/override.db", cfg.Store.DatabasePath)
}
