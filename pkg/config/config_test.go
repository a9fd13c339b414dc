package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repguard/pkg/config"
)

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.Node.ID)
	assert.NoError(t, cfg.Validate())
}

func TestLoadParsesYAMLOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "repguard.yaml")
	contents := []byte(`
node:
  id: test-node-1
engine:
  expected_items: 5000
  fpr_limit: 0.02
  cuckoo_load_limit: 0.9
  growth_factor: 2
  maintenance_interval: 500
logging:
  level: debug
  enable_console: true
`)
	require.NoError(t, os.WriteFile(path, contents, 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "test-node-1", cfg.Node.ID)
	assert.EqualValues(t, 5000, cfg.Engine.ExpectedItems)
	assert.Equal(t, 0.02, cfg.Engine.FPRLimit)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadRejectsInvalidEngineConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "repguard.yaml")
	contents := []byte(`
node:
  id: test-node-1
engine:
  expected_items: 0
`)
	require.NoError(t, os.WriteFile(path, contents, 0o644))

	_, err := config.Load(path)
	assert.Error(t, err)
}
