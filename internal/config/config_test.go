package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_PassesValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 768, cfg.VectorDim)
	assert.Equal(t, 0.7, cfg.Query.Alpha)
	assert.Equal(t, 0.3, cfg.Query.Beta)
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().VectorDim, cfg.VectorDim)
}

func TestLoad_MergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeYAML(t, path, `
vector_dim: 1536
lscore:
  threshold: 0.5
  enforce: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1536, cfg.VectorDim)
	assert.Equal(t, 0.5, cfg.LScore.Threshold)
	assert.True(t, cfg.LScore.Enforce)
	// Untouched fields keep their defaults.
	assert.Equal(t, 16, cfg.HNSW.M)
}

func TestValidate_RejectsBadAlphaBeta(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Query.Alpha = 0
	cfg.Query.Beta = 0
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsBadDepthDecay(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LScore.DepthDecay = 1.5
	assert.Error(t, cfg.Validate())
}

func TestEnvOverrides_DataDir(t *testing.T) {
	t.Setenv("MEMORIA_DATA_DIR", "/tmp/custom-memoria")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom-memoria", cfg.DataDir)
}

func TestAPIKey_ResolvesFromEnv(t *testing.T) {
	t.Setenv("MEMORIA_GENAI_KEY", "secret-key")
	ec := EmbeddingConfig{APIKeyEnv: "MEMORIA_GENAI_KEY"}
	assert.Equal(t, "secret-key", ec.APIKey())
}

func TestAPIKey_EmptyWhenNoEnvNamed(t *testing.T) {
	ec := EmbeddingConfig{}
	assert.Equal(t, "", ec.APIKey())
}

func writeYAML(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
