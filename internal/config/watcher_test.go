package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, path string, vectorDim int) {
	t.Helper()
	content := "vector_dim: " + itoa(vectorDim) + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := ""
	for n > 0 {
		digits = string(rune('0'+n%10)) + digits
		n /= 10
	}
	return digits
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeTestConfig(t, path, 256)

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(path, func(cfg *Config, err error) {
		if err == nil {
			reloaded <- cfg
		}
	})
	require.NoError(t, err)
	assert.Equal(t, 256, w.Current().VectorDim)

	require.NoError(t, w.Start())
	defer w.Stop()

	time.Sleep(10 * time.Millisecond)
	writeTestConfig(t, path, 512)

	select {
	case cfg := <-reloaded:
		assert.Equal(t, 512, cfg.VectorDim)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reload callback")
	}
	assert.Equal(t, 512, w.Current().VectorDim)
}

func TestWatcher_StopIsIdempotentAndClean(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeTestConfig(t, path, 128)

	w, err := NewWatcher(path, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
}
