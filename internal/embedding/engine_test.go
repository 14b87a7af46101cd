package embedding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memoria/internal/obslog"
)

func TestCosineSimilarity_IdenticalVectorsIsOne(t *testing.T) {
	v := []float32{0.6, 0.8, 0}
	sim, err := CosineSimilarity(v, v)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sim, 1e-6)
}

func TestCosineSimilarity_OrthogonalIsZero(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}
	sim, err := CosineSimilarity(a, b)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, sim, 1e-6)
}

func TestCosineSimilarity_DimensionMismatch(t *testing.T) {
	_, err := CosineSimilarity([]float32{1, 2}, []float32{1, 2, 3})
	assert.Error(t, err)
}

func TestCosineSimilarity_ZeroVectorIsZeroNotNaN(t *testing.T) {
	sim, err := CosineSimilarity([]float32{0, 0}, []float32{1, 1})
	require.NoError(t, err)
	assert.Equal(t, 0.0, sim)
}

func TestRenormalize_ScalesToUnitLength(t *testing.T) {
	v := []float32{3, 4} // norm 5
	Renormalize(v)
	assert.InDelta(t, 1.0, Norm(v), 1e-6)
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)
}

func TestRenormalize_ZeroVectorUntouched(t *testing.T) {
	v := []float32{0, 0, 0}
	Renormalize(v)
	assert.Equal(t, []float32{0, 0, 0}, v)
}

func TestNewEngine_UnsupportedProviderErrors(t *testing.T) {
	_, err := NewEngine(Config{Provider: "carrier-pigeon"}, obslog.New(obslog.CategoryEmbedding, nil))
	assert.Error(t, err)
}

func TestNewEngine_OllamaDefaults(t *testing.T) {
	cfg := DefaultConfig()
	eng, err := NewEngine(cfg, obslog.New(obslog.CategoryEmbedding, nil))
	require.NoError(t, err)
	assert.Equal(t, 768, eng.Dimensions())
	assert.Contains(t, eng.Name(), "ollama")
}
