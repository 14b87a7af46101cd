package vectorindex

import (
	"math/rand"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memoria/internal/embedding"
	"memoria/internal/errs"
	"memoria/internal/obslog"
)

func randomUnitVector(r *rand.Rand, dims int) []float32 {
	v := make([]float32, dims)
	for i := range v {
		v[i] = float32(r.NormFloat64())
	}
	embedding.Renormalize(v)
	return v
}

func testIndex(t *testing.T, dims int) *Index {
	t.Helper()
	cfg := Config{Dimensions: dims, M: 8, EfConstruction: 32, EfSearch: 16, MaxElements: 10_000}
	return New(cfg, obslog.New(obslog.CategoryVector, nil), 42)
}

func TestAdd_RejectsWrongDimension(t *testing.T) {
	idx := testIndex(t, 8)
	err := idx.Add(1, make([]float32, 4))
	var dimErr *errs.DimensionError
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, 8, dimErr.Expected)
	assert.Equal(t, 4, dimErr.Got)
}

func TestAdd_RenormalizesOffUnitVectors(t *testing.T) {
	idx := testIndex(t, 4)
	v := []float32{2, 0, 0, 0} // norm 2, outside tolerance
	require.NoError(t, idx.Add(1, v))

	results, err := idx.Search([]float32{1, 0, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-6)
}

func TestSearch_FindsExactMatch(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	idx := testIndex(t, 16)

	var target []float32
	for i := uint64(0); i < 200; i++ {
		v := randomUnitVector(r, 16)
		if i == 100 {
			target = v
		}
		require.NoError(t, idx.Add(i, v))
	}

	results, err := idx.Search(target, 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, uint64(100), results[0].Label)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-5)
}

func TestDelete_RemovesFromResultsAndReassignsEntryPoint(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	idx := testIndex(t, 16)

	for i := uint64(0); i < 20; i++ {
		require.NoError(t, idx.Add(i, randomUnitVector(r, 16)))
	}
	assert.Equal(t, 20, idx.Len())

	deleted := idx.entryPoint
	idx.Delete(deleted)
	assert.Equal(t, 19, idx.Len())
	assert.NotEqual(t, deleted, idx.entryPoint)

	results, err := idx.Search(randomUnitVector(r, 16), 19)
	require.NoError(t, err)
	for _, res := range results {
		assert.NotEqual(t, deleted, res.Label)
	}
}

func TestSearch_BruteForceFallbackAgreesWithGraph(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	idx := testIndex(t, 32)

	vectors := make(map[uint64][]float32, 300)
	for i := uint64(0); i < 300; i++ {
		v := randomUnitVector(r, 32)
		vectors[i] = v
		require.NoError(t, idx.Add(i, v))
	}

	query := randomUnitVector(r, 32)
	graphResults, err := idx.Search(query, 1)
	require.NoError(t, err)

	bruteResults := idx.bruteForceSearch(query, 1)
	require.NotEmpty(t, graphResults)
	require.NotEmpty(t, bruteResults)
	assert.Equal(t, bruteResults[0].Label, graphResults[0].Label)
}

func TestSaveLoad_RoundTripsSearchResults(t *testing.T) {
	r := rand.New(rand.NewSource(4))
	idx := testIndex(t, 16)
	for i := uint64(0); i < 50; i++ {
		require.NoError(t, idx.Add(i, randomUnitVector(r, 16)))
	}

	path := t.TempDir() + "/index.bin"
	require.NoError(t, idx.Save(path))

	loaded, needsRebuild, err := Load(path, obslog.New(obslog.CategoryVector, nil), 42)
	require.NoError(t, err)
	require.False(t, needsRebuild)
	assert.Equal(t, idx.Len(), loaded.Len())

	query := randomUnitVector(r, 16)
	before, err := idx.Search(query, 5)
	require.NoError(t, err)
	after, err := loaded.Search(query, 5)
	require.NoError(t, err)

	require.Equal(t, len(before), len(after))
	for i := range before {
		assert.Equal(t, before[i].Label, after[i].Label)
		assert.InDelta(t, before[i].Similarity, after[i].Similarity, 1e-5)
	}
}

func TestLoad_MissingFileRequestsRebuild(t *testing.T) {
	_, needsRebuild, err := Load(t.TempDir()+"/nonexistent.bin", obslog.New(obslog.CategoryVector, nil), 1)
	require.NoError(t, err)
	assert.True(t, needsRebuild)
}

func TestLoad_CorruptFileRequestsRebuild(t *testing.T) {
	path := t.TempDir() + "/corrupt.bin"
	require.NoError(t, os.WriteFile(path, []byte("not an index file"), 0o644))

	_, needsRebuild, err := Load(path, obslog.New(obslog.CategoryVector, nil), 1)
	require.NoError(t, err)
	assert.True(t, needsRebuild)
}

func TestIndexFull_RejectsBeyondCapacity(t *testing.T) {
	cfg := Config{Dimensions: 4, M: 4, EfConstruction: 8, EfSearch: 4, MaxElements: 2}
	idx := New(cfg, obslog.New(obslog.CategoryVector, nil), 1)
	require.NoError(t, idx.Add(1, []float32{1, 0, 0, 0}))
	require.NoError(t, idx.Add(2, []float32{0, 1, 0, 0}))

	err := idx.Add(3, []float32{0, 0, 1, 0})
	var fullErr *errs.IndexFullError
	require.ErrorAs(t, err, &fullErr)
}
