package entrystore

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memoria/internal/errs"
	"memoria/internal/obslog"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), obslog.New(obslog.CategoryStore, nil))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func insertRoot(t *testing.T, s *Store, content string, importance float64, tags ...string) *Entry {
	t.Helper()
	e, err := s.Insert(context.Background(), InsertParams{
		ID: uuid.NewString(), Content: content, Source: SourceUserInput,
		Importance: importance, Tags: tags, Confidence: importance, Relevance: 1,
	}, InsertComputed{Depth: 0, Confidence: importance, Relevance: 1, LScore: importance})
	require.NoError(t, err)
	return e
}

func TestInsertAndGet_RoundTripsContentAndMetadata(t *testing.T) {
	s := openTestStore(t)
	e := insertRoot(t, s, "alpha", 0.8, "t0")

	got, err := s.Get(context.Background(), e.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "alpha", got.Content)
	assert.Equal(t, SourceUserInput, got.Source)
	assert.Equal(t, 0.8, got.Importance)
	assert.ElementsMatch(t, []string{"t0"}, got.Tags)
}

func TestInsert_AllocatesMonotonicLabels(t *testing.T) {
	s := openTestStore(t)
	a := insertRoot(t, s, "a", 0.5)
	b := insertRoot(t, s, "b", 0.5)
	assert.Less(t, a.Label, b.Label)
}

func TestInsert_UnknownParentFails(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Insert(context.Background(), InsertParams{
		ID: uuid.NewString(), Content: "child", Source: SourceUserInput,
		Importance: 0.5, ParentIDs: []string{"does-not-exist"},
	}, InsertComputed{})

	var parentErr *errs.UnknownParentError
	require.ErrorAs(t, err, &parentErr)
}

func TestInsert_ParentEdgesRecorded(t *testing.T) {
	s := openTestStore(t)
	root := insertRoot(t, s, "root", 0.8)

	child, err := s.Insert(context.Background(), InsertParams{
		ID: uuid.NewString(), Content: "child", Source: SourceAgentInferred,
		Importance: 0.9, ParentIDs: []string{root.ID},
	}, InsertComputed{Depth: 1, LScore: 0.5})
	require.NoError(t, err)

	got, err := s.Get(context.Background(), child.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{root.ID}, got.ParentIDs)

	children, err := s.ChildrenOf(context.Background(), root.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{child.ID}, children)
}

func TestGet_UnknownIDReturnsNil(t *testing.T) {
	s := openTestStore(t)
	got, err := s.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDelete_CascadesTagsAndProvenance(t *testing.T) {
	s := openTestStore(t)
	root := insertRoot(t, s, "root", 0.8, "keep")
	child, err := s.Insert(context.Background(), InsertParams{
		ID: uuid.NewString(), Content: "child", Source: SourceUserInput,
		Importance: 0.5, ParentIDs: []string{root.ID}, Tags: []string{"keep"},
	}, InsertComputed{Depth: 1})
	require.NoError(t, err)

	require.NoError(t, s.Delete(context.Background(), child.ID))

	got, err := s.Get(context.Background(), child.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	ids, err := s.ByTag(context.Background(), "keep")
	require.NoError(t, err)
	assert.Equal(t, []string{root.ID}, ids)

	children, err := s.ChildrenOf(context.Background(), root.ID)
	require.NoError(t, err)
	assert.Empty(t, children)
}

func TestDelete_IsIdempotent(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Delete(context.Background(), "never-existed"))
}

func TestUpdateTier_UnknownEntryErrors(t *testing.T) {
	s := openTestStore(t)
	err := s.UpdateTier(context.Background(), "nope", TierCold)
	var unknown *errs.UnknownEntryError
	require.ErrorAs(t, err, &unknown)
}

func TestByFilters_CombinesSourceAndTagAll(t *testing.T) {
	s := openTestStore(t)
	insertRoot(t, s, "a", 0.5, "x", "y")
	insertRoot(t, s, "b", 0.5, "x")

	results, err := s.ByFilters(context.Background(), Filters{
		Sources: []Source{SourceUserInput}, Tags: []string{"x", "y"}, TagMode: FilterAll,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].Content)
}

func TestByFilters_TagAnyMatchesEither(t *testing.T) {
	s := openTestStore(t)
	insertRoot(t, s, "a", 0.5, "x")
	insertRoot(t, s, "b", 0.5, "y")

	results, err := s.ByFilters(context.Background(), Filters{Tags: []string{"x", "y"}, TagMode: FilterAny})
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestRecordFeedback_UpdatesQualityScoreWithEMA(t *testing.T) {
	s := openTestStore(t)
	e := insertRoot(t, s, "a", 0.5)

	require.NoError(t, s.RecordFeedback(context.Background(), e.ID, 1.0))
	got, err := s.Get(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.QualityScore)
	assert.Equal(t, 1, got.QualityCount)

	require.NoError(t, s.RecordFeedback(context.Background(), e.ID, 0.0))
	got, err = s.Get(context.Background(), e.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.8, got.QualityScore, 1e-9)
	assert.Equal(t, 2, got.QualityCount)
}

func TestParentEdgesOf_ReturnsFullParentRows(t *testing.T) {
	s := openTestStore(t)
	root := insertRoot(t, s, "root", 0.8)
	child, err := s.Insert(context.Background(), InsertParams{
		ID: uuid.NewString(), Content: "child", Source: SourceUserInput,
		Importance: 0.5, ParentIDs: []string{root.ID},
	}, InsertComputed{Depth: 1, LScore: 0.4})
	require.NoError(t, err)

	edges, err := s.ParentEdgesOf(context.Background(), child.ID)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, root.ID, edges[0].ID)
	assert.Equal(t, "root", edges[0].Content)
}

func TestStats_CountsRows(t *testing.T) {
	s := openTestStore(t)
	insertRoot(t, s, "a", 0.5)
	insertRoot(t, s, "b", 0.5)

	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats["entries"])
}
