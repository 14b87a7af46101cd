package provenance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memoria/internal/errs"
)

func TestComputeDepth_RootIsZero(t *testing.T) {
	assert.Equal(t, 0, ComputeDepth(nil))
}

func TestComputeDepth_IsMaxParentPlusOne(t *testing.T) {
	assert.Equal(t, 3, ComputeDepth([]int{1, 2, 0}))
}

func TestComputeLScore_RootUsesImportanceOnly(t *testing.T) {
	got := ComputeLScore(0.8, 0.9, 0, nil)
	assert.InDelta(t, 0.8, got, 1e-9)
}

func TestComputeLScore_DecaysOncePerEdgeRegardlessOfDepth(t *testing.T) {
	got := ComputeLScore(1.0, 0.9, 2, []float64{0.5})
	assert.InDelta(t, 1.0*0.9*0.5, got, 1e-9)
}

// TestComputeLScore_SeedScenario pins down the four-generation R/C/G/H
// chain: depth_decay=0.9, threshold=0.5, enforce=true. Only H (the
// great-grandchild) falls below threshold.
func TestComputeLScore_SeedScenario(t *testing.T) {
	const decay = 0.9

	r := ComputeLScore(0.8, decay, 0, nil)
	assert.InDelta(t, 0.8, r, 1e-9)

	c := ComputeLScore(0.9, decay, 1, []float64{r})
	assert.InDelta(t, 0.648, c, 1e-3)

	g := ComputeLScore(0.9, decay, 2, []float64{c})
	assert.InDelta(t, 0.525, g, 1e-3)
	assert.GreaterOrEqual(t, g, 0.5)

	h := ComputeLScore(0.9, decay, 3, []float64{g})
	assert.InDelta(t, 0.425, h, 1e-3)
	assert.Less(t, h, 0.5)
}

func TestComputeLScore_ClampsToOne(t *testing.T) {
	got := ComputeLScore(1.0, 1.0, 0, []float64{1.0, 1.0})
	assert.Equal(t, 1.0, got)
}

func TestCompute_EnforceRejectsBelowThreshold(t *testing.T) {
	cfg := ThresholdConfig{DepthDecay: 0.9, Threshold: 0.5, Enforce: true}
	_, err := Compute(cfg, "e1", 0.3, 1, 1, nil)

	var thresholdErr *errs.ProvenanceThresholdError
	require.ErrorAs(t, err, &thresholdErr)
	assert.Equal(t, "e1", thresholdErr.EntryID)
}

func TestCompute_NonEnforcingAllowsBelowThreshold(t *testing.T) {
	cfg := ThresholdConfig{DepthDecay: 0.9, Threshold: 0.9, Enforce: false}
	scores, err := Compute(cfg, "e1", 0.1, 1, 1, nil)
	require.NoError(t, err)
	assert.InDelta(t, 0.1, scores.LScore, 1e-9)
}

func TestCompute_DerivesDepthFromParents(t *testing.T) {
	cfg := ThresholdConfig{DepthDecay: 0.9}
	scores, err := Compute(cfg, "e1", 1, 1, 1, []ParentInput{{ID: "p1", LScore: 0.8, Depth: 1}})
	require.NoError(t, err)
	assert.Equal(t, 2, scores.Depth)
}

type fakeLookup struct {
	edges map[string][]ParentEdge
}

func (f fakeLookup) Parents(_ context.Context, id string) ([]ParentEdge, error) {
	return f.edges[id], nil
}

func TestTrace_WalksMultiLevelLineage(t *testing.T) {
	lookup := fakeLookup{edges: map[string][]ParentEdge{
		"child":  {{ID: "parent", Content: "p", LScore: 0.8}},
		"parent": {{ID: "grandparent", Content: "gp", LScore: 0.6}},
	}}

	root, err := Trace(context.Background(), lookup, "child", 0)
	require.NoError(t, err)
	require.Len(t, root.Parents, 1)
	assert.Equal(t, "parent", root.Parents[0].ID)
	require.Len(t, root.Parents[0].Parents, 1)
	assert.Equal(t, "grandparent", root.Parents[0].Parents[0].ID)
}

func TestTrace_RespectsMaxDepth(t *testing.T) {
	lookup := fakeLookup{edges: map[string][]ParentEdge{
		"child":  {{ID: "parent", LScore: 0.8}},
		"parent": {{ID: "grandparent", LScore: 0.6}},
	}}

	root, err := Trace(context.Background(), lookup, "child", 1)
	require.NoError(t, err)
	require.Len(t, root.Parents, 1)
	assert.Empty(t, root.Parents[0].Parents)
}

func TestTrace_RootWithNoParentsReturnsEmptyTree(t *testing.T) {
	lookup := fakeLookup{edges: map[string][]ParentEdge{}}
	root, err := Trace(context.Background(), lookup, "solo", 0)
	require.NoError(t, err)
	assert.Empty(t, root.Parents)
}

func TestTrace_CycleDoesNotInfiniteLoop(t *testing.T) {
	lookup := fakeLookup{edges: map[string][]ParentEdge{
		"a": {{ID: "b", LScore: 0.5}},
		"b": {{ID: "a", LScore: 0.5}},
	}}

	root, err := Trace(context.Background(), lookup, "a", 0)
	require.NoError(t, err)
	require.Len(t, root.Parents, 1)
	require.Len(t, root.Parents[0].Parents, 1)
	assert.Equal(t, "a", root.Parents[0].Parents[0].ID)
	assert.Empty(t, root.Parents[0].Parents[0].Parents)
}
