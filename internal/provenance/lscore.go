// Package provenance computes the parent/child DAG's confidence score
// (L-Score) and walks lineage trees. It owns the pure scoring formula
// from spec.md §4.4; the entry store persists the values this package
// derives but never recomputes them itself.
package provenance

import "memoria/internal/errs"

// ComputeDepth returns 1 + the max of parentDepths, or 0 for a root
// with no parents.
func ComputeDepth(parentDepths []int) int {
	if len(parentDepths) == 0 {
		return 0
	}
	max := parentDepths[0]
	for _, d := range parentDepths[1:] {
		if d > max {
			max = d
		}
	}
	return max + 1
}

// ComputeLScore implements L(e) = min(1, importance * decay *
// product(parent L-Scores)), with the empty product equal to 1 so
// roots keep their base confidence. decay applies once per edge into
// e: a parent's own L-Score already carries every generation of decay
// above it, so depth must not be used as a cumulative exponent here —
// that would discount each ancestor generation twice.
func ComputeLScore(importance, depthDecay float64, depth int, parentLScores []float64) float64 {
	product := 1.0
	for _, p := range parentLScores {
		product *= p
	}

	decay := 1.0
	if depth > 0 {
		decay = depthDecay
	}

	decayed := importance * decay * product
	if decayed > 1 {
		return 1
	}
	if decayed < 0 {
		return 0
	}
	return decayed
}

// ThresholdConfig is the gating policy applied at insertion time.
type ThresholdConfig struct {
	DepthDecay float64
	Threshold  float64
	Enforce    bool
}

// Scores is what Compute derives for a new entry about to be inserted.
type Scores struct {
	Depth      int
	LScore     float64
	Confidence float64
	Relevance  float64
}

// ParentInput mirrors entrystore.ParentInfo without importing that
// package, keeping provenance's only dependency the error taxonomy.
type ParentInput struct {
	ID     string
	LScore float64
	Depth  int
}

// Compute derives an entry's depth and L-Score from its parents'
// already-stored scores, then enforces the threshold policy. When
// enforce is on and the result falls below threshold, it returns
// ProvenanceThresholdError and the caller MUST NOT persist the entry.
func Compute(cfg ThresholdConfig, entryID string, importance, confidence, relevance float64, parents []ParentInput) (Scores, error) {
	depths := make([]int, len(parents))
	lscores := make([]float64, len(parents))
	for i, p := range parents {
		depths[i] = p.Depth
		lscores[i] = p.LScore
	}

	depth := ComputeDepth(depths)
	lscore := ComputeLScore(importance, cfg.DepthDecay, depth, lscores)

	if cfg.Enforce && lscore < cfg.Threshold {
		return Scores{}, &errs.ProvenanceThresholdError{EntryID: entryID, LScore: lscore, Threshold: cfg.Threshold}
	}

	return Scores{Depth: depth, LScore: lscore, Confidence: confidence, Relevance: relevance}, nil
}
