// Package query implements the query planner (spec §4.6): fusing
// vector-index hits, entry-store filters, and provenance L-Scores into
// a single ranked result list, plus the read-only shadow/contradiction
// probe (§4.7) built on top of it.
package query

import "memoria/internal/entrystore"

// MatchType labels how a result was found.
type MatchType string

const (
	MatchVector  MatchType = "vector"
	MatchPattern MatchType = "pattern"
	MatchHybrid  MatchType = "hybrid"
	MatchTagOnly MatchType = "tag-only"
)

// Options configures a query call.
type Options struct {
	TopK              int
	MinScore          float64
	Filters           entrystore.Filters
	IncludeProvenance bool
}

// Result is one ranked hit.
type Result struct {
	Entry      *entrystore.Entry
	Similarity float64
	Score      float64
	MatchType  MatchType
	Provenance *ProvenanceNode
}

// ProvenanceNode is the attached lineage tree when IncludeProvenance is
// set, mirroring internal/provenance.TraceNode without importing it
// into the public result shape (the planner converts).
type ProvenanceNode struct {
	ID      string
	LScore  float64
	Parents []*ProvenanceNode
}

// ShadowResult is the outcome of a shadow/contradiction probe.
type ShadowResult struct {
	Credibility   float64
	Contradicting []Result
}
