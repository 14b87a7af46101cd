// Package entrystore implements the durable entry store: the keyed
// storage of entries, their tags, provenance edges, and the monotonic
// label allocator the vector index addresses vectors by. It is backed
// by an embedded SQL database in WAL mode, mirroring the teacher's
// LocalStore setup (single connection, busy_timeout, synchronous=NORMAL).
package entrystore

import "time"

// Source is the closed set of origins an entry can be attributed to.
type Source string

const (
	SourceUserInput     Source = "user-input"
	SourceAgentInferred Source = "agent-inference"
	SourceToolOutput    Source = "tool-output"
	SourceSystem        Source = "system"
	SourceExternal      Source = "external"
)

// Tier is the compression tier governing retention/archival policy.
type Tier string

const (
	TierHot    Tier = "hot"
	TierWarm   Tier = "warm"
	TierCool   Tier = "cool"
	TierCold   Tier = "cold"
	TierFrozen Tier = "frozen"
)

// Entry is the durable record for one stored piece of content.
type Entry struct {
	ID               string
	Content          string
	Source           Source
	Importance       float64
	CreatedAt        time.Time
	SessionID        string
	AgentID          string
	Context          map[string]any
	Tags             []string
	Label            uint64
	PendingEmbedding bool
	Tier             Tier
	QualityScore     float64
	QualityCount     int
	ParentIDs        []string
	Depth            int
	Confidence       float64
	Relevance        float64
	LScore           float64
}

// InsertParams is the input to Insert: everything the caller supplies
// before provenance scoring and label allocation happen.
type InsertParams struct {
	ID         string
	Content    string
	Source     Source
	Importance float64
	SessionID  string
	AgentID    string
	Context    map[string]any
	Tags       []string
	ParentIDs  []string
	Confidence float64
	Relevance  float64
}

// FilterMode selects how multi-valued tag filters combine.
type FilterMode string

const (
	FilterAny FilterMode = "any"
	FilterAll FilterMode = "all"
)

// Filters is the composite filter bundle accepted by ByFilters and the
// query planner's metadata join.
type Filters struct {
	Sources      []Source
	Tags         []string
	TagMode      FilterMode
	SessionID    string
	AgentID      string
	MinImportance float64
	CreatedAfter  time.Time
	CreatedBefore time.Time
}

// ParentInfo is the minimal per-parent state the provenance calculator
// needs: its already-derived L-Score and depth.
type ParentInfo struct {
	ID     string
	LScore float64
	Depth  int
}

// ParentEdgeRow is a direct parent as rendered in a lineage trace: full
// enough to label a trace node without a second lookup.
type ParentEdgeRow struct {
	ID         string
	Content    string
	Importance float64
	Depth      int
	LScore     float64
	Confidence float64
	Relevance  float64
}
