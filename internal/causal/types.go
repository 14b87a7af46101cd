// Package causal implements the many-to-many typed hyperedge store
// (spec §4.5): link creation, BFS traversal with TTL liveness, expiry
// sweeps, and acyclic-path enumeration (a depth-bounded DFS gated by a
// small Datalog reachability check). It shares the entry store's *sql.DB rather than opening its
// own file, the same way the teacher keeps one connection per process.
package causal

import "time"

// RelationType is the closed set of causal relation kinds.
type RelationType string

const (
	RelationCauses     RelationType = "causes"
	RelationEnables    RelationType = "enables"
	RelationPrevents   RelationType = "prevents"
	RelationCorrelates RelationType = "correlates"
	RelationPrecedes   RelationType = "precedes"
	RelationTriggers   RelationType = "triggers"
)

func validRelationType(t RelationType) bool {
	switch t {
	case RelationCauses, RelationEnables, RelationPrevents, RelationCorrelates, RelationPrecedes, RelationTriggers:
		return true
	}
	return false
}

// Relation is one hyperedge: sources -> targets, typed and TTL-bounded.
type Relation struct {
	ID        string
	Sources   []string
	Targets   []string
	Type      RelationType
	Strength  float64
	CreatedAt time.Time
	ExpiresAt *time.Time
	Metadata  map[string]any
}

func (r Relation) live(now time.Time) bool {
	return r.ExpiresAt == nil || r.ExpiresAt.After(now)
}

// Direction governs which endpoint set Traverse expands through.
type Direction string

const (
	DirectionForward  Direction = "forward"
	DirectionBackward Direction = "backward"
	DirectionBoth     Direction = "both"
)

// LinkParams is the input to Link.
type LinkParams struct {
	Sources  []string
	Targets  []string
	Type     RelationType
	Strength float64
	TTL      time.Duration // zero means no expiry
	Metadata map[string]any
}

// TraverseResult is the outcome of a BFS walk: every entry ID reached,
// the hyperedges actually traversed, and the strongest path-strength
// product found to each reached ID.
type TraverseResult struct {
	Reached     []string
	Traversed   []Relation
	PathStrength map[string]float64
}

// Path is one acyclic route from a to b with its accumulated strength.
type Path struct {
	Relations []Relation
	Strength  float64
}
