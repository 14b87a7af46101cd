package provenance

import "context"

// ParentLookup is the read-path dependency provenance needs from the
// entry store: enough to walk a lineage tree without importing
// entrystore directly (mirrors the teacher's queryLinksLocked split
// between storage and graph-walk concerns).
type ParentLookup interface {
	Parents(ctx context.Context, entryID string) ([]ParentEdge, error)
}

// ParentEdge is one hop upward in the provenance DAG.
type ParentEdge struct {
	ID         string
	Content    string
	Importance float64
	Depth      int
	LScore     float64
	Confidence float64
	Relevance  float64
}

// TraceNode is one entry in a lineage trace, labeled with its own
// scores so a caller can render a confidence-annotated tree without a
// second round of lookups.
type TraceNode struct {
	ID         string
	Content    string
	Importance float64
	Depth      int
	LScore     float64
	Confidence float64
	Relevance  float64
	Parents    []*TraceNode
}

// Trace walks the parent DAG upward from entryID and returns the root
// of that walk. The root TraceNode carries only the ID the caller
// passed in — its Content/scores are whatever the caller already has
// for that entry — while every node under Parents is fully populated
// from the parent edges that produced it.
//
// It stops at maxDepth hops (0 means unbounded). It is a plain recursive descent
// rather than the teacher's BFS-with-cameFrom, because a lineage trace
// is a tree keyed by each node's own edge list, not a single
// shortest-path reconstruction between two fixed endpoints — so there
// is no path to reconstruct, just a tree to build top-down.
//
// A visited set guards against cycles even though the public API never
// lets an existing entry gain new parents after creation, which should
// make cycles unreachable; this is defense-in-depth, not a path the
// insert API can currently trigger.
func Trace(ctx context.Context, lookup ParentLookup, entryID string, maxDepth int) (*TraceNode, error) {
	visited := map[string]bool{}
	return traceNode(ctx, lookup, entryID, 0, maxDepth, visited)
}

func traceNode(ctx context.Context, lookup ParentLookup, entryID string, depth, maxDepth int, visited map[string]bool) (*TraceNode, error) {
	if visited[entryID] {
		return nil, nil
	}
	visited[entryID] = true

	edges, err := lookup.Parents(ctx, entryID)
	if err != nil {
		return nil, err
	}

	node := &TraceNode{ID: entryID}
	if len(edges) == 0 {
		return node, nil
	}

	atDepthLimit := maxDepth > 0 && depth+1 >= maxDepth
	for _, e := range edges {
		child := &TraceNode{
			ID: e.ID, Content: e.Content, Importance: e.Importance,
			Depth: e.Depth, LScore: e.LScore, Confidence: e.Confidence, Relevance: e.Relevance,
		}
		if !atDepthLimit {
			sub, err := traceNode(ctx, lookup, e.ID, depth+1, maxDepth, visited)
			if err != nil {
				return nil, err
			}
			if sub != nil {
				child.Parents = sub.Parents
			}
		}
		node.Parents = append(node.Parents, child)
	}

	return node, nil
}
