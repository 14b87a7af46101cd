package causal

import "context"

// Traverse performs a breadth-first walk from startIDs through live
// hyperedges, generalizing the teacher's single-source cameFrom BFS to
// many-to-many edges: each hyperedge fans out from every source to
// every target (or the reverse for backward), and strength compounds
// multiplicatively along the strongest path found to each node.
//
// Like the teacher's TraversePath, this holds s.mu for the whole walk
// and must never call a method that re-acquires it — relationsFromLocked
// is the locked primitive this loop calls directly.
func Traverse(ctx context.Context, s *Store, startIDs []string, dir Direction, maxDepth int, typeFilter []RelationType) (*TraverseResult, error) {
	if maxDepth <= 0 {
		maxDepth = 5
	}
	allow := func(RelationType) bool { return true }
	if len(typeFilter) > 0 {
		set := map[RelationType]bool{}
		for _, t := range typeFilter {
			set[t] = true
		}
		allow = func(t RelationType) bool { return set[t] }
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	type queueItem struct {
		id    string
		depth int
	}

	visited := map[string]bool{}
	strength := map[string]float64{}
	var traversedIDs map[string]Relation
	var traversed []Relation
	queue := make([]queueItem, 0, len(startIDs))
	for _, id := range startIDs {
		if visited[id] {
			continue
		}
		visited[id] = true
		strength[id] = 1.0
		queue = append(queue, queueItem{id: id, depth: 0})
	}
	traversedIDs = map[string]Relation{}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		if cur.depth >= maxDepth {
			continue
		}

		var hops []Relation
		var err error
		switch dir {
		case DirectionBackward:
			hops, err = s.relationsFromLocked(ctx, cur.id, false)
		case DirectionBoth:
			fwd, ferr := s.relationsFromLocked(ctx, cur.id, true)
			if ferr != nil {
				return nil, ferr
			}
			back, berr := s.relationsFromLocked(ctx, cur.id, false)
			if berr != nil {
				return nil, berr
			}
			hops = append(fwd, back...)
		default:
			hops, err = s.relationsFromLocked(ctx, cur.id, true)
		}
		if err != nil {
			return nil, err
		}

		for _, rel := range hops {
			if !allow(rel.Type) {
				continue
			}
			if _, seen := traversedIDs[rel.ID]; !seen {
				traversedIDs[rel.ID] = rel
				traversed = append(traversed, rel)
			}

			nextNodes := rel.Targets
			if dir == DirectionBackward {
				nextNodes = rel.Sources
			} else if dir == DirectionBoth {
				nextNodes = append(append([]string{}, rel.Sources...), rel.Targets...)
			}

			for _, next := range nextNodes {
				if next == cur.id {
					continue
				}
				candidate := strength[cur.id] * rel.Strength
				if existing, ok := strength[next]; !ok || candidate > existing {
					strength[next] = candidate
				}
				if !visited[next] {
					visited[next] = true
					queue = append(queue, queueItem{id: next, depth: cur.depth + 1})
				}
			}
		}
	}

	reached := make([]string, 0, len(visited))
	for id := range visited {
		reached = append(reached, id)
	}

	return &TraverseResult{Reached: reached, Traversed: traversed, PathStrength: strength}, nil
}
