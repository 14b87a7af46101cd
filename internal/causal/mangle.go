package causal

import (
	"bytes"
	"context"
	"fmt"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	_ "github.com/google/mangle/builtin"
	mengine "github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	_ "github.com/google/mangle/packages"
	"github.com/google/mangle/parse"
	"github.com/google/mangle/unionfind"
)

// reachabilitySchema declares the two facts/rules Paths needs: edge is
// asserted per live, type-filtered hyperedge expansion; reach is its
// transitive closure, which Datalog computes far more cheaply than a
// naive exponential path search would for the "is b reachable at all"
// question. Datalog is a poor fit for enumerating the paths themselves
// (it answers set-membership, not ordered walks), so path enumeration
// with strength products stays in Go, gated by this reachability check.
const reachabilitySchema = `
Decl edge(X, Y).
Decl reach(X, Y).
reach(X, Y) :- edge(X, Y).
reach(X, Y) :- edge(X, Z), reach(Z, Y).
`

// reachable reports whether b is reachable from a over the given edge
// set using a fresh in-memory Mangle program: parse.Unit ->
// AnalyzeOneUnit -> add edge facts -> EvalProgramWithStats -> EvalQuery
// on reach.
func reachable(a, b string, edges [][2]string) (bool, error) {
	unit, err := parse.Unit(bytes.NewReader([]byte(reachabilitySchema)))
	if err != nil {
		return false, fmt.Errorf("causal: parse reachability schema: %w", err)
	}
	programInfo, err := analysis.AnalyzeOneUnit(parse.SourceUnit{Clauses: unit.Clauses, Decls: unit.Decls}, nil)
	if err != nil {
		return false, fmt.Errorf("causal: analyze reachability schema: %w", err)
	}

	edgeSym := ast.PredicateSym{Symbol: "edge", Arity: 2}
	store := factstore.NewSimpleInMemoryStore()
	for _, e := range edges {
		store.Add(ast.Atom{Predicate: edgeSym, Args: []ast.BaseTerm{ast.String(e[0]), ast.String(e[1])}})
	}

	if _, err := mengine.EvalProgramWithStats(programInfo, store); err != nil {
		return false, fmt.Errorf("causal: evaluate reachability program: %w", err)
	}

	reachSym := ast.PredicateSym{Symbol: "reach", Arity: 2}
	decl, ok := programInfo.Decls[reachSym]
	if !ok || len(decl.Modes()) == 0 {
		return false, fmt.Errorf("causal: reach predicate not declared")
	}

	predToRules := map[ast.PredicateSym][]ast.Clause{}
	for _, clause := range programInfo.Rules {
		predToRules[clause.Head.Predicate] = append(predToRules[clause.Head.Predicate], clause)
	}
	queryCtx := &mengine.QueryContext{PredToRules: predToRules, PredToDecl: programInfo.Decls, Store: store}

	found := false
	queryAtom := ast.NewQuery(reachSym)
	err = queryCtx.EvalQuery(queryAtom, decl.Modes()[0], unionfind.New(), func(fact ast.Atom) error {
		if len(fact.Args) != 2 {
			return nil
		}
		if fact.Args[0] == ast.BaseTerm(ast.String(a)) && fact.Args[1] == ast.BaseTerm(ast.String(b)) {
			found = true
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("causal: evaluate reach query: %w", err)
	}
	return found, nil
}

// Paths enumerates acyclic live paths from a to b up to maxDepth hops,
// each with its accumulated strength (product of edge strengths).
// Reachability is checked via Mangle first so a disconnected pair
// short-circuits without a search.
func Paths(ctx context.Context, s *Store, a, b string, typeFilter []RelationType, maxDepth int) ([]Path, error) {
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
	edgesByNode, edgePairs, err := collectLiveEdgesLocked(ctx, s, a, maxDepth, allow)
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	ok, err := reachable(a, b, edgePairs)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	var paths []Path
	var walk func(node string, visited map[string]bool, acc []Relation, strength float64)
	walk = func(node string, visited map[string]bool, acc []Relation, strength float64) {
		if len(acc) > maxDepth {
			return
		}
		if node == b && len(acc) > 0 {
			paths = append(paths, Path{Relations: append([]Relation{}, acc...), Strength: strength})
			return
		}
		for _, rel := range edgesByNode[node] {
			for _, next := range rel.Targets {
				if visited[next] {
					continue
				}
				visited[next] = true
				walk(next, visited, append(acc, rel), strength*rel.Strength)
				delete(visited, next)
			}
		}
	}
	walk(a, map[string]bool{a: true}, nil, 1.0)

	return paths, nil
}

// collectLiveEdgesLocked crawls forward from start up to maxDepth hops,
// gathering every live, type-filtered hyperedge reachable from it. That
// bounded forward cone is enough to answer both the Mangle reachability
// check and the Go path enumeration below.
func collectLiveEdgesLocked(ctx context.Context, s *Store, start string, maxDepth int, allow func(RelationType) bool) (map[string][]Relation, [][2]string, error) {
	edgesByNode := map[string][]Relation{}
	var pairs [][2]string
	seenRelations := map[string]bool{}
	seen := map[string]bool{}

	var collect func(node string, depth int) error
	collect = func(node string, depth int) error {
		if depth > maxDepth || seen[node] {
			return nil
		}
		seen[node] = true

		hops, err := s.relationsFromLocked(ctx, node, true)
		if err != nil {
			return err
		}
		for _, rel := range hops {
			if !allow(rel.Type) {
				continue
			}
			if !seenRelations[rel.ID] {
				seenRelations[rel.ID] = true
				edgesByNode[node] = append(edgesByNode[node], rel)
				for _, tgt := range rel.Targets {
					pairs = append(pairs, [2]string{node, tgt})
				}
			}
			for _, tgt := range rel.Targets {
				if err := collect(tgt, depth+1); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if err := collect(start, 0); err != nil {
		return nil, nil, err
	}
	return edgesByNode, pairs, nil
}
