// Package vectorindex implements an in-memory HNSW-style approximate
// nearest-neighbor index over unit-norm float32 vectors, with a
// brute-force mirror kept in lockstep so search never returns
// incomplete results even when the graph path is unavailable.
package vectorindex

import (
	"math"
	"math/rand"
	"sort"
	"sync"

	"memoria/internal/embedding"
	"memoria/internal/errs"
	"memoria/internal/obslog"
)

// Config tunes the graph's build/query accuracy-latency trade-off.
type Config struct {
	Dimensions     int
	M              int // max neighbors per node per layer
	EfConstruction int // beam width during insertion
	EfSearch       int // beam width during search
	MaxElements    int
}

// DefaultConfig matches spec.md §6's documented defaults.
func DefaultConfig() Config {
	return Config{
		Dimensions:     768,
		M:              16,
		EfConstruction: 200,
		EfSearch:       64,
		MaxElements:    1_000_000,
	}
}

// Result is one hit from Search: label plus cosine similarity to the query.
type Result struct {
	Label      uint64
	Similarity float64
}

type node struct {
	label     uint64
	vector    []float32
	level     int
	neighbors [][]uint64 // neighbors[l] = adjacency at layer l
}

// Index is an HNSW-style ANN graph. It is safe for concurrent use; writes
// go through a single write lock, reads share a read lock.
type Index struct {
	mu sync.RWMutex

	cfg Config
	log *obslog.Logger

	nodes      map[uint64]*node
	entryPoint uint64
	topLevel   int
	hasEntry   bool

	mL float64 // 1/ln(M), level-sampling normalization constant
	rng *rand.Rand

	// mirror is the brute-force fallback: a flat label->vector map that
	// is always kept complete and correct regardless of graph state.
	mirror map[uint64][]float32
	// dirty marks the graph as unusable; while it is set, Search scans
	// the brute-force mirror instead of the graph. Nothing in this
	// package rebuilds the graph or clears the flag.
	dirty bool
}

// New constructs an empty index. rngSeed should come from a stable,
// caller-supplied source (e.g. time-of-day at process start) since
// Date.now()/rand sources are not deterministic across test runs.
func New(cfg Config, logger *obslog.Logger, rngSeed int64) *Index {
	if cfg.M <= 0 {
		cfg.M = 16
	}
	if cfg.EfConstruction <= 0 {
		cfg.EfConstruction = 200
	}
	if cfg.EfSearch <= 0 {
		cfg.EfSearch = 64
	}
	return &Index{
		cfg:    cfg,
		log:    logger,
		nodes:  make(map[uint64]*node),
		mirror: make(map[uint64][]float32),
		mL:     1.0 / math.Log(float64(cfg.M)),
		rng:    rand.New(rand.NewSource(rngSeed)),
	}
}

// Len reports the number of vectors currently held.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.mirror)
}

func (idx *Index) validate(v []float32) ([]float32, error) {
	if len(v) != idx.cfg.Dimensions {
		return nil, &errs.DimensionError{Expected: idx.cfg.Dimensions, Got: len(v)}
	}
	n := embedding.Norm(v)
	if n < 0.5 || n > 1.5 {
		idx.log.Warn("vector norm %.4f outside [0.5, 1.5], possible broken upstream embedder", n)
	}
	if n < 1-normTolerance || n > 1+normTolerance {
		out := make([]float32, len(v))
		copy(out, v)
		embedding.Renormalize(out)
		return out, nil
	}
	return v, nil
}

const normTolerance = 0.01

// Add inserts or replaces the vector at label.
func (idx *Index) Add(label uint64, v []float32) error {
	vec, err := idx.validate(v)
	if err != nil {
		return err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if len(idx.mirror) >= idx.cfg.MaxElements {
		if _, exists := idx.mirror[label]; !exists {
			return &errs.IndexFullError{MaxElements: idx.cfg.MaxElements}
		}
	}

	idx.mirror[label] = vec

	if err := idx.graphInsert(label, vec); err != nil {
		idx.log.Warn("graph insert failed for label %d, marking dirty: %v", label, err)
		idx.dirty = true
		return nil
	}
	return nil
}

// graphInsert runs the HNSW insertion algorithm. Caller holds idx.mu.
func (idx *Index) graphInsert(label uint64, v []float32) error {
	level := idx.sampleLevel()
	n := &node{label: label, vector: v, level: level, neighbors: make([][]uint64, level+1)}
	for l := range n.neighbors {
		n.neighbors[l] = nil
	}

	if existing, ok := idx.nodes[label]; ok {
		idx.removeFromGraphLocked(existing)
	}
	idx.nodes[label] = n

	if !idx.hasEntry {
		idx.entryPoint = label
		idx.topLevel = level
		idx.hasEntry = true
		return nil
	}

	cur := idx.entryPoint
	for l := idx.topLevel; l > level; l-- {
		cur = idx.greedyClosest(cur, v, l)
	}

	for l := min(level, idx.topLevel); l >= 0; l-- {
		candidates := idx.searchLayer(v, cur, idx.cfg.EfConstruction, l)
		selected := idx.selectNeighbors(candidates, idx.cfg.M)
		for _, c := range selected {
			idx.connect(label, c.Label, l)
			idx.connect(c.Label, label, l)
			idx.pruneIfNeeded(c.Label, l)
		}
		if len(selected) > 0 {
			cur = selected[0].Label
		}
	}

	if level > idx.topLevel {
		idx.topLevel = level
		idx.entryPoint = label
	}
	return nil
}

func (idx *Index) sampleLevel() int {
	level := int(math.Floor(-math.Log(idx.rng.Float64()) * idx.mL))
	if level > 16 {
		level = 16
	}
	return level
}

func (idx *Index) connect(from, to uint64, layer int) {
	n, ok := idx.nodes[from]
	if !ok || layer >= len(n.neighbors) {
		return
	}
	for _, existing := range n.neighbors[layer] {
		if existing == to {
			return
		}
	}
	n.neighbors[layer] = append(n.neighbors[layer], to)
}

func (idx *Index) pruneIfNeeded(label uint64, layer int) {
	n, ok := idx.nodes[label]
	if !ok || layer >= len(n.neighbors) {
		return
	}
	if len(n.neighbors[layer]) <= 2*idx.cfg.M {
		return
	}
	type scored struct {
		label uint64
		dist  float64
	}
	scoredNeighbors := make([]scored, 0, len(n.neighbors[layer]))
	for _, nb := range n.neighbors[layer] {
		if other, ok := idx.nodes[nb]; ok {
			scoredNeighbors = append(scoredNeighbors, scored{nb, cosineDistance(n.vector, other.vector)})
		}
	}
	sort.Slice(scoredNeighbors, func(i, j int) bool { return scoredNeighbors[i].dist < scoredNeighbors[j].dist })
	if len(scoredNeighbors) > idx.cfg.M {
		scoredNeighbors = scoredNeighbors[:idx.cfg.M]
	}
	kept := make([]uint64, len(scoredNeighbors))
	for i, s := range scoredNeighbors {
		kept[i] = s.label
	}
	n.neighbors[layer] = kept
}

// greedyClosest descends one layer from cur, returning the closest node
// to v found by single-step greedy search at that layer.
func (idx *Index) greedyClosest(cur uint64, v []float32, layer int) uint64 {
	best := cur
	bestDist := cosineDistance(v, idx.nodes[cur].vector)
	improved := true
	for improved {
		improved = false
		n := idx.nodes[best]
		if layer >= len(n.neighbors) {
			break
		}
		for _, nb := range n.neighbors[layer] {
			other, ok := idx.nodes[nb]
			if !ok {
				continue
			}
			d := cosineDistance(v, other.vector)
			if d < bestDist {
				bestDist = d
				best = nb
				improved = true
			}
		}
	}
	return best
}

// searchLayer runs a best-first beam search at layer starting from
// entry, returning up to ef closest candidates sorted by distance
// ascending (Similarity field holds cosine distance here, not
// similarity — converted by callers that need true similarity).
func (idx *Index) searchLayer(v []float32, entry uint64, ef int, layer int) []Result {
	visited := map[uint64]bool{entry: true}
	entryDist := cosineDistance(v, idx.nodes[entry].vector)

	// candidates to explore, distance ascending; results kept, distance
	// ascending, capped at ef. Both are small (bounded by ef) so plain
	// slices re-sorted on insert are simpler and fast enough than a
	// real heap at these sizes.
	candidates := []Result{{entry, entryDist}}
	results := []Result{{entry, entryDist}}

	for len(candidates) > 0 {
		c := candidates[0]
		candidates = candidates[1:]

		if len(results) >= ef && c.Similarity > results[len(results)-1].Similarity {
			break
		}

		n, ok := idx.nodes[c.Label]
		if !ok || layer >= len(n.neighbors) {
			continue
		}
		for _, nbLabel := range n.neighbors[layer] {
			if visited[nbLabel] {
				continue
			}
			visited[nbLabel] = true
			other, ok := idx.nodes[nbLabel]
			if !ok {
				continue
			}
			d := cosineDistance(v, other.vector)
			worstKept := math.Inf(1)
			if len(results) > 0 {
				worstKept = results[len(results)-1].Similarity
			}
			if len(results) < ef || d < worstKept {
				candidates = insertSorted(candidates, Result{nbLabel, d})
				results = insertSorted(results, Result{nbLabel, d})
				if len(results) > ef {
					results = results[:ef]
				}
			}
		}
	}

	return results
}

// insertSorted inserts r into a slice kept sorted ascending by Similarity
// (used here to hold distances, not similarities).
func insertSorted(s []Result, r Result) []Result {
	i := sort.Search(len(s), func(i int) bool { return s[i].Similarity >= r.Similarity })
	s = append(s, Result{})
	copy(s[i+1:], s[i:])
	s[i] = r
	return s
}

// selectNeighbors picks up to m closest candidates by distance.
func (idx *Index) selectNeighbors(candidates []Result, m int) []Result {
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Similarity < candidates[j].Similarity })
	if len(candidates) > m {
		candidates = candidates[:m]
	}
	return candidates
}

// Search returns the k nearest vectors to q by cosine similarity.
func (idx *Index) Search(q []float32, k int) ([]Result, error) {
	vec, err := idx.validate(q)
	if err != nil {
		return nil, err
	}

	idx.mu.RLock()
	dirty := idx.dirty
	hasEntry := idx.hasEntry
	idx.mu.RUnlock()

	if dirty || !hasEntry {
		return idx.bruteForceSearch(vec, k), nil
	}

	results, ok := idx.graphSearch(vec, k)
	if !ok {
		idx.log.Warn("graph search failed, falling back to brute-force scan")
		return idx.bruteForceSearch(vec, k), nil
	}
	return results, nil
}

func (idx *Index) graphSearch(v []float32, k int) ([]Result, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if !idx.hasEntry {
		return nil, false
	}
	if _, ok := idx.nodes[idx.entryPoint]; !ok {
		return nil, false
	}

	cur := idx.entryPoint
	for l := idx.topLevel; l > 0; l-- {
		cur = idx.greedyClosest(cur, v, l)
	}

	ef := idx.cfg.EfSearch
	if k > ef {
		ef = k
	}
	candidates := idx.searchLayer(v, cur, ef, 0)
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	out := make([]Result, len(candidates))
	for i, c := range candidates {
		out[i] = Result{Label: c.Label, Similarity: 1 - c.Similarity}
	}
	return out, true
}

// bruteForceSearch scans the mirror directly; O(n) but always complete.
func (idx *Index) bruteForceSearch(v []float32, k int) []Result {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	type scored struct {
		label uint64
		dist  float64
	}
	all := make([]scored, 0, len(idx.mirror))
	for label, vec := range idx.mirror {
		all = append(all, scored{label, cosineDistance(v, vec)})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].dist < all[j].dist })
	if len(all) > k {
		all = all[:k]
	}
	out := make([]Result, len(all))
	for i, s := range all {
		out[i] = Result{Label: s.label, Similarity: 1 - s.dist}
	}
	return out
}

// Delete removes label from both the graph and the mirror, scrubbing it
// from every neighbor's adjacency list and reassigning the entry point
// if it was the sole top-level node.
func (idx *Index) Delete(label uint64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	delete(idx.mirror, label)

	n, ok := idx.nodes[label]
	if !ok {
		return
	}
	idx.removeFromGraphLocked(n)
	delete(idx.nodes, label)

	if idx.hasEntry && idx.entryPoint == label {
		idx.reassignEntryPointLocked()
	}
}

func (idx *Index) removeFromGraphLocked(n *node) {
	for layer, neighbors := range n.neighbors {
		for _, nb := range neighbors {
			other, ok := idx.nodes[nb]
			if !ok || layer >= len(other.neighbors) {
				continue
			}
			filtered := other.neighbors[layer][:0]
			for _, candidate := range other.neighbors[layer] {
				if candidate != n.label {
					filtered = append(filtered, candidate)
				}
			}
			other.neighbors[layer] = filtered
		}
	}
}

func (idx *Index) reassignEntryPointLocked() {
	var best uint64
	bestLevel := -1
	found := false
	for label, n := range idx.nodes {
		if n.level > bestLevel {
			bestLevel = n.level
			best = label
			found = true
		}
	}
	if !found {
		idx.hasEntry = false
		idx.topLevel = 0
		return
	}
	idx.entryPoint = best
	idx.topLevel = bestLevel
}

func cosineDistance(a, b []float32) float64 {
	sim, err := embedding.CosineSimilarity(a, b)
	if err != nil {
		return 1
	}
	return 1 - sim
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
