package query

import (
	"context"
	"fmt"
	"sort"

	"memoria/internal/embedding"
	"memoria/internal/embedqueue"
	"memoria/internal/entrystore"
	"memoria/internal/obslog"
	"memoria/internal/provenance"
	"memoria/internal/vectorindex"
)

// VectorSearcher is the vector index's read path.
type VectorSearcher interface {
	Search(q []float32, k int) ([]vectorindex.Result, error)
}

// EntryReader is the entry store surface the planner needs.
type EntryReader interface {
	ByFilters(ctx context.Context, f entrystore.Filters) ([]*entrystore.Entry, error)
	Get(ctx context.Context, id string) (*entrystore.Entry, error)
	ParentEdgesOf(ctx context.Context, id string) ([]entrystore.ParentEdgeRow, error)
}

// FlushStats is the minimal embedqueue surface the planner needs for
// step 1 ("force a flush if anything is pending").
type FlushStats interface {
	Flush(ctx context.Context) error
	Stats() embedqueue.Stats
}

// Config carries the scoring weights and over-fetch knobs.
type Config struct {
	Alpha           float64
	Beta            float64
	OverfetchFactor int
	EfSearch        int
	TraceDepth      int
}

// Planner answers query(text, opts) per spec §4.6.
type Planner struct {
	cfg    Config
	engine embedding.EmbeddingEngine
	index  VectorSearcher
	store  EntryReader
	queue  FlushStats
	log    *obslog.Logger
}

func New(cfg Config, engine embedding.EmbeddingEngine, index VectorSearcher, store EntryReader, queue FlushStats, logger *obslog.Logger) *Planner {
	return &Planner{cfg: cfg, engine: engine, index: index, store: store, queue: queue, log: logger}
}

// entryLookup adapts *Planner to provenance.ParentLookup for
// IncludeProvenance trace attachment.
type entryLookup struct {
	store EntryReader
}

func (l entryLookup) Parents(ctx context.Context, id string) ([]provenance.ParentEdge, error) {
	rows, err := l.store.ParentEdgesOf(ctx, id)
	if err != nil {
		return nil, err
	}
	edges := make([]provenance.ParentEdge, len(rows))
	for i, r := range rows {
		edges[i] = provenance.ParentEdge{
			ID: r.ID, Content: r.Content, Importance: r.Importance,
			Depth: r.Depth, LScore: r.LScore, Confidence: r.Confidence, Relevance: r.Relevance,
		}
	}
	return edges, nil
}

// Query runs the full 9-step planner algorithm.
func (p *Planner) Query(ctx context.Context, text string, opts Options) ([]Result, error) {
	timer := obslog.StartTimer(p.log, "Query")
	defer timer.Stop()

	topK := opts.TopK
	if topK <= 0 {
		topK = 10
	}

	// Step 1: force a flush if anything is pending.
	if p.queue != nil && p.queue.Stats().PendingCount > 0 {
		if err := p.queue.Flush(ctx); err != nil {
			p.log.Warn("pre-query flush failed: %v", err)
		}
	}

	// Step 2: embed and renormalize the query text.
	vec, _, err := p.engine.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("query: embed: %w", err)
	}
	embedding.Renormalize(vec)

	// Step 3: over-fetch candidate labels from the vector index.
	overfetch := p.cfg.OverfetchFactor
	if overfetch <= 0 {
		overfetch = 4
	}
	fetchK := topK * overfetch
	if p.cfg.EfSearch > fetchK {
		fetchK = p.cfg.EfSearch
	}
	hits, err := p.index.Search(vec, fetchK)
	if err != nil {
		return nil, fmt.Errorf("query: vector search: %w", err)
	}

	// Step 4: resolve labels to entries via the entry store, filtering
	// by the metadata filter bundle. ByFilters already applies the
	// filter bundle, so we intersect with the vector hit labels.
	filtered, err := p.store.ByFilters(ctx, opts.Filters)
	if err != nil {
		return nil, fmt.Errorf("query: by filters: %w", err)
	}
	byLabel := make(map[uint64]*entrystore.Entry, len(filtered))
	for _, e := range filtered {
		byLabel[e.Label] = e
	}

	var results []Result
	seen := map[string]bool{}
	for _, hit := range hits {
		entry, ok := byLabel[hit.Label]
		if !ok {
			continue
		}
		seen[entry.ID] = true
		results = append(results, Result{Entry: entry, Similarity: hit.Similarity, MatchType: MatchVector})
	}

	// Step 5: augment if fewer than top_k survived. Entries matching the
	// filter bundle but lacking an embedding (no vector hit possible at
	// all) are tag-only. Entries that do have an embedding but simply
	// fell outside the over-fetch window are only reachable here
	// through the tag/pattern filter, so they're labeled pattern — that
	// distinguishes a pure filter match from a genuine absence of any
	// vector representation.
	taggedQuery := len(opts.Filters.Tags) > 0
	if len(results) < topK {
		for _, e := range filtered {
			if seen[e.ID] {
				continue
			}
			seen[e.ID] = true
			if e.PendingEmbedding {
				results = append(results, Result{Entry: e, Similarity: 0, MatchType: MatchTagOnly})
			} else if taggedQuery {
				results = append(results, Result{Entry: e, Similarity: 0, MatchType: MatchPattern})
			}
		}
	}

	// Step 6: composite score, discard below min_score.
	alpha, beta := p.cfg.Alpha, p.cfg.Beta
	if alpha == 0 && beta == 0 {
		alpha, beta = 0.7, 0.3
	}
	var scored []Result
	for _, r := range results {
		score := alpha*r.Similarity + beta*r.Entry.LScore
		if score < opts.MinScore {
			continue
		}
		r.Score = score
		if r.MatchType == MatchVector && taggedQuery {
			r.MatchType = MatchHybrid
		}
		scored = append(scored, r)
	}

	// Step 7: sort by composite score descending, tiebreak by (higher
	// importance, earlier creation time, lexicographic ID).
	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Entry.Importance != b.Entry.Importance {
			return a.Entry.Importance > b.Entry.Importance
		}
		if !a.Entry.CreatedAt.Equal(b.Entry.CreatedAt) {
			return a.Entry.CreatedAt.Before(b.Entry.CreatedAt)
		}
		return a.Entry.ID < b.Entry.ID
	})
	if len(scored) > topK {
		scored = scored[:topK]
	}

	// Step 9: attach provenance if requested.
	if opts.IncludeProvenance {
		depth := p.cfg.TraceDepth
		for i := range scored {
			tree, err := provenance.Trace(ctx, entryLookup{store: p.store}, scored[i].Entry.ID, depth)
			if err != nil {
				p.log.Warn("provenance trace failed for %s: %v", scored[i].Entry.ID, err)
				continue
			}
			scored[i].Provenance = convertTrace(tree)
		}
	}

	return scored, nil
}

func convertTrace(node *provenance.TraceNode) *ProvenanceNode {
	if node == nil {
		return nil
	}
	out := &ProvenanceNode{ID: node.ID, LScore: node.LScore}
	for _, p := range node.Parents {
		out.Parents = append(out.Parents, convertTrace(p))
	}
	return out
}
