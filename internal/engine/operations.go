package engine

import (
	"context"
	"fmt"
	"time"

	"memoria/internal/causal"
	"memoria/internal/entrystore"
	"memoria/internal/errs"
	"memoria/internal/obslog"
	"memoria/internal/provenance"
	"memoria/internal/query"
)

// StoreParams is the input to Store: the caller-supplied half of an
// entry, before provenance scoring and embedding happen.
type StoreParams struct {
	ID         string
	Content    string
	Source     entrystore.Source
	Importance float64
	SessionID  string
	AgentID    string
	Context    map[string]any
	Tags       []string
	ParentIDs  []string
	Confidence float64
	Relevance  float64
}

// Store validates the new entry's L-Score against its declared parents
// BEFORE writing anything, per spec.md §4.4: a threshold rejection
// leaves no trace. On success it persists the entry transactionally
// and enqueues it for embedding.
func (e *Engine) Store(ctx context.Context, p StoreParams) (*entrystore.Entry, error) {
	timer := obslog.StartTimer(e.log, "Store")
	defer timer.Stop()

	if p.ID == "" {
		p.ID = newEntryID()
	}
	if p.Importance == 0 {
		p.Importance = 0.5
	}
	if p.Confidence == 0 {
		p.Confidence = 1
	}
	if p.Relevance == 0 {
		p.Relevance = 1
	}

	parentRecords, err := e.store.ParentRecords(ctx, p.ParentIDs)
	if err != nil {
		return nil, fmt.Errorf("engine: store: %w", err)
	}
	if len(parentRecords) != len(p.ParentIDs) {
		known := make(map[string]bool, len(parentRecords))
		for _, r := range parentRecords {
			known[r.ID] = true
		}
		for _, id := range p.ParentIDs {
			if !known[id] {
				return nil, &errs.UnknownParentError{ParentID: id}
			}
		}
	}

	parentInputs := make([]provenance.ParentInput, len(parentRecords))
	for i, r := range parentRecords {
		parentInputs[i] = provenance.ParentInput{ID: r.ID, LScore: r.LScore, Depth: r.Depth}
	}

	scores, err := provenance.Compute(e.thresholdCfg, p.ID, p.Importance, p.Confidence, p.Relevance, parentInputs)
	if err != nil {
		return nil, err
	}

	entry, err := e.store.Insert(ctx, entrystore.InsertParams{
		ID: p.ID, Content: p.Content, Source: p.Source, Importance: p.Importance,
		SessionID: p.SessionID, AgentID: p.AgentID, Context: p.Context, Tags: p.Tags,
		ParentIDs: p.ParentIDs, Confidence: p.Confidence, Relevance: p.Relevance,
	}, entrystore.InsertComputed{
		Depth: scores.Depth, Confidence: scores.Confidence, Relevance: scores.Relevance, LScore: scores.LScore,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: store: %w", err)
	}

	e.queue.Enqueue(entry.ID, entry.Label, entry.Content)
	return entry, nil
}

// Get returns a single entry by ID.
func (e *Engine) Get(ctx context.Context, id string) (*entrystore.Entry, error) {
	return e.store.Get(ctx, id)
}

// Delete cascades a removal across the entry store, the causal
// hypergraph (as any relation endpoint), and the vector index (by its
// allocated label), per spec.md §4.2's delete(id).
func (e *Engine) Delete(ctx context.Context, id string) error {
	timer := obslog.StartTimer(e.log, "Delete")
	defer timer.Stop()

	entry, err := e.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("engine: delete: %w", err)
	}
	if entry == nil {
		return &errs.UnknownEntryError{ID: id}
	}

	if err := e.causal.RemoveEntry(ctx, id); err != nil {
		return fmt.Errorf("engine: delete: causal cascade: %w", err)
	}
	e.index.Delete(entry.Label)
	if err := e.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("engine: delete: %w", err)
	}
	return nil
}

// entryLookupAdapter exposes the entry store as provenance.ParentLookup
// for Trace, mirroring internal/query's identically-shaped adapter.
type entryLookupAdapter struct {
	store *entrystore.Store
}

func (a entryLookupAdapter) Parents(ctx context.Context, id string) ([]provenance.ParentEdge, error) {
	rows, err := a.store.ParentEdgesOf(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]provenance.ParentEdge, len(rows))
	for i, r := range rows {
		out[i] = provenance.ParentEdge{
			ID: r.ID, Content: r.Content, Importance: r.Importance,
			Depth: r.Depth, LScore: r.LScore, Confidence: r.Confidence, Relevance: r.Relevance,
		}
	}
	return out, nil
}

// Trace walks id's ancestry up to maxDepth, per spec.md §4.4's trace().
func (e *Engine) Trace(ctx context.Context, id string, maxDepth int) (*provenance.TraceNode, error) {
	if maxDepth <= 0 {
		maxDepth = e.cfg.Query.TraceDepth
	}
	return provenance.Trace(ctx, entryLookupAdapter{store: e.store}, id, maxDepth)
}

// Query answers a semantic query, per spec.md §4.6.
func (e *Engine) Query(ctx context.Context, text string, opts query.Options) ([]query.Result, error) {
	return e.planner.Query(ctx, text, opts)
}

// ShadowQuery runs the read-only contradiction probe, per spec.md §4.7.
func (e *Engine) ShadowQuery(ctx context.Context, claim string, opts query.Options) (*query.ShadowResult, error) {
	return e.planner.ShadowQuery(ctx, claim, opts)
}

// FlushEmbeddings forces the embedding queue to drain immediately.
func (e *Engine) FlushEmbeddings(ctx context.Context) error {
	return e.queue.Flush(ctx)
}

// PendingStats reports the embedding queue's current backlog.
func (e *Engine) PendingStats() (pendingCount int, oldestAge time.Duration) {
	s := e.queue.Stats()
	return s.PendingCount, s.OldestPendingAge
}

// Link creates a causal hyperedge between entries, per spec.md §4.5.
func (e *Engine) Link(ctx context.Context, p causal.LinkParams) (*causal.Relation, error) {
	return causal.Link(ctx, e.causal, storeEntryChecker{e.store}, p)
}

type storeEntryChecker struct{ store *entrystore.Store }

func (c storeEntryChecker) Exists(ctx context.Context, id string) (bool, error) {
	return c.store.Exists(ctx, id)
}

// Traverse walks the causal hypergraph from startIDs, per spec.md §4.5.
func (e *Engine) Traverse(ctx context.Context, startIDs []string, dir causal.Direction, maxDepth int, typeFilter []causal.RelationType) (*causal.TraverseResult, error) {
	return causal.Traverse(ctx, e.causal, startIDs, dir, maxDepth, typeFilter)
}

// Paths enumerates acyclic causal routes from a to b, per spec.md §4.5.
func (e *Engine) Paths(ctx context.Context, a, b string, typeFilter []causal.RelationType, maxDepth int) ([]causal.Path, error) {
	return causal.Paths(ctx, e.causal, a, b, typeFilter, maxDepth)
}

// CleanupExpiredRelations sweeps TTL-expired causal hyperedges.
func (e *Engine) CleanupExpiredRelations(ctx context.Context) (int, error) {
	return e.causal.CleanupExpired(ctx)
}

// RecordFeedback folds a relevance signal into an entry's
// learning-quality score, grounded on the teacher's access-tracking
// idiom for learning candidates (SPEC_FULL §12).
func (e *Engine) RecordFeedback(ctx context.Context, id string, reward float64) error {
	return e.store.RecordFeedback(ctx, id, reward)
}

// retentionLadder is the fixed downgrade order a sweep walks, rung by
// rung: an entry in a rung's from tier moves to its to tier once its age
// since creation exceeds that rung's age. The rungs run in order within
// one sweep, so an old enough entry can descend several tiers at once.
var retentionLadder = []struct {
	from, to entrystore.Tier
	age      time.Duration
}{
	{entrystore.TierHot, entrystore.TierWarm, 7 * 24 * time.Hour},
	{entrystore.TierWarm, entrystore.TierCool, 30 * 24 * time.Hour},
	{entrystore.TierCool, entrystore.TierCold, 90 * 24 * time.Hour},
	{entrystore.TierCold, entrystore.TierFrozen, 365 * 24 * time.Hour},
}

// RunRetentionSweep downgrades entries whose tier has aged out, per
// SPEC_FULL §12's compression-tier policy. It returns the count moved
// per destination tier.
func (e *Engine) RunRetentionSweep(ctx context.Context) (map[entrystore.Tier]int, error) {
	timer := obslog.StartTimer(e.log, "RunRetentionSweep")
	defer timer.Stop()

	moved := make(map[entrystore.Tier]int)
	now := time.Now()
	for _, rung := range retentionLadder {
		stale, err := e.store.StaleEntries(ctx, rung.from, now.Add(-rung.age))
		if err != nil {
			return moved, fmt.Errorf("engine: retention sweep: %w", err)
		}
		for _, c := range stale {
			if err := e.store.UpdateTier(ctx, c.ID, rung.to); err != nil {
				return moved, fmt.Errorf("engine: retention sweep: %w", err)
			}
			moved[rung.to]++
		}
	}
	return moved, nil
}
