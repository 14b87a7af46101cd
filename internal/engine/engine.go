// Package engine wires the entry store, vector index, embedding queue,
// provenance scorer, causal hypergraph, and query planner into the
// single facade described by spec.md §4.8: store, query, get, delete,
// trace, link, traverse, paths, shadow_query, checkpoint, stats.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"memoria/internal/causal"
	"memoria/internal/config"
	"memoria/internal/embedding"
	"memoria/internal/embedqueue"
	"memoria/internal/entrystore"
	"memoria/internal/errs"
	"memoria/internal/obslog"
	"memoria/internal/provenance"
	"memoria/internal/query"
	"memoria/internal/vectorindex"
)

const lockFileName = "memoria.lock"

// Engine is the single entry point an application embeds: every
// operation in spec.md §4.8 is a method on it.
type Engine struct {
	cfg *config.Config

	store  *entrystore.Store
	index  *vectorindex.Index
	embed  embedding.EmbeddingEngine
	queue  *embedqueue.Queue
	causal *causal.Store
	planner *query.Planner

	logSink *obslog.FileSink
	log     *obslog.Logger

	thresholdCfg provenance.ThresholdConfig

	lockPath string
	mu       sync.Mutex
	closed   bool
}

// Open constructs every subsystem from cfg and acquires an exclusive
// lock on cfg.DataDir, returning *errs.LockError if another process
// already holds it.
func Open(ctx context.Context, cfg *config.Config) (*Engine, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("engine: create data dir: %w", err)
	}

	lockPath := filepath.Join(cfg.DataDir, lockFileName)
	if err := acquireLock(lockPath); err != nil {
		return nil, err
	}

	var sink *obslog.FileSink
	if cfg.Logging.Enabled {
		var err error
		sink, err = obslog.NewFileSink(cfg.Logging.Dir, parseLevel(cfg.Logging.Level))
		if err != nil {
			releaseLock(lockPath)
			return nil, fmt.Errorf("engine: open log sink: %w", err)
		}
	}

	e := &Engine{
		cfg:      cfg,
		logSink:  sink,
		log:      obslog.New(obslog.CategoryEngine, sink),
		lockPath: lockPath,
		thresholdCfg: provenance.ThresholdConfig{
			DepthDecay: cfg.LScore.DepthDecay,
			Threshold:  cfg.LScore.Threshold,
			Enforce:    cfg.LScore.Enforce,
		},
	}

	store, err := entrystore.Open(cfg.DataDir, obslog.New(obslog.CategoryStore, sink))
	if err != nil {
		e.releaseAll()
		return nil, fmt.Errorf("engine: open entry store: %w", err)
	}
	e.store = store

	indexPath := filepath.Join(cfg.DataDir, "vector.idx")
	idx, needsRebuild, err := vectorindex.Load(indexPath, obslog.New(obslog.CategoryVector, sink), time.Now().UnixNano())
	if err != nil {
		e.releaseAll()
		return nil, fmt.Errorf("engine: load vector index: %w", err)
	}
	if needsRebuild {
		e.log.Warn("vector index persisted file was unusable, starting from an empty graph")
		idx = vectorindex.New(vectorindex.Config{
			Dimensions:     cfg.VectorDim,
			M:              cfg.HNSW.M,
			EfConstruction: cfg.HNSW.EfConstruction,
			EfSearch:       cfg.HNSW.EfSearch,
			MaxElements:    cfg.HNSW.MaxElements,
		}, obslog.New(obslog.CategoryVector, sink), time.Now().UnixNano())
	}
	e.index = idx

	embEngine, err := embedding.NewEngine(embedding.Config{
		Provider:       cfg.Embedding.Provider,
		OllamaEndpoint: cfg.Embedding.OllamaEndpoint,
		OllamaModel:    cfg.Embedding.Model,
		GenAIAPIKey:    os.Getenv(cfg.Embedding.APIKeyEnv),
		GenAIModel:     cfg.Embedding.Model,
		Dimensions:     cfg.VectorDim,
		TaskType:       cfg.Embedding.TaskType,
	}, obslog.New(obslog.CategoryEmbedding, sink))
	if err != nil {
		e.releaseAll()
		return nil, fmt.Errorf("engine: construct embedding engine: %w", err)
	}
	e.embed = embEngine

	qcfg := embedqueue.DefaultConfig()
	qcfg.BatchSize = cfg.Embedding.BatchSize
	qcfg.FlushInterval = time.Duration(cfg.Embedding.FlushIntervalS) * time.Second
	qcfg.MaxRetries = cfg.Embedding.MaxRetries
	qcfg.RetryDelay = time.Duration(cfg.Embedding.RetryDelayMS) * time.Millisecond
	e.queue = embedqueue.New(qcfg, embEngine, vectorWriter{e.index}, e.store, obslog.New(obslog.CategoryEmbedding, sink))
	e.queue.Start(ctx)

	causalStore, err := causal.Open(e.store.DB(), obslog.New(obslog.CategoryCausal, sink))
	if err != nil {
		e.releaseAll()
		return nil, fmt.Errorf("engine: open causal store: %w", err)
	}
	e.causal = causalStore

	e.planner = query.New(query.Config{
		Alpha:           cfg.Query.Alpha,
		Beta:            cfg.Query.Beta,
		OverfetchFactor: cfg.Query.OverfetchFactor,
		EfSearch:        cfg.HNSW.EfSearch,
		TraceDepth:      cfg.Query.TraceDepth,
	}, embEngine, e.index, e.store, e.queue, obslog.New(obslog.CategoryQuery, sink))

	return e, nil
}

// vectorWriter adapts *vectorindex.Index to embedqueue.VectorWriter.
type vectorWriter struct{ idx *vectorindex.Index }

func (v vectorWriter) Add(label uint64, vec []float32) error { return v.idx.Add(label, vec) }

func parseLevel(s string) obslog.Level {
	switch s {
	case "debug":
		return obslog.LevelDebug
	case "warn":
		return obslog.LevelWarn
	case "error":
		return obslog.LevelError
	default:
		return obslog.LevelInfo
	}
}

func acquireLock(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return &errs.LockError{Path: path}
		}
		return fmt.Errorf("engine: create lock file: %w", err)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	return f.Close()
}

func releaseLock(path string) {
	_ = os.Remove(path)
}

func (e *Engine) releaseAll() {
	if e.store != nil {
		_ = e.store.Close()
	}
	if e.logSink != nil {
		_ = e.logSink.Close()
	}
	releaseLock(e.lockPath)
}

// Close stops the embedding queue, flushes a final checkpoint, and
// releases the data directory lock. Safe to call more than once.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	if err := e.Checkpoint(ctx); err != nil {
		e.log.Warn("checkpoint on close failed: %v", err)
	}
	e.queue.Stop()
	e.releaseAll()
	return nil
}

// Checkpoint forces a flush of any pending embeddings and persists the
// vector index to disk, per spec.md §4.8's checkpoint() operation.
func (e *Engine) Checkpoint(ctx context.Context) error {
	timer := obslog.StartTimer(e.log, "Checkpoint")
	defer timer.Stop()

	if err := e.queue.Flush(ctx); err != nil {
		return fmt.Errorf("engine: checkpoint flush: %w", err)
	}
	indexPath := filepath.Join(e.cfg.DataDir, "vector.idx")
	if err := e.index.Save(indexPath); err != nil {
		return fmt.Errorf("engine: checkpoint save index: %w", err)
	}
	return nil
}

// Stats reports entry-store row counts and embedding-queue backlog.
type Stats struct {
	Entries          map[string]int64
	PendingEmbedding int
	OldestPendingAge time.Duration
}

func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	counts, err := e.store.Stats(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("engine: stats: %w", err)
	}
	qstats := e.queue.Stats()
	return Stats{Entries: counts, PendingEmbedding: qstats.PendingCount, OldestPendingAge: qstats.OldestPendingAge}, nil
}

// newEntryID mirrors the teacher's practice of minting opaque IDs at
// the boundary rather than trusting caller-supplied ones.
func newEntryID() string {
	return uuid.NewString()
}
