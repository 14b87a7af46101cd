package embedqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"memoria/internal/embedding"
	"memoria/internal/obslog"
)

// DefaultConfig mirrors the defaults in internal/config.
func DefaultConfig() Config {
	return Config{
		BatchSize: 32, FlushInterval: 30 * time.Second,
		MaxRetries: 3, RetryDelay: 500 * time.Millisecond, FlushTimeout: 10 * time.Second,
	}
}

// Queue buffers entries pending embedding and flushes them in batches.
type Queue struct {
	cfg    Config
	engine embedding.EmbeddingEngine
	vec    VectorWriter
	store  EntryUpdater
	log    *obslog.Logger

	mu      sync.Mutex
	pending []record
	group   singleflight.Group

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New constructs a Queue. Callers should call Start to enable the
// periodic flush timer; Enqueue/Flush work without it.
func New(cfg Config, engine embedding.EmbeddingEngine, vec VectorWriter, store EntryUpdater, logger *obslog.Logger) *Queue {
	return &Queue{cfg: cfg, engine: engine, vec: vec, store: store, log: logger}
}

// Enqueue buffers an entry awaiting embedding. If the batch size
// threshold is reached, it triggers an async flush.
func (q *Queue) Enqueue(entryID string, label uint64, content string) {
	q.mu.Lock()
	q.pending = append(q.pending, record{entryID: entryID, label: label, content: content, enqueuedAt: time.Now()})
	shouldFlush := len(q.pending) >= q.cfg.BatchSize
	q.mu.Unlock()

	if shouldFlush {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), q.cfg.FlushTimeout)
			defer cancel()
			if err := q.Flush(ctx); err != nil {
				q.log.Warn("size-triggered flush failed: %v", err)
			}
		}()
	}
}

// Stats reports the current pending count and the age of the oldest
// pending record.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return Stats{}
	}
	oldest := q.pending[0].enqueuedAt
	for _, r := range q.pending[1:] {
		if r.enqueuedAt.Before(oldest) {
			oldest = r.enqueuedAt
		}
	}
	return Stats{PendingCount: len(q.pending), OldestPendingAge: time.Since(oldest)}
}

// Flush drains the pending buffer and embeds every record, retrying
// transient provider failures with exponential backoff. Concurrent
// callers (the periodic timer, a size trigger, and a query-time forced
// flush all racing) are serialized onto one in-flight flush via
// singleflight so the provider never sees overlapping batches for the
// same queue.
func (q *Queue) Flush(ctx context.Context) error {
	_, err, _ := q.group.Do("flush", func() (interface{}, error) {
		return nil, q.flushOnce(ctx)
	})
	return err
}

func (q *Queue) flushOnce(ctx context.Context) error {
	q.mu.Lock()
	batch := q.pending
	q.pending = nil
	q.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	chunks := chunkRecords(batch, q.cfg.BatchSize)
	eg, egCtx := errgroup.WithContext(ctx)
	var failedMu sync.Mutex
	var failed []record

	for _, chunk := range chunks {
		chunk := chunk
		eg.Go(func() error {
			if err := q.embedChunkWithRetry(egCtx, chunk); err != nil {
				failedMu.Lock()
				failed = append(failed, chunk...)
				failedMu.Unlock()
				q.log.Warn("embedding chunk of %d failed after retries: %v", len(chunk), err)
				for _, r := range chunk {
					_ = q.store.LogFailure(egCtx, "embedding", r.entryID, err.Error())
				}
			}
			return nil
		})
	}
	_ = eg.Wait()

	if len(failed) > 0 {
		q.mu.Lock()
		q.pending = append(q.pending, failed...)
		q.mu.Unlock()
	}

	return nil
}

func (q *Queue) embedChunkWithRetry(ctx context.Context, chunk []record) error {
	texts := make([]string, len(chunk))
	for i, r := range chunk {
		texts[i] = r.content
	}

	var vectors [][]float32
	op := func() error {
		var err error
		vectors, _, err = q.engine.EmbedBatch(ctx, texts)
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = q.cfg.RetryDelay
	policy := backoff.WithMaxRetries(b, uint64(q.cfg.MaxRetries))
	if err := backoff.Retry(op, backoff.WithContext(policy, ctx)); err != nil {
		return fmt.Errorf("embedqueue: embed batch: %w", err)
	}
	if len(vectors) != len(chunk) {
		return fmt.Errorf("embedqueue: provider returned %d vectors for %d inputs", len(vectors), len(chunk))
	}

	for i, r := range chunk {
		if embedding.Norm(vectors[i]) == 0 {
			// A zero vector can't be renormalized into a unit vector and
			// can't be meaningfully compared by cosine similarity; storing
			// it would poison every future search. Leave the entry's
			// pending flag set and reachable only via the tag-only
			// fallback path instead of indexing it.
			q.log.Warn("embedding chunk: provider returned zero vector for entry %s, leaving unindexed", r.entryID)
			_ = q.store.LogFailure(ctx, "embedding", r.entryID, "provider returned zero vector")
			continue
		}
		embedding.Renormalize(vectors[i])
		if err := q.vec.Add(r.label, vectors[i]); err != nil {
			return fmt.Errorf("embedqueue: vector index add: %w", err)
		}
		if err := q.store.ClearPendingEmbedding(ctx, r.entryID); err != nil {
			return fmt.Errorf("embedqueue: clear pending flag: %w", err)
		}
	}
	return nil
}

func chunkRecords(records []record, size int) [][]record {
	if size <= 0 {
		size = len(records)
	}
	var chunks [][]record
	for i := 0; i < len(records); i += size {
		end := i + size
		if end > len(records) {
			end = len(records)
		}
		chunks = append(chunks, records[i:end])
	}
	return chunks
}

// Start runs the periodic flush timer until Stop is called or ctx is
// canceled.
func (q *Queue) Start(ctx context.Context) {
	q.stopCh = make(chan struct{})
	q.doneCh = make(chan struct{})

	go func() {
		defer close(q.doneCh)
		ticker := time.NewTicker(q.cfg.FlushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-q.stopCh:
				return
			case <-ticker.C:
				flushCtx, cancel := context.WithTimeout(ctx, q.cfg.FlushTimeout)
				if err := q.Flush(flushCtx); err != nil {
					q.log.Warn("periodic flush failed: %v", err)
				}
				cancel()
			}
		}
	}()
}

// Stop halts the periodic flush timer and waits for it to exit.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		if q.stopCh != nil {
			close(q.stopCh)
		}
	})
	if q.doneCh != nil {
		<-q.doneCh
	}
}
