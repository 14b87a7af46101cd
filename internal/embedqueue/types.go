// Package embedqueue buffers entries awaiting an embedding vector and
// flushes them to the embedding provider in batches, on a timer, or on
// demand before a query needs the vector index current. It mirrors the
// teacher's bounded-concurrency fan-out idiom (errgroup) for the
// provider calls themselves, and adds the retry/serialization layer
// the teacher's hand-rolled backoff loops never wired a real library
// for (github.com/cenkalti/backoff/v4, golang.org/x/sync/singleflight).
package embedqueue

import (
	"context"
	"time"
)

// record is one entry waiting for its vector.
type record struct {
	entryID    string
	label      uint64
	content    string
	enqueuedAt time.Time
}

// VectorWriter is the vector index's write path, kept narrow so
// embedqueue never imports vectorindex's full surface.
type VectorWriter interface {
	Add(label uint64, vector []float32) error
}

// EntryUpdater is the entry store's write path needed after a flush:
// clearing the pending flag on success, logging on irrecoverable
// failure.
type EntryUpdater interface {
	ClearPendingEmbedding(ctx context.Context, id string) error
	LogFailure(ctx context.Context, kind, entryID, message string) error
}

// Config governs batching and retry behavior.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	MaxRetries    int
	RetryDelay    time.Duration
	FlushTimeout  time.Duration
}

// Stats is the observability surface pending_count/oldest_pending_age
// from spec §6 expose.
type Stats struct {
	PendingCount    int
	OldestPendingAge time.Duration
}
