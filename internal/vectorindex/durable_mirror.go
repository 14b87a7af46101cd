package vectorindex

import "context"

// DurableMirror is a disk-backed brute-force fallback that survives
// process restarts independent of the in-memory graph/mirror pair.
// It backs the `vec_index` virtual table named in spec.md §6's
// persistent layout discussion. Implementations must tolerate being
// nil-valued (no-op) when no cgo-accelerated sqlite driver is linked in.
type DurableMirror interface {
	Upsert(ctx context.Context, label uint64, v []float32) error
	Delete(ctx context.Context, label uint64) error
	// NearestCosine returns up to k labels ordered by ascending cosine
	// distance to q, computed entirely inside sqlite.
	NearestCosine(ctx context.Context, q []float32, k int) ([]Result, error)
	Close() error
}
