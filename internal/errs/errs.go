// Package errs defines the error taxonomy shared across the memory
// engine's packages. Every error carries a stable Code() so callers
// (CLI, API layers) can branch on failure kind without string matching.
package errs

import "fmt"

// DimensionError reports a vector whose length doesn't match the index's
// configured dimensionality.
type DimensionError struct {
	Expected int
	Got      int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}
func (e *DimensionError) Code() string { return "dimension_error" }

// StorageError wraps a failure from the underlying durable store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage: %s: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }
func (e *StorageError) Code() string  { return "storage_error" }

// IndexFullError reports that the vector index has reached its
// configured maximum element count.
type IndexFullError struct {
	MaxElements int
}

func (e *IndexFullError) Error() string {
	return fmt.Sprintf("vector index full at %d elements", e.MaxElements)
}
func (e *IndexFullError) Code() string { return "index_full" }

// UnknownEntryError reports a reference to an entry id that doesn't
// exist in the entry store.
type UnknownEntryError struct {
	ID string
}

func (e *UnknownEntryError) Error() string { return fmt.Sprintf("unknown entry: %s", e.ID) }
func (e *UnknownEntryError) Code() string  { return "unknown_entry" }

// UnknownParentError reports that a store() call named a parent id
// that doesn't exist.
type UnknownParentError struct {
	ParentID string
}

func (e *UnknownParentError) Error() string { return fmt.Sprintf("unknown parent: %s", e.ParentID) }
func (e *UnknownParentError) Code() string  { return "unknown_parent" }

// ProvenanceThresholdError reports that an entry's computed L-Score
// fell below the configured enforcement threshold.
type ProvenanceThresholdError struct {
	EntryID   string
	LScore    float64
	Threshold float64
}

func (e *ProvenanceThresholdError) Error() string {
	return fmt.Sprintf("entry %s has L-Score %.4f below threshold %.4f", e.EntryID, e.LScore, e.Threshold)
}
func (e *ProvenanceThresholdError) Code() string { return "provenance_threshold" }

// CycleError reports that linking a parent would introduce a cycle in
// the provenance DAG.
type CycleError struct {
	EntryID  string
	ParentID string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("linking %s as parent of %s would create a cycle", e.ParentID, e.EntryID)
}
func (e *CycleError) Code() string { return "cycle_error" }

// EmbeddingProviderError wraps a failure from the embedding backend.
type EmbeddingProviderError struct {
	Provider string
	Err      error
}

func (e *EmbeddingProviderError) Error() string {
	return fmt.Sprintf("embedding provider %s: %v", e.Provider, e.Err)
}
func (e *EmbeddingProviderError) Unwrap() error { return e.Err }
func (e *EmbeddingProviderError) Code() string  { return "embedding_provider_error" }

// TimeoutError reports an operation that exceeded its deadline.
type TimeoutError struct {
	Op string
}

func (e *TimeoutError) Error() string { return fmt.Sprintf("%s timed out", e.Op) }
func (e *TimeoutError) Code() string  { return "timeout" }

// LockError reports that an operation couldn't acquire the lock it
// needed, typically because another process holds the data directory.
type LockError struct {
	Path string
}

func (e *LockError) Error() string { return fmt.Sprintf("lock held: %s", e.Path) }
func (e *LockError) Code() string  { return "lock_error" }

// Coded is implemented by every error in this package; callers can type
// assert against it to extract a stable code for logging or dispatch.
type Coded interface {
	error
	Code() string
}
