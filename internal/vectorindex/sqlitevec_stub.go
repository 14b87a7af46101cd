//go:build !cgo_sqlite

package vectorindex

import (
	"context"
	"database/sql"
)

// NewSQLiteVecMirror is a no-op under the pure-Go (modernc.org/sqlite)
// build: vec0 virtual tables require the cgo_sqlite build tag. Callers
// still get a working DurableMirror; it just has nothing to report,
// leaving the in-memory brute-force mirror as the only fallback path.
func NewSQLiteVecMirror(db *sql.DB, dims int) (DurableMirror, error) {
	return noopMirror{}, nil
}

type noopMirror struct{}

func (noopMirror) Upsert(ctx context.Context, label uint64, v []float32) error { return nil }
func (noopMirror) Delete(ctx context.Context, label uint64) error             { return nil }
func (noopMirror) NearestCosine(ctx context.Context, q []float32, k int) ([]Result, error) {
	return nil, nil
}
func (noopMirror) Close() error { return nil }
