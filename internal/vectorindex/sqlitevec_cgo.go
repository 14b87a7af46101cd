//go:build cgo_sqlite

package vectorindex

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

func init() {
	// Registers the vec0 virtual table module with every connection
	// opened through mattn/go-sqlite3. Mirrors the teacher's
	// detectVecExtension probe, but here the extension is guaranteed
	// present because this file only builds under the cgo_sqlite tag.
	sqlite_vec.Auto()
}

// sqliteVecMirror is the cgo-accelerated DurableMirror backed by a
// sqlite-vec vec0 virtual table. It shares the connection the entry
// store already holds open rather than opening its own.
type sqliteVecMirror struct {
	db   *sql.DB
	dims int
}

// NewSQLiteVecMirror creates the vec_index virtual table (if absent)
// against db and returns a DurableMirror backed by it.
func NewSQLiteVecMirror(db *sql.DB, dims int) (DurableMirror, error) {
	stmt := fmt.Sprintf("CREATE VIRTUAL TABLE IF NOT EXISTS vec_index USING vec0(embedding float[%d])", dims)
	if _, err := db.Exec(stmt); err != nil {
		return nil, fmt.Errorf("vectorindex: create vec_index table: %w", err)
	}
	return &sqliteVecMirror{db: db, dims: dims}, nil
}

func (m *sqliteVecMirror) Upsert(ctx context.Context, label uint64, v []float32) error {
	blob := encodeVector(v)
	_, err := m.db.ExecContext(ctx, "INSERT OR REPLACE INTO vec_index(rowid, embedding) VALUES (?, ?)", int64(label), blob)
	if err != nil {
		return fmt.Errorf("vectorindex: vec_index upsert: %w", err)
	}
	return nil
}

func (m *sqliteVecMirror) Delete(ctx context.Context, label uint64) error {
	_, err := m.db.ExecContext(ctx, "DELETE FROM vec_index WHERE rowid = ?", int64(label))
	if err != nil {
		return fmt.Errorf("vectorindex: vec_index delete: %w", err)
	}
	return nil
}

func (m *sqliteVecMirror) NearestCosine(ctx context.Context, q []float32, k int) ([]Result, error) {
	blob := encodeVector(q)
	rows, err := m.db.QueryContext(ctx,
		"SELECT rowid, vec_distance_cosine(embedding, ?) AS dist FROM vec_index ORDER BY dist LIMIT ?",
		blob, k)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: vec_index query: %w", err)
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		var label int64
		var dist float64
		if err := rows.Scan(&label, &dist); err != nil {
			return nil, fmt.Errorf("vectorindex: vec_index scan: %w", err)
		}
		out = append(out, Result{Label: uint64(label), Similarity: 1 - dist})
	}
	return out, rows.Err()
}

func (m *sqliteVecMirror) Close() error { return nil }

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
	}
	return buf
}
