package entrystore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"memoria/internal/errs"
)

func unmarshalContext(e *Entry, ctxJSON string, createdAtNano int64) error {
	e.CreatedAt = time.Unix(0, createdAtNano)
	return json.Unmarshal([]byte(ctxJSON), &e.Context)
}

// ByTag returns entry IDs carrying tag (mode=any is just an alias for
// a single-tag lookup; mode=all against a single tag behaves the same
// — the distinction matters in ByFilters where multiple tags combine).
func (s *Store) ByTag(ctx context.Context, tag string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT entry_id FROM tags WHERE tag = ?", tag)
	if err != nil {
		return nil, &errs.StorageError{Op: "ByTag", Err: err}
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, &errs.StorageError{Op: "ByTag.scan", Err: err}
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ByFilters returns entries matching the composite filter bundle, in
// insertion order (created_at ascending, id as a stable tiebreaker).
func (s *Store) ByFilters(ctx context.Context, f Filters) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query, args := buildFilterQuery(f)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &errs.StorageError{Op: "ByFilters", Err: err}
	}
	defer rows.Close()

	var out []*Entry
	var ids []string
	for rows.Next() {
		e, err := scanEntryRows(rows)
		if err != nil {
			return nil, &errs.StorageError{Op: "ByFilters.scan", Err: err}
		}
		out = append(out, e)
		ids = append(ids, e.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, &errs.StorageError{Op: "ByFilters.rows", Err: err}
	}

	for _, e := range out {
		tags, err := s.tagsForLocked(ctx, e.ID)
		if err != nil {
			return nil, err
		}
		e.Tags = tags
	}

	return out, nil
}

func buildFilterQuery(f Filters) (string, []any) {
	var where []string
	var args []any

	if len(f.Sources) > 0 {
		placeholders := make([]string, len(f.Sources))
		for i, src := range f.Sources {
			placeholders[i] = "?"
			args = append(args, string(src))
		}
		where = append(where, fmt.Sprintf("source IN (%s)", strings.Join(placeholders, ",")))
	}
	if f.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, f.SessionID)
	}
	if f.AgentID != "" {
		where = append(where, "agent_id = ?")
		args = append(args, f.AgentID)
	}
	if f.MinImportance > 0 {
		where = append(where, "importance >= ?")
		args = append(args, f.MinImportance)
	}
	if !f.CreatedAfter.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, f.CreatedAfter.UnixNano())
	}
	if !f.CreatedBefore.IsZero() {
		where = append(where, "created_at <= ?")
		args = append(args, f.CreatedBefore.UnixNano())
	}
	if len(f.Tags) > 0 {
		if f.TagMode == FilterAll {
			where = append(where, fmt.Sprintf(
				"id IN (SELECT entry_id FROM tags WHERE tag IN (%s) GROUP BY entry_id HAVING COUNT(DISTINCT tag) = ?)",
				placeholdersFor(len(f.Tags))))
			for _, t := range f.Tags {
				args = append(args, t)
			}
			args = append(args, len(f.Tags))
		} else {
			where = append(where, fmt.Sprintf(
				"id IN (SELECT entry_id FROM tags WHERE tag IN (%s))", placeholdersFor(len(f.Tags))))
			for _, t := range f.Tags {
				args = append(args, t)
			}
		}
	}

	query := `SELECT id, content, source, importance, created_at, session_id, agent_id,
		context, label, pending_embedding, tier, quality_score, quality_count,
		depth, confidence, relevance, lscore FROM entries`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"
	return query, args
}

func placeholdersFor(n int) string {
	ph := make([]string, n)
	for i := range ph {
		ph[i] = "?"
	}
	return strings.Join(ph, ",")
}

func scanEntryRows(rows *sql.Rows) (*Entry, error) {
	var e Entry
	var source, tier, ctxJSON string
	var createdAtNano int64
	var pending int
	if err := rows.Scan(
		&e.ID, &e.Content, &source, &e.Importance, &createdAtNano, &e.SessionID, &e.AgentID,
		&ctxJSON, &e.Label, &pending, &tier, &e.QualityScore, &e.QualityCount,
		&e.Depth, &e.Confidence, &e.Relevance, &e.LScore,
	); err != nil {
		return nil, err
	}
	e.Source = Source(source)
	e.Tier = Tier(tier)
	e.PendingEmbedding = pending != 0
	return &e, unmarshalContext(&e, ctxJSON, createdAtNano)
}
