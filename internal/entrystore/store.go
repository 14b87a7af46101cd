package entrystore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"memoria/internal/errs"
	"memoria/internal/obslog"
)

// Store is the durable, single-writer entry store. It owns the
// relational database file (entries, tags, provenance edges, label
// allocator, failure log) and is safe for concurrent use: reads share
// a read lock, writes serialize through mu like the teacher's
// LocalStore.
type Store struct {
	db  *sql.DB
	mu  sync.RWMutex
	log *obslog.Logger
}

// Open initializes the database file at <dataDir>/entries.db, creating
// the schema if absent. Mirrors the teacher's NewLocalStore: single
// connection, WAL journal mode, busy_timeout, synchronous=NORMAL.
func Open(dataDir string, logger *obslog.Logger) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("entrystore: create data dir: %w", err)
	}

	path := filepath.Join(dataDir, "entries.db")
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("entrystore: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			logger.Warn("failed to set %q: %v", pragma, err)
		}
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, log: logger}, nil
}

// DB exposes the underlying connection for components that must share
// it (the sqlite-vec durable mirror, the causal hypergraph tables).
func (s *Store) DB() *sql.DB { return s.db }

// VecCapable reports whether this build links the cgo sqlite-vec path.
func (s *Store) VecCapable() bool { return vecCapable }

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// AllocateLabel returns the next monotonic label, persisting the
// counter so labels are never reused across restarts.
func (s *Store) AllocateLabel(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &errs.StorageError{Op: "AllocateLabel.begin", Err: err}
	}
	defer tx.Rollback()

	var next uint64
	if err := tx.QueryRowContext(ctx, "SELECT next_label FROM label_allocator WHERE id = 1").Scan(&next); err != nil {
		return 0, &errs.StorageError{Op: "AllocateLabel.read", Err: err}
	}
	if _, err := tx.ExecContext(ctx, "UPDATE label_allocator SET next_label = ? WHERE id = 1", next+1); err != nil {
		return 0, &errs.StorageError{Op: "AllocateLabel.write", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return 0, &errs.StorageError{Op: "AllocateLabel.commit", Err: err}
	}
	return next, nil
}

// ParentRecords fetches (lscore, depth) for every requested parent ID
// in one query, for provenance computation. Any ID not found is
// omitted; callers detect missing parents by comparing lengths.
func (s *Store) ParentRecords(ctx context.Context, ids []string) ([]ParentInfo, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	placeholders := make([]byte, 0, len(ids)*2)
	args := make([]any, 0, len(ids))
	for i, id := range ids {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
		args = append(args, id)
	}

	query := fmt.Sprintf("SELECT id, lscore, depth FROM entries WHERE id IN (%s)", placeholders)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &errs.StorageError{Op: "ParentRecords", Err: err}
	}
	defer rows.Close()

	var out []ParentInfo
	for rows.Next() {
		var p ParentInfo
		if err := rows.Scan(&p.ID, &p.LScore, &p.Depth); err != nil {
			return nil, &errs.StorageError{Op: "ParentRecords.scan", Err: err}
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ParentEdgesOf returns the direct parents of id with the fields a
// lineage trace renders (content, importance, and already-stored
// scores), for internal/provenance's upward walk.
func (s *Store) ParentEdgesOf(ctx context.Context, id string) ([]ParentEdgeRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.content, e.importance, e.depth, e.lscore, e.confidence, e.relevance
		FROM provenance_edges pe JOIN entries e ON e.id = pe.parent_id
		WHERE pe.child_id = ?`, id)
	if err != nil {
		return nil, &errs.StorageError{Op: "ParentEdgesOf", Err: err}
	}
	defer rows.Close()

	var out []ParentEdgeRow
	for rows.Next() {
		var p ParentEdgeRow
		if err := rows.Scan(&p.ID, &p.Content, &p.Importance, &p.Depth, &p.LScore, &p.Confidence, &p.Relevance); err != nil {
			return nil, &errs.StorageError{Op: "ParentEdgesOf.scan", Err: err}
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// InsertComputed carries the provenance fields the caller (the engine,
// via internal/provenance) has already computed from ParentRecords, so
// Insert can persist everything in one transaction without re-deriving
// scores itself.
type InsertComputed struct {
	Depth      int
	Confidence float64
	Relevance  float64
	LScore     float64
}

// Insert writes the entry row, tag rows, and provenance edges in one
// transaction, returning the stored entry with its allocated label.
// Fails with UnknownParentError if any declared parent doesn't exist.
func (s *Store) Insert(ctx context.Context, p InsertParams, computed InsertComputed) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &errs.StorageError{Op: "Insert.begin", Err: err}
	}
	defer tx.Rollback()

	for _, parentID := range p.ParentIDs {
		var exists int
		if err := tx.QueryRowContext(ctx, "SELECT 1 FROM entries WHERE id = ?", parentID).Scan(&exists); err != nil {
			return nil, &errs.UnknownParentError{ParentID: parentID}
		}
	}

	var label uint64
	if err := tx.QueryRowContext(ctx, "SELECT next_label FROM label_allocator WHERE id = 1").Scan(&label); err != nil {
		return nil, &errs.StorageError{Op: "Insert.label", Err: err}
	}
	if _, err := tx.ExecContext(ctx, "UPDATE label_allocator SET next_label = ? WHERE id = 1", label+1); err != nil {
		return nil, &errs.StorageError{Op: "Insert.label.advance", Err: err}
	}

	ctxJSON, err := json.Marshal(p.Context)
	if err != nil {
		return nil, fmt.Errorf("entrystore: marshal context: %w", err)
	}

	createdAt := time.Now()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO entries (
			id, content, source, importance, created_at, session_id, agent_id,
			context, label, pending_embedding, tier, quality_score, quality_count,
			depth, confidence, relevance, lscore
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, 0, 0, ?, ?, ?, ?)`,
		p.ID, p.Content, string(p.Source), p.Importance, createdAt.UnixNano(), p.SessionID, p.AgentID,
		string(ctxJSON), label, string(TierHot),
		computed.Depth, computed.Confidence, computed.Relevance, computed.LScore,
	)
	if err != nil {
		return nil, &errs.StorageError{Op: "Insert.entry", Err: err}
	}

	for _, tag := range p.Tags {
		if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO tags (entry_id, tag) VALUES (?, ?)", p.ID, tag); err != nil {
			return nil, &errs.StorageError{Op: "Insert.tag", Err: err}
		}
	}

	for _, parentID := range p.ParentIDs {
		if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO provenance_edges (parent_id, child_id) VALUES (?, ?)", parentID, p.ID); err != nil {
			return nil, &errs.StorageError{Op: "Insert.provenance", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, &errs.StorageError{Op: "Insert.commit", Err: err}
	}

	return &Entry{
		ID: p.ID, Content: p.Content, Source: p.Source, Importance: p.Importance,
		CreatedAt: createdAt, SessionID: p.SessionID, AgentID: p.AgentID, Context: p.Context,
		Tags: p.Tags, Label: label, PendingEmbedding: true, Tier: TierHot,
		ParentIDs: p.ParentIDs, Depth: computed.Depth, Confidence: computed.Confidence,
		Relevance: computed.Relevance, LScore: computed.LScore,
	}, nil
}

// Exists reports whether id refers to a live entry, satisfying
// causal.EntryChecker for hyperedge endpoint validation.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM entries WHERE id = ?", id).Scan(&found)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, &errs.StorageError{Op: "Exists", Err: err}
	}
	return true, nil
}

// Get returns the entry with id, or nil if absent.
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocked(ctx, id)
}

func (s *Store) getLocked(ctx context.Context, id string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, content, source, importance, created_at, session_id, agent_id,
		       context, label, pending_embedding, tier, quality_score, quality_count,
		       depth, confidence, relevance, lscore
		FROM entries WHERE id = ?`, id)

	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &errs.StorageError{Op: "Get", Err: err}
	}

	tags, err := s.tagsForLocked(ctx, id)
	if err != nil {
		return nil, err
	}
	e.Tags = tags

	parents, err := s.parentsOfLocked(ctx, id)
	if err != nil {
		return nil, err
	}
	e.ParentIDs = parents

	return e, nil
}

func scanEntry(row *sql.Row) (*Entry, error) {
	var e Entry
	var source, tier, ctxJSON string
	var createdAtNano int64
	var pending int
	if err := row.Scan(
		&e.ID, &e.Content, &source, &e.Importance, &createdAtNano, &e.SessionID, &e.AgentID,
		&ctxJSON, &e.Label, &pending, &tier, &e.QualityScore, &e.QualityCount,
		&e.Depth, &e.Confidence, &e.Relevance, &e.LScore,
	); err != nil {
		return nil, err
	}
	e.Source = Source(source)
	e.Tier = Tier(tier)
	e.CreatedAt = time.Unix(0, createdAtNano)
	e.PendingEmbedding = pending != 0
	_ = json.Unmarshal([]byte(ctxJSON), &e.Context)
	return &e, nil
}

func (s *Store) tagsForLocked(ctx context.Context, id string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT tag FROM tags WHERE entry_id = ?", id)
	if err != nil {
		return nil, &errs.StorageError{Op: "tagsFor", Err: err}
	}
	defer rows.Close()
	var tags []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, &errs.StorageError{Op: "tagsFor.scan", Err: err}
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

func (s *Store) parentsOfLocked(ctx context.Context, id string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT parent_id FROM provenance_edges WHERE child_id = ?", id)
	if err != nil {
		return nil, &errs.StorageError{Op: "parentsOf", Err: err}
	}
	defer rows.Close()
	var parents []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, &errs.StorageError{Op: "parentsOf.scan", Err: err}
		}
		parents = append(parents, p)
	}
	return parents, rows.Err()
}

// ChildrenOf returns the direct children of id, used by cycle-safety
// checks and downward provenance walks.
func (s *Store) ChildrenOf(ctx context.Context, id string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, "SELECT child_id FROM provenance_edges WHERE parent_id = ?", id)
	if err != nil {
		return nil, &errs.StorageError{Op: "ChildrenOf", Err: err}
	}
	defer rows.Close()
	var children []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, &errs.StorageError{Op: "ChildrenOf.scan", Err: err}
		}
		children = append(children, c)
	}
	return children, rows.Err()
}

// Delete removes the entry and all dependent rows (tags, provenance
// edges where it is an endpoint) in one transaction. Idempotent.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &errs.StorageError{Op: "Delete.begin", Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM tags WHERE entry_id = ?", id); err != nil {
		return &errs.StorageError{Op: "Delete.tags", Err: err}
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM provenance_edges WHERE parent_id = ? OR child_id = ?", id, id); err != nil {
		return &errs.StorageError{Op: "Delete.provenance", Err: err}
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM entries WHERE id = ?", id); err != nil {
		return &errs.StorageError{Op: "Delete.entry", Err: err}
	}

	return tx.Commit()
}

// TierCandidate is a row eligible for a retention sweep: just enough
// to decide and apply a tier downgrade without loading full content.
type TierCandidate struct {
	ID        string
	Tier      Tier
	CreatedAt time.Time
}

// StaleEntries returns every entry still in tier whose created_at is
// older than olderThan, for RunRetentionSweep's tier-downgrade pass.
func (s *Store) StaleEntries(ctx context.Context, tier Tier, olderThan time.Time) ([]TierCandidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, tier, created_at FROM entries WHERE tier = ? AND created_at < ?",
		string(tier), olderThan.UnixNano())
	if err != nil {
		return nil, &errs.StorageError{Op: "StaleEntries", Err: err}
	}
	defer rows.Close()

	var out []TierCandidate
	for rows.Next() {
		var c TierCandidate
		var tierStr string
		var createdNano int64
		if err := rows.Scan(&c.ID, &tierStr, &createdNano); err != nil {
			return nil, &errs.StorageError{Op: "StaleEntries.scan", Err: err}
		}
		c.Tier = Tier(tierStr)
		c.CreatedAt = time.Unix(0, createdNano)
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateTier updates the compression tier only; content is never
// touched.
func (s *Store) UpdateTier(ctx context.Context, id string, tier Tier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, "UPDATE entries SET tier = ? WHERE id = ?", string(tier), id)
	if err != nil {
		return &errs.StorageError{Op: "UpdateTier", Err: err}
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return &errs.UnknownEntryError{ID: id}
	}
	return nil
}

// ClearPendingEmbedding marks an entry as embedded, called by the
// embedding queue after a successful flush.
func (s *Store) ClearPendingEmbedding(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, "UPDATE entries SET pending_embedding = 0 WHERE id = ?", id)
	if err != nil {
		return &errs.StorageError{Op: "ClearPendingEmbedding", Err: err}
	}
	return nil
}

// RecordFeedback folds reward into the entry's learning-quality score
// via an exponential moving average, grounded on the teacher's
// access-tracking idiom for learning candidates.
func (s *Store) RecordFeedback(ctx context.Context, id string, reward float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const emaWeight = 0.2
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &errs.StorageError{Op: "RecordFeedback.begin", Err: err}
	}
	defer tx.Rollback()

	var score float64
	var count int
	if err := tx.QueryRowContext(ctx, "SELECT quality_score, quality_count FROM entries WHERE id = ?", id).Scan(&score, &count); err != nil {
		if err == sql.ErrNoRows {
			return &errs.UnknownEntryError{ID: id}
		}
		return &errs.StorageError{Op: "RecordFeedback.read", Err: err}
	}

	newScore := score
	if count == 0 {
		newScore = reward
	} else {
		newScore = emaWeight*reward + (1-emaWeight)*score
	}

	if _, err := tx.ExecContext(ctx, "UPDATE entries SET quality_score = ?, quality_count = ? WHERE id = ?", newScore, count+1, id); err != nil {
		return &errs.StorageError{Op: "RecordFeedback.write", Err: err}
	}
	return tx.Commit()
}

// LogFailure appends a row to the failure/reflexion log.
func (s *Store) LogFailure(ctx context.Context, kind, entryID, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO failure_log (kind, entry_id, message, created_at) VALUES (?, ?, ?, ?)",
		kind, entryID, message, time.Now().UnixNano())
	if err != nil {
		return &errs.StorageError{Op: "LogFailure", Err: err}
	}
	return nil
}

// Stats reports row counts per table for MemoryEngine.stats().
func (s *Store) Stats(ctx context.Context) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[string]int64)
	for _, table := range []string{"entries", "tags", "provenance_edges", "failure_log"} {
		var count int64
		if err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count); err != nil {
			continue
		}
		stats[table] = count
	}
	return stats, nil
}
