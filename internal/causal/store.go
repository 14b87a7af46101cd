package causal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"memoria/internal/errs"
	"memoria/internal/obslog"
)

// EntryChecker validates that an endpoint ID refers to a live entry,
// without causal needing to import the entry store directly.
type EntryChecker interface {
	Exists(ctx context.Context, id string) (bool, error)
}

// Store is the durable hyperedge store, sharing its connection with
// the entry store's *sql.DB (one writer per data directory).
type Store struct {
	db  *sql.DB
	mu  sync.RWMutex
	log *obslog.Logger
}

// Open prepares the causal_relations/causal_sources/causal_targets
// tables against an already-opened database handle.
func Open(db *sql.DB, logger *obslog.Logger) (*Store, error) {
	if err := createSchema(db); err != nil {
		return nil, &errs.StorageError{Op: "causal.createSchema", Err: err}
	}
	return &Store{db: db, log: logger}, nil
}

// Link creates a hyperedge. Every endpoint must already exist; the
// caller supplies the checker (normally the entry store).
func Link(ctx context.Context, s *Store, checker EntryChecker, p LinkParams) (*Relation, error) {
	timer := obslog.StartTimer(s.log, "causal.Link")
	defer timer.Stop()

	if len(p.Sources) == 0 || len(p.Targets) == 0 {
		return nil, fmt.Errorf("causal: link requires at least one source and one target")
	}
	if p.Strength < 0 || p.Strength > 1 {
		return nil, fmt.Errorf("causal: strength %f out of [0,1]", p.Strength)
	}
	if !validRelationType(p.Type) {
		return nil, fmt.Errorf("causal: unknown relation type %q", p.Type)
	}

	for _, id := range append(append([]string{}, p.Sources...), p.Targets...) {
		ok, err := checker.Exists(ctx, id)
		if err != nil {
			return nil, &errs.StorageError{Op: "causal.Link.checkExists", Err: err}
		}
		if !ok {
			return nil, &errs.UnknownEntryError{ID: id}
		}
	}

	now := time.Now()
	rel := &Relation{
		ID: uuid.NewString(), Sources: p.Sources, Targets: p.Targets,
		Type: p.Type, Strength: p.Strength, CreatedAt: now, Metadata: p.Metadata,
	}
	if p.TTL > 0 {
		expiry := now.Add(p.TTL)
		rel.ExpiresAt = &expiry
	}

	metaJSON, err := json.Marshal(p.Metadata)
	if err != nil {
		return nil, fmt.Errorf("causal: marshal metadata: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &errs.StorageError{Op: "causal.Link.begin", Err: err}
	}
	defer tx.Rollback()

	var expiresAt any
	if rel.ExpiresAt != nil {
		expiresAt = rel.ExpiresAt.UnixNano()
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO causal_relations (id, type, strength, created_at, expires_at, metadata) VALUES (?,?,?,?,?,?)",
		rel.ID, string(rel.Type), rel.Strength, rel.CreatedAt.UnixNano(), expiresAt, string(metaJSON),
	); err != nil {
		return nil, &errs.StorageError{Op: "causal.Link.insertRelation", Err: err}
	}
	for _, src := range p.Sources {
		if _, err := tx.ExecContext(ctx, "INSERT INTO causal_sources (relation_id, entry_id) VALUES (?,?)", rel.ID, src); err != nil {
			return nil, &errs.StorageError{Op: "causal.Link.insertSource", Err: err}
		}
	}
	for _, tgt := range p.Targets {
		if _, err := tx.ExecContext(ctx, "INSERT INTO causal_targets (relation_id, entry_id) VALUES (?,?)", rel.ID, tgt); err != nil {
			return nil, &errs.StorageError{Op: "causal.Link.insertTarget", Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, &errs.StorageError{Op: "causal.Link.commit", Err: err}
	}

	return rel, nil
}

// relationsFromLocked returns the live hyperedges whose source set
// contains entryID (direction=forward) or target set contains entryID
// (direction=backward). Callers that already hold s.mu MUST call this
// instead of a public method that re-acquires the lock.
func (s *Store) relationsFromLocked(ctx context.Context, entryID string, forward bool) ([]Relation, error) {
	table := "causal_sources"
	other := "causal_targets"
	if !forward {
		table, other = other, table
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT r.id, r.type, r.strength, r.created_at, r.expires_at, r.metadata
		FROM causal_relations r JOIN %s e ON e.relation_id = r.id
		WHERE e.entry_id = ?`, table), entryID)
	if err != nil {
		return nil, &errs.StorageError{Op: "causal.relationsFrom", Err: err}
	}
	defer rows.Close()

	now := time.Now()
	var out []Relation
	for rows.Next() {
		rel, err := scanRelation(rows)
		if err != nil {
			return nil, err
		}
		if !rel.live(now) {
			continue
		}
		rel.Sources, err = s.endpointsLocked(ctx, rel.ID, "causal_sources")
		if err != nil {
			return nil, err
		}
		rel.Targets, err = s.endpointsLocked(ctx, rel.ID, other)
		if err != nil {
			return nil, err
		}
		out = append(out, rel)
	}
	return out, rows.Err()
}

func (s *Store) endpointsLocked(ctx context.Context, relationID, table string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT entry_id FROM %s WHERE relation_id = ?", table), relationID)
	if err != nil {
		return nil, &errs.StorageError{Op: "causal.endpoints", Err: err}
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, &errs.StorageError{Op: "causal.endpoints.scan", Err: err}
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanRelation(rows *sql.Rows) (Relation, error) {
	var rel Relation
	var typ, metaJSON string
	var createdAtNano int64
	var expiresAtNano sql.NullInt64
	if err := rows.Scan(&rel.ID, &typ, &rel.Strength, &createdAtNano, &expiresAtNano, &metaJSON); err != nil {
		return Relation{}, &errs.StorageError{Op: "causal.scanRelation", Err: err}
	}
	rel.Type = RelationType(typ)
	rel.CreatedAt = time.Unix(0, createdAtNano)
	if expiresAtNano.Valid {
		t := time.Unix(0, expiresAtNano.Int64)
		rel.ExpiresAt = &t
	}
	if metaJSON != "" {
		_ = json.Unmarshal([]byte(metaJSON), &rel.Metadata)
	}
	return rel, nil
}

// CleanupExpired deletes hyperedges whose TTL has passed and returns
// the count swept. Safe to call concurrently with reads: live reads
// already filter on expiry, so a relation disappearing mid-read simply
// stops being returned, it never half-returns.
func (s *Store) CleanupExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixNano()
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM causal_relations WHERE expires_at IS NOT NULL AND expires_at <= ?", now)
	if err != nil {
		return 0, &errs.StorageError{Op: "causal.CleanupExpired.select", Err: err}
	}
	var expired []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, &errs.StorageError{Op: "causal.CleanupExpired.scan", Err: err}
		}
		expired = append(expired, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, &errs.StorageError{Op: "causal.CleanupExpired.rows", Err: err}
	}

	for _, id := range expired {
		if err := s.deleteRelationLocked(ctx, id); err != nil {
			return 0, err
		}
	}
	return len(expired), nil
}

func (s *Store) deleteRelationLocked(ctx context.Context, relationID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &errs.StorageError{Op: "causal.deleteRelation.begin", Err: err}
	}
	defer tx.Rollback()
	for _, stmt := range []string{
		"DELETE FROM causal_sources WHERE relation_id = ?",
		"DELETE FROM causal_targets WHERE relation_id = ?",
		"DELETE FROM causal_relations WHERE id = ?",
	} {
		if _, err := tx.ExecContext(ctx, stmt, relationID); err != nil {
			return &errs.StorageError{Op: "causal.deleteRelation.exec", Err: err}
		}
	}
	return tx.Commit()
}

// RemoveEntry scrubs every hyperedge endpoint referencing id, cascading
// from entry deletion (spec §3 Lifecycles: deletion cascades to causal
// relation endpoint sets).
func (s *Store) RemoveEntry(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &errs.StorageError{Op: "causal.RemoveEntry.begin", Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM causal_sources WHERE entry_id = ?", id); err != nil {
		return &errs.StorageError{Op: "causal.RemoveEntry.sources", Err: err}
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM causal_targets WHERE entry_id = ?", id); err != nil {
		return &errs.StorageError{Op: "causal.RemoveEntry.targets", Err: err}
	}
	// A relation left with no sources or no targets is inert; drop it.
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM causal_relations WHERE id IN (
			SELECT r.id FROM causal_relations r
			WHERE NOT EXISTS (SELECT 1 FROM causal_sources cs WHERE cs.relation_id = r.id)
			   OR NOT EXISTS (SELECT 1 FROM causal_targets ct WHERE ct.relation_id = r.id)
		)`); err != nil {
		return &errs.StorageError{Op: "causal.RemoveEntry.prune", Err: err}
	}
	return tx.Commit()
}
