package entrystore

import (
	"database/sql"
	"fmt"
)

const entriesTable = `
CREATE TABLE IF NOT EXISTS entries (
	id TEXT PRIMARY KEY,
	content TEXT NOT NULL,
	source TEXT NOT NULL,
	importance REAL NOT NULL,
	created_at INTEGER NOT NULL,
	session_id TEXT NOT NULL DEFAULT '',
	agent_id TEXT NOT NULL DEFAULT '',
	context TEXT NOT NULL DEFAULT '{}',
	label INTEGER NOT NULL UNIQUE,
	pending_embedding INTEGER NOT NULL DEFAULT 1,
	tier TEXT NOT NULL DEFAULT 'hot',
	quality_score REAL NOT NULL DEFAULT 0,
	quality_count INTEGER NOT NULL DEFAULT 0,
	depth INTEGER NOT NULL DEFAULT 0,
	confidence REAL NOT NULL DEFAULT 1,
	relevance REAL NOT NULL DEFAULT 1,
	lscore REAL NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_entries_source ON entries(source);
CREATE INDEX IF NOT EXISTS idx_entries_session ON entries(session_id);
CREATE INDEX IF NOT EXISTS idx_entries_agent ON entries(agent_id);
CREATE INDEX IF NOT EXISTS idx_entries_created ON entries(created_at);
CREATE INDEX IF NOT EXISTS idx_entries_tier ON entries(tier);
`

const tagsTable = `
CREATE TABLE IF NOT EXISTS tags (
	entry_id TEXT NOT NULL,
	tag TEXT NOT NULL,
	PRIMARY KEY (entry_id, tag)
);
CREATE INDEX IF NOT EXISTS idx_tags_tag ON tags(tag);
`

const provenanceEdgesTable = `
CREATE TABLE IF NOT EXISTS provenance_edges (
	parent_id TEXT NOT NULL,
	child_id TEXT NOT NULL,
	PRIMARY KEY (parent_id, child_id)
);
CREATE INDEX IF NOT EXISTS idx_prov_child ON provenance_edges(child_id);
CREATE INDEX IF NOT EXISTS idx_prov_parent ON provenance_edges(parent_id);
`

const labelAllocatorTable = `
CREATE TABLE IF NOT EXISTS label_allocator (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	next_label INTEGER NOT NULL
);
`

const failureLogTable = `
CREATE TABLE IF NOT EXISTS failure_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	kind TEXT NOT NULL,
	entry_id TEXT NOT NULL DEFAULT '',
	message TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_failure_kind ON failure_log(kind);
`

// pendingMigration mirrors the teacher's additive-column migration
// shape: only applied when the table already exists but lacks the
// column, so older data directories upgrade in place.
type pendingMigration struct {
	Table  string
	Column string
	Def    string
}

var pendingMigrations = []pendingMigration{
	// placeholder for forward-compatible additive columns; none yet.
}

func createSchema(db *sql.DB) error {
	for _, stmt := range []string{
		entriesTable,
		tagsTable,
		provenanceEdgesTable,
		labelAllocatorTable,
		failureLogTable,
	} {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("entrystore: create schema: %w", err)
		}
	}

	if _, err := db.Exec(
		"INSERT INTO label_allocator (id, next_label) VALUES (1, 0) ON CONFLICT(id) DO NOTHING",
	); err != nil {
		// modernc.org/sqlite and mattn/go-sqlite3 both support ON CONFLICT
		// (SQLite >= 3.24); if this ever fails, fall back to INSERT OR IGNORE.
		if _, err2 := db.Exec("INSERT OR IGNORE INTO label_allocator (id, next_label) VALUES (1, 0)"); err2 != nil {
			return fmt.Errorf("entrystore: seed label allocator: %w", err)
		}
	}

	return runMigrations(db)
}

func runMigrations(db *sql.DB) error {
	for _, m := range pendingMigrations {
		if !tableExists(db, m.Table) {
			continue
		}
		if columnExists(db, m.Table, m.Column) {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("entrystore: migration %s.%s: %w", m.Table, m.Column, err)
		}
	}
	return nil
}

func tableExists(db *sql.DB, table string) bool {
	var name string
	err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
	return err == nil
}

func columnExists(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notNull int
		var dflt sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return false
		}
		if name == column {
			return true
		}
	}
	return false
}
