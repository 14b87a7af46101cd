package causal

import "database/sql"

const relationsTable = `
CREATE TABLE IF NOT EXISTS causal_relations (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	strength REAL NOT NULL,
	created_at INTEGER NOT NULL,
	expires_at INTEGER,
	metadata TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_causal_expires ON causal_relations(expires_at);
`

const sourcesTable = `
CREATE TABLE IF NOT EXISTS causal_sources (
	relation_id TEXT NOT NULL,
	entry_id TEXT NOT NULL,
	PRIMARY KEY (relation_id, entry_id)
);
CREATE INDEX IF NOT EXISTS idx_causal_sources_entry ON causal_sources(entry_id);
`

const targetsTable = `
CREATE TABLE IF NOT EXISTS causal_targets (
	relation_id TEXT NOT NULL,
	entry_id TEXT NOT NULL,
	PRIMARY KEY (relation_id, entry_id)
);
CREATE INDEX IF NOT EXISTS idx_causal_targets_entry ON causal_targets(entry_id);
`

func createSchema(db *sql.DB) error {
	for _, stmt := range []string{relationsTable, sourcesTable, targetsTable} {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
