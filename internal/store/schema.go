package store

import (
	"fmt"

	"memstore/internal/backend"
	"memstore/internal/logging"
)

// Schema versions:
// v1: memory_entries keyed by (namespace, key) with TTL column
// v2: metric_samples append-only table
// v3: access tracking columns on memory_entries
const CurrentSchemaVersion = 3

// entriesTable holds the memory records. Timestamps are Unix
// milliseconds; expires_at NULL means the entry never expires.
const entriesTable = `
CREATE TABLE IF NOT EXISTS memory_entries (
	namespace TEXT NOT NULL,
	key TEXT NOT NULL,
	value TEXT NOT NULL,
	metadata TEXT,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	expires_at INTEGER,
	access_count INTEGER NOT NULL DEFAULT 0,
	last_accessed INTEGER,
	PRIMARY KEY (namespace, key)
);
CREATE INDEX IF NOT EXISTS idx_entries_namespace ON memory_entries(namespace);
CREATE INDEX IF NOT EXISTS idx_entries_key ON memory_entries(key);
CREATE INDEX IF NOT EXISTS idx_entries_expires ON memory_entries(expires_at);
`

// metricsTable is append-only; samples are never mutated or expired.
const metricsTable = `
CREATE TABLE IF NOT EXISTS metric_samples (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	value REAL NOT NULL,
	unit TEXT,
	tags TEXT,
	recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_metrics_name ON metric_samples(name);
CREATE INDEX IF NOT EXISTS idx_metrics_recorded ON metric_samples(recorded_at);
`

// columnMigration adds a column to databases created before it existed.
type columnMigration struct {
	Table  string
	Column string
	Def    string
}

// pendingMigrations covers pre-v3 databases that lack the access
// tracking columns.
var pendingMigrations = []columnMigration{
	{"memory_entries", "access_count", "INTEGER NOT NULL DEFAULT 0"},
	{"memory_entries", "last_accessed", "INTEGER"},
	{"metric_samples", "unit", "TEXT"},
}

// ensureSchema creates the required tables on the active backend and
// applies additive column migrations for databases written by older
// versions. Identical DDL runs on all three backends.
func ensureSchema(db backend.Adapter) error {
	timer := logging.StartTimer(logging.CategorySchema, "ensureSchema")
	defer timer.Stop()

	for _, ddl := range []string{entriesTable, metricsTable} {
		if err := db.Exec(ddl); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	applied := 0
	for _, m := range pendingMigrations {
		if columnExists(db, m.Table, m.Column) {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)
		if err := db.Exec(stmt); err != nil {
			// Concurrent creation or an equivalent column shape; not fatal.
			logging.Get(logging.CategorySchema).Warn("migration failed (may already exist): %s.%s: %v", m.Table, m.Column, err)
			continue
		}
		logging.Schema("migration applied: added %s.%s", m.Table, m.Column)
		applied++
	}

	logging.SchemaDebug("schema ensured on %s backend (migrations applied: %d)", db.ID(), applied)
	return nil
}

// columnExists checks for a column using PRAGMA table_info.
func columnExists(db backend.Adapter, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		logging.SchemaDebug("PRAGMA table_info(%s) failed: %v", table, err)
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt any
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}
