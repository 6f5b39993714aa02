// Package manifest persists the history of adopted metadata snapshots in a
// SQLite catalog (manifest.db) and archives them to object storage.
package manifest

// CreateSnapshotsTableSQL creates the table of adopted snapshots. Each row is
// the full JSON encoding of one metadata version.
const CreateSnapshotsTableSQL = `
CREATE TABLE IF NOT EXISTS metadata_snapshots (
    version INTEGER PRIMARY KEY,
    snapshot_json TEXT NOT NULL,
    record_types INTEGER NOT NULL,
    indexes INTEGER NOT NULL,
    created_at INTEGER NOT NULL
)`

// CreateFormerIndexesTableSQL creates the tombstone table. Rows are inserted
// when a snapshot first carries a former index and are never updated or
// deleted, so an index name stays retired across every later version.
const CreateFormerIndexesTableSQL = `
CREATE TABLE IF NOT EXISTS former_indexes (
    name TEXT PRIMARY KEY,
    added_version INTEGER NOT NULL,
    removed_version INTEGER NOT NULL,
    former_name TEXT,
    recorded_at INTEGER NOT NULL
)`

// CreateCatalogIndexesSQL creates secondary indexes on the catalog tables.
var CreateCatalogIndexesSQL = []string{
	`CREATE INDEX IF NOT EXISTS idx_snapshots_created ON metadata_snapshots(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_former_removed ON former_indexes(removed_version)`,
}

// AllSchemaSQL returns every schema statement in execution order.
func AllSchemaSQL() []string {
	stmts := []string{
		CreateSnapshotsTableSQL,
		CreateFormerIndexesTableSQL,
	}
	return append(stmts, CreateCatalogIndexesSQL...)
}
