package repo

import "database/sql"

// SchemaVersion is the required relational schema version, the way
// pkg/sorted/sqlite tracks requiredSchemaVersion in its meta table.
const SchemaVersion = 1

// createTableStatements returns the essential tables from spec.md §3,
// in dependency order.
func createTableStatements() []string {
	return []string{
		`CREATE TABLE meta (
 metakey VARCHAR(255) NOT NULL PRIMARY KEY,
 value VARCHAR(255) NOT NULL)`,

		`CREATE TABLE files (
 file_id INTEGER PRIMARY KEY,
 internal_hash VARCHAR(255) NOT NULL,
 file_type VARCHAR(255) NOT NULL,
 file_size INTEGER NOT NULL)`,
		`CREATE UNIQUE INDEX files_hash_type ON files (internal_hash, file_type)`,

		`CREATE TABLE uris (
 uri_id INTEGER PRIMARY KEY,
 uri VARCHAR(1024) NOT NULL)`,
		`CREATE UNIQUE INDEX uris_uri ON uris (uri)`,

		`CREATE TABLE file_uris (
 file_id INTEGER NOT NULL,
 uri_id INTEGER NOT NULL)`,
		`CREATE UNIQUE INDEX file_uris_pair ON file_uris (file_id, uri_id)`,

		`CREATE TABLE file_permissions (
 file_id INTEGER NOT NULL,
 user_id INTEGER NOT NULL,
 meta_file_id INTEGER NOT NULL)`,
		`CREATE UNIQUE INDEX file_permissions_pair ON file_permissions (file_id, user_id)`,

		`CREATE TABLE links (
 source_uri_id INTEGER NOT NULL,
 target_uri_id INTEGER NOT NULL,
 meta_file_id INTEGER NOT NULL)`,
		`CREATE UNIQUE INDEX links_triple ON links (source_uri_id, target_uri_id, meta_file_id)`,
	}
}

// initSchema creates a brand-new relational store at path and stamps it
// with SchemaVersion, mirroring pkg/sorted/sqlite's initDB.
func initSchema(path string) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return err
	}
	for _, stmt := range createTableStatements() {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	_, err = db.Exec(`INSERT INTO meta (metakey, value) VALUES ('version', ?)`, SchemaVersion)
	return err
}
