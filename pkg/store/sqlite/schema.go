package sqlite

func allPragmas() []string {
	return []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
}

func allSchemaStatements() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS entities (
			category TEXT NOT NULL,
			id TEXT NOT NULL,
			label TEXT NOT NULL,
			first_seen TEXT NOT NULL,
			last_seen TEXT NOT NULL,
			entity_types TEXT NOT NULL DEFAULT '[]',
			metadata TEXT NOT NULL DEFAULT '{}',
			PRIMARY KEY (category, id)
		)`,
		`CREATE TABLE IF NOT EXISTS documents (
			path TEXT PRIMARY KEY,
			label TEXT NOT NULL,
			content TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS relationships (
			bucket TEXT NOT NULL,
			source_category TEXT NOT NULL,
			source_id TEXT NOT NULL,
			target_category TEXT NOT NULL,
			target_id TEXT NOT NULL,
			relationship TEXT NOT NULL,
			first_seen TEXT NOT NULL,
			last_seen TEXT NOT NULL,
			source_document TEXT NOT NULL,
			PRIMARY KEY (bucket, source_id, target_id),
			FOREIGN KEY (source_category, source_id) REFERENCES entities(category, id),
			FOREIGN KEY (target_category, target_id) REFERENCES entities(category, id)
		)`,
		`CREATE TABLE IF NOT EXISTS entity_references (
			category TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			document_path TEXT NOT NULL REFERENCES documents(path),
			PRIMARY KEY (category, entity_id, document_path),
			FOREIGN KEY (category, entity_id) REFERENCES entities(category, id)
		)`,
		`CREATE TABLE IF NOT EXISTS document_links (
			source_path TEXT NOT NULL REFERENCES documents(path),
			target_path TEXT NOT NULL REFERENCES documents(path),
			PRIMARY KEY (source_path, target_path)
		)`,
		`CREATE TABLE IF NOT EXISTS entity_notes (
			category TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			document_path TEXT NOT NULL REFERENCES documents(path),
			PRIMARY KEY (category, entity_id, document_path),
			FOREIGN KEY (category, entity_id) REFERENCES entities(category, id)
		)`,
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_relationships_source ON relationships(source_id)`,
		`CREATE INDEX IF NOT EXISTS idx_relationships_target ON relationships(target_id)`,
		`CREATE INDEX IF NOT EXISTS idx_references_entity ON entity_references(entity_id)`,
	}
}

// entityColumns are columns added to entities after the first release.
// Graphs built before them get the columns on open.
var entityColumns = []struct {
	name string
	def  string
}{
	{"entity_types", "TEXT NOT NULL DEFAULT '[]'"},
	{"metadata", "TEXT NOT NULL DEFAULT '{}'"},
}
