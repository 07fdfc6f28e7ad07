// Package catalog provides the SQLite catalog of dataset records.
package catalog

// Schema contains the SQL schema definitions for the dataset catalog
// (datashed.db). The catalog is the source of truth for dataset metadata,
// tags, and lifecycle state; the chunk files themselves live in the data
// tree next to it.

// Dataset status values.
const (
	StatusWriting   = "writing"
	StatusCompleted = "completed"
	StatusAborted   = "aborted"
)

// CreateDatasetsTableSQL creates the core datasets table. The write_lease
// column holds the single-use lease while a dataset is being written and is
// cleared on completion or abort.
const CreateDatasetsTableSQL = `
CREATE TABLE IF NOT EXISTS datasets (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    uid TEXT NOT NULL UNIQUE,
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    path TEXT NOT NULL,
    favorite INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'writing',
    write_lease TEXT,
    row_count INTEGER NOT NULL DEFAULT 0,
    chunk_count INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    completed_at INTEGER
)`

// CreateTagsTableSQL creates the tag name table.
const CreateTagsTableSQL = `
CREATE TABLE IF NOT EXISTS tags (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE
)`

// CreateDatasetTagsTableSQL creates the dataset/tag join table.
const CreateDatasetTagsTableSQL = `
CREATE TABLE IF NOT EXISTS dataset_tags (
    dataset_id INTEGER NOT NULL,
    tag_id INTEGER NOT NULL,
    PRIMARY KEY (dataset_id, tag_id),
    FOREIGN KEY (dataset_id) REFERENCES datasets(id),
    FOREIGN KEY (tag_id) REFERENCES tags(id)
)`

// CreateDatasetsIndexesSQL creates indexes for the common listing patterns.
var CreateDatasetsIndexesSQL = []string{
	// Index for status filters and the writing-dataset sweep
	`CREATE INDEX IF NOT EXISTS idx_datasets_status ON datasets(status)`,

	// Index for name-substring listings
	`CREATE INDEX IF NOT EXISTS idx_datasets_name ON datasets(name)`,

	// Index for time-ordered listings
	`CREATE INDEX IF NOT EXISTS idx_datasets_created ON datasets(created_at)`,

	// Index for tag-filtered listings
	`CREATE INDEX IF NOT EXISTS idx_dataset_tags_tag ON dataset_tags(tag_id)`,
}

// AnalyzeSQL runs ANALYZE to keep the SQLite query planner informed about index statistics.
const AnalyzeSQL = `ANALYZE`

// AllSchemaSQL returns all SQL statements needed to initialize the catalog.
func AllSchemaSQL() []string {
	statements := []string{
		CreateDatasetsTableSQL,
		CreateTagsTableSQL,
		CreateDatasetTagsTableSQL,
	}
	statements = append(statements, CreateDatasetsIndexesSQL...)
	return statements
}
