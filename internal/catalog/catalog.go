package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	dserrors "github.com/datashed/datashed/internal/errors"
)

// Record represents a dataset row in the catalog.
type Record struct {
	ID          int64
	UID         string
	Name        string
	Description string
	Path        string
	Favorite    bool
	Status      string
	Tags        []string
	RowCount    int64
	ChunkCount  int64
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// Draft holds the caller-supplied fields of a new dataset.
type Draft struct {
	Name        string
	Description string
	Favorite    bool
	Tags        []string
}

// Patch holds partial updates to a dataset record. Nil fields are left
// unchanged.
type Patch struct {
	Name        *string
	Description *string
	Favorite    *bool
}

// Catalog is the SQLite-backed dataset catalog.
type Catalog struct {
	db     *sql.DB // Write connection (single writer)
	readDB *sql.DB // Read connection pool (concurrent readers)
	dbPath string
	mu     sync.Mutex // Write-only lock (reads don't need this)

	// Prepared statement cache (for read connection)
	insertDatasetStmt *sql.Stmt
	listStmtCache     map[string]*sql.Stmt
	listStmtMu        sync.RWMutex
}

// NewCatalog opens (creating if necessary) the catalog database at dbPath.
func NewCatalog(dbPath string) (*Catalog, error) {
	// Write connection: single writer with WAL mode
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // Single writer
	db.SetMaxIdleConns(1)

	// Read connection pool: concurrent readers via read-only mode
	readDB, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&mode=ro")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: failed to open read database: %w", err)
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(4)
	readDB.SetConnMaxLifetime(5 * time.Minute)

	c := &Catalog{
		db:            db,
		readDB:        readDB,
		dbPath:        dbPath,
		listStmtCache: make(map[string]*sql.Stmt),
	}

	// Initialize schema (uses write connection). This also creates the
	// database file, which must exist before the read-only pool connects.
	if err := c.initSchema(); err != nil {
		readDB.Close()
		db.Close()
		return nil, fmt.Errorf("catalog: failed to initialize schema: %w", err)
	}

	// Enable read_uncommitted on read connections for snapshot reads without blocking
	if _, err := readDB.Exec("PRAGMA read_uncommitted = true"); err != nil {
		readDB.Close()
		db.Close()
		return nil, fmt.Errorf("catalog: failed to set read_uncommitted pragma: %w", err)
	}

	// Prepare cached insert statement on write connection
	insertStmt, err := db.Prepare(`
		INSERT INTO datasets (
			uid, name, description, path, favorite,
			status, write_lease, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		readDB.Close()
		db.Close()
		return nil, fmt.Errorf("catalog: failed to prepare insert statement: %w", err)
	}
	c.insertDatasetStmt = insertStmt

	return c, nil
}

// initSchema creates all required tables and indexes.
func (c *Catalog) initSchema() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, stmt := range AllSchemaSQL() {
		if _, err := c.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// Create inserts a new dataset in the writing state with a fresh single-use
// write lease, plus any draft tags, in one transaction. It returns the
// record and the lease.
func (c *Catalog) Create(ctx context.Context, uid, path string, draft Draft) (*Record, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	lease := uuid.NewString()
	now := time.Now().UTC()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, "", fmt.Errorf("catalog: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.StmtContext(ctx, c.insertDatasetStmt).ExecContext(ctx,
		uid, draft.Name, draft.Description, path, draft.Favorite,
		StatusWriting, lease, now.Unix(),
	)
	if err != nil {
		if isConstraintErr(err) {
			return nil, "", dserrors.NewAlreadyExists(dserrors.CodeDatasetExists,
				fmt.Sprintf("catalog: dataset %s already exists", uid))
		}
		return nil, "", fmt.Errorf("catalog: failed to insert dataset: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, "", fmt.Errorf("catalog: failed to read dataset id: %w", err)
	}

	for _, tag := range draft.Tags {
		if err := linkTagTx(ctx, tx, id, tag); err != nil {
			return nil, "", err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, "", fmt.Errorf("catalog: failed to commit transaction: %w", err)
	}

	c.logDatasetCountThreshold(ctx)

	record := &Record{
		ID:          id,
		UID:         uid,
		Name:        draft.Name,
		Description: draft.Description,
		Path:        path,
		Favorite:    draft.Favorite,
		Status:      StatusWriting,
		Tags:        append([]string(nil), draft.Tags...),
		CreatedAt:   now,
	}
	return record, lease, nil
}

// Complete transitions a writing dataset to completed, consuming its lease
// and recording the final row and chunk counts.
func (c *Catalog) Complete(ctx context.Context, uid, lease string, rows, chunks int64) (*Record, error) {
	if err := c.consumeLease(ctx, uid, lease, StatusCompleted, rows, chunks); err != nil {
		return nil, err
	}
	return c.Get(ctx, uid)
}

// Abort transitions a writing dataset to aborted, consuming its lease.
func (c *Catalog) Abort(ctx context.Context, uid, lease string) (*Record, error) {
	if err := c.consumeLease(ctx, uid, lease, StatusAborted, 0, 0); err != nil {
		return nil, err
	}
	return c.Get(ctx, uid)
}

// consumeLease performs the guarded lifecycle transition: only the holder
// of the live lease of a still-writing dataset can move it, and only once.
func (c *Catalog) consumeLease(ctx context.Context, uid, lease, newStatus string, rows, chunks int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var completedAt interface{}
	if newStatus == StatusCompleted {
		completedAt = time.Now().UTC().Unix()
	}

	res, err := c.db.ExecContext(ctx,
		`UPDATE datasets
		 SET status = ?, write_lease = NULL, row_count = ?, chunk_count = ?, completed_at = ?
		 WHERE uid = ? AND write_lease = ? AND status = ?`,
		newStatus, rows, chunks, completedAt, uid, lease, StatusWriting,
	)
	if err != nil {
		return fmt.Errorf("catalog: failed to update dataset %s: %w", uid, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("catalog: failed to read rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	// The guard did not match; report why.
	var status string
	err = c.db.QueryRowContext(ctx, "SELECT status FROM datasets WHERE uid = ?", uid).Scan(&status)
	if err == sql.ErrNoRows {
		return dserrors.NewDatasetNotFound(uid)
	}
	if err != nil {
		return fmt.Errorf("catalog: failed to check dataset %s: %w", uid, err)
	}
	if status != StatusWriting {
		return dserrors.New(dserrors.KindInvalidLease, dserrors.CodeLeaseConsumed,
			fmt.Sprintf("catalog: dataset %s is already %s", uid, status))
	}
	return dserrors.NewInvalidLease(fmt.Sprintf("catalog: lease does not match dataset %s", uid))
}

// Update applies a partial update to a dataset record and returns the
// updated record.
func (c *Catalog) Update(ctx context.Context, uid string, patch Patch) (*Record, error) {
	if err := c.updateLocked(ctx, uid, patch); err != nil {
		return nil, err
	}
	return c.Get(ctx, uid)
}

func (c *Catalog) updateLocked(ctx context.Context, uid string, patch Patch) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sets := make([]string, 0, 3)
	args := make([]interface{}, 0, 4)
	if patch.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *patch.Name)
	}
	if patch.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *patch.Description)
	}
	if patch.Favorite != nil {
		sets = append(sets, "favorite = ?")
		args = append(args, *patch.Favorite)
	}
	if len(sets) == 0 {
		// Nothing to change; still verify the dataset exists.
		_, err := c.datasetID(ctx, uid)
		return err
	}

	query := "UPDATE datasets SET " + joinSets(sets) + " WHERE uid = ?"
	args = append(args, uid)
	res, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("catalog: failed to update dataset %s: %w", uid, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("catalog: failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return dserrors.NewDatasetNotFound(uid)
	}
	return nil
}

// AddTags attaches tags to a dataset, creating tag names as needed.
// Already-attached tags are ignored.
func (c *Catalog) AddTags(ctx context.Context, uid string, tags []string) (*Record, error) {
	if err := c.addTagsLocked(ctx, uid, tags); err != nil {
		return nil, err
	}
	return c.Get(ctx, uid)
}

func (c *Catalog) addTagsLocked(ctx context.Context, uid string, tags []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	id, err := c.datasetID(ctx, uid)
	if err != nil {
		return err
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("catalog: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, tag := range tags {
		if err := linkTagTx(ctx, tx, id, tag); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("catalog: failed to commit transaction: %w", err)
	}
	return nil
}

// RemoveTags detaches tags from a dataset. Unknown or unattached tags are
// ignored; tag names themselves are kept for reuse.
func (c *Catalog) RemoveTags(ctx context.Context, uid string, tags []string) (*Record, error) {
	if err := c.removeTagsLocked(ctx, uid, tags); err != nil {
		return nil, err
	}
	return c.Get(ctx, uid)
}

func (c *Catalog) removeTagsLocked(ctx context.Context, uid string, tags []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	id, err := c.datasetID(ctx, uid)
	if err != nil {
		return err
	}

	for _, tag := range tags {
		_, err := c.db.ExecContext(ctx,
			`DELETE FROM dataset_tags
			 WHERE dataset_id = ? AND tag_id IN (SELECT id FROM tags WHERE name = ?)`,
			id, tag,
		)
		if err != nil {
			return fmt.Errorf("catalog: failed to remove tag %s: %w", tag, err)
		}
	}
	return nil
}

// SweepWriting marks every dataset still in the writing state as aborted
// and clears its lease. Called on workspace open: leases are process-scoped,
// so a writing dataset from a previous process can never complete.
func (c *Catalog) SweepWriting(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.db.ExecContext(ctx,
		"UPDATE datasets SET status = ?, write_lease = NULL WHERE status = ?",
		StatusAborted, StatusWriting,
	)
	if err != nil {
		return 0, fmt.Errorf("catalog: failed to sweep writing datasets: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("catalog: failed to read rows affected: %w", err)
	}
	return affected, nil
}

// RunAnalyze runs ANALYZE to update SQLite query planner statistics.
func (c *Catalog) RunAnalyze(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, AnalyzeSQL)
	if err != nil {
		return fmt.Errorf("catalog: failed to run ANALYZE: %w", err)
	}
	return nil
}

// Close closes the catalog database connections.
func (c *Catalog) Close() error {
	// Close cached prepared statements (on write connection)
	if c.insertDatasetStmt != nil {
		c.insertDatasetStmt.Close()
	}
	// Close cached list statements (on read connection)
	c.listStmtMu.Lock()
	for _, stmt := range c.listStmtCache {
		stmt.Close()
	}
	c.listStmtCache = nil
	c.listStmtMu.Unlock()

	// Close read connection first, then write connection
	if err := c.readDB.Close(); err != nil {
		c.db.Close()
		return err
	}
	return c.db.Close()
}

// datasetID resolves a uid to its rowid on the write connection.
func (c *Catalog) datasetID(ctx context.Context, uid string) (int64, error) {
	var id int64
	err := c.db.QueryRowContext(ctx, "SELECT id FROM datasets WHERE uid = ?", uid).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, dserrors.NewDatasetNotFound(uid)
	}
	if err != nil {
		return 0, fmt.Errorf("catalog: failed to resolve dataset %s: %w", uid, err)
	}
	return id, nil
}

// linkTagTx ensures the tag name exists and attaches it to the dataset.
func linkTagTx(ctx context.Context, tx *sql.Tx, datasetID int64, tag string) error {
	if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO tags (name) VALUES (?)", tag); err != nil {
		return fmt.Errorf("catalog: failed to insert tag %s: %w", tag, err)
	}
	var tagID int64
	if err := tx.QueryRowContext(ctx, "SELECT id FROM tags WHERE name = ?", tag).Scan(&tagID); err != nil {
		return fmt.Errorf("catalog: failed to resolve tag %s: %w", tag, err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO dataset_tags (dataset_id, tag_id) VALUES (?, ?)",
		datasetID, tagID,
	); err != nil {
		return fmt.Errorf("catalog: failed to link tag %s: %w", tag, err)
	}
	return nil
}

func isConstraintErr(err error) bool {
	if sqliteErr, ok := err.(sqlite3.Error); ok {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}

func joinSets(sets []string) string {
	out := sets[0]
	for _, s := range sets[1:] {
		out += ", " + s
	}
	return out
}

// datasetCountThresholds defines the dataset count levels at which warnings are emitted.
var datasetCountThresholds = []int64{1000000, 500000, 100000}

// logDatasetCountThreshold checks the total dataset count and logs a warning
// when it crosses 100K, 500K, or 1M thresholds. Called after each Create.
func (c *Catalog) logDatasetCountThreshold(ctx context.Context) {
	var count int64
	err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM datasets").Scan(&count)
	if err != nil {
		return // best-effort; don't fail the write path
	}
	for _, threshold := range datasetCountThresholds {
		if count >= threshold {
			log.Printf("[WARN] catalog: dataset count (%d) has crossed %dK threshold, consider archiving old datasets", count, threshold/1000)
			return
		}
	}
}
