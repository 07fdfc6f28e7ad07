package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	dserrors "github.com/datashed/datashed/internal/errors"
)

// Filter narrows dataset listings. Zero values match everything.
type Filter struct {
	// Name matches as a substring of the dataset name.
	Name string
	// Tag requires the dataset to carry this exact tag.
	Tag string
	// Status restricts to one lifecycle state.
	Status string
	// Limit caps the number of records returned; <= 0 means no cap.
	Limit int
}

const selectDatasetSQL = `
	SELECT id, uid, name, description, path, favorite,
		status, row_count, chunk_count, created_at, completed_at
	FROM datasets`

// Get retrieves a dataset record by uid.
func (c *Catalog) Get(ctx context.Context, uid string) (*Record, error) {
	row := c.readDB.QueryRowContext(ctx, selectDatasetSQL+" WHERE uid = ?", uid)
	record, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, dserrors.NewDatasetNotFound(uid)
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to scan dataset: %w", err)
	}
	if err := c.loadTags(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// GetByID retrieves a dataset record by catalog id.
func (c *Catalog) GetByID(ctx context.Context, id int64) (*Record, error) {
	row := c.readDB.QueryRowContext(ctx, selectDatasetSQL+" WHERE id = ?", id)
	record, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, dserrors.NewNotFound(dserrors.CodeDatasetNotFound,
			fmt.Sprintf("catalog: dataset id %d not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to scan dataset: %w", err)
	}
	if err := c.loadTags(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// ListAll returns dataset records newest first, optionally filtered.
func (c *Catalog) ListAll(ctx context.Context, filter Filter) ([]*Record, error) {
	query, args := buildListQuery(filter)

	// Use cached prepared statement for this query pattern
	stmt, err := c.getOrPrepareStmt(query)
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to prepare list query: %w", err)
	}

	rows, err := stmt.QueryContext(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to query datasets: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		record, err := scanRecordRows(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: error iterating datasets: %w", err)
	}

	for _, record := range records {
		if err := c.loadTags(ctx, record); err != nil {
			return nil, err
		}
	}
	return records, nil
}

// Count returns the total number of dataset records.
func (c *Catalog) Count(ctx context.Context) (int64, error) {
	var count int64
	err := c.readDB.QueryRowContext(ctx, "SELECT COUNT(*) FROM datasets").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("catalog: failed to count datasets: %w", err)
	}
	return count, nil
}

// CountByStatus returns dataset counts keyed by lifecycle state.
func (c *Catalog) CountByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := c.readDB.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM datasets GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to count datasets by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("catalog: failed to scan status count: %w", err)
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: error iterating status counts: %w", err)
	}
	return counts, nil
}

// buildListQuery builds the listing SQL from a filter.
func buildListQuery(filter Filter) (string, []interface{}) {
	query := `
	SELECT d.id, d.uid, d.name, d.description, d.path, d.favorite,
		d.status, d.row_count, d.chunk_count, d.created_at, d.completed_at
	FROM datasets d`

	var args []interface{}

	if filter.Tag != "" {
		query += `
	JOIN dataset_tags dt ON dt.dataset_id = d.id
	JOIN tags tg ON tg.id = dt.tag_id AND tg.name = ?`
		args = append(args, filter.Tag)
	}

	query += " WHERE 1=1"
	if filter.Name != "" {
		query += " AND d.name LIKE '%' || ? || '%'"
		args = append(args, filter.Name)
	}
	if filter.Status != "" {
		query += " AND d.status = ?"
		args = append(args, filter.Status)
	}

	// Newest first: rowids are monotonically increasing.
	query += " ORDER BY d.id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	return query, args
}

// getOrPrepareStmt returns a cached prepared statement or creates one.
func (c *Catalog) getOrPrepareStmt(query string) (*sql.Stmt, error) {
	c.listStmtMu.RLock()
	if stmt, ok := c.listStmtCache[query]; ok {
		c.listStmtMu.RUnlock()
		return stmt, nil
	}
	c.listStmtMu.RUnlock()

	c.listStmtMu.Lock()
	defer c.listStmtMu.Unlock()

	// Double-check after acquiring write lock
	if stmt, ok := c.listStmtCache[query]; ok {
		return stmt, nil
	}

	stmt, err := c.readDB.Prepare(query)
	if err != nil {
		return nil, err
	}
	c.listStmtCache[query] = stmt
	return stmt, nil
}

// loadTags fills the record's tag list.
func (c *Catalog) loadTags(ctx context.Context, record *Record) error {
	rows, err := c.readDB.QueryContext(ctx,
		`SELECT tg.name FROM tags tg
		 JOIN dataset_tags dt ON dt.tag_id = tg.id
		 WHERE dt.dataset_id = ?
		 ORDER BY tg.name`,
		record.ID,
	)
	if err != nil {
		return fmt.Errorf("catalog: failed to query tags: %w", err)
	}
	defer rows.Close()

	record.Tags = nil
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return fmt.Errorf("catalog: failed to scan tag: %w", err)
		}
		record.Tags = append(record.Tags, tag)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("catalog: error iterating tags: %w", err)
	}
	return nil
}

// scanRecord scans a single-row query into a Record.
func scanRecord(row *sql.Row) (*Record, error) {
	var record Record
	var createdAtUnix int64
	var completedAtUnix sql.NullInt64

	err := row.Scan(
		&record.ID, &record.UID, &record.Name, &record.Description,
		&record.Path, &record.Favorite, &record.Status,
		&record.RowCount, &record.ChunkCount, &createdAtUnix, &completedAtUnix,
	)
	if err != nil {
		return nil, err
	}

	record.CreatedAt = time.Unix(createdAtUnix, 0).UTC()
	if completedAtUnix.Valid {
		t := time.Unix(completedAtUnix.Int64, 0).UTC()
		record.CompletedAt = &t
	}
	return &record, nil
}

// scanRecordRows scans the current rows cursor into a Record.
func scanRecordRows(rows *sql.Rows) (*Record, error) {
	var record Record
	var createdAtUnix int64
	var completedAtUnix sql.NullInt64

	err := rows.Scan(
		&record.ID, &record.UID, &record.Name, &record.Description,
		&record.Path, &record.Favorite, &record.Status,
		&record.RowCount, &record.ChunkCount, &createdAtUnix, &completedAtUnix,
	)
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to scan dataset: %w", err)
	}

	record.CreatedAt = time.Unix(createdAtUnix, 0).UTC()
	if completedAtUnix.Valid {
		t := time.Unix(completedAtUnix.Int64, 0).UTC()
		record.CompletedAt = &t
	}
	return &record, nil
}
