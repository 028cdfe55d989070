// Package queue provides durable state for the acquisition pipeline: discovery
// runs, items, queue entries, and the operator pause control, all backed by a
// single SQLite database.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"bobine/internal/config"
)

// Store manages pipeline persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the database and applies migrations.
func Open(cfg *config.Config) (*Store, error) {
	dbPath := cfg.Paths.DatabasePath
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("ensure database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed
		}
	}
	return time.Time{}
}

// --- Discovery runs ---

// CreateRun inserts a new discovery run in the running state.
func (s *Store) CreateRun(ctx context.Context, catalogURL, externalJobRef string) (*DiscoveryRun, error) {
	now := timestamp()
	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO discovery_runs (catalog_url, status, external_job_ref, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?)`,
		catalogURL, RunRunning, nullableString(externalJobRef), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert discovery run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetRun(ctx, id)
}

const runColumns = `id, catalog_url, status, total_count, queued_count, skipped_count,
	COALESCE(error_message, ''), COALESCE(external_job_ref, ''), created_at, updated_at`

func scanRun(row interface{ Scan(...any) error }) (*DiscoveryRun, error) {
	var run DiscoveryRun
	var created, updated string
	err := row.Scan(
		&run.ID, &run.CatalogURL, &run.Status, &run.TotalCount, &run.QueuedCount,
		&run.SkippedCount, &run.ErrorMessage, &run.ExternalJobRef, &created, &updated,
	)
	if err != nil {
		return nil, err
	}
	run.CreatedAt = parseTime(created)
	run.UpdatedAt = parseTime(updated)
	return &run, nil
}

// GetRun fetches a discovery run by identifier, nil when absent.
func (s *Store) GetRun(ctx context.Context, id int64) (*DiscoveryRun, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM discovery_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// UpdateRun persists mutable discovery run fields.
func (s *Store) UpdateRun(ctx context.Context, run *DiscoveryRun) error {
	if run == nil || run.ID == 0 {
		return errors.New("run with id required")
	}
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE discovery_runs
         SET status = ?, total_count = ?, queued_count = ?, skipped_count = ?,
             error_message = ?, updated_at = ?
         WHERE id = ?`,
		run.Status, run.TotalCount, run.QueuedCount, run.SkippedCount,
		nullableString(run.ErrorMessage), timestamp(), run.ID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent discovery runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*DiscoveryRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM discovery_runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*DiscoveryRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// --- Items ---

const itemColumns = `id, COALESCE(run_id, 0), COALESCE(title, ''), COALESCE(author, ''),
	COALESCE(narrator, ''), source_url, url_class, COALESCE(artwork_url, ''),
	COALESCE(description, ''), COALESCE(publisher, ''), COALESCE(isbn, ''),
	COALESCE(series, ''), COALESCE(published_at, ''), COALESCE(media_id, ''), COALESCE(stream_url, ''),
	duration_seconds, file_size, COALESCE(file_path, ''), status,
	COALESCE(error_message, ''), created_at, updated_at`

func scanItem(row interface{ Scan(...any) error }) (*Item, error) {
	var item Item
	var created, updated string
	err := row.Scan(
		&item.ID, &item.RunID, &item.Title, &item.Author, &item.Narrator,
		&item.SourceURL, &item.URLClass, &item.ArtworkURL, &item.Description,
		&item.Publisher, &item.ISBN, &item.Series, &item.PublishedAt, &item.MediaID, &item.StreamURL,
		&item.DurationSeconds, &item.FileSize, &item.FilePath, &item.Status,
		&item.ErrorMessage, &created, &updated,
	)
	if err != nil {
		return nil, err
	}
	item.CreatedAt = parseTime(created)
	item.UpdatedAt = parseTime(updated)
	return &item, nil
}

// CreateItem inserts an item, deduplicating on source URL. When an item with
// the same source URL already exists it is returned unchanged and created is
// false.
func (s *Store) CreateItem(ctx context.Context, item *Item) (result *Item, created bool, err error) {
	if item == nil || strings.TrimSpace(item.SourceURL) == "" {
		return nil, false, errors.New("item with source URL required")
	}
	existing, err := s.GetItemBySourceURL(ctx, item.SourceURL)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	status := item.Status
	if status == "" {
		status = ItemPending
	}
	now := timestamp()
	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO items (
            run_id, title, author, narrator, source_url, url_class, artwork_url,
            description, publisher, isbn, series, published_at, media_id, stream_url,
            duration_seconds, file_size, file_path, status, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullableID(item.RunID), nullableString(item.Title), nullableString(item.Author),
		nullableString(item.Narrator), item.SourceURL, item.URLClass,
		nullableString(item.ArtworkURL), nullableString(item.Description),
		nullableString(item.Publisher), nullableString(item.ISBN),
		nullableString(item.Series), nullableString(item.PublishedAt),
		nullableString(item.MediaID), nullableString(item.StreamURL),
		item.DurationSeconds, item.FileSize,
		nullableString(item.FilePath), status, now, now,
	)
	if err != nil {
		// A concurrent insert can still win the race on source_url.
		if isUniqueViolation(err) {
			existing, lookupErr := s.GetItemBySourceURL(ctx, item.SourceURL)
			if lookupErr == nil && existing != nil {
				return existing, false, nil
			}
		}
		return nil, false, fmt.Errorf("insert item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, false, fmt.Errorf("last insert id: %w", err)
	}
	inserted, err := s.GetItem(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return inserted, true, nil
}

func nullableID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// GetItem fetches an item by identifier, nil when absent.
func (s *Store) GetItem(ctx context.Context, id int64) (*Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

// GetItemBySourceURL fetches an item by its unique source URL, nil when absent.
func (s *Store) GetItemBySourceURL(ctx context.Context, sourceURL string) (*Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE source_url = ?`, sourceURL)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item by source url: %w", err)
	}
	return item, nil
}

// UpdateItem persists mutable item fields. An item leaving the pending state
// must carry a primary contributor; the metadata stage fills it or supplies a
// placeholder for passthrough items.
func (s *Store) UpdateItem(ctx context.Context, item *Item) error {
	if item == nil || item.ID == 0 {
		return errors.New("item with id required")
	}
	if item.Status != ItemPending && strings.TrimSpace(item.Author) == "" {
		return fmt.Errorf("item %d: primary contributor required once status leaves pending", item.ID)
	}
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE items SET
            title = ?, author = ?, narrator = ?, url_class = ?, artwork_url = ?,
            description = ?, publisher = ?, isbn = ?, series = ?, published_at = ?,
            media_id = ?, stream_url = ?, duration_seconds = ?, file_size = ?, file_path = ?,
            status = ?, error_message = ?, updated_at = ?
         WHERE id = ?`,
		nullableString(item.Title), nullableString(item.Author),
		nullableString(item.Narrator), item.URLClass, nullableString(item.ArtworkURL),
		nullableString(item.Description), nullableString(item.Publisher),
		nullableString(item.ISBN), nullableString(item.Series),
		nullableString(item.PublishedAt), nullableString(item.MediaID),
		nullableString(item.StreamURL),
		item.DurationSeconds, item.FileSize, nullableString(item.FilePath),
		item.Status, nullableString(item.ErrorMessage), timestamp(), item.ID,
	)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

// DeleteItem removes an item; its queue entry cascades away with it. Deleting
// an item is the cancellation mechanism: in-flight work discovers the orphan
// at claim time and discards itself.
func (s *Store) DeleteItem(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	return nil
}

// ListItems returns items, optionally filtered by status, newest first.
func (s *Store) ListItems(ctx context.Context, status ItemStatus, limit int) ([]*Item, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows *sql.Rows
	var err error
	if status == "" {
		rows, err = s.db.QueryContext(ctx, `SELECT `+itemColumns+` FROM items ORDER BY id DESC LIMIT ?`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT `+itemColumns+` FROM items WHERE status = ? ORDER BY id DESC LIMIT ?`, status, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Stats aggregates counts for status displays.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM items GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("item stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status ItemStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan item stats: %w", err)
		}
		stats.ItemsTotal += count
		switch status {
		case ItemPending:
			stats.ItemsPending = count
		case ItemActive:
			stats.ItemsActive = count
		case ItemComplete:
			stats.ItemsComplete = count
		case ItemFailed:
			stats.ItemsFailed = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	entryRows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM queue_entries GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("entry stats: %w", err)
	}
	defer entryRows.Close()
	for entryRows.Next() {
		var status EntryStatus
		var count int
		if err := entryRows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan entry stats: %w", err)
		}
		switch status {
		case EntryQueued:
			stats.EntriesQueued = count
		case EntryActive:
			stats.EntriesActive = count
		case EntryFailed:
			stats.EntriesFailed = count
		}
	}
	if err := entryRows.Err(); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM discovery_runs WHERE status = ?`, RunRunning)
	if err := row.Scan(&stats.RunsRunning); err != nil {
		return nil, fmt.Errorf("run stats: %w", err)
	}
	return stats, nil
}
