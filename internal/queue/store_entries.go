package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const entryColumns = `id, item_id, stage, status, priority, attempts, max_attempts,
	COALESCE(error_message, ''), run_at, created_at, updated_at`

func scanEntry(row interface{ Scan(...any) error }) (*QueueEntry, error) {
	var entry QueueEntry
	var runAt, created, updated string
	err := row.Scan(
		&entry.ID, &entry.ItemID, &entry.Stage, &entry.Status, &entry.Priority,
		&entry.Attempts, &entry.MaxAttempts, &entry.ErrorMessage,
		&runAt, &created, &updated,
	)
	if err != nil {
		return nil, err
	}
	entry.RunAt = parseTime(runAt)
	entry.CreatedAt = parseTime(created)
	entry.UpdatedAt = parseTime(updated)
	return &entry, nil
}

// Enqueue creates the queue entry for an item at the given stage. When a live
// entry already exists for the item, it is returned unchanged and created is
// false: at most one entry tracks an item at any time.
func (s *Store) Enqueue(ctx context.Context, itemID int64, stage Stage, priority, maxAttempts int) (entry *QueueEntry, created bool, err error) {
	if itemID == 0 {
		return nil, false, errors.New("item id required")
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	existing, err := s.GetEntryForItem(ctx, itemID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	now := timestamp()
	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO queue_entries (item_id, stage, status, priority, attempts, max_attempts, run_at, created_at, updated_at)
         VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?)`,
		itemID, stage, EntryQueued, priority, maxAttempts, now, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			existing, lookupErr := s.GetEntryForItem(ctx, itemID)
			if lookupErr == nil && existing != nil {
				return existing, false, nil
			}
		}
		return nil, false, fmt.Errorf("insert queue entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, false, fmt.Errorf("last insert id: %w", err)
	}
	inserted, err := s.GetEntry(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return inserted, true, nil
}

// GetEntry fetches a queue entry by identifier, nil when absent.
func (s *Store) GetEntry(ctx context.Context, id int64) (*QueueEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM queue_entries WHERE id = ?`, id)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get entry: %w", err)
	}
	return entry, nil
}

// GetEntryForItem fetches the live entry for an item, nil when absent.
func (s *Store) GetEntryForItem(ctx context.Context, itemID int64) (*QueueEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM queue_entries WHERE item_id = ?`, itemID)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get entry for item: %w", err)
	}
	return entry, nil
}

// NextForStage claims the next runnable entry for a stage: highest priority
// first, ties broken by insertion order. The claim is an optimistic
// queued-to-active transition, so concurrent workers can never grab the same
// entry. Returns (nil, nil, nil) when nothing is runnable.
//
// When the claimed entry's item has been deleted, the entry is discarded
// silently and the next candidate is tried: the work is moot, not failed.
func (s *Store) NextForStage(ctx context.Context, stage Stage) (*QueueEntry, *Item, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for {
		row := s.db.QueryRowContext(
			ctx,
			`SELECT `+entryColumns+` FROM queue_entries
             WHERE stage = ? AND status = ? AND run_at <= ?
             ORDER BY priority DESC, id ASC LIMIT 1`,
			stage, EntryQueued, now,
		)
		entry, err := scanEntry(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, nil
		}
		if err != nil {
			return nil, nil, fmt.Errorf("next for stage: %w", err)
		}

		res, err := s.db.ExecContext(
			ctx,
			`UPDATE queue_entries SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
			EntryActive, timestamp(), entry.ID, EntryQueued,
		)
		if err != nil {
			return nil, nil, fmt.Errorf("claim entry: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, nil, fmt.Errorf("claim entry rows: %w", err)
		}
		if affected == 0 {
			// Another worker won the claim; try the next candidate.
			continue
		}
		entry.Status = EntryActive

		item, err := s.GetItem(ctx, entry.ItemID)
		if err != nil {
			return nil, nil, err
		}
		if item == nil {
			// Orphaned between enqueue and execution.
			if err := s.DeleteEntry(ctx, entry.ID); err != nil {
				return nil, nil, err
			}
			continue
		}
		return entry, item, nil
	}
}

// CompleteEntry marks an entry done for its current stage.
func (s *Store) CompleteEntry(ctx context.Context, entryID int64) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE queue_entries SET status = ?, error_message = NULL, updated_at = ? WHERE id = ?`,
		EntryComplete, timestamp(), entryID,
	)
	if err != nil {
		return fmt.Errorf("complete entry: %w", err)
	}
	return nil
}

// RequeueForStage advances an entry to the next stage with a fresh attempt
// budget.
func (s *Store) RequeueForStage(ctx context.Context, entryID int64, stage Stage) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE queue_entries
         SET stage = ?, status = ?, attempts = 0, error_message = NULL, run_at = ?, updated_at = ?
         WHERE id = ?`,
		stage, EntryQueued, timestamp(), timestamp(), entryID,
	)
	if err != nil {
		return fmt.Errorf("requeue entry: %w", err)
	}
	return nil
}

// DeferEntry reschedules an entry after delay without consuming an attempt.
// Used when the pause flag is set: pause is not a failure.
func (s *Store) DeferEntry(ctx context.Context, entryID int64, delay time.Duration) error {
	runAt := time.Now().UTC().Add(delay).Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE queue_entries SET status = ?, run_at = ?, updated_at = ? WHERE id = ?`,
		EntryQueued, runAt, timestamp(), entryID,
	)
	if err != nil {
		return fmt.Errorf("defer entry: %w", err)
	}
	return nil
}

// FailEntry records a failed attempt. Below the attempt budget the entry is
// requeued after backoff; at the budget both entry and item become failed with
// the persisted summary. Returns true when the failure is terminal.
func (s *Store) FailEntry(ctx context.Context, entry *QueueEntry, message string, backoff time.Duration) (terminal bool, err error) {
	if entry == nil || entry.ID == 0 {
		return false, errors.New("entry with id required")
	}
	message = strings.TrimSpace(message)
	entry.Attempts++

	if entry.AttemptsExhausted() {
		_, err := s.db.ExecContext(
			ctx,
			`UPDATE queue_entries SET status = ?, attempts = ?, error_message = ?, updated_at = ? WHERE id = ?`,
			EntryFailed, entry.Attempts, nullableString(message), timestamp(), entry.ID,
		)
		if err != nil {
			return false, fmt.Errorf("fail entry: %w", err)
		}
		_, err = s.db.ExecContext(
			ctx,
			`UPDATE items SET status = ?, error_message = ?, updated_at = ? WHERE id = ?`,
			ItemFailed, nullableString(message), timestamp(), entry.ItemID,
		)
		if err != nil {
			return false, fmt.Errorf("fail item: %w", err)
		}
		entry.Status = EntryFailed
		return true, nil
	}

	runAt := time.Now().UTC().Add(backoff).Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(
		ctx,
		`UPDATE queue_entries SET status = ?, attempts = ?, error_message = ?, run_at = ?, updated_at = ? WHERE id = ?`,
		EntryQueued, entry.Attempts, nullableString(message), runAt, timestamp(), entry.ID,
	)
	if err != nil {
		return false, fmt.Errorf("requeue failed entry: %w", err)
	}
	entry.Status = EntryQueued
	return false, nil
}

// DeleteEntry removes a queue entry.
func (s *Store) DeleteEntry(ctx context.Context, entryID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM queue_entries WHERE id = ?`, entryID)
	if err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	return nil
}

// ListEntries returns entries, optionally filtered by status, oldest first.
func (s *Store) ListEntries(ctx context.Context, status EntryStatus, limit int) ([]*QueueEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows *sql.Rows
	var err error
	if status == "" {
		rows, err = s.db.QueryContext(ctx, `SELECT `+entryColumns+` FROM queue_entries ORDER BY id ASC LIMIT ?`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT `+entryColumns+` FROM queue_entries WHERE status = ? ORDER BY id ASC LIMIT ?`, status, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var entries []*QueueEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// ClearEntries deletes entries in the given status, returning the count.
func (s *Store) ClearEntries(ctx context.Context, status EntryStatus) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM queue_entries WHERE status = ?`, status)
	if err != nil {
		return 0, fmt.Errorf("clear entries: %w", err)
	}
	return res.RowsAffected()
}

// RetryFailed requeues failed entries with a fresh attempt budget and resets
// their items to pending. Returns the number of entries requeued.
func (s *Store) RetryFailed(ctx context.Context) (int64, error) {
	now := timestamp()
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE queue_entries
         SET status = ?, attempts = 0, error_message = NULL, run_at = ?, updated_at = ?
         WHERE status = ?`,
		EntryQueued, now, now, EntryFailed,
	)
	if err != nil {
		return 0, fmt.Errorf("retry failed entries: %w", err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if count > 0 {
		_, err = s.db.ExecContext(
			ctx,
			`UPDATE items SET status = ?, error_message = NULL, updated_at = ?
             WHERE status = ? AND id IN (SELECT item_id FROM queue_entries WHERE status = ?)`,
			ItemPending, now, ItemFailed, EntryQueued,
		)
		if err != nil {
			return count, fmt.Errorf("reset failed items: %w", err)
		}
	}
	return count, nil
}

// ResetStuckActive requeues entries left active by an unclean shutdown.
func (s *Store) ResetStuckActive(ctx context.Context) (int64, error) {
	now := timestamp()
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE queue_entries SET status = ?, run_at = ?, updated_at = ? WHERE status = ?`,
		EntryQueued, now, now, EntryActive,
	)
	if err != nil {
		return 0, fmt.Errorf("reset stuck entries: %w", err)
	}
	return res.RowsAffected()
}
