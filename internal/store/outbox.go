package store

import (
	"database/sql"
	"time"
)

// PendingOutbox returns outbox items that have not been acknowledged by the
// remote, oldest first.
func (db *DB) PendingOutbox(userID string) ([]SyncItem, error) {
	rows, err := db.Query(`
		SELECT id, user_id, operation, category, key, value, data_type, created_at, synced_at, retry_count
		FROM outbox WHERE user_id = ? AND synced_at IS NULL
		ORDER BY created_at ASC, id ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var items []SyncItem
	for rows.Next() {
		var it SyncItem
		if err := rows.Scan(&it.ID, &it.UserID, &it.Operation, &it.Category, &it.Key,
			&it.Value, &it.DataType, &it.CreatedAt, &it.SyncedAt, &it.RetryCount); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// MarkSynced stamps an outbox item as acknowledged. Idempotent: a second
// call on an already-synced item is a no-op, so synced_at is set at most
// once and the item never changes afterwards.
func (db *DB) MarkSynced(id int64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE outbox SET synced_at = ? WHERE id = ? AND synced_at IS NULL`,
		now, id)
	return err
}

// IncrementRetry bumps the retry counter on a still-pending item.
// Synced items are terminal and are never touched.
func (db *DB) IncrementRetry(id int64) error {
	_, err := db.Exec(`
		UPDATE outbox SET retry_count = retry_count + 1 WHERE id = ? AND synced_at IS NULL`,
		id)
	return err
}

// GetSyncItem returns one outbox item by id, or ErrNotFound.
func (db *DB) GetSyncItem(id int64) (*SyncItem, error) {
	var it SyncItem
	err := db.QueryRow(`
		SELECT id, user_id, operation, category, key, value, data_type, created_at, synced_at, retry_count
		FROM outbox WHERE id = ?`, id).
		Scan(&it.ID, &it.UserID, &it.Operation, &it.Category, &it.Key,
			&it.Value, &it.DataType, &it.CreatedAt, &it.SyncedAt, &it.RetryCount)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &it, nil
}

// Stats summarizes outbox state for the diagnostics surface.
func (db *DB) Stats(userID string) (*OutboxStats, error) {
	var s OutboxStats
	err := db.QueryRow(`
		SELECT
			COUNT(*) FILTER (WHERE synced_at IS NULL),
			COUNT(*) FILTER (WHERE synced_at IS NOT NULL),
			COALESCE(MAX(retry_count) FILTER (WHERE synced_at IS NULL), 0)
		FROM outbox WHERE user_id = ?`, userID).
		Scan(&s.Pending, &s.Synced, &s.MaxRetry)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// PruneSynced deletes synced items older than the cutoff. Pending items are
// never pruned, so PendingOutbox is unaffected by retention.
func (db *DB) PruneSynced(before time.Time) (int64, error) {
	res, err := db.Exec(`
		DELETE FROM outbox WHERE synced_at IS NOT NULL AND synced_at < ?`,
		before.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
