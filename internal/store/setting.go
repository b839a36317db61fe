package store

import (
	"database/sql"
	"fmt"
	"time"
)

// SetSetting upserts a setting and enqueues an outbox item, atomically.
// The outbox operation is always "update": the remote batch endpoint is
// upsert-semantics, so first writes are not distinguished.
func (db *DB) SetSetting(userID, category, key string, value any) error {
	raw, dt, err := encodeValue(value)
	if err != nil {
		return fmt.Errorf("encode setting %s/%s: %w", category, key, err)
	}

	now := time.Now().UnixMilli()
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		INSERT INTO settings (user_id, category, key, value, data_type, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, category, key) DO UPDATE SET
			value = excluded.value,
			data_type = excluded.data_type,
			updated_at = excluded.updated_at`,
		userID, category, key, raw, dt, now, now); err != nil {
		return fmt.Errorf("upsert setting: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO outbox (user_id, operation, category, key, value, data_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		userID, OpUpdate, category, key, raw, dt, now); err != nil {
		return fmt.Errorf("enqueue outbox: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetSetting returns the decoded value for one setting.
// Returns ErrNotFound if the key does not exist; decode failures are
// returned as errors instead of collapsing to nil.
func (db *DB) GetSetting(userID, category, key string) (any, error) {
	var raw string
	var dt DataType
	err := db.QueryRow(`
		SELECT value, data_type FROM settings
		WHERE user_id = ? AND category = ? AND key = ?`,
		userID, category, key).Scan(&raw, &dt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeValue(raw, dt)
}

// DeleteSetting removes a setting and enqueues a delete outbox item,
// atomically. The delete is enqueued even if no local row existed, so a
// remote copy created by another device is still removed.
func (db *DB) DeleteSetting(userID, category, key string) error {
	now := time.Now().UnixMilli()
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Carry the row's data_type onto the outbox item when we have it.
	dt := TypeString
	err = tx.QueryRow(`
		SELECT data_type FROM settings
		WHERE user_id = ? AND category = ? AND key = ?`,
		userID, category, key).Scan(&dt)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("read setting: %w", err)
	}

	if _, err := tx.Exec(`
		DELETE FROM settings WHERE user_id = ? AND category = ? AND key = ?`,
		userID, category, key); err != nil {
		return fmt.Errorf("delete setting: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO outbox (user_id, operation, category, key, value, data_type, created_at)
		VALUES (?, ?, ?, ?, NULL, ?, ?)`,
		userID, OpDelete, category, key, dt, now); err != nil {
		return fmt.Errorf("enqueue outbox: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// SettingsByCategory returns all decoded values in one category.
func (db *DB) SettingsByCategory(userID, category string) (map[string]any, error) {
	rows, err := db.Query(`
		SELECT key, value, data_type FROM settings
		WHERE user_id = ? AND category = ?`,
		userID, category)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]any)
	for rows.Next() {
		var key, raw string
		var dt DataType
		if err := rows.Scan(&key, &raw, &dt); err != nil {
			return nil, err
		}
		v, err := decodeValue(raw, dt)
		if err != nil {
			return nil, fmt.Errorf("setting %s/%s: %w", category, key, err)
		}
		out[key] = v
	}
	return out, rows.Err()
}

// AllSettings returns every decoded value for a user, grouped by category.
func (db *DB) AllSettings(userID string) (map[string]map[string]any, error) {
	rows, err := db.Query(`
		SELECT category, key, value, data_type FROM settings
		WHERE user_id = ?`,
		userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]map[string]any)
	for rows.Next() {
		var category, key, raw string
		var dt DataType
		if err := rows.Scan(&category, &key, &raw, &dt); err != nil {
			return nil, err
		}
		v, err := decodeValue(raw, dt)
		if err != nil {
			return nil, fmt.Errorf("setting %s/%s: %w", category, key, err)
		}
		if out[category] == nil {
			out[category] = make(map[string]any)
		}
		out[category][key] = v
	}
	return out, rows.Err()
}

// ApplyRemoteSnapshot upserts a pulled settings snapshot in one transaction.
// Unlike SetSetting it never touches the outbox: feeding pulled values back
// through the write path would re-queue every remote value for push and
// ping-pong state between client and server indefinitely.
func (db *DB) ApplyRemoteSnapshot(userID string, snapshot map[string]map[string]any) error {
	now := time.Now().UnixMilli()
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for category, entries := range snapshot {
		for key, value := range entries {
			raw, dt, err := encodeValue(value)
			if err != nil {
				return fmt.Errorf("encode remote setting %s/%s: %w", category, key, err)
			}
			if _, err := tx.Exec(`
				INSERT INTO settings (user_id, category, key, value, data_type, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(user_id, category, key) DO UPDATE SET
					value = excluded.value,
					data_type = excluded.data_type,
					updated_at = excluded.updated_at`,
				userID, category, key, raw, dt, now, now); err != nil {
				return fmt.Errorf("apply remote setting %s/%s: %w", category, key, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}
