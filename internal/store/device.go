package store

import (
	"database/sql"
	"fmt"
	"time"
)

// DeviceInfo carries the descriptive fields stamped onto a device record
// at registration.
type DeviceInfo struct {
	Name      string
	Type      string
	OS        string
	Browser   string
	Location  string
	IPAddress string
}

// RegisterDevice upserts this installation's device record with
// is_current=true and clears the flag on every other record the local
// registry holds for the user, in one transaction. The flag is a local
// view only: other installations keep believing they are current until
// a pull teaches them otherwise.
func (db *DB) RegisterDevice(userID, deviceID string, info DeviceInfo) (*Device, error) {
	if info.Type == "" {
		info.Type = "desktop"
	}
	now := time.Now().UnixMilli()

	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		UPDATE devices SET is_current = 0 WHERE user_id = ? AND id != ?`,
		userID, deviceID); err != nil {
		return nil, fmt.Errorf("clear current flags: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO devices (id, user_id, name, type, os, browser, last_active, location, ip_address, is_current)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			name = excluded.name,
			type = excluded.type,
			os = excluded.os,
			browser = excluded.browser,
			last_active = excluded.last_active,
			location = excluded.location,
			ip_address = excluded.ip_address,
			is_current = 1`,
		deviceID, userID, info.Name, info.Type, info.OS, info.Browser, now, info.Location, info.IPAddress); err != nil {
		return nil, fmt.Errorf("upsert device: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return &Device{
		ID: deviceID, UserID: userID,
		Name: info.Name, Type: info.Type, OS: info.OS, Browser: info.Browser,
		LastActive: now, Location: info.Location, IPAddress: info.IPAddress,
		IsCurrent: true,
	}, nil
}

// ListDevices returns a user's devices, most recently active first.
func (db *DB) ListDevices(userID string) ([]Device, error) {
	rows, err := db.Query(`
		SELECT id, user_id, name, type, os, browser, last_active, location, ip_address, is_current
		FROM devices WHERE user_id = ?
		ORDER BY last_active DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var devices []Device
	for rows.Next() {
		var d Device
		if err := rows.Scan(&d.ID, &d.UserID, &d.Name, &d.Type, &d.OS, &d.Browser,
			&d.LastActive, &d.Location, &d.IPAddress, &d.IsCurrent); err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// GetDevice returns one device by id, or ErrNotFound.
func (db *DB) GetDevice(id string) (*Device, error) {
	var d Device
	err := db.QueryRow(`
		SELECT id, user_id, name, type, os, browser, last_active, location, ip_address, is_current
		FROM devices WHERE id = ?`, id).
		Scan(&d.ID, &d.UserID, &d.Name, &d.Type, &d.OS, &d.Browser,
			&d.LastActive, &d.Location, &d.IPAddress, &d.IsCurrent)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// LogoutOtherDevices removes every non-current device record for the user,
// leaving only this installation's record. Returns the number removed.
func (db *DB) LogoutOtherDevices(userID string) (int64, error) {
	res, err := db.Exec(`
		DELETE FROM devices WHERE user_id = ? AND is_current = 0`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// TouchDevice bumps last_active to now on a single record.
func (db *DB) TouchDevice(id string) error {
	_, err := db.Exec(`
		UPDATE devices SET last_active = ? WHERE id = ?`,
		time.Now().UnixMilli(), id)
	return err
}

// ApplyRemoteDevices upserts a pulled device list in one transaction.
// is_current is derived from currentID, never from the wire payload:
// the server does not arbitrate which installation is "current", each
// local registry does.
func (db *DB) ApplyRemoteDevices(userID string, devices []Device, currentID string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, d := range devices {
		isCurrent := d.ID == currentID
		if _, err := tx.Exec(`
			INSERT INTO devices (id, user_id, name, type, os, browser, last_active, location, ip_address, is_current)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				user_id = excluded.user_id,
				name = excluded.name,
				type = excluded.type,
				os = excluded.os,
				browser = excluded.browser,
				last_active = MAX(devices.last_active, excluded.last_active),
				location = excluded.location,
				ip_address = excluded.ip_address,
				is_current = excluded.is_current`,
			d.ID, userID, d.Name, d.Type, d.OS, d.Browser, d.LastActive,
			d.Location, d.IPAddress, isCurrent); err != nil {
			return fmt.Errorf("apply remote device %s: %w", d.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit devices: %w", err)
	}
	return nil
}
