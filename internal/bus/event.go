package bus

import "time"

// Event represents a domain event published on the bus.
//
// Kinds used across the daemon:
//
//	settings.updated      — a setting was written locally (payload: SettingRef)
//	settings.deleted      — a setting was removed locally (payload: SettingRef)
//	sync.started          — a sync round began
//	sync.completed        — a sync round finished
//	sync.skipped          — a round was dropped (busy or no auth session)
//	sync.push_failed      — pushing outbox items failed this round
//	sync.pull_failed      — pulling the remote snapshot failed this round
//	devices.changed       — the device registry changed
//	daemon.status_changed — state machine transition (payload: status.StatusChange)
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// SettingRef identifies a setting in settings.* event payloads.
type SettingRef struct {
	UserID   string
	Category string
	Key      string
}
