package store

import "errors"

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// DataType tags how a setting value string is decoded back to its real type.
type DataType string

const (
	TypeString DataType = "string"
	TypeBool   DataType = "bool"
	TypeNumber DataType = "number"
	TypeObject DataType = "object"
	TypeArray  DataType = "array"
)

// Operation is an outbox mutation kind. Local writes only ever enqueue
// OpUpdate and OpDelete: the remote batch endpoint is upsert-semantics,
// so creates and updates are indistinguishable on the wire. OpCreate is
// accepted when decoding rows written by older clients.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Setting is one stored configuration value, unique per (user, category, key).
type Setting struct {
	UserID    string
	Category  string
	Key       string
	Value     string // encoded per DataType
	DataType  DataType
	CreatedAt int64
	UpdatedAt int64
}

// SyncItem is a pending (or completed) outbox mutation.
// SyncedAt is set at most once; a synced item never changes again.
type SyncItem struct {
	ID         int64
	UserID     string
	Operation  Operation
	Category   string
	Key        string
	Value      *string // nil for deletes
	DataType   DataType
	CreatedAt  int64
	SyncedAt   *int64
	RetryCount int
}

// Device is one installation known to this profile's registry.
// IsCurrent is a local view only: it marks the installation this
// registry belongs to, not a server-arbitrated fact.
type Device struct {
	ID         string
	UserID     string
	Name       string
	Type       string
	OS         string
	Browser    string
	LastActive int64
	Location   string
	IPAddress  string
	IsCurrent  bool
}

// OutboxStats summarizes outbox health for diagnostics.
type OutboxStats struct {
	Pending  int
	Synced   int
	MaxRetry int
}
