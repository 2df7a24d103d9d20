package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines file, no extra dependencies
//   - "sqlite": SQLite database file (build tag sqlite)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Session record kinds.
const (
	EventJoined  = "joined"
	EventLeft    = "left"
	EventEvicted = "evicted"
)

// SessionRecord is one lifecycle step of a chat connection.
type SessionRecord struct {
	At         time.Time `json:"at"`
	Event      string    `json:"event"`
	ConnID     string    `json:"conn_id"`
	Name       string    `json:"name"`
	Remote     string    `json:"remote,omitempty"`
	Transport  string    `json:"transport,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	DurationMS int64     `json:"duration_ms,omitempty"`
}
