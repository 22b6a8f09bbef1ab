package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage. An empty Driver (or "none") disables it.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AuditEntry is one task lifecycle event. Keep it compact and schema-stable.
type AuditEntry struct {
	At     time.Time `json:"at"`
	TaskID string    `json:"task_id"`
	Event  string    `json:"event"`
	State  string    `json:"state,omitempty"`
	Path   string    `json:"path,omitempty"`
	Error  string    `json:"error,omitempty"`
	TookMS int64     `json:"took_ms,omitempty"`
}

// Store is the persistence API.
type Store interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
	// Recent returns up to limit entries, newest first.
	Recent(ctx context.Context, limit int) ([]AuditEntry, error)
	// Prune deletes entries older than before and reports how many were removed.
	Prune(ctx context.Context, before time.Time) (int64, error)
	Close() error
}

const (
	DefaultRecentLimit = 100
	MaxRecentLimit     = 1000
)

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return DefaultRecentLimit
	case n > MaxRecentLimit:
		return MaxRecentLimit
	default:
		return n
	}
}
