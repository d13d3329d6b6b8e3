// Package store provides the offline durability boundary: ended sessions are
// persisted locally before any remote sync attempt and never deleted before
// they are confirmed synced.
package store

import (
	"context"
	"time"

	"github.com/poiselabs/poise/internal/domain"
)

// Repository defines the interface for persisting session records.
type Repository interface {
	// Append stores a finalized session record. Records are append-only;
	// appending an existing session id is an error.
	Append(ctx context.Context, rec *domain.SessionRecord) error

	// Get retrieves a record by session id. Returns (nil, nil) if absent.
	Get(ctx context.Context, sessionID string) (*domain.SessionRecord, error)

	// MarkSynced flips the synced flag after confirmed remote acknowledgment.
	MarkSynced(ctx context.Context, sessionID string) error

	// UnsyncedRecords returns all records not yet confirmed synced, oldest
	// first.
	UnsyncedRecords(ctx context.Context) ([]*domain.SessionRecord, error)

	// PruneSynced deletes synced records older than the retention window and
	// returns how many were removed. Unsynced records are never pruned.
	PruneSynced(ctx context.Context, retention time.Duration) (int64, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
