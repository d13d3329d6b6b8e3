package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/poiselabs/poise/internal/domain"
)

// QuotaService checks session entitlement before a session starts.
type QuotaService interface {
	// Consume atomically checks and spends one session allowance. Returns
	// domain.ErrQuotaExceeded when none remain.
	Consume(ctx context.Context) error
}

// StatsService receives user-stats updates after a record syncs.
type StatsService interface {
	Push(ctx context.Context, stats domain.UserStats) error
}

// Syncer pushes a finalized session record to the remote service.
type Syncer interface {
	Sync(ctx context.Context, rec *domain.SessionRecord) error
}

// MemoryQuota is an in-memory quota service.
type MemoryQuota struct {
	mu        sync.Mutex
	remaining int
}

// NewMemoryQuota creates a quota with the given session allowance.
func NewMemoryQuota(remaining int) *MemoryQuota {
	return &MemoryQuota{remaining: remaining}
}

// Consume implements QuotaService.
func (q *MemoryQuota) Consume(context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.remaining <= 0 {
		return domain.ErrQuotaExceeded
	}
	q.remaining--
	return nil
}

// Remaining returns the sessions left.
func (q *MemoryQuota) Remaining() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.remaining
}

// NoopStats discards user-stats updates. Wired when no stats backend is
// configured.
type NoopStats struct{}

// Push implements StatsService.
func (NoopStats) Push(context.Context, domain.UserStats) error { return nil }

// FailingSyncer always fails. Wired when the engine runs without a remote
// sync endpoint; records stay queued in the durability store.
type FailingSyncer struct{}

// Sync implements Syncer.
func (FailingSyncer) Sync(_ context.Context, rec *domain.SessionRecord) error {
	return fmt.Errorf("no sync endpoint configured for session %s: %w", rec.SessionID, domain.ErrSyncFailed)
}
