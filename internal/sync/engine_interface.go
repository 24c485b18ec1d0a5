// Package sync drains the outbox against the remote service.
package sync

import (
	"context"
	"time"

	"github.com/silwalsubin/guras-sub000/internal/models"
)

// Remote is the remote service the outbox is replayed against.
//
// Upsert must be idempotent for a given (EntityType, EntityID): after a
// crash the same item may be presented more than once. Implementations
// wrap failures with Transient or Terminal; an unwrapped error counts as
// transient.
type Remote interface {
	Upsert(ctx context.Context, item *models.SyncQueueItem) error
}

// RemoteFunc adapts a function to Remote.
type RemoteFunc func(ctx context.Context, item *models.SyncQueueItem) error

// Upsert calls f.
func (f RemoteFunc) Upsert(ctx context.Context, item *models.SyncQueueItem) error {
	return f(ctx, item)
}

// SyncEngineInterface defines the interface for sync engine operations.
// This interface allows for mocking in tests and alternative implementations.
type SyncEngineInterface interface {
	// Sync performs one drain of the outbox.
	Sync(ctx context.Context) (*SyncResult, error)

	// SetEventHandler sets the event handler for sync notifications.
	SetEventHandler(handler SyncEventHandler)

	// Status returns the current sync status.
	Status() SyncStatus

	// LastSync returns the timestamp of the last drain that acknowledged an item.
	LastSync() *time.Time

	// LastError returns the last error that occurred during sync.
	LastError() error
}

// SyncEventType identifies a sync notification.
type SyncEventType string

const (
	SyncEventStarted    SyncEventType = "started"
	SyncEventItemSynced SyncEventType = "item_synced"
	SyncEventItemFailed SyncEventType = "item_failed"
	SyncEventCompleted  SyncEventType = "completed"
)

// SyncEvent is delivered to the SyncEventHandler.
type SyncEvent struct {
	Type       SyncEventType
	ItemID     string
	EntityType models.EntityType
	EntityID   string
	Terminal   bool
	Err        error
	Result     *SyncResult
}

// SyncEventHandler receives sync notifications. OnSyncEvent may be called
// from several goroutines at once.
type SyncEventHandler interface {
	OnSyncEvent(event SyncEvent)
}
