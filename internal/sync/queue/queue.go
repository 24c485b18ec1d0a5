// Package queue provides the durable outbox of pending remote mutations.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/silwalsubin/guras-sub000/internal/clock"
	"github.com/silwalsubin/guras-sub000/internal/db"
	apperrors "github.com/silwalsubin/guras-sub000/internal/errors"
	"github.com/silwalsubin/guras-sub000/internal/logging"
	"github.com/silwalsubin/guras-sub000/internal/models"
	"github.com/silwalsubin/guras-sub000/internal/uuid"
)

// DefaultMaxRetries is used when Options.MaxRetries is zero.
const DefaultMaxRetries = 5

// Options configures a SyncQueue.
type Options struct {
	MaxRetries int
	Clock      clock.Clock
	Logger     *logging.Logger
}

// SyncQueue is the outbox. Items are stored in the offline_sync_queue
// collection in enqueue order; nothing is ever removed except by Remove
// (confirmed remote success) or Discard (explicit user request).
type SyncQueue struct {
	backend    db.Backend
	maxRetries int
	clock      clock.Clock
	log        *logging.Logger

	// mu serializes read-modify-write on queue items.
	mu sync.Mutex
}

// Stats summarizes the queue.
type Stats struct {
	Total    int                       `json:"total"`
	Pending  int                       `json:"pending"`
	Failed   int                       `json:"failed"`
	ByEntity map[models.EntityType]int `json:"byEntity"`
	Oldest   *time.Time                `json:"oldest,omitempty"`
}

// NewSyncQueue creates a SyncQueue over backend.
func NewSyncQueue(backend db.Backend, opts Options) *SyncQueue {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Get()
	}
	return &SyncQueue{
		backend:    backend,
		maxRetries: opts.MaxRetries,
		clock:      opts.Clock,
		log:        opts.Logger,
	}
}

// MaxRetries returns the retry budget given to new items.
func (q *SyncQueue) MaxRetries() int {
	return q.maxRetries
}

// NewItem snapshots entity into a pending queue item.
func (q *SyncQueue) NewItem(entity models.Entity, action models.SyncAction) (*models.SyncQueueItem, error) {
	data, err := json.Marshal(entity)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s %s: %w", entity.EntityType(), entity.EntityID(), err)
	}
	return &models.SyncQueueItem{
		ID:         uuid.New(),
		EntityType: entity.EntityType(),
		EntityID:   entity.EntityID(),
		Action:     action,
		Data:       data,
		Timestamp:  q.clock.Now(),
		MaxRetries: q.maxRetries,
		Priority:   models.PriorityFor(entity.EntityType()),
		Status:     models.QueueStatusPending,
	}, nil
}

// Stage adds item to b so it commits together with the caller's other writes.
func (q *SyncQueue) Stage(b *db.Batch, item *models.SyncQueueItem) error {
	if item.ID == "" || item.EntityID == "" {
		return apperrors.New(apperrors.ErrValidation, "queue item requires id and entityId")
	}
	if !item.EntityType.Valid() {
		return apperrors.Newf(apperrors.ErrValidation, "unknown entity type %q", item.EntityType)
	}
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode queue item %s: %w", item.ID, err)
	}
	b.Put(db.CollectionSyncQueue, item.ID, data)
	return nil
}

// Enqueue appends item. There is no de-duplication: several items may
// reference the same entity and are drained in enqueue order.
func (q *SyncQueue) Enqueue(ctx context.Context, item *models.SyncQueueItem) error {
	var b db.Batch
	if err := q.Stage(&b, item); err != nil {
		return err
	}
	if err := q.backend.Apply(ctx, &b); err != nil {
		return err
	}
	q.log.Debug("enqueued sync item", map[string]interface{}{
		"item_id":     item.ID,
		"entity_type": string(item.EntityType),
		"entity_id":   item.EntityID,
		"action":      string(item.Action),
	})
	return nil
}

// DequeueAll returns every queued item in enqueue order, terminally failed
// ones included. Nothing is removed.
func (q *SyncQueue) DequeueAll(ctx context.Context) ([]*models.SyncQueueItem, error) {
	records, err := q.backend.Load(ctx, db.CollectionSyncQueue)
	if err != nil {
		return nil, err
	}

	items := make([]*models.SyncQueueItem, 0, len(records))
	for _, r := range records {
		var item models.SyncQueueItem
		if err := json.Unmarshal(r.Data, &item); err != nil {
			q.log.Warn("skipping corrupt queue item", map[string]interface{}{
				"collection": string(db.CollectionSyncQueue),
				"record_id":  r.ID,
				"error":      err.Error(),
			})
			continue
		}
		items = append(items, &item)
	}
	return items, nil
}

// ForEntity returns the queued items for one entity in enqueue order.
func (q *SyncQueue) ForEntity(ctx context.Context, entityID string) ([]*models.SyncQueueItem, error) {
	items, err := q.DequeueAll(ctx)
	if err != nil {
		return nil, err
	}
	var out []*models.SyncQueueItem
	for _, item := range items {
		if item.EntityID == entityID {
			out = append(out, item)
		}
	}
	return out, nil
}

// Get returns one queued item.
func (q *SyncQueue) Get(ctx context.Context, id string) (*models.SyncQueueItem, error) {
	items, err := q.DequeueAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		if item.ID == id {
			return item, nil
		}
	}
	return nil, apperrors.Newf(apperrors.ErrNotFound, "queue item %s not found", id)
}

// Remove deletes an acknowledged item. Removing an absent id is a no-op.
func (q *SyncQueue) Remove(ctx context.Context, id string) error {
	var b db.Batch
	b.Delete(db.CollectionSyncQueue, id)
	return q.backend.Apply(ctx, &b)
}

// UpdateRetry records a failed attempt on item id. The item is rescheduled
// with exponential backoff, or marked terminally failed once its retry
// budget is spent. A terminal item stays queued.
func (q *SyncQueue) UpdateRetry(ctx context.Context, id string, cause error) (*models.SyncQueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, err := q.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := q.clock.Now()
	item.RetryCount++
	if cause != nil {
		item.LastError = cause.Error()
	}

	if item.MaxRetries > 0 && item.RetryCount >= item.MaxRetries {
		item.Status = models.QueueStatusFailed
		item.NextRetryAt = nil
	} else {
		next := now.Add(calculateBackoff(item.RetryCount))
		item.Status = models.QueueStatusPending
		item.NextRetryAt = &next
	}

	var b db.Batch
	if err := q.Stage(&b, item); err != nil {
		return nil, err
	}
	if err := q.backend.Apply(ctx, &b); err != nil {
		return nil, err
	}

	if item.Status == models.QueueStatusFailed {
		q.log.ErrorWithCode("sync item failed permanently", string(apperrors.ErrSyncTerminal), cause, map[string]interface{}{
			"item_id":     item.ID,
			"entity_type": string(item.EntityType),
			"entity_id":   item.EntityID,
			"retries":     item.RetryCount,
		})
	} else {
		q.log.Warn("sync item failed, will retry", map[string]interface{}{
			"item_id":       item.ID,
			"retry":         fmt.Sprintf("%d/%d", item.RetryCount, item.MaxRetries),
			"next_retry_at": item.NextRetryAt.Format(time.RFC3339),
		})
	}
	return item, nil
}

// Fail marks item id terminally failed at once, for errors retrying
// cannot fix. The item stays queued.
func (q *SyncQueue) Fail(ctx context.Context, id string, cause error) (*models.SyncQueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, err := q.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	item.RetryCount++
	item.Status = models.QueueStatusFailed
	item.NextRetryAt = nil
	if cause != nil {
		item.LastError = cause.Error()
	}

	var b db.Batch
	if err := q.Stage(&b, item); err != nil {
		return nil, err
	}
	if err := q.backend.Apply(ctx, &b); err != nil {
		return nil, err
	}

	q.log.ErrorWithCode("sync item rejected", string(apperrors.ErrSyncTerminal), cause, map[string]interface{}{
		"item_id":     item.ID,
		"entity_type": string(item.EntityType),
		"entity_id":   item.EntityID,
	})
	return item, nil
}

// Discard removes an item at the user's request. Unlike Remove it reports
// NOT_FOUND for an absent id, since the caller named a specific item.
func (q *SyncQueue) Discard(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, err := q.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := q.Remove(ctx, id); err != nil {
		return err
	}
	q.log.Info("sync item discarded", map[string]interface{}{
		"item_id":   item.ID,
		"entity_id": item.EntityID,
		"status":    string(item.Status),
	})
	return nil
}

// RetryAll resets every failed item to pending with a fresh retry budget
// and returns how many were reset.
func (q *SyncQueue) RetryAll(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	items, err := q.DequeueAll(ctx)
	if err != nil {
		return 0, err
	}

	var b db.Batch
	for _, item := range items {
		if !item.Terminal() {
			continue
		}
		item.Status = models.QueueStatusPending
		item.RetryCount = 0
		item.NextRetryAt = nil
		item.LastError = ""
		if err := q.Stage(&b, item); err != nil {
			return 0, err
		}
	}
	if b.Len() == 0 {
		return 0, nil
	}
	if err := q.backend.Apply(ctx, &b); err != nil {
		return 0, err
	}

	q.log.Info("reset failed sync items for retry", map[string]interface{}{"count": b.Len()})
	return b.Len(), nil
}

// Stats returns queue statistics.
func (q *SyncQueue) Stats(ctx context.Context) (Stats, error) {
	items, err := q.DequeueAll(ctx)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{ByEntity: make(map[models.EntityType]int)}
	for _, item := range items {
		stats.Total++
		if item.Terminal() {
			stats.Failed++
		} else {
			stats.Pending++
		}
		stats.ByEntity[item.EntityType]++
		if stats.Oldest == nil || item.Timestamp.Before(*stats.Oldest) {
			ts := item.Timestamp
			stats.Oldest = &ts
		}
	}
	return stats, nil
}

// PendingCount returns the number of items still awaiting sync, failed
// ones included: they are not synced either.
func (q *SyncQueue) PendingCount(ctx context.Context) (int, error) {
	stats, err := q.Stats(ctx)
	return stats.Total, err
}

// FailedCount returns the number of terminally failed items.
func (q *SyncQueue) FailedCount(ctx context.Context) (int, error) {
	stats, err := q.Stats(ctx)
	return stats.Failed, err
}

// DueCount returns the number of items a drain at now would attempt first
// for their entity: not terminal and out of backoff.
func (q *SyncQueue) DueCount(ctx context.Context) (int, error) {
	items, err := q.DequeueAll(ctx)
	if err != nil {
		return 0, err
	}
	now := q.clock.Now()
	n := 0
	for _, item := range items {
		if !item.Terminal() && item.Due(now) {
			n++
		}
	}
	return n, nil
}

// calculateBackoff calculates exponential backoff delay.
// Formula: 2^retry_count * 60s, capped at one hour.
func calculateBackoff(retryCount int) time.Duration {
	if retryCount > 6 {
		return time.Hour
	}
	backoff := time.Duration(int64(1)<<uint(retryCount)) * time.Minute
	if backoff > time.Hour {
		backoff = time.Hour
	}
	return backoff
}
