// Package queue provides unit tests for the sync outbox.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/silwalsubin/guras-sub000/internal/clock"
	"github.com/silwalsubin/guras-sub000/internal/db"
	apperrors "github.com/silwalsubin/guras-sub000/internal/errors"
	"github.com/silwalsubin/guras-sub000/internal/logging"
	"github.com/silwalsubin/guras-sub000/internal/models"
)

var t0 = time.Date(2025, 1, 20, 9, 0, 0, 0, time.UTC)

func newTestQueue(t *testing.T, maxRetries int) (*SyncQueue, *clock.Manual, *db.MemoryBackend) {
	t.Helper()
	backend := db.NewMemoryBackend()
	clk := clock.NewManual(t0)
	q := NewSyncQueue(backend, Options{MaxRetries: maxRetries, Clock: clk, Logger: logging.Discard()})
	return q, clk, backend
}

func session(id string) *models.MeditationSession {
	return &models.MeditationSession{
		ID:           id,
		Duration:     10,
		CompletedAt:  t0,
		SyncMetadata: models.NewSyncMetadata(t0),
	}
}

func enqueue(t *testing.T, q *SyncQueue, e models.Entity, action models.SyncAction) *models.SyncQueueItem {
	t.Helper()
	item, err := q.NewItem(e, action)
	if err != nil {
		t.Fatalf("NewItem failed: %v", err)
	}
	if err := q.Enqueue(context.Background(), item); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	return item
}

// TestSyncQueueEnqueue tests enqueuing operations.
func TestSyncQueueEnqueue(t *testing.T) {
	q, _, _ := newTestQueue(t, 3)

	item := enqueue(t, q, session("s1"), models.ActionCreate)

	if item.ID == "" {
		t.Error("Expected item ID to be set")
	}
	if item.EntityType != models.EntityMeditation {
		t.Errorf("Expected meditation entity type, got %s", item.EntityType)
	}
	if item.Status != models.QueueStatusPending {
		t.Errorf("Expected Pending status, got %s", item.Status)
	}
	if item.RetryCount != 0 {
		t.Errorf("Expected RetryCount 0, got %d", item.RetryCount)
	}
	if item.MaxRetries != 3 {
		t.Errorf("Expected MaxRetries 3, got %d", item.MaxRetries)
	}
	if item.Priority != models.PriorityHigh {
		t.Errorf("Expected high priority, got %s", item.Priority)
	}
	if !item.Timestamp.Equal(t0) {
		t.Errorf("Expected timestamp %v, got %v", t0, item.Timestamp)
	}
}

// TestSyncQueueNoDedup tests that items for one entity are all kept in order.
func TestSyncQueueNoDedup(t *testing.T) {
	q, _, _ := newTestQueue(t, 3)

	s := session("A")
	create := enqueue(t, q, s, models.ActionCreate)
	enqueue(t, q, session("B"), models.ActionCreate)
	update := enqueue(t, q, s, models.ActionUpdate)

	items, err := q.ForEntity(context.Background(), "A")
	if err != nil {
		t.Fatalf("ForEntity failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("Expected 2 items for A, got %d", len(items))
	}
	if items[0].ID != create.ID || items[1].ID != update.ID {
		t.Error("Expected CREATE before UPDATE")
	}
}

// TestSyncQueueSnapshot tests that the payload is a snapshot, not a live reference.
func TestSyncQueueSnapshot(t *testing.T) {
	q, _, _ := newTestQueue(t, 3)

	s := session("s1")
	enqueue(t, q, s, models.ActionCreate)
	s.Duration = 99

	items, _ := q.DequeueAll(context.Background())
	var snap models.MeditationSession
	if err := decode(items[0].Data, &snap); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if snap.Duration != 10 {
		t.Errorf("Expected snapshot duration 10, got %d", snap.Duration)
	}
}

// TestSyncQueueDequeueAllDoesNotRemove tests that dequeueAll is a snapshot read.
func TestSyncQueueDequeueAllDoesNotRemove(t *testing.T) {
	q, _, _ := newTestQueue(t, 3)
	enqueue(t, q, session("s1"), models.ActionCreate)

	for i := 0; i < 2; i++ {
		items, err := q.DequeueAll(context.Background())
		if err != nil {
			t.Fatalf("DequeueAll failed: %v", err)
		}
		if len(items) != 1 {
			t.Fatalf("Expected 1 item, got %d", len(items))
		}
	}
}

// TestSyncQueueRemove tests removal and its idempotence.
func TestSyncQueueRemove(t *testing.T) {
	q, _, _ := newTestQueue(t, 3)
	item := enqueue(t, q, session("s1"), models.ActionCreate)

	if err := q.Remove(context.Background(), item.ID); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if err := q.Remove(context.Background(), item.ID); err != nil {
		t.Errorf("Second Remove should be a no-op, got %v", err)
	}

	items, _ := q.DequeueAll(context.Background())
	if len(items) != 0 {
		t.Errorf("Expected empty queue, got %d items", len(items))
	}
}

// TestSyncQueueFailed tests retry scheduling with backoff.
func TestSyncQueueFailed(t *testing.T) {
	q, _, _ := newTestQueue(t, 3)
	item := enqueue(t, q, session("s1"), models.ActionCreate)

	updated, err := q.UpdateRetry(context.Background(), item.ID, errors.New("timeout"))
	if err != nil {
		t.Fatalf("UpdateRetry failed: %v", err)
	}

	if updated.RetryCount != 1 {
		t.Errorf("Expected RetryCount 1, got %d", updated.RetryCount)
	}
	if updated.Status != models.QueueStatusPending {
		t.Errorf("Expected Pending status after retry, got %s", updated.Status)
	}
	if updated.LastError != "timeout" {
		t.Errorf("Expected LastError timeout, got %q", updated.LastError)
	}
	if updated.NextRetryAt == nil || !updated.NextRetryAt.Equal(t0.Add(2*time.Minute)) {
		t.Errorf("Expected NextRetryAt %v, got %v", t0.Add(2*time.Minute), updated.NextRetryAt)
	}
	if updated.Due(t0) {
		t.Error("Item should not be due before backoff elapses")
	}
	if !updated.Due(t0.Add(2 * time.Minute)) {
		t.Error("Item should be due once backoff elapses")
	}
}

// TestSyncQueueMaxRetries tests terminal failure without data loss.
func TestSyncQueueMaxRetries(t *testing.T) {
	q, _, _ := newTestQueue(t, 3)
	item := enqueue(t, q, session("s1"), models.ActionCreate)

	var last *models.SyncQueueItem
	for i := 0; i < 3; i++ {
		var err error
		last, err = q.UpdateRetry(context.Background(), item.ID, errors.New("server error"))
		if err != nil {
			t.Fatalf("UpdateRetry %d failed: %v", i, err)
		}
	}

	if last.Status != models.QueueStatusFailed || !last.Terminal() {
		t.Errorf("Expected Failed status after max retries, got %s", last.Status)
	}

	// Still present until explicitly removed
	items, _ := q.DequeueAll(context.Background())
	if len(items) != 1 || items[0].ID != item.ID {
		t.Fatalf("Terminal item must stay queued, got %d items", len(items))
	}

	failed, _ := q.FailedCount(context.Background())
	pending, _ := q.PendingCount(context.Background())
	if failed != 1 || pending != 1 {
		t.Errorf("Expected failed=1 pending=1, got failed=%d pending=%d", failed, pending)
	}
}

// TestSyncQueueUpdateRetryNotFound tests updating a missing item.
func TestSyncQueueUpdateRetryNotFound(t *testing.T) {
	q, _, _ := newTestQueue(t, 3)

	_, err := q.UpdateRetry(context.Background(), "missing", errors.New("x"))
	if !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Expected NOT_FOUND, got %v", err)
	}
}

// TestCalculateBackoff tests exponential backoff calculation.
func TestCalculateBackoff(t *testing.T) {
	tests := []struct {
		retryCount int
		want       time.Duration
	}{
		{0, time.Minute},
		{1, 2 * time.Minute},
		{2, 4 * time.Minute},
		{3, 8 * time.Minute},
		{4, 16 * time.Minute},
		{5, 32 * time.Minute},
		{6, time.Hour}, // 64 min capped
		{10, time.Hour},
		{100, time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			got := calculateBackoff(tt.retryCount)
			if got != tt.want {
				t.Errorf("calculateBackoff(%d) = %v, want %v", tt.retryCount, got, tt.want)
			}
		})
	}
}

// TestDiscard tests explicit user removal.
func TestDiscard(t *testing.T) {
	q, _, _ := newTestQueue(t, 3)
	item := enqueue(t, q, session("s1"), models.ActionCreate)

	if err := q.Discard(context.Background(), item.ID); err != nil {
		t.Fatalf("Discard failed: %v", err)
	}
	if err := q.Discard(context.Background(), item.ID); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Expected NOT_FOUND on second Discard, got %v", err)
	}
}

// TestRetryAll tests resetting failed items.
func TestRetryAll(t *testing.T) {
	q, _, _ := newTestQueue(t, 1)
	failed := enqueue(t, q, session("s1"), models.ActionCreate)
	enqueue(t, q, session("s2"), models.ActionCreate)

	if _, err := q.UpdateRetry(context.Background(), failed.ID, errors.New("boom")); err != nil {
		t.Fatalf("UpdateRetry failed: %v", err)
	}

	count, err := q.RetryAll(context.Background())
	if err != nil {
		t.Fatalf("RetryAll failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 item reset, got %d", count)
	}

	item, err := q.Get(context.Background(), failed.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if item.Status != models.QueueStatusPending || item.RetryCount != 0 || item.LastError != "" {
		t.Errorf("Item not reset: %+v", item)
	}

	if count, _ := q.RetryAll(context.Background()); count != 0 {
		t.Errorf("Expected nothing left to reset, got %d", count)
	}
}

// TestStats tests queue statistics.
func TestStats(t *testing.T) {
	q, clk, _ := newTestQueue(t, 1)
	first := enqueue(t, q, session("s1"), models.ActionCreate)
	clk.Advance(time.Minute)
	enqueue(t, q, &models.ProgramProgress{ID: "p1", ProgramID: "prog", TotalDays: 7}, models.ActionCreate)
	q.UpdateRetry(context.Background(), first.ID, errors.New("boom"))

	stats, err := q.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Total != 2 || stats.Pending != 1 || stats.Failed != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
	if stats.ByEntity[models.EntityMeditation] != 1 || stats.ByEntity[models.EntityProgram] != 1 {
		t.Errorf("Unexpected per-entity stats: %+v", stats.ByEntity)
	}
	if stats.Oldest == nil || !stats.Oldest.Equal(t0) {
		t.Errorf("Expected oldest %v, got %v", t0, stats.Oldest)
	}
}

// TestDequeueAllSkipsCorrupt tests that one bad item does not hide the rest.
func TestDequeueAllSkipsCorrupt(t *testing.T) {
	q, _, backend := newTestQueue(t, 3)
	enqueue(t, q, session("s1"), models.ActionCreate)

	var b db.Batch
	b.Put(db.CollectionSyncQueue, "bad", []byte("{truncated"))
	if err := backend.Apply(context.Background(), &b); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	enqueue(t, q, session("s2"), models.ActionCreate)

	items, err := q.DequeueAll(context.Background())
	if err != nil {
		t.Fatalf("DequeueAll failed: %v", err)
	}
	if len(items) != 2 {
		t.Errorf("Expected 2 valid items, got %d", len(items))
	}
}

func decode(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// TestSyncQueueFail tests immediate terminal failure.
func TestSyncQueueFail(t *testing.T) {
	q, _, _ := newTestQueue(t, 5)
	item := enqueue(t, q, session("s1"), models.ActionCreate)

	failed, err := q.Fail(context.Background(), item.ID, errors.New("rejected"))
	if err != nil {
		t.Fatalf("Fail failed: %v", err)
	}
	if !failed.Terminal() || failed.RetryCount != 1 {
		t.Errorf("Expected terminal item with 1 retry, got %+v", failed)
	}

	items, _ := q.DequeueAll(context.Background())
	if len(items) != 1 {
		t.Errorf("Failed item must stay queued, got %d items", len(items))
	}
}
