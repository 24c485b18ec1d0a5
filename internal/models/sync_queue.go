package models

import (
	"encoding/json"
	"time"
)

// SyncAction is the mutation a queue item replays on the remote.
type SyncAction string

const (
	ActionCreate SyncAction = "CREATE"
	ActionUpdate SyncAction = "UPDATE"
)

// Priority orders drain work across entities.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Rank returns 0 for high, 1 for medium and 2 for low.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	default:
		return 2
	}
}

// PriorityFor returns the default drain priority of an entity kind.
// Session completions are what the user just did, achievements can wait.
func PriorityFor(t EntityType) Priority {
	switch t {
	case EntityMeditation, EntityGuidedMeditation:
		return PriorityHigh
	case EntityProgram:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// QueueStatus is the state of one outbox item.
type QueueStatus string

const (
	QueueStatusPending QueueStatus = "pending"
	QueueStatusFailed  QueueStatus = "failed"
)

// SyncQueueItem is a pending remote mutation. Data is a snapshot of the
// entity taken at enqueue time, not a live reference.
type SyncQueueItem struct {
	ID          string          `json:"id"`
	EntityType  EntityType      `json:"entityType"`
	EntityID    string          `json:"entityId"`
	Action      SyncAction      `json:"action"`
	Data        json.RawMessage `json:"data"`
	Timestamp   time.Time       `json:"timestamp"`
	RetryCount  int             `json:"retryCount"`
	MaxRetries  int             `json:"maxRetries"`
	Priority    Priority        `json:"priority"`
	Status      QueueStatus     `json:"status"`
	LastError   string          `json:"lastError,omitempty"`
	NextRetryAt *time.Time      `json:"nextRetryAt,omitempty"`
}

// Terminal reports whether the item has exhausted its retries.
func (i *SyncQueueItem) Terminal() bool {
	return i.Status == QueueStatusFailed || (i.MaxRetries > 0 && i.RetryCount >= i.MaxRetries)
}

// Due reports whether the item may be attempted at now.
func (i *SyncQueueItem) Due(now time.Time) bool {
	return i.NextRetryAt == nil || !i.NextRetryAt.After(now)
}
