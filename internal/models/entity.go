// Package models provides the entity records persisted by the tracker core.
package models

import (
	"time"
)

// EntityType identifies one of the four synced entity kinds.
type EntityType string

const (
	EntityMeditation       EntityType = "meditation"
	EntityGuidedMeditation EntityType = "guidedMeditation"
	EntityProgram          EntityType = "program"
	EntityAchievement      EntityType = "achievement"
)

// EntityTypes lists every entity kind in a stable order.
var EntityTypes = []EntityType{EntityMeditation, EntityGuidedMeditation, EntityProgram, EntityAchievement}

// Valid reports whether t is a known entity kind.
func (t EntityType) Valid() bool {
	switch t {
	case EntityMeditation, EntityGuidedMeditation, EntityProgram, EntityAchievement:
		return true
	}
	return false
}

// SyncStatus is the per-entity replication state.
type SyncStatus string

const (
	SyncStatusPending SyncStatus = "pending"
	SyncStatusSyncing SyncStatus = "syncing"
	SyncStatusSynced  SyncStatus = "synced"
	SyncStatusFailed  SyncStatus = "failed"
)

// SyncMetadata is carried by every entity record.
//
// Every local mutation sets IsDirty and bumps UpdatedAt; only an
// acknowledged sync clears IsDirty and sets LastSyncedAt.
type SyncMetadata struct {
	LastSyncedAt *time.Time `json:"lastSyncedAt,omitempty"`
	IsDirty      bool       `json:"isDirty"`
	SyncStatus   SyncStatus `json:"syncStatus"`
	RetryCount   int        `json:"retryCount"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// NewSyncMetadata returns metadata for a record created at now.
func NewSyncMetadata(now time.Time) SyncMetadata {
	return SyncMetadata{
		IsDirty:    true,
		SyncStatus: SyncStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Touch records a local mutation.
func (m *SyncMetadata) Touch(now time.Time) {
	m.IsDirty = true
	m.SyncStatus = SyncStatusPending
	m.UpdatedAt = now
}

// MarkSynced records an acknowledged sync.
func (m *SyncMetadata) MarkSynced(now time.Time) {
	t := now
	m.IsDirty = false
	m.SyncStatus = SyncStatusSynced
	m.RetryCount = 0
	m.LastSyncedAt = &t
}

// MarkFailed records a sync that exhausted its retries. The record stays dirty.
func (m *SyncMetadata) MarkFailed(retries int) {
	m.SyncStatus = SyncStatusFailed
	m.RetryCount = retries
}

// Entity is implemented by pointers to every persisted record kind.
type Entity interface {
	EntityID() string
	SetEntityID(id string)
	EntityType() EntityType
	Metadata() *SyncMetadata
	Validate() error
}

// Keyed is implemented by records that upsert on a business key rather
// than on the store-assigned id.
type Keyed interface {
	Entity
	BusinessKey() string
}
