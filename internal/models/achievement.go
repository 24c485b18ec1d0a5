package models

import (
	"time"

	apperrors "github.com/silwalsubin/guras-sub000/internal/errors"
)

// AchievementRecord is the persisted mirror of evaluator output for one
// achievement definition.
type AchievementRecord struct {
	ID            string       `json:"id"`
	AchievementID string       `json:"achievementId"`
	Progress      int          `json:"progress"`
	IsUnlocked    bool         `json:"isUnlocked"`
	UnlockedAt    *time.Time   `json:"unlockedAt,omitempty"`
	SyncMetadata  SyncMetadata `json:"syncMetadata"`
}

func (a *AchievementRecord) EntityID() string        { return a.ID }
func (a *AchievementRecord) SetEntityID(id string)   { a.ID = id }
func (a *AchievementRecord) EntityType() EntityType  { return EntityAchievement }
func (a *AchievementRecord) Metadata() *SyncMetadata { return &a.SyncMetadata }
func (a *AchievementRecord) BusinessKey() string     { return a.AchievementID }

// Validate checks the record before it is written.
func (a *AchievementRecord) Validate() error {
	if a.AchievementID == "" {
		return apperrors.New(apperrors.ErrValidation, "achievementId is required")
	}
	if a.Progress < 0 {
		return apperrors.Newf(apperrors.ErrValidation, "progress must not be negative, got %d", a.Progress)
	}
	return nil
}

// Raise lifts Progress to progress if it is higher and reports whether it moved.
func (a *AchievementRecord) Raise(progress int) bool {
	if progress <= a.Progress {
		return false
	}
	a.Progress = progress
	return true
}

// Unlock flips the record to unlocked and reports whether this call did it.
// Calling it again leaves UnlockedAt untouched.
func (a *AchievementRecord) Unlock(now time.Time) bool {
	if a.IsUnlocked {
		return false
	}
	t := now
	a.IsUnlocked = true
	a.UnlockedAt = &t
	return true
}
