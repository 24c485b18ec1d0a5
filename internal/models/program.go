package models

import (
	"sort"
	"time"

	apperrors "github.com/silwalsubin/guras-sub000/internal/errors"
)

// ProgramProgress tracks enrollment in a multi-day program. At most one
// live record exists per ProgramID.
type ProgramProgress struct {
	ID             string       `json:"id"`
	ProgramID      string       `json:"programId"`
	TotalDays      int          `json:"totalDays"`
	CurrentDay     int          `json:"currentDay"`
	CompletedDays  []int        `json:"completedDays"`
	IsCompleted    bool         `json:"isCompleted"`
	EnrolledAt     time.Time    `json:"enrolledAt"`
	LastActivityAt time.Time    `json:"lastActivityAt"`
	SyncMetadata   SyncMetadata `json:"syncMetadata"`
}

func (p *ProgramProgress) EntityID() string        { return p.ID }
func (p *ProgramProgress) SetEntityID(id string)   { p.ID = id }
func (p *ProgramProgress) EntityType() EntityType  { return EntityProgram }
func (p *ProgramProgress) Metadata() *SyncMetadata { return &p.SyncMetadata }
func (p *ProgramProgress) BusinessKey() string     { return p.ProgramID }

// Validate checks the record before it is written.
func (p *ProgramProgress) Validate() error {
	if p.ProgramID == "" {
		return apperrors.New(apperrors.ErrValidation, "programId is required")
	}
	if p.TotalDays <= 0 {
		return apperrors.Newf(apperrors.ErrValidation, "totalDays must be positive, got %d", p.TotalDays)
	}
	return nil
}

// Enroll (re)starts the program. Completed days and completion survive a
// re-enrollment.
func (p *ProgramProgress) Enroll(totalDays int, now time.Time) {
	if totalDays > 0 {
		p.TotalDays = totalDays
	}
	p.CurrentDay = 1
	p.EnrolledAt = now
	p.LastActivityAt = now
	p.refreshCompletion()
}

// HasCompletedDay reports whether day is already in CompletedDays.
func (p *ProgramProgress) HasCompletedDay(day int) bool {
	i := sort.SearchInts(p.CompletedDays, day)
	return i < len(p.CompletedDays) && p.CompletedDays[i] == day
}

// CompleteDay records day as completed and reports whether this call
// flipped the program to completed.
func (p *ProgramProgress) CompleteDay(day, totalDays int, now time.Time) (bool, error) {
	if totalDays > 0 {
		p.TotalDays = totalDays
	}
	if day < 1 || day > p.TotalDays {
		return false, apperrors.Newf(apperrors.ErrValidation, "day %d outside 1..%d", day, p.TotalDays)
	}
	if !p.HasCompletedDay(day) {
		p.CompletedDays = append(p.CompletedDays, day)
		sort.Ints(p.CompletedDays)
	}
	if day+1 > p.CurrentDay {
		p.CurrentDay = min(day+1, p.TotalDays)
	}
	p.LastActivityAt = now

	wasCompleted := p.IsCompleted
	p.refreshCompletion()
	return !wasCompleted && p.IsCompleted, nil
}

// refreshCompletion flips IsCompleted once enough days are done. It never
// flips it back.
func (p *ProgramProgress) refreshCompletion() {
	if len(p.CompletedDays) >= p.TotalDays {
		p.IsCompleted = true
	}
}
