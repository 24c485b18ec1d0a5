package models

import (
	"strings"
	"time"

	apperrors "github.com/silwalsubin/guras-sub000/internal/errors"
)

// Mood is a before/after self-report on a 1-5 scale.
type Mood struct {
	Before int `json:"before"`
	After  int `json:"after"`
}

// MeditationSession is an unguided session completion.
type MeditationSession struct {
	ID           string       `json:"id"`
	Duration     int          `json:"duration"` // minutes
	CompletedAt  time.Time    `json:"completedAt"`
	Rating       *int         `json:"rating,omitempty"`
	Mood         *Mood        `json:"mood,omitempty"`
	SessionType  string       `json:"sessionType"`
	SyncMetadata SyncMetadata `json:"syncMetadata"`
}

func (s *MeditationSession) EntityID() string        { return s.ID }
func (s *MeditationSession) SetEntityID(id string)   { s.ID = id }
func (s *MeditationSession) EntityType() EntityType  { return EntityMeditation }
func (s *MeditationSession) Metadata() *SyncMetadata { return &s.SyncMetadata }

// Validate checks the record before it is written.
func (s *MeditationSession) Validate() error {
	return validateCompletion(s.Duration, s.CompletedAt, s.Rating, s.Mood)
}

// GuidedSession is a completion of a catalogue session led by a teacher.
type GuidedSession struct {
	ID           string       `json:"id"`
	SessionID    string       `json:"sessionId"`
	Title        string       `json:"title"`
	TeacherName  string       `json:"teacherName"`
	Theme        string       `json:"theme"`
	Duration     int          `json:"duration"` // minutes
	CompletedAt  time.Time    `json:"completedAt"`
	Rating       *int         `json:"rating,omitempty"`
	Mood         *Mood        `json:"mood,omitempty"`
	ProgramID    string       `json:"programId,omitempty"`
	ProgramDay   *int         `json:"programDay,omitempty"`
	SyncMetadata SyncMetadata `json:"syncMetadata"`
}

func (s *GuidedSession) EntityID() string        { return s.ID }
func (s *GuidedSession) SetEntityID(id string)   { s.ID = id }
func (s *GuidedSession) EntityType() EntityType  { return EntityGuidedMeditation }
func (s *GuidedSession) Metadata() *SyncMetadata { return &s.SyncMetadata }

// Validate checks the record before it is written.
func (s *GuidedSession) Validate() error {
	if strings.TrimSpace(s.SessionID) == "" {
		return apperrors.New(apperrors.ErrValidation, "guided session requires a sessionId")
	}
	if strings.TrimSpace(s.Title) == "" {
		return apperrors.New(apperrors.ErrValidation, "guided session requires a title")
	}
	if s.ProgramDay != nil && (*s.ProgramDay < 1 || s.ProgramID == "") {
		return apperrors.New(apperrors.ErrValidation, "programDay requires a programId and must be >= 1")
	}
	return validateCompletion(s.Duration, s.CompletedAt, s.Rating, s.Mood)
}

func validateCompletion(duration int, completedAt time.Time, rating *int, mood *Mood) error {
	if duration <= 0 {
		return apperrors.Newf(apperrors.ErrValidation, "duration must be positive, got %d", duration)
	}
	if completedAt.IsZero() {
		return apperrors.New(apperrors.ErrValidation, "completedAt is required")
	}
	if rating != nil && !inScale(*rating) {
		return apperrors.Newf(apperrors.ErrValidation, "rating must be 1-5, got %d", *rating)
	}
	if mood != nil && (!inScale(mood.Before) || !inScale(mood.After)) {
		return apperrors.Newf(apperrors.ErrValidation, "mood must be 1-5, got %d/%d", mood.Before, mood.After)
	}
	return nil
}

func inScale(v int) bool {
	return v >= 1 && v <= 5
}
