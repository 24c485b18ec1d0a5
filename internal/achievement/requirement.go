package achievement

import (
	"time"

	"github.com/silwalsubin/guras-sub000/internal/models"
)

// History is everything the evaluator looks at.
type History struct {
	Meditations   []*models.MeditationSession
	Guided        []*models.GuidedSession
	Programs      []*models.ProgramProgress
	CurrentStreak int
	Now           time.Time
}

// Requirement is one kind of unlock condition. Each kind carries only the
// fields it needs and computes its own progress.
type Requirement interface {
	// Type names the requirement kind.
	Type() string
	// Target is the progress at which the achievement unlocks.
	Target() int
	// Progress computes the raw progress from h.
	Progress(h History) int
}

// SessionCount counts completed sessions, guided ones included.
type SessionCount struct {
	Count int
}

func (r SessionCount) Type() string { return "count" }
func (r SessionCount) Target() int  { return r.Count }

func (r SessionCount) Progress(h History) int {
	return len(h.Meditations) + len(h.Guided)
}

// ProgramsEnrolled counts programs the user has enrolled in.
type ProgramsEnrolled struct {
	Count int
}

func (r ProgramsEnrolled) Type() string { return "count" }
func (r ProgramsEnrolled) Target() int  { return r.Count }

func (r ProgramsEnrolled) Progress(h History) int {
	return len(h.Programs)
}

// StreakDays is reached by the current streak.
type StreakDays struct {
	Days int
}

func (r StreakDays) Type() string { return "streak" }
func (r StreakDays) Target() int  { return r.Days }

func (r StreakDays) Progress(h History) int {
	return h.CurrentStreak
}

// ProgramsCompleted counts fully completed programs.
type ProgramsCompleted struct {
	Count int
}

func (r ProgramsCompleted) Type() string { return "program" }
func (r ProgramsCompleted) Target() int  { return r.Count }

func (r ProgramsCompleted) Progress(h History) int {
	n := 0
	for _, p := range h.Programs {
		if p.IsCompleted {
			n++
		}
	}
	return n
}

// GuidedMinutes sums minutes across guided sessions.
type GuidedMinutes struct {
	Minutes int
}

func (r GuidedMinutes) Type() string { return "time" }
func (r GuidedMinutes) Target() int  { return r.Minutes }

func (r GuidedMinutes) Progress(h History) int {
	total := 0
	for _, s := range h.Guided {
		total += s.Duration
	}
	return total
}

// VarietyField selects what Variety counts.
type VarietyField string

const (
	VarietyTeachers VarietyField = "teachers"
	VarietyThemes   VarietyField = "themes"
)

// DefaultVarietyWindow bounds "recent" guided history for Variety.
const DefaultVarietyWindow = 30 * 24 * time.Hour

// Variety counts distinct teachers or themes among guided sessions
// completed within Window of now.
type Variety struct {
	Field  VarietyField
	Count  int
	Window time.Duration
}

func (r Variety) Type() string { return "variety" }
func (r Variety) Target() int  { return r.Count }

func (r Variety) Progress(h History) int {
	window := r.Window
	if window <= 0 {
		window = DefaultVarietyWindow
	}
	since := h.Now.Add(-window)

	seen := make(map[string]struct{})
	for _, s := range h.Guided {
		if s.CompletedAt.Before(since) {
			continue
		}
		value := s.TeacherName
		if r.Field == VarietyThemes {
			value = s.Theme
		}
		if value != "" {
			seen[value] = struct{}{}
		}
	}
	return len(seen)
}
