// Package achievement evaluates achievement progress and unlocks.
package achievement

// Category groups achievements for display.
type Category string

const (
	CategorySessions Category = "sessions"
	CategoryStreak   Category = "streak"
	CategoryPrograms Category = "programs"
	CategoryTime     Category = "time"
	CategoryVariety  Category = "variety"
)

// Definition is a static achievement definition.
type Definition struct {
	ID          string
	Title       string
	Description string
	Icon        string
	Category    Category
	Requirement Requirement
}

// Catalog is the built-in set of achievements, in display order.
var Catalog = []Definition{
	{
		ID:          "first_session",
		Title:       "First Step",
		Description: "Complete your first meditation",
		Icon:        "leaf",
		Category:    CategorySessions,
		Requirement: SessionCount{Count: 1},
	},
	{
		ID:          "sessions_10",
		Title:       "Settling In",
		Description: "Complete 10 meditations",
		Icon:        "lotus",
		Category:    CategorySessions,
		Requirement: SessionCount{Count: 10},
	},
	{
		ID:          "sessions_50",
		Title:       "Steady Practice",
		Description: "Complete 50 meditations",
		Icon:        "mountain",
		Category:    CategorySessions,
		Requirement: SessionCount{Count: 50},
	},
	{
		ID:          "streak_3",
		Title:       "Three in a Row",
		Description: "Meditate 3 days in a row",
		Icon:        "flame",
		Category:    CategoryStreak,
		Requirement: StreakDays{Days: 3},
	},
	{
		ID:          "streak_7",
		Title:       "Week of Stillness",
		Description: "Meditate 7 days in a row",
		Icon:        "flame",
		Category:    CategoryStreak,
		Requirement: StreakDays{Days: 7},
	},
	{
		ID:          "streak_30",
		Title:       "Month of Mindfulness",
		Description: "Meditate 30 days in a row",
		Icon:        "sun",
		Category:    CategoryStreak,
		Requirement: StreakDays{Days: 30},
	},
	{
		ID:          "programs_enrolled_1",
		Title:       "Curious Mind",
		Description: "Enroll in a program",
		Icon:        "compass",
		Category:    CategoryPrograms,
		Requirement: ProgramsEnrolled{Count: 1},
	},
	{
		ID:          "program_1",
		Title:       "Path Walker",
		Description: "Complete a program",
		Icon:        "path",
		Category:    CategoryPrograms,
		Requirement: ProgramsCompleted{Count: 1},
	},
	{
		ID:          "program_3",
		Title:       "Seasoned Traveler",
		Description: "Complete 3 programs",
		Icon:        "map",
		Category:    CategoryPrograms,
		Requirement: ProgramsCompleted{Count: 3},
	},
	{
		ID:          "minutes_60",
		Title:       "First Hour",
		Description: "Spend 60 minutes in guided meditation",
		Icon:        "hourglass",
		Category:    CategoryTime,
		Requirement: GuidedMinutes{Minutes: 60},
	},
	{
		ID:          "minutes_600",
		Title:       "Ten Hours Deep",
		Description: "Spend 600 minutes in guided meditation",
		Icon:        "clock",
		Category:    CategoryTime,
		Requirement: GuidedMinutes{Minutes: 600},
	},
	{
		ID:          "teachers_3",
		Title:       "Open Ears",
		Description: "Practice with 3 different teachers in a month",
		Icon:        "voices",
		Category:    CategoryVariety,
		Requirement: Variety{Field: VarietyTeachers, Count: 3},
	},
	{
		ID:          "themes_5",
		Title:       "Explorer",
		Description: "Explore 5 different themes in a month",
		Icon:        "prism",
		Category:    CategoryVariety,
		Requirement: Variety{Field: VarietyThemes, Count: 5},
	},
}

// Lookup returns the definition with id.
func Lookup(id string) (Definition, bool) {
	for _, d := range Catalog {
		if d.ID == id {
			return d, true
		}
	}
	return Definition{}, false
}
