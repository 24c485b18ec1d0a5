package achievement

import (
	"context"
	"fmt"
	"time"

	"github.com/silwalsubin/guras-sub000/internal/clock"
	"github.com/silwalsubin/guras-sub000/internal/logging"
	"github.com/silwalsubin/guras-sub000/internal/models"
	"github.com/silwalsubin/guras-sub000/internal/store"
)

// Outcome is the evaluation result for one definition.
type Outcome struct {
	ID       string
	Progress int
	Unlocked bool
	// NewlyUnlocked is set only on the evaluation that crossed the target.
	NewlyUnlocked bool
}

// Evaluate computes outcomes for defs against h. prior holds the persisted
// records by achievement id and may be missing entries. Progress never
// drops below the prior value and an unlocked achievement stays unlocked
// with its progress frozen.
func Evaluate(defs []Definition, h History, prior map[string]*models.AchievementRecord) []Outcome {
	out := make([]Outcome, 0, len(defs))
	for _, def := range defs {
		rec := prior[def.ID]
		if rec != nil && rec.IsUnlocked {
			out = append(out, Outcome{ID: def.ID, Progress: rec.Progress, Unlocked: true})
			continue
		}

		progress := clampProgress(def.Requirement, h)
		if rec != nil && rec.Progress > progress {
			progress = rec.Progress
		}
		unlocked := progress >= def.Requirement.Target()
		out = append(out, Outcome{
			ID:            def.ID,
			Progress:      progress,
			Unlocked:      unlocked,
			NewlyUnlocked: unlocked,
		})
	}
	return out
}

// clampProgress keeps progress within 0..target.
func clampProgress(r Requirement, h History) int {
	return max(0, min(r.Progress(h), r.Target()))
}

// Evaluator runs Evaluate against the store and persists the results.
type Evaluator struct {
	store *store.Store
	defs  []Definition
	clock clock.Clock
	log   *logging.Logger
}

// NewEvaluator creates an Evaluator over defs. A nil defs uses Catalog.
func NewEvaluator(s *store.Store, defs []Definition, clk clock.Clock, log *logging.Logger) *Evaluator {
	if defs == nil {
		defs = Catalog
	}
	if clk == nil {
		clk = clock.System{}
	}
	if log == nil {
		log = logging.Get()
	}
	return &Evaluator{store: s, defs: defs, clock: clk, log: log}
}

// Definitions returns the definitions this evaluator checks.
func (e *Evaluator) Definitions() []Definition {
	return e.defs
}

// Run evaluates every definition against h and writes changed records.
// It returns the ids unlocked by this call. Each record is re-read under
// the store lock, so concurrent runs unlock an achievement at most once.
func (e *Evaluator) Run(ctx context.Context, h History) ([]string, error) {
	now := e.clock.Now()
	if h.Now.IsZero() {
		h.Now = now
	}

	var unlocked []string
	for _, def := range e.defs {
		raw := clampProgress(def.Requirement, h)

		newly := false
		_, _, err := e.store.Achievements.Upsert(ctx, def.ID, func(rec *models.AchievementRecord, created bool) error {
			if created {
				rec.AchievementID = def.ID
			}
			if rec.IsUnlocked {
				return store.ErrNoChange
			}
			raised := rec.Raise(raw)
			if rec.Progress >= def.Requirement.Target() {
				newly = rec.Unlock(now)
			}
			if !raised && !newly {
				return store.ErrNoChange
			}
			return nil
		})
		if err != nil {
			return unlocked, fmt.Errorf("evaluate achievement %s: %w", def.ID, err)
		}
		if newly {
			unlocked = append(unlocked, def.ID)
			e.log.Info("achievement unlocked", map[string]interface{}{
				"achievement_id": def.ID,
				"title":          def.Title,
			})
		}
	}
	return unlocked, nil
}

// Prior loads the persisted records keyed by achievement id.
func (e *Evaluator) Prior(ctx context.Context) (map[string]*models.AchievementRecord, error) {
	records, err := e.store.Achievements.List(ctx)
	if err != nil {
		return nil, err
	}
	prior := make(map[string]*models.AchievementRecord, len(records))
	for _, rec := range records {
		prior[rec.AchievementID] = rec
	}
	return prior, nil
}

// View is the display model for one achievement.
type View struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Icon        string     `json:"icon"`
	Category    Category   `json:"category"`
	Type        string     `json:"type"`
	Target      int        `json:"target"`
	Progress    int        `json:"progress"`
	Percent     int        `json:"percent"`
	IsUnlocked  bool       `json:"isUnlocked"`
	UnlockedAt  *time.Time `json:"unlockedAt,omitempty"`
}

// Views joins the definitions with their persisted records.
func (e *Evaluator) Views(ctx context.Context) ([]View, error) {
	prior, err := e.Prior(ctx)
	if err != nil {
		return nil, err
	}
	return BuildViews(e.defs, prior), nil
}

// BuildViews joins defs with prior. Definitions without a record show
// zero progress.
func BuildViews(defs []Definition, prior map[string]*models.AchievementRecord) []View {
	views := make([]View, 0, len(defs))
	for _, def := range defs {
		v := View{
			ID:          def.ID,
			Title:       def.Title,
			Description: def.Description,
			Icon:        def.Icon,
			Category:    def.Category,
			Type:        def.Requirement.Type(),
			Target:      def.Requirement.Target(),
		}
		if rec, ok := prior[def.ID]; ok {
			v.Progress = rec.Progress
			v.IsUnlocked = rec.IsUnlocked
			v.UnlockedAt = rec.UnlockedAt
		}
		v.Percent = percent(v.Progress, v.Target)
		views = append(views, v)
	}
	return views
}

func percent(progress, target int) int {
	if target <= 0 {
		return 100
	}
	return min(100, progress*100/target)
}
