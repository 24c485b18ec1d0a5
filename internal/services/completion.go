package services

import (
	"context"
	"fmt"
	"time"

	"github.com/silwalsubin/guras-sub000/internal/achievement"
	apperrors "github.com/silwalsubin/guras-sub000/internal/errors"
	"github.com/silwalsubin/guras-sub000/internal/models"
	"github.com/silwalsubin/guras-sub000/internal/streak"
)

// CompletionResult is what a recorded completion produced.
type CompletionResult struct {
	ID            string        `json:"id"`
	Streak        streak.Record `json:"streak"`
	NewlyUnlocked []string      `json:"newlyUnlocked,omitempty"`
	// Program is set when a guided session advanced a program day.
	Program *models.ProgramProgress `json:"program,omitempty"`
}

// RecordCompletion stores a meditation or guided session and re-derives
// the streak and achievements. A guided session carrying a programId and
// programDay also completes that program day.
func (s *TrackerService) RecordCompletion(ctx context.Context, completion models.Entity) (*CompletionResult, error) {
	done, err := s.enter()
	if err != nil {
		return nil, err
	}
	defer done()

	result := &CompletionResult{}
	switch c := completion.(type) {
	case *models.MeditationSession:
		if c == nil {
			return nil, apperrors.New(apperrors.ErrValidation, "completion is required")
		}
		if result.ID, err = s.store.Meditations.Create(ctx, c); err != nil {
			return nil, err
		}
	case *models.GuidedSession:
		if c == nil {
			return nil, apperrors.New(apperrors.ErrValidation, "completion is required")
		}
		if c.ProgramID != "" && c.ProgramDay != nil {
			id, p, err := s.store.CreateGuidedWithProgramDay(ctx, c, s.programDay(c.ProgramID, *c.ProgramDay, 0, nil))
			if err != nil {
				return nil, fmt.Errorf("record guided program day: %w", err)
			}
			result.ID, result.Program = id, p
			break
		}
		if result.ID, err = s.store.Guided.Create(ctx, c); err != nil {
			return nil, err
		}
	default:
		return nil, apperrors.Newf(apperrors.ErrValidation, "cannot record a completion of type %T", completion)
	}

	rec, unlocked, err := s.refresh(ctx)
	if err != nil {
		return nil, err
	}
	result.Streak = rec
	result.NewlyUnlocked = unlocked
	return result, nil
}

// ProgramResult is what a program write produced.
type ProgramResult struct {
	Progress *models.ProgramProgress `json:"progress"`
	// JustCompleted is set only by the call that completed the program.
	JustCompleted bool     `json:"justCompleted"`
	NewlyUnlocked []string `json:"newlyUnlocked,omitempty"`
}

// RecordProgramDay marks day of programID as completed, enrolling in the
// program first if needed. totalDays may be zero for a known program.
func (s *TrackerService) RecordProgramDay(ctx context.Context, programID string, day, totalDays int) (*ProgramResult, error) {
	done, err := s.enter()
	if err != nil {
		return nil, err
	}
	defer done()

	p, completed, err := s.completeProgramDay(ctx, programID, day, totalDays)
	if err != nil {
		return nil, err
	}
	_, unlocked, err := s.refresh(ctx)
	if err != nil {
		return nil, err
	}
	return &ProgramResult{Progress: p, JustCompleted: completed, NewlyUnlocked: unlocked}, nil
}

func (s *TrackerService) completeProgramDay(ctx context.Context, programID string, day, totalDays int) (*models.ProgramProgress, bool, error) {
	completed := false
	p, _, err := s.store.Programs.Upsert(ctx, programID, s.programDay(programID, day, totalDays, &completed))
	if err != nil {
		return nil, false, err
	}
	return p, completed, nil
}

// programDay returns the upsert step that enrolls in programID if needed
// and completes day. completed, when non-nil, is set if that day finished
// the program.
func (s *TrackerService) programDay(programID string, day, totalDays int, completed *bool) func(*models.ProgramProgress, bool) error {
	now := s.clock.Now()
	return func(p *models.ProgramProgress, created bool) error {
		if created {
			if totalDays <= 0 {
				return apperrors.Newf(apperrors.ErrValidation, "program %s is not enrolled and totalDays is missing", programID)
			}
			p.ProgramID = programID
			p.Enroll(totalDays, now)
		}
		done, err := p.CompleteDay(day, totalDays, now)
		if completed != nil {
			*completed = done
		}
		return err
	}
}

// EnrollProgram enrolls in programID, or re-enrolls keeping the days
// already completed.
func (s *TrackerService) EnrollProgram(ctx context.Context, programID string, totalDays int) (*ProgramResult, error) {
	done, err := s.enter()
	if err != nil {
		return nil, err
	}
	defer done()

	now := s.clock.Now()
	p, _, err := s.store.Programs.Upsert(ctx, programID, func(p *models.ProgramProgress, created bool) error {
		if created {
			if totalDays <= 0 {
				return apperrors.Newf(apperrors.ErrValidation, "totalDays must be positive, got %d", totalDays)
			}
			p.ProgramID = programID
		}
		p.Enroll(totalDays, now)
		return nil
	})
	if err != nil {
		return nil, err
	}
	_, unlocked, err := s.refresh(ctx)
	if err != nil {
		return nil, err
	}
	return &ProgramResult{Progress: p, NewlyUnlocked: unlocked}, nil
}

// history loads everything the derived state is computed from.
func (s *TrackerService) history(ctx context.Context) (achievement.History, error) {
	meditations, err := s.store.Meditations.List(ctx)
	if err != nil {
		return achievement.History{}, err
	}
	guided, err := s.store.Guided.List(ctx)
	if err != nil {
		return achievement.History{}, err
	}
	programs, err := s.store.Programs.List(ctx)
	if err != nil {
		return achievement.History{}, err
	}
	return achievement.History{
		Meditations: meditations,
		Guided:      guided,
		Programs:    programs,
		Now:         s.clock.Now(),
	}, nil
}

func completionTimes(h achievement.History) []time.Time {
	times := make([]time.Time, 0, len(h.Meditations)+len(h.Guided))
	for _, m := range h.Meditations {
		times = append(times, m.CompletedAt)
	}
	for _, g := range h.Guided {
		times = append(times, g.CompletedAt)
	}
	return times
}

// refresh recomputes the streak and runs the achievement evaluator.
func (s *TrackerService) refresh(ctx context.Context) (streak.Record, []string, error) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	h, rec, err := s.loadAndRefreshStreak(ctx)
	if err != nil {
		return streak.Record{}, nil, err
	}
	h.CurrentStreak = rec.Current

	unlocked, err := s.evaluator.Run(ctx, h)
	if err != nil {
		return rec, unlocked, err
	}
	return rec, unlocked, nil
}

// refreshStreak is refresh without the achievement pass.
func (s *TrackerService) refreshStreak(ctx context.Context) (achievement.History, streak.Record, error) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	return s.loadAndRefreshStreak(ctx)
}

// loadAndRefreshStreak reads the history and folds it into the persisted
// streak. Callers hold refreshMu.
func (s *TrackerService) loadAndRefreshStreak(ctx context.Context) (achievement.History, streak.Record, error) {
	h, err := s.history(ctx)
	if err != nil {
		return achievement.History{}, streak.Record{}, err
	}
	rec, err := s.tracker.Refresh(ctx, completionTimes(h))
	if err != nil {
		return achievement.History{}, streak.Record{}, fmt.Errorf("refresh streak: %w", err)
	}
	return h, rec, nil
}
