package services

import (
	"context"
	"fmt"
	"time"

	"github.com/silwalsubin/guras-sub000/internal/achievement"
	apperrors "github.com/silwalsubin/guras-sub000/internal/errors"
	"github.com/silwalsubin/guras-sub000/internal/models"
	syncpkg "github.com/silwalsubin/guras-sub000/internal/sync"
	"github.com/silwalsubin/guras-sub000/internal/sync/scheduler"
	"github.com/silwalsubin/guras-sub000/internal/telemetry"
)

// DerivedStats is the summary shown on the home screen.
type DerivedStats struct {
	TotalSessions    int        `json:"totalSessions"`
	TotalMinutes     int        `json:"totalMinutes"`
	CurrentStreak    int        `json:"currentStreak"`
	LongestStreak    int        `json:"longestStreak"`
	PendingSyncCount int        `json:"pendingSyncCount"`
	FailedSyncCount  int        `json:"failedSyncCount"`
	LastSyncTime     *time.Time `json:"lastSyncTime,omitempty"`
}

// GetDerivedStats computes totals over both session kinds, the current and
// longest streak and the outbox counts.
func (s *TrackerService) GetDerivedStats(ctx context.Context) (*DerivedStats, error) {
	done, err := s.enter()
	if err != nil {
		return nil, err
	}
	defer done()

	h, rec, err := s.refreshStreak(ctx)
	if err != nil {
		return nil, err
	}
	stats := &DerivedStats{TotalSessions: len(h.Meditations) + len(h.Guided)}
	for _, m := range h.Meditations {
		stats.TotalMinutes += m.Duration
	}
	for _, g := range h.Guided {
		stats.TotalMinutes += g.Duration
	}
	stats.CurrentStreak = rec.Current
	stats.LongestStreak = rec.Longest

	qs, err := s.queue.Stats(ctx)
	if err != nil {
		return nil, err
	}
	stats.PendingSyncCount = qs.Total
	stats.FailedSyncCount = qs.Failed

	if stats.LastSyncTime, err = s.store.LastSync(ctx); err != nil {
		return nil, err
	}
	return stats, nil
}

// GetAchievements returns every definition joined with its persisted
// progress.
func (s *TrackerService) GetAchievements(ctx context.Context) ([]achievement.View, error) {
	done, err := s.enter()
	if err != nil {
		return nil, err
	}
	defer done()

	return s.evaluator.Views(ctx)
}

// Sync drains the outbox once against the configured remote.
func (s *TrackerService) Sync(ctx context.Context) (*syncpkg.SyncResult, error) {
	done, err := s.enter()
	if err != nil {
		return nil, err
	}
	defer done()

	if s.engine == nil {
		return nil, apperrors.New(apperrors.ErrValidation, "no remote configured")
	}
	return s.engine.Sync(ctx)
}

// SyncTelemetry returns the drain counters since Open.
func (s *TrackerService) SyncTelemetry() telemetry.Snapshot {
	return s.counters.Snapshot()
}

// StartBackgroundSync starts a scheduler that drains the outbox
// periodically until ctx ends or Close is called. A nil cfg uses the
// intervals from Options.
func (s *TrackerService) StartBackgroundSync(ctx context.Context, cfg *scheduler.SchedulerConfig) (*scheduler.Scheduler, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, apperrors.New(apperrors.ErrClosed, "tracker is closed")
	}
	if s.engine == nil {
		return nil, apperrors.New(apperrors.ErrValidation, "no remote configured")
	}
	if s.scheduler != nil {
		return s.scheduler, nil
	}
	if cfg == nil {
		cfg = scheduler.DefaultSchedulerConfig()
		if s.syncInterval > 0 {
			cfg.SyncInterval = s.syncInterval
		}
		if s.queueInterval > 0 {
			cfg.QueueInterval = s.queueInterval
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = s.log
	}
	s.scheduler = scheduler.NewScheduler(s.engine, s.queue, cfg)
	s.scheduler.Start(ctx)
	return s.scheduler, nil
}

// QueueItems lists the outbox in drain order.
func (s *TrackerService) QueueItems(ctx context.Context) ([]*models.SyncQueueItem, error) {
	done, err := s.enter()
	if err != nil {
		return nil, err
	}
	defer done()

	return s.queue.DequeueAll(ctx)
}

// DiscardQueueItem drops one outbox item without sending it.
func (s *TrackerService) DiscardQueueItem(ctx context.Context, id string) error {
	done, err := s.enter()
	if err != nil {
		return err
	}
	defer done()

	return s.queue.Discard(ctx, id)
}

// RetryFailed puts every terminally failed item back in line.
func (s *TrackerService) RetryFailed(ctx context.Context) (int, error) {
	done, err := s.enter()
	if err != nil {
		return 0, err
	}
	defer done()

	return s.queue.RetryAll(ctx)
}

// PurgeResult counts deleted records per entity type.
type PurgeResult map[models.EntityType]int

// Purge deletes synced sessions older than retentionDays. Program progress
// and achievement records are never purged: their completed days and
// unlocks only ever grow.
func (s *TrackerService) Purge(ctx context.Context, retentionDays int) (PurgeResult, error) {
	done, err := s.enter()
	if err != nil {
		return nil, err
	}
	defer done()

	if retentionDays < 1 {
		return nil, apperrors.Newf(apperrors.ErrValidation, "retention must be at least one day, got %d", retentionDays)
	}
	cutoff := s.clock.Now().AddDate(0, 0, -retentionDays)

	result := PurgeResult{}
	purges := []struct {
		t     models.EntityType
		purge func(context.Context, time.Time) (int, error)
	}{
		{models.EntityMeditation, s.store.Meditations.PurgeOlderThan},
		{models.EntityGuidedMeditation, s.store.Guided.PurgeOlderThan},
	}
	for _, p := range purges {
		n, err := p.purge(ctx, cutoff)
		if err != nil {
			return result, fmt.Errorf("purge %s: %w", p.t, err)
		}
		result[p.t] = n
	}
	return result, nil
}
