// Package scheduler runs outbox drains in the background.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/silwalsubin/guras-sub000/internal/errors"
	"github.com/silwalsubin/guras-sub000/internal/logging"
	syncpkg "github.com/silwalsubin/guras-sub000/internal/sync"
	"github.com/silwalsubin/guras-sub000/internal/sync/queue"
)

// Scheduler manages background sync operations.
type Scheduler struct {
	engine        syncpkg.SyncEngineInterface
	queue         *queue.SyncQueue
	log           *logging.Logger
	syncInterval  time.Duration
	queueInterval time.Duration
	syncTimeout   time.Duration
	stopCh        chan struct{}
	wg            sync.WaitGroup

	mu             sync.RWMutex
	isRunning      bool
	isOnline       bool
	lastSyncTime   time.Time
	lastResult     *syncpkg.SyncResult
	syncInProgress bool
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	SyncInterval  time.Duration // How often to drain while online (default: 15 minutes)
	QueueInterval time.Duration // How often to look for due items (default: 1 minute)
	SyncTimeout   time.Duration // Upper bound for one drain (default: 5 minutes)
	Logger        *logging.Logger
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		SyncInterval:  15 * time.Minute,
		QueueInterval: 1 * time.Minute,
		SyncTimeout:   5 * time.Minute,
	}
}

// NewScheduler creates a new Scheduler.
func NewScheduler(engine syncpkg.SyncEngineInterface, q *queue.SyncQueue, config *SchedulerConfig) *Scheduler {
	defaults := DefaultSchedulerConfig()
	if config == nil {
		config = defaults
	}
	if config.SyncInterval <= 0 {
		config.SyncInterval = defaults.SyncInterval
	}
	if config.QueueInterval <= 0 {
		config.QueueInterval = defaults.QueueInterval
	}
	if config.SyncTimeout <= 0 {
		config.SyncTimeout = defaults.SyncTimeout
	}
	log := config.Logger
	if log == nil {
		log = logging.Get()
	}

	return &Scheduler{
		engine:        engine,
		queue:         q,
		log:           log,
		syncInterval:  config.SyncInterval,
		queueInterval: config.QueueInterval,
		syncTimeout:   config.SyncTimeout,
		stopCh:        make(chan struct{}),
		isOnline:      true, // Assume online initially
	}
}

// Start starts the background loops. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	s.wg.Add(2)
	go s.periodicSyncLoop(ctx)
	go s.queueProcessorLoop(ctx)

	s.log.Info("Background sync scheduler started", map[string]interface{}{
		"sync_interval":  s.syncInterval.String(),
		"queue_interval": s.queueInterval.String(),
	})
}

// Stop stops the loops and waits for any drain they started.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	s.log.Info("Background sync scheduler stopped", nil)
}

// SetOnlineStatus changes the online status of the scheduler. Going back
// online starts a drain straight away.
func (s *Scheduler) SetOnlineStatus(ctx context.Context, isOnline bool) {
	s.mu.Lock()
	wasOnline := s.isOnline
	s.isOnline = isOnline
	running := s.isRunning
	s.mu.Unlock()

	if wasOnline == isOnline {
		return
	}
	s.log.Info("Online status changed", map[string]interface{}{
		"was_online": wasOnline,
		"is_online":  isOnline,
	})
	if isOnline && running {
		s.TriggerSync(ctx)
	}
}

// periodicSyncLoop drains on every tick while online.
func (s *Scheduler) periodicSyncLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.TriggerSync(ctx)
		}
	}
}

// queueProcessorLoop drains early when items become due between periodic
// drains, e.g. once a retry backoff expires.
func (s *Scheduler) queueProcessorLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.queueInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			due, err := s.queue.DueCount(ctx)
			if err != nil {
				s.log.Error("Failed to inspect sync queue", err, nil)
				continue
			}
			if due > 0 {
				s.TriggerSync(ctx)
			}
		}
	}
}

// begin claims the in-progress flag.
func (s *Scheduler) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.syncInProgress {
		return false
	}
	s.syncInProgress = true
	return true
}

func (s *Scheduler) end(result *syncpkg.SyncResult, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncInProgress = false
	if result != nil {
		s.lastResult = result
	}
	if err == nil {
		s.lastSyncTime = time.Now()
	}
}

// run executes one drain bounded by the sync timeout and by Stop.
func (s *Scheduler) run(ctx context.Context) (*syncpkg.SyncResult, error) {
	syncCtx, cancel := context.WithTimeout(ctx, s.syncTimeout)
	defer cancel()

	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-syncCtx.Done():
		}
	}()

	return s.engine.Sync(syncCtx)
}

// TriggerSync starts a drain in the background.
// Returns true if a drain was started, false if offline or one is already running.
func (s *Scheduler) TriggerSync(ctx context.Context) bool {
	if !s.IsOnline() {
		s.log.Debug("Skipping sync - scheduler is offline", nil)
		return false
	}
	if !s.begin() {
		s.log.Debug("Sync already in progress, skipping", nil)
		return false
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		result, err := s.run(ctx)
		s.end(result, err)
		if err != nil {
			s.log.ErrorWithCode("Background sync failed", string(errors.ErrSyncFailed), err, nil)
		}
	}()
	return true
}

// SyncNow drains immediately and waits for the result. It runs even when
// the scheduler is marked offline, since the caller asked for it.
func (s *Scheduler) SyncNow(ctx context.Context) (*syncpkg.SyncResult, error) {
	if !s.begin() {
		return nil, errors.New(errors.ErrSyncFailed, "sync already in progress")
	}
	result, err := s.run(ctx)
	s.end(result, err)
	return result, err
}

// SchedulerStatus is a snapshot of the scheduler.
type SchedulerStatus struct {
	IsRunning      bool
	IsOnline       bool
	SyncInProgress bool
	LastSyncTime   *time.Time
	LastResult     *syncpkg.SyncResult
	QueueStats     queue.Stats
}

// GetStatus returns the current status of the scheduler.
func (s *Scheduler) GetStatus(ctx context.Context) (SchedulerStatus, error) {
	s.mu.RLock()
	status := SchedulerStatus{
		IsRunning:      s.isRunning,
		IsOnline:       s.isOnline,
		SyncInProgress: s.syncInProgress,
		LastResult:     s.lastResult,
	}
	if !s.lastSyncTime.IsZero() {
		t := s.lastSyncTime
		status.LastSyncTime = &t
	}
	s.mu.RUnlock()

	stats, err := s.queue.Stats(ctx)
	if err != nil {
		return status, err
	}
	status.QueueStats = stats
	return status, nil
}

// IsOnline returns whether the scheduler is in online mode.
func (s *Scheduler) IsOnline() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isOnline
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
