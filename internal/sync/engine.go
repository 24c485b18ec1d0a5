package sync

import (
	"context"
	"sort"
	gosync "sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/silwalsubin/guras-sub000/internal/clock"
	apperrors "github.com/silwalsubin/guras-sub000/internal/errors"
	"github.com/silwalsubin/guras-sub000/internal/logging"
	"github.com/silwalsubin/guras-sub000/internal/models"
	"github.com/silwalsubin/guras-sub000/internal/store"
	"github.com/silwalsubin/guras-sub000/internal/sync/queue"
)

// SyncStatus represents the current sync status.
type SyncStatus string

const (
	SyncStatusIdle    SyncStatus = "idle"
	SyncStatusSyncing SyncStatus = "syncing"
	SyncStatusFailed  SyncStatus = "failed"
)

// DefaultParallelism is the number of entities drained at once.
const DefaultParallelism = 4

// SyncResult represents the result of a sync operation.
type SyncResult struct {
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
	Entities  int // entities with queued items
	Synced    int // items acknowledged and removed
	Retried   int // items rescheduled after a transient failure
	Failed    int // items that became terminally failed in this pass
	Deferred  int // items left for later: backoff, blocked behind a failure, or cancelled
	Error     string
}

// Options configures a SyncEngine.
type Options struct {
	Parallelism int
	Clock       clock.Clock
	Logger      *logging.Logger
}

// SyncEngine drains the outbox. Items for one entity are sent strictly in
// enqueue order and the first item that does not go through stops that
// entity for this pass. Different entities drain in parallel.
type SyncEngine struct {
	store       *store.Store
	queue       *queue.SyncQueue
	remote      Remote
	parallelism int
	clock       clock.Clock
	log         *logging.Logger

	mu       gosync.RWMutex
	status   SyncStatus
	lastSync *time.Time
	lastErr  error
	handler  SyncEventHandler
}

// NewSyncEngine creates a new SyncEngine.
func NewSyncEngine(s *store.Store, remote Remote, opts Options) *SyncEngine {
	if opts.Parallelism <= 0 {
		opts.Parallelism = DefaultParallelism
	}
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Get()
	}
	return &SyncEngine{
		store:       s,
		queue:       s.Queue(),
		remote:      remote,
		parallelism: opts.Parallelism,
		clock:       opts.Clock,
		log:         opts.Logger,
		status:      SyncStatusIdle,
	}
}

// SetEventHandler sets the event handler for sync notifications.
func (e *SyncEngine) SetEventHandler(handler SyncEventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = handler
}

func (e *SyncEngine) emitEvent(event SyncEvent) {
	e.mu.RLock()
	handler := e.handler
	e.mu.RUnlock()
	if handler != nil {
		handler.OnSyncEvent(event)
	}
}

// Status returns the current sync status.
func (e *SyncEngine) Status() SyncStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// LastSync returns the timestamp of the last drain that acknowledged an item.
func (e *SyncEngine) LastSync() *time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastSync
}

// LastError returns the last sync error.
func (e *SyncEngine) LastError() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastErr
}

// entityQueue is the queued work for one entity, in enqueue order.
type entityQueue struct {
	entityType models.EntityType
	entityID   string
	items      []*models.SyncQueueItem
}

// groupByEntity splits items per entity, keeping enqueue order inside each
// group. Groups are ordered by their best priority, then by their oldest item.
func groupByEntity(items []*models.SyncQueueItem) []*entityQueue {
	index := make(map[string]*entityQueue)
	var groups []*entityQueue
	for _, item := range items {
		key := string(item.EntityType) + "/" + item.EntityID
		g, ok := index[key]
		if !ok {
			g = &entityQueue{entityType: item.EntityType, entityID: item.EntityID}
			index[key] = g
			groups = append(groups, g)
		}
		g.items = append(g.items, item)
	}

	rank := func(g *entityQueue) int {
		best := models.PriorityLow.Rank()
		for _, item := range g.items {
			if r := item.Priority.Rank(); r < best {
				best = r
			}
		}
		return best
	}
	sort.SliceStable(groups, func(i, j int) bool {
		return rank(groups[i]) < rank(groups[j])
	})
	return groups
}

// Sync drains the outbox once. A cancelled ctx stops the drain; items not
// yet acknowledged stay queued and no item is removed after cancellation.
func (e *SyncEngine) Sync(ctx context.Context) (*SyncResult, error) {
	e.mu.Lock()
	if e.status == SyncStatusSyncing {
		e.mu.Unlock()
		return nil, apperrors.New(apperrors.ErrSyncFailed, "sync already in progress")
	}
	e.status = SyncStatusSyncing
	e.lastErr = nil
	e.mu.Unlock()

	result := &SyncResult{StartTime: e.clock.Now()}
	e.emitEvent(SyncEvent{Type: SyncEventStarted})

	err := e.drain(ctx, result)

	result.EndTime = e.clock.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	e.mu.Lock()
	if err != nil {
		e.status = SyncStatusFailed
		e.lastErr = err
		result.Error = err.Error()
	} else {
		e.status = SyncStatusIdle
	}
	e.mu.Unlock()

	if result.Synced > 0 && ctx.Err() == nil {
		if serr := e.store.SetLastSync(ctx, result.EndTime); serr != nil {
			e.log.Error("failed to record last sync time", serr, nil)
		} else {
			end := result.EndTime
			e.mu.Lock()
			e.lastSync = &end
			e.mu.Unlock()
		}
	}

	e.log.Info("sync drain finished", map[string]interface{}{
		"entities": result.Entities,
		"synced":   result.Synced,
		"retried":  result.Retried,
		"failed":   result.Failed,
		"deferred": result.Deferred,
		"duration": result.Duration.String(),
	})
	e.emitEvent(SyncEvent{Type: SyncEventCompleted, Result: result, Err: err})
	return result, err
}

func (e *SyncEngine) drain(ctx context.Context, result *SyncResult) error {
	items, err := e.queue.DequeueAll(ctx)
	if err != nil {
		return err
	}
	groups := groupByEntity(items)
	result.Entities = len(groups)

	var mu gosync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallelism)

	for _, group := range groups {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			counts, err := e.drainEntity(gctx, group)
			mu.Lock()
			result.Synced += counts.Synced
			result.Retried += counts.Retried
			result.Failed += counts.Failed
			result.Deferred += counts.Deferred
			mu.Unlock()
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// drainEntity sends one entity's items in order. It returns an error only
// for local storage failures, which abort the whole drain.
func (e *SyncEngine) drainEntity(ctx context.Context, group *entityQueue) (SyncResult, error) {
	var counts SyncResult
	sent := 0

	defer func() {
		counts.Deferred += len(group.items) - sent
	}()

	for _, item := range group.items {
		if ctx.Err() != nil {
			return counts, nil
		}
		if item.Terminal() || !item.Due(e.clock.Now()) {
			// A later item must not overtake an earlier one
			return counts, nil
		}

		if sent == 0 {
			if _, err := e.store.MarkSyncing(ctx, group.entityType, group.entityID); err != nil {
				return counts, err
			}
		}

		err := e.remote.Upsert(ctx, item)
		if ctx.Err() != nil {
			// Whatever the remote did, the item is sent again next time.
			return counts, nil
		}
		if err != nil {
			sent++
			return counts, e.recordFailure(ctx, item, err, &counts)
		}

		if err := e.queue.Remove(ctx, item.ID); err != nil {
			return counts, err
		}
		sent++
		counts.Synced++
		e.emitEvent(SyncEvent{
			Type:       SyncEventItemSynced,
			ItemID:     item.ID,
			EntityType: item.EntityType,
			EntityID:   item.EntityID,
		})
	}

	if _, err := e.store.MarkSynced(ctx, group.entityType, group.entityID); err != nil {
		return counts, err
	}
	return counts, nil
}

// recordFailure updates retry bookkeeping for a failed item.
func (e *SyncEngine) recordFailure(ctx context.Context, item *models.SyncQueueItem, cause error, counts *SyncResult) error {
	var (
		updated *models.SyncQueueItem
		err     error
	)
	if IsTerminal(cause) {
		updated, err = e.queue.Fail(ctx, item.ID, cause)
	} else {
		updated, err = e.queue.UpdateRetry(ctx, item.ID, cause)
	}
	if err != nil {
		return err
	}

	if updated.Terminal() {
		counts.Failed++
		_, err = e.store.MarkFailed(ctx, item.EntityType, item.EntityID, updated.RetryCount)
	} else {
		counts.Retried++
		_, err = e.store.MarkRetrying(ctx, item.EntityType, item.EntityID, updated.RetryCount)
	}

	e.emitEvent(SyncEvent{
		Type:       SyncEventItemFailed,
		ItemID:     item.ID,
		EntityType: item.EntityType,
		EntityID:   item.EntityID,
		Terminal:   updated.Terminal(),
		Err:        cause,
	})
	return err
}
