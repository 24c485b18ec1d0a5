package sync

import (
	"context"
	"errors"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/silwalsubin/guras-sub000/internal/clock"
	"github.com/silwalsubin/guras-sub000/internal/db"
	apperrors "github.com/silwalsubin/guras-sub000/internal/errors"
	"github.com/silwalsubin/guras-sub000/internal/logging"
	"github.com/silwalsubin/guras-sub000/internal/models"
	"github.com/silwalsubin/guras-sub000/internal/store"
	"github.com/silwalsubin/guras-sub000/internal/sync/queue"
)

var t0 = time.Date(2025, 1, 20, 9, 0, 0, 0, time.UTC)

// recordingRemote records every upsert and fails according to fail.
type recordingRemote struct {
	mu    gosync.Mutex
	calls []*models.SyncQueueItem
	fail  func(item *models.SyncQueueItem) error
}

func (r *recordingRemote) Upsert(ctx context.Context, item *models.SyncQueueItem) error {
	r.mu.Lock()
	r.calls = append(r.calls, item)
	fail := r.fail
	r.mu.Unlock()
	if fail != nil {
		return fail(item)
	}
	return nil
}

func (r *recordingRemote) callsFor(entityID string) []models.SyncAction {
	r.mu.Lock()
	defer r.mu.Unlock()
	var actions []models.SyncAction
	for _, c := range r.calls {
		if c.EntityID == entityID {
			actions = append(actions, c.Action)
		}
	}
	return actions
}

type engineFixture struct {
	engine *SyncEngine
	store  *store.Store
	queue  *queue.SyncQueue
	clock  *clock.Manual
	remote *recordingRemote
}

func newEngineFixture(t *testing.T, maxRetries int) *engineFixture {
	t.Helper()
	log := logging.Discard()
	clk := clock.NewManual(t0)
	backend := db.NewRetrying(db.NewMemoryBackend(), log)
	q := queue.NewSyncQueue(backend, queue.Options{MaxRetries: maxRetries, Clock: clk, Logger: log})
	s := store.New(backend, q, store.Options{Clock: clk, Logger: log})
	remote := &recordingRemote{}
	return &engineFixture{
		engine: NewSyncEngine(s, remote, Options{Parallelism: 2, Clock: clk, Logger: log}),
		store:  s,
		queue:  q,
		clock:  clk,
		remote: remote,
	}
}

func (f *engineFixture) createSession(t *testing.T, minutes int) string {
	t.Helper()
	id, err := f.store.Meditations.Create(context.Background(), &models.MeditationSession{
		Duration:    minutes,
		CompletedAt: f.clock.Now(),
	})
	require.NoError(t, err)
	return id
}

func (f *engineFixture) rate(t *testing.T, id string, rating int) {
	t.Helper()
	_, err := f.store.Meditations.Update(context.Background(), id, func(s *models.MeditationSession) error {
		s.Rating = &rating
		return nil
	})
	require.NoError(t, err)
}

func (f *engineFixture) queued(t *testing.T) []*models.SyncQueueItem {
	t.Helper()
	items, err := f.queue.DequeueAll(context.Background())
	require.NoError(t, err)
	return items
}

func TestSync_DrainsInOrderPerEntity(t *testing.T) {
	f := newEngineFixture(t, 3)
	ctx := context.Background()

	a := f.createSession(t, 10)
	b := f.createSession(t, 20)
	f.rate(t, a, 5)

	result, err := f.engine.Sync(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Entities)
	assert.Equal(t, 3, result.Synced)
	assert.Equal(t, []models.SyncAction{models.ActionCreate, models.ActionUpdate}, f.remote.callsFor(a))
	assert.Equal(t, []models.SyncAction{models.ActionCreate}, f.remote.callsFor(b))
	assert.Empty(t, f.queued(t))

	for _, id := range []string{a, b} {
		rec, err := f.store.Meditations.Get(ctx, id)
		require.NoError(t, err)
		assert.False(t, rec.SyncMetadata.IsDirty)
		assert.Equal(t, models.SyncStatusSynced, rec.SyncMetadata.SyncStatus)
		assert.NotNil(t, rec.SyncMetadata.LastSyncedAt)
	}

	last, err := f.store.LastSync(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, last.Equal(t0))
	assert.Equal(t, SyncStatusIdle, f.engine.Status())
	assert.NotNil(t, f.engine.LastSync())
}

func TestSync_TransientFailureBlocksLaterItems(t *testing.T) {
	f := newEngineFixture(t, 3)
	ctx := context.Background()

	a := f.createSession(t, 10)
	f.rate(t, a, 3)
	f.createSession(t, 20)

	f.remote.fail = func(item *models.SyncQueueItem) error {
		if item.EntityID == a {
			return errors.New("503 service unavailable")
		}
		return nil
	}

	result, err := f.engine.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Synced)
	assert.Equal(t, 1, result.Retried)
	assert.Equal(t, 1, result.Deferred)

	// The UPDATE for a was never sent ahead of its CREATE
	assert.Equal(t, []models.SyncAction{models.ActionCreate}, f.remote.callsFor(a))

	items := f.queued(t)
	require.Len(t, items, 2)
	assert.Equal(t, 1, items[0].RetryCount)
	assert.Equal(t, "503 service unavailable", items[0].LastError)
	require.NotNil(t, items[0].NextRetryAt)
	assert.True(t, items[0].NextRetryAt.Equal(t0.Add(2*time.Minute)))

	rec, err := f.store.Meditations.Get(ctx, a)
	require.NoError(t, err)
	assert.True(t, rec.SyncMetadata.IsDirty)
	assert.Equal(t, models.SyncStatusPending, rec.SyncMetadata.SyncStatus)
	assert.Equal(t, 1, rec.SyncMetadata.RetryCount)
}

func TestSync_HonoursBackoff(t *testing.T) {
	f := newEngineFixture(t, 3)
	ctx := context.Background()
	a := f.createSession(t, 10)

	f.remote.fail = func(*models.SyncQueueItem) error { return errors.New("timeout") }
	_, err := f.engine.Sync(ctx)
	require.NoError(t, err)

	f.remote.fail = nil
	result, err := f.engine.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Synced)
	assert.Equal(t, 1, result.Deferred)
	assert.Len(t, f.remote.callsFor(a), 1, "item in backoff must not be sent")

	f.clock.Advance(2 * time.Minute)
	result, err = f.engine.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Synced)
	assert.Empty(t, f.queued(t))
}

func TestSync_TerminalFailureKeepsItem(t *testing.T) {
	f := newEngineFixture(t, 2)
	ctx := context.Background()
	a := f.createSession(t, 10)

	f.remote.fail = func(*models.SyncQueueItem) error { return errors.New("timeout") }
	for i := 0; i < 2; i++ {
		_, err := f.engine.Sync(ctx)
		require.NoError(t, err)
		f.clock.Advance(time.Hour)
	}

	items := f.queued(t)
	require.Len(t, items, 1)
	assert.True(t, items[0].Terminal())

	rec, err := f.store.Meditations.Get(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusFailed, rec.SyncMetadata.SyncStatus)

	// A terminal item is not retried automatically
	result, err := f.engine.Sync(ctx)
	require.NoError(t, err)
	assert.Len(t, f.remote.callsFor(a), 2)
	assert.Equal(t, 1, result.Deferred)

	// RetryAll brings it back
	n, err := f.queue.RetryAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	f.remote.fail = nil
	result, err = f.engine.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Synced)
}

func TestSync_TerminalErrorFailsImmediately(t *testing.T) {
	f := newEngineFixture(t, 5)
	a := f.createSession(t, 10)

	f.remote.fail = func(*models.SyncQueueItem) error {
		return Terminal(errors.New("422 unprocessable entity"))
	}
	result, err := f.engine.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)

	items := f.queued(t)
	require.Len(t, items, 1)
	assert.Equal(t, a, items[0].EntityID)
	assert.Equal(t, models.QueueStatusFailed, items[0].Status)
}

func TestSync_CancellationRemovesNothing(t *testing.T) {
	f := newEngineFixture(t, 3)
	for i := 0; i < 3; i++ {
		f.createSession(t, 10+i)
	}

	ctx, cancel := context.WithCancel(context.Background())
	f.remote.fail = func(*models.SyncQueueItem) error {
		cancel()
		return nil
	}

	_, err := f.engine.Sync(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, f.queued(t), 3)
	for _, item := range f.queued(t) {
		assert.Equal(t, 0, item.RetryCount, "cancellation is not a remote failure")
	}

	last, err := f.store.LastSync(context.Background())
	require.NoError(t, err)
	assert.Nil(t, last)
}

func TestSync_RejectsConcurrentDrain(t *testing.T) {
	f := newEngineFixture(t, 3)
	f.createSession(t, 10)

	entered := make(chan struct{})
	release := make(chan struct{})
	f.remote.fail = func(*models.SyncQueueItem) error {
		close(entered)
		<-release
		return nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := f.engine.Sync(context.Background())
		done <- err
	}()

	<-entered
	assert.Equal(t, SyncStatusSyncing, f.engine.Status())
	_, err := f.engine.Sync(context.Background())
	assert.True(t, apperrors.Is(err, apperrors.ErrSyncFailed))

	close(release)
	require.NoError(t, <-done)
}

func TestSync_NewItemDuringDrainKeepsEntityDirty(t *testing.T) {
	f := newEngineFixture(t, 3)
	a := f.createSession(t, 10)

	once := gosync.Once{}
	f.remote.fail = func(*models.SyncQueueItem) error {
		once.Do(func() { f.rate(t, a, 2) })
		return nil
	}

	result, err := f.engine.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Synced)

	rec, err := f.store.Meditations.Get(context.Background(), a)
	require.NoError(t, err)
	assert.True(t, rec.SyncMetadata.IsDirty)
	assert.Len(t, f.queued(t), 1)
}

type eventCollector struct {
	mu     gosync.Mutex
	events []SyncEventType
}

func (c *eventCollector) OnSyncEvent(event SyncEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event.Type)
}

func TestSync_Events(t *testing.T) {
	f := newEngineFixture(t, 3)
	f.createSession(t, 10)

	collector := &eventCollector{}
	f.engine.SetEventHandler(collector)

	_, err := f.engine.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []SyncEventType{SyncEventStarted, SyncEventItemSynced, SyncEventCompleted}, collector.events)
}

func TestGroupByEntity_PriorityOrder(t *testing.T) {
	items := []*models.SyncQueueItem{
		{ID: "1", EntityType: models.EntityAchievement, EntityID: "ach", Priority: models.PriorityLow},
		{ID: "2", EntityType: models.EntityProgram, EntityID: "prog", Priority: models.PriorityMedium},
		{ID: "3", EntityType: models.EntityMeditation, EntityID: "med", Priority: models.PriorityHigh},
		{ID: "4", EntityType: models.EntityAchievement, EntityID: "ach", Priority: models.PriorityLow},
	}

	groups := groupByEntity(items)
	require.Len(t, groups, 3)
	assert.Equal(t, "med", groups[0].entityID)
	assert.Equal(t, "prog", groups[1].entityID)
	assert.Equal(t, "ach", groups[2].entityID)
	require.Len(t, groups[2].items, 2)
	assert.Equal(t, "1", groups[2].items[0].ID)
	assert.Equal(t, "4", groups[2].items[1].ID)
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(Terminal(errors.New("bad"))))
	assert.False(t, IsTerminal(Transient(errors.New("slow"))))
	assert.False(t, IsTerminal(errors.New("unclassified")))
	assert.Nil(t, Terminal(nil))
	assert.Nil(t, Transient(nil))
}
