// Package store is the entity store: one typed accessor per offline
// collection, each write committed together with its outbox item.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/silwalsubin/guras-sub000/internal/clock"
	"github.com/silwalsubin/guras-sub000/internal/db"
	apperrors "github.com/silwalsubin/guras-sub000/internal/errors"
	"github.com/silwalsubin/guras-sub000/internal/logging"
	"github.com/silwalsubin/guras-sub000/internal/models"
	"github.com/silwalsubin/guras-sub000/internal/sync/queue"
	"github.com/silwalsubin/guras-sub000/internal/uuid"
)

// Options configures a Store.
type Options struct {
	Clock  clock.Clock
	Logger *logging.Logger
	// NewID overrides id generation in tests.
	NewID func() string
}

// Store owns the entity collections. Every mutating call holds mu for its
// whole read-modify-write and commits a single batch, so a call either
// lands entirely or not at all.
type Store struct {
	backend db.Backend
	queue   *queue.SyncQueue
	clock   clock.Clock
	log     *logging.Logger
	newID   func() string

	mu sync.Mutex

	Meditations  *Collection[models.MeditationSession, *models.MeditationSession]
	Guided       *Collection[models.GuidedSession, *models.GuidedSession]
	Programs     *KeyedCollection[models.ProgramProgress, *models.ProgramProgress]
	Achievements *KeyedCollection[models.AchievementRecord, *models.AchievementRecord]
}

// New creates a Store. backend should already be wrapped with
// db.NewRetrying; q must share the same backend.
func New(backend db.Backend, q *queue.SyncQueue, opts Options) *Store {
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Get()
	}
	if opts.NewID == nil {
		opts.NewID = uuid.New
	}

	s := &Store{
		backend: backend,
		queue:   q,
		clock:   opts.Clock,
		log:     opts.Logger,
		newID:   opts.NewID,
	}
	s.Meditations = &Collection[models.MeditationSession, *models.MeditationSession]{s: s, name: db.CollectionMeditationSessions}
	s.Guided = &Collection[models.GuidedSession, *models.GuidedSession]{s: s, name: db.CollectionGuidedSessions}
	s.Programs = &KeyedCollection[models.ProgramProgress, *models.ProgramProgress]{
		Collection: Collection[models.ProgramProgress, *models.ProgramProgress]{s: s, name: db.CollectionProgramProgress},
	}
	s.Achievements = &KeyedCollection[models.AchievementRecord, *models.AchievementRecord]{
		Collection: Collection[models.AchievementRecord, *models.AchievementRecord]{s: s, name: db.CollectionAchievements},
	}
	return s
}

// Queue returns the outbox the store enqueues into.
func (s *Store) Queue() *queue.SyncQueue {
	return s.queue
}

// CollectionFor maps an entity kind to its collection.
func CollectionFor(t models.EntityType) (db.Collection, error) {
	switch t {
	case models.EntityMeditation:
		return db.CollectionMeditationSessions, nil
	case models.EntityGuidedMeditation:
		return db.CollectionGuidedSessions, nil
	case models.EntityProgram:
		return db.CollectionProgramProgress, nil
	case models.EntityAchievement:
		return db.CollectionAchievements, nil
	}
	return "", apperrors.Newf(apperrors.ErrValidation, "unknown entity type %q", t)
}

func newEntity(t models.EntityType) models.Entity {
	switch t {
	case models.EntityMeditation:
		return &models.MeditationSession{}
	case models.EntityGuidedMeditation:
		return &models.GuidedSession{}
	case models.EntityProgram:
		return &models.ProgramProgress{}
	default:
		return &models.AchievementRecord{}
	}
}

// stageWrite adds the entity record and its outbox item to b.
func (s *Store) stageWrite(b *db.Batch, c db.Collection, e models.Entity, action models.SyncAction) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", e.EntityType(), e.EntityID(), err)
	}
	item, err := s.queue.NewItem(e, action)
	if err != nil {
		return err
	}
	b.Put(c, e.EntityID(), data)
	return s.queue.Stage(b, item)
}

// MarkSynced clears the dirty flag of entity id once nothing for it is
// left in the outbox. It reports whether the entity was marked.
func (s *Store) MarkSynced(ctx context.Context, t models.EntityType, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	remaining, err := s.queue.ForEntity(ctx, id)
	if err != nil {
		return false, err
	}
	if len(remaining) > 0 {
		return false, nil
	}

	now := s.clock.Now()
	return s.setSyncState(ctx, t, id, func(m *models.SyncMetadata) {
		m.MarkSynced(now)
	})
}

// MarkFailed records that syncing entity id failed terminally.
func (s *Store) MarkFailed(ctx context.Context, t models.EntityType, id string, retries int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.setSyncState(ctx, t, id, func(m *models.SyncMetadata) {
		m.MarkFailed(retries)
	})
}

// MarkRetrying puts entity id back to pending after a retryable failure.
func (s *Store) MarkRetrying(ctx context.Context, t models.EntityType, id string, retries int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.setSyncState(ctx, t, id, func(m *models.SyncMetadata) {
		m.SyncStatus = models.SyncStatusPending
		m.RetryCount = retries
	})
}

// MarkSyncing flags entity id as having an item in flight.
func (s *Store) MarkSyncing(ctx context.Context, t models.EntityType, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.setSyncState(ctx, t, id, func(m *models.SyncMetadata) {
		m.SyncStatus = models.SyncStatusSyncing
	})
}

// setSyncState rewrites sync metadata without enqueuing anything: sync
// bookkeeping is not a user mutation. Callers hold mu.
func (s *Store) setSyncState(ctx context.Context, t models.EntityType, id string, fn func(*models.SyncMetadata)) (bool, error) {
	c, err := CollectionFor(t)
	if err != nil {
		return false, err
	}
	records, err := s.backend.Load(ctx, c)
	if err != nil {
		return false, err
	}

	for _, r := range records {
		if r.ID != id {
			continue
		}
		e := newEntity(t)
		if err := json.Unmarshal(r.Data, e); err != nil {
			return false, apperrors.Wrap(apperrors.ErrParse, fmt.Sprintf("decode %s %s", c, id), err)
		}
		fn(e.Metadata())
		data, err := json.Marshal(e)
		if err != nil {
			return false, fmt.Errorf("encode %s %s: %w", c, id, err)
		}
		var b db.Batch
		b.Put(c, id, data)
		if err := s.backend.Apply(ctx, &b); err != nil {
			return false, err
		}
		return true, nil
	}
	// The entity may have been purged; its queue items were still valid.
	return false, nil
}

// LastSync returns the time of the last drain that acknowledged an item.
func (s *Store) LastSync(ctx context.Context) (*time.Time, error) {
	var t time.Time
	ok, err := s.ReadMeta(ctx, db.MetaLastSync, &t)
	if err != nil || !ok {
		return nil, err
	}
	return &t, nil
}

// SetLastSync records t as the last successful sync time.
func (s *Store) SetLastSync(ctx context.Context, t time.Time) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode last sync: %w", err)
	}
	var b db.Batch
	b.SetMeta(db.MetaLastSync, data)
	return s.backend.Apply(ctx, &b)
}

// ReadMeta decodes the JSON value under k into v and reports whether it
// was set. A corrupt value is logged and treated as unset.
func (s *Store) ReadMeta(ctx context.Context, k db.MetaKey, v interface{}) (bool, error) {
	data, ok, err := s.backend.Meta(ctx, k)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		s.log.Warn("ignoring corrupt meta value", map[string]interface{}{
			"key":   string(k),
			"error": err.Error(),
		})
		return false, nil
	}
	return true, nil
}

// WriteMeta stores v as JSON under k.
func (s *Store) WriteMeta(ctx context.Context, k db.MetaKey, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode meta %s: %w", k, err)
	}
	var b db.Batch
	b.SetMeta(k, data)
	return s.backend.Apply(ctx, &b)
}

// CreateGuidedWithProgramDay writes g together with the program record
// apply produces, both outbox items included, in a single batch. Either
// both land or neither does; on failure g is left as it was passed in.
func (s *Store) CreateGuidedWithProgramDay(ctx context.Context, g *models.GuidedSession, apply func(p *models.ProgramProgress, created bool) error) (string, *models.ProgramProgress, error) {
	if g == nil {
		return "", nil, apperrors.New(apperrors.ErrValidation, "guided session is required")
	}
	if g.ProgramID == "" {
		return "", nil, apperrors.New(apperrors.ErrValidation, "guided session has no programId")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var b db.Batch
	p, _, undoProgram, err := s.Programs.stageUpsert(ctx, &b, g.ProgramID, apply)
	if err != nil {
		return "", nil, err
	}
	undoGuided, err := s.Guided.stageCreate(&b, g)
	if err != nil {
		undoProgram()
		return "", nil, err
	}
	if err := s.backend.Apply(ctx, &b); err != nil {
		undoGuided()
		undoProgram()
		return "", nil, err
	}

	s.log.Debug("guided session recorded with program day", map[string]interface{}{
		"record_id":  g.EntityID(),
		"program_id": g.ProgramID,
	})
	return g.EntityID(), p, nil
}
