package remote

import (
	"context"
	"errors"
	"sync"

	"github.com/silwalsubin/guras-sub000/internal/models"
	syncpkg "github.com/silwalsubin/guras-sub000/internal/sync"
)

// ErrOffline is returned while a Memory remote is offline.
var ErrOffline = errors.New("remote unreachable")

// Memory is an in-process remote with fault injection.
type Memory struct {
	mu       sync.Mutex
	docs     map[string]*models.SyncQueueItem
	calls    int
	offline  bool
	failNext []error
	failFor  map[string]error
}

// NewMemory returns an empty, online Memory remote.
func NewMemory() *Memory {
	return &Memory{
		docs:    make(map[string]*models.SyncQueueItem),
		failFor: make(map[string]error),
	}
}

func docKey(t models.EntityType, id string) string {
	return string(t) + "/" + id
}

// SetOffline makes every call fail transiently until called with false.
func (m *Memory) SetOffline(offline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = offline
}

// FailNext makes the next len(errs) calls return errs in order.
func (m *Memory) FailNext(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = append(m.failNext, errs...)
}

// FailEntity makes every call for entity id return err. A nil err clears it.
func (m *Memory) FailEntity(id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failFor, id)
		return
	}
	m.failFor[id] = err
}

// Upsert stores item under (EntityType, EntityID).
func (m *Memory) Upsert(ctx context.Context, item *models.SyncQueueItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.offline {
		return syncpkg.Transient(ErrOffline)
	}
	if len(m.failNext) > 0 {
		err := m.failNext[0]
		m.failNext = m.failNext[1:]
		return err
	}
	if err, ok := m.failFor[item.EntityID]; ok {
		return err
	}

	copied := *item
	copied.Data = append([]byte(nil), item.Data...)
	m.docs[docKey(item.EntityType, item.EntityID)] = &copied
	return nil
}

// Get returns the last item applied for an entity.
func (m *Memory) Get(t models.EntityType, id string) (*models.SyncQueueItem, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.docs[docKey(t, id)]
	return item, ok
}

// Len returns the number of stored documents.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs)
}

// Calls returns the number of Upsert calls, failed ones included.
func (m *Memory) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

var (
	_ syncpkg.Remote = (*Memory)(nil)
	_ syncpkg.Remote = (*BoltMirror)(nil)
)
