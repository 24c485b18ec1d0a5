// Package telemetry keeps in-process counters for the outbox drain.
// Nothing here leaves the device; the counters are read back through the
// service and logged.
package telemetry

import (
	"sync"
	"time"

	"github.com/silwalsubin/guras-sub000/internal/models"
	syncpkg "github.com/silwalsubin/guras-sub000/internal/sync"
)

// Snapshot is a copy of the counters at one point in time.
type Snapshot struct {
	Drains        int                       `json:"drains"`
	ItemsSynced   int                       `json:"itemsSynced"`
	ItemsRetried  int                       `json:"itemsRetried"`
	ItemsFailed   int                       `json:"itemsFailed"`
	SyncedByType  map[models.EntityType]int `json:"syncedByType"`
	LastDrain     time.Duration             `json:"lastDrain"`
	LastDrainErr  string                    `json:"lastDrainError,omitempty"`
	LastCompleted *time.Time                `json:"lastCompleted,omitempty"`
}

// SyncCounters counts drain events. It implements sync.SyncEventHandler.
//
// Thread-safety: all methods are safe for concurrent use.
type SyncCounters struct {
	mu   sync.Mutex
	snap Snapshot
}

// NewSyncCounters creates zeroed counters.
func NewSyncCounters() *SyncCounters {
	return &SyncCounters{snap: Snapshot{SyncedByType: make(map[models.EntityType]int)}}
}

// OnSyncEvent records one drain event.
func (c *SyncCounters) OnSyncEvent(event syncpkg.SyncEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch event.Type {
	case syncpkg.SyncEventItemSynced:
		c.snap.ItemsSynced++
		c.snap.SyncedByType[event.EntityType]++
	case syncpkg.SyncEventItemFailed:
		if event.Terminal {
			c.snap.ItemsFailed++
		} else {
			c.snap.ItemsRetried++
		}
	case syncpkg.SyncEventCompleted:
		c.snap.Drains++
		c.snap.LastDrainErr = ""
		if event.Err != nil {
			c.snap.LastDrainErr = event.Err.Error()
		}
		if event.Result != nil {
			c.snap.LastDrain = event.Result.Duration
			end := event.Result.EndTime
			c.snap.LastCompleted = &end
		}
	}
}

// Snapshot returns a copy of the counters.
func (c *SyncCounters) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.snap
	s.SyncedByType = make(map[models.EntityType]int, len(c.snap.SyncedByType))
	for k, v := range c.snap.SyncedByType {
		s.SyncedByType[k] = v
	}
	if c.snap.LastCompleted != nil {
		t := *c.snap.LastCompleted
		s.LastCompleted = &t
	}
	return s
}

// Reset zeroes the counters.
func (c *SyncCounters) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap = Snapshot{SyncedByType: make(map[models.EntityType]int)}
}

var _ syncpkg.SyncEventHandler = (*SyncCounters)(nil)
