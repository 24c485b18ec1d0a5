// Package db provides the durable backing stores for the offline collections.
package db

import (
	"context"
	"fmt"
)

// Collection is one logical durable collection. The set is closed: every
// backend rejects names outside it.
type Collection string

const (
	CollectionMeditationSessions Collection = "offline_meditation_sessions"
	CollectionGuidedSessions     Collection = "offline_guided_sessions"
	CollectionProgramProgress    Collection = "offline_program_progress"
	CollectionAchievements       Collection = "offline_achievements"
	CollectionSyncQueue          Collection = "offline_sync_queue"
)

// Collections lists every collection.
var Collections = []Collection{
	CollectionMeditationSessions,
	CollectionGuidedSessions,
	CollectionProgramProgress,
	CollectionAchievements,
	CollectionSyncQueue,
}

// Valid reports whether c is one of the known collections.
func (c Collection) Valid() bool {
	for _, known := range Collections {
		if c == known {
			return true
		}
	}
	return false
}

// MetaKey names a single durable scalar value.
type MetaKey string

const (
	MetaLastSync MetaKey = "offline_last_sync"
	MetaStreak   MetaKey = "offline_streak"
)

// Valid reports whether k is one of the known meta keys.
func (k MetaKey) Valid() bool {
	return k == MetaLastSync || k == MetaStreak
}

// RawRecord is one stored record. Data is whatever bytes were written; it
// is not guaranteed to be valid JSON.
type RawRecord struct {
	ID   string
	Data []byte
}

// OpKind is the kind of a batched write.
type OpKind int

const (
	OpPut OpKind = iota + 1
	OpDelete
	OpSetMeta
)

// Op is one write in a Batch.
type Op struct {
	Kind       OpKind
	Collection Collection
	ID         string
	Meta       MetaKey
	Data       []byte
}

// Batch is a set of writes that a backend commits all-or-nothing.
type Batch struct {
	ops []Op
}

// Put inserts or replaces the record id in c. A replaced record keeps its
// original insertion position.
func (b *Batch) Put(c Collection, id string, data []byte) {
	b.ops = append(b.ops, Op{Kind: OpPut, Collection: c, ID: id, Data: data})
}

// Delete removes the record id from c. Deleting a missing id is a no-op.
func (b *Batch) Delete(c Collection, id string) {
	b.ops = append(b.ops, Op{Kind: OpDelete, Collection: c, ID: id})
}

// SetMeta sets a meta value.
func (b *Batch) SetMeta(k MetaKey, data []byte) {
	b.ops = append(b.ops, Op{Kind: OpSetMeta, Meta: k, Data: data})
}

// Ops returns the batched writes in order.
func (b *Batch) Ops() []Op {
	return b.ops
}

// Len returns the number of batched writes.
func (b *Batch) Len() int {
	return len(b.ops)
}

// Validate checks every op before a backend starts writing.
func (b *Batch) Validate() error {
	for i, op := range b.ops {
		switch op.Kind {
		case OpPut, OpDelete:
			if !op.Collection.Valid() {
				return fmt.Errorf("op %d: unknown collection %q", i, op.Collection)
			}
			if op.ID == "" {
				return fmt.Errorf("op %d: empty record id", i)
			}
		case OpSetMeta:
			if !op.Meta.Valid() {
				return fmt.Errorf("op %d: unknown meta key %q", i, op.Meta)
			}
		default:
			return fmt.Errorf("op %d: unknown op kind %d", i, op.Kind)
		}
	}
	return nil
}

// Backend is a durable store for the offline collections.
//
// Implementations must commit each Apply entirely or not at all, and must
// return Load results in insertion order.
type Backend interface {
	// Load returns every record of c in insertion order.
	Load(ctx context.Context, c Collection) ([]RawRecord, error)

	// Apply commits a batch atomically.
	Apply(ctx context.Context, b *Batch) error

	// Meta returns a meta value and whether it was set.
	Meta(ctx context.Context, k MetaKey) ([]byte, bool, error)

	// Close releases the backend.
	Close() error
}

// Ensure implementations satisfy Backend at compile time.
var (
	_ Backend = (*SQLiteBackend)(nil)
	_ Backend = (*BoltBackend)(nil)
	_ Backend = (*MemoryBackend)(nil)
	_ Backend = (*Retrying)(nil)
)
