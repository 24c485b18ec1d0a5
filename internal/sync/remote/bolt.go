// Package remote provides Remote implementations for the sync engine.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/silwalsubin/guras-sub000/internal/models"
	syncpkg "github.com/silwalsubin/guras-sub000/internal/sync"
)

// ErrNotFound is returned by Get for an unknown entity.
var ErrNotFound = errors.New("document not found")

// Document is the remote copy of one entity.
type Document struct {
	EntityType models.EntityType `json:"entityType"`
	EntityID   string            `json:"entityId"`
	ItemID     string            `json:"itemId"`
	Action     models.SyncAction `json:"action"`
	Timestamp  time.Time         `json:"timestamp"`
	Data       json.RawMessage   `json:"data"`
}

// BoltMirror is a file-backed remote: one bucket per entity type, one
// document per entity id. Upserts are last-write-wins on the item
// timestamp, so replaying an older item never rolls a document back.
type BoltMirror struct {
	db *bbolt.DB
}

// OpenBoltMirror opens (creating if needed) the mirror file at path.
func OpenBoltMirror(path string) (*BoltMirror, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create mirror directory: %w", err)
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open mirror: %w", err)
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		for _, t := range models.EntityTypes {
			if _, err := tx.CreateBucketIfNotExists([]byte(t)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create mirror buckets: %w", err)
	}

	return &BoltMirror{db: db}, nil
}

// Upsert stores item as the entity's document unless a newer one is there.
func (m *BoltMirror) Upsert(ctx context.Context, item *models.SyncQueueItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !item.EntityType.Valid() {
		return syncpkg.Terminal(fmt.Errorf("unknown entity type %q", item.EntityType))
	}
	if !json.Valid(item.Data) {
		return syncpkg.Terminal(fmt.Errorf("item %s has invalid payload", item.ID))
	}

	doc := Document{
		EntityType: item.EntityType,
		EntityID:   item.EntityID,
		ItemID:     item.ID,
		Action:     item.Action,
		Timestamp:  item.Timestamp,
		Data:       item.Data,
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return syncpkg.Terminal(err)
	}

	err = m.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(item.EntityType))
		if existing := b.Get([]byte(item.EntityID)); existing != nil {
			var current Document
			if err := json.Unmarshal(existing, &current); err == nil && current.Timestamp.After(item.Timestamp) {
				return nil
			}
		}
		return b.Put([]byte(item.EntityID), data)
	})
	if err != nil {
		return syncpkg.Transient(err)
	}
	return nil
}

// Get returns the document for an entity.
func (m *BoltMirror) Get(t models.EntityType, id string) (*Document, error) {
	var doc *Document
	err := m.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(t))
		if b == nil {
			return fmt.Errorf("unknown entity type %q", t)
		}
		v := b.Get([]byte(id))
		if v == nil {
			return ErrNotFound
		}
		doc = &Document{}
		return json.Unmarshal(v, doc)
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Count returns the number of documents of type t.
func (m *BoltMirror) Count(t models.EntityType) (int, error) {
	var n int
	err := m.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(t))
		if b == nil {
			return fmt.Errorf("unknown entity type %q", t)
		}
		n = b.Stats().KeyN
		return nil
	})
	return n, err
}

// Close closes the mirror file.
func (m *BoltMirror) Close() error {
	return m.db.Close()
}
