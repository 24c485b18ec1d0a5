package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/silwalsubin/guras-sub000/internal/db"
	apperrors "github.com/silwalsubin/guras-sub000/internal/errors"
	"github.com/silwalsubin/guras-sub000/internal/models"
)

// ErrNoChange may be returned by an update or upsert callback to skip the
// write. The call then succeeds without enqueuing anything.
var ErrNoChange = errors.New("no change")

type entityPtr[T any] interface {
	*T
	models.Entity
}

type keyedPtr[T any] interface {
	*T
	models.Keyed
}

// Collection is the typed accessor for one offline collection.
type Collection[T any, P entityPtr[T]] struct {
	s    *Store
	name db.Collection
}

// Name returns the durable collection name.
func (c *Collection[T, P]) Name() db.Collection {
	return c.name
}

// List returns every record in insertion order. Records that cannot be
// decoded are skipped with a warning.
func (c *Collection[T, P]) List(ctx context.Context) ([]P, error) {
	records, err := c.s.backend.Load(ctx, c.name)
	if err != nil {
		return nil, err
	}

	out := make([]P, 0, len(records))
	for _, r := range records {
		rec, err := c.decode(r)
		if err != nil {
			c.s.log.Warn("skipping corrupt record", map[string]interface{}{
				"collection": string(c.name),
				"record_id":  r.ID,
				"error":      err.Error(),
			})
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (c *Collection[T, P]) decode(r db.RawRecord) (P, error) {
	var v T
	rec := P(&v)
	if err := json.Unmarshal(r.Data, rec); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrParse, "decode record", err)
	}
	if rec.EntityID() == "" {
		rec.SetEntityID(r.ID)
	}
	return rec, nil
}

// Get returns the record with store id.
func (c *Collection[T, P]) Get(ctx context.Context, id string) (P, error) {
	records, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if rec.EntityID() == id {
			return rec, nil
		}
	}
	return nil, apperrors.Newf(apperrors.ErrNotFound, "%s %s not found", c.name, id)
}

// Create assigns rec a fresh id and sync metadata, then writes it together
// with a CREATE outbox item. On failure rec is left as it was passed in.
func (c *Collection[T, P]) Create(ctx context.Context, rec P) (string, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	return c.create(ctx, rec)
}

// create is Create without locking.
func (c *Collection[T, P]) create(ctx context.Context, rec P) (string, error) {
	var b db.Batch
	undo, err := c.stageCreate(&b, rec)
	if err != nil {
		return "", err
	}
	if err := c.s.backend.Apply(ctx, &b); err != nil {
		undo()
		return "", err
	}

	c.s.log.Debug("record created", map[string]interface{}{
		"collection": string(c.name),
		"record_id":  rec.EntityID(),
	})
	return rec.EntityID(), nil
}

// stageCreate gives rec a fresh id and sync metadata and adds it to b with
// a CREATE outbox item. undo puts rec back as it was passed in; call it if
// b is not committed.
func (c *Collection[T, P]) stageCreate(b *db.Batch, rec P) (undo func(), err error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	prevID, prevMeta := rec.EntityID(), *rec.Metadata()
	undo = func() {
		rec.SetEntityID(prevID)
		*rec.Metadata() = prevMeta
	}
	rec.SetEntityID(c.s.newID())
	*rec.Metadata() = models.NewSyncMetadata(c.s.clock.Now())

	if err := c.s.stageWrite(b, c.name, rec, models.ActionCreate); err != nil {
		undo()
		return nil, err
	}
	return undo, nil
}

// Update applies patch to the record with store id and writes it together
// with an UPDATE outbox item. A missing id is NOT_FOUND.
func (c *Collection[T, P]) Update(ctx context.Context, id string, patch func(P) error) (P, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	rec, err := c.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return c.update(ctx, rec, patch)
}

// update is the shared tail of Update and Upsert. Callers hold mu.
func (c *Collection[T, P]) update(ctx context.Context, rec P, patch func(P) error) (P, error) {
	var b db.Batch
	changed, err := c.stageUpdate(&b, rec, patch)
	if err != nil {
		return nil, err
	}
	if !changed {
		return rec, nil
	}
	if err := c.s.backend.Apply(ctx, &b); err != nil {
		return nil, err
	}
	return rec, nil
}

// stageUpdate applies patch to rec and adds the result to b with an UPDATE
// outbox item. changed is false when patch returned ErrNoChange.
func (c *Collection[T, P]) stageUpdate(b *db.Batch, rec P, patch func(P) error) (changed bool, err error) {
	id := rec.EntityID()
	meta := *rec.Metadata()

	if err := patch(rec); err != nil {
		if errors.Is(err, ErrNoChange) {
			return false, nil
		}
		return false, err
	}

	// id and sync metadata are not the patch's to change
	rec.SetEntityID(id)
	*rec.Metadata() = meta
	if err := rec.Validate(); err != nil {
		return false, err
	}
	rec.Metadata().Touch(c.s.clock.Now())

	if err := c.s.stageWrite(b, c.name, rec, models.ActionUpdate); err != nil {
		return false, err
	}
	return true, nil
}

// PurgeOlderThan deletes records created before cutoff. Records that are
// not confirmed synced are always kept. It returns how many were deleted.
func (c *Collection[T, P]) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	records, err := c.List(ctx)
	if err != nil {
		return 0, err
	}

	var b db.Batch
	for _, rec := range records {
		meta := rec.Metadata()
		if !meta.CreatedAt.Before(cutoff) {
			continue
		}
		if meta.SyncStatus != models.SyncStatusSynced || meta.IsDirty {
			continue
		}
		b.Delete(c.name, rec.EntityID())
	}
	if b.Len() == 0 {
		return 0, nil
	}
	if err := c.s.backend.Apply(ctx, &b); err != nil {
		return 0, err
	}

	c.s.log.Info("purged old records", map[string]interface{}{
		"collection": string(c.name),
		"count":      b.Len(),
		"cutoff":     cutoff.Format(time.RFC3339),
	})
	return b.Len(), nil
}

// KeyedCollection is a collection whose records upsert on a business key.
type KeyedCollection[T any, P keyedPtr[T]] struct {
	Collection[T, P]
}

// FindByKey returns the record for key, or NOT_FOUND.
func (c *KeyedCollection[T, P]) FindByKey(ctx context.Context, key string) (P, error) {
	records, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if rec.BusinessKey() == key {
			return rec, nil
		}
	}
	return nil, apperrors.Newf(apperrors.ErrNotFound, "%s with key %s not found", c.name, key)
}

// Create refuses a second record for an existing business key.
func (c *KeyedCollection[T, P]) Create(ctx context.Context, rec P) (string, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	if _, err := c.FindByKey(ctx, rec.BusinessKey()); err == nil {
		return "", apperrors.Newf(apperrors.ErrValidation, "%s with key %s already exists", c.name, rec.BusinessKey())
	} else if !apperrors.Is(err, apperrors.ErrNotFound) {
		return "", err
	}
	return c.create(ctx, rec)
}

// Upsert loads the record for key, or starts a new one, and passes it to
// apply. created reports which. The result is written with an UPDATE or
// CREATE outbox item; there is never more than one record per key.
func (c *KeyedCollection[T, P]) Upsert(ctx context.Context, key string, apply func(rec P, created bool) error) (P, bool, error) {
	if key == "" {
		return nil, false, apperrors.New(apperrors.ErrValidation, "business key is required")
	}

	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	var b db.Batch
	rec, created, undo, err := c.stageUpsert(ctx, &b, key, apply)
	if err != nil || b.Len() == 0 {
		return rec, created, err
	}
	if err := c.s.backend.Apply(ctx, &b); err != nil {
		undo()
		return nil, false, err
	}
	return rec, created, nil
}

// stageUpsert is Upsert up to, but not including, the commit. Nothing is
// added to b when apply returned ErrNoChange. Callers hold mu.
func (c *KeyedCollection[T, P]) stageUpsert(ctx context.Context, b *db.Batch, key string, apply func(rec P, created bool) error) (P, bool, func(), error) {
	noop := func() {}

	rec, err := c.FindByKey(ctx, key)
	switch {
	case err == nil:
		_, err := c.stageUpdate(b, rec, func(p P) error {
			if err := apply(p, false); err != nil {
				return err
			}
			return checkKey(p, key)
		})
		if err != nil {
			return nil, false, noop, err
		}
		return rec, false, noop, nil
	case !apperrors.Is(err, apperrors.ErrNotFound):
		return nil, false, noop, err
	}

	var v T
	rec = P(&v)
	if err := apply(rec, true); err != nil {
		if errors.Is(err, ErrNoChange) {
			return nil, false, noop, nil
		}
		return nil, false, noop, err
	}
	if err := checkKey(rec, key); err != nil {
		return nil, false, noop, err
	}
	undo, err := c.stageCreate(b, rec)
	if err != nil {
		return nil, false, noop, err
	}
	return rec, true, undo, nil
}

func checkKey(rec models.Keyed, key string) error {
	if rec.BusinessKey() != key {
		return apperrors.New(apperrors.ErrValidation,
			fmt.Sprintf("business key changed from %s to %s", key, rec.BusinessKey()))
	}
	return nil
}
