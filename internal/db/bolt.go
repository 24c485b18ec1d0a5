package db

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/silwalsubin/guras-sub000/internal/logging"
)

// BoltFileName is the bbolt file created inside the data directory.
const BoltFileName = "guras.bolt"

const (
	boltBucketMeta  = "meta"    // key: MetaKey -> value
	boltIndexSuffix = "__index" // key: record id -> sequence key
)

// BoltBackend stores each collection in its own bucket keyed by an
// insertion sequence, plus an id index bucket per collection.
type BoltBackend struct {
	db  *bbolt.DB
	log *logging.Logger
}

// OpenBolt opens (creating if needed) the bbolt file inside dataDir.
func OpenBolt(dataDir string) (*BoltBackend, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return OpenBoltFile(filepath.Join(dataDir, BoltFileName))
}

// OpenBoltFile opens the bbolt file at path and creates all buckets.
func OpenBoltFile(path string) (*BoltBackend, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt: %w", err)
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(boltBucketMeta)); err != nil {
			return err
		}
		for _, c := range Collections {
			if _, err := tx.CreateBucketIfNotExists([]byte(c)); err != nil {
				return err
			}
			if _, err := tx.CreateBucketIfNotExists(indexBucket(c)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &BoltBackend{db: db, log: logging.Get()}, nil
}

// SetLogger replaces the logger used to report skipped records.
func (b *BoltBackend) SetLogger(log *logging.Logger) {
	if log != nil {
		b.log = log
	}
}

func indexBucket(c Collection) []byte {
	return []byte(string(c) + boltIndexSuffix)
}

// Load walks the collection bucket in sequence order. A value whose
// envelope cannot be decoded is skipped with a warning.
func (b *BoltBackend) Load(ctx context.Context, c Collection) ([]RawRecord, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("unknown collection %q", c)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var records []RawRecord
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(c)).ForEach(func(k, v []byte) error {
			id, data, err := decodeEnvelope(v)
			if err != nil {
				b.log.Warn("skipping malformed record", map[string]interface{}{
					"collection": string(c),
					"key":        fmt.Sprintf("%x", k),
					"error":      err.Error(),
				})
				return nil
			}
			records = append(records, RawRecord{ID: id, Data: data})
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", c, err)
	}
	return records, nil
}

// Apply commits b in a single bbolt update transaction.
func (b *BoltBackend) Apply(ctx context.Context, batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if batch.Len() == 0 {
		return nil
	}

	return b.db.Update(func(tx *bbolt.Tx) error {
		for _, op := range batch.Ops() {
			if err := applyBoltOp(tx, op); err != nil {
				return err
			}
		}
		return nil
	})
}

func applyBoltOp(tx *bbolt.Tx, op Op) error {
	switch op.Kind {
	case OpPut:
		records := tx.Bucket([]byte(op.Collection))
		index := tx.Bucket(indexBucket(op.Collection))

		key := index.Get([]byte(op.ID))
		if key == nil {
			seq, err := records.NextSequence()
			if err != nil {
				return fmt.Errorf("next sequence %s: %w", op.Collection, err)
			}
			key = make([]byte, 8)
			binary.BigEndian.PutUint64(key, seq)
			if err := index.Put([]byte(op.ID), key); err != nil {
				return fmt.Errorf("write index %s/%s: %w", op.Collection, op.ID, err)
			}
		} else {
			// Values returned by Get are only valid inside the transaction
			// and must not be reused as keys after further writes.
			key = append([]byte(nil), key...)
		}
		if err := records.Put(key, encodeEnvelope(op.ID, op.Data)); err != nil {
			return fmt.Errorf("write %s/%s: %w", op.Collection, op.ID, err)
		}
	case OpDelete:
		records := tx.Bucket([]byte(op.Collection))
		index := tx.Bucket(indexBucket(op.Collection))

		key := index.Get([]byte(op.ID))
		if key == nil {
			return nil
		}
		key = append([]byte(nil), key...)
		if err := records.Delete(key); err != nil {
			return fmt.Errorf("delete %s/%s: %w", op.Collection, op.ID, err)
		}
		if err := index.Delete([]byte(op.ID)); err != nil {
			return fmt.Errorf("delete index %s/%s: %w", op.Collection, op.ID, err)
		}
	case OpSetMeta:
		if err := tx.Bucket([]byte(boltBucketMeta)).Put([]byte(op.Meta), copyBytes(op.Data)); err != nil {
			return fmt.Errorf("write meta %s: %w", op.Meta, err)
		}
	}
	return nil
}

// Meta returns the value stored under k.
func (b *BoltBackend) Meta(ctx context.Context, k MetaKey) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	var (
		value []byte
		found bool
	)
	err := b.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(boltBucketMeta)).Get([]byte(k))
		if v != nil {
			value, found = copyBytes(v), true
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("read meta %s: %w", k, err)
	}
	return value, found, nil
}

// Close closes the bbolt file.
func (b *BoltBackend) Close() error {
	return b.db.Close()
}

// encodeEnvelope prefixes data with the uvarint length of id and id itself.
func encodeEnvelope(id string, data []byte) []byte {
	buf := make([]byte, binary.MaxVarintLen64, binary.MaxVarintLen64+len(id)+len(data))
	n := binary.PutUvarint(buf, uint64(len(id)))
	buf = buf[:n]
	buf = append(buf, id...)
	return append(buf, data...)
}

func decodeEnvelope(v []byte) (string, []byte, error) {
	size, n := binary.Uvarint(v)
	if n <= 0 || uint64(len(v)-n) < size {
		return "", nil, fmt.Errorf("malformed envelope")
	}
	id := string(v[n : n+int(size)])
	return id, copyBytes(v[n+int(size):]), nil
}

func copyBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
