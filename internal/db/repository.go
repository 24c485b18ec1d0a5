package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrBackendClosed is returned by every backend operation after Close.
var ErrBackendClosed = errors.New("backend closed")

// SQLiteBackend stores every collection in one records table.
type SQLiteBackend struct {
	db *DB
}

// OpenSQLite opens (creating if needed) the database inside dataDir and
// applies pending migrations.
func OpenSQLite(dataDir string) (*SQLiteBackend, error) {
	db, err := Open(dataDir)
	if err != nil {
		return nil, err
	}
	return NewSQLiteBackend(db)
}

// NewSQLiteBackend migrates db and wraps it. The backend owns db from here on.
func NewSQLiteBackend(db *DB) (*SQLiteBackend, error) {
	m := NewMigrator(db.DB, Migrations())
	if err := m.Initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize migrations: %w", err)
	}
	if err := m.Up(); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteBackend{db: db}, nil
}

// Load returns every record of c ordered by first insertion.
func (s *SQLiteBackend) Load(ctx context.Context, c Collection) ([]RawRecord, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("unknown collection %q", c)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, data FROM records WHERE collection = ? ORDER BY seq`, string(c))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", c, err)
	}
	defer rows.Close()

	var records []RawRecord
	for rows.Next() {
		var r RawRecord
		if err := rows.Scan(&r.ID, &r.Data); err != nil {
			return nil, fmt.Errorf("scan %s: %w", c, err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load %s: %w", c, err)
	}
	return records, nil
}

// Apply commits b in a single transaction.
func (s *SQLiteBackend) Apply(ctx context.Context, b *Batch) error {
	if err := b.Validate(); err != nil {
		return err
	}
	if b.Len() == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	for _, op := range b.Ops() {
		if err := applySQLiteOp(ctx, tx, op, now); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func applySQLiteOp(ctx context.Context, tx *sql.Tx, op Op, now int64) error {
	data := op.Data
	if data == nil {
		data = []byte{}
	}
	switch op.Kind {
	case OpPut:
		// The upsert keeps seq, so a replaced record keeps its position.
		_, err := tx.ExecContext(ctx, `
			INSERT INTO records (collection, id, data, updated_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(collection, id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
			string(op.Collection), op.ID, data, now)
		if err != nil {
			return fmt.Errorf("write %s/%s: %w", op.Collection, op.ID, err)
		}
	case OpDelete:
		_, err := tx.ExecContext(ctx,
			`DELETE FROM records WHERE collection = ? AND id = ?`, string(op.Collection), op.ID)
		if err != nil {
			return fmt.Errorf("delete %s/%s: %w", op.Collection, op.ID, err)
		}
	case OpSetMeta:
		_, err := tx.ExecContext(ctx, `
			INSERT INTO meta (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			string(op.Meta), data, now)
		if err != nil {
			return fmt.Errorf("write meta %s: %w", op.Meta, err)
		}
	}
	return nil
}

// Meta returns the value stored under k.
func (s *SQLiteBackend) Meta(ctx context.Context, k MetaKey) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, string(k)).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read meta %s: %w", k, err)
	}
	return value, true, nil
}

// Close closes the underlying database.
func (s *SQLiteBackend) Close() error {
	return s.db.Close()
}
