package db

import (
	"context"
	"fmt"
	"sync"
)

// MemoryBackend keeps everything in process memory. It is used for tests
// and for the "memory" backend setting.
type MemoryBackend struct {
	mu      sync.RWMutex
	records map[Collection][]RawRecord
	index   map[Collection]map[string]int
	meta    map[MetaKey][]byte
	closed  bool
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	m := &MemoryBackend{
		records: make(map[Collection][]RawRecord),
		index:   make(map[Collection]map[string]int),
		meta:    make(map[MetaKey][]byte),
	}
	for _, c := range Collections {
		m.index[c] = make(map[string]int)
	}
	return m
}

// Load returns copies of every record of c.
func (m *MemoryBackend) Load(ctx context.Context, c Collection) ([]RawRecord, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("unknown collection %q", c)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrBackendClosed
	}

	out := make([]RawRecord, 0, len(m.records[c]))
	for _, r := range m.records[c] {
		out = append(out, RawRecord{ID: r.ID, Data: copyBytes(r.Data)})
	}
	return out, nil
}

// Apply validates the whole batch before touching state, so a rejected
// batch leaves nothing behind.
func (m *MemoryBackend) Apply(ctx context.Context, b *Batch) error {
	if err := b.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrBackendClosed
	}

	for _, op := range b.Ops() {
		switch op.Kind {
		case OpPut:
			data := copyBytes(op.Data)
			if i, ok := m.index[op.Collection][op.ID]; ok {
				m.records[op.Collection][i].Data = data
				continue
			}
			m.index[op.Collection][op.ID] = len(m.records[op.Collection])
			m.records[op.Collection] = append(m.records[op.Collection], RawRecord{ID: op.ID, Data: data})
		case OpDelete:
			m.delete(op.Collection, op.ID)
		case OpSetMeta:
			m.meta[op.Meta] = copyBytes(op.Data)
		}
	}
	return nil
}

func (m *MemoryBackend) delete(c Collection, id string) {
	i, ok := m.index[c][id]
	if !ok {
		return
	}
	records := m.records[c]
	records = append(records[:i], records[i+1:]...)
	m.records[c] = records

	delete(m.index[c], id)
	for j := i; j < len(records); j++ {
		m.index[c][records[j].ID] = j
	}
}

// Meta returns a copy of the value stored under k.
func (m *MemoryBackend) Meta(ctx context.Context, k MetaKey) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, false, ErrBackendClosed
	}
	v, ok := m.meta[k]
	if !ok {
		return nil, false, nil
	}
	return copyBytes(v), true, nil
}

// Close marks the backend closed. Further calls fail with ErrBackendClosed.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
