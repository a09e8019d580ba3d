package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jmehdipour/nyx-sync/internal/model"
	"github.com/jmehdipour/nyx-sync/internal/syncerr"
)

// MemoryStore is a process-local Store. Tables must be ensured before use,
// like the SQL stores.
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[string]map[string]model.Record
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tables: make(map[string]map[string]model.Record)}
}

func (m *MemoryStore) EnsureTable(_ context.Context, def model.SchemaDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tables[def.TableName]; !ok {
		m.tables[def.TableName] = make(map[string]model.Record)
	}
	return nil
}

func (m *MemoryStore) ListTableNames(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.tables))
	for name := range m.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemoryStore) Put(ctx context.Context, table, id string, doc model.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[table]
	if !ok {
		return fmt.Errorf("%w: %s", syncerr.ErrTableNotFound, table)
	}
	rec := doc.Clone()
	rec[model.FieldID] = id
	t[id] = rec
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, table, id string) (model.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tables[table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", syncerr.ErrTableNotFound, table)
	}
	rec, ok := t[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", syncerr.ErrNotFound, table, id)
	}
	return rec.Clone(), nil
}

// List returns records ordered by id.
func (m *MemoryStore) List(ctx context.Context, table string) ([]model.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tables[table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", syncerr.ErrTableNotFound, table)
	}
	ids := make([]string, 0, len(t))
	for id := range t {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]model.Record, 0, len(ids))
	for _, id := range ids {
		out = append(out, t[id].Clone())
	}
	return out, nil
}

func (m *MemoryStore) Delete(ctx context.Context, table, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[table]
	if !ok {
		return fmt.Errorf("%w: %s", syncerr.ErrTableNotFound, table)
	}
	delete(t, id)
	return nil
}
