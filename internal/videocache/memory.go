package videocache

import (
	"context"
	"sort"
	"sync"
)

// MemoryBackend keeps records in process memory. Nothing survives a restart.
type MemoryBackend struct {
	mu      sync.RWMutex
	records map[string]Record
	version int
}

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{records: make(map[string]Record)}
}

func (m *MemoryBackend) Get(_ context.Context, id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	rec.Blob = append([]byte(nil), rec.Blob...)
	return &rec, nil
}

func (m *MemoryBackend) Stat(_ context.Context, id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	rec.Blob = nil
	return &rec, nil
}

func (m *MemoryBackend) Put(_ context.Context, rec *Record) error {
	stored := *rec
	stored.Blob = append([]byte(nil), rec.Blob...)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.ID] = stored
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}

func (m *MemoryBackend) List(_ context.Context) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, 0, len(m.records))
	for _, rec := range m.records {
		rec.Blob = nil
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryBackend) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.records)
	return nil
}

func (m *MemoryBackend) SchemaVersion(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version, nil
}

func (m *MemoryBackend) SetSchemaVersion(_ context.Context, v int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.version = v
	return nil
}

func (m *MemoryBackend) Close() error { return nil }
