package bruteforce

import (
	"context"
	"sync"
	"time"
)

// MemoryRepository keeps records in process memory.
type MemoryRepository struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[string]Record)}
}

func (m *MemoryRepository) Get(_ context.Context, key string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[key]
	if !ok {
		return Record{}, nil
	}
	return rec, nil
}

func (m *MemoryRepository) RecordFailure(_ context.Context, key string, now time.Time, threshold int, blockTime time.Duration) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.records[key]
	rec.Key = key
	rec.Attempts++
	if rec.Attempts >= threshold {
		rec.BlockedUntil = now.Add(blockTime)
	}
	m.records[key] = rec
	return rec, nil
}

func (m *MemoryRepository) Clear(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.records, key)
	return nil
}

// Len returns the number of tracked keys.
func (m *MemoryRepository) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.records)
}
