package store

import (
	"context"
	"sort"
	"sync"

	"github.com/sells-group/enrich-cli/internal/model"
)

// MemoryStore keeps encoded records in a map. Records round-trip through
// JSON so that callers never share state with the store.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory returns an empty in-process store.
func NewMemory() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

// Migrate implements RecordStore.
func (s *MemoryStore) Migrate(context.Context) error { return nil }

// Close implements RecordStore.
func (s *MemoryStore) Close() error { return nil }

// Get implements RecordStore.
func (s *MemoryStore) Get(_ context.Context, entityID string) (*model.EnrichmentRecord, error) {
	s.mu.RLock()
	data, ok := s.data[entityID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return decodeOrWarn("memory", entityID, data), nil
}

// Upsert implements RecordStore.
func (s *MemoryStore) Upsert(_ context.Context, entityID string, rec *model.EnrichmentRecord) error {
	data, err := EncodeRecord(entityID, rec)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.data[entityID] = data
	s.mu.Unlock()
	return nil
}

// List implements RecordStore.
func (s *MemoryStore) List(context.Context) ([]*model.EnrichmentRecord, error) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.data))
	for id := range s.data {
		ids = append(ids, id)
	}
	snapshot := make(map[string][]byte, len(s.data))
	for id, d := range s.data {
		snapshot[id] = d
	}
	s.mu.RUnlock()

	sort.Strings(ids)
	out := make([]*model.EnrichmentRecord, 0, len(ids))
	for _, id := range ids {
		if rec := decodeOrWarn("memory", id, snapshot[id]); rec != nil {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Len returns the number of stored keys, readable or not.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// PutRaw stores bytes without validation, for simulating damaged data.
func (s *MemoryStore) PutRaw(entityID string, data []byte) {
	s.mu.Lock()
	s.data[entityID] = append([]byte(nil), data...)
	s.mu.Unlock()
}
