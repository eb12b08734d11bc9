package approval

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
)

// Record is a persisted pending request together with the caller's
// serialized resume state.
type Record struct {
	Request ActionRequest   `json:"request"`
	State   json.RawMessage `json:"state,omitempty"`
}

// Store persists pending requests so a suspension can outlive the process.
// Save is an upsert keyed by Request.ID.
type Store interface {
	Save(ctx context.Context, rec Record) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]Record, error)
}

// MemoryStore is an in-process Store. Records do not survive a restart.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Request.ID] = rec
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

// List implements Store. Records are ordered by creation time.
func (s *MemoryStore) List(_ context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	SortRecords(out)
	return out, nil
}

// SortRecords orders records by creation time, then id.
func SortRecords(recs []Record) {
	slices.SortStableFunc(recs, func(a, b Record) int {
		if c := a.Request.CreatedAt.Compare(b.Request.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.Request.ID < b.Request.ID:
			return -1
		case a.Request.ID > b.Request.ID:
			return 1
		}
		return 0
	})
}
