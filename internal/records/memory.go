package records

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrRecordNotFound = errors.New("records: session record not found")

// MemoryStore is a simple in-process record store for local/dev use.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[string]SessionRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]SessionRecord)}
}

func (s *MemoryStore) CreateSession(_ context.Context, rec SessionRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now().UTC()
	}
	s.rows[rec.ID] = rec
	return rec.ID, nil
}

func (s *MemoryStore) FinishSession(_ context.Context, id string, endedAt time.Time, durationMinutes int, topics []string, questions int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rows[id]
	if !ok {
		return ErrRecordNotFound
	}
	rec.EndedAt = &endedAt
	rec.DurationMinutes = durationMinutes
	rec.TopicsCovered = append([]string(nil), topics...)
	rec.QuestionsAsked = questions
	s.rows[id] = rec
	return nil
}

// Get exists for tests to inspect stored rows.
func (s *MemoryStore) Get(id string) (SessionRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.rows[id]
	return rec, ok
}

func (s *MemoryStore) Close() error { return nil }
