package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mentora/tutorvoice/internal/conversation"
)

// Snapshot is the serializable state of an in-progress tutoring call. The
// orchestrator saves one best-effort after each completed turn so a client
// that drops its websocket can resume with its conversation intact.
type Snapshot struct {
	SessionID      string                 `json:"session_id"`
	StudentID      string                 `json:"student_id"`
	Language       string                 `json:"language"`
	Course         *CourseRef             `json:"course,omitempty"`
	Lesson         *LessonRef             `json:"lesson,omitempty"`
	Messages       []conversation.Message `json:"messages"`
	QuestionsAsked int                    `json:"questions_asked"`
	StartedAt      time.Time              `json:"started_at"`
	SavedAt        time.Time              `json:"saved_at"`
}

// SnapshotStore persists and restores call snapshots.
type SnapshotStore interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context, sessionID string) (*Snapshot, error)
	Delete(ctx context.Context, sessionID string) error
	Close() error
}

// NewSnapshotStore returns a redis-backed store when an address is
// configured, otherwise an in-process store for local/dev use.
func NewSnapshotStore(redisAddr, redisPassword string, ttl time.Duration) SnapshotStore {
	if redisAddr == "" {
		return NewMemorySnapshotStore()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: redisPassword,
	})
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &redisSnapshotStore{client: client, ttl: ttl}
}

type memorySnapshotStore struct {
	mu    sync.RWMutex
	snaps map[string]Snapshot
}

func NewMemorySnapshotStore() SnapshotStore {
	return &memorySnapshotStore{snaps: make(map[string]Snapshot)}
}

func (s *memorySnapshotStore) Save(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap.SavedAt.IsZero() {
		snap.SavedAt = time.Now().UTC()
	}
	s.snaps[snap.SessionID] = snap
	return nil
}

func (s *memorySnapshotStore) Load(_ context.Context, sessionID string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snaps[sessionID]
	if !ok {
		return nil, nil
	}
	out := snap
	out.Messages = append([]conversation.Message(nil), snap.Messages...)
	return &out, nil
}

func (s *memorySnapshotStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snaps, sessionID)
	return nil
}

func (s *memorySnapshotStore) Close() error { return nil }

type redisSnapshotStore struct {
	client *redis.Client
	ttl    time.Duration
}

func snapshotKey(sessionID string) string {
	return "tutorvoice:snapshot:" + sessionID
}

func (s *redisSnapshotStore) Save(ctx context.Context, snap Snapshot) error {
	if snap.SavedAt.IsZero() {
		snap.SavedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := s.client.Set(ctx, snapshotKey(snap.SessionID), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *redisSnapshotStore) Load(ctx context.Context, sessionID string) (*Snapshot, error) {
	payload, err := s.client.Get(ctx, snapshotKey(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

func (s *redisSnapshotStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, snapshotKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

func (s *redisSnapshotStore) Close() error {
	return s.client.Close()
}
