package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

var ErrNotFound = errors.New("session not found")

// Session is the managed record of one tutoring call. The conversation
// itself lives in the per-call Context owned by the orchestrator; the
// manager only tracks identity, liveness and the end-of-call aggregates.
type Session struct {
	ID             string     `json:"session_id"`
	StudentID      string     `json:"student_id"`
	Course         *CourseRef `json:"course,omitempty"`
	Lesson         *LessonRef `json:"lesson,omitempty"`
	SessionType    string     `json:"session_type"`
	Language       string     `json:"language"`
	Status         Status     `json:"status"`
	RecordID       string     `json:"record_id,omitempty"`
	QuestionsAsked int        `json:"questions_asked"`
	TopicsCovered  []string   `json:"topics_covered,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        time.Time  `json:"ended_at,omitzero"`
	LastActivityAt time.Time  `json:"last_activity_at"`
}

type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*Session
	inactivityTimeout time.Duration
	onExpire          func(*Session)
}

func NewManager(inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 2 * time.Minute
	}
	return &Manager{
		sessions:          make(map[string]*Session),
		inactivityTimeout: inactivityTimeout,
	}
}

func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

func (m *Manager) Create(studentID, sessionType, language string, course *CourseRef, lesson *LessonRef) *Session {
	now := time.Now().UTC()
	s := &Session{
		ID:             uuid.NewString(),
		StudentID:      studentID,
		Course:         course,
		Lesson:         lesson,
		SessionType:    sessionType,
		Language:       language,
		Status:         StatusActive,
		StartedAt:      now,
		LastActivityAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return clone(s)
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

func (m *Manager) Touch(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// SetRecordID stores the external persisted-record id once the best-effort
// create round-trip succeeds. An empty id means the session runs unrecorded.
func (m *Manager) SetRecordID(sessionID, recordID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.RecordID = recordID
	return nil
}

// MarkStarted stamps the moment the call actually went active, which can
// be later than Create when the client waits on microphone permission.
func (m *Manager) MarkStarted(sessionID string, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.StartedAt = t.UTC()
	s.LastActivityAt = t.UTC()
	return nil
}

// SetLanguage updates the recognition language mid-session.
func (m *Manager) SetLanguage(sessionID, language string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.Language = language
	return nil
}

// RecordQuestion increments the per-session question counter. Every accepted
// user utterance counts, including turns whose completion call later fails.
func (m *Manager) RecordQuestion(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.QuestionsAsked++
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// End marks the session ended and stores its final aggregates.
func (m *Manager) End(sessionID string, topics []string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	now := time.Now().UTC()
	s.Status = StatusEnded
	s.TopicsCovered = append([]string(nil), topics...)
	s.EndedAt = now
	s.LastActivityAt = now
	return clone(s), nil
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, s := range m.sessions {
		if s.Status == StatusActive {
			count++
		}
	}
	return count
}

func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var expired []*Session

	m.mu.Lock()
	for _, s := range m.sessions {
		if s.Status != StatusActive {
			continue
		}
		if now.Sub(s.LastActivityAt) < m.inactivityTimeout {
			continue
		}
		s.Status = StatusEnded
		s.EndedAt = now
		s.LastActivityAt = now
		expired = append(expired, clone(s))
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}

func clone(s *Session) *Session {
	c := *s
	return &c
}
