package conversation

import (
	"errors"
	"strings"
	"sync"
	"time"
)

// Role tags a dialogue turn for the completion service.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ErrInvalidMessage is returned when a message with empty content or an
// unknown role is appended. This is a programming-error class: callers must
// validate input at the boundary, the log never drops silently.
var ErrInvalidMessage = errors.New("invalid conversation message")

// Message is one turn in a tutoring conversation.
type Message struct {
	Role    Role      `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// DefaultCap is the retention cap used for live tutoring sessions.
const DefaultCap = 20

// Log is an append-only, retention-capped dialogue log. When the cap is
// exceeded it keeps the seeded system message (if any) plus the most recent
// cap-2 turns; without a system message it keeps the last cap-1 turns.
// Snapshot returns copies, so session history can only change through
// Append and Reset.
type Log struct {
	mu   sync.Mutex
	cap  int
	msgs []Message
}

// NewLog creates an empty log. A cap below 3 falls back to DefaultCap.
func NewLog(capacity int) *Log {
	if capacity < 3 {
		capacity = DefaultCap
	}
	return &Log{cap: capacity}
}

// NewSeededLog creates a log whose first message is the given system prompt.
func NewSeededLog(capacity int, systemPrompt string) (*Log, error) {
	l := NewLog(capacity)
	if err := l.Append(Message{Role: RoleSystem, Content: systemPrompt}); err != nil {
		return nil, err
	}
	return l, nil
}

// Append adds a message to the end of the log and applies retention.
func (l *Log) Append(m Message) error {
	if strings.TrimSpace(m.Content) == "" {
		return ErrInvalidMessage
	}
	switch m.Role {
	case RoleSystem, RoleUser, RoleAssistant:
	default:
		return ErrInvalidMessage
	}
	if m.At.IsZero() {
		m.At = time.Now().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, m)
	l.trimLocked()
	return nil
}

func (l *Log) trimLocked() {
	if len(l.msgs) <= l.cap {
		return
	}
	if l.msgs[0].Role == RoleSystem {
		keep := l.cap - 2
		kept := make([]Message, 0, keep+1)
		kept = append(kept, l.msgs[0])
		kept = append(kept, l.msgs[len(l.msgs)-keep:]...)
		l.msgs = kept
		return
	}
	keep := l.cap - 1
	l.msgs = append(l.msgs[:0], l.msgs[len(l.msgs)-keep:]...)
}

// Snapshot returns the full ordered sequence as a defensive copy, in the
// exact order it is replayed to the completion service.
func (l *Log) Snapshot() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Message, len(l.msgs))
	copy(out, l.msgs)
	return out
}

// Reset truncates back to the seeded system message, or to empty when the
// log was never seeded.
func (l *Log) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.msgs) > 0 && l.msgs[0].Role == RoleSystem {
		l.msgs = l.msgs[:1]
		return
	}
	l.msgs = l.msgs[:0]
}

// Len reports the current number of retained messages.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.msgs)
}

// Cap reports the retention cap.
func (l *Log) Cap() int { return l.cap }
