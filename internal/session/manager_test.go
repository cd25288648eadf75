package session

import (
	"context"
	"testing"
	"time"
)

func TestManagerCreateGetEnd(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("student-1", "ai_voice_call", "en-US", &CourseRef{ID: 1, Title: "React"}, nil)
	if s.ID == "" {
		t.Fatalf("session ID should not be empty")
	}

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.StudentID != "student-1" || got.Status != StatusActive {
		t.Fatalf("unexpected session state: %+v", got)
	}
	if got.Course == nil || got.Course.Title != "React" {
		t.Fatalf("course not carried: %+v", got.Course)
	}

	ended, err := m.End(s.ID, []string{"React Hooks"})
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if ended.Status != StatusEnded {
		t.Fatalf("ended status = %q, want %q", ended.Status, StatusEnded)
	}
	if len(ended.TopicsCovered) != 1 || ended.TopicsCovered[0] != "React Hooks" {
		t.Fatalf("TopicsCovered = %v", ended.TopicsCovered)
	}
	if ended.EndedAt.IsZero() {
		t.Fatalf("EndedAt not set")
	}
}

func TestManagerRecordQuestionCountsEveryUtterance(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("student-1", "ai_voice_call", "en-US", nil, nil)

	// Both the successful and the failed turn count; the question was asked
	// either way.
	if err := m.RecordQuestion(s.ID); err != nil {
		t.Fatalf("RecordQuestion() error = %v", err)
	}
	if err := m.RecordQuestion(s.ID); err != nil {
		t.Fatalf("RecordQuestion() error = %v", err)
	}

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.QuestionsAsked != 2 {
		t.Fatalf("QuestionsAsked = %d, want 2", got.QuestionsAsked)
	}
}

func TestManagerJanitorExpiresInactive(t *testing.T) {
	m := NewManager(30 * time.Millisecond)
	s := m.Create("student-1", "ai_voice_call", "en-US", nil, nil)

	expired := make(chan *Session, 1)
	m.SetExpireHook(func(sess *Session) { expired <- sess })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartJanitor(ctx, 10*time.Millisecond)

	select {
	case got := <-expired:
		if got.ID != s.ID {
			t.Fatalf("expired session %q, want %q", got.ID, s.ID)
		}
	case <-time.After(time.Second):
		t.Fatalf("janitor did not expire the session")
	}

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != StatusEnded {
		t.Fatalf("Status = %q, want %q", got.Status, StatusEnded)
	}
}
