package session

import (
	"strings"
	"testing"
	"time"

	"github.com/mentora/tutorvoice/internal/conversation"
)

func TestNewContextSeedsCourseAndLesson(t *testing.T) {
	ctx, err := NewContext(
		&CourseRef{ID: 1, Title: "React"},
		&LessonRef{ID: 7, Title: "State and Props"},
		conversation.DefaultCap,
	)
	if err != nil {
		t.Fatalf("NewContext() error = %v", err)
	}

	snap := ctx.Log().Snapshot()
	if len(snap) != 1 {
		t.Fatalf("seeded log has %d messages, want 1", len(snap))
	}
	if snap[0].Role != conversation.RoleSystem {
		t.Fatalf("seed role = %q, want system", snap[0].Role)
	}
	if !strings.Contains(snap[0].Content, "React") {
		t.Fatalf("system prompt %q does not mention the course", snap[0].Content)
	}
	if !strings.Contains(snap[0].Content, "State and Props") {
		t.Fatalf("system prompt %q does not mention the lesson", snap[0].Content)
	}
}

func TestNewContextWithoutCourse(t *testing.T) {
	ctx, err := NewContext(nil, nil, conversation.DefaultCap)
	if err != nil {
		t.Fatalf("NewContext() error = %v", err)
	}
	snap := ctx.Log().Snapshot()
	if len(snap) != 1 || snap[0].Role != conversation.RoleSystem {
		t.Fatalf("unexpected seed: %+v", snap)
	}
}

func TestSummarizeCountsAndTopics(t *testing.T) {
	ctx, err := NewContext(&CourseRef{ID: 1, Title: "React"}, nil, conversation.DefaultCap)
	if err != nil {
		t.Fatalf("NewContext() error = %v", err)
	}
	log := ctx.Log()
	_ = log.Append(conversation.Message{Role: conversation.RoleUser, Content: "What is useState?"})
	_ = log.Append(conversation.Message{Role: conversation.RoleAssistant, Content: "useState is a Hook that lets components hold state."})
	_ = log.Append(conversation.Message{Role: conversation.RoleUser, Content: "How do goroutines compare?"})

	s := ctx.Summarize(time.Now())
	if s.TotalMessages != 4 {
		t.Fatalf("TotalMessages = %d, want 4", s.TotalMessages)
	}
	if s.UserMessages != 2 || s.AIMessages != 1 {
		t.Fatalf("user/ai = %d/%d, want 2/1", s.UserMessages, s.AIMessages)
	}
	if !containsTopic(s.Topics, "React Hooks") {
		t.Fatalf("Topics = %v, want React Hooks detected", s.Topics)
	}
	if !containsTopic(s.Topics, "Go Concurrency") {
		t.Fatalf("Topics = %v, want Go Concurrency detected", s.Topics)
	}
}

func TestSummarizeDurationZeroUntilStarted(t *testing.T) {
	ctx, err := NewContext(nil, nil, conversation.DefaultCap)
	if err != nil {
		t.Fatalf("NewContext() error = %v", err)
	}
	if d := ctx.Summarize(time.Now()).Duration; d != 0 {
		t.Fatalf("Duration = %v before MarkStarted, want 0", d)
	}

	start := time.Now().Add(-90 * time.Second)
	ctx.MarkStarted(start)
	got := ctx.Summarize(start.Add(90 * time.Second)).Duration
	if got != 90*time.Second {
		t.Fatalf("Duration = %v, want 90s", got)
	}
}

func containsTopic(topics []string, want string) bool {
	for _, topic := range topics {
		if topic == want {
			return true
		}
	}
	return false
}
