package tutor

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mentora/tutorvoice/internal/conversation"
	"github.com/mentora/tutorvoice/internal/session"
)

func newTestContext(t *testing.T) *session.Context {
	t.Helper()
	sc, err := session.NewContext(
		&session.CourseRef{ID: 7, Title: "React"},
		&session.LessonRef{ID: 42, Title: "State and Props"},
		0,
	)
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	return sc
}

func TestProcessInputRecordsBothSides(t *testing.T) {
	client := NewMockClient("useState is a Hook that lets you add state to function components.")
	eng := NewEngine(client, Options{Model: "tutor-1"})
	sc := newTestContext(t)

	reply, err := eng.ProcessInput(context.Background(), sc, "What is useState?")
	if err != nil {
		t.Fatalf("ProcessInput returned error: %v", err)
	}
	if !strings.Contains(reply, "useState") {
		t.Fatalf("unexpected reply %q", reply)
	}

	msgs := sc.Log().Snapshot()
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[0].Role != conversation.RoleSystem {
		t.Fatalf("first message role = %q, want system", msgs[0].Role)
	}
	if msgs[1].Role != conversation.RoleUser || msgs[1].Content != "What is useState?" {
		t.Fatalf("second message = %+v, want the student question", msgs[1])
	}
	if msgs[2].Role != conversation.RoleAssistant || msgs[2].Content != reply {
		t.Fatalf("third message = %+v, want the tutor reply", msgs[2])
	}
}

func TestProcessInputSendsFullHistory(t *testing.T) {
	client := NewMockClient("ok")
	eng := NewEngine(client, Options{})
	sc := newTestContext(t)

	if _, err := eng.ProcessInput(context.Background(), sc, "first question"); err != nil {
		t.Fatalf("first turn: %v", err)
	}
	if _, err := eng.ProcessInput(context.Background(), sc, "second question"); err != nil {
		t.Fatalf("second turn: %v", err)
	}

	last := client.Requests[len(client.Requests)-1]
	// system, user, assistant, user
	if len(last.Messages) != 4 {
		t.Fatalf("expected 4 messages in second request, got %d", len(last.Messages))
	}
	if last.Messages[3].Content != "second question" {
		t.Fatalf("last request message = %q", last.Messages[3].Content)
	}
	if last.MaxTokens != 200 {
		t.Fatalf("MaxTokens = %d, want default 200", last.MaxTokens)
	}
}

func TestProcessInputFailureKeepsStudentMessage(t *testing.T) {
	client := NewMockClient("")
	client.Err = errors.New("service down")
	eng := NewEngine(client, Options{})
	sc := newTestContext(t)
	before := sc.Log().Len()

	_, err := eng.ProcessInput(context.Background(), sc, "Explain closures")
	if err == nil {
		t.Fatal("expected error from failed completion")
	}
	var ce *CompletionError
	if !errors.As(err, &ce) {
		t.Fatalf("error type = %T, want *CompletionError", err)
	}

	msgs := sc.Log().Snapshot()
	if len(msgs) != before+1 {
		t.Fatalf("log grew by %d, want exactly 1", len(msgs)-before)
	}
	if msgs[len(msgs)-1].Role != conversation.RoleUser {
		t.Fatalf("tail role = %q, want user", msgs[len(msgs)-1].Role)
	}
}

func TestProcessInputRejectsEmptyInput(t *testing.T) {
	eng := NewEngine(NewMockClient("ok"), Options{})
	sc := newTestContext(t)

	if _, err := eng.ProcessInput(context.Background(), sc, "   "); !errors.Is(err, conversation.ErrInvalidMessage) {
		t.Fatalf("error = %v, want ErrInvalidMessage", err)
	}
	if sc.Log().Len() != 1 {
		t.Fatalf("log length = %d, want untouched seed", sc.Log().Len())
	}
}

func TestStreamInputAppendsOnlyAfterCompletion(t *testing.T) {
	client := NewMockClient("streamed tutor reply")
	eng := NewEngine(client, Options{})
	sc := newTestContext(t)

	var deltas []string
	lenDuringStream := -1
	reply, err := eng.StreamInput(context.Background(), sc, "stream this", func(delta string) error {
		deltas = append(deltas, delta)
		lenDuringStream = sc.Log().Len()
		return nil
	})
	if err != nil {
		t.Fatalf("StreamInput returned error: %v", err)
	}
	if len(deltas) == 0 {
		t.Fatal("expected at least one delta")
	}
	// While deltas flow only the student message has been recorded.
	if lenDuringStream != 2 {
		t.Fatalf("log length during stream = %d, want 2", lenDuringStream)
	}
	msgs := sc.Log().Snapshot()
	if msgs[len(msgs)-1].Content != reply {
		t.Fatalf("final log entry = %q, want assembled reply %q", msgs[len(msgs)-1].Content, reply)
	}
}

func TestStreamInputFailureLeavesNoAssistantEntry(t *testing.T) {
	client := NewMockClient("ignored")
	client.Err = errors.New("stream cut")
	eng := NewEngine(client, Options{})
	sc := newTestContext(t)

	if _, err := eng.StreamInput(context.Background(), sc, "question", nil); err == nil {
		t.Fatal("expected stream error")
	}
	msgs := sc.Log().Snapshot()
	if msgs[len(msgs)-1].Role != conversation.RoleUser {
		t.Fatalf("tail role = %q, want user", msgs[len(msgs)-1].Role)
	}
}

func TestContextualHelpDoesNotTouchLog(t *testing.T) {
	client := NewMockClient("A closure captures its lexical scope.")
	eng := NewEngine(client, Options{})
	sc := newTestContext(t)
	before := sc.Log().Len()

	reply, err := eng.ContextualHelp(context.Background(), sc.Course(), sc.Lesson(), "What is a closure?", "beginner")
	if err != nil {
		t.Fatalf("ContextualHelp returned error: %v", err)
	}
	if reply == "" {
		t.Fatal("expected non-empty help reply")
	}
	if sc.Log().Len() != before {
		t.Fatalf("log length changed from %d to %d", before, sc.Log().Len())
	}

	req := client.Requests[0]
	if len(req.Messages) != 2 {
		t.Fatalf("help request carried %d messages, want 2", len(req.Messages))
	}
	if !strings.Contains(req.Messages[0].Content, "State and Props") {
		t.Fatalf("help prompt missing lesson title: %q", req.Messages[0].Content)
	}
	if !strings.Contains(req.Messages[0].Content, "beginner") {
		t.Fatalf("help prompt missing difficulty hint: %q", req.Messages[0].Content)
	}
}
