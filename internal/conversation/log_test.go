package conversation

import (
	"errors"
	"fmt"
	"testing"
)

func TestAppendRejectsEmptyContent(t *testing.T) {
	l := NewLog(DefaultCap)
	if err := l.Append(Message{Role: RoleUser, Content: "   "}); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("Append(empty) error = %v, want ErrInvalidMessage", err)
	}
	if err := l.Append(Message{Role: Role("tutor"), Content: "hi"}); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("Append(unknown role) error = %v, want ErrInvalidMessage", err)
	}
	if l.Len() != 0 {
		t.Fatalf("Len() = %d after rejected appends, want 0", l.Len())
	}
}

func TestRetentionKeepsSystemMessageAtIndexZero(t *testing.T) {
	l, err := NewSeededLog(20, "You are a tutor.")
	if err != nil {
		t.Fatalf("NewSeededLog() error = %v", err)
	}

	for i := 0; i < 40; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		if err := l.Append(Message{Role: role, Content: fmt.Sprintf("turn %d", i)}); err != nil {
			t.Fatalf("Append(%d) error = %v", i, err)
		}
		if l.Len() > 20 {
			t.Fatalf("Len() = %d after append %d, cap is 20", l.Len(), i)
		}
	}

	snap := l.Snapshot()
	if snap[0].Role != RoleSystem || snap[0].Content != "You are a tutor." {
		t.Fatalf("snapshot[0] = %+v, want original system message", snap[0])
	}
	if len(snap) != 19 {
		t.Fatalf("len(snapshot) = %d, want 19 (system + last 18)", len(snap))
	}
	if got := snap[len(snap)-1].Content; got != "turn 39" {
		t.Fatalf("last message = %q, want %q", got, "turn 39")
	}
}

func TestRetentionWithoutSystemMessage(t *testing.T) {
	// 25 plain appends against cap 20 must leave the last 19, so the
	// oldest survivor is the message appended at index 6.
	l := NewLog(20)
	for i := 0; i < 25; i++ {
		if err := l.Append(Message{Role: RoleUser, Content: fmt.Sprintf("m%d", i)}); err != nil {
			t.Fatalf("Append(%d) error = %v", i, err)
		}
	}
	snap := l.Snapshot()
	if len(snap) != 19 {
		t.Fatalf("len(snapshot) = %d, want 19", len(snap))
	}
	if snap[0].Content != "m6" {
		t.Fatalf("oldest retained = %q, want %q", snap[0].Content, "m6")
	}
	if snap[len(snap)-1].Content != "m24" {
		t.Fatalf("newest retained = %q, want %q", snap[len(snap)-1].Content, "m24")
	}
}

func TestSnapshotIsDefensiveCopy(t *testing.T) {
	l, err := NewSeededLog(DefaultCap, "system prompt")
	if err != nil {
		t.Fatalf("NewSeededLog() error = %v", err)
	}
	if err := l.Append(Message{Role: RoleUser, Content: "hello"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	snap := l.Snapshot()
	snap[0].Content = "mutated"
	snap[1].Role = RoleAssistant

	fresh := l.Snapshot()
	if fresh[0].Content != "system prompt" {
		t.Fatalf("log content changed through snapshot: %q", fresh[0].Content)
	}
	if fresh[1].Role != RoleUser {
		t.Fatalf("log role changed through snapshot: %q", fresh[1].Role)
	}
}

func TestResetTruncatesToSystemMessage(t *testing.T) {
	l, err := NewSeededLog(DefaultCap, "rules")
	if err != nil {
		t.Fatalf("NewSeededLog() error = %v", err)
	}
	_ = l.Append(Message{Role: RoleUser, Content: "q"})
	_ = l.Append(Message{Role: RoleAssistant, Content: "a"})

	l.Reset()
	snap := l.Snapshot()
	if len(snap) != 1 || snap[0].Role != RoleSystem {
		t.Fatalf("after Reset snapshot = %+v, want only the system message", snap)
	}

	unseeded := NewLog(DefaultCap)
	_ = unseeded.Append(Message{Role: RoleUser, Content: "q"})
	unseeded.Reset()
	if unseeded.Len() != 0 {
		t.Fatalf("unseeded Reset left %d messages, want 0", unseeded.Len())
	}
}
