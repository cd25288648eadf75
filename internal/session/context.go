package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/mentora/tutorvoice/internal/conversation"
)

// CourseRef identifies the course a tutoring session is anchored to.
type CourseRef struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

// LessonRef identifies the lesson within a course, when one is selected.
type LessonRef struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

// Context binds one tutoring conversation to its optional course/lesson
// references and a start time. It is owned by a single call controller for
// the session's lifetime; re-initializing replaces the conversation log
// outright, the old history is discarded.
type Context struct {
	course    *CourseRef
	lesson    *LessonRef
	log       *conversation.Log
	startedAt time.Time
}

const tutoringGuidelines = "Keep an encouraging tone. Answers are spoken aloud, so keep them short and conversational, two to four sentences. Adapt difficulty to the student's level and ask a brief follow-up question when it helps."

// NewContext builds a fresh Context whose conversation log is seeded with a
// system message embedding the course/lesson titles and tutoring guidelines.
func NewContext(course *CourseRef, lesson *LessonRef, capacity int) (*Context, error) {
	log, err := conversation.NewSeededLog(capacity, systemPrompt(course, lesson))
	if err != nil {
		return nil, err
	}
	return &Context{
		course: course,
		lesson: lesson,
		log:    log,
	}, nil
}

func systemPrompt(course *CourseRef, lesson *LessonRef) string {
	var b strings.Builder
	b.WriteString("You are an AI tutor for an online learning platform.")
	if course != nil && strings.TrimSpace(course.Title) != "" {
		fmt.Fprintf(&b, " The student is taking the course %q.", course.Title)
	}
	if lesson != nil && strings.TrimSpace(lesson.Title) != "" {
		fmt.Fprintf(&b, " They are currently on the lesson %q.", lesson.Title)
	}
	b.WriteString(" ")
	b.WriteString(tutoringGuidelines)
	return b.String()
}

// Log exposes the conversation log for the tutor engine.
func (c *Context) Log() *conversation.Log { return c.log }

// Course returns the bound course reference, if any.
func (c *Context) Course() *CourseRef { return c.course }

// Lesson returns the bound lesson reference, if any.
func (c *Context) Lesson() *LessonRef { return c.lesson }

// MarkStarted records the moment the session was confirmed persisted.
func (c *Context) MarkStarted(t time.Time) { c.startedAt = t.UTC() }

// StartedAt reports when the session became active; zero until MarkStarted.
func (c *Context) StartedAt() time.Time { return c.startedAt }

// Summary aggregates the session for dashboards and the persisted record.
type Summary struct {
	TotalMessages int           `json:"total_messages"`
	UserMessages  int           `json:"user_messages"`
	AIMessages    int           `json:"ai_messages"`
	Topics        []string      `json:"topics"`
	Duration      time.Duration `json:"duration"`
}

// Summarize scans the conversation and derives the session summary.
// Duration is zero until the session has been marked started.
func (c *Context) Summarize(now time.Time) Summary {
	snap := c.log.Snapshot()
	s := Summary{TotalMessages: len(snap)}
	var content strings.Builder
	for _, m := range snap {
		switch m.Role {
		case conversation.RoleUser:
			s.UserMessages++
		case conversation.RoleAssistant:
			s.AIMessages++
		default:
			continue
		}
		content.WriteString(strings.ToLower(m.Content))
		content.WriteByte(' ')
	}
	s.Topics = detectTopics(content.String())
	if !c.startedAt.IsZero() && now.After(c.startedAt) {
		s.Duration = now.Sub(c.startedAt)
	}
	return s
}

// topicKeywords maps lowercase substrings to topic labels. This is a
// best-effort classifier over a fixed vocabulary, not an exhaustive one;
// topics_covered is advisory in the persisted record.
var topicKeywords = []struct {
	keyword string
	topic   string
}{
	{"usestate", "React Hooks"},
	{"useeffect", "React Hooks"},
	{"hook", "React Hooks"},
	{"component", "React Components"},
	{"props", "React Components"},
	{"goroutine", "Go Concurrency"},
	{"channel", "Go Concurrency"},
	{"promise", "Async JavaScript"},
	{"async", "Async JavaScript"},
	{"await", "Async JavaScript"},
	{"closure", "Functions & Closures"},
	{"sql", "Databases"},
	{"query", "Databases"},
	{"index", "Databases"},
	{"array", "Data Structures"},
	{"linked list", "Data Structures"},
	{"hash map", "Data Structures"},
	{"recursion", "Algorithms"},
	{"big o", "Algorithms"},
	{"css", "CSS & Layout"},
	{"flexbox", "CSS & Layout"},
	{"grid", "CSS & Layout"},
	{"api", "APIs & HTTP"},
	{"http", "APIs & HTTP"},
	{"rest", "APIs & HTTP"},
	{"git", "Version Control"},
}

func detectTopics(lowered string) []string {
	var topics []string
	seen := make(map[string]bool)
	for _, tk := range topicKeywords {
		if seen[tk.topic] {
			continue
		}
		if strings.Contains(lowered, tk.keyword) {
			seen[tk.topic] = true
			topics = append(topics, tk.topic)
		}
	}
	return topics
}
