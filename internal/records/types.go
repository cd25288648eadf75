package records

import (
	"context"
	"time"
)

// SessionRecord is the persisted row for one tutoring session.
type SessionRecord struct {
	ID              string     `json:"id"`
	StudentID       string     `json:"student_id"`
	CourseID        *int64     `json:"course_id,omitempty"`
	LessonID        *int64     `json:"lesson_id,omitempty"`
	SessionType     string     `json:"session_type"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	DurationMinutes int        `json:"duration_minutes"`
	TopicsCovered   []string   `json:"topics_covered"`
	QuestionsAsked  int        `json:"questions_asked"`
}

// Store persists tutoring session records.
type Store interface {
	CreateSession(ctx context.Context, rec SessionRecord) (string, error)
	FinishSession(ctx context.Context, id string, endedAt time.Time, durationMinutes int, topics []string, questions int) error
	Close() error
}
