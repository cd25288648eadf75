package records

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/supabase-community/supabase-go"
)

const sessionsTable = "tutoring_sessions"

// SupabaseStore persists session records through the Supabase REST API.
type SupabaseStore struct {
	client *supabase.Client
}

func NewSupabaseStore(url, apiKey string) (*SupabaseStore, error) {
	client, err := supabase.NewClient(url, apiKey, nil)
	if err != nil {
		return nil, fmt.Errorf("create supabase client: %w", err)
	}
	return &SupabaseStore{client: client}, nil
}

type supabaseSessionRow struct {
	ID              string   `json:"id"`
	StudentID       string   `json:"student_id"`
	CourseID        *int64   `json:"course_id,omitempty"`
	LessonID        *int64   `json:"lesson_id,omitempty"`
	SessionType     string   `json:"session_type"`
	StartedAt       string   `json:"started_at"`
	EndedAt         *string  `json:"ended_at,omitempty"`
	DurationMinutes int      `json:"duration_minutes"`
	TopicsCovered   []string `json:"topics_covered"`
	QuestionsAsked  int      `json:"questions_asked"`
}

func (s *SupabaseStore) CreateSession(_ context.Context, rec SessionRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now().UTC()
	}

	row := supabaseSessionRow{
		ID:            rec.ID,
		StudentID:     rec.StudentID,
		CourseID:      rec.CourseID,
		LessonID:      rec.LessonID,
		SessionType:   rec.SessionType,
		StartedAt:     rec.StartedAt.Format(time.RFC3339),
		TopicsCovered: []string{},
	}
	_, _, err := s.client.From(sessionsTable).Insert(row, false, "", "", "").Execute()
	if err != nil {
		return "", fmt.Errorf("create session record: %w", err)
	}
	return rec.ID, nil
}

func (s *SupabaseStore) FinishSession(_ context.Context, id string, endedAt time.Time, durationMinutes int, topics []string, questions int) error {
	if topics == nil {
		topics = []string{}
	}
	ended := endedAt.Format(time.RFC3339)
	patch := map[string]any{
		"ended_at":         ended,
		"duration_minutes": durationMinutes,
		"topics_covered":   topics,
		"questions_asked":  questions,
	}
	_, _, err := s.client.From(sessionsTable).Update(patch, "", "").Eq("id", id).Execute()
	if err != nil {
		return fmt.Errorf("finish session record: %w", err)
	}
	return nil
}

func (s *SupabaseStore) Close() error { return nil }
