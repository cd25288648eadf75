package session

import "time"

// CreateRequest defines the payload for starting a new tutoring session.
type CreateRequest struct {
	StudentID   string     `json:"student_id"`
	SessionType string     `json:"session_type"`
	Language    string     `json:"language"`
	Course      *CourseRef `json:"course,omitempty"`
	Lesson      *LessonRef `json:"lesson,omitempty"`
}

// CreateResponse returns created session metadata.
type CreateResponse struct {
	SessionID       string     `json:"session_id"`
	StudentID       string     `json:"student_id"`
	Status          Status     `json:"status"`
	SessionType     string     `json:"session_type"`
	Language        string     `json:"language"`
	Course          *CourseRef `json:"course,omitempty"`
	Lesson          *LessonRef `json:"lesson,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	LastActivityAt  time.Time  `json:"last_activity_at"`
	InactivityTTLMS int64      `json:"inactivity_ttl_ms"`
}
