package records

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists session records in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tutoring_sessions (
			id TEXT PRIMARY KEY,
			student_id TEXT NOT NULL,
			course_id BIGINT,
			lesson_id BIGINT,
			session_type TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			ended_at TIMESTAMPTZ,
			duration_minutes INT NOT NULL DEFAULT 0,
			topics_covered TEXT[] NOT NULL DEFAULT '{}',
			questions_asked INT NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_tutoring_sessions_student_started ON tutoring_sessions (student_id, started_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) CreateSession(ctx context.Context, rec SessionRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO tutoring_sessions (id, student_id, course_id, lesson_id, session_type, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID,
		rec.StudentID,
		rec.CourseID,
		rec.LessonID,
		rec.SessionType,
		rec.StartedAt,
	)
	if err != nil {
		return "", fmt.Errorf("create session record: %w", err)
	}
	return rec.ID, nil
}

func (s *PostgresStore) FinishSession(ctx context.Context, id string, endedAt time.Time, durationMinutes int, topics []string, questions int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tutoring_sessions
		 SET ended_at=$2, duration_minutes=$3, topics_covered=$4, questions_asked=$5
		 WHERE id=$1`,
		id,
		endedAt,
		durationMinutes,
		topics,
		questions,
	)
	if err != nil {
		return fmt.Errorf("finish session record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
