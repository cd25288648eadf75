package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/mentora/tutorvoice/internal/config"
	"github.com/mentora/tutorvoice/internal/observability"
	"github.com/mentora/tutorvoice/internal/protocol"
	"github.com/mentora/tutorvoice/internal/session"
)

// SessionRunner drives a tutoring call over a websocket-shaped channel pair.
type SessionRunner interface {
	RunSession(ctx context.Context, s *session.Session, inbound <-chan any, outbound chan<- any) error
}

// HelpEngine answers one-off lesson questions outside any call.
type HelpEngine interface {
	ContextualHelp(ctx context.Context, course *session.CourseRef, lesson *session.LessonRef, question, difficulty string) (string, error)
}

type Server struct {
	cfg      config.Config
	sessions *session.Manager
	runner   SessionRunner
	help     HelpEngine
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func New(cfg config.Config, sessions *session.Manager, runner SessionRunner, help HelpEngine, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		runner:   runner,
		help:     help,
		metrics:  metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only allow browser websocket connections from the same
				// origin, so arbitrary websites cannot drive a student's
				// mic session.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/tutor/session", s.handleCreateSession)
	r.Post("/v1/tutor/session/{id}/end", s.handleEndSession)
	r.Get("/v1/tutor/session/{id}/summary", s.handleSessionSummary)
	r.Get("/v1/tutor/session/ws", s.handleSessionWS)
	r.Post("/v1/tutor/help", s.handleHelp)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"active_sessions": s.sessions.ActiveCount(),
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.StudentID) == "" {
		respondError(w, http.StatusBadRequest, "missing_student_id", "student_id is required")
		return
	}
	if strings.TrimSpace(req.SessionType) == "" {
		req.SessionType = "video_call"
	}
	if strings.TrimSpace(req.Language) == "" {
		req.Language = "en-US"
	}

	sess := s.sessions.Create(req.StudentID, req.SessionType, req.Language, req.Course, req.Lesson)
	s.metrics.SessionEvents.WithLabelValues("created").Inc()

	respondJSON(w, http.StatusCreated, session.CreateResponse{
		SessionID:       sess.ID,
		StudentID:       sess.StudentID,
		Status:          sess.Status,
		SessionType:     sess.SessionType,
		Language:        sess.Language,
		Course:          sess.Course,
		Lesson:          sess.Lesson,
		StartedAt:       sess.StartedAt,
		LastActivityAt:  sess.LastActivityAt,
		InactivityTTLMS: s.cfg.SessionInactivityTimeout.Milliseconds(),
	})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	sess, err := s.sessions.End(id, nil)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	s.metrics.SessionEvents.WithLabelValues("ended").Inc()
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleSessionSummary(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.sessions.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}

	duration := 0
	if !sess.EndedAt.IsZero() && sess.EndedAt.After(sess.StartedAt) {
		duration = int(sess.EndedAt.Sub(sess.StartedAt).Seconds())
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session_id":       sess.ID,
		"status":           sess.Status,
		"questions_asked":  sess.QuestionsAsked,
		"topics_covered":   sess.TopicsCovered,
		"duration_seconds": duration,
	})
}

type helpRequest struct {
	Course     *session.CourseRef `json:"course,omitempty"`
	Lesson     *session.LessonRef `json:"lesson,omitempty"`
	Question   string             `json:"question"`
	Difficulty string             `json:"difficulty,omitempty"`
}

func (s *Server) handleHelp(w http.ResponseWriter, r *http.Request) {
	var req helpRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		respondError(w, http.StatusBadRequest, "missing_question", "question is required")
		return
	}

	start := time.Now()
	answer, err := s.help.ContextualHelp(r.Context(), req.Course, req.Lesson, req.Question, req.Difficulty)
	s.metrics.ObserveCompletionLatency(time.Since(start))
	if err != nil {
		respondError(w, http.StatusBadGateway, "help_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"answer": answer})
}

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	if s.runner == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "session runner not configured")
		return
	}

	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, 256)
	outbound := make(chan any, 256)
	runDone := make(chan struct{})

	go func() {
		defer close(runDone)
		_ = s.runner.RunSession(ctx, sess, inbound, outbound)
		cancel()
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			errEvent := protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Retryable: false,
				Detail:    err.Error(),
			}
			select {
			case outbound <- errEvent:
			default:
				// Keep websocket writes single-threaded; drop if the
				// outbound queue is saturated.
			}
			continue
		}

		if t, ok := messageTypeOf(parsed); ok {
			s.metrics.WSMessages.WithLabelValues("in", string(t)).Inc()
		}
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	cancel()
	close(inbound)
	<-runDone
	<-writerDone
	s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ClientAudioChunk:
		return m.Type, true
	case protocol.ClientUtterance:
		return m.Type, true
	case protocol.ClientControl:
		return m.Type, true
	default:
		return "", false
	}
}
