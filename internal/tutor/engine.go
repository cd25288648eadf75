package tutor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mentora/tutorvoice/internal/conversation"
	"github.com/mentora/tutorvoice/internal/session"
)

// CompletionError describes a failed completion call. Retryable marks
// transient failures where a later turn may succeed.
type CompletionError struct {
	Code      string
	Retryable bool
	Err       error
}

func (e *CompletionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Code
}

func (e *CompletionError) Unwrap() error { return e.Err }

// Options tune the completion requests the engine issues.
type Options struct {
	Model            string
	MaxTokens        int
	Temperature      float64
	FrequencyPenalty float64
	PresencePenalty  float64
}

func (o Options) withDefaults() Options {
	if o.MaxTokens <= 0 {
		o.MaxTokens = 200
	}
	if o.Temperature == 0 {
		o.Temperature = 0.7
	}
	if o.FrequencyPenalty == 0 {
		o.FrequencyPenalty = 0.3
	}
	if o.PresencePenalty == 0 {
		o.PresencePenalty = 0.3
	}
	return o
}

// Engine produces tutor replies for a session. It owns the ordering
// contract with the conversation log: the student message is recorded
// before the completion call, and the assistant message is recorded
// only when a reply actually arrives.
type Engine struct {
	client CompletionClient
	opts   Options
}

func NewEngine(client CompletionClient, opts Options) *Engine {
	return &Engine{client: client, opts: opts.withDefaults()}
}

// ProcessInput records the student's message, requests a reply over the
// full conversation snapshot, and records the reply on success. On
// failure the student message stays in the log and the error is
// returned without any assistant entry.
func (e *Engine) ProcessInput(ctx context.Context, sc *session.Context, input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", conversation.ErrInvalidMessage
	}
	if err := sc.Log().Append(conversation.Message{Role: conversation.RoleUser, Content: input}); err != nil {
		return "", err
	}

	reply, err := e.client.Complete(ctx, e.buildRequest(sc.Log().Snapshot()))
	if err != nil {
		return "", wrapCompletionErr(err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", &CompletionError{Code: "completion_empty_reply", Retryable: true}
	}

	if err := sc.Log().Append(conversation.Message{Role: conversation.RoleAssistant, Content: reply}); err != nil {
		return "", err
	}
	return reply, nil
}

// StreamInput behaves like ProcessInput but forwards partial text to
// onDelta as it arrives. The assembled reply is appended to the log
// only after the stream completes, so an interrupted stream leaves the
// log with the unanswered student message.
func (e *Engine) StreamInput(ctx context.Context, sc *session.Context, input string, onDelta DeltaHandler) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", conversation.ErrInvalidMessage
	}
	if err := sc.Log().Append(conversation.Message{Role: conversation.RoleUser, Content: input}); err != nil {
		return "", err
	}

	reply, err := e.client.StreamComplete(ctx, e.buildRequest(sc.Log().Snapshot()), onDelta)
	if err != nil {
		return "", wrapCompletionErr(err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", &CompletionError{Code: "completion_empty_reply", Retryable: true}
	}

	if err := sc.Log().Append(conversation.Message{Role: conversation.RoleAssistant, Content: reply}); err != nil {
		return "", err
	}
	return reply, nil
}

// ContextualHelp answers a one-off question about the current lesson
// without touching the session's conversation log. difficulty is an
// optional hint ("beginner", "advanced", ...) folded into the prompt.
func (e *Engine) ContextualHelp(ctx context.Context, course *session.CourseRef, lesson *session.LessonRef, question, difficulty string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", conversation.ErrInvalidMessage
	}

	prompt := "You are a helpful programming tutor. Answer the student's question concisely."
	if course != nil && course.Title != "" {
		prompt += " The student is taking the course \"" + course.Title + "\""
		if lesson != nil && lesson.Title != "" {
			prompt += ", currently on the lesson \"" + lesson.Title + "\""
		}
		prompt += "."
	}
	if d := strings.TrimSpace(difficulty); d != "" {
		prompt += " Pitch the explanation at a " + d + " level."
	}

	now := time.Now().UTC()
	msgs := []conversation.Message{
		{Role: conversation.RoleSystem, Content: prompt, At: now},
		{Role: conversation.RoleUser, Content: question, At: now},
	}

	reply, err := e.client.Complete(ctx, e.buildRequest(msgs))
	if err != nil {
		return "", wrapCompletionErr(err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", &CompletionError{Code: "completion_empty_reply", Retryable: true}
	}
	return reply, nil
}

func (e *Engine) buildRequest(msgs []conversation.Message) CompletionRequest {
	return CompletionRequest{
		Messages:         msgs,
		Model:            e.opts.Model,
		MaxTokens:        e.opts.MaxTokens,
		Temperature:      e.opts.Temperature,
		FrequencyPenalty: e.opts.FrequencyPenalty,
		PresencePenalty:  e.opts.PresencePenalty,
	}
}

func wrapCompletionErr(err error) error {
	var ce *CompletionError
	if errors.As(err, &ce) {
		return err
	}
	return &CompletionError{Code: "completion_failed", Retryable: true, Err: err}
}
