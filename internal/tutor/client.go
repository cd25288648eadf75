package tutor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mentora/tutorvoice/internal/conversation"
	"github.com/mentora/tutorvoice/internal/reliability"
)

// CompletionRequest is the normalized payload sent to the completion
// service. Messages are replayed verbatim in conversation order.
type CompletionRequest struct {
	Messages         []conversation.Message `json:"messages"`
	Model            string                 `json:"model"`
	MaxTokens        int                    `json:"max_tokens"`
	Temperature      float64                `json:"temperature"`
	FrequencyPenalty float64                `json:"frequency_penalty"`
	PresencePenalty  float64                `json:"presence_penalty"`
	Stream           bool                   `json:"stream"`
}

// DeltaHandler receives streaming text fragments.
type DeltaHandler func(delta string) error

// CompletionClient bridges the tutoring runtime with the external
// completion service.
type CompletionClient interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
	StreamComplete(ctx context.Context, req CompletionRequest, onDelta DeltaHandler) (string, error)
}

// HTTPClient forwards requests to a chat-completion HTTP endpoint. It
// accepts both plain JSON responses and SSE/NDJSON streams.
type HTTPClient struct {
	url    string
	apiKey string
	client *http.Client
}

func NewHTTPClient(url, apiKey string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPClient{
		url:    strings.TrimSpace(url),
		apiKey: strings.TrimSpace(apiKey),
		client: &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	req.Stream = false
	return c.do(ctx, req, nil)
}

func (c *HTTPClient) StreamComplete(ctx context.Context, req CompletionRequest, onDelta DeltaHandler) (string, error) {
	req.Stream = true
	return c.do(ctx, req, onDelta)
}

func (c *HTTPClient) do(ctx context.Context, req CompletionRequest, onDelta DeltaHandler) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	res, err := c.client.Do(httpReq)
	if err != nil {
		return "", &CompletionError{Code: "completion_unreachable", Retryable: true, Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", &CompletionError{
			Code:      fmt.Sprintf("completion_http_%d", res.StatusCode),
			Retryable: reliability.IsRetryableHTTPStatus(res.StatusCode),
			Err:       fmt.Errorf("completion http status %d: %s", res.StatusCode, string(body)),
		}
	}

	ct := strings.ToLower(res.Header.Get("Content-Type"))
	if strings.Contains(ct, "text/event-stream") || strings.Contains(ct, "application/x-ndjson") {
		return c.consumeStreaming(res.Body, onDelta)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return "", &CompletionError{Code: "completion_read_failed", Retryable: true, Err: err}
	}

	text := extractReplyText(body)
	if text != "" && onDelta != nil {
		if err := onDelta(text); err != nil {
			return "", err
		}
	}
	return text, nil
}

func (c *HTTPClient) consumeStreaming(body io.Reader, onDelta DeltaHandler) (string, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var out strings.Builder
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line == "data: [DONE]" {
			continue
		}
		if strings.HasPrefix(line, "data:") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}

		delta := extractReplyText([]byte(line))
		if delta == "" {
			continue
		}
		out.WriteString(delta)
		if onDelta != nil {
			if err := onDelta(delta); err != nil {
				return "", err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return "", &CompletionError{Code: "completion_stream_failed", Retryable: true, Err: err}
	}

	return out.String(), nil
}

// extractReplyText pulls the assistant text out of the common completion
// response shapes: a flat {"text"|"delta"|"content": ...} object, an
// OpenAI-style choices array, or raw text.
func extractReplyText(raw []byte) string {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return strings.TrimSpace(string(raw))
	}
	for _, k := range []string{"text", "delta", "content", "output"} {
		if s, ok := obj[k].(string); ok {
			return s
		}
	}
	choices, ok := obj["choices"].([]any)
	if !ok || len(choices) == 0 {
		return ""
	}
	choice, ok := choices[0].(map[string]any)
	if !ok {
		return ""
	}
	for _, k := range []string{"message", "delta"} {
		if m, ok := choice[k].(map[string]any); ok {
			if s, ok := m["content"].(string); ok {
				return s
			}
		}
	}
	if s, ok := choice["text"].(string); ok {
		return s
	}
	return ""
}
