package tutor

import (
	"context"
	"strings"
	"sync"
)

// MockClient is an in-process completion client for tests and for
// running the service without an upstream provider.
type MockClient struct {
	mu       sync.Mutex
	Reply    string
	Err      error
	Requests []CompletionRequest
}

func NewMockClient(reply string) *MockClient {
	if reply == "" {
		reply = "Let's walk through that together."
	}
	return &MockClient{Reply: reply}
}

func (m *MockClient) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	m.mu.Lock()
	m.Requests = append(m.Requests, req)
	reply, err := m.Reply, m.Err
	m.mu.Unlock()
	if err != nil {
		return "", err
	}
	return reply, nil
}

func (m *MockClient) StreamComplete(ctx context.Context, req CompletionRequest, onDelta DeltaHandler) (string, error) {
	m.mu.Lock()
	m.Requests = append(m.Requests, req)
	reply, err := m.Reply, m.Err
	m.mu.Unlock()
	if err != nil {
		return "", err
	}
	if onDelta != nil {
		for _, word := range strings.SplitAfter(reply, " ") {
			if err := onDelta(word); err != nil {
				return "", err
			}
		}
	}
	return reply, nil
}

// RequestCount reports how many completion calls were issued.
func (m *MockClient) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}
