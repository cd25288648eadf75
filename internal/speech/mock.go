package speech

import (
	"context"
	"encoding/base64"
	"strings"
	"sync"
	"time"

	"github.com/mentora/tutorvoice/internal/audio"
)

// MockProvider is a local fallback provider used when no external
// speech service is configured.
type MockProvider struct{}

func NewMockProvider() *MockProvider { return &MockProvider{} }

func (p *MockProvider) Capabilities() Capabilities {
	return Capabilities{Recognition: true, Synthesis: true}
}

func (p *MockProvider) StartSession(_ context.Context, _, _ string) (RecognitionSession, <-chan RecognitionEvent, error) {
	events := make(chan RecognitionEvent, 64)
	return &mockRecognitionSession{events: events}, events, nil
}

func (p *MockProvider) Synthesize(_ context.Context, text, _ string) (string, string, error) {
	// Roughly 60ms of silence per word keeps playback duration plausible.
	words := len(strings.Fields(text))
	if words == 0 {
		words = 1
	}
	pcm := make([]byte, words*16000*2*60/1000)
	wav := audio.EncodeWAVPCM16LE(pcm, 16000)
	return base64.StdEncoding.EncodeToString(wav), "wav", nil
}

type mockRecognitionSession struct {
	mu        sync.Mutex
	events    chan RecognitionEvent
	chunks    int
	closed    bool
	lastInput string
}

func (s *mockRecognitionSession) SendAudioChunk(_ context.Context, audioBase64 string, _ int, commit bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.chunks++
	if audioBase64 != "" {
		s.lastInput = audioBase64
		s.events <- RecognitionEvent{Type: RecognitionPartial, Text: "...", Confidence: 0.5, Timestamp: time.Now().UnixMilli()}
	}
	if commit || s.chunks%8 == 0 {
		text := "simulated student question"
		if strings.TrimSpace(s.lastInput) == "" {
			text = ""
		}
		s.events <- RecognitionEvent{Type: RecognitionFinal, Text: text, Confidence: 0.7, Timestamp: time.Now().UnixMilli()}
	}
	return nil
}

func (s *mockRecognitionSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.events)
	return nil
}

// scriptedProvider lets tests drive exact recognition event sequences.
type scriptedProvider struct {
	mu       sync.Mutex
	caps     Capabilities
	sessions []*scriptedSession
	startErr error
}

type scriptedSession struct {
	events chan RecognitionEvent
	closed bool
	mu     sync.Mutex
}

func (s *scriptedSession) SendAudioChunk(_ context.Context, _ string, _ int, _ bool) error {
	return nil
}

func (s *scriptedSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.events)
	return nil
}

func (s *scriptedSession) emit(ev RecognitionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.events <- ev
}

// emitBurst queues several events before the adapter can close the
// session in reaction to the first one.
func (s *scriptedSession) emitBurst(evs ...RecognitionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for _, ev := range evs {
		s.events <- ev
	}
}

func (p *scriptedProvider) Capabilities() Capabilities { return p.caps }

func (p *scriptedProvider) StartSession(_ context.Context, _, _ string) (RecognitionSession, <-chan RecognitionEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startErr != nil {
		return nil, nil, p.startErr
	}
	s := &scriptedSession{events: make(chan RecognitionEvent, 16)}
	p.sessions = append(p.sessions, s)
	return s, s.events, nil
}

func (p *scriptedProvider) Synthesize(_ context.Context, text, _ string) (string, string, error) {
	return base64.StdEncoding.EncodeToString([]byte(text)), "scripted", nil
}

func (p *scriptedProvider) sessionCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

func (p *scriptedProvider) session(i int) *scriptedSession {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessions[i]
}
