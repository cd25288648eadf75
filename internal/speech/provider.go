package speech

import "context"

type RecognitionEventType string

const (
	RecognitionPartial RecognitionEventType = "partial"
	RecognitionFinal   RecognitionEventType = "final"
	RecognitionError   RecognitionEventType = "error"
)

type RecognitionEvent struct {
	Type       RecognitionEventType
	Text       string
	Confidence float64
	Code       string
	Detail     string
	Retryable  bool
	Timestamp  int64
}

type RecognitionSession interface {
	SendAudioChunk(ctx context.Context, audioBase64 string, sampleRate int, commit bool) error
	Close() error
}

// Capabilities reports what a provider can actually do in the current
// environment. Reason explains a missing capability in user-facing terms.
type Capabilities struct {
	Recognition bool
	Synthesis   bool
	Reason      string
}

// Provider supplies speech recognition sessions and speech synthesis
// for tutoring sessions.
type Provider interface {
	Capabilities() Capabilities
	StartSession(ctx context.Context, sessionID, language string) (RecognitionSession, <-chan RecognitionEvent, error)
	Synthesize(ctx context.Context, text, language string) (audioBase64 string, format string, err error)
}
