package speech

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mentora/tutorvoice/internal/reliability"
)

type State string

const (
	StateIdle      State = "idle"
	StateListening State = "listening"
	StateError     State = "error"
	StateStopped   State = "stopped"
)

var (
	ErrNotListening   = errors.New("speech: adapter is not listening")
	ErrAlreadyStarted = errors.New("speech: adapter already started")
)

// UnavailableError reports a capability the provider cannot offer.
type UnavailableError struct {
	Capability string
	Reason     string
}

func (e *UnavailableError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("speech: %s unavailable", e.Capability)
	}
	return fmt.Sprintf("speech: %s unavailable: %s", e.Capability, e.Reason)
}

// ResultHandler receives recognized text. final marks a committed
// utterance rather than an interim hypothesis.
type ResultHandler func(text string, confidence float64, final bool)

// ErrorHandler is invoked once when recognition degrades permanently
// for the session.
type ErrorHandler func(err error)

// Adapter drives a recognition session and serialized synthesis for one
// tutoring session. A transient recognition error triggers a single
// automatic restart after restartDelay; a second consecutive error
// parks the adapter in StateError and emits one degraded notice. A
// committed recognition result restores the restart allowance.
type Adapter struct {
	provider     Provider
	restartDelay time.Duration

	mu            sync.Mutex
	state         State
	language      string
	sessionID     string
	session       RecognitionSession
	gen           int
	restartLeft   int
	restartTimer  *time.Timer
	onResult      ResultHandler
	onError       ErrorHandler
	runCtx        context.Context
	errorNotified bool

	speakMu sync.Mutex
}

func NewAdapter(provider Provider, restartDelay time.Duration) *Adapter {
	if restartDelay <= 0 {
		restartDelay = 2 * time.Second
	}
	return &Adapter{
		provider:     provider,
		restartDelay: restartDelay,
		state:        StateIdle,
	}
}

// Start opens a recognition session. It fails with UnavailableError
// when the provider cannot recognize speech, leaving the session in
// chat-only operation.
func (a *Adapter) Start(ctx context.Context, sessionID, language string, onResult ResultHandler, onError ErrorHandler) error {
	caps := a.provider.Capabilities()
	if !caps.Recognition {
		return &UnavailableError{Capability: "speech recognition", Reason: caps.Reason}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == StateListening {
		return ErrAlreadyStarted
	}

	a.sessionID = sessionID
	a.language = language
	a.onResult = onResult
	a.onError = onError
	a.runCtx = ctx
	a.restartLeft = 1
	a.errorNotified = false
	return a.openSessionLocked(ctx)
}

func (a *Adapter) openSessionLocked(ctx context.Context) error {
	sess, events, err := a.provider.StartSession(ctx, a.sessionID, a.language)
	if err != nil {
		a.state = StateError
		return fmt.Errorf("start recognition session: %w", err)
	}
	a.session = sess
	a.gen++
	a.state = StateListening
	go a.pump(a.gen, events)
	return nil
}

func (a *Adapter) pump(gen int, events <-chan RecognitionEvent) {
	for ev := range events {
		a.mu.Lock()
		if gen != a.gen || a.state == StateStopped {
			a.mu.Unlock()
			return
		}
		switch ev.Type {
		case RecognitionPartial:
			onResult := a.onResult
			a.mu.Unlock()
			if onResult != nil && ev.Text != "" {
				onResult(ev.Text, ev.Confidence, false)
			}
		case RecognitionFinal:
			a.restartLeft = 1
			onResult := a.onResult
			a.mu.Unlock()
			if onResult != nil && ev.Text != "" {
				onResult(ev.Text, ev.Confidence, true)
			}
		case RecognitionError:
			a.handleErrorLocked(ev)
			a.mu.Unlock()
		default:
			a.mu.Unlock()
		}
	}
}

// handleErrorLocked is called with a.mu held. Only transient error
// codes are worth a restart; permission-class faults degrade at once.
func (a *Adapter) handleErrorLocked(ev RecognitionEvent) {
	if a.session != nil {
		a.session.Close()
		a.session = nil
	}

	retryable := ev.Retryable || reliability.IsRetryableRecognitionCode(ev.Code)
	if retryable && a.restartLeft > 0 {
		a.restartLeft--
		gen := a.gen
		a.restartTimer = time.AfterFunc(a.restartDelay, func() {
			a.restart(gen)
		})
		return
	}

	detail := ev.Detail
	if detail == "" {
		detail = ev.Code
	}
	a.degradeLocked(fmt.Errorf("recognition failed: %s", detail))
}

// degradeLocked parks the adapter in StateError and emits the one-time
// notice. A restart still pending from an earlier error is withdrawn so
// the adapter cannot resume behind the caller's back.
func (a *Adapter) degradeLocked(err error) {
	a.state = StateError
	if a.restartTimer != nil {
		a.restartTimer.Stop()
		a.restartTimer = nil
	}
	if a.onError != nil && !a.errorNotified {
		a.errorNotified = true
		onError := a.onError
		go onError(err)
	}
}

func (a *Adapter) restart(gen int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if gen != a.gen || a.state != StateListening {
		return
	}
	if err := a.openSessionLocked(a.runCtx); err != nil {
		if a.onError != nil && !a.errorNotified {
			a.errorNotified = true
			onError := a.onError
			go onError(err)
		}
	}
}

// Feed forwards an audio chunk to the active recognition session.
// commit asks the provider to finalize the current utterance.
func (a *Adapter) Feed(ctx context.Context, audioBase64 string, sampleRate int, commit bool) error {
	a.mu.Lock()
	if a.state != StateListening || a.session == nil {
		a.mu.Unlock()
		return ErrNotListening
	}
	sess := a.session
	a.mu.Unlock()
	return sess.SendAudioChunk(ctx, audioBase64, sampleRate, commit)
}

// Speak synthesizes text for playback. Calls are serialized so one
// reply finishes rendering before the next begins.
func (a *Adapter) Speak(ctx context.Context, text string) (audioBase64 string, format string, err error) {
	caps := a.provider.Capabilities()
	if !caps.Synthesis {
		return "", "", &UnavailableError{Capability: "speech synthesis", Reason: caps.Reason}
	}
	a.speakMu.Lock()
	defer a.speakMu.Unlock()
	return a.provider.Synthesize(ctx, text, a.currentLanguage())
}

// SetLanguage changes the recognition language. An active session is
// torn down and reopened with the new language.
func (a *Adapter) SetLanguage(ctx context.Context, language string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.language = language
	if a.state != StateListening {
		return nil
	}
	if a.session != nil {
		a.session.Close()
		a.session = nil
	}
	return a.openSessionLocked(ctx)
}

// Stop shuts the adapter down. Safe to call any number of times and in
// any state.
func (a *Adapter) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == StateStopped {
		return nil
	}
	a.state = StateStopped
	a.gen++
	if a.restartTimer != nil {
		a.restartTimer.Stop()
		a.restartTimer = nil
	}
	if a.session != nil {
		a.session.Close()
		a.session = nil
	}
	return nil
}

func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Adapter) currentLanguage() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.language
}
