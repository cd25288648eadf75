package orchestrator

import (
	"context"
	"encoding/base64"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mentora/tutorvoice/internal/audio"
	"github.com/mentora/tutorvoice/internal/observability"
	"github.com/mentora/tutorvoice/internal/protocol"
	"github.com/mentora/tutorvoice/internal/records"
	"github.com/mentora/tutorvoice/internal/reliability"
	"github.com/mentora/tutorvoice/internal/session"
	"github.com/mentora/tutorvoice/internal/speech"
	"github.com/mentora/tutorvoice/internal/tutor"
)

// CallState tracks the lifecycle of one tutoring call.
type CallState string

const (
	CallNotStarted CallState = "not_started"
	CallActive     CallState = "active"
	CallEnding     CallState = "ending"
	CallEnded      CallState = "ended"
)

const (
	snapshotSaveTimeout  = 2 * time.Second
	recordWriteTimeout   = 3 * time.Second
	recordWriteAttempts  = 3
	recordRetryBase      = 100 * time.Millisecond
	recordRetryCap       = 800 * time.Millisecond
	outboundCriticalWait = 600 * time.Millisecond
)

// Config tunes per-call behavior.
type Config struct {
	ConversationCap    int
	SpeechRestartDelay time.Duration
	VoiceLevelInterval time.Duration
	LinkProbeInterval  time.Duration
	// LinkSeed makes the simulated link-quality probe deterministic in
	// tests. Zero seeds from the clock.
	LinkSeed int64
}

func (c Config) withDefaults() Config {
	if c.VoiceLevelInterval <= 0 {
		c.VoiceLevelInterval = 250 * time.Millisecond
	}
	if c.LinkProbeInterval <= 0 {
		c.LinkProbeInterval = 5 * time.Second
	}
	return c
}

// Orchestrator drives tutoring call sessions over a websocket-shaped
// channel pair.
type Orchestrator struct {
	sessions  *session.Manager
	engine    *tutor.Engine
	provider  speech.Provider
	records   records.Store
	snapshots session.SnapshotStore
	metrics   *observability.Metrics
	cfg       Config
}

func New(
	sessions *session.Manager,
	engine *tutor.Engine,
	provider speech.Provider,
	recordStore records.Store,
	snapshots session.SnapshotStore,
	metrics *observability.Metrics,
	cfg Config,
) *Orchestrator {
	return &Orchestrator{
		sessions:  sessions,
		engine:    engine,
		provider:  provider,
		records:   recordStore,
		snapshots: snapshots,
		metrics:   metrics,
		cfg:       cfg.withDefaults(),
	}
}

type recognitionResult struct {
	text       string
	confidence float64
	final      bool
	err        error
}

// RunSession drives a session lifecycle for one websocket connection.
// It returns when the client disconnects, the context is canceled, or
// the call ends.
func (o *Orchestrator) RunSession(ctx context.Context, s *session.Session, inbound <-chan any, outbound chan<- any) error {
	adapter := speech.NewAdapter(o.provider, o.cfg.SpeechRestartDelay)
	sc, err := session.NewContext(s.Course, s.Lesson, o.cfg.ConversationCap)
	if err != nil {
		return err
	}

	var (
		callState = CallNotStarted

		chatOpen      bool
		screenShareOn bool
		recordingOn   bool
		helpOpen      bool
		muted         bool
		chatOnly      bool

		turnMu      sync.Mutex
		turnCancel  context.CancelFunc
		activeToken int64
		nextToken   int64
		pending     []string

		levelMu      sync.Mutex
		lastLevel    float64
		lastSampleHz = 16000
	)

	recog := make(chan recognitionResult, 64)
	onResult := func(text string, confidence float64, final bool) {
		r := recognitionResult{text: text, confidence: confidence, final: final}
		if final {
			select {
			case recog <- r:
			case <-ctx.Done():
			}
			return
		}
		select {
		case recog <- r:
		default:
		}
	}
	onRecogError := func(err error) {
		select {
		case recog <- recognitionResult{err: err}:
		case <-ctx.Done():
		}
	}

	voiceTicker := time.NewTicker(o.cfg.VoiceLevelInterval)
	defer voiceTicker.Stop()
	linkTicker := time.NewTicker(o.cfg.LinkProbeInterval)
	defer linkTicker.Stop()

	seed := o.cfg.LinkSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	linkRand := rand.New(rand.NewSource(seed))

	var endOnce sync.Once
	endCall := func(reason string) {
		endOnce.Do(func() {
			if callState == CallActive {
				o.metrics.ActiveSessions.Dec()
			}
			callState = CallEnding

			turnMu.Lock()
			cancel := turnCancel
			turnCancel = nil
			pending = nil
			turnMu.Unlock()
			if cancel != nil {
				cancel()
			}

			adapter.Stop()

			now := time.Now()
			summary := sc.Summarize(now)
			ended, _ := o.sessions.End(s.ID, summary.Topics)
			o.finishRecordBestEffort(ended, now, summary.Topics)
			o.deleteSnapshotBestEffort(s.ID)

			o.send(outbound, protocol.SessionSummary{
				Type:            protocol.TypeSessionSummary,
				SessionID:       s.ID,
				TotalMessages:   summary.TotalMessages,
				UserMessages:    summary.UserMessages,
				AIMessages:      summary.AIMessages,
				QuestionsAsked:  questionsAsked(ended),
				TopicsCovered:   summary.Topics,
				DurationSeconds: int(summary.Duration.Seconds()),
			})
			o.send(outbound, protocol.SystemEvent{
				Type:      protocol.TypeSystemEvent,
				SessionID: s.ID,
				Code:      "call_ended",
				Detail:    reason,
			})
			o.metrics.SessionEvents.WithLabelValues("call_ended").Inc()
			callState = CallEnded
		})
	}
	defer endCall("connection_closed")

	var startTurn func(text string)
	resolveTurn := func(token int64) {
		turnMu.Lock()
		if activeToken != token {
			turnMu.Unlock()
			return
		}
		turnCancel = nil
		activeToken = 0
		var next string
		hasNext := len(pending) > 0
		if hasNext {
			next = pending[0]
			pending = pending[1:]
		}
		turnMu.Unlock()
		if hasNext {
			startTurn(next)
		}
	}

	startTurn = func(text string) {
		turnMu.Lock()
		if turnCancel != nil {
			pending = append(pending, text)
			turnMu.Unlock()
			return
		}
		turnCtx, cancel := context.WithCancel(ctx)
		nextToken++
		token := nextToken
		turnCancel = cancel
		activeToken = token
		turnMu.Unlock()

		turnID := uuid.NewString()
		go func() {
			defer resolveTurn(token)
			started := time.Now()

			reply, err := o.engine.StreamInput(turnCtx, sc, text, func(delta string) error {
				o.send(outbound, protocol.TutorTextDelta{
					Type:      protocol.TypeTutorTextDelta,
					SessionID: s.ID,
					TurnID:    turnID,
					TextDelta: delta,
				})
				return nil
			})
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				retryable := false
				code := "completion_error"
				var ce *tutor.CompletionError
				if errors.As(err, &ce) {
					retryable = ce.Retryable
					code = ce.Code
				}
				o.metrics.ProviderErrors.WithLabelValues("completion", code).Inc()
				o.send(outbound, protocol.ErrorEvent{
					Type:      protocol.TypeErrorEvent,
					SessionID: s.ID,
					Code:      code,
					Source:    "completion",
					Retryable: retryable,
					Detail:    err.Error(),
				})
				return
			}

			o.metrics.ObserveTurnLatency(time.Since(started))
			o.send(outbound, protocol.TutorReply{
				Type:      protocol.TypeTutorReply,
				SessionID: s.ID,
				TurnID:    turnID,
				Text:      reply,
				TSMs:      time.Now().UnixMilli(),
			})

			if adapter.State() == speech.StateListening {
				audioB64, format, err := adapter.Speak(turnCtx, reply)
				if err == nil && audioB64 != "" {
					o.send(outbound, protocol.TutorAudio{
						Type:        protocol.TypeTutorAudio,
						SessionID:   s.ID,
						TurnID:      turnID,
						Format:      format,
						AudioBase64: audioB64,
					})
				}
			}

			o.saveSnapshotBestEffort(s, sc)
		}()
	}

	acceptUtterance := func(text string) {
		text = strings.TrimSpace(text)
		if text == "" {
			return
		}
		_ = o.sessions.RecordQuestion(s.ID)
		startTurn(text)
	}

	startCall := func(micGranted bool) {
		if callState != CallNotStarted {
			o.send(outbound, protocol.SystemEvent{
				Type:      protocol.TypeSystemEvent,
				SessionID: s.ID,
				Code:      "call_already_started",
			})
			return
		}
		if !micGranted {
			o.metrics.SessionEvents.WithLabelValues("permission_denied").Inc()
			o.send(outbound, protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: s.ID,
				Code:      "permission_denied",
				Source:    "speech",
				Retryable: true,
				Detail:    "microphone access was not granted",
			})
			return
		}

		if err := adapter.Start(ctx, s.ID, s.Language, onResult, onRecogError); err != nil {
			var ue *speech.UnavailableError
			if errors.As(err, &ue) {
				chatOnly = true
				o.send(outbound, protocol.SystemEvent{
					Type:      protocol.TypeSystemEvent,
					SessionID: s.ID,
					Code:      "chat_only",
					Detail:    ue.Reason,
				})
			} else {
				o.metrics.ProviderErrors.WithLabelValues("speech", "start_failed").Inc()
				o.send(outbound, protocol.ErrorEvent{
					Type:      protocol.TypeErrorEvent,
					SessionID: s.ID,
					Code:      "recognition_error",
					Source:    "speech",
					Retryable: true,
					Detail:    err.Error(),
				})
				return
			}
		}

		callState = CallActive
		o.sessions.MarkStarted(s.ID, time.Now())
		sc.MarkStarted(time.Now())
		o.createRecordBestEffort(s)
		o.metrics.ActiveSessions.Inc()
		o.metrics.SessionEvents.WithLabelValues("call_started").Inc()
		o.send(outbound, protocol.SystemEvent{
			Type:      protocol.TypeSystemEvent,
			SessionID: s.ID,
			Code:      "call_started",
		})
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			switch m := msg.(type) {
			case protocol.ClientAudioChunk:
				_ = o.sessions.Touch(s.ID)
				if callState != CallActive || muted || chatOnly {
					continue
				}
				if m.SampleRate > 0 {
					lastSampleHz = m.SampleRate
				}
				if m.PCM16Base64 != "" {
					if pcm, err := base64.StdEncoding.DecodeString(m.PCM16Base64); err == nil {
						levelMu.Lock()
						lastLevel = audio.LevelPCM16(pcm)
						levelMu.Unlock()
					}
				}
				if err := adapter.Feed(ctx, m.PCM16Base64, m.SampleRate, m.Commit); err != nil && !errors.Is(err, speech.ErrNotListening) {
					o.send(outbound, protocol.ErrorEvent{
						Type:      protocol.TypeErrorEvent,
						SessionID: s.ID,
						Code:      "recognition_error",
						Source:    "speech",
						Retryable: true,
						Detail:    err.Error(),
					})
				}
			case protocol.ClientUtterance:
				_ = o.sessions.Touch(s.ID)
				if callState != CallActive {
					continue
				}
				acceptUtterance(m.Text)
			case protocol.ClientControl:
				_ = o.sessions.Touch(s.ID)
				switch m.Action {
				case protocol.ActionStartCall:
					startCall(m.MicGranted)
				case protocol.ActionEndCall:
					endCall("user_request")
					return nil
				case protocol.ActionCommitUtterance:
					if callState == CallActive && !chatOnly {
						_ = adapter.Feed(ctx, "", lastSampleHz, true)
					}
				case protocol.ActionToggleChat:
					chatOpen = !chatOpen
					o.sendPanelState(outbound, s.ID, "chat", chatOpen)
				case protocol.ActionToggleScreenShare:
					screenShareOn = !screenShareOn
					o.sendPanelState(outbound, s.ID, "screen_share", screenShareOn)
				case protocol.ActionToggleRecording:
					recordingOn = !recordingOn
					o.sendPanelState(outbound, s.ID, "recording", recordingOn)
				case protocol.ActionToggleHelp:
					helpOpen = !helpOpen
					o.sendPanelState(outbound, s.ID, "help", helpOpen)
				case protocol.ActionMute:
					muted = true
					o.sendPanelState(outbound, s.ID, "muted", true)
				case protocol.ActionUnmute:
					muted = false
					o.sendPanelState(outbound, s.ID, "muted", false)
				case protocol.ActionSetLanguage:
					_ = o.sessions.SetLanguage(s.ID, m.Language)
					if err := adapter.SetLanguage(ctx, m.Language); err != nil {
						o.send(outbound, protocol.ErrorEvent{
							Type:      protocol.TypeErrorEvent,
							SessionID: s.ID,
							Code:      "recognition_error",
							Source:    "speech",
							Retryable: true,
							Detail:    err.Error(),
						})
						continue
					}
					o.send(outbound, protocol.SystemEvent{
						Type:      protocol.TypeSystemEvent,
						SessionID: s.ID,
						Code:      "language_changed",
						Detail:    m.Language,
					})
				case protocol.ActionResetConversation:
					sc.Log().Reset()
					o.send(outbound, protocol.SystemEvent{
						Type:      protocol.TypeSystemEvent,
						SessionID: s.ID,
						Code:      "conversation_reset",
					})
				}
			}
		case r := <-recog:
			if r.err != nil {
				chatOnly = true
				o.metrics.ProviderErrors.WithLabelValues("speech", "recognition_failed").Inc()
				o.send(outbound, protocol.ErrorEvent{
					Type:      protocol.TypeErrorEvent,
					SessionID: s.ID,
					Code:      "recognition_error",
					Source:    "speech",
					Retryable: false,
					Detail:    r.err.Error(),
				})
				o.send(outbound, protocol.SystemEvent{
					Type:      protocol.TypeSystemEvent,
					SessionID: s.ID,
					Code:      "chat_only",
					Detail:    "voice recognition is unavailable, chat keeps working",
				})
				continue
			}
			if callState != CallActive {
				continue
			}
			if !r.final {
				o.send(outbound, protocol.TranscriptInterim{
					Type:       protocol.TypeTranscriptInterim,
					SessionID:  s.ID,
					Text:       r.text,
					Confidence: r.confidence,
					TSMs:       time.Now().UnixMilli(),
				})
				continue
			}
			o.send(outbound, protocol.TranscriptFinal{
				Type:       protocol.TypeTranscriptFinal,
				SessionID:  s.ID,
				Text:       r.text,
				Confidence: r.confidence,
				TSMs:       time.Now().UnixMilli(),
			})
			acceptUtterance(r.text)
		case <-voiceTicker.C:
			if callState != CallActive || chatOnly {
				continue
			}
			levelMu.Lock()
			level := lastLevel
			lastLevel = 0
			levelMu.Unlock()
			o.send(outbound, protocol.VoiceLevel{
				Type:      protocol.TypeVoiceLevel,
				SessionID: s.ID,
				Level:     level,
			})
		case <-linkTicker.C:
			if callState != CallActive {
				continue
			}
			o.send(outbound, protocol.LinkQuality{
				Type:      protocol.TypeLinkQuality,
				SessionID: s.ID,
				Quality:   simulatedQuality(linkRand),
				Source:    "simulated",
			})
		}
	}
}

// simulatedQuality draws a connection quality from a fixed
// distribution. There is no real network probe behind it.
func simulatedQuality(r *rand.Rand) string {
	n := r.Intn(100)
	switch {
	case n < 70:
		return "excellent"
	case n < 90:
		return "good"
	case n < 98:
		return "fair"
	default:
		return "poor"
	}
}

func questionsAsked(s *session.Session) int {
	if s == nil {
		return 0
	}
	return s.QuestionsAsked
}

func (o *Orchestrator) sendPanelState(outbound chan<- any, sessionID, panel string, on bool) {
	detail := panel + "_off"
	if on {
		detail = panel + "_on"
	}
	o.send(outbound, protocol.SystemEvent{
		Type:      protocol.TypeSystemEvent,
		SessionID: sessionID,
		Code:      "panel_state",
		Detail:    detail,
	})
}

// writeRecordRetrying retries a record write with capped exponential
// backoff until it succeeds, the attempts run out, or ctx expires.
func writeRecordRetrying(ctx context.Context, op func(context.Context) error) error {
	var err error
	for attempt := 0; attempt < recordWriteAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(reliability.ExponentialBackoff(attempt-1, recordRetryBase, recordRetryCap)):
			}
		}
		if err = op(ctx); err == nil {
			return nil
		}
	}
	return err
}

func (o *Orchestrator) createRecordBestEffort(s *session.Session) {
	if o.records == nil {
		return
	}
	rec := records.SessionRecord{
		StudentID:   s.StudentID,
		SessionType: s.SessionType,
		StartedAt:   time.Now().UTC(),
	}
	if s.Course != nil && s.Course.ID != 0 {
		id := s.Course.ID
		rec.CourseID = &id
	}
	if s.Lesson != nil && s.Lesson.ID != 0 {
		id := s.Lesson.ID
		rec.LessonID = &id
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), recordWriteTimeout)
		defer cancel()
		var id string
		err := writeRecordRetrying(ctx, func(ctx context.Context) error {
			var opErr error
			id, opErr = o.records.CreateSession(ctx, rec)
			return opErr
		})
		if err != nil {
			o.metrics.RecordWrites.WithLabelValues("create", "error").Inc()
			return
		}
		o.metrics.RecordWrites.WithLabelValues("create", "ok").Inc()
		_ = o.sessions.SetRecordID(s.ID, id)
	}()
}

func (o *Orchestrator) finishRecordBestEffort(s *session.Session, endedAt time.Time, topics []string) {
	if o.records == nil || s == nil || s.RecordID == "" {
		return
	}
	duration := 0
	if !s.StartedAt.IsZero() {
		duration = int(endedAt.Sub(s.StartedAt).Minutes())
	}
	recordID := s.RecordID
	questions := s.QuestionsAsked
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), recordWriteTimeout)
		defer cancel()
		err := writeRecordRetrying(ctx, func(ctx context.Context) error {
			return o.records.FinishSession(ctx, recordID, endedAt.UTC(), duration, topics, questions)
		})
		if err != nil {
			o.metrics.RecordWrites.WithLabelValues("finish", "error").Inc()
			return
		}
		o.metrics.RecordWrites.WithLabelValues("finish", "ok").Inc()
	}()
}

func (o *Orchestrator) saveSnapshotBestEffort(s *session.Session, sc *session.Context) {
	if o.snapshots == nil {
		return
	}
	snap := session.Snapshot{
		SessionID: s.ID,
		StudentID: s.StudentID,
		Language:  s.Language,
		Course:    s.Course,
		Lesson:    s.Lesson,
		Messages:  sc.Log().Snapshot(),
		StartedAt: sc.StartedAt(),
	}
	if cur, err := o.sessions.Get(s.ID); err == nil {
		snap.QuestionsAsked = cur.QuestionsAsked
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), snapshotSaveTimeout)
		defer cancel()
		if err := o.snapshots.Save(ctx, snap); err != nil {
			o.metrics.SessionEvents.WithLabelValues("snapshot_save_failed").Inc()
		}
	}()
}

func (o *Orchestrator) deleteSnapshotBestEffort(sessionID string) {
	if o.snapshots == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), snapshotSaveTimeout)
		defer cancel()
		_ = o.snapshots.Delete(ctx, sessionID)
	}()
}

// send delivers outbound messages with a bounded wait for critical
// payloads and a drop policy for periodic ones.
func (o *Orchestrator) send(outbound chan<- any, msg any) {
	msgType, critical := outboundMessageMeta(msg)
	o.metrics.WSMessages.WithLabelValues("out", msgType).Inc()

	if critical {
		timer := time.NewTimer(outboundCriticalWait)
		defer timer.Stop()
		select {
		case outbound <- msg:
		case <-timer.C:
			o.metrics.SessionEvents.WithLabelValues("outbound_drop_critical").Inc()
		}
		return
	}

	select {
	case outbound <- msg:
	default:
		o.metrics.SessionEvents.WithLabelValues("outbound_drop").Inc()
	}
}

func outboundMessageMeta(msg any) (string, bool) {
	switch msg.(type) {
	case protocol.TutorReply:
		return string(protocol.TypeTutorReply), true
	case protocol.TutorTextDelta:
		return string(protocol.TypeTutorTextDelta), true
	case protocol.TutorAudio:
		return string(protocol.TypeTutorAudio), true
	case protocol.TranscriptFinal:
		return string(protocol.TypeTranscriptFinal), true
	case protocol.TranscriptInterim:
		return string(protocol.TypeTranscriptInterim), false
	case protocol.SessionSummary:
		return string(protocol.TypeSessionSummary), true
	case protocol.SystemEvent:
		return string(protocol.TypeSystemEvent), true
	case protocol.ErrorEvent:
		return string(protocol.TypeErrorEvent), true
	case protocol.VoiceLevel:
		return string(protocol.TypeVoiceLevel), false
	case protocol.LinkQuality:
		return string(protocol.TypeLinkQuality), false
	default:
		return "unknown", false
	}
}
