package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientAudioChunk MessageType = "client_audio_chunk"
	TypeClientUtterance  MessageType = "client_utterance"
	TypeClientControl    MessageType = "client_control"

	TypeTranscriptInterim MessageType = "transcript_interim"
	TypeTranscriptFinal   MessageType = "transcript_final"
	TypeTutorTextDelta    MessageType = "tutor_text_delta"
	TypeTutorReply        MessageType = "tutor_reply"
	TypeTutorAudio        MessageType = "tutor_audio"
	TypeVoiceLevel        MessageType = "voice_level"
	TypeLinkQuality       MessageType = "link_quality"
	TypeSessionSummary    MessageType = "session_summary"
	TypeSystemEvent       MessageType = "system_event"
	TypeErrorEvent        MessageType = "error_event"
)

// Control actions accepted in client_control messages.
const (
	ActionStartCall         = "start_call"
	ActionEndCall           = "end_call"
	ActionCommitUtterance   = "commit_utterance"
	ActionToggleChat        = "toggle_chat"
	ActionToggleScreenShare = "toggle_screen_share"
	ActionToggleRecording   = "toggle_recording"
	ActionToggleHelp        = "toggle_help"
	ActionSetLanguage       = "set_language"
	ActionResetConversation = "reset_conversation"
	ActionMute              = "mute"
	ActionUnmute            = "unmute"
)

var ErrUnsupportedType = errors.New("unsupported message type")

var validActions = map[string]bool{
	ActionStartCall:         true,
	ActionEndCall:           true,
	ActionCommitUtterance:   true,
	ActionToggleChat:        true,
	ActionToggleScreenShare: true,
	ActionToggleRecording:   true,
	ActionToggleHelp:        true,
	ActionSetLanguage:       true,
	ActionResetConversation: true,
	ActionMute:              true,
	ActionUnmute:            true,
}

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientAudioChunk carries microphone audio from the student.
type ClientAudioChunk struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	Seq         int         `json:"seq"`
	PCM16Base64 string      `json:"pcm16_base64"`
	SampleRate  int         `json:"sample_rate"`
	Commit      bool        `json:"commit,omitempty"`
	TSMs        int64       `json:"ts_ms"`
}

// ClientUtterance carries a typed chat message, bypassing recognition.
type ClientUtterance struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
	TSMs      int64       `json:"ts_ms"`
}

type ClientControl struct {
	Type       MessageType `json:"type"`
	SessionID  string      `json:"session_id"`
	Action     string      `json:"action"`
	MicGranted bool        `json:"mic_granted,omitempty"`
	Language   string      `json:"language,omitempty"`
}

type TranscriptInterim struct {
	Type       MessageType `json:"type"`
	SessionID  string      `json:"session_id"`
	Text       string      `json:"text"`
	Confidence float64     `json:"confidence"`
	TSMs       int64       `json:"ts_ms"`
}

type TranscriptFinal struct {
	Type       MessageType `json:"type"`
	SessionID  string      `json:"session_id"`
	Text       string      `json:"text"`
	Confidence float64     `json:"confidence"`
	TSMs       int64       `json:"ts_ms"`
}

type TutorTextDelta struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id"`
	TextDelta string      `json:"text_delta"`
}

type TutorReply struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id"`
	Text      string      `json:"text"`
	TSMs      int64       `json:"ts_ms"`
}

type TutorAudio struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	TurnID      string      `json:"turn_id"`
	Format      string      `json:"format"`
	AudioBase64 string      `json:"audio_base64"`
}

// VoiceLevel reports the student's recent microphone level in [0, 1].
type VoiceLevel struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Level     float64     `json:"level"`
}

// LinkQuality reports connection quality. Source is "simulated" when
// the value comes from the built-in probe rather than real measurement.
type LinkQuality struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Quality   string      `json:"quality"`
	Source    string      `json:"source"`
}

type SessionSummary struct {
	Type            MessageType `json:"type"`
	SessionID       string      `json:"session_id"`
	TotalMessages   int         `json:"total_messages"`
	UserMessages    int         `json:"user_messages"`
	AIMessages      int         `json:"ai_messages"`
	QuestionsAsked  int         `json:"questions_asked"`
	TopicsCovered   []string    `json:"topics_covered"`
	DurationSeconds int         `json:"duration_seconds"`
}

type SystemEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientAudioChunk:
		var msg ClientAudioChunk
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.SampleRate <= 0 {
			return nil, errors.New("invalid client_audio_chunk")
		}
		if msg.PCM16Base64 == "" && !msg.Commit {
			return nil, errors.New("invalid client_audio_chunk")
		}
		return msg, nil
	case TypeClientUtterance:
		var msg ClientUtterance
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.Text == "" {
			return nil, errors.New("invalid client_utterance")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || !validActions[msg.Action] {
			return nil, errors.New("invalid client_control")
		}
		if msg.Action == ActionSetLanguage && msg.Language == "" {
			return nil, errors.New("set_language requires a language")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
