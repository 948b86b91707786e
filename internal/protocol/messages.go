// Package protocol defines the client websocket messages and the outbound
// delivery policy.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientAudioChunk MessageType = "client_audio_chunk"
	TypeClientControl    MessageType = "client_control"
	TypeStatus           MessageType = "status"
	TypeTranscript       MessageType = "transcript"
	TypeReply            MessageType = "reply"
	TypeStopPlayback     MessageType = "stop_playback"
	TypeSpeechEnd        MessageType = "speech_end"
	TypeErrorEvent       MessageType = "error"
	TypeAudio            MessageType = "audio"
)

// Control actions.
const (
	ActionStart     = "start"
	ActionStop      = "stop"
	ActionInterrupt = "interrupt"
	ActionSetVoice  = "set_voice"
)

var (
	ErrUnsupportedType = errors.New("unsupported message type")
	ErrInvalidMessage  = errors.New("invalid message")
)

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientAudioFrame is raw PCM16LE audio from a binary websocket frame.
type ClientAudioFrame struct {
	PCM []byte
}

// ClientAudioChunk carries base64 PCM16LE in a JSON frame.
type ClientAudioChunk struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	Seq         int         `json:"seq"`
	PCM16Base64 string      `json:"pcm16_base64"`
	SampleRate  int         `json:"sample_rate"`
}

// PCM decodes the chunk payload.
func (m ClientAudioChunk) PCM() ([]byte, error) {
	return base64.StdEncoding.DecodeString(m.PCM16Base64)
}

type ClientControl struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Action    string      `json:"action"`
	Reason    string      `json:"reason,omitempty"`
	VoiceID   string      `json:"voice_id,omitempty"`
}

type Status struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Label     string      `json:"label"`
}

type Transcript struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
	IsFinal   bool        `json:"is_final"`
}

type Reply struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id"`
	Text      string      `json:"text"`
}

type StopPlayback struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id"`
}

type SpeechEnd struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	Retryable bool        `json:"retryable"`
}

// AudioFrame is written to the client as a binary frame.
type AudioFrame struct {
	TurnID string
	Data   []byte
}

// ParseClientMessage decodes a JSON text frame.
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
		if msg.PCM16Base64 == "" || msg.SampleRate <= 0 {
			return nil, fmt.Errorf("%w: client_audio_chunk", ErrInvalidMessage)
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		msg.Action = strings.ToLower(strings.TrimSpace(msg.Action))
		switch msg.Action {
		case ActionStart, ActionStop, ActionInterrupt:
		case ActionSetVoice:
			if strings.TrimSpace(msg.VoiceID) == "" {
				return nil, fmt.Errorf("%w: set_voice without voice_id", ErrInvalidMessage)
			}
		default:
			return nil, fmt.Errorf("%w: client_control action %q", ErrInvalidMessage, msg.Action)
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// MessageMeta returns the wire type of an outbound message and whether it
// must be delivered rather than dropped under backpressure.
func MessageMeta(msg any) (msgType string, critical bool) {
	switch m := msg.(type) {
	case Status:
		return string(m.Type), true
	case Transcript:
		return string(m.Type), m.IsFinal
	case Reply:
		return string(m.Type), true
	case StopPlayback:
		return string(m.Type), true
	case SpeechEnd:
		return string(m.Type), true
	case ErrorEvent:
		return string(m.Type), true
	case AudioFrame:
		return string(TypeAudio), true
	default:
		return "unknown", false
	}
}
