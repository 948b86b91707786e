package voice

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/duplex/internal/reliability"
)

type ElevenLabsConfig struct {
	APIKey       string
	WSBaseURL    string
	ModelID      string
	OutputFormat string
	Stability    float64
	Similarity   float64
	Speed        float64
}

// ElevenLabsSynthesizer renders each chunk over one stream-input websocket
// and returns the concatenated audio once the stream reports isFinal.
type ElevenLabsSynthesizer struct {
	cfg    ElevenLabsConfig
	dialer *websocket.Dialer
}

// ProviderError is an error frame reported by a streaming provider.
type ProviderError struct {
	Code   string
	Detail string
}

func (e *ProviderError) Error() string {
	if e.Code == "" {
		return e.Detail
	}
	return e.Code + ": " + e.Detail
}

// Retryable reports whether the provider considers the condition transient.
func (e *ProviderError) Retryable() bool {
	return reliability.IsRetryableRealtimeMessageType(e.Code)
}

func NewElevenLabsSynthesizer(cfg ElevenLabsConfig) *ElevenLabsSynthesizer {
	if strings.TrimSpace(cfg.WSBaseURL) == "" {
		cfg.WSBaseURL = "wss://api.elevenlabs.io"
	}
	if strings.TrimSpace(cfg.ModelID) == "" {
		cfg.ModelID = "eleven_flash_v2_5"
	}
	if strings.TrimSpace(cfg.OutputFormat) == "" {
		cfg.OutputFormat = "mp3_44100_128"
	}
	cfg.Stability = clampOr(cfg.Stability, 0.42, 0, 1)
	cfg.Similarity = clampOr(cfg.Similarity, 0.85, 0, 1)
	cfg.Speed = clampOr(cfg.Speed, 1.0, 0.7, 1.2)
	return &ElevenLabsSynthesizer{cfg: cfg, dialer: websocket.DefaultDialer}
}

func (s *ElevenLabsSynthesizer) Name() string { return "elevenlabs" }

func (s *ElevenLabsSynthesizer) streamURL(voiceID string) (string, error) {
	u, err := url.Parse(strings.TrimRight(s.cfg.WSBaseURL, "/") + "/v1/text-to-speech/" + url.PathEscape(voiceID) + "/stream-input")
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("model_id", s.cfg.ModelID)
	q.Set("output_format", s.cfg.OutputFormat)
	q.Set("auto_mode", "true")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *ElevenLabsSynthesizer) Synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	if strings.TrimSpace(voiceID) == "" {
		return nil, errors.New("voice_id is required")
	}
	target, err := s.streamURL(voiceID)
	if err != nil {
		return nil, err
	}
	headers := http.Header{}
	headers.Set("xi-api-key", s.cfg.APIKey)

	conn, _, err := s.dialer.DialContext(ctx, target, headers)
	if err != nil {
		return nil, cancelledErr(ctx, fmt.Errorf("dial tts websocket: %w", err))
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	frames := []map[string]any{
		{
			"text": " ",
			"voice_settings": map[string]any{
				"stability":        s.cfg.Stability,
				"similarity_boost": s.cfg.Similarity,
				"speed":            s.cfg.Speed,
			},
		},
		{"text": strings.TrimSpace(text) + " ", "try_trigger_generation": true},
		{"text": ""},
	}
	for _, f := range frames {
		if err := conn.WriteJSON(f); err != nil {
			return nil, cancelledErr(ctx, fmt.Errorf("write tts frame: %w", err))
		}
	}

	var audio bytes.Buffer
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, cancelledErr(ctx, ctx.Err())
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) && audio.Len() > 0 {
				return audio.Bytes(), nil
			}
			return nil, fmt.Errorf("read tts stream: %w", err)
		}

		var frame struct {
			Audio       string `json:"audio"`
			IsFinal     bool   `json:"isFinal"`
			Error       string `json:"error"`
			MessageType string `json:"message_type"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		if frame.Error != "" {
			return nil, &ProviderError{Code: frame.MessageType, Detail: frame.Error}
		}
		if frame.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(frame.Audio)
			if err != nil {
				return nil, fmt.Errorf("decode tts audio: %w", err)
			}
			audio.Write(chunk)
		}
		if frame.IsFinal {
			if audio.Len() == 0 {
				return nil, errors.New("tts stream produced no audio")
			}
			return audio.Bytes(), nil
		}
	}
}

func clampOr(v, fallback, min, max float64) float64 {
	if v <= 0 {
		v = fallback
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
