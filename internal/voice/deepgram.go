package voice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/duplex/internal/reliability"
)

type DeepgramConfig struct {
	APIKey     string
	URL        string
	Model      string
	Language   string
	SampleRate int
}

// DeepgramRecognizer streams linear16 audio to Deepgram's live endpoint.
type DeepgramRecognizer struct {
	cfg    DeepgramConfig
	dialer *websocket.Dialer
}

func NewDeepgramRecognizer(cfg DeepgramConfig) *DeepgramRecognizer {
	if strings.TrimSpace(cfg.URL) == "" {
		cfg.URL = "wss://api.deepgram.com/v1/listen"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	return &DeepgramRecognizer{cfg: cfg, dialer: websocket.DefaultDialer}
}

func (r *DeepgramRecognizer) listenURL() (string, error) {
	u, err := url.Parse(r.cfg.URL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	if r.cfg.Model != "" {
		q.Set("model", r.cfg.Model)
	}
	if r.cfg.Language != "" {
		q.Set("language", r.cfg.Language)
	}
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(r.cfg.SampleRate))
	q.Set("channels", "1")
	q.Set("interim_results", "true")
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	q.Set("endpointing", "300")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (r *DeepgramRecognizer) Open(ctx context.Context, _ string) (RecognizerSession, error) {
	target, err := r.listenURL()
	if err != nil {
		return nil, fmt.Errorf("deepgram url: %w", err)
	}
	headers := http.Header{}
	if r.cfg.APIKey != "" {
		headers.Set("Authorization", "Token "+r.cfg.APIKey)
	}

	conn, resp, err := r.dialer.DialContext(ctx, target, headers)
	if err != nil {
		if resp != nil {
			err = &HandshakeError{Code: resp.StatusCode, Err: err}
		}
		return nil, fmt.Errorf("dial deepgram websocket: %w", cancelledErr(ctx, err))
	}

	s := &deepgramSession{
		conn:   conn,
		events: make(chan RecognitionEvent, 256),
		done:   make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

// HandshakeError is a websocket upgrade rejected with an HTTP status.
type HandshakeError struct {
	Code int
	Err  error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("handshake rejected with status %d: %v", e.Code, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

func (e *HandshakeError) Retryable() bool {
	return reliability.IsRetryableHTTPStatus(e.Code)
}

type deepgramSession struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	events    chan RecognitionEvent
	done      chan struct{}

	errMu sync.Mutex
	err   error
}

type deepgramResult struct {
	Type        string `json:"type"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`
	Channel     struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func (s *deepgramSession) SendAudio(_ context.Context, pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, pcm)
}

func (s *deepgramSession) KeepAlive(_ context.Context) error {
	return s.writeJSON(map[string]string{"type": "KeepAlive"})
}

func (s *deepgramSession) Finish(_ context.Context) error {
	return s.writeJSON(map[string]string{"type": "CloseStream"})
}

func (s *deepgramSession) Events() <-chan RecognitionEvent { return s.events }

func (s *deepgramSession) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *deepgramSession) Close() error {
	var retErr error
	s.closeOnce.Do(func() {
		close(s.done)
		s.writeMu.Lock()
		_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.writeMu.Unlock()
		retErr = s.conn.Close()
	})
	return retErr
}

func (s *deepgramSession) writeJSON(payload any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(payload)
}

func (s *deepgramSession) readLoop() {
	defer close(s.events)
	defer func() { _ = s.Close() }()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) && !errors.Is(err, net.ErrClosed) {
				s.errMu.Lock()
				s.err = fmt.Errorf("deepgram stream: %w", err)
				s.errMu.Unlock()
			}
			return
		}
		var res deepgramResult
		if err := json.Unmarshal(data, &res); err != nil || res.Type != "Results" {
			continue
		}
		if len(res.Channel.Alternatives) == 0 {
			continue
		}
		alt := res.Channel.Alternatives[0]
		text := strings.TrimSpace(alt.Transcript)
		if text == "" && !res.SpeechFinal {
			continue
		}
		evt := RecognitionEvent{
			Text:          text,
			IsFinal:       res.IsFinal,
			IsSpeechFinal: res.SpeechFinal,
			Confidence:    alt.Confidence,
		}
		select {
		case s.events <- evt:
		case <-s.done:
			return
		}
	}
}
