package voice

import (
	"context"
	"sync"
	"time"

	"github.com/ent0n29/duplex/internal/audio"
)

// MockRecognizer is a local stand-in used when no recognizer is configured.
// Every eighth audio frame, or an explicit Finish, commits the words
// "simulated voice input".
type MockRecognizer struct{}

func NewMockRecognizer() *MockRecognizer { return &MockRecognizer{} }

func (r *MockRecognizer) Open(_ context.Context, _ string) (RecognizerSession, error) {
	return &mockRecognizerSession{events: make(chan RecognitionEvent, 64)}, nil
}

type mockRecognizerSession struct {
	mu     sync.Mutex
	events chan RecognitionEvent
	frames int
	closed bool
}

func (s *mockRecognizerSession) SendAudio(_ context.Context, pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(pcm) == 0 {
		return nil
	}
	s.frames++
	if s.frames%8 == 0 {
		s.emit(RecognitionEvent{Text: "simulated voice input", IsFinal: true, IsSpeechFinal: true, Confidence: 0.95})
	}
	return nil
}

func (s *mockRecognizerSession) KeepAlive(context.Context) error { return nil }

func (s *mockRecognizerSession) Finish(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.frames == 0 {
		return nil
	}
	s.emit(RecognitionEvent{Text: "simulated voice input", IsFinal: true, IsSpeechFinal: true, Confidence: 0.95})
	return nil
}

func (s *mockRecognizerSession) emit(evt RecognitionEvent) {
	select {
	case s.events <- evt:
	default:
	}
}

func (s *mockRecognizerSession) Events() <-chan RecognitionEvent { return s.events }

func (s *mockRecognizerSession) Err() error { return nil }

func (s *mockRecognizerSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.events)
	return nil
}

// MockSynthesizer returns silent PCM16 audio sized to the text, at roughly
// the pace of natural speech.
type MockSynthesizer struct {
	SampleRate int
}

func NewMockSynthesizer(sampleRate int) *MockSynthesizer {
	return &MockSynthesizer{SampleRate: sampleRate}
}

func (s *MockSynthesizer) Name() string { return "mock" }

func (s *MockSynthesizer) Synthesize(ctx context.Context, text, _ string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, cancelledErr(ctx, err)
	}
	d := time.Duration(len(text)) * 60 * time.Millisecond
	return audio.Silence(d, s.SampleRate), nil
}
