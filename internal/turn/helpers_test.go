package turn

import (
	"context"
	"errors"
	"sync"
)

type sinkEvent struct {
	kind   string
	turnID string
	text   string
	final  bool
	audio  []byte
}

type recordingSink struct {
	mu       sync.Mutex
	events   []sinkEvent
	audioErr error
}

func (s *recordingSink) add(e sinkEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) Status(label string) error {
	return s.add(sinkEvent{kind: "status", text: label})
}

func (s *recordingSink) Transcript(text string, final bool) error {
	return s.add(sinkEvent{kind: "transcript", text: text, final: final})
}

func (s *recordingSink) Reply(turnID, text string) error {
	return s.add(sinkEvent{kind: "reply", turnID: turnID, text: text})
}

func (s *recordingSink) Audio(turnID string, audio []byte) error {
	s.mu.Lock()
	err := s.audioErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.add(sinkEvent{kind: "audio", turnID: turnID, audio: append([]byte(nil), audio...)})
}

func (s *recordingSink) StopPlayback(turnID string) error {
	return s.add(sinkEvent{kind: "stop_playback", turnID: turnID})
}

func (s *recordingSink) SpeechEnd(turnID string) error {
	return s.add(sinkEvent{kind: "speech_end", turnID: turnID})
}

func (s *recordingSink) Error(message string) error {
	return s.add(sinkEvent{kind: "error", text: message})
}

func (s *recordingSink) snapshot() []sinkEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sinkEvent(nil), s.events...)
}

func (s *recordingSink) count(kind string) int {
	n := 0
	for _, e := range s.snapshot() {
		if e.kind == kind {
			n++
		}
	}
	return n
}

func (s *recordingSink) kinds() []string {
	var out []string
	for _, e := range s.snapshot() {
		out = append(out, e.kind)
	}
	return out
}

// scriptedSynth returns the chunk text as audio, failing chunks listed in fail.
type scriptedSynth struct {
	mu     sync.Mutex
	fail   map[string]bool
	calls  []string
	onCall func(text string)
}

func (s *scriptedSynth) Name() string { return "scripted" }

func (s *scriptedSynth) Synthesize(ctx context.Context, text, _ string) ([]byte, error) {
	s.mu.Lock()
	s.calls = append(s.calls, text)
	onCall := s.onCall
	fail := s.fail[text]
	s.mu.Unlock()

	if onCall != nil {
		onCall(text)
	}
	if fail {
		return nil, errors.New("synthesis failed")
	}
	return []byte(text), nil
}

func (s *scriptedSynth) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}
