package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ent0n29/duplex/internal/protocol"
	"github.com/ent0n29/duplex/internal/router"
	"github.com/ent0n29/duplex/internal/session"
	"github.com/ent0n29/duplex/internal/turn"
	"github.com/ent0n29/duplex/internal/voice"
)

type fakeRecognizerSession struct {
	events chan voice.RecognitionEvent

	mu       sync.Mutex
	audio    [][]byte
	finished bool
	closed   bool
	err      error
}

func newFakeRecognizerSession() *fakeRecognizerSession {
	return &fakeRecognizerSession{events: make(chan voice.RecognitionEvent, 16)}
}

func (s *fakeRecognizerSession) SendAudio(_ context.Context, pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audio = append(s.audio, pcm)
	return nil
}

func (s *fakeRecognizerSession) KeepAlive(context.Context) error { return nil }

func (s *fakeRecognizerSession) Finish(context.Context) error {
	s.mu.Lock()
	s.finished = true
	s.mu.Unlock()
	s.drop(nil)
	return nil
}

func (s *fakeRecognizerSession) Events() <-chan voice.RecognitionEvent { return s.events }

func (s *fakeRecognizerSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeRecognizerSession) Close() error {
	s.drop(nil)
	return nil
}

// drop ends the upstream stream as a remote close would.
func (s *fakeRecognizerSession) drop(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.events)
}

func (s *fakeRecognizerSession) audioFrames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.audio)
}

type fakeRecognizer struct {
	mu       sync.Mutex
	failures int
	opened   []*fakeRecognizerSession
	attempts int
}

func (r *fakeRecognizer) Open(context.Context, string) (voice.RecognizerSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts++
	if r.failures > 0 {
		r.failures--
		return nil, errors.New("dial refused")
	}
	s := newFakeRecognizerSession()
	r.opened = append(r.opened, s)
	return s, nil
}

func (r *fakeRecognizer) last() *fakeRecognizerSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.opened) == 0 {
		return nil
	}
	return r.opened[len(r.opened)-1]
}

func (r *fakeRecognizer) openCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.opened)
}

type echoRouter struct{}

func (echoRouter) Route(_ context.Context, q router.Query) (router.Result, error) {
	return router.Result{Text: "You said " + q.Text}, nil
}

type voiceSynth struct {
	mu     sync.Mutex
	voices []string
}

func (s *voiceSynth) Name() string { return "test" }

func (s *voiceSynth) Synthesize(_ context.Context, _ string, voiceID string) ([]byte, error) {
	s.mu.Lock()
	s.voices = append(s.voices, voiceID)
	s.mu.Unlock()
	return []byte{0, 0, 1, 1}, nil
}

func (s *voiceSynth) lastVoice() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.voices) == 0 {
		return ""
	}
	return s.voices[len(s.voices)-1]
}

type outboxRecorder struct {
	mu   sync.Mutex
	msgs []any
}

func (o *outboxRecorder) drain(ch <-chan any) {
	for msg := range ch {
		o.mu.Lock()
		o.msgs = append(o.msgs, msg)
		o.mu.Unlock()
	}
}

func (o *outboxRecorder) has(match func(any) bool) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, m := range o.msgs {
		if match(m) {
			return true
		}
	}
	return false
}

func (o *outboxRecorder) countStatus(label string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, m := range o.msgs {
		if s, ok := m.(protocol.Status); ok && s.Label == label {
			n++
		}
	}
	return n
}

type harness struct {
	sessions *session.Manager
	sess     *session.Session
	rec      *fakeRecognizer
	synth    *voiceSynth
	inbound  chan any
	out      *outboxRecorder
	done     chan error
	cancel   context.CancelFunc
}

func startHarness(t *testing.T, rec *fakeRecognizer) *harness {
	t.Helper()
	sessions := session.NewManager(time.Minute, 4)
	created := sessions.Create("nova")
	sess, err := sessions.Attach(created.ID)
	require.NoError(t, err)

	synth := &voiceSynth{}
	agg := turn.DefaultAggregatorConfig()
	agg.SpeechFinalDebounce = 5 * time.Millisecond
	agg.DefaultFinalDebounce = 10 * time.Millisecond

	o := New(Config{
		Recognizer:  rec,
		Router:      echoRouter{},
		Streamer:    turn.NewStreamer(synth, turn.StreamerConfig{SpeechEndDelay: time.Millisecond}, nil, nil),
		Sessions:    sessions,
		Aggregator:  agg,
		OpenBackoff: time.Millisecond,
	})

	h := &harness{
		sessions: sessions,
		sess:     sess,
		rec:      rec,
		synth:    synth,
		inbound:  make(chan any, 16),
		out:      &outboxRecorder{},
		done:     make(chan error, 1),
	}
	outbound := make(chan any, 256)
	go h.out.drain(outbound)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		h.done <- o.RunConnection(ctx, sess, h.inbound, outbound)
	}()
	t.Cleanup(func() {
		cancel()
		<-h.done
		close(outbound)
	})
	return h
}

func isReply(text string) func(any) bool {
	return func(m any) bool {
		r, ok := m.(protocol.Reply)
		return ok && r.Text == text
	}
}

func isErrorCode(code string) func(any) bool {
	return func(m any) bool {
		e, ok := m.(protocol.ErrorEvent)
		return ok && e.Code == code
	}
}

func isType[T any](m any) bool {
	_, ok := m.(T)
	return ok
}

func TestRunConnectionAnswersUtterance(t *testing.T) {
	h := startHarness(t, &fakeRecognizer{})

	require.Eventually(t, func() bool { return h.out.countStatus(turn.StatusListening) == 1 }, time.Second, 5*time.Millisecond)

	h.inbound <- protocol.ClientAudioFrame{PCM: []byte{1, 2, 3, 4}}
	require.Eventually(t, func() bool { return h.rec.last().audioFrames() == 1 }, time.Second, 5*time.Millisecond)

	h.rec.last().events <- voice.RecognitionEvent{Text: "what time is it?", IsFinal: true, IsSpeechFinal: true, Confidence: 0.95}

	require.Eventually(t, func() bool { return h.out.has(isReply("You said what time is it?")) }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return h.out.has(isType[protocol.SpeechEnd]) }, time.Second, 5*time.Millisecond)
	require.True(t, h.out.has(isType[protocol.AudioFrame]))
	require.Equal(t, "nova", h.synth.lastVoice())
	require.Equal(t, 1, h.sess.Memory.Len())
}

func TestRunConnectionSetVoiceAppliesToNextTurn(t *testing.T) {
	h := startHarness(t, &fakeRecognizer{})
	require.Eventually(t, func() bool { return h.rec.last() != nil }, time.Second, 5*time.Millisecond)

	h.inbound <- protocol.ClientControl{Type: protocol.TypeClientControl, Action: protocol.ActionSetVoice, VoiceID: "alloy"}
	require.Eventually(t, func() bool {
		s, err := h.sessions.Get(h.sess.ID)
		return err == nil && s.VoiceID == "alloy"
	}, time.Second, 5*time.Millisecond)

	h.rec.last().events <- voice.RecognitionEvent{Text: "tell me a joke.", IsFinal: true, IsSpeechFinal: true, Confidence: 0.95}
	require.Eventually(t, func() bool { return h.out.has(isType[protocol.SpeechEnd]) }, time.Second, 5*time.Millisecond)
	require.Equal(t, "alloy", h.synth.lastVoice())
}

func TestRunConnectionRecognizerDropIsNonFatal(t *testing.T) {
	h := startHarness(t, &fakeRecognizer{})
	require.Eventually(t, func() bool { return h.rec.last() != nil }, time.Second, 5*time.Millisecond)

	h.rec.last().drop(errors.New("upstream reset"))
	require.Eventually(t, func() bool { return h.out.has(isErrorCode("recognizer_disconnected")) }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return h.out.countStatus(turn.StatusIdle) == 1 }, time.Second, 5*time.Millisecond)

	select {
	case err := <-h.done:
		t.Fatalf("connection ended after recognizer drop: %v", err)
	default:
	}

	h.inbound <- protocol.ClientControl{Type: protocol.TypeClientControl, Action: protocol.ActionStart}
	require.Eventually(t, func() bool { return h.rec.openCount() == 2 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return h.out.countStatus(turn.StatusListening) == 2 }, time.Second, 5*time.Millisecond)
}

func TestRunConnectionStopIsNotReportedAsError(t *testing.T) {
	h := startHarness(t, &fakeRecognizer{})
	require.Eventually(t, func() bool { return h.rec.last() != nil }, time.Second, 5*time.Millisecond)

	h.inbound <- protocol.ClientControl{Type: protocol.TypeClientControl, Action: protocol.ActionStop}
	require.Eventually(t, func() bool { return h.out.countStatus(turn.StatusIdle) == 1 }, time.Second, 5*time.Millisecond)
	require.False(t, h.out.has(isType[protocol.ErrorEvent]))
}

func TestRunConnectionRetriesRecognizerOpen(t *testing.T) {
	rec := &fakeRecognizer{failures: 2}
	h := startHarness(t, rec)

	require.Eventually(t, func() bool { return h.out.countStatus(turn.StatusListening) == 1 }, time.Second, 5*time.Millisecond)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Equal(t, 3, rec.attempts)
}

func TestRunConnectionReportsUnavailableRecognizer(t *testing.T) {
	h := startHarness(t, &fakeRecognizer{failures: 10})

	require.Eventually(t, func() bool { return h.out.has(isErrorCode("recognizer_unavailable")) }, time.Second, 5*time.Millisecond)
	require.Zero(t, h.out.countStatus(turn.StatusListening))
}

func TestRunConnectionEndsWhenInboundCloses(t *testing.T) {
	h := startHarness(t, &fakeRecognizer{})
	close(h.inbound)

	select {
	case err := <-h.done:
		require.NoError(t, err)
		h.done <- err
	case <-time.After(time.Second):
		t.Fatal("RunConnection did not return after inbound closed")
	}
}
