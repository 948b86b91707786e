// Package turn runs the per-connection turn pipeline: transcript aggregation,
// routing, chunked synthesis and barge-in cancellation.
package turn

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ent0n29/duplex/internal/backend"
	"github.com/ent0n29/duplex/internal/documents"
	"github.com/ent0n29/duplex/internal/memory"
	"github.com/ent0n29/duplex/internal/observability"
	"github.com/ent0n29/duplex/internal/policy"
	"github.com/ent0n29/duplex/internal/router"
	"github.com/ent0n29/duplex/internal/speech"
	"github.com/ent0n29/duplex/internal/voice"
)

type Phase int

const (
	Idle Phase = iota
	Listening
	Thinking
	Speaking
	Interrupted
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Thinking:
		return "thinking"
	case Speaking:
		return "speaking"
	case Interrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Router answers completed utterances.
type Router interface {
	Route(ctx context.Context, q router.Query) (router.Result, error)
}

// DocumentSource looks up the document attached to a session.
type DocumentSource interface {
	Get(ctx context.Context, sessionID string) (documents.Document, error)
}

// Turn is one utterance-to-reply exchange.
type Turn struct {
	ID        string
	Text      string
	Token     *Token
	StartedAt time.Time

	firstAudio sync.Once
}

type Config struct {
	SessionID        string
	Router           Router
	Streamer         *Streamer
	Sink             Sink
	Memory           *memory.Window
	Documents        DocumentSource
	Voice            func() string
	Aggregator       AggregatorConfig
	DocumentMaxChars int
	Logger           *zap.Logger
	Metrics          *observability.Metrics
}

// Controller owns the single live turn of one connection.
type Controller struct {
	cfg     Config
	logger  *zap.Logger
	metrics *observability.Metrics
	agg     *Aggregator

	mu        sync.Mutex
	phase     Phase
	turn      *Turn
	ctx       context.Context
	cancel    context.CancelFunc
	suspended bool
	closed    bool

	// emitMu orders turn output against stop-playback notifications.
	emitMu sync.Mutex
	wg     sync.WaitGroup
}

func NewController(cfg Config) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Memory == nil {
		cfg.Memory = memory.NewWindow(0)
	}
	if cfg.Voice == nil {
		cfg.Voice = func() string { return "" }
	}
	if cfg.DocumentMaxChars <= 0 {
		cfg.DocumentMaxChars = 4000
	}
	c := &Controller{
		cfg:     cfg,
		logger:  cfg.Logger.With(zap.String("session_id", cfg.SessionID)),
		metrics: cfg.Metrics,
		phase:   Idle,
	}
	c.agg = NewAggregator(cfg.Aggregator, c.Active, func() { c.Interrupt("barge_in") })
	return c
}

// Start moves Idle to Listening and begins consuming completed utterances.
// It may be called again after Suspend.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.cancel == nil {
		c.ctx, c.cancel = context.WithCancel(ctx)
		go c.loop(c.ctx)
	}
	c.suspended = false
	if c.phase != Idle {
		c.mu.Unlock()
		return
	}
	c.setPhaseLocked(Listening)
	c.mu.Unlock()
	_ = c.cfg.Sink.Status(StatusListening)
}

func (c *Controller) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-c.agg.Completed():
			c.beginTurn(text)
		}
	}
}

// Suspend puts the controller to sleep after the recognizer went away.
// A reply already playing finishes; no new turn starts until Start.
func (c *Controller) Suspend() {
	c.agg.Reset()
	c.mu.Lock()
	c.suspended = true
	idle := c.turn == nil && c.phase != Idle
	if idle {
		c.setPhaseLocked(Idle)
	}
	c.mu.Unlock()
	if idle {
		_ = c.cfg.Sink.Status(StatusIdle)
	}
}

// Close cancels any live turn and waits for its goroutine to finish.
// No turn starts once Close has begun.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.Interrupt("connection_closed")
	c.agg.Reset()
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()
	c.wg.Wait()
}

// Phase returns the current state.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Active reports whether a turn is live.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.turn != nil
}

// HandleRecognition feeds one recognizer event through barge-in detection
// and turn aggregation, echoing meaningful text to the client.
func (c *Controller) HandleRecognition(evt voice.RecognitionEvent) {
	if !c.agg.Handle(evt) {
		return
	}
	if err := c.cfg.Sink.Transcript(evt.Text, evt.IsFinal); err != nil {
		c.logger.Debug("transcript not delivered", zap.Error(err))
	}
	if evt.IsFinal {
		c.logger.Debug("final transcript", zap.String("text", policy.LogText(evt.Text)))
	}
}

// Interrupt cancels the live turn, if any, tells the client to stop playback
// and returns to Listening without waiting for in-flight calls.
func (c *Controller) Interrupt(reason string) bool {
	started := time.Now()

	c.mu.Lock()
	t := c.turn
	if t == nil {
		c.mu.Unlock()
		return false
	}
	t.Token.Fire()
	c.turn = nil
	c.setPhaseLocked(Interrupted)
	next := Listening
	if c.suspended {
		next = Idle
	}
	c.setPhaseLocked(next)
	c.mu.Unlock()

	c.metrics.ObserveIndicator("interrupt_" + reason)
	c.logger.Debug("turn interrupted", zap.String("turn_id", t.ID), zap.String("reason", reason))

	c.emitMu.Lock()
	_ = c.cfg.Sink.StopPlayback(t.ID)
	if next == Listening {
		_ = c.cfg.Sink.Status(StatusListening)
	}
	c.emitMu.Unlock()
	c.metrics.ObserveStage("barge_in_to_stop", time.Since(started))
	return true
}

func (c *Controller) beginTurn(text string) {
	c.mu.Lock()
	if c.closed || c.turn != nil || c.phase != Listening || c.suspended {
		c.mu.Unlock()
		c.logger.Debug("completed utterance refused", zap.String("text", policy.LogText(text)))
		return
	}
	t := &Turn{
		ID:        uuid.NewString(),
		Text:      text,
		Token:     NewToken(c.ctx),
		StartedAt: time.Now(),
	}
	c.turn = t
	c.setPhaseLocked(Thinking)
	c.wg.Add(1)
	c.mu.Unlock()

	c.emit(t, func(s Sink) error { return s.Status(StatusThinking) })
	go c.runTurn(t)
}

func (c *Controller) runTurn(t *Turn) {
	defer c.wg.Done()
	ctx := t.Token.Context()

	q := router.Query{Text: t.Text, Memory: c.cfg.Memory.Snippet()}
	if c.cfg.Documents != nil {
		doc, err := c.cfg.Documents.Get(ctx, c.cfg.SessionID)
		switch {
		case err == nil:
			q.Document = documents.Snippet(doc.Text, c.cfg.DocumentMaxChars)
			q.HasDocument = q.Document != ""
		case !errors.Is(err, documents.ErrNotFound) && !t.Token.Fired():
			c.logger.Warn("document lookup failed", zap.Error(err))
		}
	}

	res, err := c.cfg.Router.Route(ctx, q)
	if err != nil {
		if t.Token.Fired() || errors.Is(err, backend.ErrCancelled) {
			c.logger.Debug("turn cancelled while thinking", zap.String("turn_id", t.ID))
			c.finish(t)
			return
		}
		c.logger.Warn("routing failed, apologizing", zap.String("turn_id", t.ID), zap.Error(err))
		res = router.Result{Text: router.ApologyReply}
	}
	c.metrics.ObserveStage("commit_to_reply", time.Since(t.StartedAt))

	if !c.commit(t, res.Text) {
		c.logger.Debug("reply discarded for cancelled turn", zap.String("turn_id", t.ID))
		c.finish(t)
		return
	}

	chunks := speech.Split(res.Text)
	delivery, err := c.cfg.Streamer.Stream(t.Token, t.ID, chunks, c.cfg.Voice(), turnSink{c: c, t: t})
	if err != nil {
		c.logger.Info("reply stream stopped", zap.String("turn_id", t.ID), zap.Error(err))
		t.Token.Fire()
	}
	if delivery.Failed > 0 {
		c.logger.Warn("reply delivered partially",
			zap.String("turn_id", t.ID),
			zap.Int("sent", delivery.Sent),
			zap.Int("failed", delivery.Failed),
		)
	}
	if !delivery.Cancelled && err == nil {
		c.metrics.ObserveStage("turn_total", time.Since(t.StartedAt))
	}
	c.finish(t)
}

// commit records the exchange in memory and announces the reply, unless the
// turn was cancelled first. Memory and the reply notification land together
// or not at all.
func (c *Controller) commit(t *Turn, reply string) bool {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	if c.turn != t || t.Token.Fired() {
		c.mu.Unlock()
		return false
	}
	c.cfg.Memory.Append(t.Text, reply)
	c.setPhaseLocked(Speaking)
	c.mu.Unlock()

	_ = c.cfg.Sink.Reply(t.ID, reply)
	_ = c.cfg.Sink.Status(StatusSpeaking)
	return true
}

// finish retires t if it is still the live turn.
func (c *Controller) finish(t *Turn) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	if c.turn != t {
		c.mu.Unlock()
		return
	}
	c.turn = nil
	t.Token.Fire()
	next := Listening
	if c.suspended {
		next = Idle
	}
	c.setPhaseLocked(next)
	c.mu.Unlock()

	label := StatusListening
	if next == Idle {
		label = StatusIdle
	}
	_ = c.cfg.Sink.Status(label)
}

// emit runs fn against the sink only while t is the live turn.
func (c *Controller) emit(t *Turn, fn func(Sink) error) error {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	if !c.isLive(t) {
		return ErrTurnCancelled
	}
	return fn(c.cfg.Sink)
}

func (c *Controller) isLive(t *Turn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.turn == t && !t.Token.Fired()
}

func (c *Controller) setPhaseLocked(p Phase) {
	if c.phase == p {
		return
	}
	c.metrics.Transition(c.phase.String(), p.String())
	c.phase = p
}

// turnSink scopes the sink to one turn so a cancelled turn cannot reach the
// client.
type turnSink struct {
	c *Controller
	t *Turn
}

func (s turnSink) Status(label string) error {
	return s.c.emit(s.t, func(k Sink) error { return k.Status(label) })
}

func (s turnSink) Transcript(text string, final bool) error {
	return s.c.emit(s.t, func(k Sink) error { return k.Transcript(text, final) })
}

func (s turnSink) Reply(turnID, text string) error {
	return s.c.emit(s.t, func(k Sink) error { return k.Reply(turnID, text) })
}

func (s turnSink) Audio(turnID string, audio []byte) error {
	err := s.c.emit(s.t, func(k Sink) error { return k.Audio(turnID, audio) })
	if err == nil {
		s.t.firstAudio.Do(func() {
			s.c.metrics.ObserveStage("commit_to_first_audio", time.Since(s.t.StartedAt))
		})
	}
	return err
}

func (s turnSink) StopPlayback(turnID string) error {
	return s.c.emit(s.t, func(k Sink) error { return k.StopPlayback(turnID) })
}

func (s turnSink) SpeechEnd(turnID string) error {
	return s.c.emit(s.t, func(k Sink) error { return k.SpeechEnd(turnID) })
}

func (s turnSink) Error(message string) error {
	return s.c.emit(s.t, func(k Sink) error { return k.Error(message) })
}
