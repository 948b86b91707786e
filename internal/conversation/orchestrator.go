// Package conversation runs one client connection: it bridges websocket
// traffic, the speech recognizer and the turn controller.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/duplex/internal/observability"
	"github.com/ent0n29/duplex/internal/protocol"
	"github.com/ent0n29/duplex/internal/reliability"
	"github.com/ent0n29/duplex/internal/session"
	"github.com/ent0n29/duplex/internal/turn"
	"github.com/ent0n29/duplex/internal/voice"
)

type Config struct {
	Recognizer        voice.Recognizer
	Router            turn.Router
	Streamer          *turn.Streamer
	Documents         turn.DocumentSource
	Sessions          *session.Manager
	Aggregator        turn.AggregatorConfig
	KeepAliveInterval time.Duration
	OpenAttempts      int
	OpenBackoff       time.Duration
	DocumentMaxChars  int
	Logger            *zap.Logger
	Metrics           *observability.Metrics
}

type Orchestrator struct {
	cfg     Config
	logger  *zap.Logger
	metrics *observability.Metrics
}

func New(cfg Config) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.KeepAliveInterval <= 0 {
		cfg.KeepAliveInterval = 5 * time.Second
	}
	if cfg.OpenAttempts <= 0 {
		cfg.OpenAttempts = 3
	}
	if cfg.OpenBackoff <= 0 {
		cfg.OpenBackoff = 200 * time.Millisecond
	}
	return &Orchestrator{cfg: cfg, logger: cfg.Logger, metrics: cfg.Metrics}
}

// connection is the per-websocket state owned by RunConnection's goroutine,
// except voiceID which the turn goroutine reads.
type connection struct {
	sess     *session.Session
	sink     *protocol.ChannelSink
	ctrl     *turn.Controller
	logger   *zap.Logger
	rec      voice.RecognizerSession
	stopping bool

	voiceMu sync.RWMutex
	voiceID string
}

func (c *connection) voice() string {
	c.voiceMu.RLock()
	defer c.voiceMu.RUnlock()
	return c.voiceID
}

func (c *connection) setVoice(v string) {
	c.voiceMu.Lock()
	c.voiceID = v
	c.voiceMu.Unlock()
}

// RunConnection serves one attached session until ctx is cancelled or
// inbound is closed. Recognizer failures are reported to the client and do
// not end the connection.
func (o *Orchestrator) RunConnection(ctx context.Context, s *session.Session, inbound <-chan any, outbound chan<- any) error {
	if o.cfg.Recognizer == nil || o.cfg.Router == nil || o.cfg.Streamer == nil {
		return errors.New("orchestrator is not fully configured")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	conn := &connection{
		sess:    s,
		sink:    protocol.NewChannelSink(s.ID, outbound, ctx.Done(), o.metrics),
		logger:  o.logger.With(zap.String("session_id", s.ID)),
		voiceID: s.VoiceID,
	}
	conn.ctrl = turn.NewController(turn.Config{
		SessionID:        s.ID,
		Router:           o.cfg.Router,
		Streamer:         o.cfg.Streamer,
		Sink:             conn.sink,
		Memory:           s.Memory,
		Documents:        o.cfg.Documents,
		Voice:            conn.voice,
		Aggregator:       o.cfg.Aggregator,
		DocumentMaxChars: o.cfg.DocumentMaxChars,
		Logger:           o.logger,
		Metrics:          o.metrics,
	})
	defer func() {
		conn.ctrl.Close()
		if conn.rec != nil {
			_ = conn.rec.Close()
		}
	}()

	o.start(ctx, conn)

	keepAlive := time.NewTicker(o.cfg.KeepAliveInterval)
	defer keepAlive.Stop()

	for {
		var events <-chan voice.RecognitionEvent
		if conn.rec != nil {
			events = conn.rec.Events()
		}

		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			o.handleInbound(ctx, conn, msg)
		case evt, ok := <-events:
			if !ok {
				o.recognizerEnded(conn)
				continue
			}
			conn.ctrl.HandleRecognition(evt)
		case <-keepAlive.C:
			if conn.rec == nil || conn.stopping {
				continue
			}
			if err := conn.rec.KeepAlive(ctx); err != nil {
				conn.logger.Debug("recognizer keep-alive failed", zap.Error(err))
			}
		}
	}
}

// start opens the recognizer if needed and moves the controller to
// Listening.
func (o *Orchestrator) start(ctx context.Context, conn *connection) {
	if conn.rec != nil && conn.stopping {
		_ = conn.rec.Close()
		conn.rec = nil
		conn.stopping = false
	}
	if conn.rec == nil {
		rec, err := o.openRecognizer(ctx, conn.sess.ID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			conn.logger.Warn("recognizer unavailable", zap.Error(err))
			o.metrics.Event("recognizer_open_failed")
			_ = conn.sink.Notify("recognizer_unavailable", "speech recognition is unavailable, send start to retry", true)
			return
		}
		conn.rec = rec
	}
	conn.ctrl.Start(ctx)
}

func (o *Orchestrator) openRecognizer(ctx context.Context, sessionID string) (voice.RecognizerSession, error) {
	var rec voice.RecognizerSession
	err := reliability.Retry(ctx, o.cfg.OpenAttempts, o.cfg.OpenBackoff, 2*time.Second, func(ctx context.Context) error {
		var err error
		rec, err = o.cfg.Recognizer.Open(ctx, sessionID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("open recognizer: %w", err)
	}
	return rec, nil
}

// recognizerEnded handles the upstream stream closing, whether asked for by
// a stop control or not.
func (o *Orchestrator) recognizerEnded(conn *connection) {
	err := conn.rec.Err()
	_ = conn.rec.Close()
	conn.rec = nil
	stopped := conn.stopping
	conn.stopping = false

	if !stopped {
		conn.logger.Warn("recognizer disconnected", zap.Error(err))
		o.metrics.Event("recognizer_disconnected")
		_ = conn.sink.Notify("recognizer_disconnected", "speech recognition disconnected, send start to resume", true)
	}
	conn.ctrl.Suspend()
}

func (o *Orchestrator) handleInbound(ctx context.Context, conn *connection, msg any) {
	if o.cfg.Sessions != nil {
		_ = o.cfg.Sessions.Touch(conn.sess.ID)
	}
	switch m := msg.(type) {
	case protocol.ClientAudioFrame:
		o.forwardAudio(ctx, conn, m.PCM)
	case protocol.ClientAudioChunk:
		pcm, err := m.PCM()
		if err != nil {
			o.metrics.Event("inbound_malformed")
			return
		}
		o.forwardAudio(ctx, conn, pcm)
	case protocol.ClientControl:
		o.handleControl(ctx, conn, m)
	default:
		o.metrics.Event("inbound_unknown")
	}
}

func (o *Orchestrator) forwardAudio(ctx context.Context, conn *connection, pcm []byte) {
	if conn.rec == nil || conn.stopping || len(pcm) == 0 {
		return
	}
	if err := conn.rec.SendAudio(ctx, pcm); err != nil {
		conn.logger.Debug("audio not forwarded", zap.Error(err))
	}
}

func (o *Orchestrator) handleControl(ctx context.Context, conn *connection, m protocol.ClientControl) {
	switch m.Action {
	case protocol.ActionStart:
		o.start(ctx, conn)
	case protocol.ActionStop:
		if conn.rec == nil || conn.stopping {
			return
		}
		conn.stopping = true
		if err := conn.rec.Finish(ctx); err != nil {
			conn.logger.Debug("recognizer finish failed", zap.Error(err))
		}
	case protocol.ActionInterrupt:
		if conn.ctrl.Interrupt("client") {
			conn.logger.Debug("client interrupt", zap.String("reason", strings.TrimSpace(m.Reason)))
		}
	case protocol.ActionSetVoice:
		conn.setVoice(m.VoiceID)
		if o.cfg.Sessions != nil {
			_ = o.cfg.Sessions.SetVoice(conn.sess.ID, m.VoiceID)
		}
	}
}
