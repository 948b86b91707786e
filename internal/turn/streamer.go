package turn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/duplex/internal/observability"
	"github.com/ent0n29/duplex/internal/voice"
)

// ErrSinkClosed wraps a sink failure that ended a stream early.
var ErrSinkClosed = errors.New("client sink closed")

type StreamerConfig struct {
	Timeout        time.Duration
	ChunkPause     time.Duration
	SpeechEndDelay time.Duration
}

// Streamer synthesizes chunks one at a time and forwards the audio in order.
type Streamer struct {
	synth   voice.Synthesizer
	cfg     StreamerConfig
	logger  *zap.Logger
	metrics *observability.Metrics
}

func NewStreamer(synth voice.Synthesizer, cfg StreamerConfig, logger *zap.Logger, metrics *observability.Metrics) *Streamer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Streamer{synth: synth, cfg: cfg, logger: logger, metrics: metrics}
}

// Delivery summarizes one Stream call.
type Delivery struct {
	Sent      int
	Failed    int
	Cancelled bool
}

// Stream plays chunks through sink under tok. A chunk whose synthesis fails
// is skipped. A sink failure stops the stream and is returned. Once tok
// fires nothing more is sent, including the end-of-speech marker.
func (s *Streamer) Stream(tok *Token, turnID string, chunks []string, voiceID string, sink Sink) (Delivery, error) {
	var d Delivery
	ctx := tok.Context()

	for i, chunk := range chunks {
		if tok.Fired() {
			d.Cancelled = true
			return d, nil
		}

		started := time.Now()
		audio, err := s.synthesize(tok, chunk, voiceID)
		if tok.Fired() {
			s.metrics.SynthChunk("cancelled")
			d.Cancelled = true
			return d, nil
		}
		if err != nil {
			s.metrics.SynthChunk("error")
			s.logger.Warn("chunk synthesis failed, skipping",
				zap.String("turn_id", turnID),
				zap.Int("chunk", i),
				zap.Error(err),
			)
			d.Failed++
			continue
		}
		if d.Sent == 0 {
			s.metrics.ObserveStage("reply_to_first_audio", time.Since(started))
		}

		if err := sink.Audio(turnID, audio); err != nil {
			if errors.Is(err, ErrTurnCancelled) {
				d.Cancelled = true
				return d, nil
			}
			return d, fmt.Errorf("%w: %w", ErrSinkClosed, err)
		}
		s.metrics.SynthChunk("ok")
		d.Sent++

		if i < len(chunks)-1 && s.cfg.ChunkPause > 0 {
			if !sleepCtx(ctx, s.cfg.ChunkPause) {
				d.Cancelled = true
				return d, nil
			}
		}
	}

	if !sleepCtx(ctx, s.cfg.SpeechEndDelay) || tok.Fired() {
		d.Cancelled = true
		return d, nil
	}
	if err := sink.SpeechEnd(turnID); err != nil {
		if errors.Is(err, ErrTurnCancelled) {
			d.Cancelled = true
			return d, nil
		}
		return d, fmt.Errorf("%w: %w", ErrSinkClosed, err)
	}
	return d, nil
}

func (s *Streamer) synthesize(tok *Token, chunk, voiceID string) ([]byte, error) {
	ctx, cancel := contextWithTimeout(tok, s.cfg.Timeout)
	defer cancel()
	return s.synth.Synthesize(ctx, chunk, voiceID)
}

// sleepCtx waits for d unless the token's context ends first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
