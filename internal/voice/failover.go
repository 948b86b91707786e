package voice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
)

// NewFailoverSynthesizer prefers primary and switches to fallback when a
// primary call fails. Once fallback succeeds it stays active until it fails
// itself; then primary is retried.
func NewFailoverSynthesizer(primary, fallback Synthesizer, fallbackVoiceID string) Synthesizer {
	if fallback == nil {
		return primary
	}
	return &failoverSynthesizer{
		primary:         primary,
		fallback:        fallback,
		fallbackVoiceID: strings.TrimSpace(fallbackVoiceID),
	}
}

type failoverSynthesizer struct {
	primary         Synthesizer
	fallback        Synthesizer
	fallbackVoiceID string
	fallbackActive  atomic.Bool
}

func (s *failoverSynthesizer) Name() string {
	if s.fallbackActive.Load() {
		return s.fallback.Name()
	}
	return s.primary.Name()
}

func (s *failoverSynthesizer) Synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	if s.fallbackActive.Load() {
		out, fbErr := s.synthesizeFallback(ctx, text, voiceID)
		if fbErr == nil || errors.Is(fbErr, ErrCancelled) {
			return out, fbErr
		}
		out, prErr := s.primary.Synthesize(ctx, text, voiceID)
		if prErr == nil {
			s.fallbackActive.Store(false)
			return out, nil
		}
		if errors.Is(prErr, ErrCancelled) {
			return nil, prErr
		}
		return nil, fmt.Errorf("tts fallback failed: %v; tts primary failed: %w", fbErr, prErr)
	}

	out, prErr := s.primary.Synthesize(ctx, text, voiceID)
	if prErr == nil || errors.Is(prErr, ErrCancelled) {
		return out, prErr
	}
	out, fbErr := s.synthesizeFallback(ctx, text, voiceID)
	if fbErr != nil {
		if errors.Is(fbErr, ErrCancelled) {
			return nil, fbErr
		}
		return nil, fmt.Errorf("tts primary failed: %v; tts fallback failed: %w", prErr, fbErr)
	}
	s.fallbackActive.Store(true)
	return out, nil
}

func (s *failoverSynthesizer) synthesizeFallback(ctx context.Context, text, voiceID string) ([]byte, error) {
	if s.fallbackVoiceID != "" {
		voiceID = s.fallbackVoiceID
	}
	return s.fallback.Synthesize(ctx, text, voiceID)
}
