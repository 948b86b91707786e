// Package voice holds the speech recognizer and synthesizer contracts and
// their provider implementations.
package voice

import (
	"context"
	"errors"
)

// ErrCancelled reports that a provider call stopped because the caller
// cancelled it, as opposed to a provider failure.
var ErrCancelled = errors.New("voice call cancelled")

// RecognitionEvent is one partial or final transcription result.
type RecognitionEvent struct {
	Text          string
	IsFinal       bool
	IsSpeechFinal bool
	Confidence    float64
}

// RecognizerSession is a live bidirectional recognition stream. Events is
// closed when the upstream stream ends; Err then reports why.
type RecognizerSession interface {
	SendAudio(ctx context.Context, pcm []byte) error
	KeepAlive(ctx context.Context) error
	Finish(ctx context.Context) error
	Events() <-chan RecognitionEvent
	Err() error
	Close() error
}

type Recognizer interface {
	Open(ctx context.Context, sessionID string) (RecognizerSession, error)
}

// Synthesizer renders one span of text to audio bytes.
type Synthesizer interface {
	Name() string
	Synthesize(ctx context.Context, text, voiceID string) ([]byte, error)
}

func cancelledErr(ctx context.Context, err error) error {
	if ctx.Err() == context.Canceled || errors.Is(err, context.Canceled) {
		return ErrCancelled
	}
	return err
}
