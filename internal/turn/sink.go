package turn

import "errors"

// ErrTurnCancelled is returned by a turn-scoped sink once its turn is no
// longer the live one.
var ErrTurnCancelled = errors.New("turn cancelled")

// Sink receives everything the pipeline tells the client.
type Sink interface {
	Status(label string) error
	Transcript(text string, final bool) error
	Reply(turnID, text string) error
	Audio(turnID string, audio []byte) error
	StopPlayback(turnID string) error
	SpeechEnd(turnID string) error
	Error(message string) error
}

// Status labels sent to the client.
const (
	StatusListening = "listening"
	StatusThinking  = "thinking"
	StatusSpeaking  = "speaking"
	StatusIdle      = "idle"
)
