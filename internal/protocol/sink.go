package protocol

import (
	"errors"
	"time"

	"github.com/ent0n29/duplex/internal/observability"
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendTimeout      = errors.New("outbound send timed out")
)

const defaultCriticalTimeout = 600 * time.Millisecond

// ChannelSink delivers pipeline output to a connection's writer goroutine.
// Critical messages wait up to a bounded timeout; partial transcripts are
// dropped when the writer is behind.
type ChannelSink struct {
	sessionID       string
	out             chan<- any
	done            <-chan struct{}
	metrics         *observability.Metrics
	criticalTimeout time.Duration
}

func NewChannelSink(sessionID string, out chan<- any, done <-chan struct{}, metrics *observability.Metrics) *ChannelSink {
	return &ChannelSink{
		sessionID:       sessionID,
		out:             out,
		done:            done,
		metrics:         metrics,
		criticalTimeout: defaultCriticalTimeout,
	}
}

func (s *ChannelSink) Status(label string) error {
	return s.send(Status{Type: TypeStatus, SessionID: s.sessionID, Label: label})
}

func (s *ChannelSink) Transcript(text string, final bool) error {
	return s.send(Transcript{Type: TypeTranscript, SessionID: s.sessionID, Text: text, IsFinal: final})
}

func (s *ChannelSink) Reply(turnID, text string) error {
	return s.send(Reply{Type: TypeReply, SessionID: s.sessionID, TurnID: turnID, Text: text})
}

func (s *ChannelSink) Audio(turnID string, audio []byte) error {
	return s.send(AudioFrame{TurnID: turnID, Data: audio})
}

func (s *ChannelSink) StopPlayback(turnID string) error {
	return s.send(StopPlayback{Type: TypeStopPlayback, SessionID: s.sessionID, TurnID: turnID})
}

func (s *ChannelSink) SpeechEnd(turnID string) error {
	return s.send(SpeechEnd{Type: TypeSpeechEnd, SessionID: s.sessionID, TurnID: turnID})
}

func (s *ChannelSink) Error(message string) error {
	return s.Notify("pipeline_error", message, false)
}

// Notify sends an error notification with a machine-readable code.
func (s *ChannelSink) Notify(code, message string, retryable bool) error {
	return s.send(ErrorEvent{
		Type:      TypeErrorEvent,
		SessionID: s.sessionID,
		Code:      code,
		Message:   message,
		Retryable: retryable,
	})
}

func (s *ChannelSink) send(msg any) error {
	msgType, critical := MessageMeta(msg)

	select {
	case <-s.done:
		s.metrics.ObserveOutboundMessage(msgType, "closed")
		return ErrConnectionClosed
	default:
	}

	if !critical {
		select {
		case s.out <- msg:
			s.metrics.ObserveOutboundMessage(msgType, "delivered")
		default:
			s.metrics.ObserveOutboundMessage(msgType, "dropped")
			s.metrics.Event("outbound_drop")
		}
		return nil
	}

	timer := time.NewTimer(s.criticalTimeout)
	defer timer.Stop()
	select {
	case s.out <- msg:
		s.metrics.ObserveOutboundMessage(msgType, "delivered")
		return nil
	case <-s.done:
		s.metrics.ObserveOutboundMessage(msgType, "closed")
		return ErrConnectionClosed
	case <-timer.C:
		s.metrics.ObserveOutboundMessage(msgType, "timeout")
		s.metrics.Event("outbound_timeout_critical")
		return ErrSendTimeout
	}
}
