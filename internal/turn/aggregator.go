package turn

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/ent0n29/duplex/internal/voice"
)

// AggregatorConfig holds the empirically tuned thresholds of turn detection.
type AggregatorConfig struct {
	NoiseMaxConfidence   float64
	NoiseMaxChars        int
	BargeInMinChars      int
	CompletionMinChars   int
	HighConfidence       float64
	SpeechFinalDebounce  time.Duration
	DefaultFinalDebounce time.Duration
}

func DefaultAggregatorConfig() AggregatorConfig {
	return AggregatorConfig{
		NoiseMaxConfidence:   0.5,
		NoiseMaxChars:        3,
		BargeInMinChars:      3,
		CompletionMinChars:   8,
		HighConfidence:       0.9,
		SpeechFinalDebounce:  90 * time.Millisecond,
		DefaultFinalDebounce: 400 * time.Millisecond,
	}
}

// Aggregator turns ordered recognition events into completed utterances and
// detects barge-in while a turn is live.
type Aggregator struct {
	cfg       AggregatorConfig
	active    func() bool
	onBargeIn func()
	completed chan string

	mu      sync.Mutex
	carry   string
	pending string
	timer   *time.Timer
	gen     uint64
	refused int
}

// NewAggregator wires the aggregator to its controller: active reports whether
// a turn is live and onBargeIn cancels it.
func NewAggregator(cfg AggregatorConfig, active func() bool, onBargeIn func()) *Aggregator {
	if active == nil {
		active = func() bool { return false }
	}
	if onBargeIn == nil {
		onBargeIn = func() {}
	}
	return &Aggregator{
		cfg:       cfg,
		active:    active,
		onBargeIn: onBargeIn,
		completed: make(chan string, 1),
	}
}

// Completed delivers completed utterances, at most one queued at a time.
func (a *Aggregator) Completed() <-chan string { return a.completed }

// Handle consumes one recognition event. Events must arrive in recognizer
// order. It reports false when the event carried nothing worth showing,
// either empty or suppressed as noise.
func (a *Aggregator) Handle(evt voice.RecognitionEvent) bool {
	text := strings.TrimSpace(evt.Text)
	n := utf8.RuneCountInString(text)

	if !evt.IsFinal {
		if n > a.cfg.BargeInMinChars && a.active() {
			a.onBargeIn()
			return true
		}
		if n == 0 || (evt.Confidence < a.cfg.NoiseMaxConfidence && n < a.cfg.NoiseMaxChars) {
			return false
		}
		return true
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if text == "" {
		if evt.IsSpeechFinal && a.pending != "" {
			a.schedule(a.cfg.SpeechFinalDebounce)
		}
		return false
	}

	if a.pending != "" {
		a.pending = mergeFinal(a.pending, text)
		a.schedule(a.debounceFor(evt))
		return true
	}

	candidate := evt.IsSpeechFinal ||
		n > a.cfg.CompletionMinChars ||
		strings.ContainsAny(text, "?.") ||
		evt.Confidence > a.cfg.HighConfidence
	if !candidate {
		a.carry = mergeFinal(a.carry, text)
		return true
	}

	a.pending = mergeFinal(a.carry, text)
	a.carry = ""
	a.schedule(a.debounceFor(evt))
	return true
}

func (a *Aggregator) debounceFor(evt voice.RecognitionEvent) time.Duration {
	if evt.IsSpeechFinal {
		return a.cfg.SpeechFinalDebounce
	}
	return a.cfg.DefaultFinalDebounce
}

// schedule restarts the debounce timer. Callers hold a.mu.
func (a *Aggregator) schedule(d time.Duration) {
	a.gen++
	gen := a.gen
	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = time.AfterFunc(d, func() { a.fire(gen) })
}

func (a *Aggregator) fire(gen uint64) {
	a.mu.Lock()
	if gen != a.gen || a.pending == "" {
		a.mu.Unlock()
		return
	}
	text := a.pending
	a.pending = ""
	a.mu.Unlock()

	if a.active() {
		a.mu.Lock()
		a.refused++
		a.mu.Unlock()
		return
	}
	select {
	case a.completed <- text:
	default:
		a.mu.Lock()
		a.refused++
		a.mu.Unlock()
	}
}

// Reset drops any pending or carried text and stops the debounce timer.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.gen++
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.pending = ""
	a.carry = ""
}

// Refused counts completions dropped because a turn was already live.
func (a *Aggregator) Refused() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.refused
}

// mergeFinal joins a later final onto earlier text. A later final that
// restates the earlier text replaces it.
func mergeFinal(prev, next string) string {
	switch {
	case prev == "":
		return next
	case next == "":
		return prev
	case strings.HasPrefix(strings.ToLower(next), strings.ToLower(prev)):
		return next
	default:
		return prev + " " + next
	}
}
