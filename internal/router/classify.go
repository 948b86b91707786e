package router

import (
	"regexp"
	"strings"
)

type Intent string

const (
	IntentEmail    Intent = "email"
	IntentCalendar Intent = "calendar"
	IntentDocument Intent = "document"
	IntentGreeting Intent = "greeting"
	IntentGeneral  Intent = "general"
)

type Complexity string

const (
	Simple  Complexity = "simple"
	Medium  Complexity = "medium"
	Complex Complexity = "complex"
)

// Classification drives instructions, reply length and backend choice.
type Classification struct {
	Intent     Intent
	Complexity Complexity
	MinWords   int
	MaxWords   int
}

// Classifier assigns an intent and complexity to an utterance.
type Classifier interface {
	Classify(text string, hasDocument bool) Classification
}

var (
	greetingPattern = regexp.MustCompile(`^(hi|hello|hey|hiya|howdy|yo|good (morning|afternoon|evening)|what's up|how are you)\b`)
	emailPattern    = regexp.MustCompile(`\b(e-?mails?|inbox|unread|send (a |an )?(message|mail|note) to|reply to)\b`)
	calendarPattern = regexp.MustCompile(`\b(calendar|meetings?|schedule|appointments?|remind me|agenda|book a)\b`)
	documentPattern = regexp.MustCompile(`\b(document|the doc|this doc|file|pdf|attachment|summari[sz]e|the report|the paper)\b`)
	complexPattern  = regexp.MustCompile(`\b(explain|compare|analy[sz]e|why|step by step|in detail|pros and cons|difference between|how does)\b`)
)

// KeywordClassifier is the default regex and keyword heuristic.
type KeywordClassifier struct{}

func (KeywordClassifier) Classify(text string, hasDocument bool) Classification {
	t := strings.ToLower(strings.TrimSpace(text))
	words := len(strings.Fields(t))

	intent := IntentGeneral
	switch {
	case emailPattern.MatchString(t):
		intent = IntentEmail
	case calendarPattern.MatchString(t):
		intent = IntentCalendar
	case hasDocument && documentPattern.MatchString(t):
		intent = IntentDocument
	case greetingPattern.MatchString(t) && words <= 6:
		intent = IntentGreeting
	}

	complexity := Medium
	switch {
	case intent == IntentGreeting:
		complexity = Simple
	case intent == IntentDocument || complexPattern.MatchString(t) || words > 25:
		complexity = Complex
	case words <= 6:
		complexity = Simple
	}

	c := Classification{Intent: intent, Complexity: complexity}
	c.MinWords, c.MaxWords = wordBand(complexity)
	return c
}

func wordBand(c Complexity) (int, int) {
	switch c {
	case Simple:
		return 20, 40
	case Complex:
		return 80, 150
	default:
		return 40, 80
	}
}
