package router

import (
	"fmt"
	"strings"
)

// Instructions renders the system prompt for one classification.
func Instructions(assistantName string, c Classification) string {
	name := strings.TrimSpace(assistantName)
	if name == "" {
		name = "the assistant"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a voice assistant in a live spoken conversation. ", name)
	fmt.Fprintf(&b, "Answer in %d to %d words of plain spoken sentences. ", c.MinWords, c.MaxWords)
	b.WriteString("Do not use markdown, lists, code, emoji or URLs. Do not prefix the answer with your name.")

	switch c.Intent {
	case IntentGreeting:
		b.WriteString(" Greet the user back warmly and offer help.")
	case IntentDocument:
		b.WriteString(" Ground the answer in the attached document and say so when it does not cover the question.")
	case IntentEmail, IntentCalendar:
		b.WriteString(" You cannot act on mail or calendars directly here; explain what you would need.")
	}
	return b.String()
}
