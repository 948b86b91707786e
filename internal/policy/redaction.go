// Package policy masks personal data before user text reaches logs.
package policy

import (
	"regexp"
	"unicode/utf8"
)

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
)

// LogTextMaxRunes bounds user text written to logs.
const LogTextMaxRunes = 120

// RedactPII masks email addresses, card numbers and phone numbers.
func RedactPII(input string) (redacted string, changed bool) {
	out := input
	// Cards first so long digit runs are not taken for phone numbers.
	for _, r := range []struct {
		re   *regexp.Regexp
		mask string
	}{
		{emailPattern, "[REDACTED_EMAIL]"},
		{cardPattern, "[REDACTED_CARD]"},
		{phonePattern, "[REDACTED_PHONE]"},
	} {
		next := r.re.ReplaceAllString(out, r.mask)
		changed = changed || next != out
		out = next
	}
	return out, changed
}

// LogText prepares a transcript or reply for logging.
func LogText(input string) string {
	out, _ := RedactPII(input)
	if utf8.RuneCountInString(out) <= LogTextMaxRunes {
		return out
	}
	return string([]rune(out)[:LogTextMaxRunes]) + "..."
}
