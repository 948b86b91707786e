package speech

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	fencedCodePattern   = regexp.MustCompile("(?s)```.*?```")
	markdownLinkPattern = regexp.MustCompile(`\[([^\]]*)\]\(([^)]*)\)`)
	lineMarkerPattern   = regexp.MustCompile(`(?m)^\s*(#{1,6}\s+|[-*+]\s+|>\s*)`)
	wordUnderscore      = regexp.MustCompile(`(^|[^\p{L}\p{N}])_+|_+([^\p{L}\p{N}]|$)`)

	glyphReplacer = strings.NewReplacer(
		"“", `"`, "”", `"`, "„", `"`, "«", `"`, "»", `"`,
		"‘", "'", "’", "'", "‚", "'", "′", "'",
		"…", "...",
		"–", "-", "—", "-",
		"\u00a0", " ", "\u202f", " ",
		"**", "", "~~", "", "`", "", "*", "",
	)
)

// Sanitize rewrites model output into plain speakable text: typographic glyphs
// become ASCII, markdown markers are dropped, control characters are removed and
// whitespace collapses to single spaces.
func Sanitize(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	raw = fencedCodePattern.ReplaceAllString(raw, " ")
	raw = markdownLinkPattern.ReplaceAllString(raw, "$1")
	raw = lineMarkerPattern.ReplaceAllString(raw, "")
	raw = glyphReplacer.Replace(raw)
	raw = wordUnderscore.ReplaceAllString(raw, "$1$2")

	var b strings.Builder
	b.Grow(len(raw))
	prevSpace := true
	for _, r := range raw {
		switch {
		case r == '\u200b' || r == '\u200d' || r == '\ufe0f' || r == '\ufeff':
			continue
		case unicode.IsSpace(r):
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
		case unicode.IsControl(r):
			continue
		default:
			b.WriteRune(r)
			prevSpace = false
		}
	}
	return strings.TrimSpace(b.String())
}
