// Package speech turns reply text into bounded, boundary-aligned chunks that
// are synthesized and played back in order.
package speech

import (
	"strings"
	"unicode/utf8"
)

// DefaultMaxChars is the target upper bound for one chunk.
const DefaultMaxChars = 150

// Chunker splits text greedily at sentence boundaries, falling back to clause
// punctuation, coordinating conjunctions and finally single words for
// sentences longer than MaxChars.
type Chunker struct {
	MaxChars int
}

func NewChunker(maxChars int) Chunker {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return Chunker{MaxChars: maxChars}
}

// Split chunks text with the default bound.
func Split(text string) []string {
	return NewChunker(DefaultMaxChars).Split(text)
}

// Split sanitizes text and returns its chunks in playback order. Joining the
// chunks with single spaces reproduces Sanitize(text). Empty input yields nil.
func (c Chunker) Split(text string) []string {
	clean := Sanitize(text)
	if clean == "" {
		return nil
	}
	return c.pack(splitWords(clean, sentenceEnd), levelSentence)
}

const (
	levelSentence = iota
	levelClause
	levelConjunction
	levelWord
)

func (c Chunker) refine(part string, level int) []string {
	switch level {
	case levelClause:
		return splitWords(part, clauseEnd)
	case levelConjunction:
		return splitBeforeConjunctions(part)
	default:
		return strings.Split(part, " ")
	}
}

func (c Chunker) pack(parts []string, level int) []string {
	max := c.MaxChars
	if max <= 0 {
		max = DefaultMaxChars
	}

	var (
		out    []string
		cur    string
		curLen int
	)
	flush := func() {
		if cur != "" {
			out = append(out, cur)
			cur, curLen = "", 0
		}
	}
	for _, p := range parts {
		n := utf8.RuneCountInString(p)
		if n > max {
			flush()
			if level < levelWord {
				out = append(out, c.pack(c.refine(p, level+1), level+1)...)
			} else {
				out = append(out, p)
			}
			continue
		}
		switch {
		case cur == "":
			cur, curLen = p, n
		case curLen+1+n <= max:
			cur += " " + p
			curLen += 1 + n
		default:
			flush()
			cur, curLen = p, n
		}
	}
	flush()
	return out
}

// splitWords groups space-separated words, closing a group after any word
// for which isEnd reports a boundary.
func splitWords(text string, isEnd func(word string) bool) []string {
	words := strings.Split(text, " ")
	var (
		out   []string
		start int
	)
	for i, w := range words {
		if isEnd(w) || i == len(words)-1 {
			out = append(out, strings.Join(words[start:i+1], " "))
			start = i + 1
		}
	}
	return out
}

var conjunctions = map[string]bool{
	"and": true, "but": true, "or": true, "so": true, "yet": true, "nor": true,
	"because": true, "while": true, "although": true, "though": true,
}

func splitBeforeConjunctions(text string) []string {
	words := strings.Split(text, " ")
	var (
		out   []string
		start int
	)
	for i := 1; i < len(words); i++ {
		if conjunctions[strings.ToLower(words[i])] {
			out = append(out, strings.Join(words[start:i], " "))
			start = i
		}
	}
	return append(out, strings.Join(words[start:], " "))
}

func sentenceEnd(word string) bool {
	return endsWithAny(word, ".!?")
}

func clauseEnd(word string) bool {
	return endsWithAny(word, ",;:")
}

func endsWithAny(word, marks string) bool {
	word = strings.TrimRight(word, `"')]`)
	if word == "" {
		return false
	}
	r, _ := utf8.DecodeLastRuneInString(word)
	return strings.ContainsRune(marks, r)
}
