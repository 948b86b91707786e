// Package cache stores generated answers keyed by a normalized-query
// fingerprint. Entries are TTL-bounded and cheap to regenerate, so eviction at
// capacity is arbitrary rather than LRU.
package cache

import (
	"context"
	"strconv"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// Store is the contract the router uses. Implementations must be safe for
// concurrent use from any number of connections.
type Store interface {
	Lookup(ctx context.Context, fingerprint string) (string, bool)
	Store(ctx context.Context, fingerprint, answer string)
}

// Normalize lowercases text, strips punctuation and collapses whitespace.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	space := true
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			space = false
		case unicode.IsSpace(r):
			if !space {
				b.WriteByte(' ')
				space = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// Fingerprint hashes the normalized query together with the document flag so
// identical questions against different document contexts never collide.
func Fingerprint(text string, hasDocument bool) string {
	d := xxhash.New()
	_, _ = d.WriteString(Normalize(text))
	if hasDocument {
		_, _ = d.WriteString("\x00doc:1")
	} else {
		_, _ = d.WriteString("\x00doc:0")
	}
	return strconv.FormatUint(d.Sum64(), 16)
}
