// Package documents keeps the text of a document a user attached to their
// session so answers can be grounded in it.
package documents

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

var ErrNotFound = errors.New("document not found")

// Document is the extracted text of one attached file.
type Document struct {
	SessionID  string
	Name       string
	Text       string
	AttachedAt time.Time
}

// Store holds at most one document per session.
type Store interface {
	Attach(ctx context.Context, doc Document) error
	Get(ctx context.Context, sessionID string) (Document, error)
	Detach(ctx context.Context, sessionID string) error
	Close()
}

// NewStore returns a Postgres store when databaseURL is set and an in-memory
// store otherwise.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewInMemoryStore(), nil
	}
	return NewPostgresStore(ctx, databaseURL)
}

// Snippet trims text to at most max runes, cutting at a word boundary.
func Snippet(text string, max int) string {
	text = strings.Join(strings.Fields(text), " ")
	if max <= 0 || utf8.RuneCountInString(text) <= max {
		return text
	}
	runes := []rune(text)
	cut := string(runes[:max])
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut) + " ..."
}
