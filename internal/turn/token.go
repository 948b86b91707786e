package turn

import (
	"context"
	"sync"
	"time"
)

// Token is the single-use cancellation signal owned by one turn. Firing is
// idempotent and never blocks; every sub-call of the turn runs under
// Context so the signal reaches in-flight network requests.
type Token struct {
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

func NewToken(parent context.Context) *Token {
	ctx, cancel := context.WithCancel(parent)
	return &Token{ctx: ctx, cancel: cancel}
}

func (t *Token) Fire() {
	t.once.Do(t.cancel)
}

// Fired reports whether the token, or the context it was derived from, has
// been cancelled.
func (t *Token) Fired() bool {
	return t.ctx.Err() != nil
}

func (t *Token) Context() context.Context { return t.ctx }

func (t *Token) Done() <-chan struct{} { return t.ctx.Done() }

func contextWithTimeout(t *Token, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(t.ctx, d)
}
