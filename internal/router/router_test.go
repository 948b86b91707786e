package router

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ent0n29/duplex/internal/actions"
	"github.com/ent0n29/duplex/internal/backend"
	"github.com/ent0n29/duplex/internal/cache"
)

type stubBackend struct {
	name  string
	reply string
	err   error
	block bool
	calls atomic.Int32
	last  atomic.Value
}

func (b *stubBackend) Name() string { return b.name }

func (b *stubBackend) Answer(ctx context.Context, req backend.Request) (string, error) {
	b.calls.Add(1)
	b.last.Store(req)
	if b.block {
		<-ctx.Done()
		if errors.Is(ctx.Err(), context.Canceled) {
			return "", backend.ErrCancelled
		}
		return "", ctx.Err()
	}
	if b.err != nil {
		return "", b.err
	}
	return b.reply, nil
}

type stubActions struct {
	outcome actions.Outcome
	calls   int
}

func (a *stubActions) TryHandle(context.Context, string) (actions.Outcome, error) {
	a.calls++
	return a.outcome, nil
}

func newTestRouter(t *testing.T, cfg Config) *Router {
	t.Helper()
	r, err := New(cfg)
	require.NoError(t, err)
	return r
}

func TestRouteFallsBackOnBackendError(t *testing.T) {
	primary := &stubBackend{name: "fast", err: errors.New("quota exceeded")}
	fallback := &stubBackend{name: "fallback", reply: "From the fallback."}
	r := newTestRouter(t, Config{Fast: primary, Deep: primary, Fallback: fallback})

	res, err := r.Route(context.Background(), Query{Text: "what's the capital of France"})
	require.NoError(t, err)
	require.Equal(t, "From the fallback.", res.Text)
	require.Equal(t, "fallback", res.Backend)
	require.EqualValues(t, 1, primary.calls.Load())
	require.EqualValues(t, 1, fallback.calls.Load())
}

func TestRouteCancellationSkipsFallback(t *testing.T) {
	primary := &stubBackend{name: "fast", block: true}
	fallback := &stubBackend{name: "fallback", reply: "never"}
	r := newTestRouter(t, Config{Fast: primary, Fallback: fallback, Timeout: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := r.Route(ctx, Query{Text: "tell me something"})
		done <- err
	}()
	require.Eventually(t, func() bool { return primary.calls.Load() == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, backend.ErrCancelled)
		require.NotErrorIs(t, err, ErrAllBackendsFailed)
	case <-time.After(time.Second):
		t.Fatal("route did not return after cancellation")
	}
	require.Zero(t, fallback.calls.Load())
}

func TestRouteTimeoutCountsAsFailure(t *testing.T) {
	primary := &stubBackend{name: "fast", block: true}
	fallback := &stubBackend{name: "fallback", reply: "Recovered."}
	r := newTestRouter(t, Config{Fast: primary, Fallback: fallback, Timeout: 20 * time.Millisecond})

	res, err := r.Route(context.Background(), Query{Text: "hello there friend"})
	require.NoError(t, err)
	require.Equal(t, "Recovered.", res.Text)
}

func TestRouteAllBackendsFailed(t *testing.T) {
	primary := &stubBackend{name: "fast", err: errors.New("503")}
	fallback := &stubBackend{name: "fallback", err: errors.New("401")}
	r := newTestRouter(t, Config{Fast: primary, Fallback: fallback})

	_, err := r.Route(context.Background(), Query{Text: "anything"})
	require.ErrorIs(t, err, ErrAllBackendsFailed)
	require.ErrorContains(t, err, "503")
	require.ErrorContains(t, err, "401")
}

func TestRouteCacheIdempotence(t *testing.T) {
	fast := &stubBackend{name: "fast", reply: "Paris is the capital."}
	store := cache.NewMemoryStore(time.Minute, 10, 0)
	r := newTestRouter(t, Config{Fast: fast, Cache: store})

	q := Query{Text: "What's the capital of France?", Memory: "User: hi"}
	first, err := r.Route(context.Background(), q)
	require.NoError(t, err)
	second, err := r.Route(context.Background(), q)
	require.NoError(t, err)

	require.Equal(t, first.Text, second.Text)
	require.False(t, first.Cached)
	require.True(t, second.Cached)
	require.EqualValues(t, 1, fast.calls.Load())

	_, err = r.Route(context.Background(), Query{Text: q.Text, HasDocument: true, Document: "doc"})
	require.NoError(t, err)
	require.EqualValues(t, 2, fast.calls.Load())
}

type lateBackend struct {
	cancel context.CancelFunc
	calls  atomic.Int32
}

func (b *lateBackend) Name() string { return "late" }

func (b *lateBackend) Answer(context.Context, backend.Request) (string, error) {
	b.calls.Add(1)
	b.cancel()
	return "late answer", nil
}

func TestRouteDiscardsReplyArrivingAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	late := &lateBackend{cancel: cancel}
	fallback := &stubBackend{name: "fallback", reply: "never"}
	store := cache.NewMemoryStore(time.Minute, 10, 0)
	r := newTestRouter(t, Config{Fast: late, Fallback: fallback, Cache: store})

	q := Query{Text: "what's the capital of France"}
	res, err := r.Route(ctx, q)
	require.ErrorIs(t, err, backend.ErrCancelled)
	require.Empty(t, res.Text)
	require.EqualValues(t, 0, fallback.calls.Load())

	_, hit := store.Lookup(context.Background(), cache.Fingerprint(q.Text, false))
	require.False(t, hit)
}

func TestRouteSideEffectHandlerBypassesBackends(t *testing.T) {
	fast := &stubBackend{name: "fast", reply: "unused"}
	act := &stubActions{outcome: actions.Outcome{Handled: true, Reply: "Meeting booked for three."}}
	store := cache.NewMemoryStore(time.Minute, 10, 0)
	r := newTestRouter(t, Config{Fast: fast, Actions: act, Cache: store})

	res, err := r.Route(context.Background(), Query{Text: "book a meeting at three"})
	require.NoError(t, err)
	require.True(t, res.Handled)
	require.Equal(t, "Meeting booked for three.", res.Text)
	require.Zero(t, fast.calls.Load())
	require.Zero(t, store.Len())
}

func TestRouteCleansNamePrefixAndCachesCleaned(t *testing.T) {
	fast := &stubBackend{name: "fast", reply: "Nova: Sure, here you go."}
	store := cache.NewMemoryStore(time.Minute, 10, 0)
	r := newTestRouter(t, Config{Fast: fast, Cache: store, AssistantName: "Nova"})

	res, err := r.Route(context.Background(), Query{Text: "give me a tip"})
	require.NoError(t, err)
	require.Equal(t, "Sure, here you go.", res.Text)

	cached, ok := store.Lookup(context.Background(), cache.Fingerprint("give me a tip", false))
	require.True(t, ok)
	require.Equal(t, "Sure, here you go.", cached)
}

func TestRouteSelectsDeepTierForComplexQueries(t *testing.T) {
	fast := &stubBackend{name: "fast", reply: "fast"}
	deep := &stubBackend{name: "deep", reply: "deep"}
	r := newTestRouter(t, Config{Fast: fast, Deep: deep})

	res, err := r.Route(context.Background(), Query{Text: "explain the difference between TCP and UDP"})
	require.NoError(t, err)
	require.Equal(t, "deep", res.Backend)
	require.Equal(t, Complex, res.Classification.Complexity)

	res, err = r.Route(context.Background(), Query{Text: "Hi there"})
	require.NoError(t, err)
	require.Equal(t, "fast", res.Backend)

	req := fast.last.Load().(backend.Request)
	require.Contains(t, req.Instructions, "20 to 40 words")
}

func TestChainDeduplicates(t *testing.T) {
	only := &stubBackend{name: "only"}
	r := newTestRouter(t, Config{Fast: only, Deep: only, Fallback: only})
	require.Len(t, r.Chain(Classification{Complexity: Simple}), 1)
}

func TestNewRequiresBackend(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestKeywordClassifier(t *testing.T) {
	c := KeywordClassifier{}
	cases := []struct {
		text       string
		doc        bool
		intent     Intent
		complexity Complexity
	}{
		{"Hi there", false, IntentGreeting, Simple},
		{"check my inbox for any unread email from Sam", false, IntentEmail, Medium},
		{"what's on my calendar tomorrow", false, IntentCalendar, Simple},
		{"summarize the document for me", true, IntentDocument, Complex},
		{"summarize the document for me", false, IntentGeneral, Simple},
		{"what should I cook for dinner tonight with rice", false, IntentGeneral, Medium},
	}
	for _, tc := range cases {
		got := c.Classify(tc.text, tc.doc)
		require.Equal(t, tc.intent, got.Intent, tc.text)
		require.Equal(t, tc.complexity, got.Complexity, tc.text)
	}

	hi := c.Classify("Hi there", false)
	require.Equal(t, 20, hi.MinWords)
	require.Equal(t, 40, hi.MaxWords)
}
