// Package router answers a completed utterance: side-effect actions first,
// then the answer cache, then an ordered chain of reasoning backends.
package router

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/duplex/internal/actions"
	"github.com/ent0n29/duplex/internal/backend"
	"github.com/ent0n29/duplex/internal/cache"
	"github.com/ent0n29/duplex/internal/observability"
)

// ErrAllBackendsFailed is returned when every backend in the chain failed.
var ErrAllBackendsFailed = errors.New("all backends failed")

// ApologyReply is spoken in place of an answer when the whole chain failed.
const ApologyReply = "Sorry, I'm having trouble answering right now. Could you ask me again in a moment?"

// Query is one completed utterance plus the context it is answered in.
type Query struct {
	Text        string
	Memory      string
	Document    string
	HasDocument bool
}

// Result is the routed answer.
type Result struct {
	Text           string
	Classification Classification
	Backend        string
	Cached         bool
	Handled        bool
}

type Config struct {
	Fast          backend.Backend
	Deep          backend.Backend
	Fallback      backend.Backend
	Timeout       time.Duration
	AssistantName string
	Classifier    Classifier
	Cache         cache.Store
	Actions       actions.Handler
	Logger        *zap.Logger
	Metrics       *observability.Metrics
}

type Router struct {
	fast       backend.Backend
	deep       backend.Backend
	fallback   backend.Backend
	timeout    time.Duration
	name       string
	classifier Classifier
	cache      cache.Store
	actions    actions.Handler
	logger     *zap.Logger
	metrics    *observability.Metrics
	prefix     *regexp.Regexp
}

func New(cfg Config) (*Router, error) {
	if cfg.Fast == nil && cfg.Deep == nil && cfg.Fallback == nil {
		return nil, errors.New("router needs at least one backend")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 25 * time.Second
	}
	if cfg.Classifier == nil {
		cfg.Classifier = KeywordClassifier{}
	}
	if cfg.Actions == nil {
		cfg.Actions = actions.Nop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	names := []string{"assistant"}
	if n := strings.TrimSpace(cfg.AssistantName); n != "" {
		names = append(names, regexp.QuoteMeta(n))
	}

	return &Router{
		fast:       cfg.Fast,
		deep:       cfg.Deep,
		fallback:   cfg.Fallback,
		timeout:    cfg.Timeout,
		name:       cfg.AssistantName,
		classifier: cfg.Classifier,
		cache:      cfg.Cache,
		actions:    cfg.Actions,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		prefix:     regexp.MustCompile(`(?i)^\s*(` + strings.Join(names, "|") + `)\s*:\s*`),
	}, nil
}

// Chain returns the ordered backends tried for a classification: the tier's
// primary followed by the uniform fallback, without duplicates.
func (r *Router) Chain(c Classification) []backend.Backend {
	primary := r.fast
	if c.Complexity == Complex || c.Intent == IntentDocument {
		primary = r.deep
	}
	if primary == nil {
		primary = r.fast
	}
	if primary == nil {
		primary = r.deep
	}

	var chain []backend.Backend
	for _, b := range []backend.Backend{primary, r.fallback} {
		if b == nil {
			continue
		}
		dup := false
		for _, seen := range chain {
			if seen == b {
				dup = true
				break
			}
		}
		if !dup {
			chain = append(chain, b)
		}
	}
	return chain
}

// Route answers q. It fails only when ctx is cancelled, in which case the
// error wraps backend.ErrCancelled, or when every backend failed, in which
// case it wraps ErrAllBackendsFailed.
func (r *Router) Route(ctx context.Context, q Query) (Result, error) {
	if ctx.Err() != nil {
		return Result{}, fmt.Errorf("route: %w", backend.ErrCancelled)
	}

	text := strings.TrimSpace(q.Text)
	class := r.classifier.Classify(text, q.HasDocument)
	res := Result{Classification: class}

	outcome, err := r.actions.TryHandle(ctx, text)
	switch {
	case ctx.Err() != nil:
		return Result{}, fmt.Errorf("route: %w", backend.ErrCancelled)
	case err != nil:
		r.logger.Warn("side-effect handler failed", zap.Error(err))
	case outcome.Handled:
		res.Text = outcome.Reply
		res.Handled = true
		return res, nil
	}

	fp := cache.Fingerprint(text, q.HasDocument)
	if r.cache != nil {
		if answer, ok := r.cache.Lookup(ctx, fp); ok {
			r.metrics.CacheLookup("hit")
			res.Text = answer
			res.Cached = true
			return res, nil
		}
		r.metrics.CacheLookup("miss")
	}

	req := backend.Request{
		Instructions: Instructions(r.name, class),
		Context:      promptContext(q),
		Text:         text,
	}

	var errs []error
	for _, b := range r.Chain(class) {
		answer, err := r.call(ctx, b, req)
		if err == nil {
			if r.cache != nil {
				r.cache.Store(ctx, fp, answer)
			}
			res.Text = answer
			res.Backend = b.Name()
			return res, nil
		}
		if ctx.Err() != nil || errors.Is(err, backend.ErrCancelled) {
			r.metrics.BackendCall(b.Name(), "cancelled")
			r.logger.Debug("backend call cancelled", zap.String("backend", b.Name()))
			return Result{}, fmt.Errorf("route: %w", backend.ErrCancelled)
		}
		r.metrics.BackendCall(b.Name(), "error")
		r.logger.Warn("backend failed, trying next", zap.String("backend", b.Name()), zap.Error(err))
		errs = append(errs, err)
	}
	return Result{}, fmt.Errorf("%w: %w", ErrAllBackendsFailed, errors.Join(errs...))
}

func (r *Router) call(ctx context.Context, b backend.Backend, req backend.Request) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	answer, err := b.Answer(callCtx, req)
	if err != nil {
		return "", err
	}
	// A reply that lands after the turn was cancelled is never acted on.
	if ctx.Err() != nil {
		return "", fmt.Errorf("%s: %w", b.Name(), backend.ErrCancelled)
	}
	cleaned := r.Clean(answer)
	if cleaned == "" {
		return "", fmt.Errorf("%s: %w", b.Name(), backend.ErrEmptyReply)
	}
	r.metrics.BackendCall(b.Name(), "ok")
	return cleaned, nil
}

// Clean strips a leading self-identification such as "Nova:" that some
// models echo back.
func (r *Router) Clean(answer string) string {
	return strings.TrimSpace(r.prefix.ReplaceAllString(strings.TrimSpace(answer), ""))
}

func promptContext(q Query) string {
	var parts []string
	if m := strings.TrimSpace(q.Memory); m != "" {
		parts = append(parts, "Conversation so far:\n"+m)
	}
	if d := strings.TrimSpace(q.Document); d != "" {
		parts = append(parts, "Attached document:\n"+d)
	}
	return strings.Join(parts, "\n\n")
}
