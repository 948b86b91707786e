// Package backend adapts reasoning providers behind one request/response shape.
package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrCancelled reports that a call stopped because its caller cancelled it.
// Callers must treat it as distinct from a provider failure.
var ErrCancelled = errors.New("backend call cancelled")

// ErrEmptyReply is returned when a provider answered with no usable text.
var ErrEmptyReply = errors.New("backend returned an empty reply")

// Request is the normalized prompt sent to a backend.
type Request struct {
	Instructions string
	Context      string
	Text         string
}

// Backend produces a complete reply for one request.
type Backend interface {
	Name() string
	Answer(ctx context.Context, req Request) (string, error)
}

// Config selects and parameterizes the concrete backends.
type Config struct {
	OpenAIKey     string
	OpenAIModel   string
	OpenAIBaseURL string
	GroqKey       string
	GroqModel     string
	GroqBaseURL   string
	GeminiKey     string
	GeminiModel   string
	HTTPURL       string
	CLICommand    string
}

// New constructs the backend registered under name.
func New(ctx context.Context, name string, cfg Config) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "openai":
		if strings.TrimSpace(cfg.OpenAIKey) == "" {
			return nil, errors.New("openai backend requires OPENAI_API_KEY")
		}
		return NewOpenAI("openai", cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel), nil
	case "groq":
		if strings.TrimSpace(cfg.GroqKey) == "" {
			return nil, errors.New("groq backend requires GROQ_API_KEY")
		}
		return NewOpenAI("groq", cfg.GroqKey, cfg.GroqBaseURL, cfg.GroqModel), nil
	case "gemini":
		if strings.TrimSpace(cfg.GeminiKey) == "" {
			return nil, errors.New("gemini backend requires GEMINI_API_KEY")
		}
		return NewGemini(ctx, cfg.GeminiKey, cfg.GeminiModel)
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("http backend requires BRAIN_HTTP_URL")
		}
		return NewHTTP(cfg.HTTPURL), nil
	case "cli":
		return NewCLI(cfg.CLICommand)
	case "mock":
		return NewMock(), nil
	default:
		return nil, fmt.Errorf("unsupported backend %q", name)
	}
}

// Prompt flattens the request into a single user message for providers that
// take one text input.
func (r Request) Prompt() string {
	text := strings.TrimSpace(r.Text)
	ctxText := strings.TrimSpace(r.Context)
	if ctxText == "" {
		return text
	}
	return ctxText + "\n\nUser: " + text
}

// wrapErr maps provider errors caused by caller cancellation onto ErrCancelled.
func wrapErr(ctx context.Context, name string, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() == context.Canceled || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", name, ErrCancelled)
	}
	return fmt.Errorf("%s: %w", name, err)
}

func finalText(name, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%s: %w", name, ErrEmptyReply)
	}
	return text, nil
}
