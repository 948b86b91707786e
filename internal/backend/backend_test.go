package backend

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHTTPBackendJSONReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":" Hello there. "}`))
	}))
	defer srv.Close()

	got, err := NewHTTP(srv.URL).Answer(context.Background(), Request{Text: "hi"})
	require.NoError(t, err)
	require.Equal(t, "Hello there.", got)
}

func TestHTTPBackendSSE(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(strings.Join([]string{
			": keepalive",
			"data: {\"delta\":\"Hel\"}",
			"",
			"data: {\"delta\":\"lo\"}",
			"data: [DONE]",
			"",
		}, "\n")))
	}))
	defer srv.Close()

	got, err := NewHTTP(srv.URL).Answer(context.Background(), Request{Text: "hi"})
	require.NoError(t, err)
	require.Equal(t, "Hello", got)
}

func TestHTTPBackendStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTP(srv.URL).Answer(context.Background(), Request{Text: "hi"})
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusServiceUnavailable, statusErr.Code)
	require.True(t, statusErr.Retryable())
	require.NotErrorIs(t, err, ErrCancelled)
}

func TestHTTPBackendEmptyReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"   "}`))
	}))
	defer srv.Close()

	_, err := NewHTTP(srv.URL).Answer(context.Background(), Request{Text: "hi"})
	require.ErrorIs(t, err, ErrEmptyReply)
}

func TestHTTPBackendCancelled(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewHTTP(srv.URL).Answer(ctx, Request{Text: "hi"})
	require.ErrorIs(t, err, ErrCancelled)
}

func TestMockBackend(t *testing.T) {
	got, err := NewMock().Answer(context.Background(), Request{Text: "ping"})
	require.NoError(t, err)
	require.Equal(t, "I heard you: ping", got)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewMock().Answer(ctx, Request{Text: "ping"})
	require.True(t, errors.Is(err, ErrCancelled))
}

func TestNewRejectsUnknownOrUnconfigured(t *testing.T) {
	_, err := New(context.Background(), "nope", Config{})
	require.Error(t, err)
	_, err = New(context.Background(), "openai", Config{})
	require.ErrorContains(t, err, "OPENAI_API_KEY")

	b, err := New(context.Background(), "groq", Config{GroqKey: "k", GroqModel: "m", GroqBaseURL: "https://api.groq.com/openai/v1/"})
	require.NoError(t, err)
	require.Equal(t, "groq", b.Name())
}

func TestRequestPrompt(t *testing.T) {
	require.Equal(t, "hi", Request{Text: " hi "}.Prompt())
	require.Equal(t, "User: Ada\n\nUser: hi", Request{Context: "User: Ada", Text: "hi"}.Prompt())
}
