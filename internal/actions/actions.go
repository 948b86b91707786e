// Package actions hands side-effect requests (mail, calendar and similar) to an
// external executor before the query reaches a reasoning backend.
package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Outcome is the executor's verdict for one utterance.
type Outcome struct {
	Handled bool   `json:"handled"`
	Reply   string `json:"reply"`
}

// Handler decides whether an utterance is a side-effect request and, if so,
// performs it and returns the text to speak.
type Handler interface {
	TryHandle(ctx context.Context, text string) (Outcome, error)
}

// Nop never handles anything.
type Nop struct{}

func (Nop) TryHandle(context.Context, string) (Outcome, error) { return Outcome{}, nil }

// Webhook posts {"text": ...} to an executor and expects an Outcome back.
type Webhook struct {
	url    string
	client *http.Client
}

func NewWebhook(url string, timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Webhook{
		url:    strings.TrimSpace(url),
		client: &http.Client{Timeout: timeout},
	}
}

// New returns a Webhook when url is set and Nop otherwise.
func New(url string, timeout time.Duration) Handler {
	if strings.TrimSpace(url) == "" {
		return Nop{}
	}
	return NewWebhook(url, timeout)
}

func (w *Webhook) TryHandle(ctx context.Context, text string) (Outcome, error) {
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return Outcome{}, fmt.Errorf("marshal action request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return Outcome{}, fmt.Errorf("create action request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := w.client.Do(req)
	if err != nil {
		return Outcome{}, fmt.Errorf("send action request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNoContent {
		return Outcome{}, nil
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return Outcome{}, fmt.Errorf("action webhook status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var out Outcome
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&out); err != nil {
		return Outcome{}, fmt.Errorf("decode action response: %w", err)
	}
	out.Reply = strings.TrimSpace(out.Reply)
	if out.Reply == "" {
		out.Handled = false
	}
	return out, nil
}
