package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/duplex/internal/reliability"
)

// StatusError carries a non-2xx response from the HTTP brain.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http status %d: %s", e.Code, e.Body)
}

// Retryable reports whether the status is worth retrying later.
func (e *StatusError) Retryable() bool {
	return reliability.IsRetryableHTTPStatus(e.Code)
}

type httpRequest struct {
	Instructions string `json:"instructions,omitempty"`
	Context      string `json:"context,omitempty"`
	InputText    string `json:"input_text"`
}

// HTTP forwards requests to a self-hosted reasoning endpoint. The endpoint may
// answer with a JSON object, plain text, SSE or NDJSON.
type HTTP struct {
	url    string
	client *http.Client
}

func NewHTTP(url string) *HTTP {
	return &HTTP{
		url:    strings.TrimSpace(url),
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

func (b *HTTP) Name() string { return "http" }

func (b *HTTP) Answer(ctx context.Context, req Request) (string, error) {
	payload, err := json.Marshal(httpRequest{
		Instructions: req.Instructions,
		Context:      req.Context,
		InputText:    req.Text,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := b.client.Do(httpReq)
	if err != nil {
		return "", wrapErr(ctx, b.Name(), err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", fmt.Errorf("%s: %w", b.Name(), &StatusError{Code: res.StatusCode, Body: strings.TrimSpace(string(body))})
	}

	ct := strings.ToLower(res.Header.Get("Content-Type"))
	if strings.Contains(ct, "text/event-stream") || strings.Contains(ct, "application/x-ndjson") {
		text, err := consumeLines(res.Body)
		if err != nil {
			return "", wrapErr(ctx, b.Name(), err)
		}
		return finalText(b.Name(), text)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return "", wrapErr(ctx, b.Name(), fmt.Errorf("read response: %w", err))
	}
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		return finalText(b.Name(), string(body))
	}
	return finalText(b.Name(), extractText(obj))
}

// consumeLines concatenates deltas from SSE "data:" lines or NDJSON rows.
func consumeLines(body io.Reader) (string, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var out strings.Builder
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if strings.HasPrefix(line, "data:") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
		if line == "[DONE]" {
			break
		}

		delta := line
		var obj map[string]any
		if err := json.Unmarshal([]byte(line), &obj); err == nil {
			delta = extractText(obj)
		}
		out.WriteString(delta)
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("stream read: %w", err)
	}
	return out.String(), nil
}

func extractText(obj map[string]any) string {
	for _, k := range []string{"text", "delta", "output", "message", "reply"} {
		if s, ok := obj[k].(string); ok {
			return s
		}
	}
	return ""
}
