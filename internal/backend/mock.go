package backend

import (
	"context"
	"fmt"
	"strings"
)

// Mock provides deterministic local replies when no provider is configured.
type Mock struct{}

func NewMock() *Mock { return &Mock{} }

func (b *Mock) Name() string { return "mock" }

func (b *Mock) Answer(ctx context.Context, req Request) (string, error) {
	select {
	case <-ctx.Done():
		return "", wrapErr(ctx, b.Name(), ctx.Err())
	default:
	}

	text := strings.TrimSpace(req.Text)
	if text == "" {
		return "I am listening.", nil
	}
	return fmt.Sprintf("I heard you: %s", text), nil
}
