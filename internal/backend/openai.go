package backend

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAI talks to any OpenAI-compatible chat completion endpoint. Groq is
// reached through the same client with its own base URL.
type OpenAI struct {
	name   string
	model  string
	client *openai.Client
}

func NewOpenAI(name, apiKey, baseURL, model string) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if strings.TrimSpace(baseURL) != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &OpenAI{
		name:   name,
		model:  model,
		client: openai.NewClientWithConfig(cfg),
	}
}

func (b *OpenAI) Name() string { return b.name }

func (b *OpenAI) Answer(ctx context.Context, req Request) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 3)
	if s := strings.TrimSpace(req.Instructions); s != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: s})
	}
	if s := strings.TrimSpace(req.Context); s != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: s})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: strings.TrimSpace(req.Text)})

	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     b.model,
		Messages:  messages,
		MaxTokens: 400,
	})
	if err != nil {
		return "", wrapErr(ctx, b.name, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s: %w", b.name, ErrEmptyReply)
	}
	return finalText(b.name, resp.Choices[0].Message.Content)
}
