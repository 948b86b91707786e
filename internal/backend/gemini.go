package backend

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// Gemini answers through the Gemini API.
type Gemini struct {
	model  string
	client *genai.Client
}

func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &Gemini{model: model, client: client}, nil
}

func (b *Gemini) Name() string { return "gemini" }

func (b *Gemini) Answer(ctx context.Context, req Request) (string, error) {
	var cfg *genai.GenerateContentConfig
	if s := strings.TrimSpace(req.Instructions); s != "" {
		cfg = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(s, genai.RoleUser),
		}
	}
	resp, err := b.client.Models.GenerateContent(ctx, b.model, genai.Text(req.Prompt()), cfg)
	if err != nil {
		return "", wrapErr(ctx, b.Name(), err)
	}
	return finalText(b.Name(), resp.Text())
}
