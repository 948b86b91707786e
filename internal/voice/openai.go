package voice

import (
	"context"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAISynthesizer renders speech through the OpenAI audio API.
type OpenAISynthesizer struct {
	client *openai.Client
	model  openai.SpeechModel
	format openai.SpeechResponseFormat
}

func NewOpenAISynthesizer(apiKey, baseURL string) *OpenAISynthesizer {
	cfg := openai.DefaultConfig(apiKey)
	if strings.TrimSpace(baseURL) != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &OpenAISynthesizer{
		client: openai.NewClientWithConfig(cfg),
		model:  openai.TTSModel1,
		format: openai.SpeechResponseFormatMp3,
	}
}

func (s *OpenAISynthesizer) Name() string { return "openai" }

func (s *OpenAISynthesizer) Synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	voice := strings.TrimSpace(voiceID)
	if voice == "" {
		voice = string(openai.VoiceNova)
	}
	res, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          s.model,
		Input:          text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: s.format,
	})
	if err != nil {
		return nil, cancelledErr(ctx, fmt.Errorf("openai speech: %w", err))
	}
	defer res.Close()

	audio, err := io.ReadAll(res)
	if err != nil {
		return nil, cancelledErr(ctx, fmt.Errorf("read openai speech: %w", err))
	}
	return audio, nil
}
