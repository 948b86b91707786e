package voice

import (
	"fmt"
	"strings"
)

type Config struct {
	RecognizerProvider string
	Deepgram           DeepgramConfig

	SynthProvider   string
	SynthFallback   string
	FallbackVoiceID string
	ElevenLabs      ElevenLabsConfig
	OpenAIKey       string
	OpenAIBaseURL   string
	SampleRate      int
}

// NewRecognizer resolves the configured recognizer. "auto" picks Deepgram
// when a key is present and the mock otherwise.
func NewRecognizer(cfg Config) (Recognizer, error) {
	switch provider := strings.ToLower(strings.TrimSpace(cfg.RecognizerProvider)); provider {
	case "", "auto":
		if strings.TrimSpace(cfg.Deepgram.APIKey) != "" {
			return NewDeepgramRecognizer(cfg.Deepgram), nil
		}
		return NewMockRecognizer(), nil
	case "deepgram":
		if strings.TrimSpace(cfg.Deepgram.APIKey) == "" {
			return nil, fmt.Errorf("deepgram recognizer requires DEEPGRAM_API_KEY")
		}
		return NewDeepgramRecognizer(cfg.Deepgram), nil
	case "mock":
		return NewMockRecognizer(), nil
	default:
		return nil, fmt.Errorf("unsupported recognizer provider %q", provider)
	}
}

// NewSynthesizer resolves the primary synthesizer and wraps it with the
// configured fallback.
func NewSynthesizer(cfg Config) (Synthesizer, error) {
	primary, err := cfg.synthesizer(cfg.SynthProvider, true)
	if err != nil {
		return nil, err
	}
	name := strings.ToLower(strings.TrimSpace(cfg.SynthFallback))
	if name == "" || name == "none" || name == primary.Name() {
		return primary, nil
	}
	fallback, err := cfg.synthesizer(name, false)
	if err != nil {
		return primary, nil
	}
	return NewFailoverSynthesizer(primary, fallback, cfg.FallbackVoiceID), nil
}

func (cfg Config) synthesizer(name string, auto bool) (Synthesizer, error) {
	switch provider := strings.ToLower(strings.TrimSpace(name)); provider {
	case "", "auto":
		if !auto {
			return nil, fmt.Errorf("fallback synthesizer must be explicit")
		}
		if strings.TrimSpace(cfg.ElevenLabs.APIKey) != "" {
			return NewElevenLabsSynthesizer(cfg.ElevenLabs), nil
		}
		if strings.TrimSpace(cfg.OpenAIKey) != "" {
			return NewOpenAISynthesizer(cfg.OpenAIKey, cfg.OpenAIBaseURL), nil
		}
		return NewMockSynthesizer(cfg.SampleRate), nil
	case "elevenlabs":
		if strings.TrimSpace(cfg.ElevenLabs.APIKey) == "" {
			return nil, fmt.Errorf("elevenlabs synthesizer requires ELEVENLABS_API_KEY")
		}
		return NewElevenLabsSynthesizer(cfg.ElevenLabs), nil
	case "openai":
		if strings.TrimSpace(cfg.OpenAIKey) == "" {
			return nil, fmt.Errorf("openai synthesizer requires OPENAI_API_KEY")
		}
		return NewOpenAISynthesizer(cfg.OpenAIKey, cfg.OpenAIBaseURL), nil
	case "mock":
		return NewMockSynthesizer(cfg.SampleRate), nil
	default:
		return nil, fmt.Errorf("unsupported synthesizer provider %q", provider)
	}
}
