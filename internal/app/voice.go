package app

import (
	"fmt"

	"github.com/ent0n29/duplex/internal/config"
	"github.com/ent0n29/duplex/internal/voice"
)

type voiceSetup struct {
	recognizer voice.Recognizer
	synth      voice.Synthesizer
	detail     string
}

func voiceConfig(cfg config.Config) voice.Config {
	return voice.Config{
		RecognizerProvider: cfg.RecognizerProvider,
		Deepgram: voice.DeepgramConfig{
			APIKey:     cfg.DeepgramAPIKey,
			URL:        cfg.DeepgramURL,
			Model:      cfg.DeepgramModel,
			Language:   cfg.DeepgramLanguage,
			SampleRate: cfg.SampleRate,
		},
		SynthProvider:   cfg.SynthProvider,
		SynthFallback:   cfg.SynthFallback,
		FallbackVoiceID: cfg.SynthFallbackVoice,
		ElevenLabs: voice.ElevenLabsConfig{
			APIKey:       cfg.ElevenLabsAPIKey,
			WSBaseURL:    cfg.ElevenLabsWSBaseURL,
			ModelID:      cfg.SynthModel,
			OutputFormat: cfg.ElevenLabsFormat,
		},
		OpenAIKey:     cfg.OpenAIAPIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
		SampleRate:    cfg.SampleRate,
	}
}

func resolveVoiceProviders(cfg config.Config) (voiceSetup, error) {
	vc := voiceConfig(cfg)
	recognizer, err := voice.NewRecognizer(vc)
	if err != nil {
		return voiceSetup{}, fmt.Errorf("recognizer init failed: %w", err)
	}
	synth, err := voice.NewSynthesizer(vc)
	if err != nil {
		return voiceSetup{}, fmt.Errorf("synthesizer init failed: %w", err)
	}

	recognizerName := "mock"
	if _, ok := recognizer.(*voice.DeepgramRecognizer); ok {
		recognizerName = "deepgram"
	}
	return voiceSetup{
		recognizer: recognizer,
		synth:      synth,
		detail:     fmt.Sprintf("%s recognizer + %s synthesis", recognizerName, synth.Name()),
	}, nil
}

// Synthesizer resolves only the synthesis side, for offline rendering.
func Synthesizer(cfg config.Config) (voice.Synthesizer, error) {
	return voice.NewSynthesizer(voiceConfig(cfg))
}
