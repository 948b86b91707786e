package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains all runtime settings for the duplex voice service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	ConnectTimeout   time.Duration
	JanitorInterval  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	LogLevel  string
	LogFormat string
	LogFile   string

	Aggregator AggregatorConfig

	CacheTTL           time.Duration
	CacheMaxEntries    int
	CacheSweepInterval time.Duration
	CacheRedisURL      string

	RouterFastBackend     string
	RouterDeepBackend     string
	RouterFallbackBackend string
	BackendTimeout        time.Duration
	AssistantName         string

	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
	GroqAPIKey    string
	GroqBaseURL   string
	GroqModel     string
	GeminiAPIKey  string
	GeminiModel   string
	BrainHTTPURL  string
	BrainCLI      string

	SynthProvider       string
	SynthFallback       string
	SynthVoice          string
	SynthFallbackVoice  string
	SynthModel          string
	SynthTimeout        time.Duration
	SynthChunkPause     time.Duration
	SynthSpeechEndDelay time.Duration

	ElevenLabsAPIKey    string
	ElevenLabsWSBaseURL string
	ElevenLabsFormat    string

	RecognizerProvider string
	DeepgramAPIKey     string
	DeepgramURL        string
	DeepgramModel      string
	DeepgramLanguage   string
	KeepAliveInterval  time.Duration
	SampleRate         int

	DatabaseURL       string
	ActionsWebhookURL string
	MemoryCapacity    int
}

// AggregatorConfig holds the empirically tuned turn-detection thresholds.
type AggregatorConfig struct {
	NoiseMaxConfidence   float64
	NoiseMaxChars        int
	BargeInMinChars      int
	CompletionMinChars   int
	HighConfidence       float64
	SpeechFinalDebounce  time.Duration
	DefaultFinalDebounce time.Duration
}

// Load reads an optional .env file and environment variables, applying safe defaults.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "duplex"),
		LogLevel:         envOrDefault("LOG_LEVEL", "info"),
		LogFormat:        envOrDefault("LOG_FORMAT", "json"),
		LogFile:          stringsTrimSpace("LOG_FILE"),
		ShutdownTimeout:  15 * time.Second,
		ConnectTimeout:   2 * time.Minute,
		JanitorInterval:  5 * time.Second,

		Aggregator: AggregatorConfig{
			NoiseMaxConfidence:   0.5,
			NoiseMaxChars:        3,
			BargeInMinChars:      3,
			CompletionMinChars:   8,
			HighConfidence:       0.9,
			SpeechFinalDebounce:  90 * time.Millisecond,
			DefaultFinalDebounce: 400 * time.Millisecond,
		},

		CacheTTL:           10 * time.Minute,
		CacheMaxEntries:    500,
		CacheSweepInterval: time.Minute,
		CacheRedisURL:      stringsTrimSpace("CACHE_REDIS_URL"),

		RouterFastBackend:     envOrDefault("ROUTER_FAST_BACKEND", "groq"),
		RouterDeepBackend:     envOrDefault("ROUTER_DEEP_BACKEND", "gemini"),
		RouterFallbackBackend: envOrDefault("ROUTER_FALLBACK_BACKEND", "openai"),
		BackendTimeout:        25 * time.Second,
		AssistantName:         envOrDefault("ASSISTANT_NAME", "Nova"),

		OpenAIAPIKey:  stringsTrimSpace("OPENAI_API_KEY"),
		OpenAIBaseURL: stringsTrimSpace("OPENAI_BASE_URL"),
		OpenAIModel:   envOrDefault("OPENAI_MODEL", "gpt-4o-mini"),
		GroqAPIKey:    stringsTrimSpace("GROQ_API_KEY"),
		GroqBaseURL:   envOrDefault("GROQ_BASE_URL", "https://api.groq.com/openai/v1"),
		GroqModel:     envOrDefault("GROQ_MODEL", "llama-3.1-8b-instant"),
		GeminiAPIKey:  stringsTrimSpace("GEMINI_API_KEY"),
		GeminiModel:   envOrDefault("GEMINI_MODEL", "gemini-2.0-flash"),
		BrainHTTPURL:  stringsTrimSpace("BRAIN_HTTP_URL"),
		BrainCLI:      stringsTrimSpace("BRAIN_CLI_COMMAND"),

		SynthProvider:       envOrDefault("SYNTH_PROVIDER", "auto"),
		SynthFallback:       envOrDefault("SYNTH_FALLBACK_PROVIDER", "openai"),
		SynthVoice:          envOrDefault("SYNTH_VOICE_ID", "cgSgspJ2msm6clMCkdW9"),
		SynthFallbackVoice:  envOrDefault("SYNTH_FALLBACK_VOICE_ID", "nova"),
		SynthModel:          envOrDefault("SYNTH_MODEL_ID", "eleven_flash_v2_5"),
		SynthTimeout:        20 * time.Second,
		SynthChunkPause:     120 * time.Millisecond,
		SynthSpeechEndDelay: 150 * time.Millisecond,

		ElevenLabsAPIKey:    stringsTrimSpace("ELEVENLABS_API_KEY"),
		ElevenLabsWSBaseURL: envOrDefault("ELEVENLABS_WS_BASE_URL", "wss://api.elevenlabs.io"),
		ElevenLabsFormat:    envOrDefault("ELEVENLABS_OUTPUT_FORMAT", "mp3_44100_128"),

		RecognizerProvider: envOrDefault("RECOGNIZER_PROVIDER", "auto"),
		DeepgramAPIKey:     stringsTrimSpace("DEEPGRAM_API_KEY"),
		DeepgramURL:        envOrDefault("DEEPGRAM_URL", "wss://api.deepgram.com/v1/listen"),
		DeepgramModel:      envOrDefault("DEEPGRAM_MODEL", "nova-2"),
		DeepgramLanguage:   envOrDefault("DEEPGRAM_LANGUAGE", "en-US"),
		KeepAliveInterval:  8 * time.Second,
		SampleRate:         16000,

		DatabaseURL:       stringsTrimSpace("DATABASE_URL"),
		ActionsWebhookURL: stringsTrimSpace("ACTIONS_WEBHOOK_URL"),
		MemoryCapacity:    6,
	}

	var err error
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"APP_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout},
		{"APP_SESSION_CONNECT_TIMEOUT", &cfg.ConnectTimeout},
		{"APP_JANITOR_INTERVAL", &cfg.JanitorInterval},
		{"TURN_SPEECH_FINAL_DEBOUNCE", &cfg.Aggregator.SpeechFinalDebounce},
		{"TURN_FINAL_DEBOUNCE", &cfg.Aggregator.DefaultFinalDebounce},
		{"CACHE_TTL", &cfg.CacheTTL},
		{"CACHE_SWEEP_INTERVAL", &cfg.CacheSweepInterval},
		{"BACKEND_TIMEOUT", &cfg.BackendTimeout},
		{"SYNTH_TIMEOUT", &cfg.SynthTimeout},
		{"SYNTH_CHUNK_PAUSE", &cfg.SynthChunkPause},
		{"SYNTH_SPEECH_END_DELAY", &cfg.SynthSpeechEndDelay},
		{"RECOGNIZER_KEEPALIVE_INTERVAL", &cfg.KeepAliveInterval},
	}
	for _, d := range durations {
		if *d.dst, err = durationFromEnv(d.key, *d.dst); err != nil {
			return Config{}, err
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"TURN_NOISE_MAX_CHARS", &cfg.Aggregator.NoiseMaxChars},
		{"TURN_BARGE_IN_MIN_CHARS", &cfg.Aggregator.BargeInMinChars},
		{"TURN_COMPLETION_MIN_CHARS", &cfg.Aggregator.CompletionMinChars},
		{"CACHE_MAX_ENTRIES", &cfg.CacheMaxEntries},
		{"AUDIO_SAMPLE_RATE", &cfg.SampleRate},
		{"MEMORY_CAPACITY", &cfg.MemoryCapacity},
	}
	for _, n := range ints {
		if *n.dst, err = intFromEnv(n.key, *n.dst); err != nil {
			return Config{}, err
		}
	}

	cfg.Aggregator.NoiseMaxConfidence, err = floatFromEnv("TURN_NOISE_MAX_CONFIDENCE", cfg.Aggregator.NoiseMaxConfidence)
	if err != nil {
		return Config{}, err
	}
	cfg.Aggregator.HighConfidence, err = floatFromEnv("TURN_HIGH_CONFIDENCE", cfg.Aggregator.HighConfidence)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.ConnectTimeout < time.Second {
		return fmt.Errorf("APP_SESSION_CONNECT_TIMEOUT must be at least 1s")
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("CACHE_TTL must be positive")
	}
	if c.CacheMaxEntries <= 0 {
		return fmt.Errorf("CACHE_MAX_ENTRIES must be positive")
	}
	if c.BackendTimeout <= 0 || c.SynthTimeout <= 0 {
		return fmt.Errorf("BACKEND_TIMEOUT and SYNTH_TIMEOUT must be positive")
	}
	if c.MemoryCapacity <= 0 {
		return fmt.Errorf("MEMORY_CAPACITY must be positive")
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("AUDIO_SAMPLE_RATE must be positive")
	}
	a := c.Aggregator
	if a.NoiseMaxConfidence < 0 || a.NoiseMaxConfidence > 1 || a.HighConfidence <= 0 || a.HighConfidence > 1 {
		return fmt.Errorf("turn confidence thresholds must be within [0,1]")
	}
	if a.SpeechFinalDebounce <= 0 || a.DefaultFinalDebounce <= 0 {
		return fmt.Errorf("turn debounce durations must be positive")
	}
	if a.BargeInMinChars < 0 || a.CompletionMinChars < 0 || a.NoiseMaxChars < 0 {
		return fmt.Errorf("turn character thresholds must be >= 0")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
