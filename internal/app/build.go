// Package app assembles the service from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ent0n29/duplex/internal/actions"
	"github.com/ent0n29/duplex/internal/backend"
	"github.com/ent0n29/duplex/internal/cache"
	"github.com/ent0n29/duplex/internal/config"
	"github.com/ent0n29/duplex/internal/conversation"
	"github.com/ent0n29/duplex/internal/documents"
	"github.com/ent0n29/duplex/internal/httpapi"
	"github.com/ent0n29/duplex/internal/observability"
	"github.com/ent0n29/duplex/internal/router"
	"github.com/ent0n29/duplex/internal/session"
	"github.com/ent0n29/duplex/internal/turn"
)

type BuildResult struct {
	Config       config.Config
	API          *httpapi.Server
	Sessions     *session.Manager
	Orchestrator *conversation.Orchestrator
	Metrics      *observability.Metrics
	VoiceDetail  string

	// Cleanup releases external resources (database pool, Redis client).
	Cleanup func() error
}

// Build wires the full service. ctx bounds background work started here.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	rt, closeRouter, err := BuildRouter(ctx, cfg, logger, metrics)
	if err != nil {
		return nil, err
	}

	docs, err := documents.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		_ = closeRouter()
		return nil, fmt.Errorf("document store init failed: %w", err)
	}

	voiceSetup, err := resolveVoiceProviders(cfg)
	if err != nil {
		docs.Close()
		_ = closeRouter()
		return nil, err
	}
	logger.Info("voice providers resolved", zap.String("detail", voiceSetup.detail))

	sessions := session.NewManager(cfg.ConnectTimeout, cfg.MemoryCapacity)
	sessions.SetEndHook(func(s *session.Session) {
		metrics.Event("ended")
		metrics.SetActiveSessions(sessions.ActiveCount())
		if err := docs.Detach(context.Background(), s.ID); err != nil && !errors.Is(err, documents.ErrNotFound) {
			logger.Warn("detach document of ended session failed", zap.String("session_id", s.ID), zap.Error(err))
		}
	})
	sessions.StartJanitor(ctx, cfg.JanitorInterval)

	streamer := turn.NewStreamer(voiceSetup.synth, turn.StreamerConfig{
		Timeout:        cfg.SynthTimeout,
		ChunkPause:     cfg.SynthChunkPause,
		SpeechEndDelay: cfg.SynthSpeechEndDelay,
	}, logger, metrics)

	orchestrator := conversation.New(conversation.Config{
		Recognizer:        voiceSetup.recognizer,
		Router:            rt,
		Streamer:          streamer,
		Documents:         docs,
		Sessions:          sessions,
		Aggregator:        turn.AggregatorConfig(cfg.Aggregator),
		KeepAliveInterval: cfg.KeepAliveInterval,
		Logger:            logger,
		Metrics:           metrics,
	})

	api := httpapi.New(cfg, sessions, orchestrator, docs, metrics, logger)

	cleanup := func() error {
		docs.Close()
		return closeRouter()
	}

	return &BuildResult{
		Config:       cfg,
		API:          api,
		Sessions:     sessions,
		Orchestrator: orchestrator,
		Metrics:      metrics,
		VoiceDetail:  voiceSetup.detail,
		Cleanup:      cleanup,
	}, nil
}

// BuildRouter wires the answer cache, the configured backends and the
// side-effect handler. The returned func closes the shared cache client.
func BuildRouter(ctx context.Context, cfg config.Config, logger *zap.Logger, metrics *observability.Metrics) (*router.Router, func() error, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	store, closeCache, err := buildCache(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	bcfg := backend.Config{
		OpenAIKey:     cfg.OpenAIAPIKey,
		OpenAIModel:   cfg.OpenAIModel,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
		GroqKey:       cfg.GroqAPIKey,
		GroqModel:     cfg.GroqModel,
		GroqBaseURL:   cfg.GroqBaseURL,
		GeminiKey:     cfg.GeminiAPIKey,
		GeminiModel:   cfg.GeminiModel,
		HTTPURL:       cfg.BrainHTTPURL,
		CLICommand:    cfg.BrainCLI,
	}
	built := map[string]backend.Backend{}
	resolve := func(role, name string) backend.Backend {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || name == "none" {
			return nil
		}
		if b, ok := built[name]; ok {
			return b
		}
		b, err := backend.New(ctx, name, bcfg)
		if err != nil {
			logger.Warn("backend unavailable", zap.String("role", role), zap.String("backend", name), zap.Error(err))
			return nil
		}
		built[name] = b
		return b
	}

	fast := resolve("fast", cfg.RouterFastBackend)
	deep := resolve("deep", cfg.RouterDeepBackend)
	fallback := resolve("fallback", cfg.RouterFallbackBackend)
	if fast == nil && deep == nil && fallback == nil {
		logger.Warn("no reasoning backend configured, answering with the mock backend")
		fallback = backend.NewMock()
	}

	rt, err := router.New(router.Config{
		Fast:          fast,
		Deep:          deep,
		Fallback:      fallback,
		Timeout:       cfg.BackendTimeout,
		AssistantName: cfg.AssistantName,
		Cache:         store,
		Actions:       actions.New(cfg.ActionsWebhookURL, cfg.BackendTimeout),
		Logger:        logger,
		Metrics:       metrics,
	})
	if err != nil {
		_ = closeCache()
		return nil, nil, err
	}
	return rt, closeCache, nil
}

func buildCache(ctx context.Context, cfg config.Config, logger *zap.Logger) (cache.Store, func() error, error) {
	if strings.TrimSpace(cfg.CacheRedisURL) != "" {
		rs, err := cache.NewRedisStore(ctx, cfg.CacheRedisURL, cfg.CacheTTL, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("answer cache init failed: %w", err)
		}
		return rs, rs.Close, nil
	}
	ms := cache.NewMemoryStore(cfg.CacheTTL, cfg.CacheMaxEntries, cfg.CacheSweepInterval)
	return ms, func() error { return nil }, nil
}
