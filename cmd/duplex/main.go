package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ent0n29/duplex/internal/app"
	"github.com/ent0n29/duplex/internal/audio"
	"github.com/ent0n29/duplex/internal/config"
	"github.com/ent0n29/duplex/internal/logging"
	"github.com/ent0n29/duplex/internal/router"
	"github.com/ent0n29/duplex/internal/speech"
)

var rootCmd = &cobra.Command{
	Use:          "duplex",
	Short:        "Full-duplex spoken conversation server",
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and websocket server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.BindAddr = addr
		}
		return serve(cfg, logger)
	},
}

var askCmd = &cobra.Command{
	Use:   "ask [text]",
	Short: "Route one utterance and print the reply and its speech chunks",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck
		wavPath, _ := cmd.Flags().GetString("wav")
		voiceID, _ := cmd.Flags().GetString("voice")
		return ask(cmd.Context(), cfg, logger, strings.Join(args, " "), wavPath, voiceID)
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "bind address (overrides APP_BIND_ADDR)")
	askCmd.Flags().String("wav", "", "synthesize the reply and write it to this WAV file")
	askCmd.Flags().String("voice", "", "voice id used with --wav")
	rootCmd.AddCommand(serveCmd, askCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setup() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("config error: %w", err)
	}
	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("logger init failed: %w", err)
	}
	return cfg, logger, nil
}

func serve(cfg config.Config, logger *zap.Logger) error {
	runCtx, runCancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer runCancel()

	built, err := app.Build(runCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := built.Cleanup(); err != nil {
			logger.Warn("cleanup failed", zap.Error(err))
		}
	}()

	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: built.API.Router(),
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", cfg.BindAddr), zap.String("voice", built.VoiceDetail))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("listen error: %w", err)
		}
	case <-runCtx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
		_ = httpServer.Close()
	}
	logger.Info("shutdown complete")
	return nil
}

func ask(ctx context.Context, cfg config.Config, logger *zap.Logger, text, wavPath, voiceID string) error {
	rt, closeRouter, err := app.BuildRouter(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer closeRouter() //nolint:errcheck

	res, err := rt.Route(ctx, router.Query{Text: text})
	if err != nil {
		return err
	}

	out := os.Stdout
	fmt.Fprintf(out, "intent:     %s\n", res.Classification.Intent)
	fmt.Fprintf(out, "complexity: %s\n", res.Classification.Complexity)
	switch {
	case res.Handled:
		fmt.Fprintln(out, "answered by: side-effect handler")
	case res.Cached:
		fmt.Fprintln(out, "answered by: cache")
	default:
		fmt.Fprintf(out, "answered by: %s\n", res.Backend)
	}
	fmt.Fprintf(out, "reply:      %s\n", res.Text)

	chunks := speech.Split(res.Text)
	for i, chunk := range chunks {
		fmt.Fprintf(out, "chunk %d:    %s\n", i+1, chunk)
	}

	if wavPath == "" {
		return nil
	}
	if voiceID == "" {
		voiceID = cfg.SynthVoice
	}
	synth, err := app.Synthesizer(cfg)
	if err != nil {
		return err
	}
	var pcm []byte
	for _, chunk := range chunks {
		b, err := synth.Synthesize(ctx, chunk, voiceID)
		if err != nil {
			return fmt.Errorf("synthesize %q: %w", chunk, err)
		}
		pcm = append(pcm, b...)
	}
	if err := audio.WriteWAVFile(wavPath, pcm, cfg.SampleRate); err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote %s (%d bytes of audio via %s)\n", wavPath, len(pcm), synth.Name())
	return nil
}
