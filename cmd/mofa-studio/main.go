// Command mofa-studio is the desktop host process for MoFA Studio voice
// conversations: it runs the audio/turn-taking core and exposes it to the
// embedding UI shell.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mofa-org/mofa-studio/internal/app"
	"github.com/mofa-org/mofa-studio/internal/config"
	"github.com/mofa-org/mofa-studio/internal/observe"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	dataflow := flag.String("dataflow", "voice-chat.yml", "path to the dataflow YAML file")
	sampleRate := flag.Int("sample-rate", 32000, "audio playback sample rate in Hz")
	darkMode := flag.Bool("dark-mode", false, "start with the dark theme")
	logLevel := flag.String("log-level", "info", "log level: trace|debug|info|warn|error")
	width := flag.Int("width", 1280, "window width")
	height := flag.Int("height", 800, "window height")
	metricsAddr := flag.String("metrics-addr", "", "serve /metrics and /healthz on this address (empty disables)")
	coordinator := flag.String("coordinator", "", "dataflow coordinator endpoint (default ws://127.0.0.1:6012)")
	flag.Parse()

	level := config.LogLevel(*logLevel)
	if !level.IsValid() {
		fmt.Fprintf(os.Stderr, "mofa-studio: unknown log level %q\n", *logLevel)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(level)
	slog.SetDefault(logger)

	slog.Info("mofa-studio starting",
		"dataflow", *dataflow,
		"sample_rate", *sampleRate,
		"log_level", level,
		"window", fmt.Sprintf("%dx%d", *width, *height),
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	telemetry, err := observe.Setup(ctx)
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		if err := telemetry.Shutdown(context.Background()); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Application ───────────────────────────────────────────────────────────
	application, err := app.New(app.Config{
		SampleRate:     *sampleRate,
		DataflowPath:   *dataflow,
		CoordinatorURL: *coordinator,
		MetricsAddr:    *metricsAddr,
		DarkMode:       *darkMode,
		Width:          *width,
		Height:         *height,
	}, app.Hooks{})
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("core ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogTrace, config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
