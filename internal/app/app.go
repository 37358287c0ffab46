// Package app assembles the MoFA Studio core: the playback engine, the
// dataflow integration worker, preferences, and the UI poll loop that
// drains dirty shared state and drives the turn-coordination signals.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mofa-org/mofa-studio/internal/config"
	"github.com/mofa-org/mofa-studio/internal/dataflow"
	"github.com/mofa-org/mofa-studio/internal/observe"
	"github.com/mofa-org/mofa-studio/internal/state"
	"github.com/mofa-org/mofa-studio/internal/wire"
	"github.com/mofa-org/mofa-studio/pkg/audio"
	"github.com/mofa-org/mofa-studio/pkg/audio/capture"
	"github.com/mofa-org/mofa-studio/pkg/audio/player"
)

// pollInterval is the UI timer cadence: dirty-state drains and the
// authoritative buffer_status signal both run on this tick.
const pollInterval = 50 * time.Millisecond

// Config carries the CLI-level settings into the application.
type Config struct {
	// SampleRate for audio playback in Hz.
	SampleRate int

	// DataflowPath is the dataflow YAML that StartDataflow starts.
	DataflowPath string

	// CoordinatorURL is the dataflow coordinator endpoint for dynamic-node
	// connections.
	CoordinatorURL string

	// MetricsAddr serves /metrics and /healthz when non-empty.
	MetricsAddr string

	// DarkMode is the UI theme requested on the command line; it overrides
	// the persisted preference for this run.
	DarkMode bool

	// Width and Height are the requested window dimensions. App keeps them
	// with the configuration and does not act on them itself.
	Width, Height int

	// PreferencesPath overrides the standard preferences location.
	// Empty selects config.DefaultPath.
	PreferencesPath string
}

// Hooks are optional UI callbacks invoked from the poll loop whenever the
// matching sub-state is dirty. Nil hooks are skipped; all hooks run on the
// poll goroutine.
type Hooks struct {
	OnChat     func([]state.ChatMessage)
	OnLogs     func([]state.LogEntry)
	OnMicLevel func(level float32)
	OnSpeaking func(bool)
	OnStatus   func(state.Status)
	OnWaveform func([]float32)
}

// App owns the long-lived core objects. The playback engine is constructed
// once here and retained across dataflow sessions; the integration worker
// owns the dispatcher and hub.
type App struct {
	cfg   Config
	prefs *config.Preferences
	hooks Hooks

	player      *player.Player
	integration *dataflow.Integration
	metrics     *observe.Metrics
	mic         *capture.Capture

	// micMonitorOn is true while the app-level level monitor owns the
	// input device. The monitor and the mic bridge never capture at the
	// same time — input devices are exclusive on several platforms.
	micMonitorOn bool

	metricsServer *http.Server
}

// New loads preferences and wires the core together. The audio stream and
// metrics endpoint are not started until Run.
func New(cfg Config, hooks Hooks) (*App, error) {
	if cfg.SampleRate <= 0 {
		return nil, errors.New("app: sample rate must be positive")
	}

	prefsPath := cfg.PreferencesPath
	if prefsPath == "" {
		var err error
		if prefsPath, err = config.DefaultPath(); err != nil {
			return nil, err
		}
	}
	prefs, err := config.Load(prefsPath)
	if err != nil {
		return nil, err
	}
	if cfg.DarkMode {
		prefs.DarkMode = true
	}

	pl := player.New(cfg.SampleRate,
		player.WithOutputDevice(prefs.AudioOutputDevice))

	mic := capture.New(capture.WithDevice(prefs.AudioInputDevice))

	metrics := observe.DefaultMetrics()
	integration := dataflow.NewIntegration(dataflow.Config{
		Metrics:   metrics,
		Connect:   newConnect(cfg.CoordinatorURL),
		MicSource: mic,
	})

	// Register the engine's force-mute flag so a worker-side signal_clear
	// silences the output callback synchronously.
	integration.Hub().Audio.RegisterForceMute(pl.ForceMuteFlag())

	return &App{
		cfg:         cfg,
		prefs:       prefs,
		hooks:       hooks,
		player:      pl,
		integration: integration,
		metrics:     metrics,
		mic:         mic,
	}, nil
}

// newConnect builds the dynamic-node dialer for the coordinator endpoint.
func newConnect(baseURL string) dataflow.ConnectFunc {
	if baseURL == "" {
		baseURL = "ws://127.0.0.1:6012"
	}
	dialer := wire.Dialer{BaseURL: baseURL}
	return func(ctx context.Context, dataflowID, nodeID string) (wire.Conn, error) {
		return dialer.Dial(ctx, dataflowID, nodeID)
	}
}

// Preferences returns the loaded preferences for the settings UI.
func (a *App) Preferences() *config.Preferences { return a.prefs }

// Hub exposes the shared state hub for an embedding UI that polls
// directly.
func (a *App) Hub() *state.Hub { return a.integration.Hub() }

// Player exposes the playback engine for waveform queries.
func (a *App) Player() *player.Player { return a.player }

// StartDataflow starts the configured dataflow with the preferences' node
// env overrides. The app-level mic monitor is stopped first so the mic
// bridge can open the input device.
func (a *App) StartDataflow() bool {
	a.stopMicMonitor()
	return a.integration.Send(dataflow.StartDataflow{
		SpecPath: a.cfg.DataflowPath,
		Env:      a.prefs.AllNodeEnv(),
	})
}

// StopDataflow stops the running dataflow gracefully.
func (a *App) StopDataflow() bool {
	return a.integration.Send(dataflow.StopDataflow{})
}

// SendPrompt forwards a typed user prompt to the LLM nodes.
func (a *App) SendPrompt(message string) bool {
	return a.integration.Send(dataflow.SendPrompt{Message: message})
}

// SetAECEnabled toggles echo-cancelled capture.
func (a *App) SetAECEnabled(enabled bool) bool {
	return a.integration.Send(dataflow.SetAECEnabled{Enabled: enabled})
}

// SetMuted pauses or resumes playback output. The stream keeps running, so
// unmute is instant.
func (a *App) SetMuted(muted bool) {
	if muted {
		a.player.Pause()
	} else {
		a.player.Resume()
	}
}

// Run starts the audio stream and the poll loop, blocking until ctx is
// cancelled. Output-device failures are logged and retried on resume
// rather than aborting the session.
func (a *App) Run(ctx context.Context) error {
	if err := a.player.Start(); err != nil {
		slog.Error("audio playback unavailable", "err", err)
	}
	a.startMetricsServer()
	a.startMicMonitor()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.pollTick(ctx)
		}
	}
}

// pollTick is one UI timer iteration: honor pending clear signals, feed
// the playback engine, report the authoritative buffer status, and drain
// dirty sub-states into the hooks.
func (a *App) pollTick(ctx context.Context) {
	hub := a.integration.Hub()

	// Human interrupt: the worker already force-muted the callback; the
	// poll completes the reset. When the signal names a surviving question,
	// only stale segments are discarded — audio already buffered for the
	// active question keeps playing once the mute lifts.
	if keep, ok := hub.Audio.TakeClearSignal(); ok {
		if keep != "" {
			a.player.SmartReset(keep)
		} else {
			a.player.Reset()
		}
	}

	for _, chunk := range hub.Audio.Drain() {
		a.player.Write(chunk.ToMono(), chunk.Participant, chunk.QuestionID)
	}

	if a.integration.IsRunning() {
		fill := a.player.BufferFillPercentage()
		a.integration.Send(dataflow.UpdateBufferStatus{FillPercentage: fill})
		a.metrics.BufferFill.Record(ctx, fill)
	}

	for _, ev := range a.integration.PollEvents() {
		switch e := ev.(type) {
		case dataflow.DataflowStarted:
			slog.Info("dataflow session started", "id", e.ID)
		case dataflow.DataflowStopped:
			slog.Info("dataflow session ended")
			a.player.Reset()
			// The bridge released the input device; resume level
			// monitoring for the settings UI.
			a.startMicMonitor()
		case dataflow.IntegrationError:
			slog.Error("dataflow error", "message", e.Message)
		}
	}

	if a.micMonitorOn {
		if samples, ok := a.mic.Read(); ok {
			hub.Mic.SetLevel(audio.RMS(samples))
			hub.Mic.SetPeak(audio.Peak(samples))
		}
	}

	if a.hooks.OnChat != nil {
		if msgs, ok := hub.Chat.ReadIfDirty(); ok {
			a.hooks.OnChat(msgs)
		}
	}
	if a.hooks.OnLogs != nil {
		if logs, ok := hub.Logs.ReadIfDirty(); ok {
			a.hooks.OnLogs(logs)
		}
	}
	if a.hooks.OnMicLevel != nil {
		if level, ok := hub.Mic.ReadLevelIfDirty(); ok {
			a.hooks.OnMicLevel(level)
		}
	}
	if a.hooks.OnSpeaking != nil {
		if speaking, ok := hub.Mic.ReadSpeakingIfDirty(); ok {
			a.hooks.OnSpeaking(speaking)
		}
	}
	if a.hooks.OnStatus != nil {
		if status, ok := hub.Status.ReadIfDirty(); ok {
			a.hooks.OnStatus(status)
		}
	}
	if a.hooks.OnWaveform != nil && a.player.IsPlaying() {
		a.hooks.OnWaveform(a.player.Waveform())
	}
}

// startMetricsServer serves /metrics (Prometheus) and /healthz when a
// metrics address is configured.
func (a *App) startMetricsServer() {
	if a.cfg.MetricsAddr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	a.metricsServer = &http.Server{Addr: a.cfg.MetricsAddr, Handler: mux}
	go func() {
		if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "err", err)
		}
	}()
	slog.Info("metrics endpoint listening", "addr", a.cfg.MetricsAddr)
}

// startMicMonitor opens plain capture for the settings-level meter. Only
// runs while no dataflow session holds the device.
func (a *App) startMicMonitor() {
	if a.micMonitorOn || a.integration.IsRunning() {
		return
	}
	if err := a.mic.Start(capture.ModePlain); err != nil {
		slog.Warn("mic monitoring unavailable", "err", err)
		return
	}
	a.micMonitorOn = true
}

// stopMicMonitor releases the input device ahead of bridge capture.
func (a *App) stopMicMonitor() {
	if !a.micMonitorOn {
		return
	}
	a.mic.Stop()
	a.micMonitorOn = false
	a.Hub().Mic.SetLevel(0)
}

// Shutdown stops the integration worker (stopping any running dataflow),
// the metrics endpoint, and the audio stream.
func (a *App) Shutdown(ctx context.Context) error {
	a.stopMicMonitor()
	a.integration.Close()
	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			slog.Warn("metrics server shutdown error", "err", err)
		}
	}
	return a.player.Close()
}
