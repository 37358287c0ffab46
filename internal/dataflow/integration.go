package dataflow

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mofa-org/mofa-studio/internal/bridge"
	"github.com/mofa-org/mofa-studio/internal/observe"
	"github.com/mofa-org/mofa-studio/internal/state"
	"github.com/mofa-org/mofa-studio/pkg/audio/capture"
)

// Command is a UI-issued instruction for the integration worker.
type Command interface{ isCommand() }

// StartDataflow starts the dataflow described by the spec file, supplying
// per-node environment variables from preferences.
type StartDataflow struct {
	SpecPath string
	Env      map[string]string
}

// StopDataflow stops the dataflow with the default grace period.
type StopDataflow struct{}

// StopDataflowWithGrace stops the dataflow with a custom grace duration.
type StopDataflowWithGrace struct{ Grace time.Duration }

// ForceStopDataflow stops the dataflow immediately (zero grace).
type ForceStopDataflow struct{}

// SendPrompt forwards a user prompt to the LLM nodes.
type SendPrompt struct{ Message string }

// SendControl forwards a control command ("start", "stop", "reset").
type SendControl struct{ Command string }

// UpdateBufferStatus forwards the UI's authoritative playback fill
// percentage for backpressure.
type UpdateBufferStatus struct{ FillPercentage float64 }

// SetAECEnabled toggles echo-cancelled capture on the mic bridge.
type SetAECEnabled struct{ Enabled bool }

// SetRecording starts or stops mic capture on the mic bridge.
type SetRecording struct{ Recording bool }

func (StartDataflow) isCommand()         {}
func (StopDataflow) isCommand()          {}
func (StopDataflowWithGrace) isCommand() {}
func (ForceStopDataflow) isCommand()     {}
func (SendPrompt) isCommand()            {}
func (SendControl) isCommand()           {}
func (UpdateBufferStatus) isCommand()    {}
func (SetAECEnabled) isCommand()         {}
func (SetRecording) isCommand()          {}

// Event is a control-flow notification for the UI. Data (chat, audio,
// logs, mic, status) flows through the shared state hub instead.
type Event interface{ isEvent() }

// DataflowStarted reports a successful start with the assigned id.
type DataflowStarted struct{ ID string }

// DataflowStopped reports that the dataflow is down.
type DataflowStopped struct{}

// IntegrationError reports a failure the UI should surface.
type IntegrationError struct{ Message string }

func (DataflowStarted) isEvent()  {}
func (DataflowStopped) isEvent()  {}
func (IntegrationError) isEvent() {}

const (
	// statusCheckInterval is how often the worker re-probes the launcher.
	statusCheckInterval = 2 * time.Second
	// startupGrace suppresses liveness probes right after start, while node
	// processes are still coming up.
	startupGrace = 10 * time.Second
	// sendRetries and sendRetryDelay cover the window where a bridge is
	// still connecting when the user hits send.
	sendRetries    = 20
	sendRetryDelay = 150 * time.Millisecond
)

// Config wires an [Integration].
type Config struct {
	// Metrics instruments the bridges. Defaults to observe.DefaultMetrics.
	Metrics *observe.Metrics
	// Connect dials dynamic nodes. Required.
	Connect ConnectFunc
	// MicSource backs the mic input bridge. Required when the dataflow
	// declares a mofa-mic-input node.
	MicSource capture.Source
	// MicOptions tune the mic bridge (AEC preference, VAD config).
	MicOptions []bridge.MicOption
}

// Integration is the worker-owned facade between the UI and the
// dispatcher. The UI issues commands through a channel and polls
// control-flow events; all data flows through the shared hub. One worker
// goroutine owns the dispatcher for its whole life.
type Integration struct {
	hub     *state.Hub
	cfg     Config
	metrics *observe.Metrics

	commands chan Command
	events   chan Event
	stop     chan struct{}
	done     chan struct{}
	running  atomic.Bool
}

// NewIntegration creates the integration and starts its worker. The hub is
// created here and lives for the worker's lifetime; it is cleared (not
// replaced) between dataflow sessions.
func NewIntegration(cfg Config) *Integration {
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	i := &Integration{
		hub:      state.NewHub(),
		cfg:      cfg,
		metrics:  metrics,
		commands: make(chan Command, 100),
		events:   make(chan Event, 100),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go i.run()
	return i
}

// Hub returns the shared state hub for UI polling and bridge injection.
func (i *Integration) Hub() *state.Hub { return i.hub }

// IsRunning reports whether a dataflow is currently up.
func (i *Integration) IsRunning() bool { return i.running.Load() }

// Send queues a command for the worker. Returns false when the queue is
// full or the integration is closed.
func (i *Integration) Send(cmd Command) bool {
	select {
	case <-i.stop:
		return false
	default:
	}
	select {
	case i.commands <- cmd:
		return true
	default:
		return false
	}
}

// PollEvents drains pending control-flow events without blocking.
func (i *Integration) PollEvents() []Event {
	var out []Event
	for {
		select {
		case ev := <-i.events:
			out = append(out, ev)
		default:
			return out
		}
	}
}

// Close stops the worker, stopping any running dataflow first.
func (i *Integration) Close() {
	select {
	case <-i.stop:
	default:
		close(i.stop)
	}
	<-i.done
}

func (i *Integration) emit(ev Event) {
	select {
	case i.events <- ev:
	default:
		slog.Warn("integration event queue full, dropping", "event", ev)
	}
}

// run is the worker loop. It owns the dispatcher; commands are processed
// serially so lifecycle transitions never race.
func (i *Integration) run() {
	defer close(i.done)
	slog.Info("dataflow integration worker started")

	ctx := context.Background()
	var disp *Dispatcher
	var startedAt time.Time

	statusTicker := time.NewTicker(statusCheckInterval)
	defer statusTicker.Stop()

	stopDataflow := func(grace time.Duration) {
		if disp == nil {
			return
		}
		if err := disp.Stop(ctx, grace); err != nil {
			i.emit(IntegrationError{Message: "dataflow stop failed: " + err.Error()})
		}
		disp = nil
		i.running.Store(false)
		i.hub.ClearAll()
		i.emit(DataflowStopped{})
	}

	for {
		select {
		case <-i.stop:
			stopDataflow(DefaultGrace)
			slog.Info("dataflow integration worker stopped")
			return

		case cmd := <-i.commands:
			switch c := cmd.(type) {
			case StartDataflow:
				if disp != nil {
					i.emit(IntegrationError{Message: "dataflow already running"})
					continue
				}
				d, id, err := i.startDataflow(ctx, c)
				if err != nil {
					i.emit(IntegrationError{Message: err.Error()})
					continue
				}
				disp = d
				startedAt = time.Now()
				i.running.Store(true)
				i.emit(DataflowStarted{ID: id})

			case StopDataflow:
				stopDataflow(DefaultGrace)
			case StopDataflowWithGrace:
				stopDataflow(c.Grace)
			case ForceStopDataflow:
				stopDataflow(0)

			case SendPrompt:
				i.withPromptBridge(disp, func(b *bridge.PromptInputBridge) bool {
					return b.SendPrompt(c.Message)
				})
			case SendControl:
				i.withPromptBridge(disp, func(b *bridge.PromptInputBridge) bool {
					return b.SendControl(c.Command)
				})

			case UpdateBufferStatus:
				if disp != nil {
					if b := disp.AudioPlayer(); b != nil {
						b.SendBufferStatus(c.FillPercentage)
					}
				}

			case SetAECEnabled:
				if disp != nil {
					if b := disp.MicInput(); b != nil {
						b.SetAECEnabled(c.Enabled)
					}
				}

			case SetRecording:
				if disp != nil {
					if b := disp.MicInput(); b != nil {
						if c.Recording {
							b.StartRecording()
						} else {
							b.StopRecording()
						}
					}
				}
			}

		case <-statusTicker.C:
			// Liveness probe, skipped during the startup grace window to
			// avoid false stop reports while nodes spawn.
			if disp == nil || time.Since(startedAt) < startupGrace {
				continue
			}
			probeCtx, cancel := context.WithTimeout(ctx, statusCheckInterval)
			alive, err := disp.CheckRunning(probeCtx)
			cancel()
			if err != nil {
				slog.Debug("dataflow liveness probe failed", "err", err)
				continue
			}
			if !alive {
				slog.Warn("dataflow stopped unexpectedly")
				stopDataflow(0)
			}
		}
	}
}

// startDataflow parses the spec, builds controller and dispatcher, and
// starts everything.
func (i *Integration) startDataflow(ctx context.Context, c StartDataflow) (*Dispatcher, string, error) {
	spec, err := ParseSpec(c.SpecPath)
	if err != nil {
		i.hub.Status.SetError(err.Error())
		return nil, "", err
	}

	ctrl, err := NewController(c.SpecPath)
	if err != nil {
		i.hub.Status.SetError(err.Error())
		return nil, "", err
	}
	ctrl.SetEnvs(c.Env)

	disp := newDispatcher(spec, ctrl, i.hub, i.metrics, i.cfg.Connect,
		i.cfg.MicSource, i.cfg.MicOptions...)
	id, err := disp.Start(ctx)
	if err != nil {
		return nil, "", err
	}
	return disp, id, nil
}

// withPromptBridge retries a prompt-bridge send while the bridge connects.
func (i *Integration) withPromptBridge(disp *Dispatcher, send func(*bridge.PromptInputBridge) bool) {
	if disp == nil {
		i.emit(IntegrationError{Message: "dataflow not running"})
		return
	}
	for attempt := 1; attempt <= sendRetries; attempt++ {
		if b := disp.PromptInput(); b != nil && send(b) {
			return
		}
		time.Sleep(sendRetryDelay)
	}
	i.emit(IntegrationError{Message: "prompt bridge unavailable"})
	slog.Error("prompt bridge send retries exhausted")
}
