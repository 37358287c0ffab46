package dataflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mofa-org/mofa-studio/internal/bridge"
	"github.com/mofa-org/mofa-studio/internal/observe"
	"github.com/mofa-org/mofa-studio/internal/state"
	"github.com/mofa-org/mofa-studio/internal/wire"
	"github.com/mofa-org/mofa-studio/pkg/audio/capture"
)

// Lifecycle is the dispatcher state machine:
// Stopped -> Starting -> Running -> Stopping -> Stopped, or -> Error.
type Lifecycle int32

const (
	LifecycleStopped Lifecycle = iota
	LifecycleStarting
	LifecycleRunning
	LifecycleStopping
	LifecycleError
)

// String returns the lowercase lifecycle name.
func (l Lifecycle) String() string {
	switch l {
	case LifecycleStopped:
		return "stopped"
	case LifecycleStarting:
		return "starting"
	case LifecycleRunning:
		return "running"
	case LifecycleStopping:
		return "stopping"
	case LifecycleError:
		return "error"
	}
	return "unknown"
}

// joinTimeout bounds how long Stop waits for bridge workers before
// detaching them.
const joinTimeout = 5 * time.Second

// ErrAlreadyRunning is returned by Start when a dataflow is already up.
var ErrAlreadyRunning = errors.New("dataflow: already running")

// launcher abstracts the external launcher process for testing.
type launcher interface {
	Start(ctx context.Context) (string, error)
	Stop(ctx context.Context, grace time.Duration) error
	IsRunning(ctx context.Context) (bool, error)
}

// ConnectFunc dials one dynamic node of a dataflow.
type ConnectFunc func(ctx context.Context, dataflowID, nodeID string) (wire.Conn, error)

// Dispatcher lifecycles the external dataflow: it starts the launcher,
// connects one bridge per discovered dynamic node, and joins the workers on
// stop. The hub handle it receives is passed to every bridge.
type Dispatcher struct {
	spec      *Spec
	ctrl      launcher
	hub       *state.Hub
	metrics   *observe.Metrics
	connect   ConnectFunc
	micSource capture.Source
	micOpts   []bridge.MicOption

	mu        sync.Mutex
	lifecycle Lifecycle
	cancel    context.CancelFunc
	group     *errgroup.Group
	conns     []wire.Conn

	audio  *bridge.AudioPlayerBridge
	prompt *bridge.PromptInputBridge
	mic    *bridge.MicInputBridge
	syslog *bridge.SystemLogBridge
}

// NewDispatcher creates a dispatcher for the parsed spec. micSource backs
// the mic input bridge when the spec declares one.
func NewDispatcher(spec *Spec, ctrl *Controller, hub *state.Hub, metrics *observe.Metrics, connect ConnectFunc, micSource capture.Source, micOpts ...bridge.MicOption) *Dispatcher {
	return newDispatcher(spec, ctrl, hub, metrics, connect, micSource, micOpts...)
}

func newDispatcher(spec *Spec, ctrl launcher, hub *state.Hub, metrics *observe.Metrics, connect ConnectFunc, micSource capture.Source, micOpts ...bridge.MicOption) *Dispatcher {
	return &Dispatcher{
		spec:      spec,
		ctrl:      ctrl,
		hub:       hub,
		metrics:   metrics,
		connect:   connect,
		micSource: micSource,
		micOpts:   micOpts,
	}
}

// Lifecycle returns the current state.
func (d *Dispatcher) Lifecycle() Lifecycle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lifecycle
}

// AudioPlayer returns the audio player bridge, nil before Start.
func (d *Dispatcher) AudioPlayer() *bridge.AudioPlayerBridge {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.audio
}

// PromptInput returns the prompt input bridge, nil before Start.
func (d *Dispatcher) PromptInput() *bridge.PromptInputBridge {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.prompt
}

// MicInput returns the mic input bridge, nil before Start.
func (d *Dispatcher) MicInput() *bridge.MicInputBridge {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mic
}

// SystemLog returns the system log bridge, nil before Start.
func (d *Dispatcher) SystemLog() *bridge.SystemLogBridge {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.syslog
}

// CheckRunning probes the launcher for the dataflow's liveness.
func (d *Dispatcher) CheckRunning(ctx context.Context) (bool, error) {
	return d.ctrl.IsRunning(ctx)
}

// Start launches the dataflow and spawns the bridge workers. On any
// failure the lifecycle moves to Error, the message is surfaced through the
// status sub-state, and already-opened connections are closed.
func (d *Dispatcher) Start(ctx context.Context) (string, error) {
	d.mu.Lock()
	if d.lifecycle == LifecycleStarting || d.lifecycle == LifecycleRunning {
		d.mu.Unlock()
		return "", ErrAlreadyRunning
	}
	d.lifecycle = LifecycleStarting
	d.mu.Unlock()
	d.hub.Status.SetPhase(state.PhaseStarting)

	ctx, endSpan := observe.TraceDataflowStart(ctx, d.spec.Path)
	started := time.Now()

	id, err := d.ctrl.Start(ctx)
	if err != nil {
		d.fail("dataflow start failed", err)
		endSpan(err)
		return "", err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	group, groupCtx := errgroup.WithContext(runCtx)

	d.mu.Lock()
	d.cancel = cancel
	d.group = group
	d.conns = nil
	d.mu.Unlock()

	for _, dyn := range d.spec.DynamicNodes {
		b, err := d.buildBridge(ctx, id, dyn)
		if err != nil {
			cancel()
			d.closeConns()
			d.fail(fmt.Sprintf("bridge %s failed", dyn.ID), err)
			endSpan(err)
			return "", err
		}
		group.Go(func() error {
			err := b.Run(groupCtx)
			if err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("bridge exited", "node", b.NodeID(), "err", err)
				return err
			}
			return nil
		})
	}

	d.mu.Lock()
	d.lifecycle = LifecycleRunning
	d.mu.Unlock()
	d.hub.Status.SetPhase(state.PhaseRunning)
	d.metrics.DataflowStartDuration.Record(ctx, time.Since(started).Seconds())
	endSpan(nil)
	slog.Info("dispatcher running", "dataflow_id", id,
		"bridges", len(d.spec.DynamicNodes))
	return id, nil
}

// buildBridge dials the dynamic node and constructs the matching bridge.
func (d *Dispatcher) buildBridge(ctx context.Context, dataflowID string, dyn DynamicNode) (bridge.Bridge, error) {
	conn, err := d.connect(ctx, dataflowID, dyn.ID)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.conns = append(d.conns, conn)

	switch dyn.Type {
	case NodeAudioPlayer:
		b := bridge.NewAudioPlayer(dyn.ID, conn, d.hub, d.metrics)
		d.audio = b
		return b, nil
	case NodePromptInput:
		b := bridge.NewPromptInput(dyn.ID, conn, d.hub, d.metrics)
		d.prompt = b
		return b, nil
	case NodeSystemLog:
		b := bridge.NewSystemLog(dyn.ID, conn, d.hub, d.metrics)
		d.syslog = b
		return b, nil
	case NodeMicInput:
		b := bridge.NewMicInput(dyn.ID, conn, d.hub, d.metrics, d.micSource, d.micOpts...)
		d.mic = b
		return b, nil
	}
	return nil, fmt.Errorf("dataflow: unknown dynamic node type %q", dyn.Type)
}

// Stop signals the bridges to exit, stops the launcher with the grace
// duration, and joins the workers. Workers that miss the join timeout are
// detached and logged; the UI stays responsive either way.
func (d *Dispatcher) Stop(ctx context.Context, grace time.Duration) error {
	d.mu.Lock()
	if d.lifecycle != LifecycleRunning && d.lifecycle != LifecycleError {
		d.mu.Unlock()
		return nil
	}
	d.lifecycle = LifecycleStopping
	cancel := d.cancel
	group := d.group
	d.mu.Unlock()
	d.hub.Status.SetPhase(state.PhaseStopping)

	ctx, endSpan := observe.TraceDataflowStop(ctx, grace)

	if cancel != nil {
		cancel()
	}

	stopErr := d.ctrl.Stop(ctx, grace)
	if stopErr != nil {
		slog.Error("launcher stop failed", "err", stopErr)
	}

	if group != nil {
		joined := make(chan error, 1)
		go func() { joined <- group.Wait() }()
		select {
		case err := <-joined:
			if err != nil && !errors.Is(err, context.Canceled) {
				slog.Warn("bridge worker error during stop", "err", err)
			}
		case <-time.After(joinTimeout):
			slog.Error("bridge workers did not exit within join timeout, detaching",
				"timeout", joinTimeout)
			d.hub.Logs.Push(state.LogEntry{
				Level:     state.LevelError,
				Node:      "dispatcher",
				Message:   "bridge workers detached after join timeout",
				Timestamp: time.Now(),
			})
		}
	}

	d.closeConns()

	d.mu.Lock()
	d.lifecycle = LifecycleStopped
	d.cancel = nil
	d.group = nil
	d.audio = nil
	d.prompt = nil
	d.mic = nil
	d.syslog = nil
	d.mu.Unlock()
	d.hub.Status.SetPhase(state.PhaseStopped)
	endSpan(stopErr)
	return stopErr
}

func (d *Dispatcher) closeConns() {
	d.mu.Lock()
	conns := d.conns
	d.conns = nil
	d.mu.Unlock()
	for _, c := range conns {
		if err := c.Close(); err != nil {
			slog.Debug("conn close error", "err", err)
		}
	}
}

// fail records a start failure: Error lifecycle, status surface, log entry.
func (d *Dispatcher) fail(message string, err error) {
	d.mu.Lock()
	d.lifecycle = LifecycleError
	d.mu.Unlock()
	full := fmt.Sprintf("%s: %v", message, err)
	d.hub.Status.SetError(full)
	d.hub.Logs.Push(state.LogEntry{
		Level:     state.LevelError,
		Node:      "dispatcher",
		Message:   full,
		Timestamp: time.Now(),
	})
	slog.Error(message, "err", err)
}
