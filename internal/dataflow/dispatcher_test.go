package dataflow

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/mofa-org/mofa-studio/internal/observe"
	"github.com/mofa-org/mofa-studio/internal/state"
	"github.com/mofa-org/mofa-studio/internal/wire"
	"github.com/mofa-org/mofa-studio/internal/wire/mock"
	"github.com/mofa-org/mofa-studio/pkg/audio/capture"
)

// fakeLauncher is an in-memory launcher.
type fakeLauncher struct {
	mu       sync.Mutex
	startErr error
	running  bool
	stops    int
	grace    time.Duration
}

func (f *fakeLauncher) Start(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return "", f.startErr
	}
	f.running = true
	return "11111111-1111-4111-8111-111111111111", nil
}

func (f *fakeLauncher) Stop(_ context.Context, grace time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
	f.stops++
	f.grace = grace
	return nil
}

func (f *fakeLauncher) IsRunning(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running, nil
}

// idleSource is a mic capture source that produces no audio.
type idleSource struct{ mu sync.Mutex; running bool }

func (s *idleSource) Start(capture.Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
	return nil
}
func (s *idleSource) Stop()                    { s.mu.Lock(); s.running = false; s.mu.Unlock() }
func (s *idleSource) Read() ([]float32, bool)  { return nil, false }
func (s *idleSource) AECAvailable() bool       { return false }

func dispatcherMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	return m
}

type testConns struct {
	mu    sync.Mutex
	conns map[string]*mock.Conn
}

func (tc *testConns) connect(_ context.Context, _, nodeID string) (wire.Conn, error) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	c := mock.NewConn()
	tc.conns[nodeID] = c
	return c, nil
}

func (tc *testConns) get(nodeID string) *mock.Conn {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.conns[nodeID]
}

func newDispatcherHarness(t *testing.T, ctrl launcher) (*Dispatcher, *testConns, *state.Hub) {
	t.Helper()
	spec, err := ParseSpecBytes([]byte(sampleSpec), "voice-chat.yml")
	if err != nil {
		t.Fatalf("parse spec: %v", err)
	}
	conns := &testConns{conns: map[string]*mock.Conn{}}
	hub := state.NewHub()
	d := newDispatcher(spec, ctrl, hub, dispatcherMetrics(t), conns.connect, &idleSource{})
	return d, conns, hub
}

func TestDispatcherStartSpawnsBridges(t *testing.T) {
	t.Parallel()

	ctrl := &fakeLauncher{}
	d, conns, hub := newDispatcherHarness(t, ctrl)
	defer d.Stop(context.Background(), 0)

	id, err := d.Start(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if id == "" {
		t.Fatal("want assigned dataflow id")
	}
	if got := d.Lifecycle(); got != LifecycleRunning {
		t.Fatalf("want running lifecycle, got %v", got)
	}
	if !hub.Status.Read().Running {
		t.Fatal("hub status must report running")
	}
	if d.AudioPlayer() == nil || d.SystemLog() == nil || d.MicInput() == nil {
		t.Fatal("bridges for all declared dynamic nodes must exist")
	}
	if conns.get("mofa-audio-player") == nil {
		t.Fatal("audio player node must be dialed")
	}

	// Events flow end to end: an audio chunk lands in the shared FIFO.
	raw, _ := json.Marshal([]float32{0.1, 0.2, 0.3})
	conns.get("mofa-audio-player").Deliver(wire.Event{
		Input: "audio_tutor",
		Data:  raw,
		Metadata: wire.Metadata{
			"question_id":    wire.Integer(1),
			"session_status": wire.String("started"),
		},
	})
	deadline := time.After(2 * time.Second)
	for hub.Audio.Len() == 0 {
		select {
		case <-deadline:
			t.Fatal("audio chunk never reached shared state")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestDispatcherStartFailureSurfacesError(t *testing.T) {
	t.Parallel()

	ctrl := &fakeLauncher{startErr: errors.New("spawn failed")}
	d, _, hub := newDispatcherHarness(t, ctrl)

	if _, err := d.Start(context.Background()); err == nil {
		t.Fatal("want start error")
	}
	if got := d.Lifecycle(); got != LifecycleError {
		t.Fatalf("want error lifecycle, got %v", got)
	}
	st := hub.Status.Read()
	if st.Phase != state.PhaseError || st.LastError == "" {
		t.Fatalf("error must surface via status, got %+v", st)
	}
	if hub.Logs.Len() == 0 {
		t.Fatal("error must be logged")
	}
}

func TestDispatcherStopJoinsWorkers(t *testing.T) {
	t.Parallel()

	ctrl := &fakeLauncher{}
	d, _, hub := newDispatcherHarness(t, ctrl)

	if _, err := d.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := d.Stop(context.Background(), 3*time.Second); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if got := d.Lifecycle(); got != LifecycleStopped {
		t.Fatalf("want stopped lifecycle, got %v", got)
	}
	if ctrl.stops != 1 || ctrl.grace != 3*time.Second {
		t.Fatalf("launcher stop not invoked with grace: %+v", ctrl)
	}
	if hub.Status.Read().Running {
		t.Fatal("hub must report stopped")
	}
	if d.AudioPlayer() != nil {
		t.Fatal("bridges must be released on stop")
	}

	// Stop is idempotent.
	if err := d.Stop(context.Background(), 0); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestDispatcherDoubleStartRejected(t *testing.T) {
	t.Parallel()

	ctrl := &fakeLauncher{}
	d, _, _ := newDispatcherHarness(t, ctrl)
	defer d.Stop(context.Background(), 0)

	if _, err := d.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := d.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("want ErrAlreadyRunning, got %v", err)
	}
}
