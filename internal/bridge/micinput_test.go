package bridge

import (
	"context"
	"sync"
	"testing"

	"github.com/mofa-org/mofa-studio/internal/state"
	"github.com/mofa-org/mofa-studio/internal/wire/mock"
	"github.com/mofa-org/mofa-studio/pkg/audio/capture"
	"github.com/mofa-org/mofa-studio/pkg/audio/vad"
)

// fakeSource is an in-memory capture.Source. Tests queue sample batches and
// assert on the start/stop sequence.
type fakeSource struct {
	mu      sync.Mutex
	batches [][]float32
	starts  []capture.Mode
	stops   int
	running bool
	hasAEC  bool
	overlap bool // set when Start is called while already running
}

func (f *fakeSource) Start(mode capture.Mode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if mode == capture.ModeAEC && !f.hasAEC {
		return capture.ErrAECUnavailable
	}
	if f.running {
		f.overlap = true
	}
	f.starts = append(f.starts, mode)
	f.running = true
	return nil
}

func (f *fakeSource) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		f.stops++
	}
	f.running = false
}

func (f *fakeSource) Read() ([]float32, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running || len(f.batches) == 0 {
		return nil, false
	}
	batch := f.batches[0]
	f.batches = f.batches[1:]
	return batch, true
}

func (f *fakeSource) AECAvailable() bool { return f.hasAEC }

func (f *fakeSource) queue(batch []float32) {
	f.mu.Lock()
	f.batches = append(f.batches, batch)
	f.mu.Unlock()
}

func voiced(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = 0.5
	}
	return out
}

func newMicHarness(t *testing.T, src *fakeSource) (*MicInputBridge, *mock.Conn, *state.Hub) {
	t.Helper()
	conn := mock.NewConn()
	hub := state.NewHub()
	b := NewMicInput("mofa-mic-input", conn, hub, testMetrics(t), src,
		WithSegmenterConfig(vad.Config{SampleRate: 16000}))
	return b, conn, hub
}

func TestMicSpeechFlowEmitsSegment(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	b, conn, hub := newMicHarness(t, src)
	ctx := context.Background()
	b.startCapture(ctx)

	// 500 ms of voice, then 100 ms of silence to cut the utterance.
	src.queue(voiced(8000))
	b.poll(ctx)
	src.queue(make([]float32, 1600))
	b.poll(ctx)

	if got := conn.OutputsByID("speech_started"); len(got) != 1 {
		t.Fatalf("want one speech_started, got %d", len(got))
	}
	if got := conn.OutputsByID("speech_ended"); len(got) != 1 {
		t.Fatalf("want one speech_ended, got %d", len(got))
	}

	segments := conn.OutputsByID("audio_segment")
	if len(segments) != 1 {
		t.Fatalf("want one audio_segment, got %d", len(segments))
	}
	if qid := segments[0].Metadata.QuestionID(); qid == "" {
		t.Fatal("audio_segment must carry the minted question id")
	}
	if rate := segments[0].Metadata.SampleRate(0); rate != 16000 {
		t.Fatalf("want sample_rate metadata 16000, got %d", rate)
	}

	// Continuous audio stream went out alongside segmentation.
	if got := conn.OutputsByID("audio"); len(got) != 2 {
		t.Fatalf("want 2 continuous audio batches, got %d", len(got))
	}

	// Speaking flag toggled through the hub.
	if hub.Mic.IsSpeaking() {
		t.Fatal("speaking flag must be false after the cut")
	}
	if hub.Mic.Level() == 0 {
		t.Fatal("mic level must have been updated")
	}
}

func TestMicIsSpeakingSignals(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	b, conn, _ := newMicHarness(t, src)
	ctx := context.Background()
	b.startCapture(ctx)

	src.queue(voiced(8000))
	b.poll(ctx)
	src.queue(make([]float32, 1600))
	b.poll(ctx)

	flags := conn.OutputsByID("is_speaking")
	if len(flags) != 2 {
		t.Fatalf("want is_speaking 1 then 0, got %d signals", len(flags))
	}
	if flags[0].Data != 1 || flags[1].Data != 0 {
		t.Fatalf("unexpected is_speaking sequence %v", flags)
	}
}

func TestMicAECSwitchStopsBeforeStarting(t *testing.T) {
	t.Parallel()

	src := &fakeSource{hasAEC: true}
	b, _, hub := newMicHarness(t, src)
	ctx := context.Background()
	b.startCapture(ctx)

	b.handleControl(ctx, micControl{kind: micSetAEC, enabled: true})

	if src.overlap {
		t.Fatal("capture modes must never be open simultaneously")
	}
	if len(src.starts) != 2 || src.starts[0] != capture.ModePlain || src.starts[1] != capture.ModeAEC {
		t.Fatalf("want plain then aec starts, got %v", src.starts)
	}
	if src.stops != 1 {
		t.Fatalf("want one stop during the switch, got %d", src.stops)
	}
	if !hub.Mic.IsAECEnabled() {
		t.Fatal("hub must reflect aec mode")
	}
}

func TestMicAECUnavailableFallsBack(t *testing.T) {
	t.Parallel()

	src := &fakeSource{hasAEC: false}
	b, _, hub := newMicHarness(t, src)
	ctx := context.Background()
	b.startCapture(ctx)

	b.handleControl(ctx, micControl{kind: micSetAEC, enabled: true})

	// No switch happened; plain capture keeps running.
	if len(src.starts) != 1 || src.starts[0] != capture.ModePlain {
		t.Fatalf("want single plain start, got %v", src.starts)
	}
	if hub.Mic.IsAECEnabled() {
		t.Fatal("aec must stay disabled when unavailable")
	}
}

func TestMicStopRecordingClearsState(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	b, _, hub := newMicHarness(t, src)
	ctx := context.Background()
	b.startCapture(ctx)

	b.handleControl(ctx, micControl{kind: micStopRecording})

	if hub.Mic.IsRecording() {
		t.Fatal("hub must reflect stopped recording")
	}
	if hub.Mic.Level() != 0 {
		t.Fatal("mic level must reset on stop")
	}

	// Polling while stopped produces nothing.
	src.queue(voiced(1600))
	b.poll(ctx)
	if b.seg.IsSpeaking() {
		t.Fatal("stopped bridge must not process audio")
	}
}
