package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mofa-org/mofa-studio/internal/observe"
	"github.com/mofa-org/mofa-studio/internal/state"
	"github.com/mofa-org/mofa-studio/internal/wire"
	"github.com/mofa-org/mofa-studio/pkg/audio"
	"github.com/mofa-org/mofa-studio/pkg/audio/capture"
	"github.com/mofa-org/mofa-studio/pkg/audio/vad"
)

// micPollInterval is the capture drain cadence (one VAD frame).
const micPollInterval = 10 * time.Millisecond

// micControlKind enumerates the UI commands accepted by the mic bridge.
type micControlKind int

const (
	micStartRecording micControlKind = iota
	micStopRecording
	micSetAEC
)

type micControl struct {
	kind    micControlKind
	enabled bool
}

// MicOption configures a [MicInputBridge].
type MicOption func(*MicInputBridge)

// WithSegmenterConfig overrides the VAD tuning.
func WithSegmenterConfig(cfg vad.Config) MicOption {
	return func(b *MicInputBridge) { b.vadConfig = cfg }
}

// WithPreferAEC selects echo-cancelled capture when the host supports it.
func WithPreferAEC(prefer bool) MicOption {
	return func(b *MicInputBridge) { b.preferAEC = prefer }
}

// MicInputBridge captures microphone audio, runs voice-activity
// segmentation, and emits the utterance stream into the dataflow: a
// continuous audio feed plus audio_segment, speech_started, speech_ended,
// is_speaking, and question_ended signals, each tagged with the question id
// minted for the utterance.
type MicInputBridge struct {
	nodeID  string
	conn    wire.Conn
	hub     *state.Hub
	metrics *observe.Metrics

	source    capture.Source
	seg       *vad.Segmenter
	vadConfig vad.Config
	preferAEC bool

	controls chan micControl

	// Worker-goroutine state.
	recording bool
	usingAEC  bool
	carry     []float32
	level     float32
	peak      float32

	frameSamples int
	now          func() time.Time
}

var _ Bridge = (*MicInputBridge)(nil)

// NewMicInput creates the mic input bridge reading from source.
func NewMicInput(nodeID string, conn wire.Conn, hub *state.Hub, metrics *observe.Metrics, source capture.Source, opts ...MicOption) *MicInputBridge {
	b := &MicInputBridge{
		nodeID:    nodeID,
		conn:      conn,
		hub:       hub,
		metrics:   metrics,
		source:    source,
		vadConfig: vad.Config{SampleRate: capture.DefaultSampleRate},
		controls:  make(chan micControl, 10),
		now:       time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	if b.vadConfig.SampleRate <= 0 {
		b.vadConfig.SampleRate = capture.DefaultSampleRate
	}
	b.seg = vad.NewSegmenter(b.vadConfig)
	b.frameSamples = b.vadConfig.SampleRate / 100 // 10 ms frames
	return b
}

// NodeID returns the dynamic node id.
func (b *MicInputBridge) NodeID() string { return b.nodeID }

// StartRecording asks the worker to open capture.
func (b *MicInputBridge) StartRecording() { b.control(micControl{kind: micStartRecording}) }

// StopRecording asks the worker to close capture.
func (b *MicInputBridge) StopRecording() { b.control(micControl{kind: micStopRecording}) }

// SetAECEnabled switches between echo-cancelled and plain capture. The
// switch stops the active stream before opening the other mode — the two
// are never open together.
func (b *MicInputBridge) SetAECEnabled(enabled bool) {
	b.control(micControl{kind: micSetAEC, enabled: enabled})
}

func (b *MicInputBridge) control(c micControl) {
	select {
	case b.controls <- c:
	default:
		slog.Warn("mic control queue full", "node", b.nodeID)
	}
}

// Run captures and segments until ctx is cancelled. Recording auto-starts
// on connect.
func (b *MicInputBridge) Run(ctx context.Context) error {
	disconnect := connectHub(b.hub, b.nodeID)
	defer disconnect()

	aecAvailable := b.source.AECAvailable()
	b.usingAEC = b.preferAEC && aecAvailable
	if b.preferAEC && !aecAvailable {
		slog.Info("aec capture unavailable on this host, using plain capture")
	}

	sendLog(ctx, b.conn, b.nodeID, "INFO", fmt.Sprintf(
		"CONFIG: speech_end_frames=%d question_end_silence=%s aec_available=%v",
		orDefault(b.vadConfig.SpeechEndFrames, vad.DefaultSpeechEndFrames),
		orDefaultDuration(b.vadConfig.QuestionEndSilence, vad.DefaultQuestionEndSilence),
		aecAvailable,
	))

	// Recording starts as soon as the bridge connects.
	b.startCapture(ctx)
	defer b.stopCapture(ctx)

	sendLog(ctx, b.conn, b.nodeID, "INFO",
		"node ready - outputs: audio, is_speaking, speech_started, speech_ended, audio_segment, question_ended")

	ticker := time.NewTicker(micPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c := <-b.controls:
			b.handleControl(ctx, c)
		case <-ticker.C:
			b.poll(ctx)
		}
	}
}

func (b *MicInputBridge) handleControl(ctx context.Context, c micControl) {
	switch c.kind {
	case micStartRecording:
		if !b.recording {
			b.startCapture(ctx)
		}
	case micStopRecording:
		if b.recording {
			b.stopCapture(ctx)
		}
	case micSetAEC:
		wantAEC := c.enabled && b.source.AECAvailable()
		if c.enabled && !wantAEC {
			slog.Info("aec requested but unavailable", "node", b.nodeID)
		}
		if wantAEC == b.usingAEC {
			b.hub.Mic.SetAECEnabled(b.usingAEC)
			return
		}
		// Stop-then-start: never hold both capture streams open.
		wasRecording := b.recording
		if wasRecording {
			b.stopCapture(ctx)
		}
		b.usingAEC = wantAEC
		if wasRecording {
			b.startCapture(ctx)
		}
		mode := "plain mic"
		if b.usingAEC {
			mode = "aec"
		}
		sendLog(ctx, b.conn, b.nodeID, "INFO", "switched capture to "+mode)
	}
}

func (b *MicInputBridge) startCapture(ctx context.Context) {
	mode := capture.ModePlain
	if b.usingAEC {
		mode = capture.ModeAEC
	}
	if err := b.source.Start(mode); err != nil {
		slog.Error("mic capture start failed", "node", b.nodeID, "mode", mode.String(), "err", err)
		b.hub.Status.SetError("mic capture start failed: " + err.Error())
		sendLog(ctx, b.conn, b.nodeID, "ERROR", "capture start failed: "+err.Error())
		return
	}
	b.recording = true
	b.hub.Mic.SetRecording(true)
	b.hub.Mic.SetAECEnabled(b.usingAEC)
	if err := sendStatus(ctx, b.conn, "recording"); err != nil {
		slog.Debug("status send failed", "node", b.nodeID, "err", err)
	}
	sendLog(ctx, b.conn, b.nodeID, "INFO", "mic recording started (aec="+fmt.Sprint(b.usingAEC)+")")
}

func (b *MicInputBridge) stopCapture(ctx context.Context) {
	b.source.Stop()
	b.recording = false
	b.carry = nil
	b.hub.Mic.SetRecording(false)
	b.hub.Mic.SetLevel(0)
	if err := sendStatus(ctx, b.conn, "stopped"); err != nil {
		slog.Debug("status send failed", "node", b.nodeID, "err", err)
	}
	sendLog(ctx, b.conn, b.nodeID, "INFO", "mic recording stopped")
}

// poll drains the capture source, updates mic telemetry, and feeds the VAD
// one 10 ms frame at a time. Partial frames carry over to the next poll.
func (b *MicInputBridge) poll(ctx context.Context) {
	if !b.recording {
		return
	}

	samples, ok := b.source.Read()
	if !ok {
		// The question-end timer keeps running through full silence.
		b.emitResult(ctx, b.seg.Tick(), nil)
		return
	}

	b.updateLevels(samples)

	// Continuous audio stream for the ASR front end.
	err := b.conn.Send(ctx, wire.Output{
		ID:   "audio",
		Data: samples,
		Metadata: wire.Metadata{
			"sample_rate": wire.Integer(int64(b.vadConfig.SampleRate)),
		},
	})
	if err != nil {
		slog.Warn("audio send failed", "node", b.nodeID, "err", err)
	}

	b.carry = append(b.carry, samples...)
	for len(b.carry) >= b.frameSamples {
		frame := b.carry[:b.frameSamples]
		b.carry = b.carry[b.frameSamples:]
		voice := b.seg.Voice(frame)
		b.emitResult(ctx, b.seg.Process(frame, voice), frame)
	}
}

// updateLevels smooths the mic level and decays the peak, then publishes
// both to the hub for the LED meter.
func (b *MicInputBridge) updateLevels(samples []float32) {
	rms := audio.RMS(samples)
	b.level = b.level*0.7 + rms*0.3
	if peak := audio.Peak(samples); peak > b.peak {
		b.peak = peak
	} else {
		b.peak *= 0.995
	}
	b.hub.Mic.SetLevel(b.level)
	b.hub.Mic.SetPeak(b.peak)
}

// emitResult translates one segmenter result into dataflow outputs and hub
// updates.
func (b *MicInputBridge) emitResult(ctx context.Context, r vad.Result, _ []float32) {
	qid := int64(b.seg.ActiveQuestionID())
	ts := wire.Integer(b.now().UnixMilli())

	if r.SpeechStarted {
		b.hub.Mic.SetSpeaking(true)
		b.send(ctx, wire.Output{ID: "speech_started", Data: []string{"started"},
			Metadata: wire.Metadata{"question_id": wire.Integer(qid), "timestamp": ts}})
		b.send(ctx, wire.Output{ID: "is_speaking", Data: 1})
		sendLog(ctx, b.conn, b.nodeID, "INFO",
			fmt.Sprintf("speech started (question_id=%d)", qid))
	}

	if r.Segment != nil {
		b.send(ctx, wire.Output{
			ID:   "audio_segment",
			Data: r.Segment,
			Metadata: wire.Metadata{
				"question_id": wire.Integer(qid),
				"sample_rate": wire.Integer(int64(b.vadConfig.SampleRate)),
			},
		})
		b.metrics.VADUtterances.Add(ctx, 1)
		sendLog(ctx, b.conn, b.nodeID, "INFO",
			fmt.Sprintf("audio segment sent: %d samples (question_id=%d)", len(r.Segment), qid))
	}

	if r.SpeechEnded {
		b.hub.Mic.SetSpeaking(false)
		b.send(ctx, wire.Output{ID: "speech_ended", Data: []string{"ended"},
			Metadata: wire.Metadata{"question_id": wire.Integer(qid), "timestamp": ts}})
		b.send(ctx, wire.Output{ID: "is_speaking", Data: 0})
	}

	if r.QuestionEnded {
		b.send(ctx, wire.Output{
			ID:   "question_ended",
			Data: []string{"ended"},
			Metadata: wire.Metadata{
				"question_id": wire.Integer(int64(r.EndedQuestionID)),
				"timestamp":   ts,
			},
		})
		sendLog(ctx, b.conn, b.nodeID, "INFO",
			fmt.Sprintf("question ended (question_id=%d)", r.EndedQuestionID))
	}
}

func (b *MicInputBridge) send(ctx context.Context, out wire.Output) {
	if err := b.conn.Send(ctx, out); err != nil {
		slog.Warn("mic output send failed", "node", b.nodeID, "output", out.ID, "err", err)
	}
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func orDefaultDuration(v, def time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return def
}
