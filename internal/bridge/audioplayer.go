package bridge

import (
	"context"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/metric"

	"github.com/mofa-org/mofa-studio/internal/observe"
	"github.com/mofa-org/mofa-studio/internal/state"
	"github.com/mofa-org/mofa-studio/internal/wire"
	"github.com/mofa-org/mofa-studio/pkg/audio"
)

// sessionSeenCap bounds the session-start dedup set. When exceeded, the
// oldest half is trimmed; 100 question ids cover far more history than the
// controller ever revisits.
const sessionSeenCap = 100

// AudioPlayerBridge consumes the audio outputs of all TTS nodes and feeds
// the shared audio FIFO. It owns the turn-coordination duties on the
// playback side: the smart-reset gate for stale audio, the exactly-once
// session_start signal, the per-chunk audio_complete ack, and forwarding
// the UI's authoritative buffer_status.
type AudioPlayerBridge struct {
	nodeID  string
	conn    wire.Conn
	hub     *state.Hub
	metrics *observe.Metrics

	bufferStatus chan float64

	// Smart-reset gate, touched only by the worker goroutine.
	filtering      bool
	resetQID       string
	droppedSamples int64

	seen *seenSet
}

var _ Bridge = (*AudioPlayerBridge)(nil)

// NewAudioPlayer creates the audio player bridge for the given dynamic
// node.
func NewAudioPlayer(nodeID string, conn wire.Conn, hub *state.Hub, metrics *observe.Metrics) *AudioPlayerBridge {
	return &AudioPlayerBridge{
		nodeID:       nodeID,
		conn:         conn,
		hub:          hub,
		metrics:      metrics,
		bufferStatus: make(chan float64, 10),
		seen:         newSeenSet(sessionSeenCap),
	}
}

// NodeID returns the dynamic node id.
func (b *AudioPlayerBridge) NodeID() string { return b.nodeID }

// SendBufferStatus queues the UI's authoritative fill percentage for
// forwarding into the dataflow. Never blocks; when the queue is full the
// stale reading is replaced by the next tick anyway.
func (b *AudioPlayerBridge) SendBufferStatus(fillPercentage float64) {
	select {
	case b.bufferStatus <- fillPercentage:
	default:
	}
}

// Run processes inbound events until ctx is cancelled or the connection
// drops.
func (b *AudioPlayerBridge) Run(ctx context.Context) error {
	disconnect := connectHub(b.hub, b.nodeID)
	defer disconnect()

	slog.Info("audio player bridge connected", "node", b.nodeID)
	events := pumpEvents(ctx, b.conn, b.nodeID)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fill := <-b.bufferStatus:
			if err := b.conn.Send(ctx, wire.Output{ID: "buffer_status", Data: fill}); err != nil {
				slog.Warn("buffer status send failed", "node", b.nodeID, "err", err)
			}
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			b.handleEvent(ctx, ev)
		}
	}
}

// handleEvent dispatches one inbound event. Decode failures are logged and
// dropped; the worker keeps running.
func (b *AudioPlayerBridge) handleEvent(ctx context.Context, ev wire.Event) {
	b.metrics.RecordBridgeEvent(ctx, b.nodeID, ev.Input)

	switch {
	case ev.Input == "reset":
		b.handleReset(ctx, ev)
	case strings.HasPrefix(ev.Input, "audio"):
		b.handleAudio(ctx, ev)
	default:
		slog.Debug("unhandled input", "node", b.nodeID, "input", ev.Input)
	}
}

// handleReset reacts to the controller's human-interrupt signal: silence
// output synchronously via the hub's force-mute fast path, then filter
// incoming chunks until the active question's audio arrives.
func (b *AudioPlayerBridge) handleReset(ctx context.Context, ev wire.Event) {
	qid := ev.Metadata.QuestionID()
	b.hub.Audio.SignalClearFor(qid)
	b.filtering = true
	b.resetQID = qid
	slog.Info("reset received, filtering stale audio", "node", b.nodeID, "question_id", qid)
	sendLog(ctx, b.conn, b.nodeID, "INFO", "reset: muted output, keeping question_id="+qid)
}

func (b *AudioPlayerBridge) handleAudio(ctx context.Context, ev wire.Event) {
	samples, err := ev.FloatData()
	if err != nil {
		slog.Warn("audio decode failed", "node", b.nodeID, "input", ev.Input, "err", err)
		return
	}
	if len(samples) == 0 {
		return
	}

	qid := ev.Metadata.QuestionID()
	participant := participantFromInput(ev.Input)

	if b.filtering {
		switch {
		case qid == "":
			// No question id: a new utterance from a node that does not tag
			// audio. Stop filtering and accept.
			b.filtering = false
			b.hub.Audio.ClearForceMute()
		case qid == b.resetQID:
			b.filtering = false
			b.hub.Audio.ClearForceMute()
			slog.Info("active question audio arrived, filter cleared",
				"node", b.nodeID, "question_id", qid)
		default:
			b.droppedSamples += int64(len(samples))
			b.metrics.RecordDrop(ctx, "stale_question", len(samples))
			slog.Warn("dropped stale audio chunk",
				"node", b.nodeID,
				"question_id", qid,
				"keep_question_id", b.resetQID,
				"dropped_samples_total", b.droppedSamples,
			)
			// Still ack the chunk: audio_complete goes out exactly once per
			// inbound chunk so the text segmenter never stalls.
			b.sendAudioComplete(ctx, participant, ev.Metadata)
			return
		}
	}

	// session_start exactly once per question id, only on the chunk that
	// opens the session. The controller deadlocks without it and races on
	// duplicates.
	status := ev.Metadata.SessionStatus()
	if qid != "" && status == "started" && !b.seen.Contains(qid) {
		if err := b.sendSessionStart(ctx, participant, qid, ev.Metadata); err != nil {
			slog.Warn("session_start send failed", "node", b.nodeID, "err", err)
		} else {
			b.seen.Add(qid)
			b.metrics.SessionStarts.Add(ctx, 1)
			slog.Info("session started", "participant", participant, "question_id", qid)
		}
	}

	chunk := audio.Chunk{
		Samples:       samples,
		SampleRate:    ev.Metadata.SampleRate(32000),
		Channels:      1,
		Participant:   participant,
		QuestionID:    qid,
		SessionStatus: status,
	}
	if dropped := b.hub.Audio.Push(chunk); dropped > 0 {
		b.metrics.RecordDrop(ctx, "queue_overflow", len(samples))
		slog.Warn("audio queue full, dropped oldest chunk", "node", b.nodeID)
	}
	b.metrics.AudioChunks.Add(ctx, 1,
		metric.WithAttributes(observe.Attr("participant", participant)))

	b.sendAudioComplete(ctx, participant, ev.Metadata)
}

// sendAudioComplete acks one inbound chunk so the text segmenter can
// release the next segment.
func (b *AudioPlayerBridge) sendAudioComplete(ctx context.Context, participant string, md wire.Metadata) {
	out := wire.Output{
		ID:   "audio_complete",
		Data: []string{"received"},
		Metadata: wire.Metadata{
			"participant": wire.String(participant),
		},
	}
	if qid := md.QuestionID(); qid != "" {
		out.Metadata["question_id"] = wire.String(qid)
	}
	if status := md.SessionStatus(); status != "" {
		out.Metadata["session_status"] = wire.String(status)
	}
	if err := b.conn.Send(ctx, out); err != nil {
		slog.Warn("audio_complete send failed", "node", b.nodeID, "err", err)
	}
}

// sendSessionStart notifies the turn controller that playback of a
// question's audio has begun.
func (b *AudioPlayerBridge) sendSessionStart(ctx context.Context, participant, qid string, md wire.Metadata) error {
	out := wire.Output{
		ID:   "session_start",
		Data: []string{"audio_started"},
		Metadata: wire.Metadata{
			"question_id": wire.String(qid),
			"participant": wire.String(participant),
			"source":      wire.String(b.nodeID),
		},
	}
	if status := md.SessionStatus(); status != "" {
		out.Metadata["session_status"] = wire.String(status)
	}
	return b.conn.Send(ctx, out)
}

// seenSet is an insertion-ordered bounded set for session-start dedup.
type seenSet struct {
	order []string
	set   map[string]struct{}
	cap   int
}

func newSeenSet(cap int) *seenSet {
	return &seenSet{set: make(map[string]struct{}), cap: cap}
}

func (s *seenSet) Contains(id string) bool {
	_, ok := s.set[id]
	return ok
}

func (s *seenSet) Add(id string) {
	if s.Contains(id) {
		return
	}
	s.set[id] = struct{}{}
	s.order = append(s.order, id)
	if len(s.order) > s.cap {
		// Trim the oldest half so trims stay rare.
		drop := s.order[:s.cap/2]
		for _, old := range drop {
			delete(s.set, old)
		}
		s.order = append([]string(nil), s.order[s.cap/2:]...)
	}
}
