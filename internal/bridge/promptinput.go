package bridge

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/mofa-org/mofa-studio/internal/observe"
	"github.com/mofa-org/mofa-studio/internal/state"
	"github.com/mofa-org/mofa-studio/internal/wire"
)

// PromptInputBridge routes LLM text streams into the chat state and carries
// the user's control commands (start, stop, reset, send_prompt) back into
// the dataflow.
type PromptInputBridge struct {
	nodeID  string
	conn    wire.Conn
	hub     *state.Hub
	metrics *observe.Metrics

	outbound chan wire.Output
	now      func() time.Time
}

var _ Bridge = (*PromptInputBridge)(nil)

// NewPromptInput creates the prompt input bridge.
func NewPromptInput(nodeID string, conn wire.Conn, hub *state.Hub, metrics *observe.Metrics) *PromptInputBridge {
	return &PromptInputBridge{
		nodeID:   nodeID,
		conn:     conn,
		hub:      hub,
		metrics:  metrics,
		outbound: make(chan wire.Output, 32),
		now:      time.Now,
	}
}

// NodeID returns the dynamic node id.
func (b *PromptInputBridge) NodeID() string { return b.nodeID }

// SendPrompt queues a user prompt for the LLM nodes. Returns false when the
// outbound queue is full.
func (b *PromptInputBridge) SendPrompt(message string) bool {
	return b.queue(wire.Output{ID: "prompt", Data: message})
}

// SendControl queues a control command ("start", "stop", "reset", ...).
func (b *PromptInputBridge) SendControl(command string) bool {
	return b.queue(wire.Output{
		ID:   "control",
		Data: map[string]string{"command": command},
	})
}

func (b *PromptInputBridge) queue(out wire.Output) bool {
	select {
	case b.outbound <- out:
		return true
	default:
		slog.Warn("prompt outbound queue full", "node", b.nodeID, "output", out.ID)
		return false
	}
}

// Run processes LLM text/status events and outbound commands until ctx is
// cancelled or the connection drops.
func (b *PromptInputBridge) Run(ctx context.Context) error {
	disconnect := connectHub(b.hub, b.nodeID)
	defer disconnect()

	slog.Info("prompt input bridge connected", "node", b.nodeID)
	events := pumpEvents(ctx, b.conn, b.nodeID)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out := <-b.outbound:
			if err := b.conn.Send(ctx, out); err != nil {
				slog.Warn("prompt send failed", "node", b.nodeID, "output", out.ID, "err", err)
			}
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			b.handleEvent(ctx, ev)
		}
	}
}

func (b *PromptInputBridge) handleEvent(ctx context.Context, ev wire.Event) {
	b.metrics.RecordBridgeEvent(ctx, b.nodeID, ev.Input)

	switch {
	case strings.HasSuffix(ev.Input, "_text"):
		b.handleText(ev)
	case strings.HasSuffix(ev.Input, "_status"):
		b.handleStatus(ev)
	default:
		slog.Debug("unhandled input", "node", b.nodeID, "input", ev.Input)
	}
}

// handleText turns one LLM text event into a chat message. Streaming is
// derived from session_status; the chat state's consolidation keeps one
// entry per (participant, question).
func (b *PromptInputBridge) handleText(ev wire.Event) {
	text, err := ev.TextData()
	if err != nil {
		slog.Warn("text decode failed", "node", b.nodeID, "input", ev.Input, "err", err)
		return
	}

	sender := ev.Metadata.Participant()
	if sender == "" {
		sender = strings.TrimSuffix(ev.Input, "_text")
	}
	status := ev.Metadata.SessionStatus()
	streaming := status == "started" || status == "streaming"

	b.hub.Chat.Push(state.ChatMessage{
		Sender:      sender,
		Content:     text,
		Timestamp:   timestampHHMMSS(b.now()),
		Streaming:   streaming,
		QuestionID:  ev.Metadata.QuestionID(),
		Participant: sender,
	})
}

// handleStatus surfaces LLM node status transitions in the log panel.
func (b *PromptInputBridge) handleStatus(ev wire.Event) {
	status, err := ev.TextData()
	if err != nil {
		return
	}
	node := strings.TrimSuffix(ev.Input, "_status")
	b.hub.Logs.Push(state.LogEntry{
		Level:     state.LevelInfo,
		Node:      node,
		Message:   "status: " + status,
		Timestamp: b.now(),
	})
}
