package bridge

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mofa-org/mofa-studio/internal/observe"
	"github.com/mofa-org/mofa-studio/internal/state"
	"github.com/mofa-org/mofa-studio/internal/wire"
)

// SystemLogBridge aggregates the log outputs of every node in the dataflow
// into the shared log ring. A runtime minimum level filters at write time:
// entries below the threshold are dropped before they reach the ring.
type SystemLogBridge struct {
	nodeID  string
	conn    wire.Conn
	hub     *state.Hub
	metrics *observe.Metrics

	minLevel atomic.Int32
	now      func() time.Time
}

var _ Bridge = (*SystemLogBridge)(nil)

// NewSystemLog creates the system log bridge with an Info minimum level.
func NewSystemLog(nodeID string, conn wire.Conn, hub *state.Hub, metrics *observe.Metrics) *SystemLogBridge {
	b := &SystemLogBridge{
		nodeID:  nodeID,
		conn:    conn,
		hub:     hub,
		metrics: metrics,
		now:     time.Now,
	}
	b.minLevel.Store(int32(state.LevelInfo))
	return b
}

// NodeID returns the dynamic node id.
func (b *SystemLogBridge) NodeID() string { return b.nodeID }

// SetMinLevel adjusts the write-time filter at runtime.
func (b *SystemLogBridge) SetMinLevel(level state.LogLevel) {
	b.minLevel.Store(int32(level))
}

// Run processes inbound log events until ctx is cancelled or the connection
// drops.
func (b *SystemLogBridge) Run(ctx context.Context) error {
	disconnect := connectHub(b.hub, b.nodeID)
	defer disconnect()

	slog.Info("system log bridge connected", "node", b.nodeID)
	events := pumpEvents(ctx, b.conn, b.nodeID)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			b.handleEvent(ctx, ev)
		}
	}
}

// logPayload is the structured form nodes send on their log outputs.
type logPayload struct {
	Level   string `json:"level"`
	Message string `json:"message"`
	Node    string `json:"node"`
}

func (b *SystemLogBridge) handleEvent(ctx context.Context, ev wire.Event) {
	b.metrics.RecordBridgeEvent(ctx, b.nodeID, ev.Input)

	if !strings.HasSuffix(ev.Input, "_log") && ev.Input != "log" {
		slog.Debug("unhandled input", "node", b.nodeID, "input", ev.Input)
		return
	}

	entry := b.decode(ev)
	if entry.Level < state.LogLevel(b.minLevel.Load()) {
		return
	}
	b.hub.Logs.Push(entry)
}

// decode accepts both the structured JSON payload and a plain string. The
// level falls back to the "level" metadata (Info when absent) and the node
// to the input name without its "_log" suffix. Malformed payloads degrade to
// an entry carrying the raw text.
func (b *SystemLogBridge) decode(ev wire.Event) state.LogEntry {
	node := strings.TrimSuffix(ev.Input, "_log")
	level := state.LevelInfo
	if l, ok := ev.Metadata.Get("level"); ok {
		level = state.ParseLogLevel(l)
	}

	var payload logPayload
	if err := ev.JSONData(&payload); err == nil && payload.Message != "" {
		if payload.Level != "" {
			level = state.ParseLogLevel(payload.Level)
		}
		if payload.Node != "" {
			node = payload.Node
		}
		return state.LogEntry{Level: level, Node: node, Message: payload.Message, Timestamp: b.now()}
	}

	text, err := ev.TextData()
	if err != nil {
		text = string(ev.Data)
	}
	return state.LogEntry{Level: level, Node: node, Message: text, Timestamp: b.now()}
}
