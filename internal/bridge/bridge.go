// Package bridge implements the per-node workers that translate between the
// external dataflow's wire events and the shared state hub. Each bridge
// connects as one dynamic node (mofa-audio-player, mofa-mic-input,
// mofa-prompt-input, mofa-system-log) and runs one worker goroutine.
package bridge

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/mofa-org/mofa-studio/internal/state"
	"github.com/mofa-org/mofa-studio/internal/wire"
)

// Bridge is one dynamic-node worker. Run blocks until ctx is cancelled or
// the connection fails; workers never panic on external input.
type Bridge interface {
	// NodeID returns the dynamic node id (e.g. "mofa-audio-player").
	NodeID() string
	// Run processes inbound events until ctx cancellation or a fatal
	// connection error.
	Run(ctx context.Context) error
}

// pumpEvents reads inbound events into a channel so bridge loops can select
// over events, commands, and cancellation together. The channel closes when
// Recv fails (connection closed or ctx cancelled).
func pumpEvents(ctx context.Context, conn wire.Conn, nodeID string) <-chan wire.Event {
	events := make(chan wire.Event, 64)
	go func() {
		defer close(events)
		for {
			ev, err := conn.Recv(ctx)
			if err != nil {
				if ctx.Err() == nil {
					slog.Warn("bridge receive failed", "node", nodeID, "err", err)
				}
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events
}

// participantFromInput derives the participant id from an input name
// ("audio_student1" -> "student1"). The input id is more reliable than
// metadata because the dataflow wiring fixes it per edge.
func participantFromInput(input string) string {
	if p, ok := strings.CutPrefix(input, "audio_"); ok && p != "" {
		return p
	}
	if input == "audio" {
		return "unknown"
	}
	return input
}

// sendLog publishes a log output into the dataflow so the system log node
// can aggregate bridge activity alongside the other nodes.
func sendLog(ctx context.Context, conn wire.Conn, nodeID, level, message string) {
	err := conn.Send(ctx, wire.Output{
		ID:   "log",
		Data: message,
		Metadata: wire.Metadata{
			"level": wire.String(level),
			"node":  wire.String(nodeID),
		},
	})
	if err != nil {
		slog.Debug("bridge log send failed", "node", nodeID, "err", err)
	}
}

// sendStatus publishes the bridge's status output ("recording", "stopped",
// "connected", ...).
func sendStatus(ctx context.Context, conn wire.Conn, status string) error {
	return conn.Send(ctx, wire.Output{ID: "status", Data: status})
}

// timestampHHMMSS formats a chat display timestamp.
func timestampHHMMSS(t time.Time) string {
	return t.Format("15:04:05")
}

// connectHub marks the bridge as connected in the status sub-state and
// returns the matching disconnect func for deferring.
func connectHub(hub *state.Hub, nodeID string) func() {
	hub.Status.AddBridge(nodeID)
	return func() { hub.Status.RemoveBridge(nodeID) }
}
