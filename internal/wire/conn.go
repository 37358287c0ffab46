package wire

import (
	"context"
	"fmt"
	"net/url"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
)

// Conn is a dynamic-node connection to the dataflow coordinator. Bridges
// receive inbound events with Recv and publish outputs with Send.
//
// Implementations must allow one concurrent Recv and one concurrent Send;
// bridges run both from a single worker goroutine plus a pump goroutine.
type Conn interface {
	// Recv blocks until the next inbound event or ctx cancellation.
	Recv(ctx context.Context) (Event, error)
	// Send publishes an output into the dataflow.
	Send(ctx context.Context, out Output) error
	// Close tears the connection down. Safe to call more than once.
	Close() error
}

// Dialer connects dynamic nodes to a dataflow coordinator over WebSocket.
type Dialer struct {
	// BaseURL is the coordinator endpoint, e.g. "ws://127.0.0.1:6012".
	BaseURL string
}

// Dial registers nodeID as a dynamic node of the given dataflow and returns
// the connection. Each dial carries a fresh instance id so the coordinator
// can distinguish reconnects from duplicates.
func (d Dialer) Dial(ctx context.Context, dataflowID, nodeID string) (Conn, error) {
	u, err := url.Parse(d.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("wire: parse coordinator url: %w", err)
	}
	u = u.JoinPath("dataflows", dataflowID, "nodes", nodeID)
	q := u.Query()
	q.Set("instance", uuid.NewString())
	u.RawQuery = q.Encode()

	ws, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("wire: dial node %q: %w", nodeID, err)
	}
	// Audio chunks run to a second of samples; lift the default read limit.
	ws.SetReadLimit(16 << 20)
	return &wsConn{ws: ws}, nil
}

// wsConn adapts a websocket connection to [Conn] using JSON envelopes.
type wsConn struct {
	ws *websocket.Conn
}

func (c *wsConn) Recv(ctx context.Context) (Event, error) {
	var ev Event
	if err := wsjson.Read(ctx, c.ws, &ev); err != nil {
		return Event{}, err
	}
	return ev, nil
}

func (c *wsConn) Send(ctx context.Context, out Output) error {
	return wsjson.Write(ctx, c.ws, out)
}

func (c *wsConn) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "bridge shutdown")
}
