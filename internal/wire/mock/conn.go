// Package mock provides a channel-backed wire.Conn for bridge tests.
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/mofa-org/mofa-studio/internal/wire"
)

// ErrClosed is returned by Recv after Close.
var ErrClosed = errors.New("mock conn closed")

// Conn is an in-memory wire.Conn. Tests feed inbound events through
// [Conn.Deliver] and inspect outputs via [Conn.Outputs].
type Conn struct {
	events chan wire.Event

	mu     sync.Mutex
	sent   []wire.Output
	closed bool
	done   chan struct{}
}

// NewConn creates a mock connection with a buffered inbound queue.
func NewConn() *Conn {
	return &Conn{
		events: make(chan wire.Event, 256),
		done:   make(chan struct{}),
	}
}

// Deliver queues an inbound event for Recv.
func (c *Conn) Deliver(ev wire.Event) {
	c.events <- ev
}

// Recv returns the next delivered event, blocking until delivery, context
// cancellation, or Close.
func (c *Conn) Recv(ctx context.Context) (wire.Event, error) {
	select {
	case ev := <-c.events:
		return ev, nil
	case <-ctx.Done():
		return wire.Event{}, ctx.Err()
	case <-c.done:
		return wire.Event{}, ErrClosed
	}
}

// Send records the output for later inspection.
func (c *Conn) Send(_ context.Context, out wire.Output) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.sent = append(c.sent, out)
	return nil
}

// Outputs returns a snapshot of everything sent so far.
func (c *Conn) Outputs() []wire.Output {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]wire.Output, len(c.sent))
	copy(out, c.sent)
	return out
}

// OutputsByID returns the sent outputs with the given id.
func (c *Conn) OutputsByID(id string) []wire.Output {
	var out []wire.Output
	for _, o := range c.Outputs() {
		if o.ID == id {
			out = append(out, o)
		}
	}
	return out
}

// Close unblocks pending Recv calls and rejects further sends.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	return nil
}
