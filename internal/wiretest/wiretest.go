// Package wiretest provides a scripted in-process transport for exercising
// the dispatcher and channels without a socket.
package wiretest

import (
	"context"
	"sync"

	"github.com/velo-web/velo/transport"
)

// Conn is a fake connection: inbound events are scripted (and can be pushed
// while a dispatch is in flight), outbound events are recorded.
type Conn struct {
	inbound chan transport.Event

	mu       sync.Mutex
	outbound []transport.Event
}

func New(events ...transport.Event) *Conn {
	c := &Conn{inbound: make(chan transport.Event, len(events)+16)}
	for _, ev := range events {
		c.inbound <- ev
	}

	return c
}

// Push queues another inbound event, e.g. a disconnect mid-stream.
func (c *Conn) Push(ev transport.Event) {
	c.inbound <- ev
}

// Receiver hands out scripted events in order and blocks once they run out,
// the way a quiet socket would.
func (c *Conn) Receiver() transport.Receiver {
	return func(ctx context.Context) (transport.Event, error) {
		select {
		case ev := <-c.inbound:
			return ev, nil
		case <-ctx.Done():
			return transport.Event{}, ctx.Err()
		}
	}
}

// Sender records outbound events.
func (c *Conn) Sender() transport.Sender {
	return func(_ context.Context, ev transport.Event) error {
		c.mu.Lock()
		defer c.mu.Unlock()

		c.outbound = append(c.outbound, ev)
		return nil
	}
}

// Sent returns a snapshot of the recorded outbound events.
func (c *Conn) Sent() []transport.Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]transport.Event, len(c.outbound))
	copy(out, c.outbound)

	return out
}
