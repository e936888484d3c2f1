// Package websocket exposes the duplex message channel handlers receive for
// WebSocket routes. It is built on the same event-stream primitives as HTTP
// body streaming; raw frame parsing belongs to the transport layer.
package websocket

import (
	"context"
	"errors"
	"fmt"

	"github.com/velo-web/velo/kv"
	"github.com/velo-web/velo/transport"
)

// ErrClosed reports normal peer-initiated termination, so handlers can tell
// it apart from protocol violations.
var ErrClosed = errors.New("websocket: connection closed")

// Close codes emitted by the channel and the dispatcher.
const (
	CloseNormal          = 1000
	ClosePolicyViolation = 1008
	CloseInternalError   = 1011
)

type channelState uint8

const (
	stateUnaccepted channelState = iota
	stateOpen
	stateClosed
)

// Channel is the per-connection duplex wrapper. It is not safe for concurrent
// use by multiple goroutines; a handler owns its channel.
type Channel struct {
	recv  transport.Receiver
	send  transport.Sender
	state channelState
}

func NewChannel(recv transport.Receiver, send transport.Sender) *Channel {
	return &Channel{recv: recv, send: send}
}

// Accept completes the opening handshake: it waits for the connect event and
// answers with an accept carrying the optional subprotocol and extra headers
// (the session cookie travels here). Calling Accept on an already accepted
// channel is a usage error.
func (c *Channel) Accept(ctx context.Context, subprotocol string, headers ...kv.Pair) error {
	if c.state != stateUnaccepted {
		return errors.New("websocket: connection already accepted")
	}

	ev, err := c.recv(ctx)
	if err != nil {
		return err
	}

	if ev.Type != transport.EventWSConnect {
		return fmt.Errorf("websocket: expected %s, got %s", transport.EventWSConnect, ev.Type)
	}

	err = c.send(ctx, transport.Event{
		Type:    transport.EventWSAccept,
		Text:    subprotocol,
		Headers: headers,
	})
	if err != nil {
		return err
	}

	c.state = stateOpen
	return nil
}

// ReceiveText blocks until the next inbound message and returns its payload as
// text. A peer disconnect surfaces as ErrClosed.
func (c *Channel) ReceiveText(ctx context.Context) (string, error) {
	ev, err := c.receive(ctx)
	if err != nil {
		return "", err
	}

	if len(ev.Text) > 0 || ev.Body == nil {
		return ev.Text, nil
	}

	return string(ev.Body), nil
}

// ReceiveBytes blocks until the next inbound message and returns its payload
// as bytes. A peer disconnect surfaces as ErrClosed.
func (c *Channel) ReceiveBytes(ctx context.Context) ([]byte, error) {
	ev, err := c.receive(ctx)
	if err != nil {
		return nil, err
	}

	if ev.Body == nil && len(ev.Text) > 0 {
		return []byte(ev.Text), nil
	}

	return ev.Body, nil
}

func (c *Channel) receive(ctx context.Context) (transport.Event, error) {
	if c.state != stateOpen {
		return transport.Event{}, errors.New("websocket: connection not accepted")
	}

	ev, err := c.recv(ctx)
	if err != nil {
		return transport.Event{}, err
	}

	switch ev.Type {
	case transport.EventWSReceive:
		return ev, nil
	case transport.EventWSDisconnect:
		c.state = stateClosed
		return transport.Event{}, ErrClosed
	default:
		return transport.Event{}, fmt.Errorf("websocket: unexpected event %s", ev.Type)
	}
}

// SendText sends a text message. Valid only while the channel is open.
func (c *Channel) SendText(ctx context.Context, data string) error {
	if c.state != stateOpen {
		return errors.New("websocket: connection not accepted")
	}

	return c.send(ctx, transport.Event{Type: transport.EventWSSend, Text: data})
}

// SendBytes sends a binary message. Valid only while the channel is open.
func (c *Channel) SendBytes(ctx context.Context, data []byte) error {
	if c.state != stateOpen {
		return errors.New("websocket: connection not accepted")
	}

	return c.send(ctx, transport.Event{Type: transport.EventWSSend, Body: data})
}

// Close sends a close frame and transitions to Closed. Idempotent: a second
// call is a no-op. Closing an unaccepted channel answers the still-pending
// connect event, so the peer is never left without a handshake reply.
func (c *Channel) Close(ctx context.Context, code int, reason string) error {
	switch c.state {
	case stateClosed:
		return nil
	case stateUnaccepted:
		ev, err := c.recv(ctx)
		if err != nil {
			return err
		}

		c.state = stateClosed
		if ev.Type == transport.EventWSDisconnect || ev.Type == transport.EventDisconnect {
			return nil
		}
	default:
		c.state = stateClosed
	}

	return c.send(ctx, transport.Event{
		Type:   transport.EventWSClose,
		Code:   code,
		Reason: reason,
	})
}

// Open reports whether the channel is accepted and not yet closed.
func (c *Channel) Open() bool {
	return c.state == stateOpen
}
