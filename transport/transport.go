// Package transport defines the contract between a wire-level server and the
// application core. The server parses bytes off the socket and hands the core a
// normalized Scope plus two event streams; the core never sees raw HTTP framing.
package transport

import (
	"context"
	"net/netip"

	"github.com/velo-web/velo/kv"
)

// Kind discriminates the protocol a Scope describes.
type Kind uint8

const (
	KindHTTP Kind = iota + 1
	KindWebSocket
	KindLifespan
)

func (k Kind) String() string {
	switch k {
	case KindHTTP:
		return "http"
	case KindWebSocket:
		return "websocket"
	case KindLifespan:
		return "lifespan"
	default:
		return "unknown"
	}
}

// Scope is the immutable description of one incoming request: created once per
// connection event by the transport layer, read-only to the core.
type Scope struct {
	Kind     Kind
	Method   string
	Path     string
	RawQuery []byte
	// Headers preserves wire order and duplicates. Keys are not normalized here;
	// the core lower-cases them on ingestion.
	Headers []kv.Pair
	Client  netip.AddrPort
	Server  netip.AddrPort
}

// EventType enumerates the inbound and outbound event vocabulary.
type EventType string

const (
	// Inbound HTTP events.
	EventRequest    EventType = "http.request"
	EventDisconnect EventType = "http.disconnect"

	// Outbound HTTP events.
	EventResponseStart EventType = "http.response.start"
	EventResponseBody  EventType = "http.response.body"

	// WebSocket events.
	EventWSConnect    EventType = "websocket.connect"
	EventWSAccept     EventType = "websocket.accept"
	EventWSReceive    EventType = "websocket.receive"
	EventWSSend       EventType = "websocket.send"
	EventWSDisconnect EventType = "websocket.disconnect"
	EventWSClose      EventType = "websocket.close"

	// Lifespan events.
	EventStartup          EventType = "lifespan.startup"
	EventStartupComplete  EventType = "lifespan.startup.complete"
	EventStartupFailed    EventType = "lifespan.startup.failed"
	EventShutdown         EventType = "lifespan.shutdown"
	EventShutdownComplete EventType = "lifespan.shutdown.complete"
	EventShutdownFailed   EventType = "lifespan.shutdown.failed"
)

// Event is one message on either stream. Which fields are meaningful depends on
// Type, mirroring the wire protocol's message shapes.
type Event struct {
	Type EventType
	// Body carries request/response body bytes and binary websocket payloads.
	Body []byte
	// Text carries textual websocket payloads and lifespan failure messages.
	Text string
	// More reports whether another body event follows.
	More bool
	// Status and Headers are meaningful on http.response.start and
	// websocket.accept events.
	Status  int
	Headers []kv.Pair
	// Code and Reason are meaningful on websocket.close events.
	Code   int
	Reason string
}

// Receiver blocks until the next inbound event arrives. It must honor context
// cancellation: a canceled context unblocks the call with ctx.Err().
type Receiver func(ctx context.Context) (Event, error)

// Sender emits one outbound event. Safe for use from a single goroutine at a time.
type Sender func(ctx context.Context, ev Event) error
