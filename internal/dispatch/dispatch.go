// Package dispatch owns the request lifecycle state machines: it resolves
// incoming scopes to registered routes, materializes handler arguments,
// invokes the handler and turns its result into outbound wire events.
package dispatch

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/velo-web/velo/config"
	"github.com/velo-web/velo/httpx"
	"github.com/velo-web/velo/middleware"
	"github.com/velo-web/velo/session"
	"github.com/velo-web/velo/transport"
	"github.com/velo-web/velo/websocket"
)

// Handler is an HTTP route's entry point. args is ordered as the route's
// parameters were declared at registration.
type Handler func(ctx context.Context, req *httpx.Request, args httpx.Args) (httpx.Response, error)

// WSHandler is a WebSocket route's entry point. The channel is always the
// first argument; remaining parameters resolve like HTTP ones, minus files.
type WSHandler func(ctx context.Context, conn *websocket.Channel, req *httpx.Request, args httpx.Args) error

type Route struct {
	Name    string
	Handler Handler
	Params  []httpx.Param
}

type WSRoute struct {
	Name    string
	Handler WSHandler
	Params  []httpx.Param
}

// Dispatcher drives one scope + event-stream pair through the full lifecycle.
// It is stateless per request and safe for concurrent dispatches.
type Dispatcher struct {
	Config        config.Config
	Log           *logrus.Logger
	Sessions      session.Backend
	Routes        map[string]Route
	WSRoutes      map[string]WSRoute
	Middlewares   []middleware.HTTP
	WSMiddlewares []middleware.WebSocket
	OnStartup     []func(context.Context) error
	OnShutdown    []func(context.Context) error

	started bool
}

// Dispatch routes a connection event to the protocol lifecycle matching its
// scope kind. Unknown kinds are ignored.
func (d *Dispatcher) Dispatch(ctx context.Context, scope transport.Scope, recv transport.Receiver, send transport.Sender) error {
	switch scope.Kind {
	case transport.KindHTTP:
		return d.serveHTTP(ctx, scope, recv, send)
	case transport.KindWebSocket:
		return d.serveWebSocket(ctx, scope, recv, send)
	case transport.KindLifespan:
		return d.serveLifespan(ctx, recv, send)
	default:
		return nil
	}
}

const indexRoute = "index"

// target is a resolved route lookup.
type target struct {
	name string
	// params are the path segments left for the binder.
	params []string
	// viaIndex marks the fallback where an unknown first segment lands on the
	// index route with the entire path as params.
	viaIndex bool
}

// resolveTarget splits the path into segments and picks the route name: the
// first segment, or "index" for the root path. Names with the reserved "_"
// prefix are never routable.
func resolveTarget(path string) (t target, ok bool) {
	trimmed := strings.Trim(path, "/")
	if len(trimmed) == 0 {
		return target{name: indexRoute}, true
	}

	segments := strings.Split(trimmed, "/")
	if strings.HasPrefix(segments[0], "_") {
		return target{}, false
	}

	return target{name: segments[0], params: segments[1:]}, true
}
