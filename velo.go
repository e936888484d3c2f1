// Package velo is an event-driven application core for HTTP and WebSocket
// servers. It speaks a scope + event-stream contract on the wire side and a
// named-route, declared-parameter contract on the handler side; everything
// between, from body decoding to session persistence, is the core's job.
package velo

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/velo-web/velo/config"
	"github.com/velo-web/velo/httpx"
	"github.com/velo-web/velo/internal/dispatch"
	"github.com/velo-web/velo/internal/resolve"
	"github.com/velo-web/velo/middleware"
	"github.com/velo-web/velo/session"
	"github.com/velo-web/velo/transport"
)

// Handler serves an HTTP route. args carries the bound values in the order
// the route's parameters were declared.
type Handler = dispatch.Handler

// WSHandler serves a WebSocket route. The channel starts unaccepted; the
// handler decides whether to complete the handshake.
type WSHandler = dispatch.WSHandler

// App is the builder. Configure it, register routes, then hand Serve to the
// transport layer. Registration methods panic on invalid input so wiring
// mistakes surface at startup, not per request.
type App struct {
	d *dispatch.Dispatcher
}

func New() *App {
	return &App{
		d: &dispatch.Dispatcher{
			Config:   config.Default(),
			Log:      logrus.New(),
			Sessions: session.NewMemory(),
			Routes:   make(map[string]dispatch.Route),
			WSRoutes: make(map[string]dispatch.WSRoute),
		},
	}
}

// Tune replaces the configuration. Zero-valued fields fall back to defaults.
func (a *App) Tune(cfg config.Config) *App {
	a.d.Config = config.Fill(cfg)
	return a
}

func (a *App) Logger(log *logrus.Logger) *App {
	a.d.Log = log
	return a
}

// Sessions replaces the backing session store. The default is the in-memory
// store, which does not survive restarts.
func (a *App) Sessions(backend session.Backend) *App {
	a.d.Sessions = backend
	return a
}

// Use appends HTTP middlewares. Before-hooks run in registration order,
// after-hooks too.
func (a *App) Use(mws ...middleware.HTTP) *App {
	a.d.Middlewares = append(a.d.Middlewares, mws...)
	return a
}

func (a *App) UseWS(mws ...middleware.WebSocket) *App {
	a.d.WSMiddlewares = append(a.d.WSMiddlewares, mws...)
	return a
}

// Route registers an HTTP route under a name, matched against the first path
// segment. The name "index" additionally serves the root path and acts as the
// fallback for unmatched names.
func (a *App) Route(name string, handler Handler, params ...httpx.Param) *App {
	a.checkName(name)
	a.checkParams(name, params)

	if _, dup := a.d.Routes[name]; dup {
		panic(fmt.Sprintf("velo: route %q registered twice", name))
	}

	a.d.Routes[name] = dispatch.Route{Name: name, Handler: handler, Params: params}
	return a
}

// RouteWS registers a WebSocket route. Unlike HTTP, unmatched names are
// rejected outright, there is no index fallback.
func (a *App) RouteWS(name string, handler WSHandler, params ...httpx.Param) *App {
	a.checkName(name)
	a.checkParams(name, params)

	if _, dup := a.d.WSRoutes[name]; dup {
		panic(fmt.Sprintf("velo: websocket route %q registered twice", name))
	}

	a.d.WSRoutes[name] = dispatch.WSRoute{Name: name, Handler: handler, Params: params}
	return a
}

func (a *App) checkName(name string) {
	switch {
	case len(name) == 0:
		panic("velo: empty route name")
	case strings.Contains(name, "/"):
		panic(fmt.Sprintf("velo: route name %q must be a single path segment", name))
	case strings.HasPrefix(name, "_"):
		panic(fmt.Sprintf("velo: route name %q uses the reserved underscore prefix", name))
	}
}

// OnStartup registers a hook run once when the lifespan startup event
// arrives. A failing hook reports startup failure to the server.
func (a *App) OnStartup(hook func(context.Context) error) *App {
	a.d.OnStartup = append(a.d.OnStartup, hook)
	return a
}

// OnShutdown registers a hook run when the lifespan shutdown event arrives.
func (a *App) OnShutdown(hook func(context.Context) error) *App {
	a.d.OnShutdown = append(a.d.OnShutdown, hook)
	return a
}

func (a *App) checkParams(name string, params []httpx.Param) {
	if err := resolve.Validate(params); err != nil {
		panic(fmt.Sprintf("velo: route %q: %s", name, err))
	}
}

// Serve drives one connection's lifecycle. The transport layer calls it once
// per scope; concurrent calls are safe.
func (a *App) Serve(ctx context.Context, scope transport.Scope, recv transport.Receiver, send transport.Sender) error {
	return a.d.Dispatch(ctx, scope, recv, send)
}
