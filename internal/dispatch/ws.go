package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/velo-web/velo/httpx"
	"github.com/velo-web/velo/httpx/cookie"
	"github.com/velo-web/velo/internal/resolve"
	"github.com/velo-web/velo/internal/urlenc"
	"github.com/velo-web/velo/transport"
	"github.com/velo-web/velo/websocket"
)

func (d *Dispatcher) serveWebSocket(ctx context.Context, scope transport.Scope, recv transport.Receiver, send transport.Sender) error {
	req := httpx.NewRequest(scope, d.Config.Headers.Prealloc)

	if len(scope.RawQuery) > 0 {
		_, err := urlenc.ParseInto(scope.RawQuery, nil, func(k, v string) {
			req.Query.Add(k, v)
		})
		if err != nil {
			return d.rejectWS(ctx, recv, send, websocket.ClosePolicyViolation, "Malformed query string")
		}
	}

	_ = cookie.Parse(req.Cookies, req.Headers.Value("cookie"))
	req.SessionID = req.Cookies.Value(d.Config.Session.CookieName)

	loaded, err := d.Sessions.Load(ctx, req.SessionID)
	if err != nil {
		d.Log.WithError(err).WithField("path", scope.Path).Error("session load failed")
		return d.rejectWS(ctx, recv, send, websocket.CloseInternalError, "")
	}
	if loaded != nil {
		req.Session = loaded
	}

	// The id is minted before the handler runs so it can travel on the
	// handshake response via Accept's extra headers.
	if len(req.SessionID) == 0 {
		req.SessionID = uuid.NewString()
	}

	for _, mw := range d.WSMiddlewares {
		if verdict := mw.Before(ctx, req); verdict != nil {
			code := verdict.Code
			if code == 0 {
				code = websocket.ClosePolicyViolation
			}

			return d.rejectWS(ctx, recv, send, code, verdict.Reason)
		}
	}

	t, routable := resolveTarget(scope.Path)
	if !routable {
		return d.rejectWS(ctx, recv, send, websocket.ClosePolicyViolation, "")
	}

	route, found := d.WSRoutes[t.name]
	if !found {
		return d.rejectWS(ctx, recv, send, websocket.ClosePolicyViolation, "")
	}

	req.PathParams = t.params

	args, err := resolve.Bind(req, route.Params)
	if err != nil {
		var missing resolve.MissingParameterError
		if errors.As(err, &missing) {
			return d.rejectWS(ctx, recv, send, websocket.ClosePolicyViolation,
				"Missing required parameter '"+missing.Name+"'")
		}

		return d.rejectWS(ctx, recv, send, websocket.CloseInternalError, "")
	}

	conn := websocket.NewChannel(recv, send)
	err = d.invokeWS(ctx, route, conn, req, args)

	if err != nil && !errors.Is(err, websocket.ErrClosed) {
		d.Log.WithFields(logrus.Fields{
			"path":  req.Path,
			"route": route.Name,
		}).WithError(err).Error("websocket handler failed")

		// Immediate termination: no session save, no after hooks, and no
		// error detail crossing the wire. The close covers channels that
		// never accepted, too.
		return conn.Close(ctx, websocket.CloseInternalError, "")
	}

	if len(req.Session) > 0 {
		if saveErr := d.Sessions.Save(ctx, req.SessionID, req.Session, d.Config.Session.TTL); saveErr != nil {
			d.Log.WithError(saveErr).Error("session save failed")
		}
	}

	for _, mw := range d.WSMiddlewares {
		mw.After(ctx, req)
	}

	// Graceful close; make sure a close frame went out.
	return conn.Close(ctx, websocket.CloseNormal, "")
}

func (d *Dispatcher) invokeWS(ctx context.Context, route WSRoute, conn *websocket.Channel, req *httpx.Request, args httpx.Args) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	return route.Handler(ctx, conn, req, args)
}

// rejectWS refuses the handshake: the connect event is consumed and answered
// with a close frame instead of an accept.
func (d *Dispatcher) rejectWS(ctx context.Context, recv transport.Receiver, send transport.Sender, code int, reason string) error {
	ev, err := recv(ctx)
	if err != nil {
		return err
	}

	if ev.Type == transport.EventDisconnect || ev.Type == transport.EventWSDisconnect {
		return nil
	}

	return send(ctx, transport.Event{
		Type:   transport.EventWSClose,
		Code:   code,
		Reason: reason,
	})
}
