package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	json "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
	"github.com/velo-web/velo/httpx"
	"github.com/velo-web/velo/httpx/cookie"
	"github.com/velo-web/velo/internal/formdata"
	"github.com/velo-web/velo/internal/resolve"
	"github.com/velo-web/velo/internal/urlenc"
	"github.com/velo-web/velo/status"
	"github.com/velo-web/velo/transport"
)

func (d *Dispatcher) serveHTTP(ctx context.Context, scope transport.Scope, recv transport.Receiver, send transport.Sender) error {
	// The dispatch owns its context: cancellation on return releases the file
	// feeder goroutines of uploads the handler never drained.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	req := httpx.NewRequest(scope, d.Config.Headers.Prealloc)

	// Query string, cookies, session. A malformed cookie header is tolerated
	// with whatever prefix parsed.
	if len(scope.RawQuery) > 0 {
		_, err := urlenc.ParseInto(scope.RawQuery, nil, func(k, v string) {
			req.Query.Add(k, v)
		})
		if err != nil {
			return d.sendError(ctx, recv, send, httpx.Respond(status.BadRequest, httpx.StatusText(status.BadRequest)))
		}
	}

	_ = cookie.Parse(req.Cookies, req.Headers.Value("cookie"))
	req.SessionID = req.Cookies.Value(d.Config.Session.CookieName)

	loaded, err := d.Sessions.Load(ctx, req.SessionID)
	if err != nil {
		d.Log.WithError(err).WithField("path", scope.Path).Error("session load failed")
		return d.sendError(ctx, recv, send, httpx.Respond(status.InternalServerError, httpx.StatusText(status.InternalServerError)))
	}
	if loaded != nil {
		req.Session = loaded
	}

	// Body, for methods that imply one.
	if hasBody(req.Method) {
		body, disconnected, err := readBody(ctx, recv, d.Config.Body.BufferPrealloc)
		if err != nil {
			return err
		}
		if disconnected {
			// The peer went away before headers were sent: nothing to answer.
			return nil
		}

		if failure := d.parseBody(ctx, req, body); failure != nil {
			return d.sendError(ctx, recv, send, *failure)
		}
	}

	// Before-hooks: the first non-nil result ends the dispatch, no handler
	// runs and the remaining before-hooks are skipped.
	for _, mw := range d.Middlewares {
		if result := mw.Before(ctx, req); result != nil {
			return d.send(ctx, recv, send, *result)
		}
	}

	t, routable := resolveTarget(scope.Path)
	if !routable {
		return d.sendError(ctx, recv, send, notFound())
	}

	route, found := d.Routes[t.name]
	if !found {
		route, found = d.Routes[indexRoute]
		if !found {
			return d.sendError(ctx, recv, send, notFound())
		}

		// The index fallback sees the entire path.
		t = target{name: indexRoute, params: append([]string{t.name}, t.params...), viaIndex: true}
	}

	req.PathParams = t.params

	args, err := resolve.Bind(req, route.Params)
	if err != nil {
		var missing resolve.MissingParameterError
		if errors.As(err, &missing) {
			return d.sendError(ctx, recv, send, clientError("Missing required parameter '"+missing.Name+"'"))
		}

		return d.sendError(ctx, recv, send, httpx.Error(err))
	}

	// Index matching an arbitrary path without consuming any of it is a miss,
	// not a hit.
	if t.viaIndex && len(t.params) == len(req.PathParams) {
		return d.sendError(ctx, recv, send, notFound())
	}

	resp, err := d.invoke(ctx, route, req, args)
	if err != nil {
		d.Log.WithFields(logrus.Fields{
			"method": req.Method,
			"path":   req.Path,
			"route":  route.Name,
		}).WithError(err).Error("handler failed")

		resp = httpx.Error(err)
	} else {
		resp = d.persistSession(ctx, req, resp)
	}

	// After-hooks run in order and are cumulative: each sees the previous
	// hook's output. They also run over handler-error responses.
	for _, mw := range d.Middlewares {
		if result := mw.After(ctx, req, resp); result != nil {
			resp = *result
		}
	}

	return d.send(ctx, recv, send, resp)
}

// invoke calls the handler, converting panics into errors so nothing escapes
// to the transport layer.
func (d *Dispatcher) invoke(ctx context.Context, route Route, req *httpx.Request, args httpx.Args) (resp httpx.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	return route.Handler(ctx, req, args)
}

// persistSession saves the session if the handler left any data in it. An id
// is minted only when the request didn't carry one, and only then is the
// session cookie set.
func (d *Dispatcher) persistSession(ctx context.Context, req *httpx.Request, resp httpx.Response) httpx.Response {
	if len(req.Session) == 0 {
		return resp
	}

	minted := false
	if len(req.SessionID) == 0 {
		req.SessionID = uuid.NewString()
		minted = true
	}

	if err := d.Sessions.Save(ctx, req.SessionID, req.Session, d.Config.Session.TTL); err != nil {
		d.Log.WithError(err).Error("session save failed")
		return resp
	}

	if minted {
		c := cookie.Session(d.Config.Session.CookieName, req.SessionID)
		resp = resp.Header("Set-Cookie", c.Render())
	}

	return resp
}

// parseBody fills body params and files from the buffered body, branching on
// the content type. A non-nil return is the client-error response to send.
func (d *Dispatcher) parseBody(ctx context.Context, req *httpx.Request, body []byte) *httpx.Response {
	contentType := req.Headers.Value("content-type")

	switch {
	case strings.Contains(contentType, "application/json"):
		var parsed any
		if err := json.Unmarshal(body, &parsed); err != nil {
			failure := clientError("Bad JSON")
			return &failure
		}

		req.JSON = parsed
		if object, ok := parsed.(map[string]any); ok {
			for key, value := range object {
				req.Body.Add(key, stringify(value))
			}
		}

	case strings.Contains(contentType, "multipart/form-data"):
		boundary, ok := formdata.Boundary(contentType)
		if !ok {
			failure := clientError("Missing boundary")
			return &failure
		}

		decoder := formdata.NewDecoder(boundary, req.Body, req.Files, d.Config.Body.FileQueueDepth)
		for chunk := range feedChunks(body, d.Config.Body.FeedChunkSize) {
			if err := decoder.Feed(chunk); err != nil {
				failure := clientError("")
				return &failure
			}
		}

		if err := decoder.Close(); err != nil {
			failure := clientError("")
			return &failure
		}

		decoder.StartStreams(ctx)

	default:
		_, err := urlenc.ParseInto(body, nil, func(k, v string) {
			req.Body.Add(k, v)
		})
		if err != nil {
			failure := clientError("")
			return &failure
		}
	}

	return nil
}

func hasBody(method string) bool {
	switch method {
	case "POST", "PUT", "PATCH":
		return true
	default:
		return false
	}
}

// readBody drains http.request events into one buffer. disconnected reports a
// peer disconnect mid-read, which aborts the request without a response.
func readBody(ctx context.Context, recv transport.Receiver, prealloc int) (body []byte, disconnected bool, err error) {
	body = make([]byte, 0, prealloc)

	for {
		ev, err := recv(ctx)
		if err != nil {
			return nil, false, err
		}

		switch ev.Type {
		case transport.EventRequest:
			body = append(body, ev.Body...)
			if !ev.More {
				return body, false, nil
			}
		case transport.EventDisconnect:
			return nil, true, nil
		}
	}
}

// stringify renders a decoded JSON value the way it participates in parameter
// binding: strings as-is, everything else re-serialized.
func stringify(value any) string {
	if s, ok := value.(string); ok {
		return s
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprint(value)
	}

	return string(raw)
}

// feedChunks slices the buffered body for incremental decoder feeding.
func feedChunks(body []byte, size int) func(yield func([]byte) bool) {
	return func(yield func([]byte) bool) {
		for len(body) > 0 {
			n := min(size, len(body))
			if !yield(body[:n]) {
				return
			}

			body = body[n:]
		}
	}
}

func clientError(detail string) httpx.Response {
	text := httpx.StatusText(status.BadRequest)
	if len(detail) > 0 {
		text += ": " + detail
	}

	return httpx.Respond(status.BadRequest, text)
}

func notFound() httpx.Response {
	return httpx.Respond(status.NotFound, httpx.StatusText(status.NotFound))
}

// sendError short-circuits the dispatch with an error response, bypassing the
// handler and the after-hooks.
func (d *Dispatcher) sendError(ctx context.Context, recv transport.Receiver, send transport.Sender, resp httpx.Response) error {
	return d.send(ctx, recv, send, resp)
}
