// Package middleware defines the before/after hook chain around dispatch.
package middleware

import (
	"context"

	"github.com/velo-web/velo/httpx"
)

// HTTP hooks into the HTTP request lifecycle. Before runs ahead of routing:
// the first hook returning a non-nil response short-circuits the dispatch,
// no handler runs and the returned response is final. After hooks run
// unconditionally after the handler (or the short-circuiting error), in
// registration order; each sees the previous hook's output and may return a
// replacement response, nil meaning "no change".
type HTTP interface {
	Before(ctx context.Context, req *httpx.Request) *httpx.Response
	After(ctx context.Context, req *httpx.Request, resp httpx.Response) *httpx.Response
}

// Close rejects a WebSocket connection with a close frame.
type Close struct {
	Code   int
	Reason string
}

// WebSocket hooks into the WebSocket lifecycle. A non-nil Close from Before
// rejects the connection without invoking the handler; After runs once the
// handler has finished.
type WebSocket interface {
	Before(ctx context.Context, req *httpx.Request) *Close
	After(ctx context.Context, req *httpx.Request)
}

// BeforeFunc adapts a function to an HTTP middleware with only a before hook.
type BeforeFunc func(ctx context.Context, req *httpx.Request) *httpx.Response

func (f BeforeFunc) Before(ctx context.Context, req *httpx.Request) *httpx.Response {
	return f(ctx, req)
}

func (BeforeFunc) After(context.Context, *httpx.Request, httpx.Response) *httpx.Response {
	return nil
}

// AfterFunc adapts a function to an HTTP middleware with only an after hook.
type AfterFunc func(ctx context.Context, req *httpx.Request, resp httpx.Response) *httpx.Response

func (AfterFunc) Before(context.Context, *httpx.Request) *httpx.Response {
	return nil
}

func (f AfterFunc) After(ctx context.Context, req *httpx.Request, resp httpx.Response) *httpx.Response {
	return f(ctx, req, resp)
}
