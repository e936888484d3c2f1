package httpx

import (
	"context"
	"errors"
	"strconv"

	"github.com/velo-web/velo/kv"
	"github.com/velo-web/velo/status"
)

// Response is the normalized handler result. Body may be a string, []byte, a
// Streamer, [][]byte or []string chunk sequences, or any other value, which is
// serialized to JSON with a Content-Type: application/json header at send time.
type Response struct {
	Status  status.Code
	Body    any
	Headers []kv.Pair
}

// OK returns a 200 response with the given body.
func OK(body any) Response {
	return Respond(status.OK, body)
}

// Respond returns a response with an explicit status code.
func Respond(code status.Code, body any) Response {
	return Response{Status: code, Body: body}
}

// Redirect returns a 302 response pointing at location.
func Redirect(location string) Response {
	return Respond(status.Found, "").Header("Location", location)
}

// Error builds the response for a failed request: an HTTPError (possibly
// wrapped) keeps its code, everything else maps to an internal server error.
// The body is the short plain-text convention ("404 Not Found" and alike);
// internals are never leaked to the client.
func Error(err error) Response {
	code := status.InternalServerError

	var httpErr status.HTTPError
	if errors.As(err, &httpErr) {
		code = httpErr.Code
	}

	return Respond(code, StatusText(code))
}

// StatusText renders the plain-text error body for a code.
func StatusText(code status.Code) string {
	return strconv.Itoa(int(code)) + " " + status.Text(code)
}

// Header returns a copy of the response with the header pair appended.
func (r Response) Header(key, value string) Response {
	headers := make([]kv.Pair, len(r.Headers), len(r.Headers)+1)
	copy(headers, r.Headers)
	r.Headers = append(headers, kv.Pair{Key: key, Value: value})

	return r
}

// Streamer produces a response body chunk by chunk. Next returns io.EOF after
// the last chunk. Close releases whatever the stream holds and is guaranteed
// to run exactly once on every exit path, including peer disconnects.
type Streamer interface {
	Next(ctx context.Context) ([]byte, error)
	Close() error
}
