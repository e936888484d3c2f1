// Package httpx holds the request/response value types the dispatcher and
// user handlers exchange. It deliberately does not import net/http: the core
// speaks the transport event contract, not the standard server's.
package httpx

import (
	"net/netip"
	"strings"

	"github.com/velo-web/velo/httpx/form"
	"github.com/velo-web/velo/kv"
	"github.com/velo-web/velo/transport"
)

// Request is the mutable per-request aggregate built from a transport Scope.
// Exactly one Request is live per in-flight request; it is handed to the
// handler explicitly and must not be shared across concurrent requests.
type Request struct {
	Method string
	Path   string
	// PathParams are the URL segments left after routing. The parameter binder
	// consumes them left to right, so they are not reusable after one binding
	// pass.
	PathParams []string
	// Query, Body and Headers keep wire order and duplicates. Header keys are
	// lower-cased on ingestion; lookups return the first value on duplicates.
	Query   *kv.Storage
	Body    *kv.Storage
	Headers *kv.Storage
	Cookies *kv.Storage
	Files   map[string]*form.File
	// JSON is the decoded JSON body as-is, nil for non-JSON requests. Body
	// only carries the stringified top-level object keys; nested data lives
	// here.
	JSON any
	// Session is the loaded session data. Writing the first key is what makes
	// the dispatcher persist the session and mint an id.
	Session map[string]any
	// SessionID is the id the session persists under: the cookie-carried one,
	// or empty until the dispatcher mints one at save time. WebSocket
	// dispatches mint it upfront so handlers can hand it to Accept.
	SessionID string
	Client    netip.AddrPort
	Server    netip.AddrPort
}

// NewRequest builds a Request from a Scope, normalizing header keys.
func NewRequest(scope transport.Scope, headersPrealloc int) *Request {
	headers := kv.NewPrealloc(headersPrealloc)
	for _, pair := range scope.Headers {
		headers.Add(strings.ToLower(pair.Key), pair.Value)
	}

	return &Request{
		Method:  scope.Method,
		Path:    scope.Path,
		Query:   kv.New(),
		Body:    kv.New(),
		Headers: headers,
		Cookies: kv.New(),
		Files:   make(map[string]*form.File),
		Session: make(map[string]any),
		Client:  scope.Client,
		Server:  scope.Server,
	}
}
