// Package resolve binds a route's declared parameters against the concrete
// value sources a request carries.
package resolve

import (
	"fmt"

	"github.com/velo-web/velo/httpx"
)

// MissingParameterError reports a required parameter no source could satisfy.
// It is a client error, not a server one.
type MissingParameterError struct {
	Name string
}

func (e MissingParameterError) Error() string {
	return fmt.Sprintf("missing required parameter '%s'", e.Name)
}

// Validate checks a declared parameter list at registration time: a variadic
// parameter must be the last one, and names must be non-empty.
func Validate(params []httpx.Param) error {
	for i, p := range params {
		if len(p.Name) == 0 {
			return fmt.Errorf("parameter %d has an empty name", i)
		}

		if p.Variadic && i != len(params)-1 {
			return fmt.Errorf("variadic parameter '%s' must be declared last", p.Name)
		}
	}

	return nil
}

// Bind produces the ordered argument list for the declared parameters.
// Sources are probed in a fixed precedence order, first match wins:
// a remaining path segment (a variadic parameter swallows all of them),
// the first query value, the first body value, an uploaded file, a session
// value, and finally the declared default. Binding consumes the request's
// path-param sequence, so it is a single-use pass.
func Bind(req *httpx.Request, params []httpx.Param) (httpx.Args, error) {
	args := make(httpx.Args, 0, len(params))

	for _, p := range params {
		if p.Variadic {
			rest := req.PathParams
			req.PathParams = nil
			args = append(args, []string(rest))
			continue
		}

		if len(req.PathParams) > 0 {
			args = append(args, req.PathParams[0])
			req.PathParams = req.PathParams[1:]
			continue
		}

		if value, found := req.Query.Get(p.Name); found {
			args = append(args, value)
			continue
		}

		if value, found := req.Body.Get(p.Name); found {
			args = append(args, value)
			continue
		}

		if file, found := req.Files[p.Name]; found {
			args = append(args, file)
			continue
		}

		if value, found := req.Session[p.Name]; found {
			args = append(args, value)
			continue
		}

		if p.HasDefault {
			args = append(args, p.Default)
			continue
		}

		return nil, MissingParameterError{Name: p.Name}
	}

	return args, nil
}
