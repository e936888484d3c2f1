package httpx

import "github.com/velo-web/velo/httpx/form"

// Param describes one declared handler parameter. The set of params for a
// route is captured once at registration into a descriptor table; no
// reflection happens per request.
type Param struct {
	Name       string
	HasDefault bool
	Default    any
	// Variadic makes the parameter swallow all remaining path segments. At
	// most one per route, and it must be last.
	Variadic bool
}

// Required declares a parameter with no default: leaving it unbound fails the
// request as a client error.
func Required(name string) Param {
	return Param{Name: name}
}

// Optional declares a parameter falling back to def when no source carries it.
func Optional(name string, def any) Param {
	return Param{Name: name, HasDefault: true, Default: def}
}

// Variadic declares a trailing parameter collecting all remaining path
// segments into a []string.
func Variadic(name string) Param {
	return Param{Name: name, Variadic: true}
}

// Args is the bound argument list, ordered as the route's params were
// declared. Accessors convert from the loosely typed sources; a mismatched
// type yields the zero value rather than a panic.
type Args []any

// String returns the i-th argument as a string.
func (a Args) String(i int) string {
	s, _ := a[i].(string)
	return s
}

// Strings returns the i-th argument as a []string (variadic parameters).
func (a Args) Strings(i int) []string {
	s, _ := a[i].([]string)
	return s
}

// File returns the i-th argument as an uploaded file.
func (a Args) File(i int) *form.File {
	f, _ := a[i].(*form.File)
	return f
}

// Any returns the i-th argument untyped (session-sourced values).
func (a Args) Any(i int) any {
	return a[i]
}

// Len returns the number of bound arguments.
func (a Args) Len() int {
	return len(a)
}
