// Package router implements the declarative route table: URL patterns
// with typed capture segments, first-match dispatch and type-directed
// injection of per-request values into plain Go handler functions.
package router

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
)

// ManualResult is the sentinel type a handler returns when it has written
// the response body itself; the engine then leaves the body untouched.
type ManualResult struct{}

// Manual is the value handlers return for manual responses.
var Manual = ManualResult{}

var urlTokens = []struct {
	token string
	re    string
}{
	{"<int>", `([0-9]+)`},
	{"<str>", `([A-Za-z0-9_\.\-]+)`},
	{"<path>", `([A-Za-z0-9_/\.\-]+)`},
}

// compilePattern translates the typed capture tokens and anchors the
// result so a route matches whole URLs only.
func compilePattern(pattern string) *regexp.Regexp {
	re := pattern
	for _, t := range urlTokens {
		re = strings.ReplaceAll(re, t.token, t.re)
	}
	return regexp.MustCompile("^" + re + "$")
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// Route binds a URL pattern to a handler through a placeholder list. The
// handler is an ordinary function; its parameter list must match the
// placeholder list in length and type, which NewRoute verifies up front.
type Route struct {
	pattern      string
	re           *regexp.Regexp
	fn           reflect.Value
	placeholders []Placeholder

	hasValue bool // handler returns a result value
	hasError bool // handler returns a trailing error
}

// NewRoute compiles pattern and validates handler against the placeholder
// list. It panics on any mismatch: misdeclared routes are programming
// errors caught at construction, not at request time.
//
// The handler may return nothing, a single value, a single error, or
// (value, error). A returned value is serialized as JSON unless it is
// Manual, in which case the response body is left as the handler set it.
func NewRoute(pattern string, handler any, placeholders ...Placeholder) *Route {
	fn := reflect.ValueOf(handler)
	t := fn.Type()
	if t.Kind() != reflect.Func {
		panic(fmt.Sprintf("router: handler for %q is %T, not a function", pattern, handler))
	}
	if t.IsVariadic() {
		panic(fmt.Sprintf("router: handler for %q must not be variadic", pattern))
	}
	if t.NumIn() != len(placeholders) {
		panic(fmt.Sprintf("router: handler for %q takes %d parameters, route declares %d placeholders",
			pattern, t.NumIn(), len(placeholders)))
	}

	re := compilePattern(pattern)
	for i, p := range placeholders {
		if err := p.check(t.In(i), re.NumSubexp()); err != nil {
			panic(fmt.Sprintf("router: %q parameter %d: %v", pattern, i+1, err))
		}
	}

	r := &Route{
		pattern:      pattern,
		re:           re,
		fn:           fn,
		placeholders: placeholders,
	}
	switch t.NumOut() {
	case 0:
	case 1:
		if t.Out(0) == errorType {
			r.hasError = true
		} else {
			r.hasValue = true
		}
	case 2:
		if t.Out(1) != errorType {
			panic(fmt.Sprintf("router: handler for %q second return must be error", pattern))
		}
		r.hasValue = true
		r.hasError = true
	default:
		panic(fmt.Sprintf("router: handler for %q returns %d values, want at most 2", pattern, t.NumOut()))
	}
	return r
}

// Pattern returns the route's declared URL pattern.
func (r *Route) Pattern() string { return r.pattern }

// match tests url and fills captures on success.
func (r *Route) match(url string) ([]string, bool) {
	m := r.re.FindStringSubmatch(url)
	if m == nil {
		return nil, false
	}
	return m, true
}

// invoke resolves every placeholder in declaration order and calls the
// handler.
func (r *Route) invoke(ctx *Context) (any, error) {
	args := make([]reflect.Value, len(r.placeholders))
	for i, p := range r.placeholders {
		v, err := p.resolve(ctx)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}

	out := r.fn.Call(args)
	var result any = Manual
	if r.hasValue {
		result = out[0].Interface()
	}
	if r.hasError {
		if errVal := out[len(out)-1]; !errVal.IsNil() {
			return nil, errVal.Interface().(error)
		}
	}
	return result, nil
}

// Router is an ordered route table. Matching is linear in declaration
// order and the first match wins.
type Router struct {
	routes []*Route
}

// New builds a router from routes in declaration order.
func New(routes ...*Route) *Router {
	return &Router{routes: routes}
}

// Add appends a route.
func (r *Router) Add(route *Route) {
	r.routes = append(r.routes, route)
}

// Dispatch matches url against the table and invokes the first matching
// route with ctx. A miss returns ErrRouteNotFound.
func (r *Router) Dispatch(ctx *Context, url string) (any, error) {
	for _, route := range r.routes {
		if captures, ok := route.match(url); ok {
			ctx.Captures = captures
			return route.invoke(ctx)
		}
	}
	return nil, ErrRouteNotFound
}
