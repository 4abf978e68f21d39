package router

import "errors"

var (
	// ErrRouteNotFound is returned on a matcher miss. Handlers may also
	// return it to decline a route, e.g. to gate by HTTP method.
	ErrRouteNotFound = errors.New("url not found")

	// ErrBadRequest is returned when a JSON request body cannot be parsed
	// into an object.
	ErrBadRequest = errors.New("bad request")
)
