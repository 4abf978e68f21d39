package router

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/searchktools/webserv/core/client"
	"github.com/searchktools/webserv/core/db"
	"github.com/searchktools/webserv/core/http"
	"github.com/searchktools/webserv/core/params"
	"github.com/searchktools/webserv/core/session"
	"github.com/searchktools/webserv/core/websocket"
)

// Placeholder marks a handler parameter with the per-request value it
// binds to. The set is closed: URL captures, the session, the raw request,
// the response builder, the merged JSON parameters, a pooled database
// handle, the outbound HTTP client, the WebSocket channel and literals.
type Placeholder interface {
	// check validates the declared handler parameter type at route
	// construction. captures is the pattern's capture-group count.
	check(t reflect.Type, captures int) error
	// resolve produces the value for one request. Resolution is lazy and
	// per-token; expensive tokens cache on the Context.
	resolve(ctx *Context) (reflect.Value, error)
}

var (
	// Session binds the visitor's session, creating one (and setting the
	// cookie) on first contact.
	Session Placeholder = sessionPlaceholder{}
	// Request binds the parsed request.
	Request Placeholder = requestPlaceholder{}
	// Response binds the mutable response builder.
	Response Placeholder = responsePlaceholder{}
	// JSONParams binds the merged body/query parameter object.
	JSONParams Placeholder = jsonParamsPlaceholder{}
	// DB binds a pooled database handle, acquired lazily and released when
	// the request ends.
	DB Placeholder = dbPlaceholder{}
	// HTTPClient binds an outbound HTTP client.
	HTTPClient Placeholder = clientPlaceholder{}
	// WSChannel binds the WebSocket channel; it is only valid on the
	// WebSocket route table.
	WSChannel Placeholder = wsPlaceholder{}
)

// URL binds the n-th positional capture (1-based) of the matched pattern.
func URL(n int) Placeholder { return urlPlaceholder{n: n} }

// Literal binds a constant supplied at route construction.
func Literal(v any) Placeholder { return literalPlaceholder{value: v} }

type urlPlaceholder struct{ n int }

func (p urlPlaceholder) check(t reflect.Type, captures int) error {
	if p.n < 1 || p.n > captures {
		return fmt.Errorf("capture index %d out of range (pattern has %d)", p.n, captures)
	}
	if t.Kind() != reflect.String {
		return fmt.Errorf("URL(%d) binds string, handler wants %s", p.n, t)
	}
	return nil
}

func (p urlPlaceholder) resolve(ctx *Context) (reflect.Value, error) {
	return reflect.ValueOf(ctx.Captures[p.n]), nil
}

type sessionPlaceholder struct{}

var sessionType = reflect.TypeOf(session.Session(nil))

func (sessionPlaceholder) check(t reflect.Type, _ int) error {
	return wantType(t, sessionType, "Session")
}

// resolve parses the Cookie header for the session cookie. A single-valued
// hit is taken as-is; when several cookies share the name, each is probed
// against the store in order and the first live one wins. With no live
// session a fresh one is created and Set-Cookie added to the response. The
// result is cached so every Session token in a request yields the same
// object.
func (sessionPlaceholder) resolve(ctx *Context) (reflect.Value, error) {
	if ctx.hasSession {
		return reflect.ValueOf(ctx.session), nil
	}

	var id string
	var sess session.Session
	dict, list, err := params.Parse(ctx.Req.CookieValue(), ';')
	if err == nil {
		if v, ok := dict[session.CookieName]; ok {
			id = v
		} else if candidates, ok := list[session.CookieName]; ok {
			for _, candidate := range candidates {
				if s, live := ctx.Sessions.TryGet(candidate); live {
					id = candidate
					sess = s
					break
				}
			}
		}
	}
	if sess == nil {
		newID, s, created := ctx.Sessions.GetOrCreate(id)
		sess = s
		if created {
			ctx.Resp.SetCookie(session.CookieName, newID, "/")
		}
	}
	ctx.session = sess
	ctx.hasSession = true
	return reflect.ValueOf(sess), nil
}

type requestPlaceholder struct{}

var requestType = reflect.TypeOf((*http.Request)(nil))

func (requestPlaceholder) check(t reflect.Type, _ int) error {
	return wantType(t, requestType, "Request")
}

func (requestPlaceholder) resolve(ctx *Context) (reflect.Value, error) {
	return reflect.ValueOf(ctx.Req), nil
}

type responsePlaceholder struct{}

var responseType = reflect.TypeOf((*http.Response)(nil))

func (responsePlaceholder) check(t reflect.Type, _ int) error {
	return wantType(t, responseType, "Response")
}

func (responsePlaceholder) resolve(ctx *Context) (reflect.Value, error) {
	return reflect.ValueOf(ctx.Resp), nil
}

type jsonParamsPlaceholder struct{}

var jsonParamsType = reflect.TypeOf(map[string]any(nil))

func (jsonParamsPlaceholder) check(t reflect.Type, _ int) error {
	return wantType(t, jsonParamsType, "JSONParams")
}

// resolve builds the merged parameter object: a JSON body must parse to an
// object (anything else is a bad request), a form-encoded body goes
// through the param grammar, and query-string parameters fill in whatever
// keys the body did not claim.
func (jsonParamsPlaceholder) resolve(ctx *Context) (reflect.Value, error) {
	body := make(map[string]any)

	addAll := func(dict map[string]string, list map[string][]string) {
		for k, v := range dict {
			if _, ok := body[k]; !ok {
				body[k] = v
			}
		}
		for k, vs := range list {
			if _, ok := body[k]; !ok {
				arr := make([]any, len(vs))
				for i, v := range vs {
					arr[i] = v
				}
				body[k] = arr
			}
		}
	}

	if len(ctx.Req.Body) > 0 {
		switch mediaType(ctx.Req.Header("Content-Type")) {
		case "application/json":
			var parsed any
			if err := json.Unmarshal(ctx.Req.Body, &parsed); err != nil {
				return reflect.Value{}, ErrBadRequest
			}
			obj, ok := parsed.(map[string]any)
			if !ok {
				return reflect.Value{}, ErrBadRequest
			}
			body = obj
		case "application/x-www-form-urlencoded":
			dict, list, err := params.Parse(string(ctx.Req.Body), '&')
			if err != nil {
				return reflect.Value{}, fmt.Errorf("router: form body: %w", err)
			}
			addAll(dict, list)
		}
	}

	_, dict, list, err := params.ParseURL(ctx.Req.Target)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("router: query string: %w", err)
	}
	addAll(dict, list)
	return reflect.ValueOf(body), nil
}

// mediaType extracts the media type from a Content-Type header, dropping
// parameters and stray spaces.
func mediaType(contentType string) string {
	var b strings.Builder
	for i := 0; i < len(contentType); i++ {
		c := contentType[i]
		if c == ' ' {
			continue
		}
		if c == ';' {
			break
		}
		b.WriteByte(c)
	}
	return strings.ToLower(b.String())
}

type dbPlaceholder struct{}

var dbConnType = reflect.TypeOf((*db.Conn)(nil))

func (dbPlaceholder) check(t reflect.Type, _ int) error {
	return wantType(t, dbConnType, "DB")
}

func (dbPlaceholder) resolve(ctx *Context) (reflect.Value, error) {
	if ctx.dbConn == nil {
		if ctx.Pool == nil {
			return reflect.Value{}, fmt.Errorf("router: no database pool configured")
		}
		ctx.dbConn = ctx.Pool.GetOrBlock()
	}
	return reflect.ValueOf(ctx.dbConn), nil
}

type clientPlaceholder struct{}

var clientType = reflect.TypeOf((*client.Client)(nil))

func (clientPlaceholder) check(t reflect.Type, _ int) error {
	return wantType(t, clientType, "HTTPClient")
}

func (clientPlaceholder) resolve(ctx *Context) (reflect.Value, error) {
	if ctx.httpClient == nil {
		ctx.httpClient = client.New(ctx.ServerName)
	}
	return reflect.ValueOf(ctx.httpClient), nil
}

type wsPlaceholder struct{}

var wsChannelType = reflect.TypeOf((*websocket.Channel)(nil))

func (wsPlaceholder) check(t reflect.Type, _ int) error {
	return wantType(t, wsChannelType, "WSChannel")
}

func (wsPlaceholder) resolve(ctx *Context) (reflect.Value, error) {
	if ctx.WS == nil {
		return reflect.Value{}, fmt.Errorf("router: WSChannel is only valid on the websocket route table")
	}
	return reflect.ValueOf(ctx.WS), nil
}

type literalPlaceholder struct{ value any }

func (p literalPlaceholder) check(t reflect.Type, _ int) error {
	vt := reflect.TypeOf(p.value)
	if vt == nil || !vt.AssignableTo(t) {
		return fmt.Errorf("Literal value %T is not assignable to handler parameter %s", p.value, t)
	}
	return nil
}

func (p literalPlaceholder) resolve(*Context) (reflect.Value, error) {
	return reflect.ValueOf(p.value), nil
}

func wantType(got, want reflect.Type, name string) error {
	if got != want {
		return fmt.Errorf("%s binds %s, handler wants %s", name, want, got)
	}
	return nil
}
