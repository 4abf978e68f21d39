// Package core implements the request-dispatch engine: the TCP listener,
// the per-connection HTTP/WebSocket state machine and the error boundary
// that turns resolver and handler failures into status-coded responses.
package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/net/netutil"
	"golang.org/x/sys/unix"

	"github.com/searchktools/webserv/core/db"
	"github.com/searchktools/webserv/core/http"
	"github.com/searchktools/webserv/core/middleware"
	"github.com/searchktools/webserv/core/pools"
	"github.com/searchktools/webserv/core/router"
	"github.com/searchktools/webserv/core/session"
)

const (
	// DefaultBodyLimit bounds a request body.
	DefaultBodyLimit = 8 * 1024 * 1024
	// DefaultReadTimeout is the per-request header expiry, reset before
	// every read.
	DefaultReadTimeout = 30 * time.Second
)

// Engine owns the listener and drives one goroutine per accepted
// connection. Goroutines are the cooperative coroutines of the design:
// every network primitive suspends the goroutine, never the thread.
type Engine struct {
	name     string
	routes   *router.Router
	wsRoutes *router.Router

	sessions *session.Store
	pool     *db.Pool
	log      *slog.Logger
	pipeline *middleware.Pipeline

	bodyLimit   int64
	readTimeout time.Duration
	maxConns    int

	listener net.Listener
	ready    chan struct{}
	conns    map[net.Conn]struct{}
	connMu   sync.Mutex
	closed   atomic.Bool

	buffers *pools.BufferPool
}

// NewEngine creates an engine serving the given HTTP and WebSocket route
// tables.
func NewEngine(name string, routes, wsRoutes *router.Router) *Engine {
	if routes == nil {
		routes = router.New()
	}
	if wsRoutes == nil {
		wsRoutes = router.New()
	}
	return &Engine{
		name:        name,
		routes:      routes,
		wsRoutes:    wsRoutes,
		sessions:    session.NewStore(),
		log:         slog.Default(),
		bodyLimit:   DefaultBodyLimit,
		readTimeout: DefaultReadTimeout,
		ready:       make(chan struct{}),
		conns:       make(map[net.Conn]struct{}),
		buffers:     pools.NewBufferPool(),
	}
}

// SetLogger replaces the engine logger.
func (e *Engine) SetLogger(log *slog.Logger) { e.log = log }

// SetPool installs the database connection pool.
func (e *Engine) SetPool(pool *db.Pool) { e.pool = pool }

// SetBodyLimit overrides the request body limit.
func (e *Engine) SetBodyLimit(limit int64) { e.bodyLimit = limit }

// SetReadTimeout overrides the per-request read expiry.
func (e *Engine) SetReadTimeout(d time.Duration) { e.readTimeout = d }

// SetMaxConns caps concurrent accepted connections; zero means unlimited.
func (e *Engine) SetMaxConns(n int) { e.maxConns = n }

// Sessions exposes the session store.
func (e *Engine) Sessions() *session.Store { return e.sessions }

// Use appends a middleware to the pre-dispatch pipeline.
func (e *Engine) Use(handler middleware.HandlerFunc) {
	if e.pipeline == nil {
		e.pipeline = middleware.NewPipeline()
	}
	e.pipeline.Use(handler)
}

// Run listens on addr and accepts until Shutdown. Listen failures are
// fatal and returned; accept errors are logged and the loop re-arms.
func (e *Engine) Run(addr string) error {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var serr error
			if err := c.Control(func(fd uintptr) {
				serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			}); err != nil {
				return err
			}
			return serr
		},
	}
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return fmt.Errorf("core: listen %s: %w", addr, err)
	}
	if e.maxConns > 0 {
		ln = netutil.LimitListener(ln, e.maxConns)
	}
	e.listener = ln
	close(e.ready)
	e.log.Info("server started", "name", e.name, "addr", ln.Addr().String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if e.closed.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			e.log.Error("accept", "err", err)
			continue
		}
		go e.serveConn(conn)
	}
}

// Ready is closed once the listener is bound; Addr is valid after that.
func (e *Engine) Ready() <-chan struct{} { return e.ready }

// Addr returns the bound listener address, for tests and logs.
func (e *Engine) Addr() net.Addr {
	if e.listener == nil {
		return nil
	}
	return e.listener.Addr()
}

// Shutdown closes the listener and every open connection; in-flight
// handlers observe errors on their next I/O and unwind.
func (e *Engine) Shutdown() {
	if !e.closed.CompareAndSwap(false, true) {
		return
	}
	if e.listener != nil {
		e.listener.Close()
	}
	e.connMu.Lock()
	for conn := range e.conns {
		conn.Close()
	}
	e.connMu.Unlock()
	e.log.Info("server stopped", "name", e.name)
}

func (e *Engine) track(conn net.Conn) {
	e.connMu.Lock()
	e.conns[conn] = struct{}{}
	e.connMu.Unlock()
}

func (e *Engine) untrack(conn net.Conn) {
	e.connMu.Lock()
	delete(e.conns, conn)
	e.connMu.Unlock()
}

// errUnknownPanic stands in for panics that carry no error value.
var errUnknownPanic = errors.New("Unknown exception.")

// handleRequest runs the resolver pipeline for one request and returns the
// finished response. Failures never escape: they are translated by the
// error boundary below.
func (e *Engine) handleRequest(req *http.Request) *http.Response {
	resp := http.NewResponse()
	resp.Set("Server", e.name)
	resp.Set("Content-Type", "application/json")

	ctx := &router.Context{
		Req:        req,
		Resp:       resp,
		Log:        e.log,
		Sessions:   e.sessions,
		Pool:       e.pool,
		ServerName: e.name,
	}
	defer ctx.Release()

	result, err := e.dispatch(ctx, e.routes, req.Path)
	if err != nil {
		e.errorResponse(resp, req.Path, err)
		return resp
	}
	if _, manual := result.(router.ManualResult); manual {
		return resp
	}
	body, merr := json.Marshal(result)
	if merr != nil {
		e.errorResponse(resp, req.Path, merr)
		return resp
	}
	resp.SetBody(body)
	return resp
}

// dispatch runs middleware then the route table, converting panics into
// errors for the boundary.
func (e *Engine) dispatch(ctx *router.Context, routes *router.Router, url string) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			if rerr, ok := r.(error); ok {
				err = rerr
			} else {
				err = errUnknownPanic
			}
		}
	}()

	result = router.Manual
	invoke := func(c *router.Context) {
		result, err = routes.Dispatch(c, url)
	}
	if e.pipeline != nil {
		e.pipeline.Execute(ctx, invoke)
	} else {
		invoke(ctx)
	}
	return result, err
}

// errorResponse maps the error taxonomy onto status-coded responses.
func (e *Engine) errorResponse(resp *http.Response, url string, err error) {
	resp.Set("Content-Type", "text/html")
	switch {
	case errors.Is(err, router.ErrRouteNotFound):
		resp.Status = http.StatusNotFound
		resp.SetBody([]byte("The requested url '" + url + "' does not exist."))
	case errors.Is(err, router.ErrBadRequest):
		resp.Status = http.StatusBadRequest
		resp.SetBody([]byte("Request body is not a valid JSON string."))
	default:
		resp.Status = http.StatusInternalServerError
		resp.SetBody([]byte("Internal server error: " + err.Error()))
	}
}
