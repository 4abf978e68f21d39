package router

import (
	"log/slog"

	"github.com/searchktools/webserv/core/client"
	"github.com/searchktools/webserv/core/db"
	"github.com/searchktools/webserv/core/http"
	"github.com/searchktools/webserv/core/session"
	"github.com/searchktools/webserv/core/websocket"
)

// Context is the per-request bundle the resolver reads placeholder values
// from: URL captures, the parsed request, the response builder and the
// lazily resolved session, database handle, outbound client and WebSocket
// channel.
type Context struct {
	Captures []string // [0] is the full match; placeholders are 1-based

	Req  *http.Request
	Resp *http.Response

	Log *slog.Logger

	// Server resources, set by the engine.
	Sessions   *session.Store
	Pool       *db.Pool
	ServerName string

	// WS is non-nil only when dispatching on the WebSocket route table.
	WS *websocket.Channel

	session    session.Session
	hasSession bool
	dbConn     *db.Conn
	httpClient *client.Client

	aborted bool
}

// Abort stops middleware processing; the dispatch is skipped and the
// response goes out as currently set.
func (c *Context) Abort() { c.aborted = true }

// IsAborted reports whether Abort was called.
func (c *Context) IsAborted() bool { return c.aborted }

// Release returns lazily acquired resources; the engine calls it when the
// request ends.
func (c *Context) Release() {
	if c.dbConn != nil {
		c.dbConn.Release()
		c.dbConn = nil
	}
}
