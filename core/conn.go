package core

import (
	"bufio"
	"errors"
	"io"
	"net"
	"time"

	"github.com/searchktools/webserv/core/http"
	"github.com/searchktools/webserv/core/router"
	"github.com/searchktools/webserv/core/websocket"
)

// serveConn drives the per-connection state machine: read a request,
// classify it, dispatch, write the single response, then loop for
// keep-alive or half-close and drop.
func (e *Engine) serveConn(conn net.Conn) {
	e.track(conn)
	defer func() {
		e.untrack(conn)
		conn.Close()
	}()

	remote := conn.RemoteAddr().String()
	e.log.Debug("connection opened", "remote", remote)

	br := bufio.NewReaderSize(conn, 4096)
	for {
		conn.SetReadDeadline(time.Now().Add(e.readTimeout))
		req, err := http.ReadRequest(br, e.bodyLimit)
		if err != nil {
			// EOF means the peer closed between requests.
			if !errors.Is(err, io.EOF) && !e.closed.Load() {
				e.log.Error("read request", "remote", remote, "err", err)
			}
			break
		}

		if req.IsUpgrade() {
			e.serveWebSocket(conn, br, req, remote)
			return
		}

		resp := e.handleRequest(req)
		keep := req.KeepAlive && !resp.CloseRequested()
		if keep {
			resp.Set("Connection", "keep-alive")
		} else {
			resp.Set("Connection", "close")
		}

		bufp := e.buffers.Get(len(resp.Body) + 512)
		out := resp.AppendTo(*bufp)
		conn.SetWriteDeadline(time.Now().Add(e.readTimeout))
		_, werr := conn.Write(out)
		*bufp = out
		e.buffers.Put(bufp)
		if werr != nil {
			e.log.Error("write response", "remote", remote, "err", werr)
			break
		}
		if !keep {
			break
		}
	}

	if tcp, ok := conn.(*net.TCPConn); ok {
		tcp.CloseWrite()
	}
	e.log.Debug("connection closed", "remote", remote)
}

// serveWebSocket completes the upgrade handshake and re-enters the router
// on the WebSocket route table with the channel bound. The handler drives
// the channel until the peer closes; its result value is discarded.
func (e *Engine) serveWebSocket(conn net.Conn, br *bufio.Reader, req *http.Request, remote string) {
	// Frames have no header deadline; the handler owns pacing.
	conn.SetReadDeadline(time.Time{})

	channel, err := websocket.Accept(conn, br, req, e.name)
	if err != nil {
		e.log.Error("websocket accept", "remote", remote, "err", err)
		return
	}
	defer channel.Close()
	e.log.Debug("websocket session opened", "remote", remote)

	ctx := &router.Context{
		Req:        req,
		Resp:       http.NewResponse(),
		Log:        e.log,
		Sessions:   e.sessions,
		Pool:       e.pool,
		ServerName: e.name,
		WS:         channel,
	}
	defer ctx.Release()

	if _, err := e.dispatch(ctx, e.wsRoutes, req.Path); err != nil {
		e.log.Error("websocket handler", "remote", remote, "url", req.Path, "err", err)
	}
	e.log.Debug("websocket session closed", "remote", remote)
}
