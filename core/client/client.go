// Package client provides the outbound HTTP helper usable from inside
// handlers. Every step of a request (resolve, connect, write, read,
// shutdown) is a separate suspension point; resolve, connect, write and
// read each run under their own timeout, shutdown under none.
package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/searchktools/webserv/core/http"
)

// ErrRequestFailed wraps any step failure of an outbound request.
var ErrRequestFailed = errors.New("client: request failed")

// StepTimeout is the per-step deadline for resolve/connect/write/read.
const StepTimeout = 30 * time.Second

// Client issues outbound HTTP/1.1 requests. A fresh client is constructed
// per request by the resolver; it carries no connection state.
type Client struct {
	timeout   time.Duration
	userAgent string
}

// New returns a client with the default step timeout.
func New(userAgent string) *Client {
	return &Client{timeout: StepTimeout, userAgent: userAgent}
}

// SetStepTimeout overrides the per-step deadline.
func (c *Client) SetStepTimeout(d time.Duration) {
	c.timeout = d
}

// Do sends req to host:port and returns the response.
func (c *Client) Do(host, port string, req *http.Request) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	addrs, err := net.DefaultResolver.LookupHost(ctx, host)
	cancel()
	if err != nil {
		return nil, fail("resolve", err)
	}

	var conn net.Conn
	for _, addr := range addrs {
		conn, err = net.DialTimeout("tcp", net.JoinHostPort(addr, port), c.timeout)
		if err == nil {
			break
		}
	}
	if conn == nil {
		return nil, fail("connect", err)
	}
	defer conn.Close()

	conn.SetWriteDeadline(time.Now().Add(c.timeout))
	if err := http.WriteRequest(conn, req); err != nil {
		return nil, fail("write", err)
	}

	conn.SetReadDeadline(time.Now().Add(c.timeout))
	resp, err := http.ReadResponse(bufio.NewReader(conn))
	if err != nil {
		return nil, fail("read", err)
	}

	// A not-connected error here just means the peer already shut down.
	if tcp, ok := conn.(*net.TCPConn); ok {
		if err := tcp.CloseWrite(); err != nil && !errors.Is(err, syscall.ENOTCONN) {
			return nil, fail("shutdown", err)
		}
	}
	return resp, nil
}

// Send builds a JSON request for method/target and performs it.
func (c *Client) Send(host, port, target, method string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fail("encode", err)
	}
	req := &http.Request{
		Method: method,
		Target: target,
		Proto:  "HTTP/1.1",
		Body:   payload,
	}
	req.SetHeader("Host", host)
	req.SetHeader("User-Agent", c.userAgent)
	req.SetHeader("Content-Type", "application/json")
	return c.Do(host, port, req)
}

// SendValue performs Send and parses the response body as JSON.
func (c *Client) SendValue(host, port, target, method string, body any) (any, error) {
	resp, err := c.Send(host, port, target, method, body)
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal(resp.Body, &v); err != nil {
		return nil, fail("decode", err)
	}
	return v, nil
}

func (c *Client) Get(host, port, target string, body any) (*http.Response, error) {
	return c.Send(host, port, target, "GET", body)
}

func (c *Client) Post(host, port, target string, body any) (*http.Response, error) {
	return c.Send(host, port, target, "POST", body)
}

func (c *Client) Put(host, port, target string, body any) (*http.Response, error) {
	return c.Send(host, port, target, "PUT", body)
}

func (c *Client) Delete(host, port, target string, body any) (*http.Response, error) {
	return c.Send(host, port, target, "DELETE", body)
}

func (c *Client) GetValue(host, port, target string, body any) (any, error) {
	return c.SendValue(host, port, target, "GET", body)
}

func (c *Client) PostValue(host, port, target string, body any) (any, error) {
	return c.SendValue(host, port, target, "POST", body)
}

func (c *Client) PutValue(host, port, target string, body any) (any, error) {
	return c.SendValue(host, port, target, "PUT", body)
}

func (c *Client) DeleteValue(host, port, target string, body any) (any, error) {
	return c.SendValue(host, port, target, "DELETE", body)
}

func fail(step string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrRequestFailed, step, err)
}
