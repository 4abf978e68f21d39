package core

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	nethttp "net/http"
	"net/http/cookiejar"
	"strings"
	"testing"
	"time"

	"github.com/searchktools/webserv/core/http"
	"github.com/searchktools/webserv/core/router"
	"github.com/searchktools/webserv/core/session"
	"github.com/searchktools/webserv/core/websocket"
)

func startTestEngine(t *testing.T) (*Engine, string) {
	t.Helper()

	routes := router.New(
		router.NewRoute("/hello", func() map[string]any {
			return map[string]any{"msg": "hello, world!"}
		}),
		router.NewRoute("/count", func(sess session.Session) map[string]any {
			n, _ := sess["count"].(int)
			n++
			sess["count"] = n
			return map[string]any{"count": n}
		}, router.Session),
		router.NewRoute("/echo", func(params map[string]any) map[string]any {
			return map[string]any{"echo": params}
		}, router.JSONParams),
		router.NewRoute("/manual", func(resp *http.Response) router.ManualResult {
			resp.Set("Content-Type", "text/plain")
			resp.SetBody([]byte("manual body"))
			return router.Manual
		}, router.Response),
		router.NewRoute("/boom", func() error {
			return errors.New("boom")
		}),
		router.NewRoute("/panic", func() {
			panic(42)
		}),
		router.NewRoute("/post-only", func(req *http.Request) (map[string]any, error) {
			if req.Method != "POST" {
				return nil, router.ErrRouteNotFound
			}
			return map[string]any{"ok": true}, nil
		}, router.Request),
	)
	wsRoutes := router.New(
		router.NewRoute("/echo", func(ws *websocket.Channel) error {
			for {
				data, err := ws.Read()
				if err != nil {
					if errors.Is(err, websocket.ErrClosed) {
						return nil
					}
					return err
				}
				if err := ws.Write(data); err != nil {
					return err
				}
			}
		}, router.WSChannel),
	)

	e := NewEngine("webserv", routes, wsRoutes)
	e.SetLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))

	go func() {
		if err := e.Run("127.0.0.1:0"); err != nil {
			t.Error(err)
		}
	}()
	select {
	case <-e.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("engine never became ready")
	}
	t.Cleanup(e.Shutdown)
	return e, "http://" + e.Addr().String()
}

func body(t *testing.T, resp *nethttp.Response) string {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	return string(data)
}

// TestEngineHello tests a plain JSON route end to end.
func TestEngineHello(t *testing.T) {
	_, base := startTestEngine(t)

	resp, err := nethttp.Get(base + "/hello")
	if err != nil {
		t.Fatalf("GET /hello: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	if srv := resp.Header.Get("Server"); srv != "webserv" {
		t.Errorf("Server = %q", srv)
	}
	if got := body(t, resp); got != `{"msg":"hello, world!"}` {
		t.Errorf("body = %q", got)
	}
}

// TestEngineNotFound tests the 404 boundary, both for a matcher miss and
// for a handler declining its route.
func TestEngineNotFound(t *testing.T) {
	_, base := startTestEngine(t)

	for _, url := range []string{"/missing", "/post-only"} {
		resp, err := nethttp.Get(base + url)
		if err != nil {
			t.Fatalf("GET %s: %v", url, err)
		}
		if resp.StatusCode != 404 {
			t.Errorf("%s status = %d, want 404", url, resp.StatusCode)
		}
		want := "The requested url '" + url + "' does not exist."
		if got := body(t, resp); got != want {
			t.Errorf("%s body = %q, want %q", url, got, want)
		}
	}
}

// TestEngineBadRequest tests the 400 boundary for malformed JSON bodies.
func TestEngineBadRequest(t *testing.T) {
	_, base := startTestEngine(t)

	resp, err := nethttp.Post(base+"/echo", "application/json", strings.NewReader("{broken"))
	if err != nil {
		t.Fatalf("POST /echo: %v", err)
	}
	if resp.StatusCode != 400 {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	if got := body(t, resp); got != "Request body is not a valid JSON string." {
		t.Errorf("body = %q", got)
	}
}

// TestEngineServerError tests the 500 boundary for errors and panics.
func TestEngineServerError(t *testing.T) {
	_, base := startTestEngine(t)

	resp, err := nethttp.Get(base + "/boom")
	if err != nil {
		t.Fatalf("GET /boom: %v", err)
	}
	if resp.StatusCode != 500 {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
	if got := body(t, resp); got != "Internal server error: boom" {
		t.Errorf("body = %q", got)
	}

	resp, err = nethttp.Get(base + "/panic")
	if err != nil {
		t.Fatalf("GET /panic: %v", err)
	}
	if got := body(t, resp); got != "Internal server error: Unknown exception." {
		t.Errorf("panic body = %q", got)
	}
}

// TestEngineSessionFlow tests cookie issuance and the per-session counter.
func TestEngineSessionFlow(t *testing.T) {
	_, base := startTestEngine(t)

	jar, _ := cookiejar.New(nil)
	client := &nethttp.Client{Jar: jar}

	resp, err := client.Get(base + "/count")
	if err != nil {
		t.Fatalf("GET /count: %v", err)
	}
	cookies := resp.Cookies()
	if len(cookies) != 1 || cookies[0].Name != session.CookieName {
		t.Fatalf("cookies = %v", cookies)
	}
	if cookies[0].Path != "/" {
		t.Errorf("cookie path = %q", cookies[0].Path)
	}
	if got := body(t, resp); got != `{"count":1}` {
		t.Errorf("first body = %q", got)
	}

	resp, err = client.Get(base + "/count")
	if err != nil {
		t.Fatalf("second GET /count: %v", err)
	}
	if len(resp.Cookies()) != 0 {
		t.Errorf("second response set a cookie: %v", resp.Cookies())
	}
	if got := body(t, resp); got != `{"count":2}` {
		t.Errorf("second body = %q", got)
	}
}

// TestEngineMultiCookieProbe tests that a stale id alongside a live one
// resolves to the live session without a new Set-Cookie.
func TestEngineMultiCookieProbe(t *testing.T) {
	e, base := startTestEngine(t)

	live, sess, _ := e.Sessions().GetOrCreate("")
	sess["count"] = 41

	req, _ := nethttp.NewRequest("GET", base+"/count", nil)
	req.Header.Set("Cookie",
		session.CookieName+"=stalestalestalestalestalestale00; "+session.CookieName+"="+live)
	resp, err := nethttp.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /count: %v", err)
	}
	if len(resp.Cookies()) != 0 {
		t.Errorf("probe issued Set-Cookie: %v", resp.Cookies())
	}
	if got := body(t, resp); got != `{"count":42}` {
		t.Errorf("body = %q", got)
	}
}

// TestEngineManualResponse tests that manual handlers keep their body.
func TestEngineManualResponse(t *testing.T) {
	_, base := startTestEngine(t)

	resp, err := nethttp.Get(base + "/manual")
	if err != nil {
		t.Fatalf("GET /manual: %v", err)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/plain" {
		t.Errorf("Content-Type = %q", ct)
	}
	if got := body(t, resp); got != "manual body" {
		t.Errorf("body = %q", got)
	}
}

// TestEngineKeepAlive tests two sequential requests on one connection and
// close semantics on request.
func TestEngineKeepAlive(t *testing.T) {
	e, _ := startTestEngine(t)

	conn, err := net.Dial("tcp", e.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	br := bufio.NewReader(conn)

	for i := 0; i < 2; i++ {
		fmt.Fprintf(conn, "GET /hello HTTP/1.1\r\nHost: t\r\n\r\n")
		resp, err := http.ReadResponse(br)
		if err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
		if resp.Status != 200 {
			t.Errorf("request %d status = %d", i+1, resp.Status)
		}
		if resp.Header("Connection") != "keep-alive" {
			t.Errorf("request %d Connection = %q", i+1, resp.Header("Connection"))
		}
	}

	// An explicit close is honored: response says close, then EOF.
	fmt.Fprintf(conn, "GET /hello HTTP/1.1\r\nHost: t\r\nConnection: close\r\n\r\n")
	resp, err := http.ReadResponse(br)
	if err != nil {
		t.Fatalf("close request: %v", err)
	}
	if resp.Header("Connection") != "close" {
		t.Errorf("Connection = %q, want close", resp.Header("Connection"))
	}
	if _, err := br.ReadByte(); err != io.EOF {
		t.Errorf("expected EOF after close, got %v", err)
	}
}

// TestEngineQueryParams tests query-string delivery through JSONParams.
func TestEngineQueryParams(t *testing.T) {
	_, base := startTestEngine(t)

	resp, err := nethttp.Get(base + "/echo?page=3&name=John+Doe")
	if err != nil {
		t.Fatalf("GET /echo: %v", err)
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(body(t, resp)), &parsed); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	echo := parsed["echo"].(map[string]any)
	if echo["page"] != "3" || echo["name"] != "John Doe" {
		t.Errorf("echo = %v", echo)
	}
}

// TestEngineWebSocketEcho tests the full upgrade plus echo round trip.
func TestEngineWebSocketEcho(t *testing.T) {
	e, _ := startTestEngine(t)

	conn, err := net.Dial("tcp", e.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	br := bufio.NewReader(conn)

	key := base64.StdEncoding.EncodeToString([]byte("0123456789abcdef"))
	fmt.Fprintf(conn, "GET /echo HTTP/1.1\r\n"+
		"Host: t\r\n"+
		"Upgrade: websocket\r\n"+
		"Connection: Upgrade\r\n"+
		"Sec-WebSocket-Key: %s\r\n"+
		"Sec-WebSocket-Version: 13\r\n\r\n", key)

	status, err := br.ReadString('\n')
	if err != nil {
		t.Fatalf("handshake: %v", err)
	}
	if !strings.HasPrefix(status, "HTTP/1.1 101") {
		t.Fatalf("status line = %q", status)
	}
	sawAccept := false
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			t.Fatalf("handshake headers: %v", err)
		}
		if strings.HasPrefix(line, "Sec-WebSocket-Accept:") {
			if strings.TrimSpace(strings.TrimPrefix(line, "Sec-WebSocket-Accept:")) != websocket.AcceptKey(key) {
				t.Errorf("bad accept key: %q", line)
			}
			sawAccept = true
		}
		if line == "\r\n" {
			break
		}
	}
	if !sawAccept {
		t.Fatal("no Sec-WebSocket-Accept header")
	}

	// Masked client text frame "hi".
	mask := []byte{1, 2, 3, 4}
	payload := []byte("hi")
	frame := []byte{0x81, byte(0x80 | len(payload))}
	frame = append(frame, mask...)
	for i, b := range payload {
		frame = append(frame, b^mask[i%4])
	}
	if _, err := conn.Write(frame); err != nil {
		t.Fatalf("writing frame: %v", err)
	}

	header := make([]byte, 2)
	if _, err := io.ReadFull(br, header); err != nil {
		t.Fatalf("reading echo header: %v", err)
	}
	if header[0] != 0x81 {
		t.Errorf("echo header = %#x", header[0])
	}
	if int(header[1]) != len(payload) {
		t.Fatalf("echo length = %d", header[1])
	}
	echo := make([]byte, len(payload))
	if _, err := io.ReadFull(br, echo); err != nil {
		t.Fatalf("reading echo payload: %v", err)
	}
	if string(echo) != "hi" {
		t.Errorf("echo = %q, want hi", echo)
	}

	// Close handshake: masked close frame, expect a close frame back.
	closeFrame := []byte{0x88, 0x80, 1, 2, 3, 4}
	if _, err := conn.Write(closeFrame); err != nil {
		t.Fatalf("writing close: %v", err)
	}
	if _, err := io.ReadFull(br, header); err != nil {
		t.Fatalf("reading close reply: %v", err)
	}
	if header[0]&0x0F != 0x08 {
		t.Errorf("close reply opcode = %#x", header[0])
	}
}
