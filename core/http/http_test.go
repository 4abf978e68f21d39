package http

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

func reader(s string) *bufio.Reader {
	return bufio.NewReader(strings.NewReader(s))
}

// TestReadRequestBasic tests request-line, header and body parsing.
func TestReadRequestBasic(t *testing.T) {
	raw := "POST /login?next=%2F HTTP/1.1\r\n" +
		"Host: example.test\r\n" +
		"Content-Type: application/json\r\n" +
		"Content-Length: 15\r\n" +
		"\r\n" +
		`{"user":"mary"}`
	req, err := ReadRequest(reader(raw), 1024)
	if err != nil {
		t.Fatalf("ReadRequest: %v", err)
	}
	if req.Method != "POST" {
		t.Errorf("Method = %q", req.Method)
	}
	if req.Target != "/login?next=%2F" {
		t.Errorf("Target = %q", req.Target)
	}
	if req.Path != "/login" {
		t.Errorf("Path = %q", req.Path)
	}
	if req.Proto != "HTTP/1.1" {
		t.Errorf("Proto = %q", req.Proto)
	}
	if req.Header("Content-Type") != "application/json" {
		t.Errorf("Content-Type = %q", req.Header("Content-Type"))
	}
	if string(req.Body) != `{"user":"mary"}` {
		t.Errorf("Body = %q", req.Body)
	}
	if !req.KeepAlive {
		t.Error("HTTP/1.1 without Connection should keep alive")
	}
}

// TestReadRequestKeepAlive tests keep-alive defaults per protocol version.
func TestReadRequestKeepAlive(t *testing.T) {
	tests := []struct {
		proto      string
		connection string
		keepAlive  bool
	}{
		{"HTTP/1.1", "", true},
		{"HTTP/1.1", "close", false},
		{"HTTP/1.0", "", false},
		{"HTTP/1.0", "keep-alive", true},
	}
	for _, tt := range tests {
		raw := "GET / " + tt.proto + "\r\n"
		if tt.connection != "" {
			raw += "Connection: " + tt.connection + "\r\n"
		}
		raw += "\r\n"
		req, err := ReadRequest(reader(raw), 1024)
		if err != nil {
			t.Fatalf("%s %q: %v", tt.proto, tt.connection, err)
		}
		if req.KeepAlive != tt.keepAlive {
			t.Errorf("%s Connection=%q: KeepAlive = %v, want %v",
				tt.proto, tt.connection, req.KeepAlive, tt.keepAlive)
		}
	}
}

// TestReadRequestEOF tests that a closed peer surfaces io.EOF.
func TestReadRequestEOF(t *testing.T) {
	if _, err := ReadRequest(reader(""), 1024); !errors.Is(err, io.EOF) {
		t.Errorf("err = %v, want io.EOF", err)
	}
}

// TestReadRequestBodyLimit tests the payload cap.
func TestReadRequestBodyLimit(t *testing.T) {
	raw := "POST / HTTP/1.1\r\nContent-Length: 100\r\n\r\n" + strings.Repeat("x", 100)
	if _, err := ReadRequest(reader(raw), 10); !errors.Is(err, ErrBodyTooLarge) {
		t.Errorf("err = %v, want ErrBodyTooLarge", err)
	}
}

// TestReadRequestMultipleCookieHeaders tests Cookie header joining.
func TestReadRequestMultipleCookieHeaders(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nCookie: a=1\r\nCookie: b=2\r\n\r\n"
	req, err := ReadRequest(reader(raw), 1024)
	if err != nil {
		t.Fatalf("ReadRequest: %v", err)
	}
	if got := req.CookieValue(); got != "a=1; b=2" {
		t.Errorf("CookieValue = %q, want %q", got, "a=1; b=2")
	}
}

// TestIsUpgrade tests WebSocket handshake detection.
func TestIsUpgrade(t *testing.T) {
	raw := "GET /echo HTTP/1.1\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: keep-alive, Upgrade\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
		"\r\n"
	req, err := ReadRequest(reader(raw), 1024)
	if err != nil {
		t.Fatalf("ReadRequest: %v", err)
	}
	if !req.IsUpgrade() {
		t.Error("IsUpgrade = false, want true")
	}

	plain, err := ReadRequest(reader("GET / HTTP/1.1\r\n\r\n"), 1024)
	if err != nil {
		t.Fatalf("ReadRequest: %v", err)
	}
	if plain.IsUpgrade() {
		t.Error("IsUpgrade = true for plain request")
	}
}

// TestResponseAppendTo tests response serialization.
func TestResponseAppendTo(t *testing.T) {
	resp := NewResponse()
	resp.Set("Server", "webserv")
	resp.Set("Content-Type", "application/json")
	resp.SetBody([]byte(`{"ok":true}`))

	out := string(resp.AppendTo(nil))
	if !strings.HasPrefix(out, "HTTP/1.1 200 OK\r\n") {
		t.Errorf("status line wrong: %q", out)
	}
	if !strings.Contains(out, "Content-Length: 11\r\n") {
		t.Errorf("missing content length: %q", out)
	}
	if !strings.Contains(out, "Server: webserv\r\n") {
		t.Errorf("missing server header: %q", out)
	}
	if !strings.HasSuffix(out, "\r\n\r\n"+`{"ok":true}`) {
		t.Errorf("body misplaced: %q", out)
	}
}

// TestResponseSetCookie tests Set-Cookie accumulation.
func TestResponseSetCookie(t *testing.T) {
	resp := NewResponse()
	resp.SetCookie("bsessionid", "abc123", "/")
	out := string(resp.AppendTo(nil))
	if !strings.Contains(out, "Set-Cookie: bsessionid=abc123; Path=/\r\n") {
		t.Errorf("missing cookie header: %q", out)
	}
}

// TestReadResponse tests the client-side response parser.
func TestReadResponse(t *testing.T) {
	raw := "HTTP/1.1 404 Not Found\r\nContent-Length: 9\r\n\r\nnot found"
	resp, err := ReadResponse(reader(raw))
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	if resp.Status != 404 {
		t.Errorf("Status = %d", resp.Status)
	}
	if string(resp.Body) != "not found" {
		t.Errorf("Body = %q", resp.Body)
	}
}

// TestReadResponseToEOF tests bodies without Content-Length.
func TestReadResponseToEOF(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nConnection: close\r\n\r\nstreamed"
	resp, err := ReadResponse(reader(raw))
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	if string(resp.Body) != "streamed" {
		t.Errorf("Body = %q", resp.Body)
	}
}

// TestWriteRequestRoundTrip tests that a written request parses back.
func TestWriteRequestRoundTrip(t *testing.T) {
	req := &Request{
		Method: "POST",
		Target: "/echo",
		Proto:  "HTTP/1.1",
		Body:   []byte(`{"msg":"hi"}`),
	}
	req.SetHeader("Host", "localhost")
	req.SetHeader("Content-Type", "application/json")

	var buf bytes.Buffer
	if err := WriteRequest(&buf, req); err != nil {
		t.Fatalf("WriteRequest: %v", err)
	}
	parsed, err := ReadRequest(bufio.NewReader(&buf), 1024)
	if err != nil {
		t.Fatalf("ReadRequest: %v", err)
	}
	if parsed.Method != "POST" || parsed.Target != "/echo" {
		t.Errorf("parsed line = %s %s", parsed.Method, parsed.Target)
	}
	if string(parsed.Body) != `{"msg":"hi"}` {
		t.Errorf("parsed body = %q", parsed.Body)
	}
}
