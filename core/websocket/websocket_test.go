package websocket

import (
	"bufio"
	"bytes"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/searchktools/webserv/core/http"
)

// TestAcceptKey tests the RFC 6455 sample handshake vector.
func TestAcceptKey(t *testing.T) {
	got := AcceptKey("dGhlIHNhbXBsZSBub25jZQ==")
	want := "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="
	if got != want {
		t.Errorf("AcceptKey = %q, want %q", got, want)
	}
}

// TestFrameRoundTrip tests that a written frame reads back identically.
func TestFrameRoundTrip(t *testing.T) {
	payloads := [][]byte{
		[]byte("short"),
		bytes.Repeat([]byte("x"), 200),   // 16-bit extended length
		bytes.Repeat([]byte("y"), 70000), // 64-bit extended length
	}
	for _, payload := range payloads {
		var buf bytes.Buffer
		w := bufio.NewWriter(&buf)
		if err := writeFrame(w, &Frame{Fin: true, OpCode: OpText, Payload: payload}); err != nil {
			t.Fatalf("writeFrame(%d bytes): %v", len(payload), err)
		}
		frame, err := readFrame(bufio.NewReader(&buf), DefaultMaxMessageSize)
		if err != nil {
			t.Fatalf("readFrame(%d bytes): %v", len(payload), err)
		}
		if !frame.Fin || frame.OpCode != OpText {
			t.Errorf("frame header = fin:%v op:%d", frame.Fin, frame.OpCode)
		}
		if !bytes.Equal(frame.Payload, payload) {
			t.Errorf("payload mismatch at length %d", len(payload))
		}
	}
}

// TestReadFrameMasked tests unmasking of client frames.
func TestReadFrameMasked(t *testing.T) {
	payload := []byte("hello")
	key := []byte{0x10, 0x20, 0x30, 0x40}
	masked := make([]byte, len(payload))
	for i := range payload {
		masked[i] = payload[i] ^ key[i%4]
	}
	raw := append([]byte{0x81, byte(0x80 | len(payload))}, key...)
	raw = append(raw, masked...)

	frame, err := readFrame(bufio.NewReader(bytes.NewReader(raw)), DefaultMaxMessageSize)
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if string(frame.Payload) != "hello" {
		t.Errorf("payload = %q, want hello", frame.Payload)
	}
}

// TestReadFrameTooLarge tests the message size cap.
func TestReadFrameTooLarge(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	writeFrame(w, &Frame{Fin: true, OpCode: OpText, Payload: bytes.Repeat([]byte("z"), 64)})
	if _, err := readFrame(bufio.NewReader(&buf), 16); err == nil {
		t.Error("expected error for oversized frame")
	}
}

func upgradeRequest() *http.Request {
	req := &http.Request{
		Method:  "GET",
		Target:  "/echo",
		Path:    "/echo",
		Proto:   "HTTP/1.1",
		Headers: make(map[string][]string),
	}
	req.SetHeader("Upgrade", "websocket")
	req.SetHeader("Connection", "Upgrade")
	req.SetHeader("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")
	return req
}

// TestAcceptHandshake tests the 101 response written during Accept.
func TestAcceptHandshake(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	done := make(chan error, 1)
	go func() {
		_, err := Accept(server, bufio.NewReader(server), upgradeRequest(), "webserv")
		done <- err
	}()

	client.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1024)
	n, err := client.Read(buf)
	if err != nil {
		t.Fatalf("reading handshake: %v", err)
	}
	response := string(buf[:n])
	if !strings.HasPrefix(response, "HTTP/1.1 101 Switching Protocols\r\n") {
		t.Errorf("status line wrong: %q", response)
	}
	if !strings.Contains(response, "Sec-WebSocket-Accept: s3pPLMBiTxaQ9kYGzzhZRbK+xOo=\r\n") {
		t.Errorf("accept key missing: %q", response)
	}
	if !strings.Contains(response, "Server: webserv websocket-server\r\n") {
		t.Errorf("server header missing: %q", response)
	}
	if err := <-done; err != nil {
		t.Fatalf("Accept: %v", err)
	}
}

// TestAcceptRejectsPlainRequest tests the non-upgrade guard.
func TestAcceptRejectsPlainRequest(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	req := upgradeRequest()
	req.Headers = make(map[string][]string)
	if _, err := Accept(server, bufio.NewReader(server), req, "webserv"); !errors.Is(err, ErrNotUpgrade) {
		t.Errorf("err = %v, want ErrNotUpgrade", err)
	}
}

// TestChannelReadWrite tests message exchange and close signaling over a
// pipe.
func TestChannelReadWrite(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	channelReady := make(chan *Channel, 1)
	go func() {
		// Drain the handshake response, then run the server side.
		br := bufio.NewReader(server)
		ch, err := Accept(server, br, upgradeRequest(), "webserv")
		if err != nil {
			t.Error(err)
			return
		}
		channelReady <- ch
	}()

	clientReader := bufio.NewReader(client)
	// Discard the 101 response up to the blank line.
	for {
		line, err := clientReader.ReadString('\n')
		if err != nil {
			t.Fatalf("handshake read: %v", err)
		}
		if line == "\r\n" {
			break
		}
	}
	channel := <-channelReady
	defer channel.Close()

	// Client sends a text frame; the server echoes it back.
	clientWriter := bufio.NewWriter(client)
	go func() {
		writeFrame(clientWriter, &Frame{Fin: true, OpCode: OpText, Payload: []byte("ping")})
	}()
	msg, err := channel.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if msg != "ping" {
		t.Errorf("Read = %q, want ping", msg)
	}

	readBack := make(chan *Frame, 1)
	go func() {
		frame, err := readFrame(clientReader, DefaultMaxMessageSize)
		if err != nil {
			t.Error(err)
			return
		}
		readBack <- frame
	}()
	if err := channel.Write("pong"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	frame := <-readBack
	if string(frame.Payload) != "pong" {
		t.Errorf("echo = %q, want pong", frame.Payload)
	}

	// A close frame surfaces as ErrClosed; the server replies with its own
	// close frame before dropping the connection.
	closeDone := make(chan struct{})
	go func() {
		writeFrame(clientWriter, &Frame{Fin: true, OpCode: OpClose})
		readFrame(clientReader, DefaultMaxMessageSize)
		close(closeDone)
	}()
	if _, err := channel.Read(); !errors.Is(err, ErrClosed) {
		t.Errorf("Read after close = %v, want ErrClosed", err)
	}
	<-closeDone
}

// TestChannelJSON tests the JSON conveniences.
func TestChannelJSON(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	channel := &Channel{
		conn:           server,
		reader:         bufio.NewReader(server),
		writer:         bufio.NewWriter(server),
		maxMessageSize: DefaultMaxMessageSize,
	}

	clientReader := bufio.NewReader(client)
	readBack := make(chan *Frame, 1)
	go func() {
		frame, err := readFrame(clientReader, DefaultMaxMessageSize)
		if err != nil {
			t.Error(err)
			return
		}
		readBack <- frame
	}()
	if err := channel.WriteJSON(map[string]any{"n": 1}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	frame := <-readBack
	if string(frame.Payload) != `{"n":1}` {
		t.Errorf("WriteJSON payload = %q", frame.Payload)
	}

	go func() {
		writeFrame(bufio.NewWriter(client), &Frame{Fin: true, OpCode: OpText, Payload: []byte(`{"k":"v"}`)})
	}()
	v, err := channel.ReadJSON()
	if err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	obj, ok := v.(map[string]any)
	if !ok || obj["k"] != "v" {
		t.Errorf("ReadJSON = %v", v)
	}
}
