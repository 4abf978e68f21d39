package websocket

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/searchktools/webserv/core/http"
)

var (
	// ErrClosed reports a clean close from the peer.
	ErrClosed = errors.New("websocket: session has been closed")
	// ErrNotUpgrade reports a request that is not a WebSocket handshake.
	ErrNotUpgrade = errors.New("websocket: not an upgrade request")
)

// IOError wraps a transport failure during a channel read or write.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("websocket: %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Channel is the post-upgrade message interface handed to handlers.
// Writes are serialized; reads answer pings transparently and surface
// ErrClosed when the peer closes.
type Channel struct {
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer

	writeMu sync.Mutex

	maxMessageSize int64

	closed    bool
	closeMu   sync.Mutex
	closeOnce sync.Once
}

// Accept validates the handshake in req, writes the 101 response with the
// given Server header and returns the channel. The bufio reader must be
// the one the request was parsed from so buffered frames are not lost.
func Accept(conn net.Conn, reader *bufio.Reader, req *http.Request, serverName string) (*Channel, error) {
	if !req.IsUpgrade() {
		return nil, ErrNotUpgrade
	}
	key := req.Header("Sec-Websocket-Key")

	// 101 responses carry no body and no Content-Length.
	var buf []byte
	buf = append(buf, "HTTP/1.1 101 Switching Protocols\r\n"...)
	buf = append(buf, "Upgrade: websocket\r\n"...)
	buf = append(buf, "Connection: Upgrade\r\n"...)
	buf = append(buf, "Sec-WebSocket-Accept: "+AcceptKey(key)+"\r\n"...)
	buf = append(buf, "Server: "+serverName+" websocket-server\r\n\r\n"...)
	if _, err := conn.Write(buf); err != nil {
		return nil, &IOError{Op: "handshake", Err: err}
	}

	return &Channel{
		conn:           conn,
		reader:         reader,
		writer:         bufio.NewWriter(conn),
		maxMessageSize: DefaultMaxMessageSize,
	}, nil
}

// SetMaxMessageSize bounds incoming message payloads.
func (c *Channel) SetMaxMessageSize(size int64) {
	c.maxMessageSize = size
}

// Read returns the next complete text or binary message as a string. It
// returns ErrClosed on a clean close and an *IOError on transport failure.
func (c *Channel) Read() (string, error) {
	if c.isClosed() {
		return "", ErrClosed
	}

	var fragments [][]byte
	for {
		frame, err := readFrame(c.reader, c.maxMessageSize)
		if err != nil {
			return "", &IOError{Op: "read", Err: err}
		}

		switch frame.OpCode {
		case OpText, OpBinary:
			if frame.Fin {
				return string(frame.Payload), nil
			}
			fragments = append(fragments, frame.Payload)

		case OpContinuation:
			fragments = append(fragments, frame.Payload)
			if frame.Fin {
				var total int
				for _, frag := range fragments {
					total += len(frag)
				}
				msg := make([]byte, 0, total)
				for _, frag := range fragments {
					msg = append(msg, frag...)
				}
				return string(msg), nil
			}

		case OpPing:
			if err := c.writeFrame(&Frame{Fin: true, OpCode: OpPong, Payload: frame.Payload}); err != nil {
				return "", err
			}

		case OpPong:
			continue

		case OpClose:
			c.Close()
			return "", ErrClosed

		default:
			return "", &IOError{Op: "read", Err: fmt.Errorf("unknown opcode %d", frame.OpCode)}
		}
	}
}

// ReadJSON reads one message and unmarshals it.
func (c *Channel) ReadJSON() (any, error) {
	data, err := c.Read()
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return nil, &IOError{Op: "read json", Err: err}
	}
	return v, nil
}

// Write sends data as a single text message.
func (c *Channel) Write(data string) error {
	if c.isClosed() {
		return &IOError{Op: "write", Err: ErrClosed}
	}
	return c.writeFrame(&Frame{Fin: true, OpCode: OpText, Payload: []byte(data)})
}

// WriteJSON marshals v and sends it as a text message.
func (c *Channel) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return &IOError{Op: "write json", Err: err}
	}
	return c.Write(string(data))
}

func (c *Channel) writeFrame(frame *Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := writeFrame(c.writer, frame); err != nil {
		return &IOError{Op: "write", Err: err}
	}
	return nil
}

// Close sends a close frame and shuts the connection. Safe to call twice.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closeMu.Lock()
		c.closed = true
		c.closeMu.Unlock()

		c.writeFrame(&Frame{Fin: true, OpCode: OpClose})
		err = c.conn.Close()
	})
	return err
}

func (c *Channel) isClosed() bool {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	return c.closed
}
