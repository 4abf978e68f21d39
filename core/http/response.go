package http

import (
	"bufio"
	"fmt"
	"io"
	"net/textproto"
	"sort"
	"strconv"
	"strings"
)

// Response is a mutable HTTP/1.1 response builder. The engine hands one to
// the resolver per request; a single writer owns it until it is flushed.
type Response struct {
	Status  int
	Proto   string
	Headers map[string][]string
	Body    []byte
}

// NewResponse returns a 200 response with no headers set.
func NewResponse() *Response {
	return &Response{
		Status:  StatusOK,
		Proto:   "HTTP/1.1",
		Headers: make(map[string][]string),
	}
}

// Header returns the first value for the canonicalized key, or "".
func (r *Response) Header(key string) string {
	vs := r.Headers[textproto.CanonicalMIMEHeaderKey(key)]
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

// Set replaces the values for key.
func (r *Response) Set(key, value string) {
	r.Headers[textproto.CanonicalMIMEHeaderKey(key)] = []string{value}
}

// Add appends a value for key.
func (r *Response) Add(key, value string) {
	k := textproto.CanonicalMIMEHeaderKey(key)
	r.Headers[k] = append(r.Headers[k], value)
}

// SetCookie appends a Set-Cookie header for name=value with the given path.
func (r *Response) SetCookie(name, value, path string) {
	r.Add("Set-Cookie", name+"="+value+"; Path="+path)
}

// SetBody replaces the body.
func (r *Response) SetBody(b []byte) {
	r.Body = b
}

// CloseRequested reports whether the response carries "Connection: close".
func (r *Response) CloseRequested() bool {
	return strings.EqualFold(r.Header("Connection"), "close")
}

// AppendTo serializes the response into buf and returns the extended slice.
// Content-Length is derived from the body; header keys are emitted in
// sorted order so the wire form is deterministic.
func (r *Response) AppendTo(buf []byte) []byte {
	proto := r.Proto
	if proto == "" {
		proto = "HTTP/1.1"
	}
	buf = append(buf, proto...)
	buf = append(buf, ' ')
	buf = strconv.AppendInt(buf, int64(r.Status), 10)
	buf = append(buf, ' ')
	buf = append(buf, StatusText(r.Status)...)
	buf = append(buf, "\r\n"...)
	buf = appendHeaders(buf, r.Headers)
	buf = append(buf, "Content-Length: "...)
	buf = strconv.AppendInt(buf, int64(len(r.Body)), 10)
	buf = append(buf, "\r\n\r\n"...)
	buf = append(buf, r.Body...)
	return buf
}

func appendHeaders(buf []byte, headers map[string][]string) []byte {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		if k == "Content-Length" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range headers[k] {
			buf = append(buf, k...)
			buf = append(buf, ": "...)
			buf = append(buf, v...)
			buf = append(buf, "\r\n"...)
		}
	}
	return buf
}

// ReadResponse reads one response from br for the outbound client path. A
// response without Content-Length is read to EOF.
func ReadResponse(br *bufio.Reader) (*Response, error) {
	line, err := readLine(br)
	if err != nil {
		return nil, err
	}
	sp1 := strings.IndexByte(line, ' ')
	if sp1 < 0 {
		return nil, fmt.Errorf("%w: malformed status line %q", ErrInvalidRequest, line)
	}
	rest := line[sp1+1:]
	code := rest
	if sp2 := strings.IndexByte(rest, ' '); sp2 >= 0 {
		code = rest[:sp2]
	}
	status, err := strconv.Atoi(code)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed status line %q", ErrInvalidRequest, line)
	}

	resp := &Response{
		Status:  status,
		Proto:   line[:sp1],
		Headers: make(map[string][]string),
	}
	if err := readHeaders(br, resp.Headers); err != nil {
		return nil, err
	}

	if cl := resp.Header("Content-Length"); cl != "" {
		n, err := strconv.ParseInt(cl, 10, 64)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: bad Content-Length %q", ErrInvalidRequest, cl)
		}
		resp.Body = make([]byte, n)
		if _, err := io.ReadFull(br, resp.Body); err != nil {
			return nil, fmt.Errorf("http: reading body: %w", err)
		}
		return resp, nil
	}
	body, err := io.ReadAll(br)
	if err != nil {
		return nil, fmt.Errorf("http: reading body: %w", err)
	}
	resp.Body = body
	return resp, nil
}
