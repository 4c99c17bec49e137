// Package serve implements the HTTP Serve surface
// describes: an accept loop over a raw net.Listener, hand-rolled request-
// head parsing (so chunked/keep-alive handling stays under the host's
// control rather than net/http's), handler dispatch back onto the script
// thread via the event loop, and response marshalling.
//
// The accept-loop shape is grounded in a comparable cmd/webui/main.go
// listener setup, generalized from a fixed gorilla/mux-routed admin UI to
// a script-dispatched handler table.
package serve

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/andromeda-rt/andromeda/internal/errs"
	"github.com/andromeda-rt/andromeda/internal/obslog"
	"github.com/andromeda-rt/andromeda/pkg/eventloop"
)

// Request is a parsed HTTP request head plus its body reader, handed to
// the registered Handler on the script thread.
type Request struct {
	Method string
	Target string
	Proto string
	Header textproto.MIMEHeader
	Body io.Reader
	RemoteAddr string
}

// ResponseWriter accumulates a handler's response before it is
// marshalled back onto the wire.
type ResponseWriter struct {
	Status int
	Header textproto.MIMEHeader
	Body []byte
	written bool
}

// NewResponseWriter returns a ResponseWriter defaulted to 200 OK.
func NewResponseWriter() *ResponseWriter {
	return &ResponseWriter{Status: 200, Header: textproto.MIMEHeader{}}
}

// Handler is the script-side callback signature: given a parsed request,
// produce headers/status/body. It always runs via the event loop so
// script state is never touched off the script thread.
type Handler func(req *Request) *ResponseWriter

// Server accepts HTTP/1.1 connections on a listener and dispatches each
// request to Handler through loop, one connection goroutine per client
// but all script-visible work serialized onto the script thread.
type Server struct {
	listener net.Listener
	handler Handler
	loop *eventloop.Loop
	log *obslog.Logger

	mu sync.Mutex
	closed bool
	conns map[net.Conn]struct{}
	connCnt int64
}

// New constructs a Server. loop is used to marshal each parsed request
// back onto the script thread before calling handler.
func New(listener net.Listener, handler Handler, loop *eventloop.Loop, log *obslog.Logger) *Server {
	return &Server{
		listener: listener,
		handler: handler,
		loop: loop,
		log: log.WithComponent("serve"),
		conns: make(map[net.Conn]struct{}),
	}
}

// Serve runs the accept loop until ctx is cancelled or the listener is
// closed, handling each accepted connection in its own goroutine.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			return errs.Wrap(errs.Network, "accept failed", err)
		}
		s.trackConn(conn, true)
		atomic.AddInt64(&s.connCnt, 1)
		go s.handleConn(ctx, conn)
	}
}

// Close stops accepting new connections and closes any still open.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	err := s.listener.Close()
	for _, c := range conns {
		c.Close()
	}
	return err
}

func (s *Server) trackConn(c net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[c] = struct{}{}
	} else {
		delete(s.conns, c)
	}
}

// ConnectionCount returns the number of connections accepted since
// startup, surfaced by the debug server's runtime census.
func (s *Server) ConnectionCount() int64 { return atomic.LoadInt64(&s.connCnt) }

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer func() {
		conn.Close()
		s.trackConn(conn, false)
	}()

	reader := bufio.NewReader(conn)
	for {
		req, err := parseRequestHead(reader, conn.RemoteAddr().String())
		if err != nil {
			if err != io.EOF {
				s.log.Debugf("request parse failed: %v", err)
			}
			return
		}

		resp, err := s.dispatch(ctx, req)
		if err != nil {
			s.log.Warnf("handler dispatch failed: %v", err)
			resp = &ResponseWriter{Status: 500, Header: textproto.MIMEHeader{}, Body: []byte("internal error")}
		}

		if err := writeResponse(conn, resp); err != nil {
			s.log.Debugf("write response failed: %v", err)
			return
		}

		if !keepAlive(req) {
			return
		}
	}
}

// dispatch posts the request onto the event loop's script thread so the
// handler observes the single-threaded execution model
// requires, and blocks this connection goroutine until it completes.
func (s *Server) dispatch(ctx context.Context, req *Request) (*ResponseWriter, error) {
	done := make(chan *ResponseWriter, 1)
	s.loop.ScheduleMicrotask(func() {
		done <- s.handler(req)
	})
	select {
	case resp := <-done:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func parseRequestHead(r *bufio.Reader, remoteAddr string) (*Request, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return nil, errs.New(errs.ProtocolError, "empty request line")
	}
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return nil, errs.New(errs.ProtocolError, "malformed request line: "+line)
	}

	tp := textproto.NewReader(r)
	header, err := tp.ReadMIMEHeader()
	if err != nil && err != io.EOF {
		return nil, errs.Wrap(errs.ProtocolError, "reading headers", err)
	}

	var body io.Reader = r
	if cl := header.Get("Content-Length"); cl != "" {
		n, err := strconv.ParseInt(cl, 10, 64)
		if err != nil {
			return nil, errs.New(errs.ProtocolError, "invalid Content-Length")
		}
		body = io.LimitReader(r, n)
	} else if strings.EqualFold(header.Get("Transfer-Encoding"), "chunked") {
		body = newChunkedReader(r)
	} else {
		body = io.LimitReader(r, 0)
	}

	return &Request{
		Method: parts[0],
		Target: parts[1],
		Proto: parts[2],
		Header: header,
		Body: body,
		RemoteAddr: remoteAddr,
	}, nil
}

func keepAlive(req *Request) bool {
	conn := strings.ToLower(req.Header.Get("Connection"))
	if conn == "close" {
		return false
	}
	if req.Proto == "HTTP/1.0" {
		return conn == "keep-alive"
	}
	return true
}

func writeResponse(w io.Writer, resp *ResponseWriter) error {
	bw := bufio.NewWriter(w)
	statusText := statusTextFor(resp.Status)
	fmt.Fprintf(bw, "HTTP/1.1 %d %s\r\n", resp.Status, statusText)
	if resp.Header.Get("Content-Length") == "" {
		fmt.Fprintf(bw, "Content-Length: %d\r\n", len(resp.Body))
	}
	for name, values := range resp.Header {
		for _, v := range values {
			fmt.Fprintf(bw, "%s: %s\r\n", name, v)
		}
	}
	bw.WriteString("\r\n")
	bw.Write(resp.Body)
	return bw.Flush()
}

// newChunkedReader decodes an HTTP/1.1 chunked transfer body.
func newChunkedReader(r *bufio.Reader) io.Reader {
	return &chunkedReader{r: r}
}

type chunkedReader struct {
	r *bufio.Reader
	remain int64
	done bool
}

func (c *chunkedReader) Read(p []byte) (int, error) {
	if c.done {
		return 0, io.EOF
	}
	if c.remain == 0 {
		sizeLine, err := c.r.ReadString('\n')
		if err != nil {
			return 0, err
		}
		sizeLine = strings.TrimRight(strings.SplitN(sizeLine, ";", 2)[0], "\r\n")
		size, err := strconv.ParseInt(sizeLine, 16, 64)
		if err != nil {
			return 0, errs.New(errs.ProtocolError, "invalid chunk size")
		}
		if size == 0 {
			c.done = true
			// consume trailing CRLF and any trailer headers
			tp := textproto.NewReader(c.r)
			tp.ReadMIMEHeader()
			return 0, io.EOF
		}
		c.remain = size
	}
	n := int64(len(p))
	if n > c.remain {
		n = c.remain
	}
	read, err := c.r.Read(p[:n])
	c.remain -= int64(read)
	if c.remain == 0 {
		c.r.Discard(2) // trailing CRLF after chunk data
	}
	return read, err
}

var statusTexts = map[int]string{
	200: "OK", 201: "Created", 204: "No Content",
	301: "Moved Permanently", 302: "Found", 303: "See Other", 304: "Not Modified",
	307: "Temporary Redirect", 308: "Permanent Redirect",
	400: "Bad Request", 401: "Unauthorized", 403: "Forbidden", 404: "Not Found",
	405: "Method Not Allowed", 409: "Conflict", 413: "Payload Too Large",
	500: "Internal Server Error", 501: "Not Implemented", 502: "Bad Gateway", 503: "Service Unavailable",
}

func statusTextFor(status int) string {
	if t, ok := statusTexts[status]; ok {
		return t
	}
	return "Unknown"
}
