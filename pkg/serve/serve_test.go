package serve

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andromeda-rt/andromeda/internal/obslog"
	"github.com/andromeda-rt/andromeda/pkg/eventloop"
)

func TestParseRequestHeadGETWithContentLength(t *testing.T) {
	raw := "POST /submit HTTP/1.1\r\nHost: test\r\nContent-Length: 5\r\n\r\nhello"
	req, err := parseRequestHead(bufio.NewReader(strings.NewReader(raw)), "127.0.0.1:1")
	require.NoError(t, err)
	assert.Equal(t, "POST", req.Method)
	assert.Equal(t, "/submit", req.Target)

	body, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))
}

func TestParseRequestHeadChunked(t *testing.T) {
	raw := "POST /x HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n5\r\nhello\r\n0\r\n\r\n"
	req, err := parseRequestHead(bufio.NewReader(strings.NewReader(raw)), "127.0.0.1:1")
	require.NoError(t, err)

	body, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))
}

func TestKeepAliveDefaultsTrueForHTTP11(t *testing.T) {
	req := &Request{Proto: "HTTP/1.1", Header: textproto.MIMEHeader{}}
	assert.True(t, keepAlive(req))
}

func TestKeepAliveFalseOnConnectionClose(t *testing.T) {
	req := &Request{Proto: "HTTP/1.1", Header: textproto.MIMEHeader{"Connection": {"close"}}}
	assert.False(t, keepAlive(req))
}

func TestServerRoundTrip(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	loop := eventloop.New(2, obslog.New(obslog.DefaultConfig()))
	handler := func(req *Request) *ResponseWriter {
		w := NewResponseWriter()
		w.Body = []byte("pong:" + req.Target)
		return w
	}
	srv := New(listener, handler, loop, obslog.New(obslog.DefaultConfig()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx)
	loop.KeepAlive()
	go func() {
		for ctx.Err() == nil {
			loop.RunUntilIdle(ctx)
		}
	}()

	conn, err := net.Dial("tcp", listener.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	conn.Write([]byte("GET /ping HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n"))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	out, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Contains(t, string(out), "pong:/ping")
}
