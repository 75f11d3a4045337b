package proxy

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
)

// dialHTTPConnect opens a TCP connection to d's proxy, issues a CONNECT
// request for target, and returns the tunnel once the proxy answers with
// a 2xx status. Per RFC 7231 §4.3.6, CONNECT has no defined response
// body semantics beyond the proxy's own framing, so a non 2xx response
// surfaces the status and a prefix of the body for debugging.
func dialHTTPConnect(ctx context.Context, d Descriptor, network, target string) (_ net.Conn, err error) {
	conn, err := (&net.Dialer{}).DialContext(ctx, network, d.addr())
	if err != nil {
		return nil, fmt.Errorf("failed to dial HTTP CONNECT proxy %v: %w", d.addr(), err)
	}
	defer func() {
		if err != nil {
			conn.Close()
		}
	}()

	req := fmt.Sprintf("CONNECT %s HTTP/1.1\r\nHost: %s\r\n\r\n", target, target)
	if _, err := io.WriteString(conn, req); err != nil {
		return nil, fmt.Errorf("failed to write CONNECT request: %w", err)
	}

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, &http.Request{Method: "CONNECT"})
	if err != nil {
		return nil, fmt.Errorf("failed to read CONNECT response: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("proxy CONNECT failed with status %v: %s", resp.Status, b)
	}

	if br.Buffered() > 0 {
		return &bufferedConn{Conn: conn, r: br}, nil
	}
	return conn, nil
}

// bufferedConn wraps a net.Conn whose bufio.Reader has already buffered
// some bytes past the CONNECT response, e.g. if the proxy pipelined the
// start of the tunneled stream onto the same TCP segment as its response.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}
