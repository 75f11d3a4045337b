// +build !js

package websocket

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha1"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"io/ioutil"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/driftsock/wsclient/internal/bufpool"
	"github.com/driftsock/wsclient/proxy"
)

// DialOptions represents the options available to pass to Dial.
type DialOptions struct {
	// HTTPClient is the http client used for the handshake when no
	// Proxy is configured and TLSRoots is unset.
	// Its Transport must return writable bodies for WebSocket handshakes.
	// http.Transport does this correctly beginning with Go 1.12.
	HTTPClient *http.Client

	// HTTPHeader specifies extra HTTP headers to include in the handshake request.
	// A header whose canonical name collides with a mandatory handshake
	// header is rejected before the request is sent.
	HTTPHeader http.Header

	// Host overrides the Host header and TLS server name sent with the
	// handshake request. Defaults to the host in the dialed URL.
	Host string

	// Subprotocols lists the subprotocols to negotiate with the server.
	Subprotocols []string

	// Options holds the protocol level tuning knobs (frame/message size
	// limits, close timeout, proxy, TLS roots, mask key source, ping
	// interval). A nil value uses the defaults documented on Options.
	Options *Options
}

var keyGUID = []byte("258EAFA5-E914-47DA-95CA-C5AB0DC85B11")

func secWebSocketAccept(secWebSocketKey string) string {
	h := sha1.New()
	h.Write([]byte(secWebSocketKey))
	h.Write(keyGUID)

	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// secWebSocketKey generates a random 16 byte nonce, base64 encoded, using
// r. Dial uses crypto/rand.Reader; tests inject a deterministic or
// failing reader.
func secWebSocketKey(r io.Reader) (string, error) {
	b := make([]byte, 16)
	_, err := io.ReadFull(r, b)
	if err != nil {
		return "", fmt.Errorf("failed to read random data from reader: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// Dial performs a WebSocket handshake on the given url with the given options.
// The response is the WebSocket handshake response from the server.
// If an error occurs, the returned response may be non nil. However, you can only
// read the first 1024 bytes of its body.
//
// You never need to close the resp.Body yourself.
func Dial(ctx context.Context, u string, opts *DialOptions) (*Conn, *http.Response, error) {
	c, r, err := dial(ctx, u, opts, rand.Reader)
	if err != nil {
		return nil, r, fmt.Errorf("failed to WebSocket dial: %w", err)
	}
	return c, r, nil
}

func (opts *DialOptions) ensure() (*DialOptions, error) {
	if opts == nil {
		opts = &DialOptions{}
	} else {
		o := *opts
		opts = &o
	}

	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.HTTPClient.Timeout > 0 {
		return nil, fmt.Errorf("use context for cancellation instead of http.Client.Timeout; see https://github.com/nhooyr/websocket/issues/67")
	}
	if opts.HTTPHeader == nil {
		opts.HTTPHeader = http.Header{}
	}
	if opts.Options == nil {
		opts.Options = &Options{}
	}

	return opts, nil
}

func dial(ctx context.Context, u string, opts *DialOptions, rr io.Reader) (_ *Conn, _ *http.Response, err error) {
	if ctx == nil {
		ctx = context.Background()
	}

	opts, err = opts.ensure()
	if err != nil {
		return nil, nil, err
	}

	if err := validateExtraHeaders(opts.HTTPHeader); err != nil {
		return nil, nil, err
	}

	parsedURL, err := url.Parse(u)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse url: %w", err)
	}

	switch parsedURL.Scheme {
	case "ws":
		parsedURL.Scheme = "http"
	case "wss":
		parsedURL.Scheme = "https"
	default:
		return nil, nil, fmt.Errorf("unexpected url scheme: %q", parsedURL.Scheme)
	}

	secWebSocketKeyStr, err := secWebSocketKey(rr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate Sec-WebSocket-Key: %w", err)
	}

	if opts.Options.Proxy.Kind != proxy.KindNone || opts.Options.TLSRoots != nil {
		return dialProxy(ctx, parsedURL, opts, secWebSocketKeyStr)
	}

	req, _ := http.NewRequest("GET", parsedURL.String(), nil)
	req = req.WithContext(ctx)
	req.Header = opts.HTTPHeader
	if opts.Host != "" {
		req.Host = opts.Host
	}
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Sec-WebSocket-Version", "13")
	req.Header.Set("Sec-WebSocket-Key", secWebSocketKeyStr)
	if len(opts.Subprotocols) > 0 {
		req.Header.Set("Sec-WebSocket-Protocol", strings.Join(opts.Subprotocols, ","))
	}

	hc := *opts.HTTPClient
	hc.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		switch req.URL.Scheme {
		case "ws":
			req.URL.Scheme = "http"
		case "wss":
			req.URL.Scheme = "https"
		}
		if len(via) >= 10 {
			return fmt.Errorf("stopped after 10 redirects")
		}
		return nil
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, nil, newHandshakeError("failed to send handshake request: %w", err)
	}
	defer func() {
		if err != nil {
			// We read a bit of the body for easier debugging.
			r := io.LimitReader(resp.Body, 1024)
			b, _ := ioutil.ReadAll(r)
			resp.Body.Close()
			resp.Body = ioutil.NopCloser(bytes.NewReader(b))
		}
	}()

	err = verifyServerResponse(opts, secWebSocketKeyStr, resp)
	if err != nil {
		return nil, resp, err
	}

	rwc, ok := resp.Body.(io.ReadWriteCloser)
	if !ok {
		return nil, resp, fmt.Errorf("response body is not a io.ReadWriteCloser: %T", resp.Body)
	}

	c := &Conn{
		subprotocol: resp.Header.Get("Sec-WebSocket-Protocol"),
		br:          bufpool.GetReader(rwc),
		bw:          bufpool.GetWriter(rwc),
		closer:      rwc,
		client:      true,
	}
	c.extractBufioWriterBuf(rwc)
	c.init()
	c.applyOptions(opts.Options)

	return c, resp, nil
}

// dialProxy bypasses http.Client entirely: it dials the target through
// opts.Options.Proxy (directly when no proxy is configured), optionally wraps the resulting transport in TLS,
// and performs the handshake by hand over the raw connection the same
// way Accept does on the server side.
func dialProxy(ctx context.Context, u *url.URL, opts *DialOptions, secWebSocketKeyStr string) (_ *Conn, _ *http.Response, err error) {
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		if u.Scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}
	target := net.JoinHostPort(host, port)

	rawConn, err := opts.Options.Proxy.Dial(ctx, "tcp", target)
	if err != nil {
		return nil, nil, newHandshakeError("failed to dial proxy: %w", err)
	}
	defer func() {
		if err != nil {
			rawConn.Close()
		}
	}()

	var transport io.ReadWriteCloser = rawConn
	serverName := host
	if opts.Host != "" {
		serverName = opts.Host
	}
	if u.Scheme == "https" {
		tlsConn := tls.Client(rawConn, &tls.Config{
			RootCAs:    opts.Options.TLSRoots,
			ServerName: serverName,
		})
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			return nil, nil, newHandshakeError("failed to TLS handshake through proxy: %w", err)
		}
		transport = tlsConn
	}

	requestURI := u.RequestURI()
	reqHost := u.Host
	if opts.Host != "" {
		reqHost = opts.Host
	}

	var reqBuf bytes.Buffer
	fmt.Fprintf(&reqBuf, "GET %s HTTP/1.1\r\n", requestURI)
	fmt.Fprintf(&reqBuf, "Host: %s\r\n", reqHost)
	fmt.Fprintf(&reqBuf, "Connection: Upgrade\r\n")
	fmt.Fprintf(&reqBuf, "Upgrade: websocket\r\n")
	fmt.Fprintf(&reqBuf, "Sec-WebSocket-Version: 13\r\n")
	fmt.Fprintf(&reqBuf, "Sec-WebSocket-Key: %s\r\n", secWebSocketKeyStr)
	if len(opts.Subprotocols) > 0 {
		fmt.Fprintf(&reqBuf, "Sec-WebSocket-Protocol: %s\r\n", strings.Join(opts.Subprotocols, ","))
	}
	for k, vs := range opts.HTTPHeader {
		for _, v := range vs {
			fmt.Fprintf(&reqBuf, "%s: %s\r\n", k, v)
		}
	}
	reqBuf.WriteString("\r\n")

	if _, err := transport.Write(reqBuf.Bytes()); err != nil {
		return nil, nil, fmt.Errorf("failed to write handshake request: %w", err)
	}

	br := bufpool.GetReader(transport)
	resp, err := http.ReadResponse(br, &http.Request{Method: "GET"})
	if err != nil {
		bufpool.PutReader(br)
		return nil, nil, fmt.Errorf("failed to read handshake response: %w", err)
	}

	if err := verifyServerResponse(opts, secWebSocketKeyStr, resp); err != nil {
		bufpool.PutReader(br)
		return nil, resp, err
	}

	c := &Conn{
		subprotocol: resp.Header.Get("Sec-WebSocket-Protocol"),
		br:          br,
		bw:          bufpool.GetWriter(transport),
		closer:      transport,
		client:      true,
	}
	c.extractBufioWriterBuf(transport)
	c.init()
	c.applyOptions(opts.Options)

	return c, resp, nil
}

func verifyServerResponse(opts *DialOptions, key string, resp *http.Response) error {
	if resp.StatusCode != http.StatusSwitchingProtocols {
		return newHandshakeError("expected handshake response status code %v but got %v", http.StatusSwitchingProtocols, resp.StatusCode)
	}

	if !headerContainsToken(resp.Header, "Connection", "Upgrade") {
		return newHandshakeError("WebSocket protocol violation: Connection header %q does not contain Upgrade", resp.Header.Get("Connection"))
	}

	if !headerContainsToken(resp.Header, "Upgrade", "WebSocket") {
		return newHandshakeError("WebSocket protocol violation: Upgrade header %q does not contain websocket", resp.Header.Get("Upgrade"))
	}

	if resp.Header.Get("Sec-WebSocket-Accept") != secWebSocketAccept(key) {
		return newHandshakeError("WebSocket protocol violation: invalid Sec-WebSocket-Accept %q, key %q",
			resp.Header.Get("Sec-WebSocket-Accept"),
			key,
		)
	}

	if proto := resp.Header.Get("Sec-WebSocket-Protocol"); proto != "" && !headerContainsToken(http.Header{"Sec-WebSocket-Protocol": opts.Subprotocols}, "Sec-WebSocket-Protocol", proto) {
		return newHandshakeError("WebSocket protocol violation: unexpected Sec-WebSocket-Protocol from server: %q", proto)
	}

	if resp.Header.Get("Sec-WebSocket-Extensions") != "" {
		return newHandshakeError("unsupported Sec-WebSocket-Extensions from server: %q", resp.Header.Get("Sec-WebSocket-Extensions"))
	}

	return nil
}
