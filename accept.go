// +build !js

package websocket

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/textproto"
	"net/url"
	"path"
	"strings"
)

// AcceptOptions represents the options available to pass to Accept.
//
// Server side acceptance is not part of the core's public surface in
// production use, but the library keeps it: the test harness dials
// against an in-process Accept to exercise the client engine without a
// real server, the same way the teacher library's own test suite does.
type AcceptOptions struct {
	// Subprotocols lists the websocket subprotocols that Accept will negotiate with a client.
	// The empty subprotocol will always be negotiated as per RFC 6455. If you would like to
	// reject it, close the connection if c.Subprotocol() == "".
	Subprotocols []string

	// InsecureSkipVerify disables Accept's origin verification
	// behaviour. By default Accept only allows the handshake to
	// succeed if the Origin is the same as the Host, or matches one of
	// OriginPatterns. There is no same origin policy for WebSockets so
	// javascript from any domain can perform a dial against an
	// arbitrary server; this option exists for the rare case where a
	// caller fully understands that risk.
	InsecureSkipVerify bool

	// OriginPatterns lists additional origins, as path.Match patterns
	// against the Origin host, that are allowed to establish a
	// WebSocket connection in addition to the request's own Host.
	OriginPatterns []string
}

func verifyClientRequest(w http.ResponseWriter, r *http.Request) error {
	if !r.ProtoAtLeast(1, 1) {
		err := newHandshakeError("WebSocket protocol violation: handshake request must be at least HTTP/1.1: %q", r.Proto)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return err
	}

	if !headerContainsToken(r.Header, "Connection", "Upgrade") {
		err := newHandshakeError("WebSocket protocol violation: Connection header %q does not contain Upgrade", r.Header.Get("Connection"))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return err
	}

	if !headerContainsToken(r.Header, "Upgrade", "WebSocket") {
		err := newHandshakeError("WebSocket protocol violation: Upgrade header %q does not contain websocket", r.Header.Get("Upgrade"))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return err
	}

	if r.Method != "GET" {
		err := newHandshakeError("WebSocket protocol violation: handshake request method is not GET but %q", r.Method)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return err
	}

	if r.Header.Get("Sec-WebSocket-Version") != "13" {
		err := newHandshakeError("unsupported WebSocket protocol version (only 13 is supported): %q", r.Header.Get("Sec-WebSocket-Version"))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return err
	}

	if r.Header.Get("Sec-WebSocket-Key") == "" {
		err := newHandshakeError("WebSocket protocol violation: missing Sec-WebSocket-Key")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return err
	}

	return nil
}

// Accept accepts a WebSocket handshake from a client and upgrades the
// connection to a WebSocket.
//
// Accept will reject the handshake if the Origin domain is not the same as the Host, or
// does not match one of AcceptOptions.OriginPatterns, unless InsecureSkipVerify is set.
//
// If an error occurs, Accept will always write an appropriate response so you do not
// have to.
func Accept(w http.ResponseWriter, r *http.Request, opts *AcceptOptions) (*Conn, error) {
	c, err := accept(w, r, opts)
	if err != nil {
		return nil, newHandshakeError("failed to accept WebSocket connection: %w", err)
	}
	return c, nil
}

func accept(w http.ResponseWriter, r *http.Request, opts *AcceptOptions) (*Conn, error) {
	if opts == nil {
		opts = &AcceptOptions{}
	}

	err := verifyClientRequest(w, r)
	if err != nil {
		return nil, err
	}

	if !opts.InsecureSkipVerify {
		err = authenticateOrigin(r, opts.OriginPatterns)
		if err != nil {
			http.Error(w, err.Error(), http.StatusForbidden)
			return nil, err
		}
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		err = errors.New("passed ResponseWriter does not implement http.Hijacker")
		http.Error(w, http.StatusText(http.StatusNotImplemented), http.StatusNotImplemented)
		return nil, err
	}

	w.Header().Set("Upgrade", "websocket")
	w.Header().Set("Connection", "Upgrade")

	handleSecWebSocketKey(w, r)

	subproto := selectSubprotocol(r, opts.Subprotocols)
	if subproto != "" {
		w.Header().Set("Sec-WebSocket-Protocol", subproto)
	}

	w.WriteHeader(http.StatusSwitchingProtocols)

	netConn, brw, err := hj.Hijack()
	if err != nil {
		err = newHandshakeError("failed to hijack connection: %w", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return nil, err
	}

	// https://github.com/golang/go/issues/32314
	b, _ := brw.Reader.Peek(brw.Reader.Buffered())
	brw.Reader.Reset(io.MultiReader(bytes.NewReader(b), netConn))

	c := &Conn{
		subprotocol: w.Header().Get("Sec-WebSocket-Protocol"),
		br:          brw.Reader,
		bw:          brw.Writer,
		closer:      netConn,
	}
	c.init()

	if g := graceFromRequest(r); g != nil {
		if err := g.addConn(c); err != nil {
			return nil, err
		}
	}

	return c, nil
}

func headerContainsToken(h http.Header, key, token string) bool {
	key = textproto.CanonicalMIMEHeaderKey(key)

	token = strings.ToLower(token)
	match := func(t string) bool {
		return t == token
	}

	for _, v := range h[key] {
		if searchHeaderTokens(v, match) != "" {
			return true
		}
	}

	return false
}

func searchHeaderTokens(v string, match func(val string) bool) string {
	v = strings.TrimSpace(v)

	for _, v2 := range strings.Split(v, ",") {
		v2 = strings.TrimSpace(v2)
		v2 = strings.ToLower(v2)
		if match(v2) {
			return v2
		}
	}

	return ""
}

func selectSubprotocol(r *http.Request, subprotocols []string) string {
	for _, sp := range subprotocols {
		if headerContainsToken(r.Header, "Sec-WebSocket-Protocol", sp) {
			return sp
		}
	}
	return ""
}

func handleSecWebSocketKey(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("Sec-WebSocket-Key")
	w.Header().Set("Sec-WebSocket-Accept", secWebSocketAccept(key))
}

// authenticateOrigin rejects cross origin handshakes unless the Origin
// matches the request Host exactly or one of patterns, each matched as a
// path.Match glob against the origin's host.
func authenticateOrigin(r *http.Request, patterns []string) error {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return nil
	}
	u, err := url.Parse(origin)
	if err != nil {
		return newHandshakeError("failed to parse Origin header %q: %w", origin, err)
	}
	if strings.EqualFold(u.Host, r.Host) {
		return nil
	}
	for _, p := range patterns {
		matched, err := path.Match(strings.ToLower(p), strings.ToLower(u.Host))
		if err == nil && matched {
			return nil
		}
	}
	return newHandshakeError("request Origin %q is not authorized for Host %q", origin, r.Host)
}
