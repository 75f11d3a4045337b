package websocket

import (
	"crypto/x509"
	"net/http"
	"time"

	"github.com/driftsock/wsclient/proxy"
)

// Options are the tunable knobs of a connection, shared by DialOptions
// and the YAML-loadable Config.
type Options struct {
	// MaxFrameSize bounds the payload length of any single inbound
	// frame. Defaults to 64 MiB.
	MaxFrameSize int64

	// MaxMessageSize bounds the accumulated size of a reassembled
	// message. Defaults to 64 MiB.
	MaxMessageSize int64

	// DisableAutoPong disables the library automatically replying to
	// pings with a pong of identical payload.
	DisableAutoPong bool

	// CloseTimeout bounds how long the connection waits to write a close
	// frame, to write automatic pongs and pings, and to read a control
	// frame's payload. Close does not wait for the peer's close frame: the
	// transport is closed as soon as the local close frame is written.
	// Defaults to 5 seconds.
	CloseTimeout time.Duration

	// MaskKeySource overrides crypto/rand for generating masking keys.
	// Primarily useful for deterministic tests. Defaults to
	// crypto/rand.
	MaskKeySource func() [4]byte

	// TLSRoots are the root certificates used to verify a wss:// peer.
	// A nil value uses the host's root CA set.
	TLSRoots *x509.CertPool

	// Proxy tunnels the connection through an HTTP CONNECT or SOCKS5
	// proxy before starting the WebSocket handshake. Defaults to no
	// proxy.
	Proxy proxy.Descriptor

	// PingInterval, if nonzero, spaces automatic outbound pings made by
	// a background goroutine no closer than this interval apart, rate
	// limited by golang.org/x/time/rate. Defaults to disabled, in which
	// case the caller is responsible for calling Ping.
	PingInterval time.Duration
}

var reservedHandshakeHeaders = map[string]bool{
	"Host":                     true,
	"Upgrade":                  true,
	"Connection":               true,
	"Sec-Websocket-Key":        true,
	"Sec-Websocket-Version":    true,
	"Sec-Websocket-Protocol":   true,
	"Sec-Websocket-Extensions": true,
}

// validateExtraHeaders rejects any header whose canonical name collides
// with a mandatory handshake header, before the request carrying them is
// ever sent.
func validateExtraHeaders(h http.Header) error {
	for k := range h {
		if reservedHandshakeHeaders[http.CanonicalHeaderKey(k)] {
			return newHandshakeError("extra header %q collides with a mandatory handshake header", k)
		}
	}
	return nil
}
