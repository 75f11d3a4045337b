// Package proxy implements the tunneling dialers the core uses to reach a
// WebSocket server through an HTTP CONNECT or SOCKS5 proxy before the
// handshake engine ever sees a byte.
package proxy

import (
	"context"
	"fmt"
	"net"
)

// Kind selects which proxy protocol a Descriptor describes.
type Kind int

const (
	// KindNone performs no tunneling; Dial connects directly to target.
	KindNone Kind = iota
	// KindHTTPConnect tunnels through an HTTP CONNECT proxy.
	KindHTTPConnect
	// KindSOCKS5 tunnels through a SOCKS5 proxy (RFC 1928/1929).
	KindSOCKS5
)

// Descriptor describes how to reach a WebSocket server through a proxy,
// or not at all. The zero value is KindNone.
type Descriptor struct {
	Kind Kind
	Host string
	Port int
	User string
	Pass string
}

// None returns a Descriptor that performs no proxying.
func None() Descriptor {
	return Descriptor{Kind: KindNone}
}

// HTTPConnect returns a Descriptor that tunnels through an HTTP CONNECT
// proxy listening at host:port.
func HTTPConnect(host string, port int) Descriptor {
	return Descriptor{Kind: KindHTTPConnect, Host: host, Port: port}
}

// SOCKS5 returns a Descriptor that tunnels through a SOCKS5 proxy
// listening at host:port. user and pass may be empty to use the no-auth
// method instead of RFC 1929 username/password sub-negotiation.
func SOCKS5(host string, port int, user, pass string) Descriptor {
	return Descriptor{Kind: KindSOCKS5, Host: host, Port: port, User: user, Pass: pass}
}

// addr formats the proxy's own address for dialing.
func (d Descriptor) addr() string {
	return net.JoinHostPort(d.Host, fmt.Sprint(d.Port))
}

// Dial establishes a byte transport to target (host:port) through d,
// ready to be wrapped in TLS by the caller if the target scheme is wss.
// With KindNone it dials target directly.
func (d Descriptor) Dial(ctx context.Context, network, target string) (net.Conn, error) {
	switch d.Kind {
	case KindNone:
		return (&net.Dialer{}).DialContext(ctx, network, target)
	case KindHTTPConnect:
		return dialHTTPConnect(ctx, d, network, target)
	case KindSOCKS5:
		return dialSOCKS5(ctx, d, network, target)
	default:
		return nil, fmt.Errorf("proxy: descriptor has unknown kind %v", d.Kind)
	}
}
